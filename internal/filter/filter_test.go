package filter_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studious/planner"
	"github.com/studious/planner/internal/filter"
	"github.com/studious/planner/internal/plannertest"
)

var week = planner.NewWindow(
	time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
	time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
)

func TestBuildQuerySortsSelections(t *testing.T) {
	t.Parallel()

	fs := planner.DefaultFilterState()
	fs.SelectedCourses = map[int64]bool{9: true, 3: true, 5: false}
	fs.SelectedCategories = map[string]bool{"Quiz": true, "Essay": true}
	fs.Completion = planner.CompletionIncomplete
	fs.OverdueOnly = true
	fs.Search = "midterm"

	q := filter.BuildQuery(fs, week)

	assert.Equal(t, []int64{3, 9}, q.Homework.Courses)
	assert.Equal(t, []string{"Essay", "Quiz"}, q.Homework.Categories)
	assert.Equal(t, planner.CompletionIncomplete, q.Homework.Completion)
	assert.True(t, q.Homework.Overdue)
	assert.Equal(t, "midterm", q.EventSearch)
	assert.Equal(t, "midterm", q.ClassSearch)
	assert.Equal(t, "midterm", q.ExternalSearch)
	assert.True(t, q.Homework.Window.Equal(week))
}

func TestApplyLocalFiltersHomeworkCategoriesOnly(t *testing.T) {
	t.Parallel()

	fs := planner.DefaultFilterState()
	fs.SelectedCategories = map[string]bool{"Quiz": true}

	items := []planner.CalendarItem{
		{Key: planner.ItemKey{Kind: planner.KindHomework, ID: 1}, Category: "Quiz"},
		{Key: planner.ItemKey{Kind: planner.KindHomework, ID: 2}, Category: "Essay"},
		{Key: planner.ItemKey{Kind: planner.KindEvent, ID: 3}},
	}

	kept := filter.ApplyLocal(items, fs)

	require.Len(t, kept, 2)
	assert.Equal(t, int64(1), kept[0].Key.ID)
	assert.Equal(t, planner.KindEvent, kept[1].Key.Kind)
}

func TestPersistSkippedWhenRememberOff(t *testing.T) {
	t.Parallel()

	store := plannertest.NewStore()
	fs := planner.DefaultFilterState()
	fs.ShowEvents = false

	require.NoError(t, filter.Persist(context.Background(), store, fs, false))
	assert.Equal(t, 0, store.Len())
}

func TestPersistDefaultStateRemovesAllKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := plannertest.NewStore()
	require.NoError(t, store.Set(ctx, "filter_show_events", "false"))
	require.NoError(t, store.Set(ctx, "filter_courses", "3,9"))

	require.NoError(t, filter.Persist(ctx, store, planner.DefaultFilterState(), true))
	assert.Equal(t, 0, store.Len())
}

func TestPersistRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := plannertest.NewStore()

	fs := planner.DefaultFilterState()
	fs.ShowEvents = false
	fs.SelectedCourses = map[int64]bool{3: true, 9: true}
	fs.SelectedCategories = map[string]bool{"Lab, Advanced": true, "Quiz": true}
	fs.Completion = planner.CompletionComplete
	fs.OverdueOnly = true
	fs.Search = "never stored"

	require.NoError(t, filter.Persist(ctx, store, fs, true))

	restored, err := filter.Restore(ctx, store, true)
	require.NoError(t, err)

	want := fs
	want.Search = ""
	assert.Empty(t, cmp.Diff(want, restored))
}

func TestRestoreRememberOffClearsAndReturnsDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := plannertest.NewStore()
	require.NoError(t, store.Set(ctx, "filter_show_events", "false"))
	require.NoError(t, store.Set(ctx, "filter_overdue", "true"))

	restored, err := filter.Restore(ctx, store, false)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(planner.DefaultFilterState(), restored))
	assert.Equal(t, 0, store.Len())
}

func TestRestoreAlwaysRemovesSearchKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := plannertest.NewStore()
	require.NoError(t, store.Set(ctx, "filter_search_string", "stale"))

	restored, err := filter.Restore(ctx, store, true)
	require.NoError(t, err)

	assert.Empty(t, restored.Search)
	_, ok, err := store.Get(ctx, "filter_search_string")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDebouncerCoalescesBursts(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	d := filter.NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Trigger(func() { fired.Add(1) })
		time.Sleep(2 * time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		return fired.Load() == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	t.Parallel()

	var fired atomic.Int32
	d := filter.NewDebouncer(20 * time.Millisecond)

	d.Trigger(func() { fired.Add(1) })
	d.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}
