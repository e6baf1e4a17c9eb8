package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studious/planner"
	"github.com/studious/planner/internal/cache"
	"github.com/studious/planner/internal/plannertest"
)

var week = planner.NewWindow(
	time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
	time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
)

func TestListFetchIsMemoized(t *testing.T) {
	t.Parallel()

	gw := &plannertest.Gateway{
		EventsFn: func(context.Context, planner.Window, string) ([]planner.Event, error) {
			return []planner.Event{{ID: 1}}, nil
		},
	}
	c := cache.Wrap(gw, nil)
	ctx := context.Background()

	first, err := c.Events(ctx, week, "")
	require.NoError(t, err)
	second, err := c.Events(ctx, week, "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, gw.Calls("Events"))
}

func TestDifferentScopeKeysMissSeparately(t *testing.T) {
	t.Parallel()

	gw := &plannertest.Gateway{}
	c := cache.Wrap(gw, nil)
	ctx := context.Background()

	_, err := c.Events(ctx, week, "")
	require.NoError(t, err)
	_, err = c.Events(ctx, week, "exam")
	require.NoError(t, err)

	assert.Equal(t, 2, gw.Calls("Events"))
	assert.True(t, c.Contains(cache.KindEvents, cache.EventsKey(week, "")))
	assert.True(t, c.Contains(cache.KindEvents, cache.EventsKey(week, "exam")))
}

func TestMutationInvalidatesOwnKindOnly(t *testing.T) {
	t.Parallel()

	gw := &plannertest.Gateway{}
	c := cache.Wrap(gw, nil)
	ctx := context.Background()

	_, err := c.Events(ctx, week, "")
	require.NoError(t, err)
	_, err = c.Homework(ctx, planner.HomeworkQuery{Window: week})
	require.NoError(t, err)

	_, err = c.CreateEvent(ctx, planner.Event{Title: "Review"})
	require.NoError(t, err)

	assert.False(t, c.Contains(cache.KindEvents, cache.EventsKey(week, "")))
	assert.True(t, c.Contains(cache.KindHomework, cache.HomeworkKey(planner.HomeworkQuery{Window: week})))

	_, err = c.Events(ctx, week, "")
	require.NoError(t, err)
	assert.Equal(t, 2, gw.Calls("Events"))
}

func TestReminderMutationDropsEventAndHomeworkKinds(t *testing.T) {
	t.Parallel()

	gw := &plannertest.Gateway{}
	c := cache.Wrap(gw, nil)
	ctx := context.Background()

	_, err := c.Events(ctx, week, "")
	require.NoError(t, err)
	_, err = c.Homework(ctx, planner.HomeworkQuery{Window: week})
	require.NoError(t, err)
	_, err = c.ClassOccurrences(ctx, 1, 2, "")
	require.NoError(t, err)

	err = c.DeleteReminder(ctx, 7)
	require.NoError(t, err)

	assert.False(t, c.Contains(cache.KindEvents, cache.EventsKey(week, "")))
	assert.False(t, c.Contains(cache.KindHomework, cache.HomeworkKey(planner.HomeworkQuery{Window: week})))
	assert.True(t, c.Contains(cache.KindClassOccurrences, cache.ClassOccurrencesKey(1, 2, "")))
}

func TestInvalidateIsIdempotentAndCommutative(t *testing.T) {
	t.Parallel()

	gw := &plannertest.Gateway{}
	c := cache.Wrap(gw, nil)
	ctx := context.Background()

	_, err := c.Events(ctx, week, "")
	require.NoError(t, err)
	_, err = c.Homework(ctx, planner.HomeworkQuery{Window: week})
	require.NoError(t, err)

	c.Invalidate(cache.KindEvents, cache.KindHomework)
	c.Invalidate(cache.KindHomework)
	c.Invalidate(cache.KindEvents)

	assert.False(t, c.Contains(cache.KindEvents, cache.EventsKey(week, "")))
	assert.False(t, c.Contains(cache.KindHomework, cache.HomeworkKey(planner.HomeworkQuery{Window: week})))
}

func TestFailedFetchIsNotCached(t *testing.T) {
	t.Parallel()

	fail := true
	gw := &plannertest.Gateway{
		EventsFn: func(context.Context, planner.Window, string) ([]planner.Event, error) {
			if fail {
				return nil, &planner.APIError{ErrMsg: "boom"}
			}
			return []planner.Event{{ID: 1}}, nil
		},
	}
	c := cache.Wrap(gw, nil)
	ctx := context.Background()

	_, err := c.Events(ctx, week, "")
	require.Error(t, err)
	assert.False(t, c.Contains(cache.KindEvents, cache.EventsKey(week, "")))

	fail = false
	events, err := c.Events(ctx, week, "")
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 2, gw.Calls("Events"))
}

func TestFailedMutationLeavesCacheIntact(t *testing.T) {
	t.Parallel()

	gw := &plannertest.Gateway{
		CreateEventFn: func(context.Context, planner.Event) (*planner.Event, error) {
			return nil, &planner.APIError{ErrMsg: "rejected"}
		},
	}
	c := cache.Wrap(gw, nil)
	ctx := context.Background()

	_, err := c.Events(ctx, week, "")
	require.NoError(t, err)

	_, err = c.CreateEvent(ctx, planner.Event{})
	require.Error(t, err)

	assert.True(t, c.Contains(cache.KindEvents, cache.EventsKey(week, "")))
}

func TestRemindersAlwaysPassThrough(t *testing.T) {
	t.Parallel()

	gw := &plannertest.Gateway{}
	c := cache.Wrap(gw, nil)
	ctx := context.Background()
	now := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)

	_, err := c.Reminders(ctx, now)
	require.NoError(t, err)
	_, err = c.Reminders(ctx, now)
	require.NoError(t, err)

	assert.Equal(t, 2, gw.Calls("Reminders"))
}
