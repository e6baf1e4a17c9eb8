package normalize_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studious/planner"
	"github.com/studious/planner/internal/normalize"
)

func TestEventKeepsTimedRange(t *testing.T) {
	t.Parallel()

	n := normalize.New(nil, time.UTC)
	n.EventsColor = "#ffae27"

	item, err := n.Event(planner.Event{
		ID:    6,
		Title: "Study session",
		Start: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 9, 50, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, planner.ItemKey{Kind: planner.KindEvent, ID: 6}, item.Key)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), item.Start)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 50, 0, 0, time.UTC), item.End)
	assert.True(t, item.Editable)
	assert.Equal(t, "#ffae27", item.Color)
}

func TestEventPopulatesCollectionDefaults(t *testing.T) {
	t.Parallel()

	n := normalize.New(nil, time.UTC)

	item, err := n.Event(planner.Event{
		ID:    1,
		Start: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.NotNil(t, item.Materials)
	assert.NotNil(t, item.Attachments)
	assert.NotNil(t, item.Reminders)
}

func TestAllDayEndIsExclusive(t *testing.T) {
	t.Parallel()

	n := normalize.New(nil, time.UTC)

	// The server stores the last visible day for all-day items; a
	// single-day item arrives with start == end.
	item, err := n.Event(planner.Event{
		ID:     2,
		AllDay: true,
		Start:  time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), item.Start)
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC), item.End)
}

func TestServerTimesInvertsAllDayCorrection(t *testing.T) {
	t.Parallel()

	n := normalize.New(nil, time.UTC)

	item, err := n.Event(planner.Event{
		ID:     3,
		AllDay: true,
		Start:  time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		End:    time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	start, end := normalize.ServerTimes(item)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 7, 0, 0, 0, 0, time.UTC), end)
}

func TestAllDayRoundTripKeepsDayOutsideUTC(t *testing.T) {
	t.Parallel()

	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	n := normalize.New(nil, newYork)

	// Date-only wire values arrive as midnight in the viewer's
	// location; the day must survive normalization and come back out
	// unchanged through ServerTimes.
	item, err := n.Event(planner.Event{
		ID:     4,
		AllDay: true,
		Start:  time.Date(2024, 3, 5, 0, 0, 0, 0, newYork),
		End:    time.Date(2024, 3, 5, 0, 0, 0, 0, newYork),
	})
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, newYork), item.Start)
	assert.Equal(t, time.Date(2024, 3, 6, 0, 0, 0, 0, newYork), item.End)

	start, end := normalize.ServerTimes(item)
	assert.Equal(t, "2024-03-05", start.Format(planner.DateFormat))
	assert.Equal(t, "2024-03-05", end.Format(planner.DateFormat))
}

func TestServerTimesLeavesTimedItemsAlone(t *testing.T) {
	t.Parallel()

	item := planner.CalendarItem{
		Start: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 9, 50, 0, 0, time.UTC),
	}

	start, end := normalize.ServerTimes(item)
	assert.Equal(t, item.Start, start)
	assert.Equal(t, item.End, end)
}

func TestHomeworkCarriesCourseColor(t *testing.T) {
	t.Parallel()

	n := normalize.New(nil, time.UTC)

	item, err := n.Homework(planner.Homework{
		ID:       9,
		Title:    "Problem set 4",
		Course:   12,
		Category: "Homework",
		Start:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		End:      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}, planner.Course{ID: 12, Color: "#4caf50"})
	require.NoError(t, err)

	assert.Equal(t, planner.KindHomework, item.Key.Kind)
	assert.Equal(t, "#4caf50", item.Color)
	assert.Equal(t, int64(12), item.Course)
}

func TestClassOccurrenceIsReadOnly(t *testing.T) {
	t.Parallel()

	n := normalize.New(nil, time.UTC)

	item, err := n.ClassOccurrence(planner.ClassOccurrence{
		ID:    401,
		Title: "Calculus II",
		Start: time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 4, 9, 50, 0, 0, time.UTC),
	}, planner.Course{ID: 12, Color: "#3f51b5"})
	require.NoError(t, err)

	assert.False(t, item.Editable)
	assert.Equal(t, "#3f51b5", item.Color)
}

func TestBatchDropsMalformedRecords(t *testing.T) {
	t.Parallel()

	n := normalize.New(nil, time.UTC)

	items := n.HomeworkBatch([]planner.Homework{
		{
			ID:    1,
			Start: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{ID: 0}, // missing id and times
	}, map[int64]planner.Course{})

	require.Len(t, items, 1)
	assert.Equal(t, int64(1), items[0].Key.ID)
}

func TestEndClampedToStart(t *testing.T) {
	t.Parallel()

	n := normalize.New(nil, time.UTC)

	item, err := n.Event(planner.Event{
		ID:    4,
		Start: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, item.Start, item.End)
}

func TestTimesConvertedToViewerLocation(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+2", 2*60*60)
	n := normalize.New(nil, loc)

	item, err := n.Event(planner.Event{
		ID:    5,
		Start: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, 11, item.Start.Hour())
	assert.Equal(t, loc, item.Start.Location())
}
