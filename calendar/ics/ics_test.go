package ics_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studious/planner"
	"github.com/studious/planner/calendar/ics"
)

const feed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//Example//Club//EN
BEGIN:VEVENT
UID:single@example.com
SUMMARY:Club meetup
DTSTART:20240304T180000Z
DTEND:20240304T190000Z
END:VEVENT
BEGIN:VEVENT
UID:allday@example.com
SUMMARY:Campus holiday
DTSTART;VALUE=DATE:20240305
DTEND;VALUE=DATE:20240306
END:VEVENT
BEGIN:VEVENT
UID:weekly@example.com
SUMMARY:Chess night
DTSTART:20240201T200000Z
DTEND:20240201T210000Z
RRULE:FREQ=WEEKLY;BYDAY=TH
END:VEVENT
BEGIN:VEVENT
UID:faraway@example.com
SUMMARY:Graduation
DTSTART:20240601T100000Z
DTEND:20240601T120000Z
END:VEVENT
END:VCALENDAR
`

func newTestSource(t *testing.T, body string, status int) (*ics.Source, planner.ExternalCalendar) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	source := ics.NewSource(logrus.NewEntry(logger))
	cal := planner.ExternalCalendar{ID: 30, Platform: ics.Platform, Name: "Club", URL: server.URL}
	return source, cal
}

func marchWindow() planner.Window {
	return planner.NewWindow(
		time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
	)
}

func eventByTitle(events []planner.ExternalEvent, title string) (planner.ExternalEvent, bool) {
	for _, ev := range events {
		if ev.Title == title {
			return ev, true
		}
	}
	return planner.ExternalEvent{}, false
}

func TestFeedEventsInsideWindow(t *testing.T) {
	t.Parallel()

	source, cal := newTestSource(t, feed, http.StatusOK)

	events, err := source.ExternalEvents(context.Background(), cal, marchWindow(), "")
	require.NoError(t, err)

	// One single event, one all-day, one weekly occurrence (Thu Mar 7).
	require.Len(t, events, 3)

	meetup, ok := eventByTitle(events, "Club meetup")
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC), meetup.Start)
	assert.Equal(t, int64(30), meetup.Calendar)
	assert.False(t, meetup.AllDay)

	_, ok = eventByTitle(events, "Graduation")
	assert.False(t, ok)
}

func TestAllDayDetectedFromDateValue(t *testing.T) {
	t.Parallel()

	source, cal := newTestSource(t, feed, http.StatusOK)

	events, err := source.ExternalEvents(context.Background(), cal, marchWindow(), "")
	require.NoError(t, err)

	holiday, ok := eventByTitle(events, "Campus holiday")
	require.True(t, ok)
	assert.True(t, holiday.AllDay)
}

func TestRecurrenceExpandedPerWindow(t *testing.T) {
	t.Parallel()

	source, cal := newTestSource(t, feed, http.StatusOK)

	// Two weeks means two chess nights.
	w := planner.NewWindow(
		time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 17, 0, 0, 0, 0, time.UTC),
	)
	events, err := source.ExternalEvents(context.Background(), cal, w, "chess")
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, time.Date(2024, 3, 7, 20, 0, 0, 0, time.UTC), events[0].Start)
	assert.Equal(t, time.Date(2024, 3, 14, 20, 0, 0, 0, time.UTC), events[1].Start)
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestSearchFiltersByTitle(t *testing.T) {
	t.Parallel()

	source, cal := newTestSource(t, feed, http.StatusOK)

	events, err := source.ExternalEvents(context.Background(), cal, marchWindow(), "meetup")
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "Club meetup", events[0].Title)
}

func TestFeedFetchFailure(t *testing.T) {
	t.Parallel()

	source, cal := newTestSource(t, "gone", http.StatusNotFound)

	_, err := source.ExternalEvents(context.Background(), cal, marchWindow(), "")
	assert.Error(t, err)
}
