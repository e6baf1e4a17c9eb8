package calendar_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studious/planner"
	"github.com/studious/planner/calendar"
)

type stubSource struct{}

func (stubSource) ExternalEvents(context.Context, planner.ExternalCalendar, planner.Window, string) ([]planner.ExternalEvent, error) {
	return nil, nil
}

func TestGetRegisteredPlatform(t *testing.T) {
	t.Parallel()

	mux := calendar.NewMux()
	src := stubSource{}
	mux.Register("ics", src)

	got, err := mux.Get("ics")
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

func TestGetUnknownPlatform(t *testing.T) {
	t.Parallel()

	mux := calendar.NewMux()

	_, err := mux.Get("caldav")
	assert.EqualError(t, err, `calendar "caldav" is not implemented`)
}
