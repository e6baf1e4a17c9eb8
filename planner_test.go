package planner_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/studious/planner"
)

func TestItemKeyString(t *testing.T) {
	t.Parallel()

	key := planner.ItemKey{Kind: planner.KindHomework, ID: 77}
	assert.Equal(t, "homework/77", key.String())
}

func TestErrorMessagePrefersServerText(t *testing.T) {
	t.Parallel()

	err := &planner.APIError{ErrMsg: "That event is in the past.", Raw: `[{"err_msg": "..."}]`}
	assert.Equal(t, "That event is in the past.", planner.ErrorMessage(err))

	wrapped := fmt.Errorf("creating event: %w", err)
	assert.Equal(t, "That event is in the past.", planner.ErrorMessage(wrapped))
}

func TestErrorMessageFallsBackToGenericText(t *testing.T) {
	t.Parallel()

	msg := planner.ErrorMessage(errors.New("dial tcp: connection refused"))
	assert.Equal(t, "Oops, an unknown error has occurred. If the problem persists, contact support.", msg)
}

func TestErrorMessageValidation(t *testing.T) {
	t.Parallel()

	err := &planner.ValidationError{Field: "title", Msg: "a title is required"}
	assert.Equal(t, "title: a title is required", planner.ErrorMessage(err))
}

func TestFilterStateDefaultDetection(t *testing.T) {
	t.Parallel()

	fs := planner.DefaultFilterState()
	assert.True(t, fs.IsDefault())

	// The session-only search term does not make the state non-default.
	fs.Search = "midterm"
	assert.True(t, fs.IsDefault())

	fs.SelectedCourses = map[int64]bool{3: true}
	assert.False(t, fs.IsDefault())
}

func TestDateSetParsesFlagValue(t *testing.T) {
	t.Parallel()

	var d planner.Date
	assert.NoError(t, d.Set("2024-03-05"))
	assert.Equal(t, "2024-03-05", d.String())
	assert.False(t, d.IsZero())

	assert.Error(t, d.Set("March 5th"))
	assert.Equal(t, "2024-03-05", d.String())
}

func TestDateAddDateStaysAtMidnight(t *testing.T) {
	t.Parallel()

	d := planner.NewDate(2024, time.March, 31, time.UTC)
	next := d.AddDate(0, 0, 1)
	assert.Equal(t, "2024-04-01", next.String())
	assert.Equal(t, next.Time, planner.StartOfDay(next.Time))
}

func TestWeekWindowStartsOnSunday(t *testing.T) {
	t.Parallel()

	// A Wednesday.
	w := planner.WeekWindow(time.Date(2024, 3, 6, 15, 30, 0, 0, time.UTC))

	assert.Equal(t, time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), w.End)
	assert.True(t, w.Contains(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)))
	assert.False(t, w.Contains(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)))
}
