// Package schedule expands a course's weekly meeting pattern into the
// concrete class occurrences that fall inside a visible window. The
// recurrence itself is delegated to an RRULE set, bounded by the owning
// course group's term dates.
package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/studious/planner"
)

const clockFormat = "15:04:05"

// Sunday-first, matching the seven-character DaysOfWeek mask.
var weekdays = []rrule.Weekday{
	rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA,
}

// Occurrences expands every schedule entry of a course within the window,
// clamped to the course group's term. Occurrence ids are synthesized from
// the schedule id and the occurrence date, so they are stable across
// passes without a server round trip.
func Occurrences(course planner.Course, group planner.CourseGroup, w planner.Window, search string, loc *time.Location) ([]planner.ClassOccurrence, error) {
	if loc == nil {
		loc = time.Local
	}
	if search != "" && !strings.Contains(strings.ToLower(course.Title), strings.ToLower(search)) {
		return nil, nil
	}

	occurrences := make([]planner.ClassOccurrence, 0)
	for _, entry := range course.Schedule {
		startClock, err := time.Parse(clockFormat, entry.StartTime)
		if err != nil {
			return nil, fmt.Errorf("schedule: parsing start time %q: %w", entry.StartTime, err)
		}
		endClock, err := time.Parse(clockFormat, entry.EndTime)
		if err != nil {
			return nil, fmt.Errorf("schedule: parsing end time %q: %w", entry.EndTime, err)
		}

		byWeekday := daysOfWeek(entry.DaysOfWeek)
		if len(byWeekday) == 0 {
			continue
		}

		termStart := atClock(group.StartDate.In(loc), startClock)
		termEnd := atClock(group.EndDate.In(loc), endClock)

		rule, err := rrule.NewRRule(rrule.ROption{
			Freq:      rrule.WEEKLY,
			Dtstart:   termStart,
			Until:     termEnd,
			Byweekday: byWeekday,
		})
		if err != nil {
			return nil, fmt.Errorf("schedule: building rule for schedule %d: %w", entry.ID, err)
		}

		var set rrule.Set
		set.RRule(rule)

		duration := clockDuration(startClock, endClock)
		for _, start := range set.Between(w.Start.In(loc), w.End.In(loc), true) {
			// Between is inclusive on both bounds; the window end is not.
			if !start.Before(w.End.In(loc)) {
				continue
			}
			occurrences = append(occurrences, planner.ClassOccurrence{
				ID:       occurrenceID(entry.ID, start),
				Course:   course.ID,
				Title:    course.Title,
				Start:    start,
				End:      start.Add(duration),
				Location: entry.Location,
				URL:      course.Website,
			})
		}
	}
	return occurrences, nil
}

func daysOfWeek(mask string) []rrule.Weekday {
	var days []rrule.Weekday
	for i, c := range mask {
		if i >= len(weekdays) {
			break
		}
		if c == '1' {
			days = append(days, weekdays[i])
		}
	}
	return days
}

func atClock(day time.Time, clock time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(),
		clock.Hour(), clock.Minute(), clock.Second(), 0, day.Location())
}

func clockDuration(start, end time.Time) time.Duration {
	d := end.Sub(start)
	if d < 0 {
		d = 0
	}
	return d
}

func occurrenceID(scheduleID int64, start time.Time) int64 {
	date := int64(start.Year())*10000 + int64(start.Month())*100 + int64(start.Day())
	return scheduleID*100000000 + date
}
