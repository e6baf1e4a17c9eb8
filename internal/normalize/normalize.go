// Package normalize converts the four raw source record shapes into the
// unified CalendarItem representation. Every field of the result is
// populated with a kind-appropriate default so downstream code never
// branches on presence, and all-day items are converted to the
// exclusive-end convention (End is one day past the last visible day).
package normalize

import (
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/studious/planner"
)

var errMissingField = errors.New("normalize: record is missing a mandatory field")

type Normalizer struct {
	log *logrus.Entry
	loc *time.Location

	// EventsColor is applied to user events, which have no owning course.
	EventsColor string
}

func New(log *logrus.Entry, loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{log: log, loc: loc}
}

func (n *Normalizer) Event(e planner.Event) (planner.CalendarItem, error) {
	if e.ID == 0 || e.Start.IsZero() || e.End.IsZero() {
		return planner.CalendarItem{}, errMissingField
	}
	start, end := n.times(e.Start, e.End, e.AllDay)
	return planner.CalendarItem{
		Key:         planner.ItemKey{Kind: planner.KindEvent, ID: e.ID},
		Title:       e.Title,
		Start:       start,
		End:         end,
		AllDay:      e.AllDay,
		ShowEndTime: e.ShowEndTime,
		Editable:    true,
		Priority:    e.Priority,
		Materials:   []int64{},
		Comments:    e.Comments,
		Attachments: emptyIfNil(e.Attachments),
		Reminders:   emptyRemindersIfNil(e.Reminders),
		Color:       n.EventsColor,
		URL:         e.URL,
	}, nil
}

func (n *Normalizer) Homework(h planner.Homework, course planner.Course) (planner.CalendarItem, error) {
	if h.ID == 0 || h.Start.IsZero() || h.End.IsZero() {
		return planner.CalendarItem{}, errMissingField
	}
	start, end := n.times(h.Start, h.End, h.AllDay)
	return planner.CalendarItem{
		Key:          planner.ItemKey{Kind: planner.KindHomework, ID: h.ID},
		Title:        h.Title,
		Start:        start,
		End:          end,
		AllDay:       h.AllDay,
		ShowEndTime:  h.ShowEndTime,
		Editable:     true,
		Completed:    h.Completed,
		Priority:     h.Priority,
		Category:     h.Category,
		Course:       h.Course,
		CurrentGrade: h.CurrentGrade,
		Materials:    emptyInt64sIfNil(h.Materials),
		Comments:     h.Comments,
		Attachments:  emptyIfNil(h.Attachments),
		Reminders:    emptyRemindersIfNil(h.Reminders),
		Color:        course.Color,
		URL:          h.URL,
	}, nil
}

func (n *Normalizer) ClassOccurrence(o planner.ClassOccurrence, course planner.Course) (planner.CalendarItem, error) {
	if o.ID == 0 || o.Start.IsZero() || o.End.IsZero() {
		return planner.CalendarItem{}, errMissingField
	}
	start, end := n.times(o.Start, o.End, o.AllDay)
	return planner.CalendarItem{
		Key:         planner.ItemKey{Kind: planner.KindClassOccurrence, ID: o.ID},
		Title:       o.Title,
		Start:       start,
		End:         end,
		AllDay:      o.AllDay,
		ShowEndTime: !o.AllDay,
		Editable:    false,
		Course:      course.ID,
		Materials:   []int64{},
		Attachments: []planner.Attachment{},
		Reminders:   []planner.Reminder{},
		Color:       course.Color,
		URL:         o.URL,
	}, nil
}

func (n *Normalizer) ExternalEvent(e planner.ExternalEvent, cal planner.ExternalCalendar) (planner.CalendarItem, error) {
	if e.ID == 0 || e.Start.IsZero() || e.End.IsZero() {
		return planner.CalendarItem{}, errMissingField
	}
	start, end := n.times(e.Start, e.End, e.AllDay)
	return planner.CalendarItem{
		Key:         planner.ItemKey{Kind: planner.KindExternalEvent, ID: e.ID},
		Title:       e.Title,
		Start:       start,
		End:         end,
		AllDay:      e.AllDay,
		ShowEndTime: !e.AllDay,
		Editable:    false,
		Materials:   []int64{},
		Attachments: []planner.Attachment{},
		Reminders:   []planner.Reminder{},
		Color:       cal.Color,
		URL:         e.URL,
	}, nil
}

// Batch variants drop malformed records and log them rather than aborting
// the whole fetch.

func (n *Normalizer) Events(events []planner.Event) []planner.CalendarItem {
	items := make([]planner.CalendarItem, 0, len(events))
	for _, e := range events {
		item, err := n.Event(e)
		if err != nil {
			n.dropped(planner.KindEvent, e.ID, err)
			continue
		}
		items = append(items, item)
	}
	return items
}

func (n *Normalizer) HomeworkBatch(hw []planner.Homework, courses map[int64]planner.Course) []planner.CalendarItem {
	items := make([]planner.CalendarItem, 0, len(hw))
	for _, h := range hw {
		item, err := n.Homework(h, courses[h.Course])
		if err != nil {
			n.dropped(planner.KindHomework, h.ID, err)
			continue
		}
		items = append(items, item)
	}
	return items
}

func (n *Normalizer) ClassOccurrences(occ []planner.ClassOccurrence, course planner.Course) []planner.CalendarItem {
	items := make([]planner.CalendarItem, 0, len(occ))
	for _, o := range occ {
		item, err := n.ClassOccurrence(o, course)
		if err != nil {
			n.dropped(planner.KindClassOccurrence, o.ID, err)
			continue
		}
		items = append(items, item)
	}
	return items
}

func (n *Normalizer) ExternalEvents(events []planner.ExternalEvent, cal planner.ExternalCalendar) []planner.CalendarItem {
	items := make([]planner.CalendarItem, 0, len(events))
	for _, e := range events {
		item, err := n.ExternalEvent(e, cal)
		if err != nil {
			n.dropped(planner.KindExternalEvent, e.ID, err)
			continue
		}
		items = append(items, item)
	}
	return items
}

// times converts raw start/end into the viewer's zone and applies the
// exclusive-end convention for all-day items: the server stores the last
// visible day, the timeline wants one day past it.
func (n *Normalizer) times(start, end time.Time, allDay bool) (time.Time, time.Time) {
	start = start.In(n.loc)
	end = end.In(n.loc)
	if allDay {
		start = planner.StartOfDay(start)
		end = planner.StartOfDay(end).AddDate(0, 0, 1)
	}
	if end.Before(start) {
		end = start
	}
	return start, end
}

// ServerTimes is the inverse of the all-day correction applied during
// normalization: before an all-day item is re-sent for editing, its
// exclusive End must come back down to the last visible day.
func ServerTimes(item planner.CalendarItem) (start, end time.Time) {
	start, end = item.Start, item.End
	if item.AllDay {
		end = end.AddDate(0, 0, -1)
	}
	return start, end
}

func (n *Normalizer) dropped(kind planner.ItemKind, id int64, err error) {
	if n.log != nil {
		n.log.WithFields(logrus.Fields{"kind": kind, "id": id}).WithError(err).Warn("dropping malformed record")
	}
}

func emptyIfNil(a []planner.Attachment) []planner.Attachment {
	if a == nil {
		return []planner.Attachment{}
	}
	return a
}

func emptyRemindersIfNil(r []planner.Reminder) []planner.Reminder {
	if r == nil {
		return []planner.Reminder{}
	}
	return r
}

func emptyInt64sIfNil(v []int64) []int64 {
	if v == nil {
		return []int64{}
	}
	return v
}
