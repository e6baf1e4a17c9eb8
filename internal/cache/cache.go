// Package cache wraps a planner.Gateway with per-entity keyed memoization.
// Entries are keyed by (resource kind, scope key), where the scope key is
// the parameter tuple that makes a fetch unique. There is no TTL:
// invalidation is mutation-driven and coarse. Any mutation
// of a resource kind drops every entry whose scope could contain it.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/studious/planner"
)

type Kind string

const (
	KindEvents            Kind = "events"
	KindHomework          Kind = "homework"
	KindClassOccurrences  Kind = "classes"
	KindExternalEvents    Kind = "external_events"
	KindCourses           Kind = "courses"
	KindCourseGroups      Kind = "course_groups"
	KindExternalCalendars Kind = "external_calendars"
)

type Gateway struct {
	gw  planner.Gateway
	log *logrus.Entry

	mu      sync.Mutex
	entries map[Kind]map[string]any
}

func Wrap(gw planner.Gateway, log *logrus.Entry) *Gateway {
	return &Gateway{
		gw:      gw,
		log:     log,
		entries: make(map[Kind]map[string]any),
	}
}

// Invalidate drops every entry for the given kinds. It is idempotent and
// commutative: applying it twice or out of order yields the same end state.
func (c *Gateway) Invalidate(kinds ...Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range kinds {
		delete(c.entries, k)
	}
}

// Contains reports whether a live entry exists for the kind and scope key.
func (c *Gateway) Contains(kind Kind, scopeKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[kind][scopeKey]
	return ok
}

func (c *Gateway) lookup(kind Kind, key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[kind][key]
	return v, ok
}

func (c *Gateway) store(kind Kind, key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byKey, ok := c.entries[kind]
	if !ok {
		byKey = make(map[string]any)
		c.entries[kind] = byKey
	}
	byKey[key] = v
}

// Scope keys concatenate exactly the parameters that vary a fetch, the way
// the legacy client composed its cache dictionary keys.

func EventsKey(w planner.Window, search string) string {
	return windowKey(w) + "|" + search
}

func HomeworkKey(q planner.HomeworkQuery) string {
	return strings.Join([]string{
		windowKey(q.Window),
		int64CSV(q.Courses),
		strings.Join(q.Categories, ","),
		string(q.Completion),
		fmt.Sprintf("%t", q.Overdue),
		q.Search,
	}, "|")
}

func ClassOccurrencesKey(courseGroupID, courseID int64, search string) string {
	return fmt.Sprintf("%d|%d|%s", courseGroupID, courseID, search)
}

func ExternalEventsKey(calendarID int64, w planner.Window, search string) string {
	return fmt.Sprintf("%d|%s|%s", calendarID, windowKey(w), search)
}

func windowKey(w planner.Window) string {
	return w.Start.UTC().Format(time.RFC3339) + "/" + w.End.UTC().Format(time.RFC3339)
}

func int64CSV(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

// List fetches: consult the cache first, populate it on success.

func (c *Gateway) Events(ctx context.Context, w planner.Window, search string) ([]planner.Event, error) {
	key := EventsKey(w, search)
	if v, ok := c.lookup(KindEvents, key); ok {
		return v.([]planner.Event), nil
	}
	events, err := c.gw.Events(ctx, w, search)
	if err != nil {
		return nil, err
	}
	c.store(KindEvents, key, events)
	return events, nil
}

func (c *Gateway) Homework(ctx context.Context, q planner.HomeworkQuery) ([]planner.Homework, error) {
	key := HomeworkKey(q)
	if v, ok := c.lookup(KindHomework, key); ok {
		return v.([]planner.Homework), nil
	}
	hw, err := c.gw.Homework(ctx, q)
	if err != nil {
		return nil, err
	}
	c.store(KindHomework, key, hw)
	return hw, nil
}

func (c *Gateway) ClassOccurrences(ctx context.Context, courseGroupID, courseID int64, search string) ([]planner.ClassOccurrence, error) {
	key := ClassOccurrencesKey(courseGroupID, courseID, search)
	if v, ok := c.lookup(KindClassOccurrences, key); ok {
		return v.([]planner.ClassOccurrence), nil
	}
	occ, err := c.gw.ClassOccurrences(ctx, courseGroupID, courseID, search)
	if err != nil {
		return nil, err
	}
	c.store(KindClassOccurrences, key, occ)
	return occ, nil
}

func (c *Gateway) ExternalEvents(ctx context.Context, calendarID int64, w planner.Window, search string) ([]planner.ExternalEvent, error) {
	key := ExternalEventsKey(calendarID, w, search)
	if v, ok := c.lookup(KindExternalEvents, key); ok {
		return v.([]planner.ExternalEvent), nil
	}
	events, err := c.gw.ExternalEvents(ctx, calendarID, w, search)
	if err != nil {
		return nil, err
	}
	c.store(KindExternalEvents, key, events)
	return events, nil
}

func (c *Gateway) CourseGroups(ctx context.Context) ([]planner.CourseGroup, error) {
	if v, ok := c.lookup(KindCourseGroups, "all"); ok {
		return v.([]planner.CourseGroup), nil
	}
	groups, err := c.gw.CourseGroups(ctx)
	if err != nil {
		return nil, err
	}
	c.store(KindCourseGroups, "all", groups)
	return groups, nil
}

func (c *Gateway) Courses(ctx context.Context) ([]planner.Course, error) {
	if v, ok := c.lookup(KindCourses, "all"); ok {
		return v.([]planner.Course), nil
	}
	courses, err := c.gw.Courses(ctx)
	if err != nil {
		return nil, err
	}
	c.store(KindCourses, "all", courses)
	return courses, nil
}

func (c *Gateway) ExternalCalendars(ctx context.Context) ([]planner.ExternalCalendar, error) {
	if v, ok := c.lookup(KindExternalCalendars, "all"); ok {
		return v.([]planner.ExternalCalendar), nil
	}
	cals, err := c.gw.ExternalCalendars(ctx)
	if err != nil {
		return nil, err
	}
	c.store(KindExternalCalendars, "all", cals)
	return cals, nil
}

// Reminders are polled on a cadence and must always be fresh, so they pass
// straight through.

func (c *Gateway) Reminders(ctx context.Context, dueBefore time.Time) ([]planner.Reminder, error) {
	return c.gw.Reminders(ctx, dueBefore)
}

// Mutations: delegate, then invalidate every scope the mutated resource
// could appear in. Reminders and attachments ride inside event and
// homework payloads, so mutating them drops those kinds too.

func (c *Gateway) CreateEvent(ctx context.Context, e planner.Event) (*planner.Event, error) {
	created, err := c.gw.CreateEvent(ctx, e)
	if err != nil {
		return nil, err
	}
	c.Invalidate(KindEvents)
	return created, nil
}

func (c *Gateway) EditEvent(ctx context.Context, id int64, p planner.ItemPatch) (*planner.Event, error) {
	edited, err := c.gw.EditEvent(ctx, id, p)
	if err != nil {
		return nil, err
	}
	c.Invalidate(KindEvents)
	return edited, nil
}

func (c *Gateway) DeleteEvent(ctx context.Context, id int64) error {
	if err := c.gw.DeleteEvent(ctx, id); err != nil {
		return err
	}
	c.Invalidate(KindEvents)
	return nil
}

func (c *Gateway) CreateHomework(ctx context.Context, courseGroupID, courseID int64, h planner.Homework) (*planner.Homework, error) {
	created, err := c.gw.CreateHomework(ctx, courseGroupID, courseID, h)
	if err != nil {
		return nil, err
	}
	c.Invalidate(KindHomework)
	return created, nil
}

func (c *Gateway) EditHomework(ctx context.Context, courseGroupID, courseID, id int64, p planner.ItemPatch) (*planner.Homework, error) {
	edited, err := c.gw.EditHomework(ctx, courseGroupID, courseID, id, p)
	if err != nil {
		return nil, err
	}
	c.Invalidate(KindHomework)
	return edited, nil
}

func (c *Gateway) DeleteHomework(ctx context.Context, courseGroupID, courseID, id int64) error {
	if err := c.gw.DeleteHomework(ctx, courseGroupID, courseID, id); err != nil {
		return err
	}
	c.Invalidate(KindHomework)
	return nil
}

func (c *Gateway) CreateReminder(ctx context.Context, r planner.Reminder) (*planner.Reminder, error) {
	created, err := c.gw.CreateReminder(ctx, r)
	if err != nil {
		return nil, err
	}
	c.Invalidate(KindEvents, KindHomework)
	return created, nil
}

func (c *Gateway) EditReminderSent(ctx context.Context, id int64, sent bool) (*planner.Reminder, error) {
	edited, err := c.gw.EditReminderSent(ctx, id, sent)
	if err != nil {
		return nil, err
	}
	c.Invalidate(KindEvents, KindHomework)
	return edited, nil
}

func (c *Gateway) DeleteReminder(ctx context.Context, id int64) error {
	if err := c.gw.DeleteReminder(ctx, id); err != nil {
		return err
	}
	c.Invalidate(KindEvents, KindHomework)
	return nil
}

func (c *Gateway) DeleteAttachment(ctx context.Context, id int64) error {
	if err := c.gw.DeleteAttachment(ctx, id); err != nil {
		return err
	}
	c.Invalidate(KindEvents, KindHomework)
	return nil
}
