// Package plannertest holds in-memory doubles for the gateway, state
// store and rendering surface used across the engine tests.
package plannertest

import (
	"context"
	"sync"
	"time"

	"github.com/studious/planner"
)

// Gateway is a configurable planner.Gateway double. Unset behaviors
// return empty results; every invocation is recorded by method name.
type Gateway struct {
	mu    sync.Mutex
	calls []string

	EventsFn            func(ctx context.Context, w planner.Window, search string) ([]planner.Event, error)
	HomeworkFn          func(ctx context.Context, q planner.HomeworkQuery) ([]planner.Homework, error)
	ClassOccurrencesFn  func(ctx context.Context, courseGroupID, courseID int64, search string) ([]planner.ClassOccurrence, error)
	ExternalEventsFn    func(ctx context.Context, calendarID int64, w planner.Window, search string) ([]planner.ExternalEvent, error)
	CourseGroupsFn      func(ctx context.Context) ([]planner.CourseGroup, error)
	CoursesFn           func(ctx context.Context) ([]planner.Course, error)
	ExternalCalendarsFn func(ctx context.Context) ([]planner.ExternalCalendar, error)
	CreateEventFn       func(ctx context.Context, e planner.Event) (*planner.Event, error)
	EditEventFn         func(ctx context.Context, id int64, p planner.ItemPatch) (*planner.Event, error)
	DeleteEventFn       func(ctx context.Context, id int64) error
	CreateHomeworkFn    func(ctx context.Context, courseGroupID, courseID int64, h planner.Homework) (*planner.Homework, error)
	EditHomeworkFn      func(ctx context.Context, courseGroupID, courseID, id int64, p planner.ItemPatch) (*planner.Homework, error)
	DeleteHomeworkFn    func(ctx context.Context, courseGroupID, courseID, id int64) error
	RemindersFn         func(ctx context.Context, dueBefore time.Time) ([]planner.Reminder, error)
	CreateReminderFn    func(ctx context.Context, r planner.Reminder) (*planner.Reminder, error)
	EditReminderSentFn  func(ctx context.Context, id int64, sent bool) (*planner.Reminder, error)
	DeleteReminderFn    func(ctx context.Context, id int64) error
	DeleteAttachmentFn  func(ctx context.Context, id int64) error
}

func (g *Gateway) record(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, name)
}

// Calls returns how many times the named method was invoked.
func (g *Gateway) Calls(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (g *Gateway) Events(ctx context.Context, w planner.Window, search string) ([]planner.Event, error) {
	g.record("Events")
	if g.EventsFn != nil {
		return g.EventsFn(ctx, w, search)
	}
	return nil, nil
}

func (g *Gateway) Homework(ctx context.Context, q planner.HomeworkQuery) ([]planner.Homework, error) {
	g.record("Homework")
	if g.HomeworkFn != nil {
		return g.HomeworkFn(ctx, q)
	}
	return nil, nil
}

func (g *Gateway) ClassOccurrences(ctx context.Context, courseGroupID, courseID int64, search string) ([]planner.ClassOccurrence, error) {
	g.record("ClassOccurrences")
	if g.ClassOccurrencesFn != nil {
		return g.ClassOccurrencesFn(ctx, courseGroupID, courseID, search)
	}
	return nil, nil
}

func (g *Gateway) ExternalEvents(ctx context.Context, calendarID int64, w planner.Window, search string) ([]planner.ExternalEvent, error) {
	g.record("ExternalEvents")
	if g.ExternalEventsFn != nil {
		return g.ExternalEventsFn(ctx, calendarID, w, search)
	}
	return nil, nil
}

func (g *Gateway) CourseGroups(ctx context.Context) ([]planner.CourseGroup, error) {
	g.record("CourseGroups")
	if g.CourseGroupsFn != nil {
		return g.CourseGroupsFn(ctx)
	}
	return nil, nil
}

func (g *Gateway) Courses(ctx context.Context) ([]planner.Course, error) {
	g.record("Courses")
	if g.CoursesFn != nil {
		return g.CoursesFn(ctx)
	}
	return nil, nil
}

func (g *Gateway) ExternalCalendars(ctx context.Context) ([]planner.ExternalCalendar, error) {
	g.record("ExternalCalendars")
	if g.ExternalCalendarsFn != nil {
		return g.ExternalCalendarsFn(ctx)
	}
	return nil, nil
}

func (g *Gateway) CreateEvent(ctx context.Context, e planner.Event) (*planner.Event, error) {
	g.record("CreateEvent")
	if g.CreateEventFn != nil {
		return g.CreateEventFn(ctx, e)
	}
	created := e
	return &created, nil
}

func (g *Gateway) EditEvent(ctx context.Context, id int64, p planner.ItemPatch) (*planner.Event, error) {
	g.record("EditEvent")
	if g.EditEventFn != nil {
		return g.EditEventFn(ctx, id, p)
	}
	return &planner.Event{ID: id}, nil
}

func (g *Gateway) DeleteEvent(ctx context.Context, id int64) error {
	g.record("DeleteEvent")
	if g.DeleteEventFn != nil {
		return g.DeleteEventFn(ctx, id)
	}
	return nil
}

func (g *Gateway) CreateHomework(ctx context.Context, courseGroupID, courseID int64, h planner.Homework) (*planner.Homework, error) {
	g.record("CreateHomework")
	if g.CreateHomeworkFn != nil {
		return g.CreateHomeworkFn(ctx, courseGroupID, courseID, h)
	}
	created := h
	return &created, nil
}

func (g *Gateway) EditHomework(ctx context.Context, courseGroupID, courseID, id int64, p planner.ItemPatch) (*planner.Homework, error) {
	g.record("EditHomework")
	if g.EditHomeworkFn != nil {
		return g.EditHomeworkFn(ctx, courseGroupID, courseID, id, p)
	}
	return &planner.Homework{ID: id, Course: courseID}, nil
}

func (g *Gateway) DeleteHomework(ctx context.Context, courseGroupID, courseID, id int64) error {
	g.record("DeleteHomework")
	if g.DeleteHomeworkFn != nil {
		return g.DeleteHomeworkFn(ctx, courseGroupID, courseID, id)
	}
	return nil
}

func (g *Gateway) Reminders(ctx context.Context, dueBefore time.Time) ([]planner.Reminder, error) {
	g.record("Reminders")
	if g.RemindersFn != nil {
		return g.RemindersFn(ctx, dueBefore)
	}
	return nil, nil
}

func (g *Gateway) CreateReminder(ctx context.Context, r planner.Reminder) (*planner.Reminder, error) {
	g.record("CreateReminder")
	if g.CreateReminderFn != nil {
		return g.CreateReminderFn(ctx, r)
	}
	created := r
	return &created, nil
}

func (g *Gateway) EditReminderSent(ctx context.Context, id int64, sent bool) (*planner.Reminder, error) {
	g.record("EditReminderSent")
	if g.EditReminderSentFn != nil {
		return g.EditReminderSentFn(ctx, id, sent)
	}
	return &planner.Reminder{ID: id, Sent: sent}, nil
}

func (g *Gateway) DeleteReminder(ctx context.Context, id int64) error {
	g.record("DeleteReminder")
	if g.DeleteReminderFn != nil {
		return g.DeleteReminderFn(ctx, id)
	}
	return nil
}

func (g *Gateway) DeleteAttachment(ctx context.Context, id int64) error {
	g.record("DeleteAttachment")
	if g.DeleteAttachmentFn != nil {
		return g.DeleteAttachmentFn(ctx, id)
	}
	return nil
}

// Store is an in-memory planner.StateStore.
type Store struct {
	mu     sync.Mutex
	values map[string]string
}

func NewStore() *Store {
	return &Store{values: map[string]string{}}
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// Len returns how many keys the store currently holds.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// Renderer records everything the engine pushes at the surface.
type Renderer struct {
	mu       sync.Mutex
	batches  [][]planner.CalendarItem
	upserts  []planner.CalendarItem
	removals []planner.ItemKey
	errors   []string
}

func NewRenderer() *Renderer {
	return &Renderer{}
}

func (r *Renderer) RenderBatch(items []planner.CalendarItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, items)
}

func (r *Renderer) UpsertItem(item planner.CalendarItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, item)
}

func (r *Renderer) RemoveItem(key planner.ItemKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removals = append(r.removals, key)
}

func (r *Renderer) ShowError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *Renderer) Batches() [][]planner.CalendarItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]planner.CalendarItem(nil), r.batches...)
}

func (r *Renderer) Upserts() []planner.CalendarItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]planner.CalendarItem(nil), r.upserts...)
}

func (r *Renderer) Removals() []planner.ItemKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]planner.ItemKey(nil), r.removals...)
}

func (r *Renderer) Errors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.errors...)
}
