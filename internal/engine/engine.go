// Package engine drives the calendar: it aggregates the four event
// sources into one timeline, applies the persisted filters, and performs
// optimistic mutations with rollback when the server disagrees.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/studious/planner"
	"github.com/studious/planner/calendar"
	"github.com/studious/planner/internal/filter"
	"github.com/studious/planner/internal/normalize"
)

var (
	ErrUnknownItem  = errors.New("engine: item is not on the calendar")
	ErrReadOnlyItem = errors.New("engine: item is a read-only projection")
)

const nextOpenKey = "next_open_item"

// Renderer is the rendering surface. The engine is its only writer: the
// surface never mutates a CalendarItem directly, it re-enters through the
// mutation methods.
type Renderer interface {
	RenderBatch(items []planner.CalendarItem)
	UpsertItem(item planner.CalendarItem)
	RemoveItem(key planner.ItemKey)
	ShowError(msg string)
}

// Config carries the engine's dependencies. Everything is injected so
// multiple instances and tests can coexist without shared globals.
type Config struct {
	Gateway  planner.Gateway
	Store    planner.StateStore
	Renderer Renderer
	Sources  *calendar.Mux
	Log      *logrus.Entry

	Location        *time.Location
	Now             func() time.Time
	RememberFilters bool
	EventsColor     string
	SearchDebounce  time.Duration
}

type Engine struct {
	gw       planner.Gateway
	store    planner.StateStore
	renderer Renderer
	sources  *calendar.Mux
	log      *logrus.Entry
	loc      *time.Location
	now      func() time.Time
	norm     *normalize.Normalizer
	remember bool

	passSeq  atomic.Uint64
	renderMu sync.Mutex

	debounce *filter.Debouncer

	mu       sync.Mutex
	filters  planner.FilterState
	window   planner.Window
	courses  map[int64]planner.Course
	groups   map[int64]planner.CourseGroup
	external []planner.ExternalCalendar
	items    map[planner.ItemKey]planner.CalendarItem
	pending  map[planner.ItemKey]bool
}

func New(cfg Config) *Engine {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	norm := normalize.New(cfg.Log, loc)
	norm.EventsColor = cfg.EventsColor
	return &Engine{
		gw:       cfg.Gateway,
		store:    cfg.Store,
		renderer: cfg.Renderer,
		sources:  cfg.Sources,
		log:      cfg.Log,
		loc:      loc,
		now:      now,
		norm:     norm,
		remember: cfg.RememberFilters,
		debounce: filter.NewDebouncer(cfg.SearchDebounce),
		filters:  planner.DefaultFilterState(),
		courses:  map[int64]planner.Course{},
		groups:   map[int64]planner.CourseGroup{},
		items:    map[planner.ItemKey]planner.CalendarItem{},
		pending:  map[planner.ItemKey]bool{},
	}
}

// Init restores the persisted filter state and loads the course and
// external calendar registries the aggregator depends on.
func (e *Engine) Init(ctx context.Context) error {
	fs, err := filter.Restore(ctx, e.store, e.remember)
	if err != nil {
		return fmt.Errorf("engine: restoring filters: %w", err)
	}

	groups, err := e.gw.CourseGroups(ctx)
	if err != nil {
		return fmt.Errorf("engine: loading course groups: %w", err)
	}
	courses, err := e.gw.Courses(ctx)
	if err != nil {
		return fmt.Errorf("engine: loading courses: %w", err)
	}
	external, err := e.gw.ExternalCalendars(ctx)
	if err != nil {
		return fmt.Errorf("engine: loading external calendars: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.filters = fs
	e.groups = make(map[int64]planner.CourseGroup, len(groups))
	for _, g := range groups {
		e.groups[g.ID] = g
	}
	e.courses = make(map[int64]planner.Course, len(courses))
	for _, c := range courses {
		e.courses[c.ID] = c
	}
	e.external = external
	return nil
}

func (e *Engine) Filters() planner.FilterState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filters
}

// SetFilters replaces the filter state, persists it (gated by the
// remember preference), and refetches the current window.
func (e *Engine) SetFilters(ctx context.Context, fs planner.FilterState) error {
	e.mu.Lock()
	e.filters = fs
	w := e.window
	e.mu.Unlock()

	if err := filter.Persist(ctx, e.store, fs, e.remember); err != nil {
		return fmt.Errorf("engine: persisting filters: %w", err)
	}
	if w.IsZero() {
		return nil
	}
	return e.Refresh(ctx, w)
}

// SetSearch updates the free-text search term. The refetch it triggers is
// debounced: every keystroke inside the quiet interval resets the timer.
func (e *Engine) SetSearch(search string) {
	e.mu.Lock()
	e.filters.Search = search
	w := e.window
	e.mu.Unlock()

	if w.IsZero() {
		return
	}
	e.debounce.Trigger(func() {
		if err := e.Refresh(context.Background(), w); err != nil {
			e.log.WithError(err).Error("search refetch failed")
		}
	})
}

// Items returns the currently rendered timeline state.
func (e *Engine) Items() []planner.CalendarItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	items := make([]planner.CalendarItem, 0, len(e.items))
	for _, item := range e.items {
		items = append(items, item)
	}
	return items
}

type fetchResult struct {
	items []planner.CalendarItem
	err   error
}

// Refresh runs one aggregation pass for the window: one concurrent fetch
// per enabled source, merged and published only after every fetch has
// settled. A later-launched pass supersedes this one; the supersession
// check is the last gate before any render side-effect.
func (e *Engine) Refresh(ctx context.Context, w planner.Window) error {
	pass := e.passSeq.Add(1)

	e.mu.Lock()
	e.window = w
	fs := e.filters
	courses := e.courses
	groups := e.groups
	external := e.external
	e.mu.Unlock()

	queries := filter.BuildQuery(fs, w)

	var wg sync.WaitGroup
	results := make(chan fetchResult, 2+len(courses)+len(external))

	launch := func(fetch func() fetchResult) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- fetch()
		}()
	}

	if fs.ShowHomework {
		launch(func() fetchResult { return e.fetchHomework(ctx, queries.Homework, courses) })
	}
	if fs.ShowEvents {
		launch(func() fetchResult { return e.fetchEvents(ctx, w, queries.EventSearch) })
	}
	if fs.ShowClassSchedule {
		for _, course := range courses {
			course := course
			group, ok := groups[course.CourseGroup]
			if !ok || !group.ShownOnCalendar {
				continue
			}
			if len(fs.SelectedCourses) > 0 && !fs.SelectedCourses[course.ID] {
				continue
			}
			launch(func() fetchResult { return e.fetchClassOccurrences(ctx, group, course, queries.ClassSearch) })
		}
	}
	if fs.ShowExternal {
		for _, cal := range external {
			cal := cal
			if !cal.ShownOnCalendar {
				continue
			}
			launch(func() fetchResult { return e.fetchExternal(ctx, cal, w, queries.ExternalSearch) })
		}
	}

	wg.Wait()
	close(results)

	var merged []planner.CalendarItem
	var firstErr error
	for res := range results {
		if res.err != nil && firstErr == nil {
			firstErr = res.err
		}
		merged = append(merged, res.items...)
	}

	e.renderMu.Lock()
	defer e.renderMu.Unlock()
	if e.passSeq.Load() != pass {
		e.log.WithField("pass", pass).Debug("aggregation pass superseded, discarding results")
		return nil
	}
	if firstErr != nil {
		e.renderer.ShowError(planner.ErrorMessage(firstErr))
		return firstErr
	}

	merged = filter.ApplyLocal(merged, fs)

	e.mu.Lock()
	e.items = make(map[planner.ItemKey]planner.CalendarItem, len(merged))
	for _, item := range merged {
		e.items[item.Key] = item
	}
	e.mu.Unlock()

	e.renderer.RenderBatch(merged)
	return nil
}

func (e *Engine) fetchHomework(ctx context.Context, q planner.HomeworkQuery, courses map[int64]planner.Course) fetchResult {
	hw, err := e.gw.Homework(ctx, q)
	if err != nil {
		return fetchResult{err: err}
	}
	return fetchResult{items: e.norm.HomeworkBatch(hw, courses)}
}

func (e *Engine) fetchEvents(ctx context.Context, w planner.Window, search string) fetchResult {
	events, err := e.gw.Events(ctx, w, search)
	if err != nil {
		return fetchResult{err: err}
	}
	return fetchResult{items: e.norm.Events(events)}
}

func (e *Engine) fetchClassOccurrences(ctx context.Context, group planner.CourseGroup, course planner.Course, search string) fetchResult {
	occ, err := e.gw.ClassOccurrences(ctx, group.ID, course.ID, search)
	if err != nil {
		return fetchResult{err: err}
	}
	return fetchResult{items: e.norm.ClassOccurrences(occ, course)}
}

// fetchExternal resolves a subscribed calendar through the source mux
// when its platform has a registered client-side source, otherwise
// through the planner API.
func (e *Engine) fetchExternal(ctx context.Context, cal planner.ExternalCalendar, w planner.Window, search string) fetchResult {
	var events []planner.ExternalEvent
	var err error
	if src, srcErr := e.source(cal.Platform); srcErr == nil {
		events, err = src.ExternalEvents(ctx, cal, w, search)
	} else {
		events, err = e.gw.ExternalEvents(ctx, cal.ID, w, search)
	}
	if err != nil {
		return fetchResult{err: err}
	}
	return fetchResult{items: e.norm.ExternalEvents(events, cal)}
}

func (e *Engine) source(platform string) (planner.ExternalSource, error) {
	if e.sources == nil {
		return nil, fmt.Errorf("engine: no external sources registered")
	}
	return e.sources.Get(platform)
}

// SetNextOpen stores the one-shot deep-link pointer: the item the calendar
// should open on its next load, e.g. when a reminder notification is
// clicked from another page.
func (e *Engine) SetNextOpen(ctx context.Context, key planner.ItemKey) error {
	return e.store.Set(ctx, nextOpenKey, key.String())
}

// ConsumeNextOpen returns the deep-link pointer and clears it.
func (e *Engine) ConsumeNextOpen(ctx context.Context) (planner.ItemKey, bool, error) {
	v, ok, err := e.store.Get(ctx, nextOpenKey)
	if err != nil || !ok {
		return planner.ItemKey{}, false, err
	}
	if err := e.store.Delete(ctx, nextOpenKey); err != nil {
		return planner.ItemKey{}, false, err
	}
	kind, idStr, found := strings.Cut(v, "/")
	if !found {
		return planner.ItemKey{}, false, nil
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return planner.ItemKey{}, false, nil
	}
	return planner.ItemKey{Kind: planner.ItemKind(kind), ID: id}, true, nil
}

func (e *Engine) item(key planner.ItemKey) (planner.CalendarItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	item, ok := e.items[key]
	return item, ok
}

func (e *Engine) courseFor(item planner.CalendarItem) (planner.Course, planner.CourseGroup, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	course, ok := e.courses[item.Course]
	if !ok {
		return planner.Course{}, planner.CourseGroup{}, fmt.Errorf("engine: unknown course %d", item.Course)
	}
	group, ok := e.groups[course.CourseGroup]
	if !ok {
		return planner.Course{}, planner.CourseGroup{}, fmt.Errorf("engine: unknown course group %d", course.CourseGroup)
	}
	return course, group, nil
}
