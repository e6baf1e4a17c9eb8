// Package filter builds per-source query parameters from the persisted
// filter state, persists and restores that state through the durable
// client store, and debounces free-text search input.
package filter

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/studious/planner"
)

// Storage key names carried over from the legacy client so a persisted
// state survives the reimplementation. Absent keys mean "never filtered";
// present keys mean an explicit choice.
const (
	keyShowHomework = "filter_show_homework"
	keyShowEvents   = "filter_show_events"
	keyShowClass    = "filter_show_class"
	keyShowExternal = "filter_show_external"
	keyCourses      = "filter_courses"
	keyCategories   = "filter_categories"
	keyComplete     = "filter_complete"
	keyOverdue      = "filter_overdue"
	keySearch       = "filter_search_string"
)

var persistedKeys = []string{
	keyShowHomework, keyShowEvents, keyShowClass, keyShowExternal,
	keyCourses, keyCategories, keyComplete, keyOverdue,
}

// Queries is the per-source parameter set for one aggregation pass. The
// full filter dimensions apply only to homework; the other kinds take at
// most a search term alongside the window.
type Queries struct {
	Homework       planner.HomeworkQuery
	EventSearch    string
	ClassSearch    string
	ExternalSearch string
}

func BuildQuery(fs planner.FilterState, w planner.Window) Queries {
	return Queries{
		Homework: planner.HomeworkQuery{
			Window:     w,
			Courses:    sortedIDs(fs.SelectedCourses),
			Categories: sortedNames(fs.SelectedCategories),
			Completion: fs.Completion,
			Overdue:    fs.OverdueOnly,
			Search:     fs.Search,
		},
		EventSearch:    fs.Search,
		ClassSearch:    fs.Search,
		ExternalSearch: fs.Search,
	}
}

// ApplyLocal evaluates the category predicate locally, for state the
// server has not seen yet (an unsaved category rename, an edited item
// still in flight). Non-homework kinds are unaffected.
func ApplyLocal(items []planner.CalendarItem, fs planner.FilterState) []planner.CalendarItem {
	if len(fs.SelectedCategories) == 0 {
		return items
	}
	kept := make([]planner.CalendarItem, 0, len(items))
	for _, item := range items {
		if item.Key.Kind == planner.KindHomework && !fs.SelectedCategories[item.Category] {
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// Persist writes the filter state, gated by the remember preference. The
// default state is stored as absence of every key, and the search term is
// never written regardless of the preference.
func Persist(ctx context.Context, store planner.StateStore, fs planner.FilterState, remember bool) error {
	if !remember {
		return nil
	}
	if fs.IsDefault() {
		return removeKeys(ctx, store, persistedKeys)
	}

	pairs := map[string]string{
		keyShowHomework: strconv.FormatBool(fs.ShowHomework),
		keyShowEvents:   strconv.FormatBool(fs.ShowEvents),
		keyShowClass:    strconv.FormatBool(fs.ShowClassSchedule),
		keyShowExternal: strconv.FormatBool(fs.ShowExternal),
		keyCourses:      encodeCourses(fs.SelectedCourses),
		keyCategories:   encodeCategories(fs.SelectedCategories),
		keyComplete:     string(fs.Completion),
		keyOverdue:      strconv.FormatBool(fs.OverdueOnly),
	}
	for key, value := range pairs {
		if value == "" {
			if err := store.Delete(ctx, key); err != nil {
				return err
			}
			continue
		}
		if err := store.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Restore loads the persisted filter state. With the remember preference
// off it clears the stored keys and returns defaults. The session-only
// search key is removed unconditionally on every restore.
func Restore(ctx context.Context, store planner.StateStore, remember bool) (planner.FilterState, error) {
	if err := store.Delete(ctx, keySearch); err != nil {
		return planner.FilterState{}, err
	}
	fs := planner.DefaultFilterState()
	if !remember {
		if err := removeKeys(ctx, store, persistedKeys); err != nil {
			return planner.FilterState{}, err
		}
		return fs, nil
	}

	var err error
	if fs.ShowHomework, err = boolKey(ctx, store, keyShowHomework, true); err != nil {
		return planner.FilterState{}, err
	}
	if fs.ShowEvents, err = boolKey(ctx, store, keyShowEvents, true); err != nil {
		return planner.FilterState{}, err
	}
	if fs.ShowClassSchedule, err = boolKey(ctx, store, keyShowClass, true); err != nil {
		return planner.FilterState{}, err
	}
	if fs.ShowExternal, err = boolKey(ctx, store, keyShowExternal, true); err != nil {
		return planner.FilterState{}, err
	}
	if fs.OverdueOnly, err = boolKey(ctx, store, keyOverdue, false); err != nil {
		return planner.FilterState{}, err
	}

	if v, ok, err := store.Get(ctx, keyComplete); err != nil {
		return planner.FilterState{}, err
	} else if ok {
		fs.Completion = planner.CompletionFilter(v)
	}
	if v, ok, err := store.Get(ctx, keyCourses); err != nil {
		return planner.FilterState{}, err
	} else if ok {
		fs.SelectedCourses = decodeCourses(v)
	}
	if v, ok, err := store.Get(ctx, keyCategories); err != nil {
		return planner.FilterState{}, err
	} else if ok {
		fs.SelectedCategories = decodeCategories(v)
	}
	return fs, nil
}

func boolKey(ctx context.Context, store planner.StateStore, key string, def bool) (bool, error) {
	v, ok, err := store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return def, nil
	}
	return v == "true", nil
}

func removeKeys(ctx context.Context, store planner.StateStore, keys []string) error {
	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func encodeCourses(ids map[int64]bool) string {
	parts := make([]string, 0, len(ids))
	for _, id := range sortedIDs(ids) {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

func decodeCourses(v string) map[int64]bool {
	ids := map[int64]bool{}
	for _, part := range strings.Split(v, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		ids[id] = true
	}
	return ids
}

// Category names may themselves contain commas, so each name is
// URL-encoded before the comma join.
func encodeCategories(names map[string]bool) string {
	parts := make([]string, 0, len(names))
	for _, name := range sortedNames(names) {
		parts = append(parts, url.QueryEscape(name))
	}
	return strings.Join(parts, ",")
}

func decodeCategories(v string) map[string]bool {
	names := map[string]bool{}
	for _, part := range strings.Split(v, ",") {
		name, err := url.QueryUnescape(part)
		if err != nil || name == "" {
			continue
		}
		names[name] = true
	}
	return names
}

func sortedIDs(ids map[int64]bool) []int64 {
	out := make([]int64, 0, len(ids))
	for id, selected := range ids {
		if selected {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedNames(names map[string]bool) []string {
	out := make([]string, 0, len(names))
	for name, selected := range names {
		if selected {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Debouncer coalesces bursts of search keystrokes: the wrapped function
// only runs after a full quiet interval with no further triggers.
type Debouncer struct {
	mu       sync.Mutex
	interval time.Duration
	timer    *time.Timer
}

// DoneTypingInterval is the legacy quiet period between the last
// keystroke and the refetch it triggers.
const DoneTypingInterval = 500 * time.Millisecond

func NewDebouncer(interval time.Duration) *Debouncer {
	if interval <= 0 {
		interval = DoneTypingInterval
	}
	return &Debouncer{interval: interval}
}

func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, fn)
}

func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
