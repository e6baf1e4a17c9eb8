package main

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/studious/planner"
	"github.com/studious/planner/internal/reminder"
)

// consoleRenderer collects the rendered batch and prints it on Flush,
// sorted by start time.
type consoleRenderer struct {
	w io.Writer

	mu    sync.Mutex
	items map[planner.ItemKey]planner.CalendarItem
}

func newConsoleRenderer(w io.Writer) *consoleRenderer {
	return &consoleRenderer{
		w:     w,
		items: make(map[planner.ItemKey]planner.CalendarItem),
	}
}

func (r *consoleRenderer) RenderBatch(items []planner.CalendarItem) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = make(map[planner.ItemKey]planner.CalendarItem, len(items))
	for _, item := range items {
		r.items[item.Key] = item
	}
}

func (r *consoleRenderer) UpsertItem(item planner.CalendarItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.Key] = item
}

func (r *consoleRenderer) RemoveItem(key planner.ItemKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, key)
}

func (r *consoleRenderer) ShowError(msg string) {
	fmt.Fprintln(r.w, "Error:", msg)
}

func (r *consoleRenderer) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]planner.CalendarItem, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].Start.Equal(items[j].Start) {
			return items[i].Start.Before(items[j].Start)
		}
		return items[i].Title < items[j].Title
	})

	for _, item := range items {
		when := item.Start.Format("Mon Jan 02 15:04")
		if item.AllDay {
			when = item.Start.Format("Mon Jan 02") + " (all day)"
		}
		status := " "
		if item.Completed {
			status = "x"
		}
		fmt.Fprintf(r.w, "[%s] %-22s %-10s %s\n", status, when, item.Key.Kind, item.Title)
	}
}

type consoleNotifier struct {
	w io.Writer
}

func newConsoleNotifier(w io.Writer) *consoleNotifier {
	return &consoleNotifier{w: w}
}

func (n *consoleNotifier) Show(notification reminder.Notification) {
	fmt.Fprintf(n.w, "Reminder due %s: %s\n",
		notification.DueAt.Format(time.Kitchen), notification.Message)
}

func (n *consoleNotifier) Remove(string) {}

func (n *consoleNotifier) SetCount(count int) {
	fmt.Fprintf(n.w, "%d reminder(s) pending\n", count)
}
