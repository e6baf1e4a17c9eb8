package engine

import (
	"context"
	"encoding/binary"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studious/planner"
	"github.com/studious/planner/internal/normalize"
)

// Draft is the form state for a create or edit. Its Start/End use the
// same representation as CalendarItem (all-day End exclusive); the
// server-side correction is applied when the payload is built.
type Draft struct {
	Title       string
	Start       time.Time
	End         time.Time
	AllDay      bool
	ShowEndTime bool
	Priority    int
	Course      int64
	Category    string
	Completed   bool
	Materials   []int64
	Comments    string

	RemindersToAdd      []planner.Reminder
	RemindersToDelete   []int64
	AttachmentsToDelete []int64
}

// Every mutation follows the same machine: the rendered surface is
// updated optimistically, then the server either confirms (its response
// overwrites the optimistic state, with no conflict detection) or
// rejects (the change is reverted to the last known-good
// state and the error surfaced). Only one mutation may be in flight per
// item; callers serialize, and the engine rejects overlap outright.

func (e *Engine) begin(key planner.ItemKey) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending[key] {
		return planner.ErrMutationPending
	}
	e.pending[key] = true
	return nil
}

func (e *Engine) finish(key planner.ItemKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, key)
}

func (e *Engine) upsert(item planner.CalendarItem) {
	e.mu.Lock()
	e.items[item.Key] = item
	e.mu.Unlock()
	e.renderMu.Lock()
	defer e.renderMu.Unlock()
	e.renderer.UpsertItem(item)
}

func (e *Engine) remove(key planner.ItemKey) {
	e.mu.Lock()
	delete(e.items, key)
	e.mu.Unlock()
	e.renderMu.Lock()
	defer e.renderMu.Unlock()
	e.renderer.RemoveItem(key)
}

func (e *Engine) rollback(snapshot planner.CalendarItem, err error) {
	e.upsert(snapshot)
	e.showError(err)
}

func (e *Engine) showError(err error) {
	e.renderMu.Lock()
	defer e.renderMu.Unlock()
	e.renderer.ShowError(planner.ErrorMessage(err))
}

// Move drags an item to a new start. The end is recomputed from the
// original duration, which preserves the dragged delta for multi-day
// all-day spans and prevents zero-length single-day items.
func (e *Engine) Move(ctx context.Context, key planner.ItemKey, newStart time.Time) (planner.CalendarItem, error) {
	item, ok := e.item(key)
	if !ok {
		return planner.CalendarItem{}, ErrUnknownItem
	}
	if !item.Editable {
		return planner.CalendarItem{}, ErrReadOnlyItem
	}
	if err := e.begin(key); err != nil {
		return planner.CalendarItem{}, err
	}
	defer e.finish(key)

	snapshot := item
	delta := newStart.Sub(item.Start)
	item.Start = newStart
	item.End = item.End.Add(delta)
	if item.AllDay && !item.End.After(item.Start) {
		item.End = item.Start.AddDate(0, 0, 1)
	}
	e.upsert(item)

	confirmed, err := e.editTimes(ctx, item)
	if err != nil {
		e.rollback(snapshot, err)
		return planner.CalendarItem{}, err
	}
	e.upsert(*confirmed)
	return *confirmed, nil
}

// Resize drags an item's end to a new instant; the start is unchanged.
func (e *Engine) Resize(ctx context.Context, key planner.ItemKey, newEnd time.Time) (planner.CalendarItem, error) {
	item, ok := e.item(key)
	if !ok {
		return planner.CalendarItem{}, ErrUnknownItem
	}
	if !item.Editable {
		return planner.CalendarItem{}, ErrReadOnlyItem
	}
	if newEnd.Before(item.Start) {
		return planner.CalendarItem{}, &planner.ValidationError{Field: "date", Msg: "the end must not be before the start"}
	}
	if err := e.begin(key); err != nil {
		return planner.CalendarItem{}, err
	}
	defer e.finish(key)

	snapshot := item
	item.End = newEnd
	e.upsert(item)

	confirmed, err := e.editTimes(ctx, item)
	if err != nil {
		e.rollback(snapshot, err)
		return planner.CalendarItem{}, err
	}
	e.upsert(*confirmed)
	return *confirmed, nil
}

// editTimes sends only the timing fields, the way a drop or resize does.
func (e *Engine) editTimes(ctx context.Context, item planner.CalendarItem) (*planner.CalendarItem, error) {
	start, end := normalize.ServerTimes(item)
	patch := planner.ItemPatch{
		Start:  &start,
		End:    &end,
		AllDay: &item.AllDay,
	}

	switch item.Key.Kind {
	case planner.KindEvent:
		event, err := e.gw.EditEvent(ctx, item.Key.ID, patch)
		if err != nil {
			return nil, err
		}
		confirmed, err := e.norm.Event(*event)
		if err != nil {
			return nil, err
		}
		return &confirmed, nil
	case planner.KindHomework:
		course, group, err := e.courseFor(item)
		if err != nil {
			return nil, err
		}
		hw, err := e.gw.EditHomework(ctx, group.ID, course.ID, item.Key.ID, patch)
		if err != nil {
			return nil, err
		}
		confirmed, err := e.norm.Homework(*hw, course)
		if err != nil {
			return nil, err
		}
		return &confirmed, nil
	default:
		return nil, ErrReadOnlyItem
	}
}

// Create builds a new event or homework from the draft. A placeholder
// with a negative id is rendered immediately; the server response
// replaces it, and reminder additions are flushed afterwards.
func (e *Engine) Create(ctx context.Context, kind planner.ItemKind, d Draft) (planner.CalendarItem, error) {
	if err := e.validate(ctx, kind, d); err != nil {
		return planner.CalendarItem{}, err
	}

	placeholder := e.placeholderItem(kind, d)
	e.upsert(placeholder)

	var confirmed planner.CalendarItem
	start, end := draftServerTimes(d)
	switch kind {
	case planner.KindEvent:
		created, err := e.gw.CreateEvent(ctx, planner.Event{
			Title:       d.Title,
			Start:       start,
			End:         end,
			AllDay:      d.AllDay,
			ShowEndTime: d.ShowEndTime,
			Priority:    d.Priority,
			Comments:    d.Comments,
		})
		if err != nil {
			e.remove(placeholder.Key)
			e.showError(err)
			return planner.CalendarItem{}, err
		}
		confirmed, err = e.norm.Event(*created)
		if err != nil {
			e.remove(placeholder.Key)
			e.showError(err)
			return planner.CalendarItem{}, err
		}
	case planner.KindHomework:
		course, group, err := e.courseByID(d.Course)
		if err != nil {
			e.remove(placeholder.Key)
			return planner.CalendarItem{}, err
		}
		created, err := e.gw.CreateHomework(ctx, group.ID, course.ID, planner.Homework{
			Title:       d.Title,
			Start:       start,
			End:         end,
			AllDay:      d.AllDay,
			ShowEndTime: d.ShowEndTime,
			Priority:    d.Priority,
			Course:      d.Course,
			Category:    d.Category,
			Completed:   d.Completed,
			Materials:   d.Materials,
			Comments:    d.Comments,
		})
		if err != nil {
			e.remove(placeholder.Key)
			e.showError(err)
			return planner.CalendarItem{}, err
		}
		confirmed, err = e.norm.Homework(*created, course)
		if err != nil {
			e.remove(placeholder.Key)
			e.showError(err)
			return planner.CalendarItem{}, err
		}
	default:
		e.remove(placeholder.Key)
		return planner.CalendarItem{}, ErrReadOnlyItem
	}

	e.remove(placeholder.Key)
	e.upsert(confirmed)

	if err := e.flushSecondary(ctx, confirmed.Key, d); err != nil {
		e.showError(err)
		return confirmed, err
	}
	return confirmed, nil
}

// Edit applies the full draft to an existing item.
func (e *Engine) Edit(ctx context.Context, key planner.ItemKey, d Draft) (planner.CalendarItem, error) {
	item, ok := e.item(key)
	if !ok {
		return planner.CalendarItem{}, ErrUnknownItem
	}
	if !item.Editable {
		return planner.CalendarItem{}, ErrReadOnlyItem
	}
	if err := e.validate(ctx, key.Kind, d); err != nil {
		return planner.CalendarItem{}, err
	}
	if err := e.begin(key); err != nil {
		return planner.CalendarItem{}, err
	}
	defer e.finish(key)

	snapshot := item
	optimistic := applyDraft(item, d)
	e.upsert(optimistic)

	confirmed, err := e.editFull(ctx, optimistic, d)
	if err != nil {
		e.rollback(snapshot, err)
		return planner.CalendarItem{}, err
	}
	e.upsert(*confirmed)

	// Dependent sub-resources are only flushed once the primary edit is
	// confirmed; a rolled-back edit issues no secondary requests.
	if err := e.flushSecondary(ctx, confirmed.Key, d); err != nil {
		e.showError(err)
		return *confirmed, err
	}
	return *confirmed, nil
}

func (e *Engine) editFull(ctx context.Context, item planner.CalendarItem, d Draft) (*planner.CalendarItem, error) {
	start, end := draftServerTimes(d)
	patch := planner.ItemPatch{
		Title:       &d.Title,
		Start:       &start,
		End:         &end,
		AllDay:      &d.AllDay,
		ShowEndTime: &d.ShowEndTime,
		Priority:    &d.Priority,
		Completed:   &d.Completed,
		Comments:    &d.Comments,
		Materials:   d.Materials,
	}

	switch item.Key.Kind {
	case planner.KindEvent:
		event, err := e.gw.EditEvent(ctx, item.Key.ID, patch)
		if err != nil {
			return nil, err
		}
		confirmed, err := e.norm.Event(*event)
		if err != nil {
			return nil, err
		}
		return &confirmed, nil
	case planner.KindHomework:
		patch.Course = &d.Course
		patch.Category = &d.Category
		course, group, err := e.courseByID(d.Course)
		if err != nil {
			return nil, err
		}
		hw, err := e.gw.EditHomework(ctx, group.ID, course.ID, item.Key.ID, patch)
		if err != nil {
			return nil, err
		}
		confirmed, err := e.norm.Homework(*hw, course)
		if err != nil {
			return nil, err
		}
		return &confirmed, nil
	default:
		return nil, ErrReadOnlyItem
	}
}

// Delete removes the item server-side. The item stays on the surface
// until the server confirms; the irreversible-action dialog that gates
// the call belongs to the surface, not the engine.
func (e *Engine) Delete(ctx context.Context, key planner.ItemKey) error {
	item, ok := e.item(key)
	if !ok {
		return ErrUnknownItem
	}
	if !item.Editable {
		return ErrReadOnlyItem
	}
	if err := e.begin(key); err != nil {
		return err
	}
	defer e.finish(key)

	var err error
	switch key.Kind {
	case planner.KindEvent:
		err = e.gw.DeleteEvent(ctx, key.ID)
	case planner.KindHomework:
		var course planner.Course
		var group planner.CourseGroup
		course, group, err = e.courseFor(item)
		if err == nil {
			err = e.gw.DeleteHomework(ctx, group.ID, course.ID, key.ID)
		}
	default:
		err = ErrReadOnlyItem
	}
	if err != nil {
		e.showError(err)
		return err
	}
	e.remove(key)
	return nil
}

// Clone copies the item's scalar fields into a fresh create. Attachments
// and reminders are server-assigned and stripped; the materials selection
// is reset to whatever the form currently holds.
func (e *Engine) Clone(ctx context.Context, key planner.ItemKey, materials []int64) (planner.CalendarItem, error) {
	item, ok := e.item(key)
	if !ok {
		return planner.CalendarItem{}, ErrUnknownItem
	}
	if !item.Editable {
		return planner.CalendarItem{}, ErrReadOnlyItem
	}

	return e.Create(ctx, key.Kind, Draft{
		Title:       item.Title + " (Cloned)",
		Start:       item.Start,
		End:         item.End,
		AllDay:      item.AllDay,
		ShowEndTime: item.ShowEndTime,
		Priority:    item.Priority,
		Course:      item.Course,
		Category:    item.Category,
		Completed:   item.Completed,
		Materials:   materials,
		Comments:    item.Comments,
	})
}

// flushSecondary issues the dependent sub-resource batch after a
// confirmed create or edit.
func (e *Engine) flushSecondary(ctx context.Context, key planner.ItemKey, d Draft) error {
	subject := planner.SubjectEvent
	if key.Kind == planner.KindHomework {
		subject = planner.SubjectHomework
	}

	var firstErr error
	for _, r := range d.RemindersToAdd {
		r.Subject = subject
		r.SubjectID = key.ID
		if _, err := e.gw.CreateReminder(ctx, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, id := range d.RemindersToDelete {
		if err := e.gw.DeleteReminder(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, id := range d.AttachmentsToDelete {
		if err := e.gw.DeleteAttachment(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// validate is the client-side pre-flight gate: it catches the failures
// the server would reject anyway, before a round trip is wasted. Surfaced
// inline next to the offending field, never as a banner.
func (e *Engine) validate(ctx context.Context, kind planner.ItemKind, d Draft) error {
	if strings.TrimSpace(d.Title) == "" {
		return &planner.ValidationError{Field: "title", Msg: "a title is required"}
	}
	if d.Start.IsZero() || d.End.IsZero() {
		return &planner.ValidationError{Field: "date", Msg: "start and end dates are required"}
	}
	if d.End.Before(d.Start) {
		return &planner.ValidationError{Field: "date", Msg: "the end must not be before the start"}
	}
	if kind == planner.KindHomework {
		course, _, err := e.courseByID(d.Course)
		if err != nil {
			return &planner.ValidationError{Field: "course", Msg: "a class is required"}
		}
		if len(course.Categories) > 0 && d.Category == "" {
			return &planner.ValidationError{Field: "category", Msg: "a category is required"}
		}
	}
	return nil
}

func (e *Engine) courseByID(id int64) (planner.Course, planner.CourseGroup, error) {
	return e.courseFor(planner.CalendarItem{Course: id})
}

// placeholderItem is the optimistic stand-in rendered while a create is
// in flight. Its id is negative so it can never collide with a
// server-assigned one.
func (e *Engine) placeholderItem(kind planner.ItemKind, d Draft) planner.CalendarItem {
	u := uuid.New()
	id := -int64(binary.BigEndian.Uint64(u[:8]) >> 1)
	if id == 0 {
		id = -1
	}
	item := planner.CalendarItem{
		Key:         planner.ItemKey{Kind: kind, ID: id},
		Title:       d.Title,
		Start:       d.Start,
		End:         d.End,
		AllDay:      d.AllDay,
		ShowEndTime: d.ShowEndTime,
		Editable:    true,
		Completed:   d.Completed,
		Priority:    d.Priority,
		Category:    d.Category,
		Course:      d.Course,
		Materials:   d.Materials,
		Comments:    d.Comments,
		Attachments: []planner.Attachment{},
		Reminders:   []planner.Reminder{},
	}
	if item.Materials == nil {
		item.Materials = []int64{}
	}
	return item
}

func draftServerTimes(d Draft) (time.Time, time.Time) {
	return normalize.ServerTimes(planner.CalendarItem{
		Start:  d.Start,
		End:    d.End,
		AllDay: d.AllDay,
	})
}

func applyDraft(item planner.CalendarItem, d Draft) planner.CalendarItem {
	item.Title = d.Title
	item.Start = d.Start
	item.End = d.End
	item.AllDay = d.AllDay
	item.ShowEndTime = d.ShowEndTime
	item.Priority = d.Priority
	item.Course = d.Course
	item.Category = d.Category
	item.Completed = d.Completed
	item.Comments = d.Comments
	if d.Materials != nil {
		item.Materials = d.Materials
	}
	return item
}
