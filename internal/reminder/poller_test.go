package reminder_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studious/planner"
	"github.com/studious/planner/internal/plannertest"
	"github.com/studious/planner/internal/reminder"
)

type fakeNotifier struct {
	mu       sync.Mutex
	shown    []reminder.Notification
	removed  []string
	count    int
	countSet bool
}

func (n *fakeNotifier) Show(notification reminder.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = append(n.shown, notification)
}

func (n *fakeNotifier) Remove(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removed = append(n.removed, id)
}

func (n *fakeNotifier) SetCount(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.count = count
	n.countSet = true
}

func dueReminders(reminders ...planner.Reminder) func(context.Context, time.Time) ([]planner.Reminder, error) {
	return func(context.Context, time.Time) ([]planner.Reminder, error) {
		return reminders, nil
	}
}

func TestPollShowsDueRemindersOnce(t *testing.T) {
	t.Parallel()

	due := planner.Reminder{
		ID:        9,
		Message:   "Get ready",
		DueAt:     time.Date(2024, 3, 5, 8, 45, 0, 0, time.UTC),
		Subject:   planner.SubjectHomework,
		SubjectID: 2,
	}
	gw := &plannertest.Gateway{RemindersFn: dueReminders(due)}
	notifier := &fakeNotifier{}
	p := reminder.NewPoller(gw, notifier, nil)

	require.NoError(t, p.Poll(context.Background()))
	require.NoError(t, p.Poll(context.Background()))

	require.Len(t, notifier.shown, 1)
	assert.Equal(t, "homework-2", notifier.shown[0].ID)
	assert.Equal(t, "Get ready", notifier.shown[0].Message)
	assert.Equal(t, 1, notifier.count)
}

func TestPollErrorLeavesNotificationsAlone(t *testing.T) {
	t.Parallel()

	gw := &plannertest.Gateway{
		RemindersFn: func(context.Context, time.Time) ([]planner.Reminder, error) {
			return nil, &planner.APIError{ErrMsg: "down"}
		},
	}
	notifier := &fakeNotifier{}
	p := reminder.NewPoller(gw, notifier, nil)

	require.Error(t, p.Poll(context.Background()))
	assert.Empty(t, notifier.shown)
	assert.False(t, notifier.countSet)
}

func TestDismissRemovesAfterServerConfirms(t *testing.T) {
	t.Parallel()

	due := planner.Reminder{ID: 9, Subject: planner.SubjectEvent, SubjectID: 6}
	gw := &plannertest.Gateway{RemindersFn: dueReminders(due)}
	notifier := &fakeNotifier{}
	p := reminder.NewPoller(gw, notifier, nil)

	require.NoError(t, p.Poll(context.Background()))
	require.NoError(t, p.Dismiss(context.Background(), 9))

	assert.Equal(t, []string{"event-6"}, notifier.removed)
	assert.Equal(t, 0, notifier.count)
	assert.Equal(t, 1, gw.Calls("EditReminderSent"))
}

func TestFailedDismissKeepsNotification(t *testing.T) {
	t.Parallel()

	due := planner.Reminder{ID: 9, Subject: planner.SubjectEvent, SubjectID: 6}
	gw := &plannertest.Gateway{
		RemindersFn: dueReminders(due),
		EditReminderSentFn: func(context.Context, int64, bool) (*planner.Reminder, error) {
			return nil, &planner.APIError{ErrMsg: "nope"}
		},
	}
	notifier := &fakeNotifier{}
	p := reminder.NewPoller(gw, notifier, nil)

	require.NoError(t, p.Poll(context.Background()))
	require.Error(t, p.Dismiss(context.Background(), 9))

	assert.Empty(t, notifier.removed)
	assert.Equal(t, 1, notifier.count)
}

func TestPollRemovesRemindersGoneFromPayload(t *testing.T) {
	t.Parallel()

	due := planner.Reminder{ID: 9, Subject: planner.SubjectHomework, SubjectID: 2}
	payload := []planner.Reminder{due}
	gw := &plannertest.Gateway{
		RemindersFn: func(context.Context, time.Time) ([]planner.Reminder, error) {
			return payload, nil
		},
	}
	notifier := &fakeNotifier{}
	p := reminder.NewPoller(gw, notifier, nil)

	require.NoError(t, p.Poll(context.Background()))
	require.Len(t, notifier.shown, 1)
	require.Equal(t, 1, notifier.count)

	// The reminder was deleted or replaced server-side, so it stops
	// appearing in the payload without ever being dismissed here.
	payload = nil
	require.NoError(t, p.Poll(context.Background()))

	assert.Equal(t, []string{"homework-2"}, notifier.removed)
	assert.Equal(t, 0, notifier.count)
}

func TestDismissedReminderCanReturnIfServerResendsIt(t *testing.T) {
	t.Parallel()

	due := planner.Reminder{ID: 9, Subject: planner.SubjectEvent, SubjectID: 6}
	gw := &plannertest.Gateway{RemindersFn: dueReminders(due)}
	notifier := &fakeNotifier{}
	p := reminder.NewPoller(gw, notifier, nil)

	require.NoError(t, p.Poll(context.Background()))
	require.NoError(t, p.Dismiss(context.Background(), 9))
	require.NoError(t, p.Poll(context.Background()))

	assert.Len(t, notifier.shown, 2)
}
