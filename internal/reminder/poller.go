// Package reminder surfaces due reminders as notifications and keeps
// polling on a fixed schedule. The poll doubles as an auth heartbeat:
// each request exercises the token refresh path, so a signed-in session
// that sits idle on the calendar never goes stale.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/studious/planner"
)

const pollSchedule = "@every 1m"

type Notification struct {
	ID         string
	Message    string
	DueAt      time.Time
	ReminderID int64
	Subject    planner.SubjectKind
	SubjectID  int64
}

// Notifier renders notifications. Implementations belong to the
// surface; the poller only decides what is visible and when.
type Notifier interface {
	Show(Notification)
	Remove(id string)
	SetCount(n int)
}

type Poller struct {
	gw       planner.Gateway
	notifier Notifier
	log      *logrus.Entry
	now      func() time.Time
	cron     *cron.Cron

	mu    sync.Mutex
	shown map[int64]string
}

func NewPoller(gw planner.Gateway, notifier Notifier, log *logrus.Entry) *Poller {
	return &Poller{
		gw:       gw,
		notifier: notifier,
		log:      log,
		now:      time.Now,
		cron:     cron.New(),
		shown:    make(map[int64]string),
	}
}

// Start polls once immediately, then once a minute until Stop.
func (p *Poller) Start(ctx context.Context) error {
	if err := p.Poll(ctx); err != nil {
		p.log.WithError(err).Debug("Initial reminder poll failed")
	}

	_, err := p.cron.AddFunc(pollSchedule, func() {
		if err := p.Poll(ctx); err != nil {
			// Transient failures are invisible; the next tick retries.
			p.log.WithError(err).Debug("Reminder poll failed")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling reminder poll: %w", err)
	}

	p.cron.Start()
	return nil
}

func (p *Poller) Stop() {
	p.cron.Stop()
}

// Poll fetches unsent reminders due now or earlier and reconciles the
// visible set against the payload. New reminders are shown once, and
// notifications whose reminder no longer comes back, because it was
// deleted or replaced by an edit, are removed.
func (p *Poller) Poll(ctx context.Context) error {
	reminders, err := p.gw.Reminders(ctx, p.now())
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	current := make(map[int64]bool, len(reminders))
	for _, r := range reminders {
		current[r.ID] = true
	}
	for id, notifID := range p.shown {
		if !current[id] {
			delete(p.shown, id)
			p.notifier.Remove(notifID)
		}
	}

	for _, r := range reminders {
		if _, ok := p.shown[r.ID]; ok {
			continue
		}
		n := Notification{
			ID:         notificationID(r),
			Message:    r.Message,
			DueAt:      r.DueAt,
			ReminderID: r.ID,
			Subject:    r.Subject,
			SubjectID:  r.SubjectID,
		}
		p.shown[r.ID] = n.ID
		p.notifier.Show(n)
	}
	p.notifier.SetCount(len(p.shown))
	return nil
}

// Dismiss marks the reminder sent server-side. The notification only
// disappears once the server confirms; a failed dismissal leaves it in
// place for the next attempt.
func (p *Poller) Dismiss(ctx context.Context, reminderID int64) error {
	_, err := p.gw.EditReminderSent(ctx, reminderID, true)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.shown[reminderID]; ok {
		delete(p.shown, reminderID)
		p.notifier.Remove(id)
	}
	p.notifier.SetCount(len(p.shown))
	return nil
}

// notificationID is stable per subject so a re-created reminder for the
// same item replaces rather than stacks.
func notificationID(r planner.Reminder) string {
	return fmt.Sprintf("%s-%d", r.Subject, r.SubjectID)
}
