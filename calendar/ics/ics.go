// Package ics reads external events from a published ICS feed.
package ics

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/sirupsen/logrus"
	"github.com/teambition/rrule-go"

	"github.com/studious/planner"
)

const Platform = "ics"

type Source struct {
	log *logrus.Entry

	// HTTPClient can be swapped for tests.
	HTTPClient *http.Client
}

func NewSource(log *logrus.Entry) *Source {
	return &Source{
		log:        log,
		HTTPClient: http.DefaultClient,
	}
}

// ExternalEvents downloads the calendar's feed and returns every
// occurrence inside the window, recurrences expanded. Feed entries are
// read-only on the calendar surface.
func (s *Source) ExternalEvents(ctx context.Context, cal planner.ExternalCalendar, w planner.Window, search string) ([]planner.ExternalEvent, error) {
	body, err := s.fetch(ctx, cal.URL)
	if err != nil {
		return nil, err
	}

	parsed, err := ical.ParseCalendar(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parsing ics feed: %w", err)
	}

	var events []planner.ExternalEvent
	for _, ve := range parsed.Events() {
		occurrences, err := s.expand(cal, ve, w)
		if err != nil {
			s.log.WithError(err).WithField("calendar", cal.Name).Warn("Skipping unparsable feed entry")
			continue
		}
		events = append(events, occurrences...)
	}

	if search != "" {
		events = filterBySearch(events, search)
	}
	return events, nil
}

func (s *Source) fetch(ctx context.Context, feedURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating http request: %w", err)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching ics feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching ics feed: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *Source) expand(cal planner.ExternalCalendar, ve *ical.VEvent, w planner.Window) ([]planner.ExternalEvent, error) {
	uid := ""
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		uid = p.Value
	}
	title := ""
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		title = p.Value
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return nil, fmt.Errorf("event %q has no usable start: %w", uid, err)
	}
	end, err := ve.GetEndAt()
	if err != nil || !end.After(start) {
		end = start
	}
	allDay := isAllDay(ve)

	eventURL := ""
	if p := ve.GetProperty(ical.ComponentPropertyUrl); p != nil {
		eventURL = p.Value
	}

	rawRule := ""
	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		rawRule = p.Value
	}

	if rawRule == "" {
		if !overlaps(start, end, w) {
			return nil, nil
		}
		return []planner.ExternalEvent{makeEvent(cal, uid, title, start, end, allDay, eventURL)}, nil
	}

	rule, err := rrule.StrToRRule(rawRule)
	if err != nil {
		return nil, fmt.Errorf("event %q has bad recurrence rule: %w", uid, err)
	}
	rule.DTStart(start)

	duration := end.Sub(start)
	var events []planner.ExternalEvent
	for _, occStart := range rule.Between(w.Start.In(start.Location()), w.End.In(start.Location()), true) {
		if !occStart.Before(w.End) {
			continue
		}
		events = append(events, makeEvent(cal, uid, title, occStart, occStart.Add(duration), allDay, eventURL))
	}
	return events, nil
}

func makeEvent(cal planner.ExternalCalendar, uid, title string, start, end time.Time, allDay bool, url string) planner.ExternalEvent {
	return planner.ExternalEvent{
		ID:       syntheticID(uid, start),
		Calendar: cal.ID,
		Title:    title,
		Start:    start,
		End:      end,
		AllDay:   allDay,
		URL:      url,
	}
}

func isAllDay(ve *ical.VEvent) bool {
	p := ve.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return false
	}
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func overlaps(start, end time.Time, w planner.Window) bool {
	return start.Before(w.End) && !end.Before(w.Start)
}

func filterBySearch(events []planner.ExternalEvent, search string) []planner.ExternalEvent {
	needle := strings.ToLower(search)
	out := events[:0]
	for _, ev := range events {
		if strings.Contains(strings.ToLower(ev.Title), needle) {
			out = append(out, ev)
		}
	}
	return out
}

// syntheticID derives a stable id per occurrence; feeds assign no
// numeric ids of their own.
func syntheticID(uid string, start time.Time) int64 {
	h := fnv.New64a()
	io.WriteString(h, uid)
	io.WriteString(h, start.UTC().Format(time.RFC3339))
	return int64(h.Sum64() >> 1)
}
