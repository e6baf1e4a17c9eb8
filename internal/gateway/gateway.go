// Package gateway is the HTTP client for the remote planner API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/studious/planner"
	"github.com/studious/planner/internal/schedule"
)

const (
	eventsEndpoint            = "/planner/events/"
	homeworkEndpoint          = "/planner/homework/"
	courseGroupsEndpoint      = "/planner/coursegroups/"
	remindersEndpoint         = "/planner/reminders/"
	attachmentsEndpoint       = "/planner/attachments/"
	externalCalendarsEndpoint = "/feed/externalcalendars/"
)

type Client struct {
	log     *logrus.Entry
	baseURL string
	loc     *time.Location

	// HTTPClient can be swapped for tests.
	HTTPClient *http.Client
}

// New returns a client authenticating every request with the given
// bearer token.
func New(baseURL, token string, loc *time.Location, log *logrus.Entry) *Client {
	if log == nil {
		logger := logrus.New()
		logger.SetOutput(io.Discard)
		log = logrus.NewEntry(logger)
	}
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &Client{
		log:        log,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		loc:        loc,
		HTTPClient: oauth2.NewClient(context.Background(), source),
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	c.log.WithFields(logrus.Fields{"method": method, "path": path}).Debug("planner api request")

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("creating http request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// decodeError maps the API's error shape, a one-element collection of
// records with an err_msg field, onto an error whose message can be
// shown verbatim. Anything else decodes to an opaque error.
func decodeError(status int, body []byte) error {
	var records []struct {
		ErrMsg string `json:"err_msg"`
	}
	if err := json.Unmarshal(body, &records); err == nil && len(records) > 0 && records[0].ErrMsg != "" {
		return &planner.APIError{ErrMsg: records[0].ErrMsg, Raw: string(body)}
	}

	var record struct {
		ErrMsg string `json:"err_msg"`
	}
	if err := json.Unmarshal(body, &record); err == nil && record.ErrMsg != "" {
		return &planner.APIError{ErrMsg: record.ErrMsg, Raw: string(body)}
	}
	return fmt.Errorf("unexpected status %d: %s", status, body)
}

func windowQuery(w planner.Window, search string) url.Values {
	query := url.Values{}
	if !w.IsZero() {
		query.Set("start__gte", w.Start.Format(time.RFC3339))
		query.Set("end__lt", w.End.Format(time.RFC3339))
	}
	if search != "" {
		query.Set("search", search)
	}
	return query
}

func (c *Client) Events(ctx context.Context, w planner.Window, search string) ([]planner.Event, error) {
	var wire []eventJSON
	if err := c.do(ctx, http.MethodGet, eventsEndpoint, windowQuery(w, search), nil, &wire); err != nil {
		return nil, err
	}

	events := make([]planner.Event, 0, len(wire))
	for _, j := range wire {
		event, err := j.toDomain(c.location())
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (c *Client) Homework(ctx context.Context, q planner.HomeworkQuery) ([]planner.Homework, error) {
	query := windowQuery(q.Window, q.Search)
	query.Set("shown_on_calendar", "true")
	if len(q.Courses) > 0 {
		ids := make([]string, 0, len(q.Courses))
		for _, id := range q.Courses {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		query.Set("course__id__in", strings.Join(ids, ","))
	}
	if len(q.Categories) > 0 {
		query.Set("category__title__in", strings.Join(q.Categories, ","))
	}
	if q.Completion != planner.CompletionAny {
		query.Set("completed", string(q.Completion))
	}
	if q.Overdue {
		query.Set("overdue", "true")
	}

	var wire []homeworkJSON
	if err := c.do(ctx, http.MethodGet, homeworkEndpoint, query, nil, &wire); err != nil {
		return nil, err
	}

	homework := make([]planner.Homework, 0, len(wire))
	for _, j := range wire {
		hw, err := j.toDomain(c.location())
		if err != nil {
			return nil, err
		}
		homework = append(homework, hw)
	}
	return homework, nil
}

// ClassOccurrences expands a course's weekly schedule over its group's
// term. The API stores schedules, not occurrences, so expansion happens
// client-side.
func (c *Client) ClassOccurrences(ctx context.Context, courseGroupID, courseID int64, search string) ([]planner.ClassOccurrence, error) {
	group, err := c.courseGroup(ctx, courseGroupID)
	if err != nil {
		return nil, err
	}
	course, err := c.course(ctx, courseGroupID, courseID)
	if err != nil {
		return nil, err
	}

	term := planner.NewWindow(group.StartDate, group.EndDate.AddDate(0, 0, 1))
	return schedule.Occurrences(course, group, term, search, c.location())
}

func (c *Client) ExternalEvents(ctx context.Context, calendarID int64, w planner.Window, search string) ([]planner.ExternalEvent, error) {
	path := fmt.Sprintf("%s%d/events/", externalCalendarsEndpoint, calendarID)

	var wire []externalEventJSON
	if err := c.do(ctx, http.MethodGet, path, windowQuery(w, search), nil, &wire); err != nil {
		return nil, err
	}

	events := make([]planner.ExternalEvent, 0, len(wire))
	for _, j := range wire {
		event, err := j.toDomain(calendarID, c.location())
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (c *Client) CourseGroups(ctx context.Context) ([]planner.CourseGroup, error) {
	var wire []courseGroupJSON
	if err := c.do(ctx, http.MethodGet, courseGroupsEndpoint, nil, nil, &wire); err != nil {
		return nil, err
	}

	groups := make([]planner.CourseGroup, 0, len(wire))
	for _, j := range wire {
		group, err := j.toDomain(c.location())
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (c *Client) Courses(ctx context.Context) ([]planner.Course, error) {
	groups, err := c.CourseGroups(ctx)
	if err != nil {
		return nil, err
	}

	var courses []planner.Course
	for _, group := range groups {
		path := fmt.Sprintf("%s%d/courses/", courseGroupsEndpoint, group.ID)

		var wire []courseJSON
		if err := c.do(ctx, http.MethodGet, path, nil, nil, &wire); err != nil {
			return nil, err
		}
		for _, j := range wire {
			courses = append(courses, j.toDomain())
		}
	}
	return courses, nil
}

func (c *Client) ExternalCalendars(ctx context.Context) ([]planner.ExternalCalendar, error) {
	var wire []externalCalendarJSON
	if err := c.do(ctx, http.MethodGet, externalCalendarsEndpoint, nil, nil, &wire); err != nil {
		return nil, err
	}

	calendars := make([]planner.ExternalCalendar, 0, len(wire))
	for _, j := range wire {
		calendars = append(calendars, j.toDomain())
	}
	return calendars, nil
}

func (c *Client) CreateEvent(ctx context.Context, ev planner.Event) (*planner.Event, error) {
	var wire eventJSON
	if err := c.do(ctx, http.MethodPost, eventsEndpoint, nil, eventPayload(ev), &wire); err != nil {
		return nil, err
	}
	created, err := wire.toDomain(c.location())
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) EditEvent(ctx context.Context, id int64, patch planner.ItemPatch) (*planner.Event, error) {
	path := fmt.Sprintf("%s%d/", eventsEndpoint, id)

	var wire eventJSON
	if err := c.do(ctx, http.MethodPut, path, nil, patchPayload(patch), &wire); err != nil {
		return nil, err
	}
	edited, err := wire.toDomain(c.location())
	if err != nil {
		return nil, err
	}
	return &edited, nil
}

func (c *Client) DeleteEvent(ctx context.Context, id int64) error {
	path := fmt.Sprintf("%s%d/", eventsEndpoint, id)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) CreateHomework(ctx context.Context, courseGroupID, courseID int64, hw planner.Homework) (*planner.Homework, error) {
	path := fmt.Sprintf("%s%d/courses/%d/homework/", courseGroupsEndpoint, courseGroupID, courseID)

	var wire homeworkJSON
	if err := c.do(ctx, http.MethodPost, path, nil, homeworkPayload(hw), &wire); err != nil {
		return nil, err
	}
	created, err := wire.toDomain(c.location())
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) EditHomework(ctx context.Context, courseGroupID, courseID, id int64, patch planner.ItemPatch) (*planner.Homework, error) {
	path := fmt.Sprintf("%s%d/courses/%d/homework/%d/", courseGroupsEndpoint, courseGroupID, courseID, id)

	var wire homeworkJSON
	if err := c.do(ctx, http.MethodPut, path, nil, patchPayload(patch), &wire); err != nil {
		return nil, err
	}
	edited, err := wire.toDomain(c.location())
	if err != nil {
		return nil, err
	}
	return &edited, nil
}

func (c *Client) DeleteHomework(ctx context.Context, courseGroupID, courseID, id int64) error {
	path := fmt.Sprintf("%s%d/courses/%d/homework/%d/", courseGroupsEndpoint, courseGroupID, courseID, id)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) Reminders(ctx context.Context, dueBefore time.Time) ([]planner.Reminder, error) {
	query := url.Values{}
	query.Set("sent", "false")
	query.Set("type", "0")
	query.Set("start_of_range__lte", dueBefore.Format(time.RFC3339))

	var wire []reminderJSON
	if err := c.do(ctx, http.MethodGet, remindersEndpoint, query, nil, &wire); err != nil {
		return nil, err
	}

	reminders := make([]planner.Reminder, 0, len(wire))
	for _, j := range wire {
		reminder, err := j.toDomain(c.location())
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, reminder)
	}
	return reminders, nil
}

func (c *Client) CreateReminder(ctx context.Context, r planner.Reminder) (*planner.Reminder, error) {
	var wire reminderJSON
	if err := c.do(ctx, http.MethodPost, remindersEndpoint, nil, reminderPayload(r), &wire); err != nil {
		return nil, err
	}
	created, err := wire.toDomain(c.location())
	if err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) EditReminderSent(ctx context.Context, id int64, sent bool) (*planner.Reminder, error) {
	path := fmt.Sprintf("%s%d/", remindersEndpoint, id)

	var wire reminderJSON
	if err := c.do(ctx, http.MethodPut, path, nil, map[string]any{"sent": sent}, &wire); err != nil {
		return nil, err
	}
	edited, err := wire.toDomain(c.location())
	if err != nil {
		return nil, err
	}
	return &edited, nil
}

func (c *Client) DeleteReminder(ctx context.Context, id int64) error {
	path := fmt.Sprintf("%s%d/", remindersEndpoint, id)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) DeleteAttachment(ctx context.Context, id int64) error {
	path := fmt.Sprintf("%s%d/", attachmentsEndpoint, id)
	return c.do(ctx, http.MethodDelete, path, nil, nil, nil)
}

func (c *Client) courseGroup(ctx context.Context, id int64) (planner.CourseGroup, error) {
	path := fmt.Sprintf("%s%d/", courseGroupsEndpoint, id)

	var wire courseGroupJSON
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &wire); err != nil {
		return planner.CourseGroup{}, err
	}
	return wire.toDomain(c.location())
}

func (c *Client) course(ctx context.Context, courseGroupID, id int64) (planner.Course, error) {
	path := fmt.Sprintf("%s%d/courses/%d/", courseGroupsEndpoint, courseGroupID, id)

	var wire courseJSON
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &wire); err != nil {
		return planner.Course{}, err
	}
	return wire.toDomain(), nil
}

func (c *Client) location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}
