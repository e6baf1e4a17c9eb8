package gateway

import (
	"fmt"
	"time"

	"github.com/studious/planner"
)

// Wire shapes for the planner API. Times travel as RFC 3339 strings and
// are parsed here so the rest of the engine only ever sees time.Time.

type eventJSON struct {
	ID          int64            `json:"id"`
	Title       string           `json:"title"`
	Start       string           `json:"start"`
	End         string           `json:"end"`
	AllDay      bool             `json:"all_day"`
	ShowEndTime bool             `json:"show_end_time"`
	Priority    int              `json:"priority"`
	Comments    string           `json:"comments"`
	Attachments []attachmentJSON `json:"attachments"`
	Reminders   []reminderJSON   `json:"reminders"`
	URL         string           `json:"url"`
}

type homeworkJSON struct {
	ID           int64            `json:"id"`
	Title        string           `json:"title"`
	Start        string           `json:"start"`
	End          string           `json:"end"`
	AllDay       bool             `json:"all_day"`
	ShowEndTime  bool             `json:"show_end_time"`
	Priority     int              `json:"priority"`
	Course       int64            `json:"course"`
	Category     string           `json:"category"`
	Completed    bool             `json:"completed"`
	CurrentGrade string           `json:"current_grade"`
	Materials    []int64          `json:"materials"`
	Comments     string           `json:"comments"`
	Attachments  []attachmentJSON `json:"attachments"`
	Reminders    []reminderJSON   `json:"reminders"`
	URL          string           `json:"url"`
}

type attachmentJSON struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Size  int64  `json:"size"`
	URL   string `json:"attachment"`
}

type reminderJSON struct {
	ID        int64  `json:"id"`
	Message   string `json:"message"`
	StartOf   string `json:"start_of_range"`
	Sent      bool   `json:"sent"`
	Homework  *int64 `json:"homework"`
	Event     *int64 `json:"event"`
}

type courseGroupJSON struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date"`
	ShownOnCalendar bool   `json:"shown_on_calendar"`
}

type courseJSON struct {
	ID          int64               `json:"id"`
	CourseGroup int64               `json:"course_group"`
	Title       string              `json:"title"`
	Color       string              `json:"color"`
	Website     string              `json:"website"`
	Categories  []categoryJSON      `json:"categories"`
	Schedule    []classScheduleJSON `json:"schedules"`
}

type categoryJSON struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Color string `json:"color"`
}

type classScheduleJSON struct {
	ID         int64  `json:"id"`
	Course     int64  `json:"course"`
	DaysOfWeek string `json:"days_of_week"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Location   string `json:"location"`
}

type externalCalendarJSON struct {
	ID              int64  `json:"id"`
	Platform        string `json:"platform"`
	Name            string `json:"title"`
	URL             string `json:"url"`
	Color           string `json:"color"`
	ShownOnCalendar bool   `json:"shown_on_calendar"`
}

type externalEventJSON struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Start  string `json:"start"`
	End    string `json:"end"`
	AllDay bool   `json:"all_day"`
	URL    string `json:"url"`
}

// parseWireTime accepts either a full RFC 3339 timestamp or a bare date.
// Bare dates carry no zone on the wire and mean midnight in the viewer's
// location, so the day survives normalization in any timezone.
func parseWireTime(field, s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.ParseInLocation(planner.DateFormat, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s %q: %w", field, s, err)
	}
	return t, nil
}

func (j eventJSON) toDomain(loc *time.Location) (planner.Event, error) {
	start, err := parseWireTime("start", j.Start, loc)
	if err != nil {
		return planner.Event{}, err
	}
	end, err := parseWireTime("end", j.End, loc)
	if err != nil {
		return planner.Event{}, err
	}
	return planner.Event{
		ID:          j.ID,
		Title:       j.Title,
		Start:       start,
		End:         end,
		AllDay:      j.AllDay,
		ShowEndTime: j.ShowEndTime,
		Priority:    j.Priority,
		Comments:    j.Comments,
		Attachments: attachmentsToDomain(j.Attachments),
		Reminders:   remindersToDomain(j.Reminders, loc),
		URL:         j.URL,
	}, nil
}

func (j homeworkJSON) toDomain(loc *time.Location) (planner.Homework, error) {
	start, err := parseWireTime("start", j.Start, loc)
	if err != nil {
		return planner.Homework{}, err
	}
	end, err := parseWireTime("end", j.End, loc)
	if err != nil {
		return planner.Homework{}, err
	}
	return planner.Homework{
		ID:           j.ID,
		Title:        j.Title,
		Start:        start,
		End:          end,
		AllDay:       j.AllDay,
		ShowEndTime:  j.ShowEndTime,
		Priority:     j.Priority,
		Course:       j.Course,
		Category:     j.Category,
		Completed:    j.Completed,
		CurrentGrade: j.CurrentGrade,
		Materials:    j.Materials,
		Comments:     j.Comments,
		Attachments:  attachmentsToDomain(j.Attachments),
		Reminders:    remindersToDomain(j.Reminders, loc),
		URL:          j.URL,
	}, nil
}

func attachmentsToDomain(in []attachmentJSON) []planner.Attachment {
	out := make([]planner.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, planner.Attachment{
			ID:    a.ID,
			Title: a.Title,
			Size:  a.Size,
			URL:   a.URL,
		})
	}
	return out
}

func remindersToDomain(in []reminderJSON, loc *time.Location) []planner.Reminder {
	out := make([]planner.Reminder, 0, len(in))
	for _, r := range in {
		rem, err := r.toDomain(loc)
		if err != nil {
			continue
		}
		out = append(out, rem)
	}
	return out
}

func (j reminderJSON) toDomain(loc *time.Location) (planner.Reminder, error) {
	due, err := parseWireTime("start_of_range", j.StartOf, loc)
	if err != nil {
		return planner.Reminder{}, err
	}
	rem := planner.Reminder{
		ID:      j.ID,
		Message: j.Message,
		DueAt:   due,
		Sent:    j.Sent,
		Subject: planner.SubjectSystem,
	}
	switch {
	case j.Homework != nil:
		rem.Subject = planner.SubjectHomework
		rem.SubjectID = *j.Homework
	case j.Event != nil:
		rem.Subject = planner.SubjectEvent
		rem.SubjectID = *j.Event
	}
	return rem, nil
}

func (j courseGroupJSON) toDomain(loc *time.Location) (planner.CourseGroup, error) {
	start, err := parseWireTime("start_date", j.StartDate, loc)
	if err != nil {
		return planner.CourseGroup{}, err
	}
	end, err := parseWireTime("end_date", j.EndDate, loc)
	if err != nil {
		return planner.CourseGroup{}, err
	}
	return planner.CourseGroup{
		ID:              j.ID,
		Title:           j.Title,
		StartDate:       start,
		EndDate:         end,
		ShownOnCalendar: j.ShownOnCalendar,
	}, nil
}

func (j courseJSON) toDomain() planner.Course {
	course := planner.Course{
		ID:          j.ID,
		CourseGroup: j.CourseGroup,
		Title:       j.Title,
		Color:       j.Color,
		Website:     j.Website,
	}
	for _, c := range j.Categories {
		course.Categories = append(course.Categories, planner.Category{
			ID:    c.ID,
			Title: c.Title,
			Color: c.Color,
		})
	}
	for _, s := range j.Schedule {
		course.Schedule = append(course.Schedule, planner.ClassSchedule{
			ID:         s.ID,
			Course:     s.Course,
			DaysOfWeek: s.DaysOfWeek,
			StartTime:  s.StartTime,
			EndTime:    s.EndTime,
			Location:   s.Location,
		})
	}
	return course
}

func (j externalCalendarJSON) toDomain() planner.ExternalCalendar {
	return planner.ExternalCalendar{
		ID:              j.ID,
		Platform:        j.Platform,
		Name:            j.Name,
		URL:             j.URL,
		Color:           j.Color,
		ShownOnCalendar: j.ShownOnCalendar,
	}
}

func (j externalEventJSON) toDomain(calendarID int64, loc *time.Location) (planner.ExternalEvent, error) {
	start, err := parseWireTime("start", j.Start, loc)
	if err != nil {
		return planner.ExternalEvent{}, err
	}
	end, err := parseWireTime("end", j.End, loc)
	if err != nil {
		return planner.ExternalEvent{}, err
	}
	return planner.ExternalEvent{
		ID:       j.ID,
		Calendar: calendarID,
		Title:    j.Title,
		Start:    start,
		End:      end,
		AllDay:   j.AllDay,
		URL:      j.URL,
	}, nil
}

func eventPayload(ev planner.Event) map[string]any {
	return map[string]any{
		"title":         ev.Title,
		"start":         ev.Start.Format(time.RFC3339),
		"end":           ev.End.Format(time.RFC3339),
		"all_day":       ev.AllDay,
		"show_end_time": ev.ShowEndTime,
		"priority":      ev.Priority,
		"comments":      ev.Comments,
	}
}

func homeworkPayload(hw planner.Homework) map[string]any {
	materials := hw.Materials
	if materials == nil {
		materials = []int64{}
	}
	return map[string]any{
		"title":         hw.Title,
		"start":         hw.Start.Format(time.RFC3339),
		"end":           hw.End.Format(time.RFC3339),
		"all_day":       hw.AllDay,
		"show_end_time": hw.ShowEndTime,
		"priority":      hw.Priority,
		"course":        hw.Course,
		"category":      hw.Category,
		"completed":     hw.Completed,
		"materials":     materials,
		"comments":      hw.Comments,
	}
}

func patchPayload(patch planner.ItemPatch) map[string]any {
	payload := map[string]any{}
	if patch.Title != nil {
		payload["title"] = *patch.Title
	}
	if patch.Start != nil {
		payload["start"] = patch.Start.Format(time.RFC3339)
	}
	if patch.End != nil {
		payload["end"] = patch.End.Format(time.RFC3339)
	}
	if patch.AllDay != nil {
		payload["all_day"] = *patch.AllDay
	}
	if patch.ShowEndTime != nil {
		payload["show_end_time"] = *patch.ShowEndTime
	}
	if patch.Priority != nil {
		payload["priority"] = *patch.Priority
	}
	if patch.Course != nil {
		payload["course"] = *patch.Course
	}
	if patch.Category != nil {
		payload["category"] = *patch.Category
	}
	if patch.Completed != nil {
		payload["completed"] = *patch.Completed
	}
	if patch.CurrentGrade != nil {
		payload["current_grade"] = *patch.CurrentGrade
	}
	if patch.Materials != nil {
		payload["materials"] = patch.Materials
	}
	if patch.Comments != nil {
		payload["comments"] = *patch.Comments
	}
	return payload
}

func reminderPayload(r planner.Reminder) map[string]any {
	payload := map[string]any{
		"message":        r.Message,
		"start_of_range": r.DueAt.Format(time.RFC3339),
		"sent":           r.Sent,
	}
	switch r.Subject {
	case planner.SubjectHomework:
		payload["homework"] = r.SubjectID
	case planner.SubjectEvent:
		payload["event"] = r.SubjectID
	}
	return payload
}
