package planner

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type ItemKind string

func (k ItemKind) String() string {
	return string(k)
}

var (
	KindEvent           ItemKind = "event"
	KindHomework        ItemKind = "homework"
	KindClassOccurrence ItemKind = "class"
	KindExternalEvent   ItemKind = "external"
)

// ItemKey identifies a calendar item across all source kinds. Numeric ids
// are only unique within a kind, so the kind tag is part of the key.
type ItemKey struct {
	Kind ItemKind
	ID   int64
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s/%d", k.Kind, k.ID)
}

// CalendarItem is the unified in-memory representation of anything that can
// appear on the timeline. It is rebuilt on every aggregation pass. Every
// field is populated by the normalizer, so consumers never check presence.
//
// For all-day items End is exclusive: one day past the last visible day.
type CalendarItem struct {
	Key         ItemKey
	Title       string
	Start       time.Time
	End         time.Time
	AllDay      bool
	ShowEndTime bool
	Editable    bool

	Completed    bool
	Priority     int
	Category     string
	Course       int64
	CurrentGrade string
	Materials    []int64
	Comments     string
	Attachments  []Attachment
	Reminders    []Reminder

	Color string
	URL   string
}

type Attachment struct {
	ID    int64
	Title string
	Size  int64
	URL   string
}

type SubjectKind string

var (
	SubjectSystem   SubjectKind = "system"
	SubjectHomework SubjectKind = "homework"
	SubjectEvent    SubjectKind = "event"
)

type Reminder struct {
	ID        int64
	Message   string
	DueAt     time.Time
	Sent      bool
	Subject   SubjectKind
	SubjectID int64
}

type CompletionFilter string

var (
	CompletionAny        CompletionFilter = ""
	CompletionComplete   CompletionFilter = "true"
	CompletionIncomplete CompletionFilter = "false"
)

// FilterState holds the multi-dimensional calendar filters. The zero-ish
// default (everything shown, nothing selected) is persisted as absence of
// keys rather than present-and-empty, which distinguishes "never filtered"
// from "explicitly cleared".
type FilterState struct {
	ShowHomework      bool
	ShowEvents        bool
	ShowClassSchedule bool
	ShowExternal      bool

	SelectedCourses    map[int64]bool
	SelectedCategories map[string]bool
	Completion         CompletionFilter
	OverdueOnly        bool

	// Search is session-only and never persisted.
	Search string
}

func DefaultFilterState() FilterState {
	return FilterState{
		ShowHomework:       true,
		ShowEvents:         true,
		ShowClassSchedule:  true,
		ShowExternal:       true,
		SelectedCourses:    map[int64]bool{},
		SelectedCategories: map[string]bool{},
		Completion:         CompletionAny,
	}
}

func (f FilterState) IsDefault() bool {
	return f.ShowHomework && f.ShowEvents && f.ShowClassSchedule && f.ShowExternal &&
		len(f.SelectedCourses) == 0 && len(f.SelectedCategories) == 0 &&
		f.Completion == CompletionAny && !f.OverdueOnly
}

// Raw source records, as the gateway returns them. The normalizer converts
// these into CalendarItems.

type Event struct {
	ID          int64
	Title       string
	Start       time.Time
	End         time.Time
	AllDay      bool
	ShowEndTime bool
	Priority    int
	Comments    string
	Attachments []Attachment
	Reminders   []Reminder
	URL         string
}

type Homework struct {
	ID           int64
	Title        string
	Start        time.Time
	End          time.Time
	AllDay       bool
	ShowEndTime  bool
	Priority     int
	Course       int64
	Category     string
	Completed    bool
	CurrentGrade string
	Materials    []int64
	Comments     string
	Attachments  []Attachment
	Reminders    []Reminder
	URL          string
}

type ClassOccurrence struct {
	ID       int64
	Course   int64
	Title    string
	Start    time.Time
	End      time.Time
	AllDay   bool
	Location string
	URL      string
}

type ExternalEvent struct {
	ID       int64
	Calendar int64
	Title    string
	Start    time.Time
	End      time.Time
	AllDay   bool
	URL      string
}

type CourseGroup struct {
	ID              int64
	Title           string
	StartDate       time.Time
	EndDate         time.Time
	ShownOnCalendar bool
}

type Course struct {
	ID          int64
	CourseGroup int64
	Title       string
	Color       string
	Website     string
	Categories  []Category
	Schedule    []ClassSchedule
}

type Category struct {
	ID    int64
	Title string
	Color string
}

// ClassSchedule is the weekly meeting pattern for a course: which days it
// meets and at what clock times, within the owning course group's term.
// DaysOfWeek is seven characters, Sunday first, "1" meaning the course
// meets that day (e.g. "0101010" for Mon/Wed/Fri).
type ClassSchedule struct {
	ID         int64
	Course     int64
	DaysOfWeek string
	StartTime  string
	EndTime    string
	Location   string
}

type ExternalCalendar struct {
	ID              int64
	Platform        string
	Name            string
	URL             string
	Color           string
	ShownOnCalendar bool
}

// HomeworkQuery carries the server-side filter terms for a homework list
// fetch. Only homework supports the full filter set; the other kinds take
// at most a window and a search string.
type HomeworkQuery struct {
	Window     Window
	Courses    []int64
	Categories []string
	Completion CompletionFilter
	Overdue    bool
	Search     string
}

// ItemPatch is a partial update for an event or homework. Nil fields are
// left untouched by the server.
type ItemPatch struct {
	Title        *string
	Start        *time.Time
	End          *time.Time
	AllDay       *bool
	ShowEndTime  *bool
	Priority     *int
	Course       *int64
	Category     *string
	Completed    *bool
	CurrentGrade *string
	Materials    []int64
	Comments     *string
}

// Gateway is the remote planner API as consumed by the engine. Mutating
// calls return the authoritative server representation, which always
// overwrites optimistic local state.
type Gateway interface {
	Events(_ context.Context, _ Window, search string) ([]Event, error)
	Homework(context.Context, HomeworkQuery) ([]Homework, error)
	ClassOccurrences(_ context.Context, courseGroupID, courseID int64, search string) ([]ClassOccurrence, error)
	ExternalEvents(_ context.Context, calendarID int64, _ Window, search string) ([]ExternalEvent, error)

	CourseGroups(context.Context) ([]CourseGroup, error)
	Courses(context.Context) ([]Course, error)
	ExternalCalendars(context.Context) ([]ExternalCalendar, error)

	CreateEvent(context.Context, Event) (*Event, error)
	EditEvent(_ context.Context, id int64, _ ItemPatch) (*Event, error)
	DeleteEvent(_ context.Context, id int64) error

	CreateHomework(_ context.Context, courseGroupID, courseID int64, _ Homework) (*Homework, error)
	EditHomework(_ context.Context, courseGroupID, courseID, id int64, _ ItemPatch) (*Homework, error)
	DeleteHomework(_ context.Context, courseGroupID, courseID, id int64) error

	Reminders(_ context.Context, dueBefore time.Time) ([]Reminder, error)
	CreateReminder(context.Context, Reminder) (*Reminder, error)
	EditReminderSent(_ context.Context, id int64, sent bool) (*Reminder, error)
	DeleteReminder(_ context.Context, id int64) error

	DeleteAttachment(_ context.Context, id int64) error
}

// ExternalSource lists events from a subscribed calendar resolved outside
// the planner API (an ICS feed, a Google calendar). Sources are read-only.
type ExternalSource interface {
	ExternalEvents(_ context.Context, _ ExternalCalendar, _ Window, search string) ([]ExternalEvent, error)
}

// StateStore is the durable client-side key/value state, the equivalent of
// the browser's local storage. Absent keys report ok=false, not an error.
type StateStore interface {
	Get(_ context.Context, key string) (value string, ok bool, _ error)
	Set(_ context.Context, key, value string) error
	Delete(_ context.Context, key string) error
}

// APIError is the uniform error record every gateway call can produce. On
// the wire it is a one-element collection whose sole element carries an
// err_msg field; that exact shape is the compatibility contract with the
// legacy surface this engine coexists with.
type APIError struct {
	ErrMsg string
	Raw    string
}

func (e *APIError) Error() string {
	return e.ErrMsg
}

// ValidationError is a client-side pre-flight failure. It never reaches
// the network and is surfaced inline next to the offending field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Msg
}

var ErrMutationPending = errors.New("planner: a mutation is already in flight for this item")

const genericErrorMessage = "Oops, an unknown error has occurred. If the problem persists, contact support."

// ErrorMessage returns the server's message verbatim when the error carries
// one, otherwise a generic fallback suitable for the user.
func ErrorMessage(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.ErrMsg != "" {
		return apiErr.ErrMsg
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Error()
	}
	return genericErrorMessage
}
