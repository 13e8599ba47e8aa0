package model

import "time"

// Origin tells where a CalendarEvent was derived from.
type Origin string

const (
	OriginRemote Origin = "remote"
	OriginLocal  Origin = "local"
)

// Category is one of the fixed event classifications. It drives both the
// note section an event is written into and classification defaults.
type Category string

const (
	CategoryFocus    Category = "focus"
	CategoryMeeting  Category = "meeting"
	CategoryPersonal Category = "personal"
	CategoryRest     Category = "rest"
	CategoryAdmin    Category = "admin"
)

// AllCategories lists every category in note-section order.
var AllCategories = []Category{
	CategoryFocus,
	CategoryMeeting,
	CategoryPersonal,
	CategoryRest,
	CategoryAdmin,
}

// TaskRef points back at the task line an event was created from.
// Only set for local-origin events.
type TaskRef struct {
	Path string
	Line int
}

// CalendarEvent is a single concrete occurrence. Recurring events are
// always expanded before they reach this type; an instance is never stored
// as rule+template. Events are derived transiently on every read (from
// remote wire data or from parsed note text) and are not mutated in place.
type CalendarEvent struct {
	// ID is origin-qualified and unique per occurrence: remote events use
	// the remote item id (plus an ordinal for expanded recurrences), local
	// events derive it from the note path and line.
	ID string

	// Title has any category markers already stripped.
	Title string

	Start time.Time
	End   time.Time

	Category Category
	Origin   Origin

	// PlannedUnits is an optional pomodoro estimate carried on the event
	// (0 means "no estimate"). CompletedUnits is derived from time-tracking
	// records by the stats aggregator.
	PlannedUnits   int
	CompletedUnits int

	// Task back-links the event to its source task. Local origin only.
	Task *TaskRef

	// RemoteID is the opaque id assigned by the remote service.
	// Remote origin only.
	RemoteID string
}

// Duration returns the event length. Events with End before or equal to
// Start are invalid and rejected at decode time.
func (e CalendarEvent) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Overlaps reports strict half-open interval overlap with [start, end).
func (e CalendarEvent) Overlaps(start, end time.Time) bool {
	return start.Before(e.End) && end.After(e.Start)
}

// TaskStatus is the completion state of a parsed task.
type TaskStatus string

const (
	TaskTodo TaskStatus = "todo"
	TaskDone TaskStatus = "done"
)

// ParsedTask is a read-only input from the task-source collaborator,
// consumed for category inference and back-linking.
type ParsedTask struct {
	Title        string
	Status       TaskStatus
	Priority     int
	Due          *time.Time
	PlannedUnits int
	Tags         []string
	Path         string
	Line         int
}

// PomodoroRecord is one completed time-tracking interval parsed from a
// note's pomodoro micro-format. Consumed read-only by the stats aggregator.
type PomodoroRecord struct {
	Kind    string
	Minutes int
	Start   time.Time
	End     time.Time
}

// DayStats are per-day aggregates, always recomputed from the notes.
type DayStats struct {
	Date           time.Time
	TotalMinutes   int
	PlannedUnits   int
	CompletedUnits int
	MinutesByCat   map[Category]int
}

// WeekStats sums DayStats over 7 consecutive days.
type WeekStats struct {
	WeekStart      time.Time
	Days           []DayStats
	TotalMinutes   int
	PlannedUnits   int
	CompletedUnits int
	MinutesByCat   map[Category]int
}
