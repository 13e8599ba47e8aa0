// Package note owns the structured note document: its line grammar, the
// selective idempotent merge of remote events into category sections, and
// the single-event edit operations.
package note

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"calnote/internal/model"
)

// Section headings. The vocabulary is fixed and maps 1:1 to categories.
var headingByCategory = map[model.Category]string{
	model.CategoryFocus:    "## Focus",
	model.CategoryMeeting:  "## Meetings",
	model.CategoryPersonal: "## Personal",
	model.CategoryRest:     "## Rest",
	model.CategoryAdmin:    "## Admin",
}

var categoryByHeading = func() map[string]model.Category {
	m := make(map[string]model.Category, len(headingByCategory))
	for cat, h := range headingByCategory {
		m[h] = cat
	}
	return m
}()

// isHeading reports whether the line is any markdown heading. Any heading
// terminates the current section, recognized or not.
func isHeading(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "#")
}

// headingCategory returns the category a recognized section heading maps
// to.
func headingCategory(line string) (model.Category, bool) {
	cat, ok := categoryByHeading[strings.TrimRight(line, " \t")]
	return cat, ok
}

// EventLine is one parsed event line of the micro-format
//
//	- <title> [startTime:: HH:MM] [endTime:: HH:MM]
//
// with optional trailing [taskPath:: p] [taskLine:: n] back-link fields
// and an optional [pomo:: N] planned-unit annotation.
type EventLine struct {
	Title    string
	Start    string // HH:MM
	End      string // HH:MM
	TaskPath string
	TaskLine int
	Planned  int
}

const clockLayout = "15:04"

// isEventLine reports whether a line is managed by the merge engine:
// a list item carrying a startTime field.
func isEventLine(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "- ") && strings.Contains(t, "[startTime:: ")
}

// parseEventLine tokenizes one event line. The title is everything before
// the first inline field; fields are [key:: value] pairs.
func parseEventLine(line string) (EventLine, bool) {
	if !isEventLine(line) {
		return EventLine{}, false
	}
	body := strings.TrimPrefix(strings.TrimSpace(line), "- ")

	var el EventLine
	title := body
	if i := strings.Index(body, "["); i >= 0 {
		title = body[:i]
	}
	el.Title = strings.TrimSpace(title)

	for _, f := range scanFields(body) {
		switch f.key {
		case "startTime":
			el.Start = f.value
		case "endTime":
			el.End = f.value
		case "taskPath":
			el.TaskPath = f.value
		case "taskLine":
			if n, err := strconv.Atoi(f.value); err == nil {
				el.TaskLine = n
			}
		case "pomo":
			if n, err := strconv.Atoi(f.value); err == nil && n >= 0 {
				el.Planned = n
			}
		}
	}
	if el.Start == "" {
		return EventLine{}, false
	}
	return el, true
}

type field struct {
	key   string
	value string
}

// scanFields walks the line and collects [key:: value] inline fields.
func scanFields(s string) []field {
	var out []field
	for {
		open := strings.Index(s, "[")
		if open < 0 {
			return out
		}
		cl := strings.Index(s[open:], "]")
		if cl < 0 {
			return out
		}
		inner := s[open+1 : open+cl]
		if k, v, ok := strings.Cut(inner, ":: "); ok {
			out = append(out, field{key: strings.TrimSpace(k), value: strings.TrimSpace(v)})
		}
		s = s[open+cl+1:]
	}
}

// renderEventLine renders a CalendarEvent into its fixed line format.
// Times are written as local wall clock regardless of the zone the event
// was parsed in, so note lines line up with the note's own calendar date.
func renderEventLine(ev model.CalendarEvent) string {
	var b strings.Builder
	b.WriteString("- ")
	b.WriteString(ev.Title)
	b.WriteString(" [startTime:: ")
	b.WriteString(ev.Start.In(time.Local).Format(clockLayout))
	b.WriteString("] [endTime:: ")
	b.WriteString(ev.End.In(time.Local).Format(clockLayout))
	b.WriteString("]")
	if ev.PlannedUnits > 0 {
		fmt.Fprintf(&b, " [pomo:: %d]", ev.PlannedUnits)
	}
	if ev.Task != nil {
		fmt.Fprintf(&b, " [taskPath:: %s] [taskLine:: %d]", ev.Task.Path, ev.Task.Line)
	}
	return b.String()
}

// eventFromLine lifts an EventLine into a local-origin CalendarEvent on
// the given calendar date. Line times that fail to parse yield ok=false.
func eventFromLine(el EventLine, date time.Time, path string, lineNo int, cat model.Category) (model.CalendarEvent, bool) {
	start, err := clockOnDate(el.Start, date)
	if err != nil {
		return model.CalendarEvent{}, false
	}
	end, err := clockOnDate(el.End, date)
	if err != nil || !end.After(start) {
		return model.CalendarEvent{}, false
	}
	ev := model.CalendarEvent{
		ID:           fmt.Sprintf("%s#%d", path, lineNo),
		Title:        el.Title,
		Start:        start,
		End:          end,
		Category:     cat,
		Origin:       model.OriginLocal,
		PlannedUnits: el.Planned,
	}
	if el.TaskPath != "" {
		ev.Task = &model.TaskRef{Path: el.TaskPath, Line: el.TaskLine}
	}
	return ev, true
}

func clockOnDate(clock string, date time.Time) (time.Time, error) {
	t, err := time.Parse(clockLayout, clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(date.Year(), date.Month(), date.Day(),
		t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}

// Pomodoro micro-format, consumed read-only:
//
//	(pomodoro::work) (duration:: 25m) (begin:: 2025-06-15 09:00) - (end:: 2025-06-15 09:25)
const pomodoroStampLayout = "2006-01-02 15:04"

func isPomodoroLine(line string) bool {
	return strings.Contains(line, "(pomodoro::")
}

func parsePomodoroLine(line string) (model.PomodoroRecord, bool) {
	var rec model.PomodoroRecord
	ok := false
	for _, f := range scanParens(line) {
		switch f.key {
		case "pomodoro":
			rec.Kind = f.value
		case "duration":
			v := strings.TrimSuffix(f.value, "m")
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				rec.Minutes = n
			}
		case "begin":
			if t, err := time.ParseInLocation(pomodoroStampLayout, f.value, time.Local); err == nil {
				rec.Start = t
				ok = true
			}
		case "end":
			if t, err := time.ParseInLocation(pomodoroStampLayout, f.value, time.Local); err == nil {
				rec.End = t
			}
		}
	}
	if !ok || rec.End.IsZero() || !rec.End.After(rec.Start) {
		return model.PomodoroRecord{}, false
	}
	return rec, true
}

// scanParens collects (key:: value) pairs; the pomodoro kind is written
// without a space after the separator, so both ":: " and "::" cut.
func scanParens(s string) []field {
	var out []field
	for {
		open := strings.Index(s, "(")
		if open < 0 {
			return out
		}
		cl := strings.Index(s[open:], ")")
		if cl < 0 {
			return out
		}
		inner := s[open+1 : open+cl]
		if k, v, ok := strings.Cut(inner, "::"); ok {
			out = append(out, field{key: strings.TrimSpace(k), value: strings.TrimSpace(v)})
		}
		s = s[open+cl+1:]
	}
}
