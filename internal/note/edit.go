package note

import (
	"fmt"
	"strings"
	"time"

	"calnote/internal/model"
)

// LineNotFoundError is returned when a single-event operation cannot
// locate its target line. It carries the event title and time so the
// caller can surface a usable message: the note was edited concurrently
// or the event metadata is stale, and the operation must not degrade to a
// silent no-op.
type LineNotFoundError struct {
	Title string
	Start string
	End   string
}

func (e *LineNotFoundError) Error() string {
	return fmt.Sprintf("note: no matching line for %q (%s-%s)", e.Title, e.Start, e.End)
}

// AddEvent appends one rendered event line at the end of the event's
// category section, creating the note from the template when missing.
func (s *Store) AddEvent(date time.Time, ev model.CalendarEvent) error {
	path, doc, err := s.load(date)
	if err != nil {
		return err
	}
	updated := insertIntoSection(doc, ev)
	return s.vault.Write(path, updated)
}

// ScheduleTask plans a task as an event block on the given date. The
// event carries the task's planned units and a back-link to its source
// line, so completed pomodoros can later be attributed to the task.
func (s *Store) ScheduleTask(date time.Time, task model.ParsedTask, start, end time.Time, cat model.Category) (model.CalendarEvent, error) {
	if !end.After(start) {
		return model.CalendarEvent{}, fmt.Errorf("note: schedule %q: end %s not after start %s",
			task.Title, end.Format(clockLayout), start.Format(clockLayout))
	}
	ev := model.CalendarEvent{
		ID:           fmt.Sprintf("%s#%d", task.Path, task.Line),
		Title:        task.Title,
		Start:        start,
		End:          end,
		Category:     cat,
		Origin:       model.OriginLocal,
		PlannedUnits: task.PlannedUnits,
		Task:         &model.TaskRef{Path: task.Path, Line: task.Line},
	}
	if err := s.AddEvent(date, ev); err != nil {
		return model.CalendarEvent{}, err
	}
	return ev, nil
}

// UpdateEvent replaces the line matching the event's old start/end times
// within its category section with a fresh rendering.
func (s *Store) UpdateEvent(date time.Time, oldStart, oldEnd time.Time, ev model.CalendarEvent) error {
	path, doc, err := s.load(date)
	if err != nil {
		return err
	}
	updated, found := replaceInSection(doc, ev, oldStart, oldEnd, renderEventLine(ev))
	if !found {
		return &LineNotFoundError{
			Title: ev.Title,
			Start: oldStart.Format(clockLayout),
			End:   oldEnd.Format(clockLayout),
		}
	}
	return s.vault.Write(path, updated)
}

// RemoveEvent deletes the line matching the event's start/end times
// within its category section.
func (s *Store) RemoveEvent(date time.Time, ev model.CalendarEvent) error {
	path, doc, err := s.load(date)
	if err != nil {
		return err
	}
	updated, found := replaceInSection(doc, ev, ev.Start, ev.End, "")
	if !found {
		return &LineNotFoundError{
			Title: ev.Title,
			Start: ev.Start.Format(clockLayout),
			End:   ev.End.Format(clockLayout),
		}
	}
	return s.vault.Write(path, updated)
}

// MoveEvent moves an event between two dates' notes. Both rewritten
// documents are rendered before either write, so a failure while locating
// the source line leaves both notes untouched and a failed second write
// cannot be half-applied by this function's own logic.
func (s *Store) MoveEvent(fromDate, toDate time.Time, oldStart, oldEnd time.Time, ev model.CalendarEvent) error {
	fromPath, fromDoc, err := s.load(fromDate)
	if err != nil {
		return err
	}
	removed, found := replaceInSection(fromDoc, ev, oldStart, oldEnd, "")
	if !found {
		return &LineNotFoundError{
			Title: ev.Title,
			Start: oldStart.Format(clockLayout),
			End:   oldEnd.Format(clockLayout),
		}
	}

	toPath, toDoc, err := s.load(toDate)
	if err != nil {
		return err
	}
	added := insertIntoSection(toDoc, ev)

	if err := s.vault.Write(fromPath, removed); err != nil {
		return fmt.Errorf("note: move: write %s: %w", fromPath, err)
	}
	if err := s.vault.Write(toPath, added); err != nil {
		return fmt.Errorf("note: move: write %s: %w", toPath, err)
	}
	return nil
}

// insertIntoSection places the rendered event line at the end of its
// category section, just before the next heading. A document lacking the
// section gets the heading appended first.
func insertIntoSection(doc string, ev model.CalendarEvent) string {
	heading := headingByCategory[ev.Category]
	rendered := renderEventLine(ev)

	lines := strings.Split(doc, "\n")
	out := make([]string, 0, len(lines)+2)
	inSection := false
	inserted := false
	for _, line := range lines {
		if isHeading(line) {
			if inSection && !inserted {
				out = append(out, rendered)
				inserted = true
			}
			inSection = strings.TrimRight(line, " \t") == heading
		}
		out = append(out, line)
	}
	if inSection && !inserted {
		out = append(out, rendered)
		inserted = true
	}
	if !inserted {
		if len(out) > 0 && out[len(out)-1] != "" {
			out = append(out, "")
		}
		out = append(out, heading, rendered)
	}
	return strings.Join(out, "\n")
}

// replaceInSection finds the target line inside the event's category
// section by exact rendering match or by title-containing match on the
// old start/end time strings, and substitutes replacement (dropping the
// line entirely when replacement is empty).
func replaceInSection(doc string, ev model.CalendarEvent, oldStart, oldEnd time.Time, replacement string) (string, bool) {
	heading := headingByCategory[ev.Category]
	old := ev
	old.Start = oldStart
	old.End = oldEnd
	exact := renderEventLine(old)
	startField := "[startTime:: " + oldStart.In(time.Local).Format(clockLayout) + "]"
	endField := "[endTime:: " + oldEnd.In(time.Local).Format(clockLayout) + "]"

	lines := strings.Split(doc, "\n")
	out := make([]string, 0, len(lines))
	inSection := false
	found := false
	for _, line := range lines {
		if isHeading(line) {
			inSection = strings.TrimRight(line, " \t") == heading
			out = append(out, line)
			continue
		}
		if inSection && !found && matchesTarget(line, exact, ev.Title, startField, endField) {
			found = true
			if replacement != "" {
				out = append(out, replacement)
			}
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n"), found
}

func matchesTarget(line, exact, title, startField, endField string) bool {
	if !isEventLine(line) {
		return false
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == exact {
		return true
	}
	return strings.Contains(trimmed, title) &&
		strings.Contains(trimmed, startField) &&
		strings.Contains(trimmed, endField)
}
