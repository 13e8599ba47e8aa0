package note

import (
	"sort"
	"strings"
	"time"

	"calnote/internal/model"
)

// Merge rewrites the document with the incoming events for one calendar
// date, grouped by category. The contract:
//
//   - Only categories that received at least one incoming event are
//     rewritten. A category with zero incoming events keeps its section
//     byte-identical, which is what lets manually created local events
//     survive remote syncs that did not touch their category.
//   - Within a rewritten section, only lines matching the event-line
//     pattern are replaced; every other line is copied through verbatim.
//   - Any heading line ends the current section.
//
// Applying Merge twice with the same event set yields the same bytes as
// applying it once.
func Merge(doc string, events []model.CalendarEvent) string {
	groups := groupByCategory(events)
	if len(groups) == 0 {
		return doc
	}

	lines := strings.Split(doc, "\n")
	out := make([]string, 0, len(lines))

	var (
		incoming []string // rendered lines for the current section, nil if none
		emitted  bool
		rendered = make(map[model.Category]bool)
	)
	flush := func() {
		if incoming != nil && !emitted {
			out = append(out, incoming...)
		}
		incoming = nil
		emitted = false
	}

	for _, line := range lines {
		if isHeading(line) {
			// A section that never contained an event line still gets its
			// fresh events, placed at the end of the section.
			flush()
			if cat, ok := headingCategory(line); ok && !rendered[cat] {
				// A malformed document can repeat a heading; the group is
				// written under the first occurrence only.
				if group, has := groups[cat]; has {
					incoming = renderGroup(group)
					rendered[cat] = true
				}
			}
			out = append(out, line)
			continue
		}
		if incoming != nil && isEventLine(line) {
			if !emitted {
				out = append(out, incoming...)
				emitted = true
			}
			// Old event line, replaced above.
			continue
		}
		out = append(out, line)
	}
	flush()

	return strings.Join(out, "\n")
}

func groupByCategory(events []model.CalendarEvent) map[model.Category][]model.CalendarEvent {
	groups := make(map[model.Category][]model.CalendarEvent)
	for _, ev := range events {
		groups[ev.Category] = append(groups[ev.Category], ev)
	}
	for cat := range groups {
		group := groups[cat]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Start.Before(group[j].Start)
		})
		groups[cat] = group
	}
	return groups
}

func renderGroup(events []model.CalendarEvent) []string {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, renderEventLine(ev))
	}
	return lines
}

// Template returns the content a newly created date note starts from: a
// date title and every category heading, all sections empty.
func Template(date time.Time) string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(date.Format("2006-01-02"))
	b.WriteString("\n")
	for _, cat := range model.AllCategories {
		b.WriteString("\n")
		b.WriteString(headingByCategory[cat])
		b.WriteString("\n")
	}
	return b.String()
}

// ParseEvents reads back every event line of the document as local-origin
// CalendarEvents on the given date, in document order. Lines outside a
// recognized category section and lines with unparseable times are
// skipped.
func ParseEvents(doc string, date time.Time, path string) []model.CalendarEvent {
	events := make([]model.CalendarEvent, 0)
	current := model.Category("")
	for i, line := range strings.Split(doc, "\n") {
		if isHeading(line) {
			current, _ = headingCategory(line)
			continue
		}
		if current == "" {
			continue
		}
		el, ok := parseEventLine(line)
		if !ok {
			continue
		}
		if ev, ok := eventFromLine(el, date, path, i+1, current); ok {
			events = append(events, ev)
		}
	}
	return events
}

// ParsePomodoros reads the completed time-tracking records of the
// document, in document order.
func ParsePomodoros(doc string) []model.PomodoroRecord {
	records := make([]model.PomodoroRecord, 0)
	for _, line := range strings.Split(doc, "\n") {
		if !isPomodoroLine(line) {
			continue
		}
		if rec, ok := parsePomodoroLine(line); ok {
			records = append(records, rec)
		}
	}
	return records
}

// PlannedFromTable consults the plan-table micro-format for the planned
// unit count of the named task: a table row whose first cell contains the
// title and one of whose cells is "<N> 🍅". Returns 0 when no row
// matches.
func PlannedFromTable(doc, title string) int {
	for _, line := range strings.Split(doc, "\n") {
		t := strings.TrimSpace(line)
		if !strings.HasPrefix(t, "|") || !strings.Contains(t, "🍅") {
			continue
		}
		cells := splitCells(t)
		if len(cells) < 2 {
			continue
		}
		if !strings.Contains(cells[0], title) && !strings.Contains(title, cells[0]) {
			continue
		}
		for _, cell := range cells[1:] {
			if n, ok := unitCount(cell); ok {
				return n
			}
		}
	}
	return 0
}

func splitCells(row string) []string {
	parts := strings.Split(strings.Trim(row, "|"), "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells
}

// unitCount extracts N from a "<N> 🍅" cell.
func unitCount(cell string) (int, bool) {
	idx := strings.Index(cell, "🍅")
	if idx < 0 {
		return 0, false
	}
	digits := strings.TrimSpace(cell[:idx])
	n := 0
	seen := false
	for _, r := range digits {
		if r < '0' || r > '9' {
			if seen {
				break
			}
			n = 0
			continue
		}
		n = n*10 + int(r-'0')
		seen = true
	}
	if !seen {
		return 0, false
	}
	return n, true
}
