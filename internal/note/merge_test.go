package note

import (
	"strings"
	"testing"
	"time"

	"calnote/internal/model"
)

// memVault is an in-memory Vault for tests.
type memVault struct {
	files map[string]string
}

func newMemVault() *memVault {
	return &memVault{files: map[string]string{}}
}

func (v *memVault) Read(path string) (string, error) { return v.files[path], nil }
func (v *memVault) Write(path, content string) error { v.files[path] = content; return nil }
func (v *memVault) Exists(path string) bool          { _, ok := v.files[path]; return ok }

func day(hour, minute int) time.Time {
	return time.Date(2025, 6, 15, hour, minute, 0, 0, time.Local)
}

func remoteEvent(title string, cat model.Category, startH, startM, endH, endM int) model.CalendarEvent {
	return model.CalendarEvent{
		ID:       "r-" + title,
		Title:    title,
		Start:    day(startH, startM),
		End:      day(endH, endM),
		Category: cat,
		Origin:   model.OriginRemote,
	}
}

const sampleDoc = `# 2025-06-15

Some free-form morning notes.

## Focus

- Write report [startTime:: 09:00] [endTime:: 10:00]

## Meetings

Agenda scribbles that must survive.
- Old standup [startTime:: 10:00] [endTime:: 10:15]

## Personal

- Dentist [startTime:: 16:00] [endTime:: 17:00]

## Rest

## Admin
`

func TestMergeReplacesOnlyTouchedCategory(t *testing.T) {
	events := []model.CalendarEvent{
		remoteEvent("Planning", model.CategoryMeeting, 11, 0, 12, 0),
		remoteEvent("Standup", model.CategoryMeeting, 10, 0, 10, 15),
	}
	merged := Merge(sampleDoc, events)

	if !strings.Contains(merged, "- Standup [startTime:: 10:00] [endTime:: 10:15]") {
		t.Error("new meeting line missing")
	}
	if !strings.Contains(merged, "- Planning [startTime:: 11:00] [endTime:: 12:00]") {
		t.Error("second meeting line missing")
	}
	if strings.Contains(merged, "Old standup") {
		t.Error("old meeting line not replaced")
	}
	// Events must be sorted by start time.
	if strings.Index(merged, "- Standup") > strings.Index(merged, "- Planning") {
		t.Error("meeting lines not sorted by start time")
	}
	// Untouched categories keep their events.
	if !strings.Contains(merged, "- Write report [startTime:: 09:00] [endTime:: 10:00]") {
		t.Error("focus section was modified despite zero incoming focus events")
	}
	if !strings.Contains(merged, "- Dentist [startTime:: 16:00] [endTime:: 17:00]") {
		t.Error("personal section was modified despite zero incoming personal events")
	}
	// Non-event lines inside the rewritten section survive.
	if !strings.Contains(merged, "Agenda scribbles that must survive.") {
		t.Error("non-event line inside rewritten section lost")
	}
	if !strings.Contains(merged, "Some free-form morning notes.") {
		t.Error("unmanaged text outside sections lost")
	}
}

func TestMergeDuplicateHeadingRendersGroupOnce(t *testing.T) {
	doc := strings.Join([]string{
		"# 2025-06-15",
		"",
		"## Meetings",
		"",
		"## Meetings",
		"Leftover notes under the stray heading.",
		"",
	}, "\n")
	merged := Merge(doc, []model.CalendarEvent{
		remoteEvent("Standup", model.CategoryMeeting, 10, 0, 10, 15),
	})
	line := "- Standup [startTime:: 10:00] [endTime:: 10:15]"
	if got := strings.Count(merged, line); got != 1 {
		t.Fatalf("event rendered %d times, want 1:\n%s", got, merged)
	}
	first := strings.Index(merged, "## Meetings")
	second := strings.Index(merged[first+1:], "## Meetings") + first + 1
	if at := strings.Index(merged, line); at < first || at > second {
		t.Errorf("event not under the first heading occurrence:\n%s", merged)
	}
	if !strings.Contains(merged, "Leftover notes under the stray heading.") {
		t.Errorf("prose under duplicate heading lost:\n%s", merged)
	}
}

func TestMergeIdempotent(t *testing.T) {
	events := []model.CalendarEvent{
		remoteEvent("Standup", model.CategoryMeeting, 10, 0, 10, 15),
		remoteEvent("Deep work", model.CategoryFocus, 9, 0, 11, 0),
	}
	once := Merge(sampleDoc, events)
	twice := Merge(once, events)
	if once != twice {
		t.Fatalf("merge not idempotent:\n--- once ---\n%s\n--- twice ---\n%s", once, twice)
	}
}

func TestMergePreservesUntouchedSectionBytes(t *testing.T) {
	events := []model.CalendarEvent{
		remoteEvent("Standup", model.CategoryMeeting, 10, 0, 10, 15),
	}
	merged := Merge(sampleDoc, events)

	// Everything from "## Personal" onward received zero events and must
	// be byte-identical.
	tailStart := strings.Index(sampleDoc, "## Personal")
	mergedTail := merged[strings.Index(merged, "## Personal"):]
	if mergedTail != sampleDoc[tailStart:] {
		t.Fatalf("untouched tail changed:\n%q\nvs\n%q", sampleDoc[tailStart:], mergedTail)
	}
}

func TestMergeEmptySectionGetsEvents(t *testing.T) {
	events := []model.CalendarEvent{
		remoteEvent("Lunch walk", model.CategoryRest, 12, 30, 13, 0),
	}
	merged := Merge(sampleDoc, events)
	restIdx := strings.Index(merged, "## Rest")
	adminIdx := strings.Index(merged, "## Admin")
	lineIdx := strings.Index(merged, "- Lunch walk [startTime:: 12:30] [endTime:: 13:00]")
	if lineIdx < restIdx || lineIdx > adminIdx {
		t.Fatalf("rest event not placed inside its empty section:\n%s", merged)
	}

	if twice := Merge(merged, events); twice != merged {
		t.Fatalf("merge into empty section not idempotent:\n%s\nvs\n%s", merged, twice)
	}
}

func TestMergeNoEventsLeavesDocumentAlone(t *testing.T) {
	if got := Merge(sampleDoc, nil); got != sampleDoc {
		t.Fatal("merge with empty event set modified the document")
	}
}

func TestEventLineRoundTrip(t *testing.T) {
	ev := remoteEvent("Quarterly review", model.CategoryMeeting, 14, 5, 15, 30)
	ev.Task = &model.TaskRef{Path: "tasks/q3.md", Line: 12}
	ev.PlannedUnits = 2

	line := renderEventLine(ev)
	el, ok := parseEventLine(line)
	if !ok {
		t.Fatalf("rendered line did not parse: %q", line)
	}
	if el.Title != "Quarterly review" {
		t.Errorf("title: got %q", el.Title)
	}
	if el.Start != "14:05" || el.End != "15:30" {
		t.Errorf("times: got %q-%q", el.Start, el.End)
	}
	if el.TaskPath != "tasks/q3.md" || el.TaskLine != 12 {
		t.Errorf("task ref: got %q:%d", el.TaskPath, el.TaskLine)
	}
	if el.Planned != 2 {
		t.Errorf("planned: got %d", el.Planned)
	}

	back, ok := eventFromLine(el, day(0, 0), "2025-06-15.md", 7, model.CategoryMeeting)
	if !ok {
		t.Fatal("parsed line did not lift back into an event")
	}
	if !back.Start.Equal(ev.Start) || !back.End.Equal(ev.End) {
		t.Errorf("round-trip times: got %v-%v", back.Start, back.End)
	}
	if back.Origin != model.OriginLocal {
		t.Errorf("round-trip origin: got %q", back.Origin)
	}
}

func TestSyncDayCreatesFromTemplate(t *testing.T) {
	vault := newMemVault()
	store := NewStore(vault, "{year}-{month}-{day}.md")

	date := day(0, 0)
	events := []model.CalendarEvent{
		remoteEvent("Standup", model.CategoryMeeting, 10, 0, 10, 15),
	}
	if err := store.SyncDay(date, events); err != nil {
		t.Fatalf("sync day: %v", err)
	}

	doc := vault.files["2025-06-15.md"]
	if doc == "" {
		t.Fatal("note was not created")
	}
	for _, heading := range []string{"## Focus", "## Meetings", "## Personal", "## Rest", "## Admin"} {
		if !strings.Contains(doc, heading) {
			t.Errorf("template heading %q missing", heading)
		}
	}
	if !strings.Contains(doc, "- Standup [startTime:: 10:00] [endTime:: 10:15]") {
		t.Error("event not merged into fresh note")
	}
}

func TestParseEvents(t *testing.T) {
	events := ParseEvents(sampleDoc, day(0, 0), "2025-06-15.md")
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Category != model.CategoryFocus || events[0].Title != "Write report" {
		t.Errorf("first event: %+v", events[0])
	}
	if events[1].Category != model.CategoryMeeting {
		t.Errorf("second event category: %q", events[1].Category)
	}
	for _, ev := range events {
		if ev.Origin != model.OriginLocal {
			t.Errorf("parsed event origin: %q", ev.Origin)
		}
	}
}

func TestParsePomodoros(t *testing.T) {
	doc := sampleDoc + `
(pomodoro::work) (duration:: 25m) (begin:: 2025-06-15 09:05) - (end:: 2025-06-15 09:30)
(pomodoro::break) (duration:: 5m) (begin:: 2025-06-15 09:30) - (end:: 2025-06-15 09:35)
not a record line
`
	records := ParsePomodoros(doc)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Kind != "work" || records[0].Minutes != 25 {
		t.Errorf("first record: %+v", records[0])
	}
	want := day(9, 5)
	if !records[0].Start.Equal(want) {
		t.Errorf("first record start: got %v", records[0].Start)
	}
}

func TestPlannedFromTable(t *testing.T) {
	doc := `
| Task | Plan |
| ---- | ---- |
| Write report | 3 🍅 |
| Review PRs | 1 🍅 |
`
	if got := PlannedFromTable(doc, "Write report"); got != 3 {
		t.Errorf("expected 3 planned units, got %d", got)
	}
	if got := PlannedFromTable(doc, "Missing task"); got != 0 {
		t.Errorf("expected 0 for unknown task, got %d", got)
	}
}
