package ics

import (
	"strings"
	"testing"
	"time"

	"calnote/internal/model"
)

func testDecoder() *Decoder {
	return &Decoder{
		Policy: DefaultPolicy(),
		Classify: func(title string) model.Category {
			if strings.Contains(strings.ToLower(title), "standup") {
				return model.CategoryMeeting
			}
			return model.CategoryFocus
		},
	}
}

func wrapVEvents(blocks ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//calnote//test//EN\r\n")
	for _, block := range blocks {
		b.WriteString(block)
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

func janWindow() (time.Time, time.Time) {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local),
		time.Date(2025, 2, 1, 0, 0, 0, 0, time.Local)
}

func TestDecodeSingleEvent(t *testing.T) {
	raw := wrapVEvents(
		"BEGIN:VEVENT\r\nUID:ev-1\r\nSUMMARY:Standup\r\nDTSTART:20250115T090000Z\r\nDTEND:20250115T093000Z\r\nEND:VEVENT\r\n",
	)
	qStart, qEnd := janWindow()
	events, err := testDecoder().Decode(raw, qStart, qEnd)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Title != "Standup" {
		t.Errorf("title: got %q", ev.Title)
	}
	if ev.Category != model.CategoryMeeting {
		t.Errorf("category: got %q", ev.Category)
	}
	if ev.Origin != model.OriginRemote || ev.RemoteID != "ev-1" {
		t.Errorf("origin/remote id: got %q/%q", ev.Origin, ev.RemoteID)
	}
	if got := ev.Duration(); got != 30*time.Minute {
		t.Errorf("duration: got %v", got)
	}
}

func TestDecodeSkipsCancelled(t *testing.T) {
	raw := wrapVEvents(
		"BEGIN:VEVENT\r\nUID:ev-dead\r\nSUMMARY:Gone\r\nSTATUS:CANCELLED\r\nDTSTART:20250115T090000Z\r\nEND:VEVENT\r\n",
		"BEGIN:VEVENT\r\nUID:ev-live\r\nSUMMARY:Kept\r\nDTSTART:20250116T090000Z\r\nEND:VEVENT\r\n",
	)
	qStart, qEnd := janWindow()
	events, err := testDecoder().Decode(raw, qStart, qEnd)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].RemoteID != "ev-live" {
		t.Fatalf("cancelled block leaked into output: %+v", events)
	}
}

func TestDecodeAllDayDefaults(t *testing.T) {
	raw := wrapVEvents(
		"BEGIN:VEVENT\r\nUID:ev-allday\r\nSUMMARY:Holiday\r\nDTSTART:20250615\r\nEND:VEVENT\r\n",
	)
	qStart := time.Date(2025, 6, 1, 0, 0, 0, 0, time.Local)
	qEnd := time.Date(2025, 7, 1, 0, 0, 0, 0, time.Local)

	dec := testDecoder()
	events, err := dec.Decode(raw, qStart, qEnd)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	want := time.Date(2025, 6, 15, dec.Policy.AllDayStartHour, 0, 0, 0, time.Local)
	if !events[0].Start.Equal(want) {
		t.Errorf("start: expected %v, got %v", want, events[0].Start)
	}
	if !events[0].End.Equal(want.Add(time.Hour)) {
		t.Errorf("end: expected %v, got %v", want.Add(time.Hour), events[0].End)
	}
}

func TestDecodeMissingDTEndDefaultsOneHour(t *testing.T) {
	raw := wrapVEvents(
		"BEGIN:VEVENT\r\nUID:ev-open\r\nSUMMARY:Open ended\r\nDTSTART:20250115T140000\r\nEND:VEVENT\r\n",
	)
	qStart, qEnd := janWindow()
	events, err := testDecoder().Decode(raw, qStart, qEnd)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if got := events[0].Duration(); got != time.Hour {
		t.Errorf("duration: expected 1h, got %v", got)
	}
	// Floating local time parses in the local zone.
	want := time.Date(2025, 1, 15, 14, 0, 0, 0, time.Local)
	if !events[0].Start.Equal(want) {
		t.Errorf("start: expected %v, got %v", want, events[0].Start)
	}
}

func TestDecodeSkipsBlockMissingDTStart(t *testing.T) {
	raw := wrapVEvents(
		"BEGIN:VEVENT\r\nUID:ev-broken\r\nSUMMARY:No start\r\nEND:VEVENT\r\n",
		"BEGIN:VEVENT\r\nUID:ev-fine\r\nSUMMARY:Fine\r\nDTSTART:20250110T090000Z\r\nEND:VEVENT\r\n",
	)
	qStart, qEnd := janWindow()
	events, err := testDecoder().Decode(raw, qStart, qEnd)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].RemoteID != "ev-fine" {
		t.Fatalf("broken block aborted decoding: %+v", events)
	}
}

func TestDecodeRecurringAssignsOrdinalIDs(t *testing.T) {
	raw := wrapVEvents(
		"BEGIN:VEVENT\r\nUID:ev-rec\r\nSUMMARY:Daily check\r\nDTSTART:20250106T080000Z\r\nDTEND:20250106T081500Z\r\nRRULE:FREQ=DAILY;COUNT=3\r\nEND:VEVENT\r\n",
	)
	qStart, qEnd := janWindow()
	events, err := testDecoder().Decode(raw, qStart, qEnd)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 instances, got %d", len(events))
	}
	seen := map[string]bool{}
	for _, ev := range events {
		if seen[ev.ID] {
			t.Errorf("duplicate instance id %q", ev.ID)
		}
		seen[ev.ID] = true
		if !strings.HasPrefix(ev.ID, "ev-rec#") {
			t.Errorf("instance id %q not derived from template UID", ev.ID)
		}
		if got := ev.Duration(); got != 15*time.Minute {
			t.Errorf("instance duration: got %v", got)
		}
	}
}

func TestDecodeEventOutsideWindowDropped(t *testing.T) {
	raw := wrapVEvents(
		"BEGIN:VEVENT\r\nUID:ev-out\r\nSUMMARY:Elsewhere\r\nDTSTART:20250601T090000Z\r\nEND:VEVENT\r\n",
	)
	qStart, qEnd := janWindow()
	events, err := testDecoder().Decode(raw, qStart, qEnd)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("event outside the window leaked: %+v", events)
	}
}

func TestDecodeToleratesParameters(t *testing.T) {
	raw := wrapVEvents(
		"BEGIN:VEVENT\r\nUID:ev-tz\r\nSUMMARY:Param start\r\nDTSTART;TZID=Europe/Berlin:20250115T090000\r\nEND:VEVENT\r\n",
	)
	qStart, qEnd := janWindow()
	events, err := testDecoder().Decode(raw, qStart, qEnd)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("parameterized DTSTART not tolerated: %+v", events)
	}
}
