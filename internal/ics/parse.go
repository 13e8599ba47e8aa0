package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calnote/internal/log"
	"calnote/internal/model"
)

// Policy carries the named decoding defaults. These are business rules,
// not protocol requirements: the start hour assigned to date-only events
// and the duration assumed when DTEND is absent are both overridable.
type Policy struct {
	AllDayStartHour int
	DefaultDuration time.Duration
}

// DefaultPolicy matches the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		AllDayStartHour: 9,
		DefaultDuration: time.Hour,
	}
}

// Decoder turns raw iCalendar text into concrete CalendarEvent instances
// for a query window, expanding recurring templates through Expand.
type Decoder struct {
	Policy Policy

	// Classify assigns a category from the event title. If nil, events
	// are left uncategorized and the caller must classify them.
	Classify func(title string) model.Category
}

// Decode parses one iCalendar payload (possibly holding several VEVENT
// blocks) and returns every concrete occurrence intersecting
// [qStart, qEnd).
//
// Blocks whose STATUS is cancelled are dropped. Blocks missing DTSTART or
// with unparseable dates are skipped without aborting the remaining
// blocks.
func (d *Decoder) Decode(raw string, qStart, qEnd time.Time) ([]model.CalendarEvent, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, errors.New("empty iCalendar body")
	}

	// Normalize line endings: transport layers hand us anything from
	// CRLF to entity-decoded bare LF.
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\n", "\r\n")

	cal, err := ical.ParseCalendar(bytes.NewReader([]byte(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]model.CalendarEvent, 0)
	for _, ve := range cal.Events() {
		evs, perr := d.decodeVEvent(ve, qStart, qEnd)
		if perr != nil {
			// Skip this block, keep decoding the others.
			appLog.Debug("ics: skipping vevent", "reason", perr.Error())
			continue
		}
		events = append(events, evs...)
	}
	return events, nil
}

func (d *Decoder) decodeVEvent(ve *ical.VEvent, qStart, qEnd time.Time) ([]model.CalendarEvent, error) {
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		if strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED") {
			return nil, errors.New("cancelled")
		}
	}

	uid := ""
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		uid = p.Value
	}

	title := ""
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		title = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return nil, errors.New("missing DTSTART")
	}

	start, allDay, err := d.parseDateTime(dtStart.Value)
	if err != nil {
		return nil, fmt.Errorf("DTSTART %q: %w", dtStart.Value, err)
	}

	end, err := d.parseEnd(ve, start, allDay)
	if err != nil {
		return nil, err
	}
	dur := end.Sub(start)

	cat := model.Category("")
	if d.Classify != nil {
		cat = d.Classify(title)
	}

	base := model.CalendarEvent{
		ID:       uid,
		Title:    title,
		Start:    start,
		End:      end,
		Category: cat,
		Origin:   model.OriginRemote,
		RemoteID: uid,
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
		rule := ParseRule(p.Value)
		starts, _ := Expand(start, dur, rule, qStart, qEnd)
		out := make([]model.CalendarEvent, 0, len(starts))
		for i, s := range starts {
			ev := base
			ev.ID = fmt.Sprintf("%s#%d", uid, i)
			ev.Start = s
			ev.End = s.Add(dur)
			out = append(out, ev)
		}
		return out, nil
	}

	if !intersects(start, end, qStart, qEnd) {
		return nil, nil
	}
	return []model.CalendarEvent{base}, nil
}

// parseEnd resolves the event end time. A missing DTEND means the policy
// default duration. All-day events ignore DTEND entirely and always get
// the default duration from their synthesized start, so a date-only event
// renders as one block rather than a 24-hour slab.
func (d *Decoder) parseEnd(ve *ical.VEvent, start time.Time, allDay bool) (time.Time, error) {
	if allDay {
		return start.Add(d.defaultDuration()), nil
	}
	dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd)
	if dtEnd == nil || dtEnd.Value == "" {
		return start.Add(d.defaultDuration()), nil
	}
	end, _, err := d.parseDateTime(dtEnd.Value)
	if err != nil {
		return time.Time{}, fmt.Errorf("DTEND %q: %w", dtEnd.Value, err)
	}
	if !end.After(start) {
		// Zero or negative duration is invalid; fall back to the default.
		return start.Add(d.defaultDuration()), nil
	}
	return end, nil
}

func (d *Decoder) defaultDuration() time.Duration {
	if d.Policy.DefaultDuration > 0 {
		return d.Policy.DefaultDuration
	}
	return time.Hour
}

// parseDateTime parses the three DTSTART/DTEND value shapes:
//
//	20250615          all-day, start defaulted to the policy hour
//	20250615T090000Z  absolute UTC
//	20250615T090000   floating local time
//
// The bool result reports the all-day shape.
func (d *Decoder) parseDateTime(v string) (time.Time, bool, error) {
	hour := d.Policy.AllDayStartHour
	if hour <= 0 || hour > 23 {
		hour = DefaultPolicy().AllDayStartHour
	}
	t, err := parseDateTimeValue(v, hour)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, !strings.Contains(v, "T"), nil
}

// parseDateTimeValue is the shared low-level parser, also used for RRULE
// UNTIL values (where allDayHour is 0, midnight).
func parseDateTimeValue(v string, allDayHour int) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}

	day, err := time.ParseInLocation("20060102", v, time.Local)
	if err != nil {
		return time.Time{}, err
	}
	return day.Add(time.Duration(allDayHour) * time.Hour), nil
}
