package ics

import (
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "calnote/internal/log"
)

// maxOccurrences is a hard ceiling on expanded instances per event. It
// guards against malformed or unbounded rules; when hit, the partial
// result is returned and the truncation is reported to the caller.
const maxOccurrences = 1000

// Rule is the supported RFC 5545 subset: DAILY/WEEKLY/MONTHLY/YEARLY with
// INTERVAL, COUNT, UNTIL and BYDAY. COUNT and UNTIL may coexist; expansion
// stops at whichever bound is reached first.
type Rule struct {
	Freq     string
	Interval int
	Count    int
	Until    *time.Time
	ByDay    []string
}

// ParseRule parses an RRULE property value such as
// "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE,FR;COUNT=10".
// Unknown keys are ignored.
func ParseRule(raw string) Rule {
	r := Rule{Interval: 1}
	for _, part := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.ToUpper(k) {
		case "FREQ":
			r.Freq = strings.ToUpper(strings.TrimSpace(v))
		case "INTERVAL":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				r.Interval = n
			}
		case "COUNT":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				r.Count = n
			}
		case "UNTIL":
			if t, err := parseDateTimeValue(v, 0); err == nil {
				r.Until = &t
			}
		case "BYDAY":
			for _, d := range strings.Split(v, ",") {
				d = strings.ToUpper(strings.TrimSpace(d))
				if d != "" {
					r.ByDay = append(r.ByDay, d)
				}
			}
		}
	}
	return r
}

var frequencies = map[string]rrule.Frequency{
	"DAILY":   rrule.DAILY,
	"WEEKLY":  rrule.WEEKLY,
	"MONTHLY": rrule.MONTHLY,
	"YEARLY":  rrule.YEARLY,
}

var weekdays = map[string]rrule.Weekday{
	"MO": rrule.MO,
	"TU": rrule.TU,
	"WE": rrule.WE,
	"TH": rrule.TH,
	"FR": rrule.FR,
	"SA": rrule.SA,
	"SU": rrule.SU,
}

// Expand returns the ordered occurrence start times of a recurring event
// template that intersect the query window [qStart, qEnd), each occurrence
// having implicit end = start + dur. It is a pure function of its inputs.
//
// Unsupported FREQ values yield an empty result, not an error: a rule the
// decoder cannot expand must not abort processing of the remaining events.
// The second return value reports whether the occurrence cap was hit and
// the result is therefore partial.
func Expand(start time.Time, dur time.Duration, r Rule, qStart, qEnd time.Time) ([]time.Time, bool) {
	freq, ok := frequencies[r.Freq]
	if !ok {
		appLog.Debug("expand: unsupported FREQ, skipping rule", "freq", r.Freq)
		return nil, false
	}
	if qEnd.Before(qStart) {
		return nil, false
	}

	opt := rrule.ROption{
		Freq:    freq,
		Dtstart: start,
	}
	if r.Interval > 0 {
		opt.Interval = r.Interval
	}
	if r.Count > 0 {
		opt.Count = r.Count
	}
	if r.Until != nil {
		opt.Until = *r.Until
	}
	for _, d := range r.ByDay {
		wd, ok := weekdays[d]
		if !ok {
			appLog.Debug("expand: unknown BYDAY code ignored", "byday", d)
			continue
		}
		opt.Byweekday = append(opt.Byweekday, wd)
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		appLog.Error("expand: failed to build rule", err, "freq", r.Freq)
		return nil, false
	}

	// Widen the lower bound by the duration so an occurrence that starts
	// before the window but still overlaps it is not lost, then filter on
	// actual interval intersection.
	raw := rule.Between(qStart.Add(-dur), qEnd, true)

	truncated := false
	if len(raw) > maxOccurrences {
		raw = raw[:maxOccurrences]
		truncated = true
		appLog.Error("expand: occurrence cap reached, result truncated", nil,
			"cap", maxOccurrences, "freq", r.Freq)
	}

	out := make([]time.Time, 0, len(raw))
	for _, occ := range raw {
		if intersects(occ, occ.Add(dur), qStart, qEnd) {
			out = append(out, occ)
		}
	}
	return out, truncated
}

// intersects reports strict half-open overlap of [aStart,aEnd) and
// [bStart,bEnd). Touching intervals do not overlap.
func intersects(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
