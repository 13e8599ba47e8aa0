// Package stats derives per-day and per-week analytics from the notes.
// Stats are always recomputed from the documents; they are never a source
// of truth.
package stats

import (
	"fmt"
	"time"

	"calnote/internal/model"
	"calnote/internal/note"
)

// Aggregator reads notes back through the same store the merge engine
// writes through.
type Aggregator struct {
	notes *note.Store
}

func New(notes *note.Store) *Aggregator {
	return &Aggregator{notes: notes}
}

// Associate attributes each completed pomodoro record to the first event
// (in document order) whose interval overlaps it, under strict half-open
// overlap. A record overlapping no event stays unattributed but still
// counts toward the day total. The returned events carry their
// CompletedUnits; the inputs are not mutated.
func Associate(events []model.CalendarEvent, records []model.PomodoroRecord) []model.CalendarEvent {
	out := make([]model.CalendarEvent, len(events))
	copy(out, events)
	for _, rec := range records {
		for i := range out {
			if rec.Start.Before(out[i].End) && rec.End.After(out[i].Start) {
				out[i].CompletedUnits++
				break
			}
		}
	}
	return out
}

// Day computes the aggregates for one calendar date.
func (a *Aggregator) Day(date time.Time) (model.DayStats, error) {
	doc, err := a.notes.ReadDay(date)
	if err != nil {
		return model.DayStats{}, fmt.Errorf("stats: %w", err)
	}

	stats := model.DayStats{
		Date:         date,
		MinutesByCat: make(map[model.Category]int),
	}
	if doc == "" {
		return stats, nil
	}

	events := note.ParseEvents(doc, date, a.notes.PathFor(date))
	records := note.ParsePomodoros(doc)
	events = Associate(events, records)

	for _, ev := range events {
		minutes := int(ev.Duration().Minutes())
		stats.TotalMinutes += minutes
		stats.MinutesByCat[ev.Category] += minutes

		planned := ev.PlannedUnits
		if planned == 0 {
			// The plan table is the secondary source when the event line
			// itself carries no inline count.
			planned = note.PlannedFromTable(doc, ev.Title)
		}
		stats.PlannedUnits += planned
	}
	stats.CompletedUnits = len(records)
	return stats, nil
}

// Week computes the aggregates for the 7 consecutive days starting at
// weekStart.
func (a *Aggregator) Week(weekStart time.Time) (model.WeekStats, error) {
	week := model.WeekStats{
		WeekStart:    weekStart,
		Days:         make([]model.DayStats, 0, 7),
		MinutesByCat: make(map[model.Category]int),
	}
	for i := 0; i < 7; i++ {
		day, err := a.Day(weekStart.AddDate(0, 0, i))
		if err != nil {
			return model.WeekStats{}, err
		}
		week.Days = append(week.Days, day)
		week.TotalMinutes += day.TotalMinutes
		week.PlannedUnits += day.PlannedUnits
		week.CompletedUnits += day.CompletedUnits
		for cat, m := range day.MinutesByCat {
			week.MinutesByCat[cat] += m
		}
	}
	return week, nil
}
