// Package sync orchestrates one end-to-end sync pass: retrieve remote
// occurrences for a date window, group them by calendar date and rewrite
// each date's note.
package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	appLog "calnote/internal/log"
	"calnote/internal/model"
	"calnote/internal/note"
)

// ErrSyncInProgress is returned when a sync is triggered while another
// one is still running. Triggers racing an in-flight sync are no-ops.
var ErrSyncInProgress = errors.New("sync: another sync is in progress")

// mergeParallelism bounds how many dates are merged concurrently.
// Cross-date merges touch disjoint files, so running them in parallel is
// safe; per-date work stays serialized.
const mergeParallelism = 4

// Source is the remote side of a sync: either the CalDAV transport or
// the REST client.
type Source interface {
	FetchEvents(ctx context.Context, qStart, qEnd time.Time) ([]model.CalendarEvent, error)
}

// Result is the single summary outcome of a sync pass. Isolated
// per-resource failures are logged by the layers below and do not appear
// here.
type Result struct {
	Events int
	Days   int
}

// Engine runs sync passes against one source and one note store. At most
// one pass runs at a time.
type Engine struct {
	source   Source
	notes    *note.Store
	inFlight atomic.Bool
}

func NewEngine(source Source, notes *note.Store) *Engine {
	return &Engine{source: source, notes: notes}
}

// Reconfigure swaps the engine's collaborators. It is the explicit
// configuration-update entry point; it fails while a sync is running.
func (e *Engine) Reconfigure(source Source, notes *note.Store) error {
	if e.inFlight.Load() {
		return ErrSyncInProgress
	}
	e.source = source
	e.notes = notes
	return nil
}

// Sync retrieves remote events for [qStart, qEnd] and merges them into
// the per-date notes. Fatal transport and auth errors abort the pass and
// are returned as-is.
func (e *Engine) Sync(ctx context.Context, qStart, qEnd time.Time) (Result, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer e.inFlight.Store(false)

	started := time.Now()
	events, err := e.source.FetchEvents(ctx, qStart, qEnd)
	if err != nil {
		return Result{}, err
	}

	byDate := groupByDate(events)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(mergeParallelism)
	for date, dayEvents := range byDate {
		date, dayEvents := date, dayEvents
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return e.notes.SyncDay(date, dayEvents)
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Events: len(events), Days: len(byDate)}
	appLog.Info("sync pass complete",
		"events", res.Events,
		"days", res.Days,
		"elapsed", time.Since(started).Round(time.Millisecond))
	return res, nil
}

// groupByDate buckets events by the local calendar date of their start.
// time.Time map keys compare the location as well as the instant, so
// every start is normalized to the local zone before bucketing; otherwise
// a UTC-parsed and a local-parsed event on the same day would land in two
// buckets resolving to the same note file.
func groupByDate(events []model.CalendarEvent) map[time.Time][]model.CalendarEvent {
	byDate := make(map[time.Time][]model.CalendarEvent)
	for _, ev := range events {
		y, m, d := ev.Start.In(time.Local).Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, time.Local)
		byDate[day] = append(byDate[day], ev)
	}
	return byDate
}
