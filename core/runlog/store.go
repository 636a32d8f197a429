package runlog

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kilianp07/pipump/core/events"
	"github.com/kilianp07/pipump/core/logger"
	"github.com/kilianp07/pipump/core/monitoring"
)

// Record is one completed run of a pump.
type Record struct {
	Pump     string    `json:"pump"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Duration float64   `json:"duration_seconds"`
}

// Query selects the runs of Pump overlapping [Start, End]. Zero values do
// not filter.
type Query struct {
	Pump  string
	Start time.Time
	End   time.Time
}

func (q Query) match(r Record) bool {
	if q.Pump != "" && r.Pump != q.Pump {
		return false
	}
	if !q.Start.IsZero() && r.End.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Start.After(q.End) {
		return false
	}
	return true
}

// Appender receives completed runs.
type Appender interface {
	Append(ctx context.Context, rec Record) error
}

// Store persists Records and supports querying.
type Store interface {
	Appender
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Config selects the backend. An empty backend disables the run log.
type Config struct {
	Backend    string `json:"backend" yaml:"backend,omitempty"`
	Path       string `json:"path" yaml:"path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days,omitempty"`
}

// Open returns the store described by cfg.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "none":
		return NopStore{}, nil
	case "jsonl":
		return NewRotatingJSONLStore(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	}
	return nil, fmt.Errorf("unknown runlog backend %q", cfg.Backend)
}

// NopStore discards records.
type NopStore struct{}

func (NopStore) Append(context.Context, Record) error           { return nil }
func (NopStore) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopStore) Close() error                                   { return nil }

// FromEvent converts an OFF transition into a Record.
func FromEvent(ev events.PumpState) (Record, bool) {
	if ev.On || ev.Started.IsZero() {
		return Record{}, false
	}
	return Record{
		Pump:     ev.Pump,
		Start:    ev.Started,
		End:      ev.Time,
		Duration: ev.Ran.Seconds(),
	}, true
}

// Consume appends a Record for every completed run read from sub until ctx
// is cancelled or sub is closed.
func Consume(ctx context.Context, sub <-chan events.Event, store Appender, log logger.Logger) {
	log = logger.OrNop(log)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			st, isState := ev.(events.PumpState)
			if !isState {
				continue
			}
			rec, ok := FromEvent(st)
			if !ok {
				continue
			}
			if err := store.Append(ctx, rec); err != nil {
				log.Errorf("append run of %s: %v", rec.Pump, err)
				monitoring.Capture(err, "runlog", rec.Pump)
			}
		}
	}
}

func sortByStart(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Start.Before(recs[j].Start) })
}
