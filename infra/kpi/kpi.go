// Package kpi aggregates completed pump runs into daily runtime totals.
package kpi

import (
	"context"
	"time"

	"github.com/kilianp07/pipump/core/runlog"
)

// Daily is the runtime of one pump over one calendar day.
type Daily struct {
	Pump           string    `json:"pump"`
	Day            time.Time `json:"day"`
	RuntimeSeconds float64   `json:"runtime_seconds"`
	Runs           int       `json:"runs"`
}

// Day truncates t to local midnight, the same boundary the pump counters
// reset on.
func Day(t time.Time) time.Time {
	t = t.Local()
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// Store accumulates runs per pump and day. A run is attributed to the day
// it started.
type Store interface {
	runlog.Appender
	Query(ctx context.Context, pump string, start, end time.Time) ([]Daily, error)
	Close() error
}
