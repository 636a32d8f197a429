// Package dailykpi rebuilds the daily runtime totals from the run log.
package dailykpi

import (
	"context"
	"time"

	"github.com/kilianp07/pipump/core/runlog"
	"github.com/kilianp07/pipump/infra/kpi"
)

// Rebuilder replaces the totals of a pump and day range.
type Rebuilder interface {
	Rebuild(ctx context.Context, pump string, start, end time.Time, recs []runlog.Record) (int, error)
}

// Backfill recomputes the daily totals covered by q from the runs in src and
// returns how many runs were counted. The bounds of q are widened to whole
// days, so running it again yields the same totals.
func Backfill(ctx context.Context, dst Rebuilder, src runlog.Store, q runlog.Query) (int, error) {
	if !q.Start.IsZero() {
		q.Start = kpi.Day(q.Start)
	}
	if !q.End.IsZero() {
		q.End = kpi.Day(q.End).AddDate(0, 0, 1).Add(-time.Millisecond)
	}
	recs, err := src.Query(ctx, q)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return dst.Rebuild(ctx, q.Pump, q.Start, q.End, recs)
}
