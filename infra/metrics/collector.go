package metrics

import (
	"context"

	"github.com/kilianp07/pipump/core/events"
	coremetrics "github.com/kilianp07/pipump/core/metrics"
	"github.com/kilianp07/pipump/core/monitoring"
	"github.com/kilianp07/pipump/infra/logger"
	"github.com/kilianp07/pipump/internal/eventbus"
)

// StartEventCollector subscribes to the event bus and records every event
// in sink. It returns a channel closed once the collector has stopped, which
// happens when ctx is cancelled or the bus is closed.
func StartEventCollector(ctx context.Context, bus *eventbus.TypedBus[events.Event], sink coremetrics.MetricsSink) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	log := logger.New("metrics")
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if err := coremetrics.Record(sink, ev); err != nil {
					log.Warnf("record %T: %v", ev, err)
					monitoring.Capture(err, "metrics", "")
				}
			}
		}
	}()
	return done
}
