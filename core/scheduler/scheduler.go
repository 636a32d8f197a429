package scheduler

import (
	"context"
	"time"

	"github.com/kilianp07/pipump/core/events"
	"github.com/kilianp07/pipump/core/logger"
	"github.com/kilianp07/pipump/core/power"
	"github.com/kilianp07/pipump/core/pump"
)

// Publisher receives the power samples read by the scheduler. The typed
// event bus implements it.
type Publisher interface {
	Publish(events.Event)
}

// TickResult summarises the decisions of one tick.
type TickResult struct {
	Availability int
	Shed         string
	Started      []string
}

// Scheduler owns the pumps while the operating mode is AUTO.
type Scheduler struct {
	pumps    []*pump.Pump
	source   power.Source
	interval time.Duration
	log      logger.Logger
	pub      Publisher
	now      func() time.Time
}

// New returns a scheduler for pumps, ordered so that upstream pumps come
// first.
func New(pumps []*pump.Pump, source power.Source, cfg Config, log logger.Logger) *Scheduler {
	return &Scheduler{
		pumps:    pump.Order(pumps),
		source:   source,
		interval: cfg.Interval(),
		log:      logger.OrNop(log),
		now:      time.Now,
	}
}

// SetPublisher configures where power samples are published.
func (s *Scheduler) SetPublisher(p Publisher) { s.pub = p }

// Pumps returns the pumps in priority order.
func (s *Scheduler) Pumps() []*pump.Pump { return s.pumps }

// Interval returns the time between ticks.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Run ticks until ctx is cancelled. The next tick is only scheduled once
// the current one has finished, so ticks never overlap.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Infof("scheduler started, tick every %s", s.interval)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Infof("scheduler stopped")
			return
		case <-timer.C:
		}
		s.Tick(ctx)
		timer.Reset(s.interval)
	}
}

// Tick executes one decision cycle.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	for _, p := range s.pumps {
		p.Update()
	}

	availability := s.source.Update(ctx)
	res := TickResult{Availability: availability}
	if s.pub != nil {
		s.pub.Publish(events.PowerSample{
			Production:   s.source.Production(),
			Consumption:  s.source.Consumption(),
			Availability: availability,
			Time:         s.now(),
		})
	}
	if ctx.Err() != nil {
		s.log.Debugf("tick cancelled during power reading, no decision taken")
		return res
	}

	if availability <= 0 {
		res.Shed = s.shed(availability)
		return res
	}

	for _, p := range s.pumps {
		if !p.ShouldRun() {
			continue
		}
		ok, remaining := p.CanRun(availability)
		if !ok {
			continue
		}
		if !p.IsRunning() {
			s.log.Infof("%dW available, starting pump %s (%dW)", availability, p.Name(), p.Power())
			p.TurnOn()
			s.source.ResetConsumption()
			res.Started = append(res.Started, p.Name())
		}
		availability = remaining
	}
	s.log.Debugw("tick", map[string]any{
		"availability": res.Availability,
		"started":      res.Started,
	})
	return res
}

// shed stops the most downstream running pump. Only one pump is stopped per
// tick to avoid flapping.
func (s *Scheduler) shed(availability int) string {
	for i := len(s.pumps) - 1; i >= 0; i-- {
		p := s.pumps[i]
		if !p.IsRunning() {
			continue
		}
		s.log.Infof("power deficit (%dW available), stopping pump %s", availability, p.Name())
		p.TurnOff()
		s.source.ResetConsumption()
		return p.Name()
	}
	return ""
}
