package pump

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kilianp07/pipump/core/events"
	"github.com/kilianp07/pipump/core/logger"
	"github.com/kilianp07/pipump/core/monitoring"
)

var (
	ErrInvalidConfig  = errors.New("invalid pump config")
	ErrSelfChain      = errors.New("pump cannot be chained to itself")
	ErrCycle          = errors.New("pump chain contains a cycle")
	ErrAlreadyChained = errors.New("pump is already chained")
)

// Config holds the static description of a pump.
type Config struct {
	Name           string
	Power          int
	DesiredRuntime time.Duration
}

// StateListener is notified of ON/OFF transitions.
type StateListener func(events.PumpState)

// ProgressListener is notified of goal progress after every Update.
type ProgressListener func(events.PumpProgress)

// Option customises a Pump.
type Option func(*Pump)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pump) { p.now = now }
}

// WithActuator sets the physical output driver.
func WithActuator(a Actuator) Option {
	return func(p *Pump) {
		if a != nil {
			p.act = a
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pump) { p.log = logger.OrNop(l) }
}

// Pump is a water pump with a daily runtime quota.
type Pump struct {
	name    string
	power   int
	desired time.Duration

	now func() time.Time
	act Actuator
	log logger.Logger

	mu           sync.Mutex
	accumulated  time.Duration
	runningSince time.Time
	lastReset    time.Time
	upstream     *Pump
	onState      []StateListener
	onProgress   []ProgressListener
}

// New validates cfg and returns a stopped pump whose counters start today.
func New(cfg Config, opts ...Option) (*Pump, error) {
	switch {
	case cfg.Name == "":
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	case cfg.Power <= 0:
		return nil, fmt.Errorf("%w: pump %s: power must be positive", ErrInvalidConfig, cfg.Name)
	case cfg.DesiredRuntime <= 0:
		return nil, fmt.Errorf("%w: pump %s: runtime must be positive", ErrInvalidConfig, cfg.Name)
	}
	p := &Pump{
		name:    cfg.Name,
		power:   cfg.Power,
		desired: cfg.DesiredRuntime,
		now:     time.Now,
		act:     NopActuator{},
		log:     logger.NopLogger{},
	}
	for _, o := range opts {
		o(p)
	}
	p.lastReset = day(p.now())
	return p, nil
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func (p *Pump) Name() string                  { return p.name }
func (p *Pump) Power() int                    { return p.power }
func (p *Pump) DesiredRuntime() time.Duration { return p.desired }

// Chain makes p depend on upstream. Links are set once at startup.
func (p *Pump) Chain(upstream *Pump) error {
	if upstream == nil {
		return nil
	}
	if upstream == p {
		return fmt.Errorf("%w: %s", ErrSelfChain, p.name)
	}
	for u := upstream; u != nil; u = u.Upstream() {
		if u == p {
			return fmt.Errorf("%w: %s -> %s", ErrCycle, p.name, upstream.name)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.upstream != nil {
		return fmt.Errorf("%w: %s -> %s", ErrAlreadyChained, p.name, p.upstream.name)
	}
	p.upstream = upstream
	return nil
}

// Upstream returns the pump p depends on, or nil.
func (p *Pump) Upstream() *Pump {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.upstream
}

func (p *Pump) IsChained() bool { return p.Upstream() != nil }

func (p *Pump) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.runningSince.IsZero()
}

// RunningSince returns the start of the current run.
func (p *Pump) RunningSince() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runningSince, !p.runningSince.IsZero()
}

// AccumulatedRuntime is the runtime of today's completed runs. The ongoing
// run is only added when the pump stops.
func (p *Pump) AccumulatedRuntime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.accumulated
}

// OnStateChange registers l. Listeners run in registration order.
func (p *Pump) OnStateChange(l StateListener) {
	p.mu.Lock()
	p.onState = append(p.onState, l)
	p.mu.Unlock()
}

// OnProgress registers l. Listeners run in registration order.
func (p *Pump) OnProgress(l ProgressListener) {
	p.mu.Lock()
	p.onProgress = append(p.onProgress, l)
	p.mu.Unlock()
}

// elapsedLocked is the length of the ongoing run. A clock going backwards
// yields zero.
func (p *Pump) elapsedLocked(now time.Time) time.Duration {
	if p.runningSince.IsZero() {
		return 0
	}
	if d := now.Sub(p.runningSince); d > 0 {
		return d
	}
	return 0
}

// ShouldRun reports whether the daily quota is not reached yet. A chained
// pump only wants to run while its upstream does.
func (p *Pump) ShouldRun() bool {
	p.mu.Lock()
	want := p.accumulated < p.desired
	up := p.upstream
	p.mu.Unlock()
	if !want {
		return false
	}
	if up != nil {
		return up.ShouldRun()
	}
	return true
}

// CanRun decides whether p may run within the available budget and returns
// the budget left once p's draw is reserved. A running pump keeps running
// as long as the budget is not negative, without reserving its draw again.
func (p *Pump) CanRun(available int) (bool, int) {
	p.mu.Lock()
	running := !p.runningSince.IsZero()
	up := p.upstream
	p.mu.Unlock()

	if up != nil {
		if !up.IsRunning() {
			return false, available
		}
		if running {
			return available >= 0, available
		}
		if ok, _ := up.CanRun(available - p.power); ok {
			return true, available - p.power
		}
		return false, available
	}

	if running {
		return available >= 0, available
	}
	if available >= p.power {
		return true, available - p.power
	}
	return false, available
}

// TurnOn starts the pump. It is a no-op when already running.
func (p *Pump) TurnOn() {
	p.mu.Lock()
	if !p.runningSince.IsZero() {
		p.mu.Unlock()
		return
	}
	now := p.now()
	p.runningSince = now
	p.mu.Unlock()

	p.log.Infof("starting pump %s", p.name)
	if err := p.act.SetHigh(); err != nil {
		p.log.Errorf("pump %s: actuate high: %v", p.name, err)
		monitoring.Capture(fmt.Errorf("actuate high: %w", err), "pump", p.name)
	}
	p.fireState(events.PumpState{Pump: p.name, On: true, Time: now, Started: now})
}

// TurnOff stops the pump and books the run into today's runtime. It is a
// no-op when already stopped.
func (p *Pump) TurnOff() {
	p.mu.Lock()
	if p.runningSince.IsZero() {
		p.mu.Unlock()
		return
	}
	now := p.now()
	started := p.runningSince
	ran := p.elapsedLocked(now)
	p.accumulated += ran
	p.runningSince = time.Time{}
	p.mu.Unlock()

	p.log.Infof("stopping pump %s after %s", p.name, ran.Round(time.Second))
	if err := p.act.SetLow(); err != nil {
		p.log.Errorf("pump %s: actuate low: %v", p.name, err)
		monitoring.Capture(fmt.Errorf("actuate low: %w", err), "pump", p.name)
	}
	p.fireState(events.PumpState{Pump: p.name, On: false, Time: now, Started: started, Ran: ran})
}

// Update runs the per tick housekeeping: stop once the quota is reached,
// stop and reset the counters when the calendar day changed, then publish
// the goal progress.
func (p *Pump) Update() {
	now := p.now()
	today := day(now)

	p.mu.Lock()
	quota := !p.runningSince.IsZero() && p.accumulated+p.elapsedLocked(now) >= p.desired
	rollover := today.After(p.lastReset)
	p.mu.Unlock()

	if quota {
		p.log.Infof("pump %s reached its daily runtime of %s", p.name, p.desired)
		p.TurnOff()
	}
	if rollover {
		// stop first so that the ongoing run is booked on the previous day
		p.TurnOff()
		p.mu.Lock()
		p.accumulated = 0
		p.lastReset = today
		p.mu.Unlock()
		p.log.Infof("pump %s: new day %s, runtime counters reset", p.name, today.Format(time.DateOnly))
	}
	p.fireProgress(p.progress(now))
}

// GoalProgress is the percentage of the daily quota reached so far,
// including the ongoing run.
func (p *Pump) GoalProgress() int {
	return p.progress(p.now()).Percent
}

func (p *Pump) progress(now time.Time) events.PumpProgress {
	p.mu.Lock()
	runtime := p.accumulated + p.elapsedLocked(now)
	running := !p.runningSince.IsZero()
	p.mu.Unlock()
	pct := int(math.Round(100 * float64(runtime) / float64(p.desired)))
	return events.PumpProgress{
		Pump:    p.name,
		Percent: pct,
		Runtime: runtime,
		Desired: p.desired,
		Running: running,
		Time:    now,
	}
}

// Snapshot is a read-only view of a pump.
type Snapshot struct {
	Name           string     `json:"name"`
	Power          int        `json:"power"`
	Running        bool       `json:"running"`
	RunningSince   *time.Time `json:"running_since,omitempty"`
	RuntimeSeconds int64      `json:"runtime_seconds"`
	DesiredSeconds int64      `json:"desired_seconds"`
	Progress       int        `json:"progress"`
	ShouldRun      bool       `json:"should_run"`
	Upstream       string     `json:"upstream,omitempty"`
	LastReset      string     `json:"last_reset"`
}

// Snapshot captures the current state of p.
func (p *Pump) Snapshot() Snapshot {
	now := p.now()
	pr := p.progress(now)
	s := Snapshot{
		Name:           p.name,
		Power:          p.power,
		Running:        pr.Running,
		RuntimeSeconds: int64(pr.Runtime / time.Second),
		DesiredSeconds: int64(p.desired / time.Second),
		Progress:       pr.Percent,
		ShouldRun:      p.ShouldRun(),
	}
	p.mu.Lock()
	if !p.runningSince.IsZero() {
		since := p.runningSince
		s.RunningSince = &since
	}
	if p.upstream != nil {
		s.Upstream = p.upstream.name
	}
	s.LastReset = p.lastReset.Format(time.DateOnly)
	p.mu.Unlock()
	return s
}

func (p *Pump) fireState(ev events.PumpState) {
	p.mu.Lock()
	ls := append([]StateListener(nil), p.onState...)
	p.mu.Unlock()
	for _, l := range ls {
		p.notify("state", func() { l(ev) })
	}
}

func (p *Pump) fireProgress(ev events.PumpProgress) {
	p.mu.Lock()
	ls := append([]ProgressListener(nil), p.onProgress...)
	p.mu.Unlock()
	for _, l := range ls {
		p.notify("progress", func() { l(ev) })
	}
}

// notify isolates listener panics from the pump and from later listeners.
func (p *Pump) notify(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%s listener panic: %v", kind, r)
			p.log.Errorf("pump %s: %v", p.name, err)
			monitoring.Capture(err, "pump", p.name)
		}
	}()
	fn()
}
