package mode

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/pipump/core/events"
	"github.com/kilianp07/pipump/core/logger"
	"github.com/kilianp07/pipump/core/monitoring"
	"github.com/kilianp07/pipump/core/pump"
)

// Runner is the automatic control loop. Run must return once ctx is done.
type Runner interface {
	Run(ctx context.Context)
}

// Publisher receives mode change events.
type Publisher interface {
	Publish(events.Event)
}

// Listener is notified after every effective mode transition.
type Listener func(events.ModeChange)

// Controller owns the operating mode and the lifetime of the scheduler task.
type Controller struct {
	runner Runner
	pumps  []*pump.Pump
	byName map[string]*pump.Pump
	log    logger.Logger
	now    func() time.Time

	mu        sync.Mutex
	mode      Mode
	parent    context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	listeners []Listener
	pub       Publisher
}

// NewController returns a controller in OFF mode. Call Start to apply the
// initial mode.
func NewController(runner Runner, pumps []*pump.Pump, log logger.Logger) *Controller {
	return &Controller{
		runner: runner,
		pumps:  pumps,
		byName: pump.Index(pumps),
		log:    logger.OrNop(log),
		now:    time.Now,
		mode:   Off,
	}
}

// OnModeChange registers a listener.
func (c *Controller) OnModeChange(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// SetPublisher configures where mode change events are published.
func (c *Controller) SetPublisher(p Publisher) {
	c.mu.Lock()
	c.pub = p
	c.mu.Unlock()
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Start applies the initial mode. The scheduler task, when running, is a
// child of ctx.
func (c *Controller) Start(ctx context.Context, initial Mode) {
	c.mu.Lock()
	c.parent = ctx
	from := c.mode
	c.mode = initial
	c.enterLocked(initial)
	c.mu.Unlock()
	c.log.Infof("operating mode %s", initial)
	c.fire(events.ModeChange{From: from.String(), To: initial.String(), Time: c.now()})
}

// SetMode switches to m and reports whether a transition happened.
func (c *Controller) SetMode(m Mode) bool {
	c.mu.Lock()
	if m == c.mode {
		c.mu.Unlock()
		return false
	}
	from := c.mode
	if from == Auto {
		c.stopRunnerLocked()
	}
	c.mode = m
	c.enterLocked(m)
	c.mu.Unlock()

	c.log.Infof("operating mode changed from %s to %s", from, m)
	c.fire(events.ModeChange{From: from.String(), To: m.String(), Time: c.now()})
	return true
}

// SetModeString parses s and switches to it. Invalid names change nothing.
func (c *Controller) SetModeString(s string) error {
	m, err := Parse(s)
	if err != nil {
		c.log.Warnf("ignoring mode change: %v", err)
		return err
	}
	c.SetMode(m)
	return nil
}

// Switch applies a manual ON/OFF command to the named pump.
func (c *Controller) Switch(name, cmd string) error {
	p, ok := c.byName[name]
	if !ok {
		c.log.Warnf("ignoring command for unknown pump %q", name)
		return fmt.Errorf("%w: %q", ErrUnknownPump, name)
	}
	on, err := ParseCommand(cmd)
	if err != nil {
		c.log.Warnf("ignoring command for pump %s: %v", name, err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != Manual {
		c.log.Warnf("ignoring command %s for pump %s in %s mode", cmd, name, c.mode)
		return ErrNotManual
	}
	if on {
		p.TurnOn()
	} else {
		p.TurnOff()
	}
	return nil
}

// Stop cancels the scheduler task, if any, and waits for it to return.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopRunnerLocked()
	c.mu.Unlock()
}

func (c *Controller) enterLocked(m Mode) {
	switch m {
	case Auto:
		c.startRunnerLocked()
	case Off:
		for _, p := range c.pumps {
			p.TurnOff()
		}
	}
}

func (c *Controller) startRunnerLocked() {
	if c.runner == nil || c.cancel != nil {
		return
	}
	parent := c.parent
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	go func() {
		defer close(done)
		c.runner.Run(ctx)
	}()
}

// stopRunnerLocked blocks until the tick in progress has finished.
func (c *Controller) stopRunnerLocked() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.done = nil
}

func (c *Controller) fire(ev events.ModeChange) {
	c.mu.Lock()
	ls := append([]Listener(nil), c.listeners...)
	pub := c.pub
	c.mu.Unlock()
	if pub != nil {
		pub.Publish(ev)
	}
	for _, l := range ls {
		func() {
			defer func() {
				if r := recover(); r != nil {
					err := fmt.Errorf("mode listener panic: %v", r)
					c.log.Errorf("%v", err)
					monitoring.Capture(err, "mode", "")
				}
			}()
			l(ev)
		}()
	}
}
