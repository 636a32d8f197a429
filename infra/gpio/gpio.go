// Package gpio drives pump relays. The "gpio" actuator uses periph.io pins
// and the "emulated" one only logs, for development machines.
package gpio

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/kilianp07/pipump/core/factory"
	"github.com/kilianp07/pipump/core/pump"
	"github.com/kilianp07/pipump/infra/logger"
)

// Config describes one relay output.
type Config struct {
	Pin       string `json:"pin"`
	ActiveLow bool   `json:"active_low"`
	Pump      string `json:"pump"`
}

// PinActuator switches a relay through a GPIO output.
type PinActuator struct {
	pin       gpio.PinOut
	activeLow bool
}

// NewPinActuator drives pin. With activeLow the relay closes on a low level.
func NewPinActuator(pin gpio.PinOut, activeLow bool) *PinActuator {
	return &PinActuator{pin: pin, activeLow: activeLow}
}

func (a *PinActuator) level(on bool) gpio.Level {
	if a.activeLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}

// SetHigh closes the relay.
func (a *PinActuator) SetHigh() error {
	if err := a.pin.Out(a.level(true)); err != nil {
		return fmt.Errorf("gpio %s: %w", a.pin.Name(), err)
	}
	return nil
}

// SetLow opens the relay.
func (a *PinActuator) SetLow() error {
	if err := a.pin.Out(a.level(false)); err != nil {
		return fmt.Errorf("gpio %s: %w", a.pin.Name(), err)
	}
	return nil
}

// Close opens the relay and releases the pin.
func (a *PinActuator) Close() error {
	return errors.Join(a.SetLow(), a.pin.Halt())
}

var (
	hostOnce sync.Once
	hostErr  error
)

func initHost() error {
	hostOnce.Do(func() {
		_, hostErr = host.Init()
	})
	return hostErr
}

// Emulated logs transitions instead of driving hardware.
type Emulated struct {
	name string
	log  logger.Logger
}

// NewEmulated returns an emulated relay for the named pump.
func NewEmulated(name string, log logger.Logger) *Emulated {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Emulated{name: name, log: log}
}

func (e *Emulated) SetHigh() error {
	e.log.Infof("emulated relay %s: HIGH", e.name)
	return nil
}

func (e *Emulated) SetLow() error {
	e.log.Infof("emulated relay %s: LOW", e.name)
	return nil
}

func init() {
	_ = pump.RegisterActuator("gpio", func(conf map[string]any) (pump.Actuator, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.Pin == "" {
			return nil, errors.New("gpio actuator: pin is required")
		}
		if err := initHost(); err != nil {
			return nil, fmt.Errorf("gpio host init: %w", err)
		}
		p := gpioreg.ByName(c.Pin)
		if p == nil {
			return nil, fmt.Errorf("gpio actuator: unknown pin %q", c.Pin)
		}
		return NewPinActuator(p, c.ActiveLow), nil
	})

	_ = pump.RegisterActuator("emulated", func(conf map[string]any) (pump.Actuator, error) {
		var c Config
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		name := c.Pump
		if c.Pin != "" {
			name = fmt.Sprintf("%s (%s)", c.Pump, c.Pin)
		}
		return NewEmulated(name, logger.New("gpio")), nil
	})
}
