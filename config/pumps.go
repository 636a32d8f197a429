package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kilianp07/pipump/core/factory"
	"github.com/kilianp07/pipump/core/pump"
)

// PumpConfig describes one pump. Runtime is the daily quota in hours.
type PumpConfig struct {
	Name      string  `json:"name" yaml:"name"`
	Power     int     `json:"power" yaml:"power"`
	Runtime   float64 `json:"runtime" yaml:"runtime"`
	Chained   string  `json:"chained" yaml:"chained,omitempty"`
	GPIO      string  `json:"gpio" yaml:"gpio,omitempty"`
	ActiveLow bool    `json:"active_low" yaml:"active_low,omitempty"`
}

// PumpSpec converts the configuration to the pump's own description.
func (p PumpConfig) PumpSpec() pump.Config {
	return pump.Config{
		Name:           p.Name,
		Power:          p.Power,
		DesiredRuntime: time.Duration(math.Round(p.Runtime * float64(time.Hour))),
	}
}

// ActuatorModule returns the factory config of the pump's relay for the
// given actuator type.
func (p PumpConfig) ActuatorModule(typ string) factory.ModuleConfig {
	return factory.ModuleConfig{
		Type: typ,
		Conf: map[string]any{"pin": p.GPIO, "active_low": p.ActiveLow, "pump": p.Name},
	}
}

// ActuatorConfig selects the relay driver used for every pump.
type ActuatorConfig struct {
	// Type is "gpio", "emulated" or "nop".
	Type string `json:"type" yaml:"type"`
}

func (a *ActuatorConfig) SetDefaults() {
	if a.Type == "" {
		a.Type = "gpio"
	}
}

func (a ActuatorConfig) Validate() error {
	switch a.Type {
	case "nop", "gpio", "emulated":
		return nil
	}
	return fmt.Errorf("actuator: unknown type %q", a.Type)
}

var ErrNoPumps = errors.New("at least one pump is required")

// Chains maps every chained pump to the name of its upstream.
func Chains(cfgs []PumpConfig) map[string]string {
	refs := make(map[string]string)
	for _, c := range cfgs {
		if c.Chained != "" {
			refs[c.Name] = c.Chained
		}
	}
	return refs
}

// BuildPumps creates and links the configured pumps. opts returns the
// options of each pump, typically its actuator and logger.
func BuildPumps(cfgs []PumpConfig, opts func(PumpConfig) ([]pump.Option, error)) ([]*pump.Pump, error) {
	out := make([]*pump.Pump, 0, len(cfgs))
	for _, c := range cfgs {
		var o []pump.Option
		if opts != nil {
			var err error
			if o, err = opts(c); err != nil {
				return nil, fmt.Errorf("pump %s: %w", c.Name, err)
			}
		}
		p, err := pump.New(c.PumpSpec(), o...)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := pump.Link(out, Chains(cfgs)); err != nil {
		return nil, err
	}
	return out, nil
}

// validatePumps builds the pumps without side effects so that every
// problem the scheduler would hit is reported at load time.
func validatePumps(cfgs []PumpConfig) error {
	if len(cfgs) == 0 {
		return ErrNoPumps
	}
	seen := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		if seen[c.Name] {
			return fmt.Errorf("%w: duplicate pump name %q", pump.ErrInvalidConfig, c.Name)
		}
		seen[c.Name] = true
	}
	_, err := BuildPumps(cfgs, nil)
	return err
}
