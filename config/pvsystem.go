package config

import (
	"fmt"

	"github.com/kilianp07/pipump/core/logger"
	"github.com/kilianp07/pipump/core/power"
	"github.com/kilianp07/pipump/infra/envoy"
)

// PVSystemConfig selects the power source.
type PVSystemConfig struct {
	// Type is "envoy" or "static".
	Type   string       `json:"type" yaml:"type"`
	Envoy  envoy.Config `json:"envoy" yaml:"envoy,omitempty"`
	Static StaticConfig `json:"static" yaml:"static,omitempty"`
}

// StaticConfig feeds constant readings, for dry runs.
type StaticConfig struct {
	Production  int `json:"production" yaml:"production"`
	Consumption int `json:"consumption" yaml:"consumption"`
	Window      int `json:"window" yaml:"window,omitempty"`
}

func (c *PVSystemConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "envoy"
	}
	if c.Static.Window == 0 {
		c.Static.Window = power.DefaultWindow
	}
}

func (c PVSystemConfig) Validate() error {
	switch c.Type {
	case "envoy":
		if c.Envoy.Host == "" {
			return fmt.Errorf("pvsystem: envoy.host is required")
		}
	case "static":
	default:
		return fmt.Errorf("pvsystem: unknown type %q", c.Type)
	}
	return nil
}

// NewSource returns the configured power source. The envoy client is
// created here so that the credentials are checked before startup.
func (c PVSystemConfig) NewSource(log logger.Logger) (power.Source, error) {
	switch c.Type {
	case "static":
		st := c.Static
		return power.NewStatic(st.Window, func() (int, int, bool) {
			return st.Production, st.Consumption, true
		}), nil
	case "envoy":
		cl, err := envoy.New(c.Envoy, log)
		if err != nil {
			return nil, err
		}
		return cl, nil
	}
	return nil, fmt.Errorf("pvsystem: unknown type %q", c.Type)
}
