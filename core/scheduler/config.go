package scheduler

import "time"

// DefaultInterval is the time between two ticks.
const DefaultInterval = 60 * time.Second

// Config defines the control loop parameters.
type Config struct {
	IntervalSeconds int `json:"interval_seconds" yaml:"interval_seconds"`
	// Mode is the operating mode at startup: AUTO, MANUAL or OFF.
	Mode string `json:"mode" yaml:"mode"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = int(DefaultInterval / time.Second)
	}
	if c.Mode == "" {
		c.Mode = "AUTO"
	}
}

// Interval returns the tick interval.
func (c Config) Interval() time.Duration {
	if c.IntervalSeconds <= 0 {
		return DefaultInterval
	}
	return time.Duration(c.IntervalSeconds) * time.Second
}
