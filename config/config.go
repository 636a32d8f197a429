package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/pipump/api/pumps"
	"github.com/kilianp07/pipump/core/metrics"
	"github.com/kilianp07/pipump/core/mode"
	"github.com/kilianp07/pipump/core/runlog"
	"github.com/kilianp07/pipump/core/scheduler"
	"github.com/kilianp07/pipump/infra/logger"
	"github.com/kilianp07/pipump/infra/monitoring"
	"github.com/kilianp07/pipump/infra/mqtt"
)

// EnvPrefix marks environment overrides. PIPUMP_MQTT__BROKER sets mqtt.broker.
const EnvPrefix = "PIPUMP_"

type Config struct {
	Pumps     []PumpConfig      `json:"pumps" yaml:"pumps"`
	Scheduler scheduler.Config  `json:"scheduler" yaml:"scheduler"`
	PVSystem  PVSystemConfig    `json:"pvsystem" yaml:"pvsystem"`
	MQTT      mqtt.Config       `json:"mqtt" yaml:"mqtt"`
	Actuator  ActuatorConfig    `json:"actuator" yaml:"actuator"`
	Metrics   metrics.Config    `json:"metrics" yaml:"metrics"`
	RunLog    runlog.Config     `json:"runlog" yaml:"runlog"`
	KPI       KPIConfig         `json:"kpi" yaml:"kpi"`
	HTTP      pumps.Config      `json:"http" yaml:"http"`
	Logging   logger.Config     `json:"logging" yaml:"logging"`
	Sentry    monitoring.Config `json:"sentry" yaml:"sentry"`
}

// KPIConfig enables the daily runtime totals when Path is set.
type KPIConfig struct {
	Path string `json:"path" yaml:"path,omitempty"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Scheduler.SetDefaults()
	c.PVSystem.SetDefaults()
	c.Actuator.SetDefaults()
	if c.MQTT.Enabled() {
		c.MQTT.SetDefaults()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.RunLog.Path == "" {
		switch c.RunLog.Backend {
		case "jsonl":
			c.RunLog.Path = "pipump-runs.jsonl"
		case "sqlite":
			c.RunLog.Path = "pipump-runs.db"
		}
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if err := validatePumps(c.Pumps); err != nil {
		return err
	}
	if _, err := mode.Parse(c.Scheduler.Mode); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.PVSystem.Validate(); err != nil {
		return err
	}
	if err := c.Actuator.Validate(); err != nil {
		return err
	}
	if c.MQTT.Enabled() {
		if err := c.MQTT.Validate(); err != nil {
			return err
		}
	}
	switch c.RunLog.Backend {
	case "", "none", "jsonl", "sqlite":
	default:
		return fmt.Errorf("runlog: unknown backend %q", c.RunLog.Backend)
	}
	return nil
}
