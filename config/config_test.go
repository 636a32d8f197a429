package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/pipump/core/pump"
)

const sample = `pumps:
  - name: main
    power: 300
    runtime: 2.5
    gpio: GPIO17
  - name: aux
    power: 150
    runtime: 1
    chained: main
    gpio: GPIO27
    active_low: true
scheduler:
  interval_seconds: 30
  mode: manual
pvsystem:
  type: envoy
  envoy:
    host: 192.168.1.30
    token: abc
mqtt:
  broker: tcp://localhost:1883
  uid: pool
metrics:
  sinks:
    - type: prometheus
runlog:
  backend: sqlite
http:
  addr: ":8080"
`

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeFile(t, "config.yaml", sample))
	require.NoError(t, err)

	require.Len(t, cfg.Pumps, 2)
	assert.Equal(t, 150*time.Minute, cfg.Pumps[0].PumpSpec().DesiredRuntime)
	assert.Equal(t, "main", cfg.Pumps[1].Chained)
	assert.True(t, cfg.Pumps[1].ActiveLow)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.Interval())
	assert.Equal(t, "manual", cfg.Scheduler.Mode)
	assert.Equal(t, "192.168.1.30", cfg.PVSystem.Envoy.Host)
	assert.Equal(t, "pipump_pool", cfg.MQTT.ClientID)
	assert.Equal(t, "homeassistant", cfg.MQTT.DiscoveryPrefix)
	require.Len(t, cfg.Metrics.Sinks, 1)
	assert.Equal(t, "prometheus", cfg.Metrics.Sinks[0].Type)
	assert.Equal(t, "pipump-runs.db", cfg.RunLog.Path)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "gpio", cfg.Actuator.Type)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadJSON(t *testing.T) {
	data := `{"pumps":[{"name":"main","power":300,"runtime":1}],"pvsystem":{"type":"static","static":{"production":500}}}`
	cfg, err := Load(writeFile(t, "config.json", data))
	require.NoError(t, err)
	assert.Equal(t, "AUTO", cfg.Scheduler.Mode)
	assert.Equal(t, 500, cfg.PVSystem.Static.Production)
	assert.False(t, cfg.MQTT.Enabled())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PIPUMP_MQTT__BROKER", "tcp://broker:1883")
	t.Setenv("PIPUMP_SCHEDULER__MODE", "off")
	cfg, err := Load(writeFile(t, "config.yaml", sample))
	require.NoError(t, err)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "off", cfg.Scheduler.Mode)
}

func TestLoadUnsupportedFormat(t *testing.T) {
	_, err := Load(writeFile(t, "config.toml", ""))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		c := Config{
			Pumps:    []PumpConfig{{Name: "main", Power: 300, Runtime: 1}},
			PVSystem: PVSystemConfig{Type: "static"},
		}
		c.SetDefaults()
		return c
	}
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no pumps", func(c *Config) { c.Pumps = nil }},
		{"missing power", func(c *Config) { c.Pumps[0].Power = 0 }},
		{"missing runtime", func(c *Config) { c.Pumps[0].Runtime = 0 }},
		{"duplicate", func(c *Config) { c.Pumps = append(c.Pumps, c.Pumps[0]) }},
		{"unknown upstream", func(c *Config) { c.Pumps[0].Chained = "ghost" }},
		{"self chain", func(c *Config) { c.Pumps[0].Chained = "main" }},
		{"cycle", func(c *Config) {
			c.Pumps[0].Chained = "aux"
			c.Pumps = append(c.Pumps, PumpConfig{Name: "aux", Power: 100, Runtime: 1, Chained: "main"})
		}},
		{"bad mode", func(c *Config) { c.Scheduler.Mode = "turbo" }},
		{"envoy without host", func(c *Config) { c.PVSystem.Type = "envoy" }},
		{"unknown pvsystem", func(c *Config) { c.PVSystem.Type = "sma" }},
		{"unknown actuator", func(c *Config) { c.Actuator.Type = "relayboard" }},
		{"unknown runlog", func(c *Config) { c.RunLog.Backend = "csv" }},
		{"mqtt qos", func(c *Config) {
			q := byte(3)
			c.MQTT.Broker = "tcp://x:1883"
			c.MQTT.QoS = &q
		}},
	}
	ok := base()
	require.NoError(t, ok.Validate())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base()
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestBuildPumps(t *testing.T) {
	cfgs := []PumpConfig{
		{Name: "aux", Power: 150, Runtime: 1, Chained: "main"},
		{Name: "main", Power: 300, Runtime: 2},
	}
	var seen []string
	ps, err := BuildPumps(cfgs, func(c PumpConfig) ([]pump.Option, error) {
		seen = append(seen, c.Name)
		return []pump.Option{pump.WithActuator(pump.NopActuator{})}, nil
	})
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, []string{"aux", "main"}, seen)
	assert.Same(t, ps[1], ps[0].Upstream())
}

func TestActuatorModule(t *testing.T) {
	m := PumpConfig{Name: "main", GPIO: "GPIO17", ActiveLow: true}.ActuatorModule("emulated")
	assert.Equal(t, "emulated", m.Type)
	assert.Equal(t, "GPIO17", m.Conf["pin"])
	assert.Equal(t, true, m.Conf["active_low"])
}

func TestStaticSource(t *testing.T) {
	c := PVSystemConfig{Type: "static", Static: StaticConfig{Production: 800, Consumption: 200}}
	c.SetDefaults()
	src, err := c.NewSource(nil)
	require.NoError(t, err)
	assert.Equal(t, 600, src.Update(context.Background()))
}
