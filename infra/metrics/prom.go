package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/pipump/core/events"
	coremetrics "github.com/kilianp07/pipump/core/metrics"
	"github.com/kilianp07/pipump/core/mode"
)

// PromSink exposes pump telemetry as Prometheus metrics.
type PromSink struct {
	running      *prometheus.GaugeVec
	progress     *prometheus.GaugeVec
	runtime      *prometheus.GaugeVec
	starts       *prometheus.CounterVec
	production   prometheus.Gauge
	consumption  prometheus.Gauge
	availability prometheus.Gauge
	mode         *prometheus.GaugeVec
}

// NewPromSink registers pump metrics on the default Prometheus registerer.
func NewPromSink() (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// register returns the already registered collector when c is a duplicate,
// so that several sinks can share the default registerer.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.running, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipump_pump_running",
		Help: "1 while the pump is ON",
	}, []string{"pump"})); err != nil {
		return nil, err
	}
	if s.progress, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipump_pump_goal_progress_percent",
		Help: "Share of the daily runtime goal reached",
	}, []string{"pump"})); err != nil {
		return nil, err
	}
	if s.runtime, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipump_pump_runtime_seconds",
		Help: "Runtime accumulated today, including the current run",
	}, []string{"pump"})); err != nil {
		return nil, err
	}
	if s.starts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipump_pump_starts_total",
		Help: "Number of OFF to ON transitions",
	}, []string{"pump"})); err != nil {
		return nil, err
	}
	if s.production, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipump_power_production_watts",
		Help: "Smoothed solar production",
	})); err != nil {
		return nil, err
	}
	if s.consumption, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipump_power_consumption_watts",
		Help: "Smoothed household consumption",
	})); err != nil {
		return nil, err
	}
	if s.availability, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pipump_power_availability_watts",
		Help: "Production minus consumption",
	})); err != nil {
		return nil, err
	}
	if s.mode, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipump_operating_mode",
		Help: "1 for the current operating mode",
	}, []string{"mode"})); err != nil {
		return nil, err
	}
	return s, nil
}

// RecordPumpState updates the running gauge and counts starts.
func (s *PromSink) RecordPumpState(ev events.PumpState) error {
	if ev.On {
		s.running.WithLabelValues(ev.Pump).Set(1)
		s.starts.WithLabelValues(ev.Pump).Inc()
		return nil
	}
	s.running.WithLabelValues(ev.Pump).Set(0)
	return nil
}

// RecordPumpProgress updates the progress and runtime gauges.
func (s *PromSink) RecordPumpProgress(ev events.PumpProgress) error {
	s.progress.WithLabelValues(ev.Pump).Set(float64(ev.Percent))
	s.runtime.WithLabelValues(ev.Pump).Set(ev.Runtime.Seconds())
	return nil
}

// RecordPowerSample updates the power gauges.
func (s *PromSink) RecordPowerSample(ev events.PowerSample) error {
	s.production.Set(float64(ev.Production))
	s.consumption.Set(float64(ev.Consumption))
	s.availability.Set(float64(ev.Availability))
	return nil
}

// RecordModeChange sets the gauge of the new mode to 1 and the others to 0.
func (s *PromSink) RecordModeChange(ev events.ModeChange) error {
	for _, m := range mode.Modes {
		v := 0.0
		if m.String() == ev.To {
			v = 1
		}
		s.mode.WithLabelValues(m.String()).Set(v)
	}
	return nil
}
