package metrics

import (
	"errors"

	"github.com/kilianp07/pipump/core/events"
)

// MultiSink fans events out to several sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordPumpState forwards to all sinks. Every sink is tried; the errors are
// joined.
func (m *MultiSink) RecordPumpState(ev events.PumpState) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordPumpState(ev))
	}
	return errors.Join(errs...)
}

// RecordPumpProgress forwards progress to the sinks that record it.
func (m *MultiSink) RecordPumpProgress(ev events.PumpProgress) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(ProgressRecorder); ok {
			errs = append(errs, r.RecordPumpProgress(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordPowerSample forwards power readings.
func (m *MultiSink) RecordPowerSample(ev events.PowerSample) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(PowerRecorder); ok {
			errs = append(errs, r.RecordPowerSample(ev))
		}
	}
	return errors.Join(errs...)
}

// RecordModeChange forwards mode transitions.
func (m *MultiSink) RecordModeChange(ev events.ModeChange) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(ModeRecorder); ok {
			errs = append(errs, r.RecordModeChange(ev))
		}
	}
	return errors.Join(errs...)
}

// Close releases the sinks holding connections.
func (m *MultiSink) Close() {
	for _, s := range m.Sinks {
		if c, ok := s.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
