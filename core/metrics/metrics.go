package metrics

import "github.com/kilianp07/pipump/core/events"

// MetricsSink records pump state transitions. It is the one event every
// sink must understand.
type MetricsSink interface {
	RecordPumpState(ev events.PumpState) error
}

// ProgressRecorder records daily goal progress.
type ProgressRecorder interface {
	RecordPumpProgress(ev events.PumpProgress) error
}

// PowerRecorder records smoothed power readings.
type PowerRecorder interface {
	RecordPowerSample(ev events.PowerSample) error
}

// ModeRecorder records operating mode transitions.
type ModeRecorder interface {
	RecordModeChange(ev events.ModeChange) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordPumpState(events.PumpState) error       { return nil }
func (NopSink) RecordPumpProgress(events.PumpProgress) error { return nil }
func (NopSink) RecordPowerSample(events.PowerSample) error   { return nil }
func (NopSink) RecordModeChange(events.ModeChange) error     { return nil }

// Record hands ev to the matching recorder of sink. Events the sink does not
// record are skipped.
func Record(sink MetricsSink, ev events.Event) error {
	switch e := ev.(type) {
	case events.PumpState:
		return sink.RecordPumpState(e)
	case events.PumpProgress:
		if r, ok := sink.(ProgressRecorder); ok {
			return r.RecordPumpProgress(e)
		}
	case events.PowerSample:
		if r, ok := sink.(PowerRecorder); ok {
			return r.RecordPowerSample(e)
		}
	case events.ModeChange:
		if r, ok := sink.(ModeRecorder); ok {
			return r.RecordModeChange(e)
		}
	}
	return nil
}
