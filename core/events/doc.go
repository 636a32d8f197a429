// Package events defines the notifications emitted by pumps, the scheduler
// and the mode controller. They are fanned out on the event bus to the
// telemetry consumers (metrics sinks, run log).
//
// Available event types:
//   - PumpState: a pump switched ON or OFF
//   - PumpProgress: daily goal progress of a pump
//   - PowerSample: smoothed production/consumption after a reading
//   - ModeChange: operating mode transition
package events
