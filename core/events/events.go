package events

import "time"

// Event is implemented by every notification type.
type Event interface {
	EventTime() time.Time
}

// PumpState is emitted on every effective ON/OFF transition. For OFF events
// Started and Ran describe the run that just ended.
type PumpState struct {
	Pump    string
	On      bool
	Time    time.Time
	Started time.Time
	Ran     time.Duration
}

func (e PumpState) EventTime() time.Time { return e.Time }

// StateString renders the state the way the command channel expects it.
func (e PumpState) StateString() string {
	if e.On {
		return "ON"
	}
	return "OFF"
}

// PumpProgress reports how much of the daily quota has been reached.
type PumpProgress struct {
	Pump    string
	Percent int
	Runtime time.Duration
	Desired time.Duration
	Running bool
	Time    time.Time
}

func (e PumpProgress) EventTime() time.Time { return e.Time }

// PowerSample is emitted by the scheduler after each power reading.
type PowerSample struct {
	Production   int
	Consumption  int
	Availability int
	Time         time.Time
}

func (e PowerSample) EventTime() time.Time { return e.Time }

// ModeChange is emitted after an effective operating mode transition.
type ModeChange struct {
	From string
	To   string
	Time time.Time
}

func (e ModeChange) EventTime() time.Time { return e.Time }
