package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/pipump/core/events"
)

// stateOnly records pump states and nothing else.
type stateOnly struct {
	states int
	err    error
}

func (s *stateOnly) RecordPumpState(events.PumpState) error {
	s.states++
	return s.err
}

type recordAll struct {
	stateOnly
	progress, power, modes int
}

func (r *recordAll) RecordPumpProgress(events.PumpProgress) error { r.progress++; return nil }
func (r *recordAll) RecordPowerSample(events.PowerSample) error   { r.power++; return nil }
func (r *recordAll) RecordModeChange(events.ModeChange) error     { r.modes++; return nil }

func TestRecordDispatchesByType(t *testing.T) {
	r := &recordAll{}
	now := time.Now()
	for _, ev := range []events.Event{
		events.PumpState{Pump: "main", On: true, Time: now},
		events.PumpProgress{Pump: "main", Time: now},
		events.PowerSample{Time: now},
		events.ModeChange{From: "OFF", To: "AUTO", Time: now},
	} {
		assert.NoError(t, Record(r, ev))
	}
	assert.Equal(t, 1, r.states)
	assert.Equal(t, 1, r.progress)
	assert.Equal(t, 1, r.power)
	assert.Equal(t, 1, r.modes)

	s := &stateOnly{}
	assert.NoError(t, Record(s, events.PowerSample{}), "unsupported events are skipped")
}

func TestMultiSink(t *testing.T) {
	failing := &stateOnly{err: errors.New("down")}
	full := &recordAll{}
	m := NewMultiSink(failing, full)

	err := m.RecordPumpState(events.PumpState{Pump: "main"})
	assert.Error(t, err)
	assert.Equal(t, 1, full.states, "later sinks still receive the event")

	assert.NoError(t, m.RecordPumpProgress(events.PumpProgress{}))
	assert.NoError(t, m.RecordPowerSample(events.PowerSample{}))
	assert.NoError(t, m.RecordModeChange(events.ModeChange{}))
	assert.Equal(t, 1, full.progress)
	assert.Equal(t, 1, full.power)
	assert.Equal(t, 1, full.modes)
}

type closingSink struct {
	stateOnly
	closed bool
}

func (c *closingSink) Close() { c.closed = true }

func TestMultiSinkClose(t *testing.T) {
	c := &closingSink{}
	m := NewMultiSink(&stateOnly{}, c)
	m.Close()
	assert.True(t, c.closed)
}
