package metrics

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	lp "github.com/influxdata/line-protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/pipump/core/events"
	coremetrics "github.com/kilianp07/pipump/core/metrics"
)

type influxRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (r *influxRecorder) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		data, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.bodies = append(r.bodies, strings.TrimSpace(string(data)))
		r.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// lineProtocol encodes p the way the blocking write API puts it on the wire.
func lineProtocol(p *write.Point) string {
	var buf bytes.Buffer
	e := lp.NewEncoder(&buf)
	e.SetFieldTypeSupport(lp.UintSupport)
	e.FailOnFieldErr(true)
	e.SetPrecision(time.Nanosecond)
	if _, err := e.Encode(p); err != nil {
		return err.Error()
	}
	return strings.TrimSpace(buf.String())
}

func TestLineProtocolWithoutTags(t *testing.T) {
	p := write.NewPointWithMeasurement("power_sample").
		AddField("production_w", 500).
		SetTime(time.Unix(0, 42))
	assert.Equal(t, "power_sample production_w=500i 42", lineProtocol(p))
}

func TestInfluxSink_RecordPumpState(t *testing.T) {
	rec := &influxRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()

	require.NoError(t, sink.RecordPumpState(events.PumpState{Pump: "main", On: true, Time: now}))
	require.NoError(t, sink.RecordPumpState(events.PumpState{Pump: "main", On: false, Ran: 90 * time.Second, Time: now}))

	on := write.NewPointWithMeasurement("pump_state").
		AddTag("pump", "main").
		AddField("on", true).
		SetTime(now)
	off := write.NewPointWithMeasurement("pump_state").
		AddTag("pump", "main").
		AddField("on", false).
		AddField("ran_seconds", 90.0).
		SetTime(now)
	assert.Equal(t, []string{lineProtocol(on), lineProtocol(off)}, rec.bodies)
}

func TestInfluxSink_RecordPumpProgress(t *testing.T) {
	rec := &influxRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(srv.URL+"/api/v2/write", "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()

	ev := events.PumpProgress{Pump: "aux", Percent: 50, Runtime: 30 * time.Minute, Desired: time.Hour, Running: true, Time: now}
	require.NoError(t, sink.RecordPumpProgress(ev))
	p := write.NewPointWithMeasurement("pump_progress").
		AddTag("pump", "aux").
		AddField("percent", 50).
		AddField("runtime_seconds", 1800.0).
		AddField("desired_seconds", 3600.0).
		AddField("running", true).
		SetTime(now)
	require.Len(t, rec.bodies, 1)
	assert.Equal(t, lineProtocol(p), rec.bodies[0])
}

func TestInfluxSink_RecordPowerAndMode(t *testing.T) {
	rec := &influxRecorder{}
	srv := rec.server(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	defer sink.Close()
	now := time.Now()

	require.NoError(t, sink.RecordPowerSample(events.PowerSample{Production: 500, Consumption: 120, Availability: 380, Time: now}))
	require.NoError(t, sink.RecordModeChange(events.ModeChange{From: "AUTO", To: "MANUAL", Time: now}))

	power := write.NewPointWithMeasurement("power_sample").
		AddField("production_w", 500).
		AddField("consumption_w", 120).
		AddField("availability_w", 380).
		SetTime(now)
	mode := write.NewPointWithMeasurement("operating_mode").
		AddTag("mode", "MANUAL").
		AddField("from", "AUTO").
		SetTime(now)
	assert.Equal(t, []string{lineProtocol(power), lineProtocol(mode)}, rec.bodies)
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	assert.IsType(t, coremetrics.NopSink{}, sink, "failing health check falls back to NopSink")
	assert.True(t, called, "health endpoint not called")
}
