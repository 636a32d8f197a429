package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/pipump/core/events"
	coremetrics "github.com/kilianp07/pipump/core/metrics"
	"github.com/kilianp07/pipump/infra/logger"
)

// InfluxSink writes pump telemetry to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordPumpState writes an ON/OFF transition. OFF points carry the length
// of the run that just ended.
func (s *InfluxSink) RecordPumpState(ev events.PumpState) error {
	p := write.NewPointWithMeasurement("pump_state").
		AddTag("pump", ev.Pump).
		AddField("on", ev.On)
	if !ev.On {
		p = p.AddField("ran_seconds", ev.Ran.Seconds())
	}
	return s.write(p.SetTime(ev.Time))
}

// RecordPumpProgress writes the daily goal progress of a pump.
func (s *InfluxSink) RecordPumpProgress(ev events.PumpProgress) error {
	p := write.NewPointWithMeasurement("pump_progress").
		AddTag("pump", ev.Pump).
		AddField("percent", ev.Percent).
		AddField("runtime_seconds", ev.Runtime.Seconds()).
		AddField("desired_seconds", ev.Desired.Seconds()).
		AddField("running", ev.Running).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordPowerSample writes a smoothed power reading.
func (s *InfluxSink) RecordPowerSample(ev events.PowerSample) error {
	p := write.NewPointWithMeasurement("power_sample").
		AddField("production_w", ev.Production).
		AddField("consumption_w", ev.Consumption).
		AddField("availability_w", ev.Availability).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordModeChange writes an operating mode transition.
func (s *InfluxSink) RecordModeChange(ev events.ModeChange) error {
	p := write.NewPointWithMeasurement("operating_mode").
		AddTag("mode", ev.To).
		AddField("from", ev.From).
		SetTime(ev.Time)
	return s.write(p)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }
