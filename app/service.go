package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/pipump/api/pumps"
	"github.com/kilianp07/pipump/config"
	"github.com/kilianp07/pipump/core/events"
	coremetrics "github.com/kilianp07/pipump/core/metrics"
	"github.com/kilianp07/pipump/core/mode"
	coremon "github.com/kilianp07/pipump/core/monitoring"
	"github.com/kilianp07/pipump/core/power"
	"github.com/kilianp07/pipump/core/pump"
	"github.com/kilianp07/pipump/core/runlog"
	"github.com/kilianp07/pipump/core/scheduler"
	_ "github.com/kilianp07/pipump/infra/gpio" // actuator factories
	"github.com/kilianp07/pipump/infra/kpi"
	"github.com/kilianp07/pipump/infra/logger"
	"github.com/kilianp07/pipump/infra/metrics"
	"github.com/kilianp07/pipump/infra/monitoring"
	"github.com/kilianp07/pipump/infra/mqtt"
	"github.com/kilianp07/pipump/internal/eventbus"
)

// Version is reported in the Home Assistant device info.
var Version = "dev"

// Service wires the pumps, the power source, the mode controller and the
// adapters around them.
type Service struct {
	cfg       *config.Config
	bus       *eventbus.TypedBus[events.Event]
	pumps     []*pump.Pump
	actuators []pump.Actuator
	source    power.Source
	scheduler *scheduler.Scheduler
	ctrl      *mode.Controller
	sink      coremetrics.MetricsSink
	runs      runlog.Store
	daily     *kpi.SQLiteStore
	bridge    *mqtt.Bridge
	log       logger.Logger

	// AccessLog receives the HTTP access log.
	AccessLog io.Writer
}

// New creates a Service from the configuration. Nothing runs until Run.
func New(cfg *config.Config) (*Service, error) {
	if err := logger.Configure(cfg.Logging); err != nil {
		return nil, err
	}
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	s := &Service{
		cfg:       cfg,
		bus:       eventbus.NewTyped[events.Event](),
		log:       logger.New("service"),
		AccessLog: os.Stdout,
	}
	s.pumps, err = config.BuildPumps(cfg.Pumps, s.pumpOptions)
	if err != nil {
		s.closeActuators()
		return nil, err
	}
	for _, p := range s.pumps {
		p.OnStateChange(func(ev events.PumpState) { s.bus.Publish(ev) })
		p.OnProgress(func(ev events.PumpProgress) { s.bus.Publish(ev) })
	}

	if s.source, err = cfg.PVSystem.NewSource(logger.New("pvsystem")); err != nil {
		s.closeActuators()
		return nil, fmt.Errorf("pvsystem: %w", err)
	}
	s.scheduler = scheduler.New(s.pumps, s.source, cfg.Scheduler, logger.New("scheduler"))
	s.scheduler.SetPublisher(s.bus)
	s.ctrl = mode.NewController(s.scheduler, s.pumps, logger.New("mode"))
	s.ctrl.SetPublisher(s.bus)

	if s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		s.closeActuators()
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if s.runs, err = runlog.Open(cfg.RunLog); err != nil {
		s.closeActuators()
		return nil, fmt.Errorf("runlog: %w", err)
	}
	if cfg.KPI.Path != "" {
		if s.daily, err = kpi.NewSQLiteStore(cfg.KPI.Path); err != nil {
			s.closeActuators()
			_ = s.runs.Close()
			return nil, fmt.Errorf("kpi: %w", err)
		}
	}
	if cfg.MQTT.Enabled() {
		mc := cfg.MQTT
		mc.SoftwareVersion = Version
		if s.bridge, err = mqtt.NewBridge(mc, s.ctrl, s.pumps); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("mqtt: %w", err)
		}
	}
	return s, nil
}

func (s *Service) pumpOptions(pc config.PumpConfig) ([]pump.Option, error) {
	var act pump.Actuator = pump.NopActuator{}
	if s.cfg.Actuator.Type != "nop" && (pc.GPIO != "" || s.cfg.Actuator.Type == "emulated") {
		a, err := pump.NewActuator(pc.ActuatorModule(s.cfg.Actuator.Type))
		if err != nil {
			return nil, err
		}
		act = a
		s.actuators = append(s.actuators, a)
	}
	return []pump.Option{
		pump.WithActuator(act),
		pump.WithLogger(logger.New("pump")),
	}, nil
}

// Pumps returns the configured pumps.
func (s *Service) Pumps() []*pump.Pump { return s.pumps }

// Controller returns the mode controller.
func (s *Service) Controller() *mode.Controller { return s.ctrl }

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	d := pumps.Deps{
		Pumps:      s.pumps,
		Controller: s.ctrl,
		Runs:       s.runs,
		Token:      s.cfg.HTTP.Token,
		Metrics:    promhttp.Handler(),
	}
	if pr, ok := s.source.(pumps.PowerReader); ok {
		d.Power = pr
	}
	if s.daily != nil {
		d.Daily = s.daily
	}
	return pumps.NewHandler(d, s.AccessLog)
}

// Run starts the controller in the configured mode and blocks until ctx is
// cancelled. On return every pump is off and all events have been handled.
func (s *Service) Run(ctx context.Context) error {
	initial, err := mode.Parse(s.cfg.Scheduler.Mode)
	if err != nil {
		return err
	}

	// consumers outlive ctx so that the final OFF transitions are recorded
	consumers, stopConsumers := context.WithCancel(context.Background())
	defer stopConsumers()
	var wg sync.WaitGroup
	collector := metrics.StartEventCollector(consumers, s.bus, s.sink)
	runSub := s.bus.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		runlog.Consume(consumers, runSub, s.runs, logger.New("runlog"))
	}()
	if s.daily != nil {
		kpiSub := s.bus.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			runlog.Consume(consumers, kpiSub, s.daily, logger.New("kpi"))
		}()
	}
	if s.bridge != nil {
		sub := s.bus.Subscribe()
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.bridge.Run(consumers, sub)
		}()
	}

	apiCtx, stopAPI := context.WithCancel(ctx)
	defer stopAPI()
	apiErr := make(chan error, 1)
	if addr := s.cfg.HTTP.Addr; addr != "" {
		s.log.Infof("HTTP API listening on %s", addr)
		go func() { apiErr <- pumps.Serve(apiCtx, addr, s.Handler()) }()
	} else {
		apiErr <- nil
	}

	s.ctrl.Start(ctx, initial)
	s.log.Infof("started in %s mode with %d pumps", initial, len(s.pumps))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-apiErr:
		if runErr != nil {
			runErr = fmt.Errorf("http api: %w", runErr)
		} else {
			<-ctx.Done()
		}
	}

	s.shutdown()
	s.bus.Close()
	wg.Wait()
	<-collector
	stopAPI()
	s.reportDropped()
	return runErr
}

// reportDropped warns when slow consumers made the bus skip events, since
// runs or telemetry may then be missing.
func (s *Service) reportDropped() uint64 {
	n := s.bus.Dropped()
	if n == 0 {
		return 0
	}
	s.log.Warnf("event bus dropped %d events for slow consumers", n)
	coremon.CaptureException(fmt.Errorf("event bus dropped %d events", n), map[string]string{"module": "eventbus"})
	return n
}

func (s *Service) shutdown() {
	s.ctrl.Stop()
	for _, p := range s.pumps {
		p.TurnOff()
	}
	s.log.Infof("all pumps stopped")
}

func (s *Service) closeActuators() {
	for _, a := range s.actuators {
		if c, ok := a.(io.Closer); ok {
			if err := c.Close(); err != nil {
				s.log.Warnf("release actuator: %v", err)
			}
		}
	}
	s.actuators = nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var errs []error
	s.closeActuators()
	if s.runs != nil {
		errs = append(errs, s.runs.Close())
	}
	if s.daily != nil {
		errs = append(errs, s.daily.Close())
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	coremon.Flush(2 * time.Second)
	errs = append(errs, logger.Close())
	return errors.Join(errs...)
}
