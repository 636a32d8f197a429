// Package mqtt exposes the pumps and the operating mode to Home Assistant
// over MQTT: one select entity for the mode, and a switch plus a progress
// sensor per pump.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/pipump/core/events"
	"github.com/kilianp07/pipump/core/mode"
	"github.com/kilianp07/pipump/core/monitoring"
	"github.com/kilianp07/pipump/core/pump"
	"github.com/kilianp07/pipump/infra/logger"
)

// Controller receives the commands coming from Home Assistant.
type Controller interface {
	Mode() mode.Mode
	SetModeString(s string) error
	Switch(name, cmd string) error
}

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

var errPublishTimeout = errors.New("publish timeout")

// commandBuffer bounds the commands waiting for the worker.
const commandBuffer = 32

// Bridge connects the controller and the pumps to the broker.
type Bridge struct {
	cfg    Config
	topics topics
	ctrl   Controller
	pumps  []*pump.Pump
	log    logger.Logger

	cli        pahoClient
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration

	mu           sync.Mutex
	lastProgress map[string]int

	cmds     chan func()
	quit     chan struct{}
	stopOnce sync.Once
}

// NewBridge connects to the broker. When the broker cannot be reached within
// the connect timeout the client keeps retrying in the background and the
// entities are announced once it connects.
func NewBridge(cfg Config, ctrl Controller, pumps []*pump.Pump) (*Bridge, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		cfg:          cfg,
		topics:       newTopics(cfg.DiscoveryPrefix, cfg.UID),
		ctrl:         ctrl,
		pumps:        pumps,
		log:          logger.New("mqtt"),
		maxRetries:   cfg.MaxRetries,
		backoff:      time.Duration(cfg.BackoffMS) * time.Millisecond,
		timeout:      time.Duration(cfg.PublishTimeoutMS) * time.Millisecond,
		lastProgress: make(map[string]int),
		cmds:         make(chan func(), commandBuffer),
		quit:         make(chan struct{}),
	}
	go b.runCommands()
	opts.OnConnect = func(c paho.Client) {
		b.log.Infof("MQTT connected")
		b.announce(c)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		b.log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		b.log.Warnf("reconnecting to MQTT broker")
	}

	c := newMQTTClient(opts)
	b.cli = c
	token := c.Connect()
	if !token.WaitTimeout(time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond) {
		b.log.Warnf("broker %s unreachable, retrying in the background", cfg.Broker)
		return b, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// announce runs on every (re)connection: availability, discovery configs,
// command subscriptions, then the current retained states.
func (b *Bridge) announce(c pahoClient) {
	_ = b.publish(c, b.topics.availability(), payloadOnline, true)

	if b.cfg.DiscoveryEnabled() {
		if cfg, err := b.selectConfig(); err == nil {
			_ = b.publish(c, b.topics.selectTopic("config"), cfg, true)
		}
	}
	b.subscribe(c, b.topics.selectTopic("set"), b.onSelectSet)
	_ = b.publish(c, b.topics.selectTopic("state"), b.ctrl.Mode().String(), true)

	for _, p := range b.pumps {
		name := p.Name()
		if b.cfg.DiscoveryEnabled() {
			if cfg, err := b.switchConfig(name); err == nil {
				_ = b.publish(c, b.topics.switchTopic(name, "config"), cfg, true)
			}
			if cfg, err := b.sensorConfig(name); err == nil {
				_ = b.publish(c, b.topics.sensorTopic(name, "config"), cfg, true)
			}
		}
		b.subscribe(c, b.topics.switchTopic(name, "set"), b.onSwitchSet(name))
		_ = b.publish(c, b.topics.switchTopic(name, "state"), stateString(p.IsRunning()), true)
		b.publishProgress(c, name, p.GoalProgress(), true)
	}
}

func (b *Bridge) subscribe(c pahoClient, topic string, h paho.MessageHandler) {
	if token := c.Subscribe(topic, b.cfg.qos(), h); token.Wait() && token.Error() != nil {
		b.log.Errorf("subscribe %s: %v", topic, token.Error())
		monitoring.CaptureException(token.Error(), map[string]string{"module": "mqtt", "topic": topic})
	}
}

// enqueue hands a command to runCommands, which applies commands one at a
// time in arrival order. Message handlers run on the paho router goroutine
// and must not block: a mode change waits for the tick in progress and a
// snap-back publish waits for its acknowledgement.
func (b *Bridge) enqueue(kind string, fn func()) {
	select {
	case b.cmds <- fn:
	case <-b.quit:
	default:
		b.log.Warnf("dropping %s command, %d commands pending", kind, len(b.cmds))
	}
}

func (b *Bridge) runCommands() {
	for {
		select {
		case <-b.quit:
			return
		case fn := <-b.cmds:
			fn()
		}
	}
}

func (b *Bridge) stopCommands() {
	b.stopOnce.Do(func() { close(b.quit) })
}

func (b *Bridge) onSelectSet(_ paho.Client, msg paho.Message) {
	payload := string(msg.Payload())
	b.enqueue("mode", func() { b.applyMode(payload) })
}

func (b *Bridge) applyMode(payload string) {
	if err := b.ctrl.SetModeString(payload); err != nil {
		b.log.Warnf("ignoring mode %q: %v", payload, err)
		// put the select back to the real mode
		_ = b.publish(b.cli, b.topics.selectTopic("state"), b.ctrl.Mode().String(), true)
	}
}

func (b *Bridge) onSwitchSet(name string) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		cmd := string(msg.Payload())
		b.enqueue("switch", func() { b.applySwitch(name, cmd) })
	}
}

func (b *Bridge) applySwitch(name, cmd string) {
	if err := b.ctrl.Switch(name, cmd); err != nil {
		b.log.Warnf("ignoring %q for pump %s: %v", cmd, name, err)
		for _, p := range b.pumps {
			if p.Name() == name {
				_ = b.publish(b.cli, b.topics.switchTopic(name, "state"), stateString(p.IsRunning()), true)
			}
		}
	}
}

// Run publishes the events read from sub until ctx is cancelled or sub is
// closed, then marks the controller offline and disconnects.
func (b *Bridge) Run(ctx context.Context, sub <-chan events.Event) {
	defer b.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			b.handle(ev)
		}
	}
}

func (b *Bridge) handle(ev events.Event) {
	if !b.cli.IsConnected() {
		// the states are published again on connect
		return
	}
	switch e := ev.(type) {
	case events.PumpState:
		_ = b.publish(b.cli, b.topics.switchTopic(e.Pump, "state"), e.StateString(), true)
	case events.PumpProgress:
		b.publishProgress(b.cli, e.Pump, e.Percent, false)
	case events.ModeChange:
		_ = b.publish(b.cli, b.topics.selectTopic("state"), e.To, true)
	}
}

// publishProgress skips unchanged values unless force is set.
func (b *Bridge) publishProgress(c pahoClient, name string, percent int, force bool) {
	b.mu.Lock()
	last, seen := b.lastProgress[name]
	if seen && last == percent && !force {
		b.mu.Unlock()
		return
	}
	b.lastProgress[name] = percent
	b.mu.Unlock()
	_ = b.publish(c, b.topics.sensorTopic(name, "state"), strconv.Itoa(percent), true)
}

// publish retries with exponential backoff and reports the final failure.
func (b *Bridge) publish(c pahoClient, topic string, payload any, retained bool) error {
	var err error
	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(b.backoff * time.Duration(1<<(attempt-1)))
		}
		token := c.Publish(topic, b.cfg.qos(), retained, payload)
		if !token.WaitTimeout(b.timeout) {
			err = errPublishTimeout
		} else {
			err = token.Error()
		}
		if err == nil {
			return nil
		}
		b.log.Errorf("publish %s attempt %d failed: %v", topic, attempt+1, err)
	}
	monitoring.CaptureException(err, map[string]string{"module": "mqtt", "topic": topic})
	return err
}

// Close stops the command worker, marks the controller offline and
// disconnects.
func (b *Bridge) Close() {
	b.stopCommands()
	if b.cli == nil || !b.cli.IsConnected() {
		return
	}
	_ = b.publish(b.cli, b.topics.availability(), payloadOffline, true)
	b.cli.Disconnect(250)
}

func stateString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
