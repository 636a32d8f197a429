//go:build integration

package mqtt

import (
	"context"
	"fmt"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/pipump/core/events"
	"github.com/kilianp07/pipump/core/mode"
	"github.com/kilianp07/pipump/core/pump"
)

// TestBridgeWithMosquitto runs the bridge against a real broker and drives
// it the way Home Assistant does.
func TestBridgeWithMosquitto(t *testing.T) {
	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "1883")
	require.NoError(t, err)
	broker := fmt.Sprintf("tcp://%s:%s", host, port.Port())

	main, err := pump.New(pump.Config{Name: "main", Power: 200, DesiredRuntime: time.Hour})
	require.NoError(t, err)
	pumps := []*pump.Pump{main}
	ctrl := mode.NewController(nil, pumps, nil)
	ctrl.Start(ctx, mode.Manual)

	bridge, err := NewBridge(Config{Broker: broker, UID: "it"}, ctrl, pumps)
	require.NoError(t, err)

	states := make(chan events.Event, 8)
	main.OnStateChange(func(ev events.PumpState) { states <- ev })
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		bridge.Run(runCtx, states)
		close(done)
	}()

	ha := paho.NewClient(paho.NewClientOptions().AddBroker(broker).SetClientID("ha"))
	tok := ha.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	defer ha.Disconnect(100)

	got := make(chan string, 8)
	stateTopic := "homeassistant/switch/pipump_it/main/state"
	tok = ha.Subscribe(stateTopic, 1, func(_ paho.Client, m paho.Message) { got <- string(m.Payload()) })
	require.True(t, tok.WaitTimeout(5*time.Second))

	assert.Equal(t, "OFF", waitFor(t, got), "retained state is delivered on subscribe")

	tok = ha.Publish("homeassistant/switch/pipump_it/main/set", 1, false, "ON")
	require.True(t, tok.WaitTimeout(5*time.Second))
	assert.Equal(t, "ON", waitFor(t, got))
	assert.True(t, main.IsRunning())

	cancel()
	<-done
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(10 * time.Second):
		t.Fatal("timeout waiting for message")
		return ""
	}
}
