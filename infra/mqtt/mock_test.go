package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

// mockClient implements paho.Client for tests.
type mockClient struct {
	mu          sync.Mutex
	opts        *paho.ClientOptions
	subscribed  map[string]paho.MessageHandler
	published   []published
	publishErrs []error
	connectErr  error
	pending     bool
	disconnects int
}

func newMock() *mockClient {
	return &mockClient{subscribed: make(map[string]paho.MessageHandler)}
}

func (m *mockClient) install() func() {
	newMQTTClient = func(o *paho.ClientOptions) pahoClient { m.opts = o; return m }
	return func() { newMQTTClient = func(opts *paho.ClientOptions) pahoClient { return paho.NewClient(opts) } }
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.pending {
		return &dummyToken{pending: true}
	}
	if m.connectErr == nil && m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{err: m.connectErr}
}
func (m *mockClient) Disconnect(uint) {
	m.mu.Lock()
	m.disconnects++
	m.mu.Unlock()
}
func (m *mockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	var body string
	switch p := payload.(type) {
	case string:
		body = p
	case []byte:
		body = string(p)
	default:
		body = fmt.Sprint(p)
	}
	m.published = append(m.published, published{topic, qos, retained, body})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(topic string, _ byte, h paho.MessageHandler) paho.Token {
	m.mu.Lock()
	m.subscribed[topic] = h
	m.mu.Unlock()
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

// deliver calls the handler subscribed to topic.
func (m *mockClient) deliver(topic, payload string) {
	m.mu.Lock()
	h := m.subscribed[topic]
	m.mu.Unlock()
	if h != nil {
		h(m, mockMessage{topic: topic, p: []byte(payload)})
	}
}

// last returns the most recent payload published on topic.
func (m *mockClient) last(topic string) (published, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].topic == topic {
			return m.published[i], true
		}
	}
	return published{}, false
}

func (m *mockClient) count(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.published {
		if p.topic == topic {
			n++
		}
	}
	return n
}

func (m *mockClient) reset() {
	m.mu.Lock()
	m.published = nil
	m.mu.Unlock()
}

type dummyToken struct {
	err     error
	pending bool
}

func (d dummyToken) Wait() bool                     { return !d.pending }
func (d dummyToken) WaitTimeout(time.Duration) bool { return !d.pending }
func (d dummyToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !d.pending {
		close(ch)
	}
	return ch
}
func (d dummyToken) Error() error { return d.err }

type mockMessage struct {
	topic string
	p     []byte
}

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 0 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return m.topic }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}

// flush waits until the commands queued so far have been applied.
func (b *Bridge) flush() {
	done := make(chan struct{})
	b.cmds <- func() { close(done) }
	<-done
}
