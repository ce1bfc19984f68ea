package transport

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finch-im/finch/pkg/model"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type fakeMessage struct{ payload []byte }

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return "" }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

type pubRecord struct {
	topic   string
	payload []byte
}

type fakeBroker struct {
	mu           sync.Mutex
	connectErr   error
	subscribeErr error
	connected    bool
	topic        string
	handler      mqtt.MessageHandler
	published    []pubRecord
}

func (b *fakeBroker) Connect() mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connectErr != nil {
		return &fakeToken{err: b.connectErr}
	}
	b.connected = true
	return &fakeToken{}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return &fakeToken{err: b.subscribeErr}
	}
	b.topic = topic
	b.handler = callback
	return &fakeToken{}
}

func (b *fakeBroker) Publish(topic string, _ byte, _ bool, payload any) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, pubRecord{topic: topic, payload: payload.([]byte)})
	return &fakeToken{}
}

func (b *fakeBroker) Disconnect(uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) deliver(payload []byte) {
	b.mu.Lock()
	handler := b.handler
	b.mu.Unlock()
	if handler != nil {
		handler(nil, &fakeMessage{payload: payload})
	}
}

func (b *fakeBroker) publishedTo() []pubRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]pubRecord(nil), b.published...)
}

type recordingSink struct {
	mu       sync.Mutex
	online   int
	offline  int
	lastErr  error
	messages []model.Message
}

func (s *recordingSink) TransportOnline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online++
}

func (s *recordingSink) TransportOffline(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline++
	s.lastErr = reason
}

func (s *recordingSink) MessageArrived(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func (s *recordingSink) counts() (online, offline int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online, s.offline
}

func (s *recordingSink) arrived() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.messages...)
}

// dialRecord captures one newClient invocation.
type dialRecord struct {
	scheme   string
	clientID string
	lost     mqtt.ConnectionLostHandler
	broker   *fakeBroker
}

type dialLog struct {
	mu    sync.Mutex
	dials []dialRecord
}

func (l *dialLog) add(r dialRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dials = append(l.dials, r)
}

func (l *dialLog) all() []dialRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]dialRecord(nil), l.dials...)
}

func (l *dialLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.dials)
}

func testConfig() Config {
	return Config{
		Host:           "broker.test",
		PlainPort:      1883,
		SecurePort:     8883,
		SSLFirst:       true,
		Keepalive:      time.Second,
		AutoReconnect:  true,
		ReconnectDelay: 25 * time.Millisecond,
	}
}

// newTestConnector wires a connector to fake brokers. decide picks the
// broker per attempt from the URL scheme ("ssl" or "tcp").
func newTestConnector(cfg Config, sink EventSink, decide func(scheme string) *fakeBroker) (*Connector, *dialLog) {
	log := &dialLog{}
	c := NewConnector(cfg, sink)
	c.newClient = func(opts *mqtt.ClientOptions) brokerClient {
		scheme := opts.Servers[0].Scheme
		broker := decide(scheme)
		log.add(dialRecord{
			scheme:   scheme,
			clientID: opts.ClientID,
			lost:     opts.OnConnectionLost,
			broker:   broker,
		})
		return broker
	}
	return c, log
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 2*time.Millisecond)
}

func TestSecureFailureFallsBackToPlainOnce(t *testing.T) {
	sink := &recordingSink{}
	plain := &fakeBroker{}
	c, log := newTestConnector(testConfig(), sink, func(scheme string) *fakeBroker {
		if scheme == "ssl" {
			return &fakeBroker{connectErr: errors.New("tls handshake failed")}
		}
		return plain
	})

	c.Connect("7")
	waitFor(t, func() bool { return c.Status() == Connected })

	dials := log.all()
	require.Len(t, dials, 2)
	assert.Equal(t, "ssl", dials[0].scheme)
	assert.Equal(t, "tcp", dials[1].scheme)

	online, offline := sink.counts()
	assert.Equal(t, 1, online)
	assert.Equal(t, 0, offline)
	assert.Equal(t, "chat/7", plain.topic)
}

func TestBothEndpointsFailing(t *testing.T) {
	sink := &recordingSink{}
	c, log := newTestConnector(testConfig(), sink, func(string) *fakeBroker {
		return &fakeBroker{connectErr: errors.New("refused")}
	})

	c.Connect("7")
	waitFor(t, func() bool {
		_, offline := sink.counts()
		return offline == 1
	})
	assert.Equal(t, Disconnected, c.Status())
	assert.Equal(t, 2, log.count())

	// A failed initial connect does not schedule a retry.
	time.Sleep(4 * testConfig().ReconnectDelay)
	assert.Equal(t, 2, log.count())
}

func TestPlainOnlyWhenSecureDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.SSLFirst = false
	sink := &recordingSink{}
	c, log := newTestConnector(cfg, sink, func(string) *fakeBroker {
		return &fakeBroker{}
	})

	c.Connect("7")
	waitFor(t, func() bool { return c.Status() == Connected })

	dials := log.all()
	require.Len(t, dials, 1)
	assert.Equal(t, "tcp", dials[0].scheme)
}

func TestFreshClientIDPerAttempt(t *testing.T) {
	sink := &recordingSink{}
	c, log := newTestConnector(testConfig(), sink, func(scheme string) *fakeBroker {
		if scheme == "ssl" {
			return &fakeBroker{connectErr: errors.New("refused")}
		}
		return &fakeBroker{}
	})

	c.Connect("7")
	waitFor(t, func() bool { return c.Status() == Connected })

	dials := log.all()
	require.Len(t, dials, 2)
	assert.True(t, strings.HasPrefix(dials[0].clientID, "finch-"))
	assert.NotEqual(t, dials[0].clientID, dials[1].clientID)
}

func TestReconnectOncePerLossAfterFixedDelay(t *testing.T) {
	sink := &recordingSink{}
	c, log := newTestConnector(testConfig(), sink, func(string) *fakeBroker {
		return &fakeBroker{}
	})

	c.Connect("7")
	waitFor(t, func() bool { return c.Status() == Connected })
	require.Equal(t, 1, log.count())

	log.all()[0].lost(nil, errors.New("connection reset"))
	assert.Equal(t, Disconnected, c.Status())
	_, offline := sink.counts()
	assert.Equal(t, 1, offline)

	// One reconnect after the delay, then quiet.
	waitFor(t, func() bool { return c.Status() == Connected })
	assert.Equal(t, 2, log.count())

	time.Sleep(4 * testConfig().ReconnectDelay)
	assert.Equal(t, 2, log.count())

	online, _ := sink.counts()
	assert.Equal(t, 2, online)
}

func TestNoReconnectWhenDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.AutoReconnect = false
	sink := &recordingSink{}
	c, log := newTestConnector(cfg, sink, func(string) *fakeBroker {
		return &fakeBroker{}
	})

	c.Connect("7")
	waitFor(t, func() bool { return c.Status() == Connected })

	log.all()[0].lost(nil, errors.New("connection reset"))
	time.Sleep(4 * testConfig().ReconnectDelay)
	assert.Equal(t, 1, log.count())
	assert.Equal(t, Disconnected, c.Status())
}

func TestPublishEnvelope(t *testing.T) {
	sink := &recordingSink{}
	broker := &fakeBroker{}
	c, _ := newTestConnector(testConfig(), sink, func(string) *fakeBroker {
		return broker
	})

	c.Connect("7")
	waitFor(t, func() bool { return c.Status() == Connected })

	msg := model.Message{ID: "1", SenderID: "7", ReceiverID: "3", Content: "hi"}
	c.Publish("3", msg)

	published := broker.publishedTo()
	require.Len(t, published, 1)
	assert.Equal(t, "chat/3", published[0].topic)

	var env model.Envelope
	require.NoError(t, json.Unmarshal(published[0].payload, &env))
	assert.Equal(t, model.EnvelopeNewMessage, env.Type)
	assert.Equal(t, "hi", env.Message.Content)
}

func TestPublishWhileDisconnectedIsNoOp(t *testing.T) {
	sink := &recordingSink{}
	c, log := newTestConnector(testConfig(), sink, func(string) *fakeBroker {
		return &fakeBroker{}
	})

	c.Publish("3", model.Message{Content: "hi"})
	assert.Equal(t, 0, log.count())
}

func TestInboundDispatch(t *testing.T) {
	sink := &recordingSink{}
	broker := &fakeBroker{}
	c, _ := newTestConnector(testConfig(), sink, func(string) *fakeBroker {
		return broker
	})

	c.Connect("7")
	waitFor(t, func() bool { return c.Status() == Connected })

	broker.deliver([]byte(`{"type":"new_message","message":{"id":5,"sender_id":3,"receiver_id":7,"content":"hey"}}`))
	broker.deliver([]byte(`{"type":"presence","message":{}}`))
	broker.deliver([]byte(`not json`))

	arrived := sink.arrived()
	require.Len(t, arrived, 1)
	assert.Equal(t, model.FlexID("3"), arrived[0].SenderID)
	assert.Equal(t, "hey", arrived[0].Content)
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	sink := &recordingSink{}
	c, log := newTestConnector(testConfig(), sink, func(string) *fakeBroker {
		return &fakeBroker{}
	})

	c.Connect("7")
	waitFor(t, func() bool { return c.Status() == Connected })

	log.all()[0].lost(nil, errors.New("connection reset"))
	c.Stop()

	time.Sleep(4 * testConfig().ReconnectDelay)
	assert.Equal(t, 1, log.count())
	assert.Equal(t, Disconnected, c.Status())
}

func TestResetRearmsAfterStop(t *testing.T) {
	sink := &recordingSink{}
	c, log := newTestConnector(testConfig(), sink, func(string) *fakeBroker {
		return &fakeBroker{}
	})

	c.Stop()
	c.Connect("7")
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 0, log.count())

	c.Reset()
	c.Connect("7")
	waitFor(t, func() bool { return c.Status() == Connected })
	assert.Equal(t, 1, log.count())
}
