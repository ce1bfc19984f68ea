// Package transport manages the broker connection used for real-time
// message delivery.
//
// The connector owns the connect/fallback/reconnect lifecycle and speaks
// to the rest of the client only through an EventSink, so the session
// coordinator can be unit-tested against a fake broker.
package transport

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/finch-im/finch/pkg/logger"
	"github.com/finch-im/finch/pkg/model"
)

// Status is the connector's lifecycle state.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventSink receives connector lifecycle and delivery events. Implemented
// by the session coordinator.
type EventSink interface {
	TransportOnline()
	TransportOffline(reason error)
	MessageArrived(msg model.Message)
}

// Config holds the broker connection settings.
type Config struct {
	Host           string
	PlainPort      int
	SecurePort     int
	SSLFirst       bool
	Keepalive      time.Duration
	AutoReconnect  bool
	ReconnectDelay time.Duration
}

// brokerClient is the slice of the paho client the connector uses.
// mqtt.Client satisfies it; tests substitute fakes.
type brokerClient interface {
	Connect() mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// Connector drives the broker connection state machine:
// Disconnected -> Connecting -> Connected -> (lost) -> Connecting ...
// Terminal Disconnected only via Stop.
type Connector struct {
	cfg  Config
	sink EventSink

	// newClient builds a paho client from options; replaced in tests.
	newClient func(opts *mqtt.ClientOptions) brokerClient

	mu         sync.Mutex
	status     Status
	client     brokerClient
	userID     model.FlexID
	stopped    bool
	connecting bool
	reconnect  *time.Timer
}

func NewConnector(cfg Config, sink EventSink) *Connector {
	return &Connector{
		cfg:  cfg,
		sink: sink,
		newClient: func(opts *mqtt.ClientOptions) brokerClient {
			return mqtt.NewClient(opts)
		},
	}
}

func (c *Connector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func inboundTopic(userID model.FlexID) string {
	return "chat/" + userID.String()
}

// Connect starts an asynchronous connection attempt for the given user
// identity. Secure transport is tried first when configured, with a
// single fallback to the plain port. Outcomes surface through the sink.
func (c *Connector) Connect(userID model.FlexID) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.connecting || c.status == Connected {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.status = Connecting
	c.userID = userID
	c.mu.Unlock()

	go c.attempt()
}

// attempt runs one full connect sequence including the fallback policy.
func (c *Connector) attempt() {
	var lastErr error
	for _, u := range c.brokerURLs() {
		client, err := c.dial(u)
		if err == nil {
			c.connected(client, u)
			return
		}
		lastErr = err
		logger.WarnCF("transport", "Broker connect failed", map[string]any{
			"broker": u,
			"error":  err.Error(),
		})
	}

	c.mu.Lock()
	c.connecting = false
	c.status = Disconnected
	c.mu.Unlock()

	if lastErr == nil {
		lastErr = fmt.Errorf("no broker endpoints configured")
	}
	c.sink.TransportOffline(lastErr)
}

// brokerURLs returns the endpoints to try, secure first when configured.
// The fallback is a single-step downgrade, never a loop.
func (c *Connector) brokerURLs() []string {
	plain := fmt.Sprintf("tcp://%s:%d", c.cfg.Host, c.cfg.PlainPort)
	if c.cfg.SSLFirst {
		secure := fmt.Sprintf("ssl://%s:%d", c.cfg.Host, c.cfg.SecurePort)
		return []string{secure, plain}
	}
	return []string{plain}
}

func (c *Connector) dial(brokerURL string) (brokerClient, error) {
	// Fresh random client id per attempt; reusing one across attempts
	// causes broker-side session collisions.
	clientID := "finch-" + uuid.NewString()

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetKeepAlive(c.cfg.Keepalive).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.onLost(err)
		})

	logger.InfoCF("transport", "Connecting to broker", map[string]any{
		"broker":    brokerURL,
		"client_id": clientID,
	})

	client := c.newClient(opts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Connector) connected(client brokerClient, brokerURL string) {
	topic := inboundTopic(c.userID)
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, m mqtt.Message) {
		c.onMessageArrived(m.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		c.mu.Lock()
		c.connecting = false
		c.status = Disconnected
		c.mu.Unlock()
		c.sink.TransportOffline(fmt.Errorf("subscribe %s: %w", topic, err))
		return
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		client.Disconnect(0)
		return
	}
	c.client = client
	c.connecting = false
	c.status = Connected
	c.mu.Unlock()

	logger.InfoCF("transport", "Broker connected", map[string]any{
		"broker": brokerURL,
		"topic":  topic,
	})
	c.sink.TransportOnline()
}

// onLost handles an established connection dropping. One reconnect is
// scheduled per loss event, after the fixed configured delay, and reruns
// the full connect sequence including the fallback policy.
func (c *Connector) onLost(reason error) {
	c.mu.Lock()
	c.client = nil
	c.status = Disconnected
	schedule := c.cfg.AutoReconnect && !c.stopped && c.reconnect == nil
	if schedule {
		c.reconnect = time.AfterFunc(c.cfg.ReconnectDelay, func() {
			c.mu.Lock()
			c.reconnect = nil
			userID := c.userID
			c.mu.Unlock()
			c.Connect(userID)
		})
	}
	c.mu.Unlock()

	logger.WarnCF("transport", "Broker connection lost", map[string]any{
		"error":     fmt.Sprint(reason),
		"reconnect": schedule,
	})
	c.sink.TransportOffline(reason)
}

// Publish sends the new-message envelope to the recipient's inbound
// topic. Fire-and-forget: no ack is awaited, and when not connected the
// call is a no-op (delivery is unconfirmed either way; the REST send is
// the source of truth).
func (c *Connector) Publish(peerID model.FlexID, msg model.Message) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	if client == nil || !client.IsConnected() {
		logger.DebugC("transport", "Publish skipped: not connected")
		return
	}

	payload, err := json.Marshal(model.Envelope{
		Type:    model.EnvelopeNewMessage,
		Message: msg,
	})
	if err != nil {
		logger.ErrorCF("transport", "Envelope marshal failed", map[string]any{"error": err.Error()})
		return
	}

	client.Publish(inboundTopic(peerID), 0, false, payload)
}

// onMessageArrived parses an inbound payload. Only new_message envelopes
// are handled; everything else is logged and dropped.
func (c *Connector) onMessageArrived(payload []byte) {
	var env model.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		logger.WarnCF("transport", "Dropping malformed payload", map[string]any{"error": err.Error()})
		return
	}
	if env.Type != model.EnvelopeNewMessage {
		logger.DebugCF("transport", "Ignoring envelope", map[string]any{"type": env.Type})
		return
	}
	c.sink.MessageArrived(env.Message)
}

// Stop tears the connection down for good (logout or shutdown). Cancels
// any pending reconnect; the connector stays Disconnected until the next
// explicit Connect after a Reset.
func (c *Connector) Stop() {
	c.mu.Lock()
	c.stopped = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	client := c.client
	c.client = nil
	c.status = Disconnected
	c.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
	logger.InfoC("transport", "Broker connection closed")
}

// Reset re-arms a stopped connector so a fresh login can connect again.
func (c *Connector) Reset() {
	c.mu.Lock()
	c.stopped = false
	c.mu.Unlock()
}
