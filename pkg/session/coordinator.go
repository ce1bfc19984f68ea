// Package session reconciles the three independently-failing channels of
// the client (authenticated REST, the broker connection and persisted
// credentials) into one consistent session lifecycle:
//
//	anonymous -> authenticating -> authenticated (online/offline x realtime on/off)
//
// Nothing here is fatal. Auth rejections keep the backend indicator
// green (the backend answered); network failures flip it red and are
// retried by the next probe or user action; transport loss is handled by
// the connector's own reconnect policy.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/finch-im/finch/pkg/bus"
	"github.com/finch-im/finch/pkg/conversation"
	"github.com/finch-im/finch/pkg/credstore"
	"github.com/finch-im/finch/pkg/gateway"
	"github.com/finch-im/finch/pkg/logger"
	"github.com/finch-im/finch/pkg/model"
)

// Gateway is the REST surface the coordinator depends on.
type Gateway interface {
	Login(ctx context.Context, username, password string) (*model.Session, error)
	Register(ctx context.Context, username, password string) (*model.Session, error)
	ListUsers(ctx context.Context, token string) ([]model.Peer, error)
	SendMessage(ctx context.Context, token string, receiverID model.FlexID, content string) (*model.Message, error)
	FetchHistory(ctx context.Context, token string, peerID model.FlexID) ([]model.Message, error)
	Probe(ctx context.Context, token string) bool
}

// Transport is the broker connector surface the coordinator depends on.
type Transport interface {
	Connect(userID model.FlexID)
	Publish(peerID model.FlexID, msg model.Message)
	Stop()
	Reset()
}

// Store persists credentials across restarts.
type Store interface {
	Save(creds credstore.Credentials) error
	Load() (*credstore.Credentials, error)
	Clear() error
}

// ErrNoConversation is returned by Send when no peer is selected.
var ErrNoConversation = errors.New("no conversation selected")

type Coordinator struct {
	gw      Gateway
	store   Store
	view    *conversation.View
	renders *bus.RenderBus

	probeInterval time.Duration

	mu        sync.Mutex
	transport Transport
	sess      model.Session
	conn      model.Connectivity

	// probeBusy keeps at most one probe in flight; a slow probe makes
	// the next tick skip instead of stacking requests.
	probeBusy atomic.Bool
}

func NewCoordinator(
	gw Gateway,
	store Store,
	view *conversation.View,
	renders *bus.RenderBus,
	probeInterval time.Duration,
) *Coordinator {
	return &Coordinator{
		gw:            gw,
		store:         store,
		view:          view,
		renders:       renders,
		probeInterval: probeInterval,
	}
}

// SetTransport injects the broker connector. Setter injection breaks the
// construction cycle: the connector needs the coordinator as its sink.
func (c *Coordinator) SetTransport(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
}

// Session returns a snapshot of the current session.
func (c *Coordinator) Session() model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Connectivity returns a snapshot of the health indicators.
func (c *Coordinator) Connectivity() model.Connectivity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Start restores any persisted session and begins the periodic backend
// probe. A restored session is trusted without revalidation; the probe
// fired right after only moves the indicator, never the auth state.
func (c *Coordinator) Start(ctx context.Context) {
	creds, err := c.store.Load()
	if err != nil {
		logger.WarnCF("session", "Credential load failed", map[string]any{"error": err.Error()})
	}

	if creds.Complete() {
		c.mu.Lock()
		c.sess = model.Session{
			UserID:    model.FlexID(creds.UserID),
			Username:  creds.Username,
			AuthToken: creds.Token,
			Status:    model.Authenticated,
		}
		transport := c.transport
		userID := c.sess.UserID
		c.mu.Unlock()

		logger.InfoCF("session", "Restored stored session", map[string]any{
			"user_id":  creds.UserID,
			"username": creds.Username,
		})
		c.view.SetSelf(userID)
		c.notice(ctx, fmt.Sprintf("Restored session for %s", creds.Username))
		c.renderStatus(ctx)

		if transport != nil {
			transport.Connect(userID)
		}
		c.RefreshPeers(ctx)
		c.probeOnce(ctx)
	} else {
		c.renderStatus(ctx)
	}

	go c.probeLoop(ctx)
}

// Login authenticates against the backend and, on success, persists the
// session, connects the transport and loads the peer list.
func (c *Coordinator) Login(ctx context.Context, username, password string) error {
	return c.authenticate(ctx, username, func() (*model.Session, error) {
		return c.gw.Login(ctx, username, password)
	})
}

// Register creates an account; the backend auto-authenticates, so the
// success path is identical to Login.
func (c *Coordinator) Register(ctx context.Context, username, password string) error {
	return c.authenticate(ctx, username, func() (*model.Session, error) {
		return c.gw.Register(ctx, username, password)
	})
}

func (c *Coordinator) authenticate(ctx context.Context, username string, call func() (*model.Session, error)) error {
	c.mu.Lock()
	c.sess = model.Session{Username: username, Status: model.Authenticating}
	c.mu.Unlock()
	c.renderStatus(ctx)

	sess, err := call()
	if err != nil {
		c.mu.Lock()
		c.sess = model.Session{}
		var netErr *gateway.NetworkError
		if errors.As(err, &netErr) {
			c.conn.BackendOnline = false
		} else {
			// The backend answered; a rejection is not an outage.
			c.conn.BackendOnline = true
		}
		c.mu.Unlock()
		c.renderStatus(ctx)
		return err
	}

	creds := credstore.Credentials{
		Token:    sess.AuthToken,
		UserID:   sess.UserID.String(),
		Username: sess.Username,
	}
	if err := c.store.Save(creds); err != nil {
		logger.WarnCF("session", "Credential save failed", map[string]any{"error": err.Error()})
	}

	c.mu.Lock()
	c.sess = *sess
	c.conn.BackendOnline = true
	transport := c.transport
	userID := c.sess.UserID
	c.mu.Unlock()

	logger.InfoCF("session", "Authenticated", map[string]any{
		"user_id":  userID.String(),
		"username": sess.Username,
	})
	c.view.SetSelf(userID)
	c.renderStatus(ctx)

	if transport != nil {
		transport.Reset()
		transport.Connect(userID)
	}
	c.RefreshPeers(ctx)
	return nil
}

// Logout clears the persisted session and tears the transport down.
func (c *Coordinator) Logout(ctx context.Context) {
	if err := c.store.Clear(); err != nil {
		logger.WarnCF("session", "Credential clear failed", map[string]any{"error": err.Error()})
	}

	c.mu.Lock()
	transport := c.transport
	c.sess = model.Session{}
	c.conn = model.Connectivity{}
	c.mu.Unlock()

	if transport != nil {
		transport.Stop()
	}
	c.view.ClearSelection()
	c.view.SetSelf("")
	c.view.SetPeers(nil)

	logger.InfoC("session", "Logged out")
	c.renderStatus(ctx)
	c.renderPeers(ctx)
}

// RefreshPeers reloads the peer list over REST.
func (c *Coordinator) RefreshPeers(ctx context.Context) {
	token, ok := c.token()
	if !ok {
		return
	}
	peers, err := c.gw.ListUsers(ctx, token)
	if err != nil {
		c.classifyGatewayErr(ctx, err)
		return
	}
	c.setBackendOnline(ctx, true)
	c.view.SetPeers(peers)
	c.renderPeers(ctx)
}

// SelectPeer opens the conversation with peer: full history reload, not
// a merge. A selection made while an older fetch is in flight wins; the
// older result is discarded by the view's generation check.
func (c *Coordinator) SelectPeer(ctx context.Context, peer model.Peer) error {
	token, ok := c.token()
	if !ok {
		return errors.New("not authenticated")
	}

	gen := c.view.SelectPeer(peer)
	c.renderConversation(ctx, peer, nil)

	msgs, err := c.gw.FetchHistory(ctx, token, peer.ID)
	if err != nil {
		c.classifyGatewayErr(ctx, err)
		return err
	}
	c.setBackendOnline(ctx, true)

	if c.view.ReceiveHistory(gen, msgs) {
		c.renderConversation(ctx, peer, c.view.Messages())
	}
	return nil
}

// SelectPeerByName resolves a username from the loaded peer list.
func (c *Coordinator) SelectPeerByName(ctx context.Context, username string) error {
	peer, ok := c.view.PeerByUsername(username)
	if !ok {
		return fmt.Errorf("unknown user %q", username)
	}
	return c.SelectPeer(ctx, peer)
}

// Send posts the message over REST, echoes it locally using the
// backend's returned message, and publishes it to the recipient's topic.
// The publish is unconfirmed; a disconnected transport makes it a no-op
// and the message still appears locally as sent.
func (c *Coordinator) Send(ctx context.Context, content string) error {
	token, ok := c.token()
	if !ok {
		return errors.New("not authenticated")
	}
	peer, selected := c.view.Selected()
	if !selected {
		return ErrNoConversation
	}

	msg, err := c.gw.SendMessage(ctx, token, peer.ID, content)
	if err != nil {
		c.classifyGatewayErr(ctx, err)
		return err
	}
	c.setBackendOnline(ctx, true)

	if c.view.ReceiveSent(*msg) {
		c.renderMessage(ctx, *msg, true)
	}

	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()
	if transport != nil {
		transport.Publish(peer.ID, *msg)
	}
	return nil
}

// TransportOnline implements transport.EventSink.
func (c *Coordinator) TransportOnline() {
	c.mu.Lock()
	c.conn.TransportOnline = true
	c.mu.Unlock()
	c.renderStatus(context.Background())
}

// TransportOffline implements transport.EventSink.
func (c *Coordinator) TransportOffline(reason error) {
	c.mu.Lock()
	c.conn.TransportOnline = false
	c.mu.Unlock()
	logger.DebugCF("session", "Transport offline", map[string]any{"reason": fmt.Sprint(reason)})
	c.renderStatus(context.Background())
}

// MessageArrived implements transport.EventSink. The view drops pushes
// for peers other than the selected one and echoes of our own sends.
func (c *Coordinator) MessageArrived(msg model.Message) {
	if c.view.ReceivePush(msg) {
		c.renderMessage(context.Background(), msg, false)
	}
}

// probeLoop polls backend reachability on a fixed interval while
// authenticated. The result only moves the indicator; the user stays
// logged in through an outage.
func (c *Coordinator) probeLoop(ctx context.Context) {
	if c.probeInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probeOnce(ctx)
		}
	}
}

func (c *Coordinator) probeOnce(ctx context.Context) {
	token, ok := c.token()
	if !ok {
		return
	}
	if !c.probeBusy.CompareAndSwap(false, true) {
		logger.DebugC("session", "Probe skipped: previous probe still in flight")
		return
	}
	go func() {
		defer c.probeBusy.Store(false)
		online := c.gw.Probe(ctx, token)
		c.setBackendOnline(ctx, online)
	}()
}

func (c *Coordinator) token() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess.Status != model.Authenticated {
		return "", false
	}
	return c.sess.AuthToken, true
}

func (c *Coordinator) classifyGatewayErr(ctx context.Context, err error) {
	var netErr *gateway.NetworkError
	if errors.As(err, &netErr) {
		c.setBackendOnline(ctx, false)
		return
	}
	c.setBackendOnline(ctx, true)
}

func (c *Coordinator) setBackendOnline(ctx context.Context, online bool) {
	c.mu.Lock()
	changed := c.conn.BackendOnline != online
	c.conn.BackendOnline = online
	c.mu.Unlock()
	if changed {
		c.renderStatus(ctx)
	}
}

func (c *Coordinator) renderStatus(ctx context.Context) {
	c.mu.Lock()
	status := &bus.StatusRender{
		Session:      c.sess.Status,
		Username:     c.sess.Username,
		Connectivity: c.conn,
	}
	c.mu.Unlock()
	c.publish(ctx, bus.RenderCommand{Kind: bus.KindStatus, Status: status})
}

func (c *Coordinator) renderPeers(ctx context.Context) {
	c.publish(ctx, bus.RenderCommand{Kind: bus.KindPeers, Peers: c.view.Peers()})
}

func (c *Coordinator) renderConversation(ctx context.Context, peer model.Peer, msgs []model.Message) {
	c.publish(ctx, bus.RenderCommand{
		Kind:         bus.KindConversation,
		Conversation: &bus.ConversationRender{Peer: peer, Messages: msgs},
	})
}

func (c *Coordinator) renderMessage(ctx context.Context, msg model.Message, outgoing bool) {
	c.publish(ctx, bus.RenderCommand{
		Kind:    bus.KindMessage,
		Message: &bus.MessageRender{Message: msg, Outgoing: outgoing},
	})
}

func (c *Coordinator) notice(ctx context.Context, text string) {
	c.publish(ctx, bus.RenderCommand{Kind: bus.KindNotice, Notice: text})
}

func (c *Coordinator) publish(ctx context.Context, cmd bus.RenderCommand) {
	if c.renders == nil {
		return
	}
	if err := c.renders.Publish(ctx, cmd); err != nil {
		logger.DebugCF("session", "Render dropped", map[string]any{"error": err.Error()})
	}
}
