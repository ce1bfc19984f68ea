// Package gateway wraps the chat backend's REST API and classifies every
// outcome as success, auth failure or network failure.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/finch-im/finch/pkg/logger"
	"github.com/finch-im/finch/pkg/model"
)

const defaultTimeout = 10 * time.Second

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// NewClientWithHTTP allows injecting an http.Client (tests, proxies).
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	c := NewClient(baseURL)
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c
}

type authResponse struct {
	Success bool         `json:"success"`
	UserID  model.FlexID `json:"user_id"`
	Token   string       `json:"token"`
	Error   string       `json:"error"`
}

// Login exchanges credentials for a session. A non-2xx answer is an
// *AuthError; no answer at all is a *NetworkError.
func (c *Client) Login(ctx context.Context, username, password string) (*model.Session, error) {
	return c.authenticate(ctx, "/auth/login", username, password)
}

// Register creates an account and, like the backend, auto-authenticates.
func (c *Client) Register(ctx context.Context, username, password string) (*model.Session, error) {
	return c.authenticate(ctx, "/auth/register", username, password)
}

func (c *Client) authenticate(ctx context.Context, path, username, password string) (*model.Session, error) {
	body := map[string]string{"username": username, "password": password}
	status, data, err := c.do(ctx, http.MethodPost, path, "", body)
	if err != nil {
		return nil, err
	}

	var resp authResponse
	if status < 200 || status >= 300 {
		msg := "Authentication failed"
		if json.Unmarshal(data, &resp) == nil && resp.Error != "" {
			msg = resp.Error
		}
		return nil, &AuthError{StatusCode: status, Message: msg}
	}

	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &NetworkError{Op: "POST " + path, Err: err}
	}

	return &model.Session{
		UserID:    resp.UserID,
		Username:  username,
		AuthToken: resp.Token,
		Status:    model.Authenticated,
	}, nil
}

func (c *Client) ListUsers(ctx context.Context, token string) ([]model.Peer, error) {
	status, data, err := c.do(ctx, http.MethodGet, "/users", token, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &NetworkError{Op: "GET /users", StatusCode: status}
	}
	var peers []model.Peer
	if err := json.Unmarshal(data, &peers); err != nil {
		return nil, &NetworkError{Op: "GET /users", Err: err}
	}
	return peers, nil
}

func (c *Client) GetUser(ctx context.Context, token string, id model.FlexID) (*model.Peer, error) {
	path := "/users/" + id.String()
	status, data, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &NetworkError{Op: "GET " + path, StatusCode: status}
	}
	var peer model.Peer
	if err := json.Unmarshal(data, &peer); err != nil {
		return nil, &NetworkError{Op: "GET " + path, Err: err}
	}
	return &peer, nil
}

func (c *Client) SendMessage(ctx context.Context, token string, receiverID model.FlexID, content string) (*model.Message, error) {
	body := map[string]any{
		"receiver_id": receiverID,
		"content":     content,
	}
	status, data, err := c.do(ctx, http.MethodPost, "/messages", token, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &NetworkError{Op: "POST /messages", StatusCode: status}
	}
	var msg model.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &NetworkError{Op: "POST /messages", Err: err}
	}
	return &msg, nil
}

// FetchHistory returns the conversation with peerID, ordered by timestamp
// ascending as the backend sends it.
func (c *Client) FetchHistory(ctx context.Context, token string, peerID model.FlexID) ([]model.Message, error) {
	path := "/messages/" + peerID.String()
	status, data, err := c.do(ctx, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &NetworkError{Op: "GET " + path, StatusCode: status}
	}
	var msgs []model.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, &NetworkError{Op: "GET " + path, Err: err}
	}
	return msgs, nil
}

// Probe is the reachability check behind the backend-online indicator.
// It reuses the users endpoint and never returns an error: true iff a
// 2xx response arrived.
func (c *Client) Probe(ctx context.Context, token string) bool {
	status, _, err := c.do(ctx, http.MethodGet, "/users", token, nil)
	if err != nil {
		logger.DebugCF("gateway", "Probe failed", map[string]any{"error": err.Error()})
		return false
	}
	return status >= 200 && status < 300
}

// do performs one request. The returned error is always a *NetworkError
// (transport-level failure); HTTP status interpretation is left to the
// caller.
func (c *Client) do(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, &NetworkError{Op: op, Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, &NetworkError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &NetworkError{Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}

	return resp.StatusCode, data, nil
}
