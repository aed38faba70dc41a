// Package waclient implements the messaging-client boundary against a
// WAHA-style WhatsApp HTTP gateway. Session lifecycle is driven by
// polling the gateway's status endpoint; status transitions and queued
// messages are synthesized into the event stream consumed by the
// session registry.
package waclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"wamux/pkg/waclient/types"
)

const defaultPollInterval = 2 * time.Second

type gatewayClient struct {
	baseURL      string
	apiKey       string
	session      string
	pollInterval time.Duration
	client       *http.Client

	events chan types.Event

	mu       sync.Mutex
	closed   bool
	pollStop context.CancelFunc
	pollDone chan struct{}

	lastStatus string
	lastQR     string
	lastMsgTS  int64
}

// NewClient creates a gateway-backed client for one session.
func NewClient(cfg types.ClientConfig) types.Client {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &gatewayClient{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		session:      cfg.SessionName,
		pollInterval: pollInterval,
		client:       &http.Client{Timeout: cfg.Timeout},
		events:       make(chan types.Event, 64),
	}
}

// NewFactory returns a Factory producing gateway-backed clients that
// use the account identifier as the gateway session name.
func NewFactory(baseURL, apiKey string, timeout, pollInterval time.Duration) types.Factory {
	return func(identifier string) (types.Client, error) {
		if identifier == "" {
			return nil, fmt.Errorf("identifier cannot be empty")
		}
		return NewClient(types.ClientConfig{
			BaseURL:      baseURL,
			APIKey:       apiKey,
			SessionName:  identifier,
			Timeout:      timeout,
			PollInterval: pollInterval,
		}), nil
	}
}

func (c *gatewayClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	c.mu.Unlock()

	payload := map[string]interface{}{
		"name":  c.session,
		"start": true,
	}

	if err := c.doJSON(ctx, http.MethodPost, "/api/sessions", payload, nil); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	// Connect may run on a background goroutine and race Close; once
	// the events channel is closed no poller may start.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("client is closed")
	}
	if c.pollDone != nil {
		return nil // already polling
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	c.pollStop = cancel
	c.pollDone = make(chan struct{})
	go c.pollLoop(pollCtx)

	return nil
}

func (c *gatewayClient) SendText(ctx context.Context, to, body string) (*types.SendMessageResponse, error) {
	payload := map[string]interface{}{
		"session": c.session,
		"chatId":  to,
		"text":    body,
	}

	var result types.SendMessageResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/sendText", payload, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *gatewayClient) Logout(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/api/sessions/%s/logout", c.session), nil, nil); err != nil {
		return fmt.Errorf("failed to logout session: %w", err)
	}

	if err := c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/api/sessions/%s", c.session), nil, nil); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

func (c *gatewayClient) Events() <-chan types.Event {
	return c.events
}

func (c *gatewayClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	stop := c.pollStop
	done := c.pollDone
	c.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	close(c.events)
	return nil
}

func (c *gatewayClient) pollLoop(ctx context.Context) {
	defer close(c.pollDone)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollOnce(ctx)
		}
	}
}

func (c *gatewayClient) pollOnce(ctx context.Context) {
	var status struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/sessions/%s", c.session), nil, &status); err != nil {
		return // transient gateway failure, retried next tick
	}

	switch status.Status {
	case types.GatewayStatusScanQR:
		c.pollQR(ctx)
	case types.GatewayStatusWorking:
		if c.lastStatus != types.GatewayStatusWorking {
			c.emit(ctx, types.Event{Type: types.EventReady})
		}
		c.pollMessages(ctx)
	case types.GatewayStatusFailed:
		if c.lastStatus != types.GatewayStatusFailed {
			c.emit(ctx, types.Event{Type: types.EventAuthFailure, Error: "session entered FAILED state"})
		}
	case types.GatewayStatusStopped:
		if c.lastStatus != types.GatewayStatusStopped && c.lastStatus != "" {
			c.emit(ctx, types.Event{Type: types.EventDisconnected, Reason: "session stopped"})
		}
	}

	c.lastStatus = status.Status
}

func (c *gatewayClient) pollQR(ctx context.Context) {
	var qr struct {
		Value string `json:"value"`
	}
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/api/%s/auth/qr", c.session), nil, &qr); err != nil {
		return
	}

	// The gateway rotates QR codes; emit each fresh value once
	if qr.Value != "" && qr.Value != c.lastQR {
		c.lastQR = qr.Value
		c.emit(ctx, types.Event{Type: types.EventQR, Code: qr.Value})
	}
}

func (c *gatewayClient) pollMessages(ctx context.Context) {
	var messages []types.IncomingMessage
	path := fmt.Sprintf("/api/%s/messages?since=%d", c.session, c.lastMsgTS)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &messages); err != nil {
		return
	}

	for i := range messages {
		msg := messages[i]
		if msg.Timestamp > c.lastMsgTS {
			c.lastMsgTS = msg.Timestamp
		}
		if msg.Type == "" {
			msg.Type = "text"
		}
		c.emit(ctx, types.Event{Type: types.EventMessage, Message: &msg})
	}
}

func (c *gatewayClient) emit(ctx context.Context, ev types.Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *gatewayClient) doJSON(ctx context.Context, method, path string, payload, result interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(data))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
