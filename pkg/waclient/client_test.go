package waclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"wamux/pkg/waclient/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is a minimal WAHA-style HTTP gateway for one session.
type fakeGateway struct {
	mu        sync.Mutex
	status    string
	qr        string
	messages  []types.IncomingMessage
	started   bool
	loggedOut bool
	deleted   bool
	apiKeys   []string
	server    *httptest.Server
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()

	g := &fakeGateway{status: types.GatewayStatusStarting}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.started = true
		g.apiKeys = append(g.apiKeys, r.Header.Get("X-Api-Key"))
		g.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})

	mux.HandleFunc("GET /api/sessions/test-session", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		status := g.status
		g.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"name": "test-session", "status": status})
	})

	mux.HandleFunc("GET /api/test-session/auth/qr", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		qr := g.qr
		g.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"value": qr})
	})

	mux.HandleFunc("GET /api/test-session/messages", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		msgs := g.messages
		g.messages = nil
		g.mu.Unlock()
		json.NewEncoder(w).Encode(msgs)
	})

	mux.HandleFunc("POST /api/sendText", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "test-session", payload["session"])
		json.NewEncoder(w).Encode(types.SendMessageResponse{MessageID: "msg-42", Status: "sent"})
	})

	mux.HandleFunc("POST /api/sessions/test-session/logout", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.loggedOut = true
		g.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("DELETE /api/sessions/test-session", func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.deleted = true
		g.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	g.server = httptest.NewServer(mux)
	t.Cleanup(g.server.Close)
	return g
}

func (g *fakeGateway) setStatus(status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = status
}

func (g *fakeGateway) setQR(qr string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.qr = qr
}

func (g *fakeGateway) queueMessage(msg types.IncomingMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.messages = append(g.messages, msg)
}

func newTestClient(t *testing.T, g *fakeGateway) types.Client {
	t.Helper()

	client := NewClient(types.ClientConfig{
		BaseURL:      g.server.URL,
		APIKey:       "test-key",
		SessionName:  "test-session",
		Timeout:      time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})
	return client
}

func waitForEvent(t *testing.T, events <-chan types.Event, want types.EventType) types.Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event channel closed while waiting for %s", want)
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestConnectStartsSession(t *testing.T) {
	g := newFakeGateway(t)
	client := newTestClient(t, g)

	require.NoError(t, client.Connect(context.Background()))

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.True(t, g.started)
	require.NotEmpty(t, g.apiKeys)
	assert.Equal(t, "test-key", g.apiKeys[0])
}

func TestQRCodeEmitted(t *testing.T) {
	g := newFakeGateway(t)
	client := newTestClient(t, g)

	require.NoError(t, client.Connect(context.Background()))

	g.setQR("qr-data-1")
	g.setStatus(types.GatewayStatusScanQR)

	ev := waitForEvent(t, client.Events(), types.EventQR)
	assert.Equal(t, "qr-data-1", ev.Code)
}

func TestQRCodeRotationEmitsEachValueOnce(t *testing.T) {
	g := newFakeGateway(t)
	client := newTestClient(t, g)

	require.NoError(t, client.Connect(context.Background()))

	g.setQR("qr-data-1")
	g.setStatus(types.GatewayStatusScanQR)
	waitForEvent(t, client.Events(), types.EventQR)

	g.setQR("qr-data-2")
	ev := waitForEvent(t, client.Events(), types.EventQR)
	assert.Equal(t, "qr-data-2", ev.Code)
}

func TestReadyEmittedOnWorkingTransition(t *testing.T) {
	g := newFakeGateway(t)
	client := newTestClient(t, g)

	require.NoError(t, client.Connect(context.Background()))

	g.setStatus(types.GatewayStatusWorking)
	waitForEvent(t, client.Events(), types.EventReady)
}

func TestIncomingMessagesEmitted(t *testing.T) {
	g := newFakeGateway(t)
	client := newTestClient(t, g)

	require.NoError(t, client.Connect(context.Background()))

	g.setStatus(types.GatewayStatusWorking)
	g.queueMessage(types.IncomingMessage{
		From:      "15557654321",
		Body:      "hello",
		Timestamp: 1700000000,
	})

	ev := waitForEvent(t, client.Events(), types.EventMessage)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "15557654321", ev.Message.From)
	assert.Equal(t, "hello", ev.Message.Body)
	assert.Equal(t, "text", ev.Message.Type, "untyped gateway messages default to text")
}

func TestAuthFailureEmittedOnFailedState(t *testing.T) {
	g := newFakeGateway(t)
	client := newTestClient(t, g)

	require.NoError(t, client.Connect(context.Background()))

	g.setStatus(types.GatewayStatusFailed)
	ev := waitForEvent(t, client.Events(), types.EventAuthFailure)
	assert.NotEmpty(t, ev.Error)
}

func TestDisconnectedEmittedOnStop(t *testing.T) {
	g := newFakeGateway(t)
	client := newTestClient(t, g)

	require.NoError(t, client.Connect(context.Background()))

	g.setStatus(types.GatewayStatusWorking)
	waitForEvent(t, client.Events(), types.EventReady)

	g.setStatus(types.GatewayStatusStopped)
	ev := waitForEvent(t, client.Events(), types.EventDisconnected)
	assert.NotEmpty(t, ev.Reason)
}

func TestSendText(t *testing.T) {
	g := newFakeGateway(t)
	client := newTestClient(t, g)

	resp, err := client.SendText(context.Background(), "15557654321", "hello")
	require.NoError(t, err)
	assert.Equal(t, "msg-42", resp.MessageID)
	assert.Equal(t, "sent", resp.Status)
}

func TestLogout(t *testing.T) {
	g := newFakeGateway(t)
	client := newTestClient(t, g)

	require.NoError(t, client.Logout(context.Background()))

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.True(t, g.loggedOut)
	assert.True(t, g.deleted)
}

func TestCloseIsIdempotent(t *testing.T) {
	g := newFakeGateway(t)

	client := NewClient(types.ClientConfig{
		BaseURL:      g.server.URL,
		SessionName:  "test-session",
		Timeout:      time.Second,
		PollInterval: 10 * time.Millisecond,
	})

	require.NoError(t, client.Connect(context.Background()))
	require.NoError(t, client.Close())
	require.NoError(t, client.Close())

	_, ok := <-client.Events()
	assert.False(t, ok, "event channel closes with the client")
}

func TestConnectAfterCloseRefusesToStartPolling(t *testing.T) {
	g := newFakeGateway(t)
	g.setStatus(types.GatewayStatusScanQR)
	g.setQR("qr-after-close")

	client := NewClient(types.ClientConfig{
		BaseURL:      g.server.URL,
		SessionName:  "test-session",
		Timeout:      time.Second,
		PollInterval: 10 * time.Millisecond,
	})

	require.NoError(t, client.Close())

	err := client.Connect(context.Background())
	require.Error(t, err)

	// Give a wrongly started poller several ticks to emit against the
	// closed event channel, which would panic the test binary.
	time.Sleep(50 * time.Millisecond)

	_, ok := <-client.Events()
	assert.False(t, ok, "event channel stays closed")
}

func TestFactoryRejectsEmptyIdentifier(t *testing.T) {
	factory := NewFactory("http://localhost:3000", "key", time.Second, time.Second)

	_, err := factory("")
	assert.Error(t, err)

	client, err := factory("15551234567")
	require.NoError(t, err)
	require.NoError(t, client.Close())
}
