package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"wamux/internal/database"
	"wamux/internal/events"
	"wamux/internal/registry"
	"wamux/internal/webhook"
	"wamux/pkg/waclient"
	"wamux/pkg/waclient/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// TestEnvironment wires a real database, dispatcher and registry
// against an in-process gateway and webhook endpoint.
type TestEnvironment struct {
	t *testing.T

	Gateway    *FakeGateway
	Capture    *WebhookCapture
	DB         *database.Database
	Hub        *events.Hub
	Dispatcher *webhook.Dispatcher
	Registry   *registry.Registry
}

func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	gateway := NewFakeGateway()
	t.Cleanup(gateway.Close)

	capture := NewWebhookCapture()
	t.Cleanup(capture.Close)

	db, err := database.New(filepath.Join(t.TempDir(), "wamux.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hub := events.NewHub(logger)
	dispatcher := webhook.NewDispatcher(logger, 2*time.Second, db, hub)

	factory := waclient.NewFactory(gateway.URL(), "", 2*time.Second, 10*time.Millisecond)
	reg := registry.NewRegistry(factory, dispatcher, logger, db)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		reg.Shutdown(ctx)
		dispatcher.Flush()
	})

	return &TestEnvironment{
		t:          t,
		Gateway:    gateway,
		Capture:    capture,
		DB:         db,
		Hub:        hub,
		Dispatcher: dispatcher,
		Registry:   reg,
	}
}

// AddClient registers a session and binds the capture endpoint as its
// webhook target.
func (env *TestEnvironment) AddClient(identifier string) {
	env.t.Helper()

	_, err := env.Registry.AddClient(context.Background(), identifier)
	require.NoError(env.t, err)
	require.NoError(env.t, env.Registry.SetWebhook(identifier, env.Capture.URL()))
}

type gatewaySession struct {
	status   string
	qr       string
	messages []types.IncomingMessage
}

type sendRequest struct {
	Session string `json:"session"`
	ChatID  string `json:"chatId"`
	Text    string `json:"text"`
}

// FakeGateway emulates the session-gateway endpoints the client polls.
type FakeGateway struct {
	mu       sync.Mutex
	sessions map[string]*gatewaySession
	sent     []sendRequest
	logouts  map[string]int
	deletes  map[string]int

	server *httptest.Server
}

func NewFakeGateway() *FakeGateway {
	g := &FakeGateway{
		sessions: make(map[string]*gatewaySession),
		logouts:  make(map[string]int),
		deletes:  make(map[string]int),
	}

	router := mux.NewRouter()
	router.HandleFunc("/api/sessions", g.handleCreate).Methods(http.MethodPost)
	router.HandleFunc("/api/sessions/{name}", g.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/sessions/{name}/logout", g.handleLogout).Methods(http.MethodPost)
	router.HandleFunc("/api/sessions/{name}", g.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/api/sendText", g.handleSendText).Methods(http.MethodPost)
	router.HandleFunc("/api/{name}/auth/qr", g.handleQR).Methods(http.MethodGet)
	router.HandleFunc("/api/{name}/messages", g.handleMessages).Methods(http.MethodGet)
	g.server = httptest.NewServer(router)

	return g
}

func (g *FakeGateway) URL() string { return g.server.URL }
func (g *FakeGateway) Close()      { g.server.Close() }

// SetStatus moves a session to the given gateway status.
func (g *FakeGateway) SetStatus(name, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[name]; ok {
		s.status = status
	}
}

// SetQR sets the pairing code presented for a session.
func (g *FakeGateway) SetQR(name, code string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[name]; ok {
		s.qr = code
	}
}

// PushMessage queues an incoming message for the next poll.
func (g *FakeGateway) PushMessage(name string, msg types.IncomingMessage) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.sessions[name]; ok {
		s.messages = append(s.messages, msg)
	}
}

func (g *FakeGateway) SentMessages() []sendRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]sendRequest, len(g.sent))
	copy(out, g.sent)
	return out
}

func (g *FakeGateway) LogoutCount(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.logouts[name]
}

func (g *FakeGateway) DeleteCount(name string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.deletes[name]
}

func (g *FakeGateway) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	g.sessions[req.Name] = &gatewaySession{status: types.GatewayStatusStarting}
	g.mu.Unlock()

	w.WriteHeader(http.StatusCreated)
}

func (g *FakeGateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	g.mu.Lock()
	s, ok := g.sessions[name]
	var status string
	if ok {
		status = s.status
	}
	g.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]string{"name": name, "status": status})
}

func (g *FakeGateway) handleQR(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	g.mu.Lock()
	s, ok := g.sessions[name]
	var qr string
	if ok {
		qr = s.qr
	}
	g.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	writeJSON(w, map[string]string{"value": qr})
}

func (g *FakeGateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)

	g.mu.Lock()
	s, ok := g.sessions[name]
	var pending []types.IncomingMessage
	if ok {
		for _, msg := range s.messages {
			if msg.Timestamp > since {
				pending = append(pending, msg)
			}
		}
	}
	g.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if pending == nil {
		pending = []types.IncomingMessage{}
	}
	writeJSON(w, pending)
}

func (g *FakeGateway) handleSendText(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	g.sent = append(g.sent, req)
	id := fmt.Sprintf("msg-%d", len(g.sent))
	g.mu.Unlock()

	writeJSON(w, map[string]string{"messageId": id, "status": "sent"})
}

func (g *FakeGateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	g.mu.Lock()
	g.logouts[name]++
	g.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (g *FakeGateway) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	g.mu.Lock()
	g.deletes[name]++
	delete(g.sessions, name)
	g.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
