package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"wamux/internal/models"
	"wamux/internal/webhook"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// newDispatcherFromStore builds a fresh dispatcher over the
// environment's database, as a process restart would.
func newDispatcherFromStore(t *testing.T, env *TestEnvironment) *webhook.Dispatcher {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	d := webhook.NewDispatcher(logger, 2*time.Second, env.DB, nil)
	require.NoError(t, d.LoadFromStore(context.Background()))
	return d
}

// WebhookCapture is an HTTP endpoint recording every webhook payload
// delivered to it.
type WebhookCapture struct {
	mu       sync.Mutex
	payloads []models.WebhookPayload

	server *httptest.Server
}

func NewWebhookCapture() *WebhookCapture {
	c := &WebhookCapture{}
	c.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload models.WebhookPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		c.mu.Lock()
		c.payloads = append(c.payloads, payload)
		c.mu.Unlock()

		w.WriteHeader(http.StatusOK)
	}))
	return c
}

func (c *WebhookCapture) URL() string { return c.server.URL }
func (c *WebhookCapture) Close()      { c.server.Close() }

// Find returns the first recorded payload for an event type.
func (c *WebhookCapture) Find(event string) (models.WebhookPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.payloads {
		if p.Event == event {
			return p, true
		}
	}
	return models.WebhookPayload{}, false
}

// Count returns how many payloads of an event type were recorded.
func (c *WebhookCapture) Count(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.payloads {
		if p.Event == event {
			n++
		}
	}
	return n
}
