// Package events fans dispatched session events out to live WebSocket
// subscribers. The hub never blocks the dispatch path: slow
// subscribers lose events rather than hold anything up.
package events

import (
	"net/http"
	"sync"

	"wamux/internal/constants"
	"wamux/internal/metrics"
	"wamux/internal/models"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// Hub broadcasts webhook payloads to subscribers.
type Hub struct {
	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	logger *logrus.Logger
}

type subscriber struct {
	ch chan models.WebhookPayload
}

// NewHub creates an empty hub.
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		logger: logger,
	}
}

// Publish delivers a payload to every subscriber without blocking.
// A subscriber whose buffer is full misses the event.
func (h *Hub) Publish(payload models.WebhookPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.ch <- payload:
		default:
			metrics.IncrementCounter("event_feed_dropped_total", nil, "Events dropped for slow feed subscribers")
		}
	}
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel function that must be called to release it.
func (h *Hub) Subscribe() (<-chan models.WebhookPayload, func()) {
	sub := &subscriber{ch: make(chan models.WebhookPayload, constants.EventBufferSize)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, sub)
		h.mu.Unlock()
	}

	return sub.ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeWS upgrades the request to a WebSocket and streams every
// published event to it until the client disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to accept event feed connection")
		return
	}
	defer conn.CloseNow()

	ch, cancel := h.Subscribe()
	defer cancel()

	h.logger.WithField("subscribers", h.SubscriberCount()).Info("Event feed subscriber connected")

	// The feed is write-only; CloseRead keeps control frames serviced
	// and cancels the context as soon as the client goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case payload := <-ch:
			if err := wsjson.Write(ctx, conn, payload); err != nil {
				h.logger.WithError(err).Debug("Event feed subscriber write failed")
				return
			}
		}
	}
}
