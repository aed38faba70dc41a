// Package webhook delivers session events to per-session callback
// URLs. Delivery is fire-and-forget: bounded by a fixed timeout, never
// retried, and never surfaced to the code path that triggered it.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"wamux/internal/errors"
	"wamux/internal/metrics"
	"wamux/internal/models"
	"wamux/internal/privacy"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Store persists webhook registrations across restarts.
type Store interface {
	SaveWebhook(ctx context.Context, identifier, url string) error
	DeleteWebhook(ctx context.Context, identifier string) error
	ListWebhooks(ctx context.Context) ([]models.WebhookRecord, error)
}

// EventSink mirrors every dispatched payload, configured URL or not.
// The live event feed subscribes through this.
type EventSink interface {
	Publish(payload models.WebhookPayload)
}

// Dispatcher maps account identifiers to callback URLs and posts
// event payloads to them.
type Dispatcher struct {
	mu        sync.RWMutex
	urls      map[string]string
	client    *http.Client
	logger    *logrus.Logger
	errLogger *errors.Logger
	store     Store     // optional
	sink      EventSink // optional

	inflight sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given delivery timeout.
// store and sink may be nil.
func NewDispatcher(logger *logrus.Logger, timeout time.Duration, store Store, sink EventSink) *Dispatcher {
	return &Dispatcher{
		urls:      make(map[string]string),
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
		errLogger: errors.NewLogger(),
		store:     store,
		sink:      sink,
	}
}

// LoadFromStore restores persisted registrations into memory.
func (d *Dispatcher) LoadFromStore(ctx context.Context) error {
	if d.store == nil {
		return nil
	}

	records, err := d.store.ListWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("failed to load webhooks: %w", err)
	}

	d.mu.Lock()
	for _, rec := range records {
		d.urls[rec.Identifier] = rec.URL
	}
	count := len(d.urls)
	d.mu.Unlock()

	d.logger.WithField("count", count).Info("Webhook registrations loaded")
	return nil
}

// SetWebhook registers the callback URL for an identifier, replacing
// any previous registration. Persistence failures are logged but do
// not fail the registration; the in-memory mapping is authoritative.
func (d *Dispatcher) SetWebhook(identifier, url string) {
	d.mu.Lock()
	d.urls[identifier] = url
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"identifier": privacy.MaskPhoneNumber(identifier),
		"url":        privacy.MaskURL(url),
	}).Info("Webhook configured")

	if d.store != nil {
		if err := d.store.SaveWebhook(context.Background(), identifier, url); err != nil {
			d.logger.WithError(err).Warn("Failed to persist webhook registration")
		}
	}
}

// ClearWebhook drops the registration for an identifier.
func (d *Dispatcher) ClearWebhook(identifier string) {
	d.mu.Lock()
	delete(d.urls, identifier)
	d.mu.Unlock()

	if d.store != nil {
		if err := d.store.DeleteWebhook(context.Background(), identifier); err != nil {
			d.logger.WithError(err).Warn("Failed to delete persisted webhook registration")
		}
	}
}

// HasWebhook reports whether a callback URL is registered.
func (d *Dispatcher) HasWebhook(identifier string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.urls[identifier]
	return ok
}

// Dispatch sends an event notification for an identifier. Without a
// registered URL it performs no network call. Delivery runs on its own
// goroutine; the caller never observes its outcome.
func (d *Dispatcher) Dispatch(identifier, event string, data interface{}) {
	payload := models.WebhookPayload{
		Event:     event,
		ClientID:  identifier,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	if d.sink != nil {
		d.sink.Publish(payload)
	}

	d.mu.RLock()
	url, ok := d.urls[identifier]
	d.mu.RUnlock()

	if !ok {
		d.logger.WithFields(logrus.Fields{
			"identifier": privacy.MaskPhoneNumber(identifier),
			"event":      event,
		}).Debug("No webhook URL configured, skipping delivery")
		return
	}

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		d.deliver(url, payload)
	}()
}

// Flush waits for in-flight deliveries, used during graceful shutdown.
func (d *Dispatcher) Flush() {
	d.inflight.Wait()
}

func (d *Dispatcher) deliver(url string, payload models.WebhookPayload) {
	start := time.Now()

	labels := map[string]string{"event": payload.Event}
	metrics.IncrementCounter("webhook_dispatch_total", labels, "Total webhook deliveries attempted")

	body, err := json.Marshal(payload)
	if err != nil {
		d.logDeliveryFailure(payload, url, err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		d.logDeliveryFailure(payload, url, err)
		return
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", uuid.NewString())

	resp, err := d.client.Do(req)
	if err != nil {
		d.logDeliveryFailure(payload, url, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logDeliveryFailure(payload, url, fmt.Errorf("endpoint returned status %d", resp.StatusCode))
		return
	}

	metrics.RecordTimer("webhook_delivery_duration", time.Since(start), labels, "Webhook delivery duration")
	metrics.IncrementCounter("webhook_delivery_success_total", labels, "Successful webhook deliveries")

	d.logger.WithFields(logrus.Fields{
		"identifier": privacy.MaskPhoneNumber(payload.ClientID),
		"event":      payload.Event,
		"duration":   time.Since(start).Milliseconds(),
	}).Debug("Webhook delivered")
}

func (d *Dispatcher) logDeliveryFailure(payload models.WebhookPayload, url string, err error) {
	metrics.IncrementCounter("webhook_delivery_errors_total",
		map[string]string{"event": payload.Event}, "Failed webhook deliveries")

	appErr := errors.NewDispatchError(payload.ClientID, privacy.MaskURL(url), err)
	d.errLogger.LogRetryableError(appErr, "Webhook delivery failed", logrus.Fields{
		"identifier": privacy.MaskPhoneNumber(payload.ClientID),
		"event":      payload.Event,
	})
}
