package registry

import (
	"sync"
	"time"

	"wamux/internal/models"
	"wamux/internal/privacy"
	"wamux/internal/webhook"
	"wamux/pkg/waclient/types"

	"github.com/sirupsen/logrus"
)

// Session wraps one external messaging-client handle. It owns the
// handle exclusively and is the only writer of its own status and
// pairing-code fields, which it updates from the handle's event stream
// before notifying the webhook dispatcher.
type Session struct {
	identifier string
	handle     types.Client
	dispatcher *webhook.Dispatcher
	logger     *logrus.Logger
	createdAt  time.Time
	seq        uint64

	mu        sync.RWMutex
	status    models.SessionStatus
	qrCode    string
	removedAt time.Time
	removing  bool

	// onStatus is invoked outside the session lock after every status
	// change; the registry uses it for audit persistence.
	onStatus func(identifier string, status models.SessionStatus)

	pumpDone chan struct{}
}

func newSession(identifier string, handle types.Client, dispatcher *webhook.Dispatcher, logger *logrus.Logger, seq uint64) *Session {
	return &Session{
		identifier: identifier,
		handle:     handle,
		dispatcher: dispatcher,
		logger:     logger,
		createdAt:  time.Now(),
		seq:        seq,
		status:     models.StatusInitializing,
		pumpDone:   make(chan struct{}),
	}
}

// Identifier returns the immutable account identifier.
func (s *Session) Identifier() string {
	return s.identifier
}

// Status returns the current lifecycle state.
func (s *Session) Status() models.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// PairingCode returns the latest pairing code, if one is pending.
func (s *Session) PairingCode() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qrCode, s.qrCode != ""
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Info builds the listing view of this session.
func (s *Session) Info() models.ClientInfo {
	s.mu.RLock()
	status := s.status
	s.mu.RUnlock()

	return models.ClientInfo{
		PhoneNumber: s.identifier,
		Status:      status,
		HasWebhook:  s.dispatcher.HasWebhook(s.identifier),
		CreatedAt:   s.createdAt,
	}
}

// startEventPump consumes the handle's event stream until the handle
// is closed. Runs on its own goroutine.
func (s *Session) startEventPump() {
	go func() {
		defer close(s.pumpDone)
		for ev := range s.handle.Events() {
			s.applyEvent(ev)
		}
	}()
}

// applyEvent performs the state update for one event and then the
// dispatcher call, in that order: session state must reflect reality
// even when webhook delivery later fails.
func (s *Session) applyEvent(ev types.Event) {
	logger := s.logger.WithFields(logrus.Fields{
		"identifier": privacy.MaskPhoneNumber(s.identifier),
		"event":      string(ev.Type),
	})

	switch ev.Type {
	case types.EventQR:
		s.mu.Lock()
		s.qrCode = ev.Code
		changed := false
		if s.status != models.StatusReady && s.status != models.StatusAwaitingPairing {
			s.status = models.StatusAwaitingPairing
			changed = true
		}
		s.mu.Unlock()

		if changed {
			s.notifyStatus(models.StatusAwaitingPairing)
		}
		logger.Debug("Pairing code updated")
		s.dispatcher.Dispatch(s.identifier, models.EventQR, models.QRData{Code: ev.Code})

	case types.EventReady:
		s.mu.Lock()
		s.status = models.StatusReady
		s.qrCode = ""
		s.mu.Unlock()

		s.notifyStatus(models.StatusReady)
		logger.Info("Session ready")
		s.dispatcher.Dispatch(s.identifier, models.EventReady, models.ReadyData{Status: "ready"})

	case types.EventDisconnected:
		s.mu.Lock()
		s.status = models.StatusDisconnected
		s.mu.Unlock()

		s.notifyStatus(models.StatusDisconnected)
		logger.WithField("reason", ev.Reason).Warn("Session disconnected")
		s.dispatcher.Dispatch(s.identifier, models.EventDisconnected, models.DisconnectedData{Reason: ev.Reason})

	case types.EventAuthFailure:
		// Auth failure forces the session to disconnected: the handle
		// cannot recover without a fresh pairing.
		s.mu.Lock()
		s.status = models.StatusDisconnected
		s.mu.Unlock()

		s.notifyStatus(models.StatusDisconnected)
		logger.WithField("error", ev.Error).Error("Session authentication failed")
		s.dispatcher.Dispatch(s.identifier, models.EventAuthFailure, models.AuthFailureData{Error: ev.Error})

	case types.EventMessage:
		if ev.Message == nil {
			return
		}
		logger.Debug("Message received")
		s.dispatcher.Dispatch(s.identifier, models.EventMessage, models.MessageData{
			From:      ev.Message.From,
			Body:      ev.Message.Body,
			Timestamp: ev.Message.Timestamp,
			Type:      ev.Message.Type,
		})
	}
}

func (s *Session) notifyStatus(status models.SessionStatus) {
	if s.onStatus != nil {
		s.onStatus(s.identifier, status)
	}
}

// markRemoving flags the session for teardown. Returns false when a
// concurrent removal already claimed it.
func (s *Session) markRemoving(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removing {
		return false
	}
	s.removing = true
	s.removedAt = at
	return true
}
