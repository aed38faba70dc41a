package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"wamux/internal/constants"
	"wamux/internal/errors"
	"wamux/internal/metrics"
	"wamux/internal/models"
	"wamux/internal/privacy"
	"wamux/internal/webhook"
	"wamux/pkg/waclient/types"

	"github.com/sirupsen/logrus"
)

// Store is the persistence surface the registry uses for session audit
// records. All methods are best-effort from the registry's point of
// view; the in-memory map stays authoritative.
type Store interface {
	InsertSessionRecord(ctx context.Context, identifier string, createdAt time.Time) error
	UpdateSessionStatus(ctx context.Context, identifier string, status string) error
	MarkSessionRemoved(ctx context.Context, identifier string, removedAt time.Time) error
}

// Registry multiplexes messaging sessions keyed by phone number. The
// internal map lock is held only for map access; connecting, sending
// and teardown all happen outside it so one slow session never stalls
// the rest.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	seq      uint64

	factory    types.Factory
	dispatcher *webhook.Dispatcher
	logger     *logrus.Logger
	store      Store
}

// NewRegistry creates an empty registry. store may be nil when audit
// persistence is disabled.
func NewRegistry(factory types.Factory, dispatcher *webhook.Dispatcher, logger *logrus.Logger, store Store) *Registry {
	return &Registry{
		sessions:   make(map[string]*Session),
		factory:    factory,
		dispatcher: dispatcher,
		logger:     logger,
		store:      store,
	}
}

// AddClient registers a new session for identifier and starts
// connecting it in the background. The existence check and the map
// insert happen under one lock acquisition, so two concurrent adds for
// the same identifier cannot both succeed.
func (r *Registry) AddClient(ctx context.Context, identifier string) (*Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[identifier]; exists {
		r.mu.Unlock()
		return nil, errors.NewAlreadyExistsError("client", identifier)
	}

	handle, err := r.factory(identifier)
	if err != nil {
		r.mu.Unlock()
		return nil, errors.Wrap(err, errors.ErrCodeInternalError, "failed to create client handle")
	}

	r.seq++
	session := newSession(identifier, handle, r.dispatcher, r.logger, r.seq)
	session.onStatus = r.persistStatus
	r.sessions[identifier] = session
	count := len(r.sessions)
	r.mu.Unlock()

	metrics.IncrementCounter("registry_sessions_added_total", nil, "Total sessions registered")
	metrics.SetGauge("registry_sessions_active", float64(count), nil, "Currently registered sessions")

	if r.store != nil {
		if err := r.store.InsertSessionRecord(ctx, identifier, session.createdAt); err != nil {
			r.logger.WithError(err).WithField("identifier", privacy.MaskPhoneNumber(identifier)).
				Warn("Failed to persist session record")
		}
	}

	session.startEventPump()

	// Connecting can take as long as the pairing flow; the caller gets
	// the session back immediately in the initializing state.
	go func() {
		if err := handle.Connect(context.Background()); err != nil {
			r.logger.WithError(err).WithField("identifier", privacy.MaskPhoneNumber(identifier)).
				Error("Failed to connect session")
			session.applyEvent(types.Event{Type: types.EventDisconnected, Reason: "connect failed"})
		}
	}()

	r.logger.WithField("identifier", privacy.MaskPhoneNumber(identifier)).Info("Client registered")
	return session, nil
}

// RemoveClient tears down the session for identifier. A second call
// racing the first observes not-found: the first caller claims the
// session before releasing the registry lock.
func (r *Registry) RemoveClient(ctx context.Context, identifier string) error {
	r.mu.RLock()
	session, exists := r.sessions[identifier]
	r.mu.RUnlock()

	if !exists || !session.markRemoving(time.Now()) {
		return errors.NewNotFoundError("client", identifier)
	}

	logger := r.logger.WithField("identifier", privacy.MaskPhoneNumber(identifier))

	if err := session.handle.Logout(ctx); err != nil {
		logger.WithError(err).Warn("Logout failed during removal")
	}
	if err := session.handle.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close client handle")
	}
	<-session.pumpDone

	r.dispatcher.ClearWebhook(identifier)

	r.mu.Lock()
	delete(r.sessions, identifier)
	count := len(r.sessions)
	r.mu.Unlock()

	metrics.IncrementCounter("registry_sessions_removed_total", nil, "Total sessions removed")
	metrics.SetGauge("registry_sessions_active", float64(count), nil, "Currently registered sessions")

	if r.store != nil {
		if err := r.store.MarkSessionRemoved(ctx, identifier, session.removedAt); err != nil {
			logger.WithError(err).Warn("Failed to persist session removal")
		}
	}

	logger.Info("Client removed")
	return nil
}

// GetClient returns the session for identifier.
func (r *Registry) GetClient(identifier string) (*Session, error) {
	r.mu.RLock()
	session, exists := r.sessions[identifier]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.NewNotFoundError("client", identifier)
	}
	return session, nil
}

// GetStatus returns the lifecycle state of the session for identifier.
func (r *Registry) GetStatus(identifier string) (models.SessionStatus, error) {
	session, err := r.GetClient(identifier)
	if err != nil {
		return "", err
	}
	return session.Status(), nil
}

// GetPairingCode returns the pending pairing code for identifier. The
// second return is false when no code is currently pending.
func (r *Registry) GetPairingCode(identifier string) (string, bool, error) {
	session, err := r.GetClient(identifier)
	if err != nil {
		return "", false, err
	}
	code, ok := session.PairingCode()
	return code, ok, nil
}

// SendMessage sends a text message through the session for identifier.
// The send itself runs outside the registry lock.
func (r *Registry) SendMessage(ctx context.Context, identifier, to, body string) (*types.SendMessageResponse, error) {
	session, err := r.GetClient(identifier)
	if err != nil {
		return nil, err
	}

	resp, err := session.handle.SendText(ctx, to, body)
	if err != nil {
		return nil, errors.NewSendError(identifier, err)
	}

	metrics.IncrementCounter("registry_messages_sent_total", nil, "Total messages sent")
	return resp, nil
}

// SetWebhook binds url as the webhook target for identifier,
// replacing any previous binding.
func (r *Registry) SetWebhook(identifier, url string) error {
	r.mu.RLock()
	_, exists := r.sessions[identifier]
	r.mu.RUnlock()

	if !exists {
		return errors.NewNotFoundError("client", identifier)
	}

	r.dispatcher.SetWebhook(identifier, url)
	return nil
}

// ListClients returns one page of sessions, optionally filtered by
// status. Filtering happens before pagination, so page counts describe
// the filtered set. Ordering is newest-first with insertion order
// breaking ties.
func (r *Registry) ListClients(filter *models.SessionStatus, page, limit int) ([]models.ClientInfo, models.Pagination) {
	if page < 1 {
		page = constants.DefaultListPage
	}
	if limit < constants.MinListLimit {
		limit = constants.DefaultListLimit
	}
	if limit > constants.MaxListLimit {
		limit = constants.MaxListLimit
	}

	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	filtered := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if filter != nil && s.Status() != *filter {
			continue
		}
		filtered = append(filtered, s)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].createdAt.Equal(filtered[j].createdAt) {
			return filtered[i].seq < filtered[j].seq
		}
		return filtered[i].createdAt.After(filtered[j].createdAt)
	})

	total := len(filtered)
	totalPages := (total + limit - 1) / limit

	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	items := make([]models.ClientInfo, 0, end-start)
	for _, s := range filtered[start:end] {
		items = append(items, s.Info())
	}

	return items, models.Pagination{
		Page:        page,
		Limit:       limit,
		Total:       total,
		TotalPages:  totalPages,
		HasNext:     page < totalPages,
		HasPrevious: page > 1,
	}
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown tears down every session. Used on process exit.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.RLock()
	identifiers := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		identifiers = append(identifiers, id)
	}
	r.mu.RUnlock()

	for _, id := range identifiers {
		if err := r.RemoveClient(ctx, id); err != nil && !errors.IsCode(err, errors.ErrCodeNotFound) {
			r.logger.WithError(err).WithField("identifier", privacy.MaskPhoneNumber(id)).
				Warn("Failed to remove session during shutdown")
		}
	}
}

func (r *Registry) persistStatus(identifier string, status models.SessionStatus) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.UpdateSessionStatus(ctx, identifier, string(status)); err != nil {
		r.logger.WithError(err).WithField("identifier", privacy.MaskPhoneNumber(identifier)).
			Warn("Failed to persist session status")
	}
}
