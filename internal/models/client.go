package models

import "time"

// SessionStatus is the lifecycle state of one managed messaging session.
type SessionStatus string

const (
	StatusInitializing    SessionStatus = "initializing"
	StatusAwaitingPairing SessionStatus = "awaiting_pairing"
	StatusReady           SessionStatus = "ready"
	StatusDisconnected    SessionStatus = "disconnected"
)

// ParseSessionStatus maps a query-string value to a SessionStatus.
func ParseSessionStatus(s string) (SessionStatus, bool) {
	switch SessionStatus(s) {
	case StatusInitializing, StatusAwaitingPairing, StatusReady, StatusDisconnected:
		return SessionStatus(s), true
	}
	return "", false
}

// ClientInfo is the read-only listing view of one session.
type ClientInfo struct {
	PhoneNumber string        `json:"phoneNumber"`
	Status      SessionStatus `json:"status"`
	HasWebhook  bool          `json:"hasWebhook"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page        int  `json:"page"`
	Limit       int  `json:"limit"`
	Total       int  `json:"total"`
	TotalPages  int  `json:"totalPages"`
	HasNext     bool `json:"hasNext"`
	HasPrevious bool `json:"hasPrevious"`
}

// SessionRecord is the persisted audit row for a session lifecycle.
type SessionRecord struct {
	Identifier string     `json:"identifier"`
	CreatedAt  time.Time  `json:"createdAt"`
	RemovedAt  *time.Time `json:"removedAt,omitempty"`
	LastStatus string     `json:"lastStatus"`
}

// WebhookRecord is the persisted webhook registration for a session.
type WebhookRecord struct {
	Identifier string    `json:"identifier"`
	URL        string    `json:"url"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
