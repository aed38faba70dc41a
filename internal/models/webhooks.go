package models

// Outbound webhook event types
const (
	EventQR           = "qr"
	EventReady        = "ready"
	EventDisconnected = "disconnected"
	EventAuthFailure  = "auth_failure"
	EventMessage      = "message"
)

// WebhookPayload is the fixed wire format POSTed to a registered
// callback URL. Timestamp is ISO-8601 / RFC 3339.
type WebhookPayload struct {
	Event     string      `json:"event"`
	ClientID  string      `json:"clientId"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// QRData is the payload for a pairing-code event.
type QRData struct {
	Code string `json:"code"`
}

// ReadyData is the payload for a ready event.
type ReadyData struct {
	Status string `json:"status"`
}

// DisconnectedData is the payload for a disconnected event.
type DisconnectedData struct {
	Reason string `json:"reason"`
}

// AuthFailureData is the payload for an auth failure event.
type AuthFailureData struct {
	Error string `json:"error"`
}

// MessageData is the payload for an incoming message event.
type MessageData struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
}
