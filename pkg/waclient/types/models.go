package types

import "time"

// EventType identifies an event emitted by a messaging-client handle.
type EventType string

const (
	EventQR           EventType = "qr"
	EventReady        EventType = "ready"
	EventDisconnected EventType = "disconnected"
	EventAuthFailure  EventType = "auth_failure"
	EventMessage      EventType = "message"
)

// IncomingMessage is one message received on a session.
type IncomingMessage struct {
	From      string `json:"from"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	Type      string `json:"type"`
}

// Event is one item on a client's event stream. Exactly the fields
// relevant to the Type are populated.
type Event struct {
	Type    EventType
	Code    string           // EventQR: the pairing-code string
	Reason  string           // EventDisconnected
	Error   string           // EventAuthFailure
	Message *IncomingMessage // EventMessage
}

// SendMessageResponse is the gateway's acknowledgement of a send.
type SendMessageResponse struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// ClientConfig configures a gateway-backed client.
type ClientConfig struct {
	BaseURL      string
	APIKey       string
	SessionName  string
	Timeout      time.Duration
	PollInterval time.Duration
}

// Gateway session statuses
const (
	GatewayStatusStarting = "STARTING"
	GatewayStatusScanQR   = "SCAN_QR_CODE"
	GatewayStatusWorking  = "WORKING"
	GatewayStatusFailed   = "FAILED"
	GatewayStatusStopped  = "STOPPED"
)
