package types

import (
	"context"
)

// Client is the opaque capability boundary to the external messaging
// protocol. The registry owns exactly one Client per session and never
// looks behind this interface.
type Client interface {
	// Connect starts the session on the remote network. Pairing and
	// readiness are reported asynchronously on Events.
	Connect(ctx context.Context) error

	// SendText delivers one text message to a recipient.
	SendText(ctx context.Context, to, body string) (*SendMessageResponse, error)

	// Logout terminates the authenticated session on the remote side.
	Logout(ctx context.Context) error

	// Events returns the client's event stream. The channel is closed
	// by Close.
	Events() <-chan Event

	// Close releases the handle. Safe to call more than once.
	Close() error
}

// Factory constructs a Client for an account identifier. The registry
// uses it so tests can substitute fakes for the gateway-backed client.
type Factory func(identifier string) (Client, error)
