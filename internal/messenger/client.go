package messenger

import (
	"context"
	"errors"

	"dmrelay/internal/model"
)

var (
	// ErrAuth means the account credentials were rejected. Not retryable.
	ErrAuth = errors.New("messenger: authentication failed")
	// ErrInvalidRecipient means the downstream handle does not resolve. Not retryable.
	ErrInvalidRecipient = errors.New("messenger: invalid recipient")
	// ErrDisconnected means an established connection dropped.
	ErrDisconnected = errors.New("messenger: connection lost")
	ErrNotConnected = errors.New("messenger: not connected")
)

// EventHandler receives private incoming messages one at a time.
type EventHandler func(ctx context.Context, msg model.IncomingMessage) error

// Recipient is a resolved downstream handle.
type Recipient struct {
	Handle  string
	Address string
}

// Client is the narrow contract the relay needs from a messaging account.
type Client interface {
	// Connect authenticates and opens the connection.
	Connect(ctx context.Context) error
	ResolveRecipient(ctx context.Context, handle string) (Recipient, error)
	// Subscribe registers the handler for private incoming messages. It must
	// be called before Run.
	Subscribe(handler EventHandler)
	// Run dispatches events until the connection drops (ErrDisconnected) or
	// ctx is cancelled (nil). An in-flight handler call finishes first.
	Run(ctx context.Context) error
	Send(ctx context.Context, to Recipient, text string) error
	Disconnect() error
	IsConnected() bool
}
