package repository

import (
	"context"
	"errors"
)

// Persisted document names.
const (
	DocDailyMessages   = "daily_messages"
	DocMessageTracking = "message_tracking"
)

// ErrStateNotFound is returned by Load when a document has never been saved.
var ErrStateNotFound = errors.New("state document not found")

// StateRepository persists whole JSON documents by name.
type StateRepository interface {
	Load(ctx context.Context, doc string) ([]byte, error)
	Save(ctx context.Context, doc string, data []byte) error
}
