package util

import (
	"context"
	"errors"
	"net"

	"dmrelay/internal/messenger"
)

// IsRetryableError classifies a connection-attempt error.
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// Credentials and the downstream target do not fix themselves.
	if errors.Is(err, messenger.ErrAuth) {
		return false, "auth_failed"
	}
	if errors.Is(err, messenger.ErrInvalidRecipient) {
		return false, "invalid_recipient"
	}
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	if errors.Is(err, messenger.ErrDisconnected) {
		return true, "disconnected"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	// Anything else is treated as a transient failure and bounded by the
	// retry budget.
	return true, "unknown_error"
}

// ShouldRetry reports whether another attempt fits in the budget.
func ShouldRetry(retryCount, maxRetries int, isRetryable bool) bool {
	if !isRetryable {
		return false
	}
	return retryCount < maxRetries
}
