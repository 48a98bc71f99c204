// Package clients defines the error taxonomy shared by the per-chain RPC
// clients. Callers classify failures with errors.Is and decide between
// retry-with-backoff (transient), treat-as-empty (not found) and
// fail-without-retry (format).
package clients

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrTransient marks 5xx responses, connection errors and timeouts.
	ErrTransient = errors.New("transient RPC error")
	// ErrNotFound marks an absent block or transaction.
	ErrNotFound = errors.New("not found")
	// ErrFormat marks a response that does not match the expected schema.
	ErrFormat = errors.New("malformed RPC response")
)

// Transient wraps err as retryable.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Transientf formats a retryable error.
func Transientf(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, v...))
}

// NotFoundf formats a not-found error.
func NotFoundf(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, v...))
}

// Formatf formats a schema-mismatch error.
func Formatf(format string, v ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, v...))
}

// IsTransient reports whether err should be retried with backoff. Network
// level failures count as transient even when they were not wrapped.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsNotFound reports whether err means the block/tx does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
