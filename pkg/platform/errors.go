package platform

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrThreadExists reports that the event already has a thread, created
	// concurrently by the platform or another code path.
	ErrThreadExists = errors.New("thread already exists")

	// ErrForbidden reports a permission failure. Never retried.
	ErrForbidden = errors.New("operation forbidden")

	// ErrPayloadTooLarge reports that the platform rejected the payload size
	// after its own validation. Never retried.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// TransientError wraps a transport failure that is expected to be
// retry-solvable (handshake resets, timeouts, upstream 5xx, rate limits).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient transport failure: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient classifies an error as a transient transport failure. Permanent
// failures (permissions, validation) and context cancellation are not
// transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrForbidden) || errors.Is(err, ErrPayloadTooLarge) || errors.Is(err, ErrThreadExists) {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	// Handshake-class failures from TLS stacks surface as opaque strings.
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "tls handshake") || strings.Contains(text, "connection reset")
}
