package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Category classifies an upstream failure.
type Category string

const (
	// CategoryUnavailable means the health probe failed or timed out.
	CategoryUnavailable Category = "unavailable"
	// CategoryConnectionRefused means the transport was refused before any response.
	CategoryConnectionRefused Category = "connection_refused"
	// CategoryTimeout means the query exceeded its bound.
	CategoryTimeout Category = "timeout"
	// CategoryHTTP means the service answered with a non-2xx status.
	CategoryHTTP Category = "upstream_http_error"
	// CategoryUnknown covers every other transport or decoding failure.
	CategoryUnknown Category = "unknown"
)

// Error is a classified upstream failure.
type Error struct {
	Category   Category
	Message    string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Category, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a classified upstream error from err.
func AsError(err error) (*Error, bool) {
	var ue *Error
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// classifyTransport maps a pre-response failure to a category. It returns
// the caller's own context error unchanged when the caller gave up, so an
// abandoned request is never reported as an upstream fault.
func classifyTransport(parent context.Context, err error) (Category, error) {
	if parent.Err() != nil {
		return "", parent.Err()
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return CategoryConnectionRefused, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout, nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CategoryTimeout, nil
	}
	return CategoryUnknown, nil
}
