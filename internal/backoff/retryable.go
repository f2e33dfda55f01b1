package backoff

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"

	"storyreel/internal/services"
)

// DefaultRetryable classifies network failures, timeouts, HTTP 408/429/5xx,
// and errors marked transient as retryable. Cancellation, validation, and
// configuration errors never are.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrConfiguration) {
		return false
	}

	var statusErr *services.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	if errors.Is(err, services.ErrTransient) || errors.Is(err, services.ErrTimeout) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
