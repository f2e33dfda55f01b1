package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// ErrorKind names the marker attached to a wrapped error.
type ErrorKind string

const (
	KindExternal      ErrorKind = "external"
	KindValidation    ErrorKind = "validation"
	KindConfiguration ErrorKind = "configuration"
	KindNotFound      ErrorKind = "not_found"
	KindTimeout       ErrorKind = "timeout"
	KindTransient     ErrorKind = "transient"
	KindUnknown       ErrorKind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return &wrappedError{
			marker:    marker,
			stage:     strings.TrimSpace(stage),
			operation: strings.TrimSpace(operation),
			message:   strings.TrimSpace(message),
			cause:     err,
			text:      fmt.Sprintf("%v: %s: %v", marker, detail, err),
		}
	}
	return &wrappedError{
		marker:    marker,
		stage:     strings.TrimSpace(stage),
		operation: strings.TrimSpace(operation),
		message:   strings.TrimSpace(message),
		text:      fmt.Sprintf("%v: %s", marker, detail),
	}
}

type wrappedError struct {
	marker    error
	stage     string
	operation string
	message   string
	cause     error
	text      string
}

func (e *wrappedError) Error() string { return e.text }

func (e *wrappedError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.marker}
	}
	return []error{e.marker, e.cause}
}

// ErrorDetails summarizes a wrapped error for logs and persisted failure messages.
type ErrorDetails struct {
	Kind      ErrorKind
	Stage     string
	Operation string
	Message   string
	Cause     error
}

// Details walks the error chain for the outermost Wrap call and reports its context.
// Errors that were never wrapped report KindUnknown with their own text as message.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{Kind: KindUnknown}
	}
	details := ErrorDetails{Kind: Kind(err)}
	var wrapped *wrappedError
	if errors.As(err, &wrapped) {
		details.Stage = wrapped.stage
		details.Operation = wrapped.operation
		details.Message = wrapped.message
		details.Cause = wrapped.cause
		if details.Message == "" && wrapped.cause != nil {
			details.Message = wrapped.cause.Error()
		}
		return details
	}
	details.Message = err.Error()
	return details
}

// Kind maps an error to the kind of its marker.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrTransient):
		return KindTransient
	case errors.Is(err, ErrExternalTool):
		return KindExternal
	default:
		return KindUnknown
	}
}

// StatusError reports a non-success HTTP response from an upstream provider.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s: http %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, body)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	switch {
	case e.StatusCode == http.StatusRequestTimeout, e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
