package services

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter reads a Retry-After header in either delta-seconds or HTTP-date form.
func ParseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}

// NewStatusError builds a StatusError from a response status, body, and headers.
func NewStatusError(provider string, statusCode int, body string, header http.Header) *StatusError {
	statusErr := &StatusError{
		Provider:   provider,
		StatusCode: statusCode,
		Body:       strings.TrimSpace(body),
	}
	if header != nil {
		statusErr.RetryAfter, _ = ParseRetryAfter(header.Get("Retry-After"))
	}
	return statusErr
}
