package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUpstreamUnavailable means the source returned a non-success status or
	// could not be reached. Nothing was written to the store.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedRecord means a raw listing lacked or mistyped a required
	// field. Nothing was written to the store for the batch.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrReconciliationFailed means a store step failed after normalization.
	// Records inserted before the failure stay in the store; the next
	// successful cycle retires any duplicates they leave behind.
	ErrReconciliationFailed = errors.New("reconciliation failed")
	// ErrInvalidQuery means the caller's query parameters were rejected.
	ErrInvalidQuery = errors.New("invalid query")
)

// HTTPError wraps an HTTP status code so retry logic can inspect it.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // from Retry-After header, zero if absent
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// MalformedRecordError names the listing and field that failed normalization.
type MalformedRecordError struct {
	ExternalID string
	Field      string
	Reason     string
}

func (e *MalformedRecordError) Error() string {
	id := e.ExternalID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("malformed record %s: %s %s", id, e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrMalformedRecord) match.
func (e *MalformedRecordError) Is(target error) bool {
	return target == ErrMalformedRecord
}
