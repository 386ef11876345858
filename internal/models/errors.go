package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoSession        = errors.New("models: session not found")
	ErrTokenExpired     = errors.New("models: access token expired")
	ErrCheckoutInFlight = errors.New("models: checkout already in progress")
	ErrPollTimeout      = errors.New("models: polling budget exhausted")
	ErrIntentMismatch   = errors.New("models: no matching pending intent")
	ErrRateLimited      = errors.New("models: too many checkout attempts")
)

// ValidationError rejects input before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// NetworkError wraps a transport-level failure talking to the backend.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// BackendError is a non-2xx response from the game API.
type BackendError struct {
	StatusCode int
	Status     string
	Detail     string
	Body       string
}

func (e *BackendError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Detail != "" {
		return fmt.Sprintf("backend error: %s: %s", e.Status, e.Detail)
	}
	bt := strings.TrimSpace(e.Body)
	if bt == "" {
		return fmt.Sprintf("backend error: %s", e.Status)
	}
	return fmt.Sprintf("backend error: %s: %s", e.Status, bt)
}

// Retriable reports whether repeating the same request may succeed.
// 4xx answers are final for a given payment reference.
func (e *BackendError) Retriable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 0
}

// UserMessage converts err into the status string shown to the user.
// Backend details are surfaced verbatim; anything unclassified gets fallback.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrNoSession):
		return "Session expired. Please sign in again."
	case errors.Is(err, ErrCheckoutInFlight):
		return "A checkout is already in progress."
	case errors.Is(err, ErrRateLimited):
		return "Too many checkout attempts. Please wait a moment."
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Error()
	}
	var bErr *BackendError
	if errors.As(err, &bErr) {
		if bErr.Detail != "" {
			return bErr.Detail
		}
		return fmt.Sprintf("Request failed (%d)", bErr.StatusCode)
	}
	return fallback
}

// IsRetriable reports whether the deferred action may be attempted again for the
// same reference. Transport failures, 5xx answers and an expired session are
// retriable.
func IsRetriable(err error) bool {
	if errors.Is(err, ErrTokenExpired) {
		return true
	}
	var bErr *BackendError
	if errors.As(err, &bErr) {
		return bErr.Retriable()
	}
	var nErr *NetworkError
	return errors.As(err, &nErr)
}
