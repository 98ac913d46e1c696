package api

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// KindAuthUnavailable means the token provider had no valid token. Never retried.
	KindAuthUnavailable Kind = iota + 1
	// KindRateLimited is a 429 response, retried after Retry-After.
	KindRateLimited
	// KindServerError is a 5xx response, retried with backoff.
	KindServerError
	// KindClientError is any other 4xx response. Never retried.
	KindClientError
	// KindNetworkError is a transport failure, retried with backoff.
	KindNetworkError
	// KindCancelled means the caller or a newer request on the same channel gave up on this one.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindAuthUnavailable:
		return "auth_unavailable"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindClientError:
		return "client_error"
	case KindNetworkError:
		return "network_error"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is the typed failure surfaced by Pipeline.Execute.
type Error struct {
	Kind       Kind
	Status     int
	Body       string
	RetryAfter time.Duration
	Err        error

	sentinel bool
}

var (
	ErrAuthUnavailable = &Error{Kind: KindAuthUnavailable, sentinel: true}
	ErrRateLimited     = &Error{Kind: KindRateLimited, sentinel: true}
	ErrServerError     = &Error{Kind: KindServerError, sentinel: true}
	ErrClientError     = &Error{Kind: KindClientError, sentinel: true}
	ErrNetworkError    = &Error{Kind: KindNetworkError, sentinel: true}
	ErrCancelled       = &Error{Kind: KindCancelled, sentinel: true}
)

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("api %s (status %d): %s", e.Kind, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("api %s (status %d)", e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("api %s: %v", e.Kind, e.Err)
	default:
		return "api " + e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the package sentinels by kind, so errors.Is(err, ErrCancelled)
// holds for every cancelled request.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.sentinel && t.Kind == e.Kind
}

// Retryable reports whether the pipeline spends retry budget on this failure.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServerError, KindNetworkError:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a pipeline failure that would be retried.
func IsRetryable(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func cancelled(err error) *Error {
	return &Error{Kind: KindCancelled, Err: err}
}
