package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrNoCredential = errors.New("no active credential")
	ErrFeedStopped  = errors.New("feed stopped")
)

// ValidationError is a local, pre-network rejection of user input. It is
// never sent to the matching service.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AuthError means the service rejected the supplied credentials, or a
// protected call was made with a missing or expired token.
type AuthError struct {
	// Status is the HTTP status code, zero when the call never left the client.
	Status int
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return "authentication failed"
}

func (e *AuthError) Unwrap() error { return e.Err }

// FetchError is a network or server failure on a read.
type FetchError struct {
	Resource string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d: %v", e.Resource, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Resource, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// OrderRejected is a business rejection of a structurally valid order. The
// order reached the service.
type OrderRejected struct {
	Status int
	Reason string
}

func (e *OrderRejected) Error() string {
	if e.Reason == "" {
		return "order rejected"
	}
	return "order rejected: " + e.Reason
}

// IsAuth reports whether err is, or wraps, an *AuthError.
func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
