package types

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes exchange failures so callers can react without
// string-matching messages.
type ErrorKind string

const (
	KindUnauthorized  ErrorKind = "UNAUTHORIZED"
	KindNotFound      ErrorKind = "NOT_FOUND"
	KindAlreadyExists ErrorKind = "ALREADY_EXISTS"
	KindInvalidState  ErrorKind = "INVALID_STATE"
	KindInvalidInput  ErrorKind = "INVALID_INPUT"
	KindUnverified    ErrorKind = "UNVERIFIED"
	KindInternal      ErrorKind = "INTERNAL"
)

// ExchangeError is a structured error carrying the failure kind and the
// offending key (the record owner, grant pair, proposal, or principal the
// operation was addressed to).
type ExchangeError struct {
	Kind    ErrorKind `json:"kind"`
	Key     string    `json:"key"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

// Error implements the error interface.
func (e *ExchangeError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ExchangeError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match two exchange errors by kind.
func (e *ExchangeError) Is(target error) bool {
	var other *ExchangeError
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the error kind, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	var ee *ExchangeError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// NewUnauthorizedError creates an authorization failure for the given key.
func NewUnauthorizedError(key, message string) *ExchangeError {
	return &ExchangeError{Kind: KindUnauthorized, Key: key, Message: message}
}

// NewNotFoundError creates a missing-entity failure for the given key.
func NewNotFoundError(key, message string) *ExchangeError {
	return &ExchangeError{Kind: KindNotFound, Key: key, Message: message}
}

// NewAlreadyExistsError creates a uniqueness-violation failure for the given key.
func NewAlreadyExistsError(key, message string) *ExchangeError {
	return &ExchangeError{Kind: KindAlreadyExists, Key: key, Message: message}
}

// NewInvalidStateError creates a state-machine-transition failure for the given key.
func NewInvalidStateError(key, message string) *ExchangeError {
	return &ExchangeError{Kind: KindInvalidState, Key: key, Message: message}
}

// NewInvalidInputError creates a malformed-input failure.
func NewInvalidInputError(key, message string) *ExchangeError {
	return &ExchangeError{Kind: KindInvalidInput, Key: key, Message: message}
}

// NewUnverifiedError creates a credential-gate failure for the given provider.
func NewUnverifiedError(key, message string) *ExchangeError {
	return &ExchangeError{Kind: KindUnverified, Key: key, Message: message}
}

// NewInternalError wraps an unexpected failure from a collaborator.
func NewInternalError(key, message string, cause error) *ExchangeError {
	return &ExchangeError{Kind: KindInternal, Key: key, Message: message, Cause: cause}
}
