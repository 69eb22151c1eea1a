// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Resource errors.
	ErrMissingResource   = errors.New("missing resource")
	ErrCorruptCheckpoint = errors.New("checkpoint corrupted")

	// Sample errors. ErrDecode is recovered inside the image source and only
	// escapes as ErrExhaustedSource once no decodable sample remains.
	ErrDecode          = errors.New("image decode failed")
	ErrExhaustedSource = errors.New("no decodable samples remain")

	// Model errors.
	ErrClassMismatch = errors.New("class index mismatch")

	// Caller errors.
	ErrInput = errors.New("invalid input")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsFatal reports whether err should abort the current operation. Decode
// errors are the only class recovered locally.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrExhaustedSource) {
		return true
	}
	return !errors.Is(err, ErrDecode)
}
