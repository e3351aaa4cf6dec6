// Package domainerrors carries coded errors across service boundaries.
//
// Services wrap infrastructure failures (see pkg/platform/sentinel) into a
// coded error so callers at the edge (interaction handlers, the ops HTTP
// server) can pick a response without string matching.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	CodeInvalidInput       Code = "invalid_input"
	CodeValidation         Code = "validation_error"
	CodeInvariantViolation Code = "invariant_violation"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeInternal           Code = "internal_error"

	// CodeConfigurationMissing means a referenced guild, channel or role no
	// longer exists on the platform.
	CodeConfigurationMissing Code = "configuration_missing"
	// CodeDeliveryFailure means sending or editing a platform message failed.
	CodeDeliveryFailure Code = "delivery_failure"
	// CodePersistenceFailure means the backing document could not be written.
	CodePersistenceFailure Code = "persistence_failure"
	// CodeMalformedStore means the backing document exists but cannot be parsed.
	CodeMalformedStore Code = "malformed_store"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a coded error without a cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to err. A nil err yields nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether any coded error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}
