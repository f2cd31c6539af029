package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies an error raised by the protocol engine.
type Code string

const (
	CodeDuplicateCategory    Code = "duplicate_category"
	CodeCategoryNotFound     Code = "category_not_found"
	CodeLocationAlreadyBound Code = "location_already_bound"
	CodeLocationNotFound     Code = "location_not_found"
	CodeInvalidTransition    Code = "invalid_transition"
	CodeNoHandlerRegistered  Code = "no_handler_registered"
	CodeMalformedHeader      Code = "malformed_header"
	CodeValidation           Code = "validation_error"
	CodeMixinAlreadyExists   Code = "mixin_already_exists"
)

// Sentinels for errors.Is. Only the code is compared.
var (
	ErrDuplicateCategory    = &Error{Code: CodeDuplicateCategory}
	ErrCategoryNotFound     = &Error{Code: CodeCategoryNotFound}
	ErrLocationAlreadyBound = &Error{Code: CodeLocationAlreadyBound}
	ErrLocationNotFound     = &Error{Code: CodeLocationNotFound}
	ErrInvalidTransition    = &Error{Code: CodeInvalidTransition}
	ErrNoHandlerRegistered  = &Error{Code: CodeNoHandlerRegistered}
	ErrMalformedHeader      = &Error{Code: CodeMalformedHeader}
	ErrValidation           = &Error{Code: CodeValidation}
	ErrMixinAlreadyExists   = &Error{Code: CodeMixinAlreadyExists}
)

// Error is a classified protocol error.
type Error struct {
	// Code is the error classification.
	Code Code `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Violations lists the individual schema violations of a validation error.
	Violations []Violation `json:"violations,omitempty"`

	// Err is the underlying error, if any.
	Err error `json:"-"`
}

// Errorf creates a new error with the given code and formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new error with the given code around an underlying error.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if len(e.Violations) > 0 {
		parts := make([]string, len(e.Violations))
		for i, v := range e.Violations {
			parts[i] = v.Error()
		}
		msg += ": " + strings.Join(parts, "; ")
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf returns the code of the first classified error in err's chain,
// or the empty code if there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
