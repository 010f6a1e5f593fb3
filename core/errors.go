package core

import (
	"fmt"

	"github.com/pkg/errors"
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError

	// Unprocessable marks well-formed requests whose values cannot be applied (HTTP 422).
	Unprocessable bool
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds}
}

func NewUnprocessableError(err error, flds ...FieldError) error {
	return &ValidationError{Err: err, Fields: flds, Unprocessable: true}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return "datos inválidos"
	}
	return err.Err.Error()
}

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	message string
}

func NewNotFoundError(msg string) error {
	return &NotFoundError{message: msg}
}

func (err NotFoundError) Error() string {
	return err.message
}

// PermissionError is returned when the caller is known but lacks the capability or scope for the target.
type PermissionError struct {
	Reason string
}

func NewPermissionError(reason string) error {
	return &PermissionError{Reason: reason}
}

func (err PermissionError) Error() string {
	return err.Reason
}

// ConflictError is returned when the request clashes with data that must be preserved.
type ConflictError struct {
	message string
}

func NewConflictError(msg string) error {
	return &ConflictError{message: msg}
}

func (err ConflictError) Error() string {
	return err.message
}

// InvalidStateError is returned when an operation's state precondition is not met.
type InvalidStateError struct {
	Action   string
	Estado   string
	Required []string
}

func NewInvalidStateError(action, estado string, required ...string) error {
	return &InvalidStateError{Action: action, Estado: estado, Required: required}
}

func (err InvalidStateError) Error() string {
	msg := fmt.Sprintf("No se puede %s: el estado actual es %q.", err.Action, err.Estado)
	switch len(err.Required) {
	case 0:
	case 1:
		msg += fmt.Sprintf(" Se requiere %q.", err.Required[0])
	default:
		msg += fmt.Sprintf(" Se requiere uno de %q.", err.Required)
	}
	return msg
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}
