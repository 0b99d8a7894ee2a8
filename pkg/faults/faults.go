// Package faults defines the error taxonomy shared by the emusync packages.
//
// Two kinds of failure are kept apart on purpose. An *Error is a recoverable
// result that callers are expected to inspect: the engine rejected a command, or
// a channel's producer went away. A *Fault is a broken invariant (a reply with the
// wrong identifier, a shared handle reclaimed while still shared) and is raised
// with panic via Raise. Faults stop the offending goroutine; they are never
// returned as ordinary errors.
package faults

import (
	"errors"
	"fmt"
)

// Class classifies a failure for handling and metrics.
type Class string

const (
	// ClassCommand indicates the engine rejected a command before any state change.
	ClassCommand Class = "command"

	// ClassDisconnected indicates the producing side of a channel was dropped.
	ClassDisconnected Class = "disconnected"

	// ClassProtocol indicates a reply did not correspond to the outstanding request.
	ClassProtocol Class = "protocol"

	// ClassOwnership indicates exclusive ownership was reclaimed while other owners remained.
	ClassOwnership Class = "ownership"
)

// Error represents a classified, recoverable error with context.
type Error struct {
	// Class is the error classification.
	Class Class `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Operation != "" {
		msg = fmt.Sprintf("%s (operation=%s)", msg, e.Operation)
	}
	if e.Code != "" {
		msg = fmt.Sprintf("%s (code=%s)", msg, e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports class and code equality, so a bare &Error{Class: ..., Code: ...}
// works as an errors.Is target.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewCommandError creates a new command-issue error.
func NewCommandError(message string, err error) *Error {
	return &Error{
		Class:   ClassCommand,
		Message: message,
		Err:     err,
	}
}

// NewDisconnectedError creates a new disconnection error.
func NewDisconnectedError(message string, err error) *Error {
	return &Error{
		Class:   ClassDisconnected,
		Message: message,
		Err:     err,
	}
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsCommand returns true if the error is classified as a command-issue failure.
func IsCommand(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassCommand
	}
	return false
}

// IsDisconnected returns true if the error is classified as a disconnection.
func IsDisconnected(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassDisconnected
	}
	return false
}

// ClassOf returns the class of a classified error or fault, or "" for anything else.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Class
	}
	return ""
}

// Common error codes.
const (
	CodeEngineBusy   = "ENGINE_BUSY"
	CodeInvalidState = "INVALID_STATE"
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidInput = "INVALID_INPUT"
	CodeInternal     = "INTERNAL_ERROR"
)
