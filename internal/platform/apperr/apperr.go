// Package apperr defines the error taxonomy shared by the camp desk client.
// Every error surfaced to an operator carries a Kind, a short message and,
// where one exists, the next step the operator should take.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for presentation and retry decisions.
type Kind string

const (
	// Permission means camera/scanner access was denied.
	Permission Kind = "permission"
	// Device means the scanner could not be acquired after permission was granted.
	Device Kind = "device"
	// NotFound means the backend has no record for the identifier.
	NotFound Kind = "not_found"
	// Validation means the input failed a local check and was never sent.
	Validation Kind = "validation"
	// Transient covers every other network or server failure.
	Transient Kind = "transient"
)

// Error is the concrete error type for all classified failures.
type Error struct {
	Kind     Kind
	Message  string
	NextStep string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg, NextStep: defaultNextStep(kind)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, NextStep: defaultNextStep(kind), Err: err}
}

// WithNextStep returns a copy of e with the given operator hint.
func (e *Error) WithNextStep(step string) *Error {
	cp := *e
	cp.NextStep = step
	return &cp
}

// WithStatus returns a copy of e carrying the HTTP status that produced it.
func (e *Error) WithStatus(status int) *Error {
	cp := *e
	cp.Status = status
	return &cp
}

// KindOf returns the Kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether repeating the same action may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case Transient, Device:
		return true
	}
	return false
}

// NextStep returns the operator hint attached to err, if any.
func NextStep(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.NextStep
	}
	return ""
}

func defaultNextStep(kind Kind) string {
	switch kind {
	case Permission:
		return "allow access to the scanner device in your system settings, then retry the scan"
	case Device:
		return "the scanner is busy or unplugged; close other scanning windows and retry"
	case NotFound:
		return "check the book number or register the patient first"
	case Validation:
		return "correct the highlighted field"
	case Transient:
		return "retry the same action"
	}
	return ""
}
