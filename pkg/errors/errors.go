// Package errors provides the error taxonomy of the analysis pipeline.
//
// Kinds split into recoverable ones (a detector, draft step or channel
// degrades locally and the pass carries on with a warning) and structural
// ones that abort the pass.
package errors

import (
	"errors"
	"fmt"
)

// =============================================================================
// Base Error Types
// =============================================================================

// Error is the base error type for all pipeline errors.
type Error struct {
	// Kind indicates the category of error
	Kind Kind

	// Op is the operation being performed (e.g., "detectors.Fraud")
	Op string

	// Message is a human-readable description
	Message string

	// Err is the underlying error
	Err error
}

// Kind represents the kind/category of error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindClassifierUnavailable
	KindMalformedResponse
	KindUnknownCategory
	KindDeliveryFailure
	KindInvalidPolicy
	KindCanceled
	KindStorage
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindClassifierUnavailable:
		return "classifier_unavailable"
	case KindMalformedResponse:
		return "malformed_classifier_response"
	case KindUnknownCategory:
		return "unknown_category"
	case KindDeliveryFailure:
		return "delivery_failure"
	case KindInvalidPolicy:
		return "invalid_policy"
	case KindCanceled:
		return "canceled"
	case KindStorage:
		return "storage"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err == nil {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %v", msg, e.Err)
		}
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target.
// Two *Error values match when their kinds are equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// =============================================================================
// Constructors
// =============================================================================

// E constructs an Error from the given arguments.
// Arguments can be: Kind, string (Op or Message), error.
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Kind:
			e.Kind = a
		case string:
			if e.Op == "" {
				e.Op = a
			} else {
				e.Message = a
			}
		case error:
			e.Err = a
		}
	}
	return e
}

// New creates a new simple error.
func New(message string) error {
	return &Error{Message: message}
}

// Wrap wraps an error with the operation name.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: GetKind(err), Op: op, Err: err}
}

// =============================================================================
// Error Checkers
// =============================================================================

// GetKind returns the Kind of the error, or KindUnknown.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRecoverable reports whether err degrades locally without aborting a pass.
func IsRecoverable(err error) bool {
	switch GetKind(err) {
	case KindClassifierUnavailable, KindMalformedResponse, KindDeliveryFailure, KindInvalidPolicy:
		return true
	default:
		return false
	}
}

// IsUnknownCategory checks if the error is a detector/template mismatch.
func IsUnknownCategory(err error) bool {
	return GetKind(err) == KindUnknownCategory
}

// IsCanceled checks if the error reports a canceled pass.
func IsCanceled(err error) bool {
	return GetKind(err) == KindCanceled
}

// =============================================================================
// Common Errors
// =============================================================================

var (
	// ErrClassifierUnavailable is returned when no classifier is configured or reachable.
	ErrClassifierUnavailable = &Error{Kind: KindClassifierUnavailable, Message: "classifier unavailable"}

	// ErrMalformedResponse is returned when a classifier reply does not conform.
	ErrMalformedResponse = &Error{Kind: KindMalformedResponse, Message: "malformed classifier response"}

	// ErrUnknownCategory is returned for categories with no template mapping.
	ErrUnknownCategory = &Error{Kind: KindUnknownCategory, Message: "unknown category"}

	// ErrDeliveryFailure is returned when a channel send fails.
	ErrDeliveryFailure = &Error{Kind: KindDeliveryFailure, Message: "delivery failed"}

	// ErrInvalidPolicy is returned for recipients with no actionable channel.
	ErrInvalidPolicy = &Error{Kind: KindInvalidPolicy, Message: "invalid notification policy"}

	// ErrCanceled is returned when a pass is canceled before completion.
	ErrCanceled = &Error{Kind: KindCanceled, Message: "analysis canceled"}

	// ErrInvalidConfig is returned for invalid configuration.
	ErrInvalidConfig = &Error{Kind: KindInvalidInput, Message: "invalid configuration"}
)
