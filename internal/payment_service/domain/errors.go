package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a requested transaction or checkout id does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrGateway is matched by every *GatewayError.
	ErrGateway = errors.New("payment gateway error")
	// ErrTransientStore marks store faults that are worth retrying.
	ErrTransientStore = errors.New("transient store fault")
	// ErrMalformedPayload marks callback bodies that cannot be decoded.
	ErrMalformedPayload = errors.New("malformed callback payload")
	// ErrDuplicateCheckoutRequestID means more than one transaction carries the same checkout id.
	ErrDuplicateCheckoutRequestID = errors.New("checkout request id is not unique")
)

// ValidationError reports bad caller input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError is a shorthand used by request validation.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// GatewayErrorKind distinguishes the classes of gateway failure a caller can act on.
type GatewayErrorKind string

const (
	GatewayErrorAuth     GatewayErrorKind = "auth"
	GatewayErrorRejected GatewayErrorKind = "rejected"
	GatewayErrorNetwork  GatewayErrorKind = "network"
	GatewayErrorTimeout  GatewayErrorKind = "timeout"
)

// GatewayError is returned for every failure talking to the payment gateway.
type GatewayError struct {
	Kind    GatewayErrorKind
	Code    string // gateway response or error code, when one was returned
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("payment gateway %s error", e.Kind)
	if e.Code != "" {
		msg += " (code " + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

// IsPermanent reports whether retrying the same work cannot succeed.
// Used by the reprocessor to decide between retry and drop.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrDuplicateCheckoutRequestID) ||
		errors.Is(err, ErrValidation)
}
