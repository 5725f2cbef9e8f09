// Package errors provides standardized error handling for the typing
// pipeline. It includes error classification, stable wire codes for
// client-visible failures, and helper functions for consistent error
// wrapping across components.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables for common conditions
var (
	// Component lifecycle errors
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStopped = errors.New("component already stopped")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Connection and protocol errors
	ErrNotConnected      = errors.New("not connected")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrInvalidMessage    = errors.New("invalid message")
	ErrUnknownMessage    = errors.New("unknown message type")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrInvalidToken      = errors.New("invalid session token")

	// Event validation errors
	ErrInvalidEvent       = errors.New("invalid event")
	ErrTimestampRegressed = errors.New("event timestamp regressed")

	// Analysis status errors: returned as values, never thrown
	ErrInsufficientEvents = errors.New("insufficient events for analysis")
	ErrInvalidTimeSpan    = errors.New("invalid time span")
	ErrPatternNotReady    = errors.New("pattern not ready")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Resource errors
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrQueueFull         = errors.New("queue full")
	ErrCircuitOpen       = errors.New("circuit breaker open")
)

// Wire codes are the stable machine-readable identifiers sent to clients
// in error frames and status replies. They never change once published.
const (
	CodeRateLimitExceeded  = "rate_limit_exceeded"
	CodeInvalidMessage     = "invalid_message"
	CodeUnknownMessageType = "unknown_message_type"
	CodeInvalidEvent       = "invalid_event"
	CodeInsufficientEvents = "insufficient_events"
	CodeInvalidTimeSpan    = "invalid_time_span"
	CodePatternNotReady    = "pattern_not_ready"
	CodeInvalidToken       = "invalid_token"
	CodeInternalError      = "internal_error"
)

// WireCode maps an error to its stable client-facing code. Unexpected
// errors collapse to internal_error so internals never leak to clients.
func WireCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimitExceeded
	case errors.Is(err, ErrUnknownMessage):
		return CodeUnknownMessageType
	case errors.Is(err, ErrInvalidMessage):
		return CodeInvalidMessage
	case errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrTimestampRegressed):
		return CodeInvalidEvent
	case errors.Is(err, ErrInsufficientEvents):
		return CodeInsufficientEvents
	case errors.Is(err, ErrInvalidTimeSpan):
		return CodeInvalidTimeSpan
	case errors.Is(err, ErrPatternNotReady):
		return CodePatternNotReady
	case errors.Is(err, ErrInvalidToken):
		return CodeInvalidToken
	default:
		return CodeInternalError
	}
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrQueueFull) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	transientPatterns := []string{
		"timeout",
		"connection",
		"network",
		"temporary",
		"unavailable",
		"busy",
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrResourceExhausted)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidMessage) ||
		errors.Is(err, ErrUnknownMessage) ||
		errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrTimestampRegressed) ||
		errors.Is(err, ErrInvalidToken)
}

// IsAnalysisStatus reports whether an error is one of the analysis status
// values that are returned to clients as data, not treated as failures.
func IsAnalysisStatus(err error) bool {
	return errors.Is(err, ErrInsufficientEvents) ||
		errors.Is(err, ErrInvalidTimeSpan) ||
		errors.Is(err, ErrPatternNotReady)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	if IsTransient(err) {
		return ErrorTransient
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}

	// Default to transient for unknown errors to allow retry
	return ErrorTransient
}

// newClassified creates a new classified error
// This is an internal helper - use WrapTransient(), WrapFatal(), or WrapInvalid() instead.
func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}
