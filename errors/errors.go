// Package errors provides standardized error handling patterns for docfeed components.
// It includes error classification, the sentinel errors surfaced by feeds, resolution
// and the subscription registry, and helpers for consistent error wrapping.
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
	// ErrorInvalid represents errors due to invalid input or undecodable data
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
	// Connection and transport errors
	ErrNoConnection       = errors.New("no connection available")
	ErrConnectionLost     = errors.New("connection lost")
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrSubscriptionFailed = errors.New("subscription failed")
	ErrPermissionDenied   = errors.New("permission denied")

	// Data errors
	ErrInvalidData   = errors.New("invalid data format")
	ErrDecodeFailed  = errors.New("document decode failed")
	ErrDataCorrupted = errors.New("data corrupted")

	// Storage errors
	ErrBucketNotFound = errors.New("bucket not found")
	ErrKeyNotFound    = errors.New("key not found")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingConfig = errors.New("missing required configuration")

	// Feed and resolution errors
	ErrResolveTimeout = errors.New("timed out waiting for a settled state")
	ErrFeedCompleted  = errors.New("feed completed without a settled state")
	ErrFeedClosed     = errors.New("feed closed")
	ErrNoExistsField  = errors.New("state carries no exists field")

	// Registry errors
	ErrUnregisteredKey = errors.New("no teardown registered for key")
)

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

// DecodeError reports a snapshot body that could not be decoded. It carries the
// identity of the offending snapshot so telemetry can point at the bad document.
type DecodeError struct {
	SnapshotID string
	Err        error
}

// NewDecodeError wraps err as a decode failure for the snapshot with the given id.
func NewDecodeError(snapshotID string, err error) *DecodeError {
	return &DecodeError{SnapshotID: snapshotID, Err: err}
}

// Error implements the error interface
func (de *DecodeError) Error() string {
	if de.SnapshotID == "" {
		return fmt.Sprintf("%s: %v", ErrDecodeFailed, de.Err)
	}
	return fmt.Sprintf("%s (snapshot %s): %v", ErrDecodeFailed, de.SnapshotID, de.Err)
}

// Unwrap returns the underlying error
func (de *DecodeError) Unwrap() error {
	return de.Err
}

// Is reports ErrDecodeFailed so callers can match without errors.As.
func (de *DecodeError) Is(target error) bool {
	return target == ErrDecodeFailed
}

// IsDecode reports whether err is, or wraps, a snapshot decode failure.
func IsDecode(err error) bool {
	return errors.Is(err, ErrDecodeFailed)
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

	if IsDecode(err) {
		return false
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrConnectionLost) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, ErrResolveTimeout) ||
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
		errors.Is(err, ErrDataCorrupted) ||
		errors.Is(err, ErrPermissionDenied)
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

	return errors.Is(err, ErrInvalidData) || IsDecode(err)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}

	// Explicit classification wins over inference.
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}

	if IsInvalid(err) {
		return ErrorInvalid
	}
	if IsFatal(err) {
		return ErrorFatal
	}
	return ErrorTransient
}

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

// Kind names the telemetry category of a feed error: "decode" for snapshot bodies
// that failed to decode, "timeout" for resolution timeouts, "transport" otherwise.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsDecode(err):
		return "decode"
	case errors.Is(err, ErrResolveTimeout):
		return "timeout"
	default:
		return "transport"
	}
}
