// Package errors consolidates error definitions shared by the daemon,
// server, and CLI:
//
//   - wire protocol error codes
//   - sentinel errors for each error condition
//   - error category checking functions
//   - ErrorToCode / CodeToError mapping
//   - error wrapping utilities

package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Error codes - used by ErrorToCode / CodeToError; the insert and query
// sockets reply with package wire's one-byte statuses instead
// ============================================================================

const (
	CodeUnknown         int32 = 1
	CodeInvalidRequest  int32 = 2
	CodeNotFound        int32 = 3
	CodeInternal        int32 = 4
	CodeWindowConflict  int32 = 5
	CodeQuerySyntax     int32 = 6
	CodeQueryType       int32 = 7
	CodeTimeout         int32 = 8
	CodeBackpressure    int32 = 9
	CodeCorruptSketch   int32 = 10
	CodeUnsupportedWire int32 = 11
)

// CodeName returns a human-readable name for an error code.
func CodeName(code int32) string {
	switch code {
	case CodeUnknown:
		return "Unknown"
	case CodeInvalidRequest:
		return "InvalidRequest"
	case CodeNotFound:
		return "NotFound"
	case CodeInternal:
		return "Internal"
	case CodeWindowConflict:
		return "WindowConflict"
	case CodeQuerySyntax:
		return "QuerySyntax"
	case CodeQueryType:
		return "QueryType"
	case CodeTimeout:
		return "Timeout"
	case CodeBackpressure:
		return "Backpressure"
	case CodeCorruptSketch:
		return "CorruptSketch"
	case CodeUnsupportedWire:
		return "UnsupportedWire"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Not found errors
	ErrNotFound       = errors.New("not found")
	ErrMetricNotFound = errors.New("metric not found")
	ErrWindowNotFound = errors.New("window not found")

	// Validation errors
	ErrInvalidName     = errors.New("invalid metric name")
	ErrInvalidWindow   = errors.New("invalid window bounds")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingField    = errors.New("missing required field")
	ErrInvalidVersion  = errors.New("invalid version")
	ErrInvalidProtocol = errors.New("invalid protocol")

	// ErrWindowConflict is returned when an insert's window bounds partially
	// overlap an existing stored window for the same metric without being
	// an exact match, so the two sketches cannot be merged.
	ErrWindowConflict = errors.New("window bounds conflict with an existing stored window")

	// Query errors
	ErrQuerySyntax    = errors.New("query syntax error")
	ErrQueryType      = errors.New("query type error")
	ErrQueryEmpty     = errors.New("query produced no result")
	ErrBadQuantile    = errors.New("quantile must be strictly between 0 and 1")
	ErrBadCombineSpan = errors.New("combine operands do not share an exact window boundary")

	// State errors
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrAlreadyClosed     = errors.New("already closed")

	// Sketch / storage errors
	ErrCorruptSketch  = errors.New("corrupt sketch encoding")
	ErrCorruptRecord  = errors.New("corrupt window log record")
	ErrEmptySketch    = errors.New("sketch has no observations")
	ErrLevelLimit     = errors.New("sketch compactor level limit exceeded")
	ErrManifestLocked = errors.New("manifest checkpoint in progress")

	// Transport errors
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrTimeout             = errors.New("timeout")
	ErrConnectionFailed    = errors.New("connection failed")
	ErrFrameTooLarge       = errors.New("frame exceeds maximum size")

	// Internal / resource errors
	ErrInternal     = errors.New("internal error")
	ErrBufferFull   = errors.New("buffer full")
	ErrPoolShutdown = errors.New("worker pool is shut down")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMetricNotFound) ||
		errors.Is(err, ErrWindowNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidName) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidVersion) ||
		errors.Is(err, ErrInvalidProtocol)
}

// IsWindowConflict returns true if err is a window-overlap conflict,
// whether raised by a storage insert or a combine() query operator.
func IsWindowConflict(err error) bool {
	return errors.Is(err, ErrWindowConflict) || errors.Is(err, ErrBadCombineSpan)
}

// IsQueryError returns true if err originated from parsing or executing a query.
func IsQueryError(err error) bool {
	return errors.Is(err, ErrQuerySyntax) ||
		errors.Is(err, ErrQueryType) ||
		errors.Is(err, ErrQueryEmpty) ||
		errors.Is(err, ErrBadQuantile) ||
		errors.Is(err, ErrBadCombineSpan)
}

// IsStateError returns true if err is a state-related error.
func IsStateError(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyClosed)
}

// IsCorruption returns true if err indicates on-disk or wire data corruption.
func IsCorruption(err error) bool {
	return errors.Is(err, ErrCorruptSketch) || errors.Is(err, ErrCorruptRecord)
}

// IsProtocolError returns true if err is a protocol-related error.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrUnsupportedProtocol) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrFrameTooLarge)
}

// IsRetriable returns true if the error is potentially retriable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrBufferFull) ||
		errors.Is(err, ErrManifestLocked)
}

// ============================================================================
// Error to wire code mapping
// ============================================================================

// ErrorToCode maps a sentinel error to its wire protocol code.
func ErrorToCode(err error) int32 {
	if err == nil {
		return CodeUnknown
	}

	switch {
	case IsNotFound(err):
		return CodeNotFound
	case IsWindowConflict(err):
		return CodeWindowConflict
	case Is(err, ErrQuerySyntax):
		return CodeQuerySyntax
	case Is(err, ErrQueryType), Is(err, ErrBadQuantile):
		return CodeQueryType
	case IsValidation(err):
		return CodeInvalidRequest
	case Is(err, ErrTimeout):
		return CodeTimeout
	case Is(err, ErrBufferFull), Is(err, ErrPoolShutdown):
		return CodeBackpressure
	case IsCorruption(err):
		return CodeCorruptSketch
	case Is(err, ErrUnsupportedProtocol), Is(err, ErrInvalidProtocol):
		return CodeUnsupportedWire
	default:
		return CodeInternal
	}
}

// CodeToError maps a wire code to a sentinel error (for clients).
func CodeToError(code int32) error {
	switch code {
	case CodeUnknown:
		return ErrInternal
	case CodeInvalidRequest:
		return ErrInvalidConfig
	case CodeNotFound:
		return ErrNotFound
	case CodeInternal:
		return ErrInternal
	case CodeWindowConflict:
		return ErrBadCombineSpan
	case CodeQuerySyntax:
		return ErrQuerySyntax
	case CodeQueryType:
		return ErrQueryType
	case CodeTimeout:
		return ErrTimeout
	case CodeBackpressure:
		return ErrBufferFull
	case CodeCorruptSketch:
		return ErrCorruptSketch
	case CodeUnsupportedWire:
		return ErrUnsupportedProtocol
	default:
		return ErrInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s %q: %w", entityType, identifier, ErrNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s %q: %s: %w", field, value, reason, ErrInvalidConfig)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the first error for errors.Is/As support.
func (v *ValidationErrors) Unwrap() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v.Errors[0]
}
