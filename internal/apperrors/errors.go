package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError indicates an error that might be resolved by retrying.
type RetryableError struct {
	Err error
}

// Error implements the error interface.
func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps the given error as a RetryableError, adding a message.
// It uses fmt.Errorf with %w to maintain the error chain.
func NewRetryable(err error, message string, args ...interface{}) error {
	// Ensure the original error is appended to the format arguments for %w
	format := message + ": %w"
	// Prepend formatted message args, then append the error itself
	allArgs := append(args, err)
	return &RetryableError{Err: fmt.Errorf(format, allArgs...)}
}

// FatalError indicates an error that is unlikely to be resolved by retrying.
type FatalError struct {
	Err error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatal wraps the given error as a FatalError, adding a message.
// It uses fmt.Errorf with %w to maintain the error chain.
func NewFatal(err error, message string, args ...interface{}) error {
	// Ensure the original error is appended to the format arguments for %w
	format := message + ": %w"
	// Prepend formatted message args, then append the error itself
	allArgs := append(args, err)
	return &FatalError{Err: fmt.Errorf(format, allArgs...)}
}

// --- Standard Error Definitions ---

// These sentinel errors define common application-level error conditions.
// Record-level errors (malformed timestamp, invalid identity, unknown participant,
// extraction mismatch) are skip-and-continue; store and source errors abort a run.
var (
	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
	// ErrValidation indicates failure during data validation.
	ErrValidation = errors.New("validation failed")
	// ErrDatabase indicates a general database interaction error.
	ErrDatabase = errors.New("database error")
	// ErrNATS indicates a general NATS communication error.
	ErrNATS = errors.New("nats communication error")
	// ErrSheets indicates a spreadsheet API failure.
	ErrSheets = errors.New("sheets api error")
	// ErrDuplicate indicates a conflict due to duplicate data (e.g., unique constraint).
	ErrDuplicate = errors.New("duplicate resource")
	// ErrBadRequest indicates a malformed or invalid request from the client/caller.
	ErrBadRequest = errors.New("bad request")

	// ErrMalformedTimestamp indicates a timestamp string that does not match its format.
	ErrMalformedTimestamp = errors.New("malformed timestamp")
	// ErrInvalidIdentity indicates a phone number that cannot be normalized into a key.
	ErrInvalidIdentity = errors.New("invalid identity")
	// ErrUnknownParticipant indicates a sender that is not present in the roster.
	ErrUnknownParticipant = errors.New("unknown participant")
	// ErrExtractionMismatch indicates a message that does not carry the full lead field set.
	ErrExtractionMismatch = errors.New("extraction mismatch")
	// ErrStoreUnavailable indicates the persistent store could not be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSourceUnavailable indicates the message or roster source could not be reached.
	ErrSourceUnavailable = errors.New("source unavailable")
)

// --- Helper functions for checking ---

// IsRetryable checks if the error is a RetryableError or wraps one.
func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

// IsFatal checks if the error is a FatalError or wraps one.
func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

// --- Specific Standard Error Checkers ---

// IsValidationError checks if the error is or wraps ErrValidation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsSkippable reports whether err is a per-record failure that should be
// logged and skipped without aborting the run.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrMalformedTimestamp) ||
		errors.Is(err, ErrInvalidIdentity) ||
		errors.Is(err, ErrUnknownParticipant) ||
		errors.Is(err, ErrExtractionMismatch) ||
		errors.Is(err, ErrValidation)
}

// IsRunAbort reports whether err must abort the current run.
func IsRunAbort(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrSourceUnavailable)
}

// SkipReason maps a per-record error to a short label used in logs and metrics.
func SkipReason(err error) string {
	switch {
	case errors.Is(err, ErrMalformedTimestamp):
		return "malformed_timestamp"
	case errors.Is(err, ErrInvalidIdentity):
		return "invalid_identity"
	case errors.Is(err, ErrUnknownParticipant):
		return "unknown_participant"
	case errors.Is(err, ErrExtractionMismatch):
		return "extraction_mismatch"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "other"
	}
}
