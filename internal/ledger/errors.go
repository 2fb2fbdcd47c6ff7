package ledger

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes ledger errors so callers can branch without
// string matching.
type ErrorCode string

const (
	// ErrCodeValidation indicates rejected input (e.g. an empty delete
	// reason). Raised before any side effect.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeNotFound indicates an unknown run id. Deletes that hit
	// this are still audited.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeRateLimited indicates the delete rate limiter rejected
	// the attempt before any mutation. Distinct from validation so
	// callers can back off and retry.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// ErrCodeStorageIO indicates a partition or index read/write
	// failure. Always surfaced, never swallowed.
	ErrCodeStorageIO ErrorCode = "STORAGE_IO"
)

// Error is the ledger's typed error. RunID is set when the failure is
// scoped to one artifact.
type Error struct {
	Code    ErrorCode
	Message string
	RunID   string
	Err     error
}

func (e *Error) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("%s: %s (run=%s)", e.Code, e.Message, e.RunID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newValidationError(msg string) *Error {
	return &Error{Code: ErrCodeValidation, Message: msg}
}

func newNotFoundError(runID string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: "run not found", RunID: runID}
}

func newRateLimitError(max int, window string) *Error {
	return &Error{
		Code:    ErrCodeRateLimited,
		Message: fmt.Sprintf("delete rate limit exceeded (max %d per %s)", max, window),
	}
}

func newStorageError(msg string, runID string, err error) *Error {
	return &Error{Code: ErrCodeStorageIO, Message: msg, RunID: runID, Err: err}
}

func hasCode(err error, code ErrorCode) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Code == code
	}
	return false
}

// IsNotFound reports whether err is a not-found ledger error.
// Uses errors.As to handle wrapped errors.
func IsNotFound(err error) bool { return hasCode(err, ErrCodeNotFound) }

// IsValidation reports whether err is a validation ledger error.
func IsValidation(err error) bool { return hasCode(err, ErrCodeValidation) }

// IsRateLimited reports whether err is a rate-limit ledger error.
func IsRateLimited(err error) bool { return hasCode(err, ErrCodeRateLimited) }

// IsStorageIO reports whether err is a storage I/O ledger error.
func IsStorageIO(err error) bool { return hasCode(err, ErrCodeStorageIO) }
