// Package errors provides structured error types for the sessionization job.
// All errors include a category, code, message, and retryable flag so the
// caller can tell fatal contract violations from transient faults.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryTable      ErrorCategory = "TABLE"
	ErrCategorySession    ErrorCategory = "SESSION"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeDuplicateNaturalKey  = "DUPLICATE_NATURAL_KEY"
	CodeUnparseableTimestamp = "UNPARSEABLE_TIMESTAMP"
	CodeMalformedRecord      = "MALFORMED_RECORD"
	CodeInvalidTimeout       = "INVALID_TIMEOUT"
	CodeInvalidActionSet     = "INVALID_ACTION_SET"
	CodeInvalidProcessDate   = "INVALID_PROCESS_DATE"
	CodeInvalidLookback      = "INVALID_LOOKBACK"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Table codes
	CodeTableNotFound = "TABLE_NOT_FOUND"
	CodeTableBusy     = "TABLE_BUSY"
	CodeMergeFailed   = "MERGE_FAILED"
	CodeReadFailed    = "READ_FAILED"

	// Session codes
	CodeInconsistentSession = "INCONSISTENT_SESSION"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// SessionizeError is the structured error type used throughout the job.
type SessionizeError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *SessionizeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *SessionizeError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *SessionizeError) Is(target error) bool {
	var t *SessionizeError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new SessionizeError.
func New(category ErrorCategory, code, message string) *SessionizeError {
	return &SessionizeError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new SessionizeError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *SessionizeError {
	return &SessionizeError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *SessionizeError) WithDetails(details map[string]interface{}) *SessionizeError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *SessionizeError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a SessionizeError.
func GetCategory(err error) ErrorCategory {
	var se *SessionizeError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a SessionizeError.
func GetCode(err error) string {
	var se *SessionizeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// isRetryable marks transient engine/store faults. Everything else is an
// input or dependency problem that re-running will not fix.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategoryTable && code == CodeTableBusy:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *SessionizeError {
	return New(ErrCategoryValidation, code, message)
}

func NewStorageError(code, message string, cause error) *SessionizeError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewTableError(code, message string, cause error) *SessionizeError {
	return Wrap(ErrCategoryTable, code, message, cause)
}

func NewSessionError(code, message string) *SessionizeError {
	return New(ErrCategorySession, code, message)
}

func NewInternalError(message string, cause error) *SessionizeError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
