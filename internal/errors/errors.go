package errors

import (
	stderrors "errors"
	"fmt"
)

// CiteError is the structured error type for CiteLoom.
// It provides rich context for error handling, logging, and user presentation.
type CiteError struct {
	// Code is the unique error code (e.g., "ERR_202_ZOTERO_DATABASE_LOCKED").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Network, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]any

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *CiteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CiteError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with CiteError.
func (e *CiteError) Is(target error) bool {
	if t, ok := target.(*CiteError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *CiteError) WithDetail(key string, value any) *CiteError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *CiteError) WithSuggestion(suggestion string) *CiteError {
	e.Suggestion = suggestion
	return e
}

// New creates a new CiteError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string) *CiteError {
	return &CiteError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CiteError around an existing error, adding context.
// Returns nil when err is nil.
func Wrap(err error, code string, message string) *CiteError {
	if err == nil {
		return nil
	}
	ce := New(code, message)
	ce.Cause = err
	return ce
}

// ConfigError creates a configuration-related error.
func ConfigError(message string) *CiteError {
	return New(ErrCodeConfigInvalid, message)
}

// ValidationError creates a validation-related error.
func ValidationError(message string) *CiteError {
	return New(ErrCodeInvalidInput, message)
}

// InternalError creates an internal error.
func InternalError(message string) *CiteError {
	return New(ErrCodeInternal, message)
}

// AsCiteError extracts a CiteError from anywhere in the chain.
func AsCiteError(err error) (*CiteError, bool) {
	var ce *CiteError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
// Returns true if the chain contains a CiteError with the Retryable flag set.
func IsRetryable(err error) bool {
	if ce, ok := AsCiteError(err); ok {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort the current batch.
func IsFatal(err error) bool {
	if ce, ok := AsCiteError(err); ok {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a CiteError anywhere in the chain.
// Returns empty string if the chain has none.
func GetCode(err error) string {
	if ce, ok := AsCiteError(err); ok {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category from a CiteError anywhere in the chain.
func GetCategory(err error) Category {
	if ce, ok := AsCiteError(err); ok {
		return ce.Category
	}
	return ""
}
