package errors

import (
	stderrors "errors"
	"fmt"
)

// VacuumError is the structured error type for esvacuum.
// It carries enough context for logging, retries and CLI presentation.
type VacuumError struct {
	// Code is the unique error code (e.g., "ERR_203_OBJECT_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the operator.
	Suggestion string
}

// Error implements the error interface.
func (e *VacuumError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *VacuumError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a VacuumError with the same code.
func (e *VacuumError) Is(target error) bool {
	if t, ok := target.(*VacuumError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *VacuumError) WithDetail(key, value string) *VacuumError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the operator.
func (e *VacuumError) WithSuggestion(suggestion string) *VacuumError {
	e.Suggestion = suggestion
	return e
}

// New creates a new VacuumError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *VacuumError {
	return &VacuumError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a VacuumError from an existing error.
func Wrap(code string, err error) *VacuumError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *VacuumError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates a content database error.
func StorageError(message string, cause error) *VacuumError {
	return New(ErrCodeDatabaseQuery, message, cause)
}

// CatalogError creates a non-retryable search catalog error.
func CatalogError(message string, cause error) *VacuumError {
	return New(ErrCodeCatalogRequest, message, cause)
}

// UnavailableError creates a retryable search catalog error.
func UnavailableError(message string, cause error) *VacuumError {
	return New(ErrCodeCatalogUnavailable, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *VacuumError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *VacuumError {
	return New(ErrCodeInternal, message, cause)
}

// as finds the first VacuumError in err's chain.
func as(err error) (*VacuumError, bool) {
	var ve *VacuumError
	if stderrors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ve, ok := as(err); ok {
		return ve.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if ve, ok := as(err); ok {
		return ve.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code, or "" if err is not a VacuumError.
func GetCode(err error) string {
	if ve, ok := as(err); ok {
		return ve.Code
	}
	return ""
}

// GetCategory extracts the category, or "" if err is not a VacuumError.
func GetCategory(err error) Category {
	if ve, ok := as(err); ok {
		return ve.Category
	}
	return ""
}
