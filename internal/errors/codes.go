// Package errors provides structured error handling for esvacuum.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Content database errors
//   - 3XX: Search catalog and network errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates content database errors.
	CategoryStorage Category = "STORAGE"
	// CategoryCatalog indicates search catalog and transport errors.
	CategoryCatalog Category = "CATALOG"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeDatabaseOpen    = "ERR_201_DATABASE_OPEN"
	ErrCodeDatabaseQuery   = "ERR_202_DATABASE_QUERY"
	ErrCodeObjectNotFound  = "ERR_203_OBJECT_NOT_FOUND"
	ErrCodeObjectCorrupt   = "ERR_204_OBJECT_CORRUPT"
	ErrCodeStateFileLocked = "ERR_205_STATE_LOCKED"

	// Catalog errors (300-399)
	ErrCodeCatalogTimeout     = "ERR_301_CATALOG_TIMEOUT"
	ErrCodeCatalogUnavailable = "ERR_302_CATALOG_UNAVAILABLE"
	ErrCodeCatalogRequest     = "ERR_303_CATALOG_REQUEST"
	ErrCodeIndexNotFound      = "ERR_304_INDEX_NOT_FOUND"
	ErrCodeIndexClosed        = "ERR_305_INDEX_CLOSED"

	// Validation errors (400-499)
	ErrCodeInvalidInput = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidName  = "ERR_402_INVALID_NAME"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeVacuumFailed = "ERR_502_VACUUM_FAILED"
	ErrCodeIndexFailed  = "ERR_503_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryCatalog
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeObjectCorrupt, ErrCodeStateFileLocked:
		return SeverityFatal
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeCatalogTimeout, ErrCodeCatalogUnavailable:
		return true
	default:
		return false
	}
}
