// Package errors provides structured error handling for notegraph.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (page store, data directory)
//   - 3XX: Synchronization errors (versions, degraded indices)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates page store and disk errors.
	CategoryStorage Category = "STORAGE"
	// CategorySync indicates graph/text index synchronization errors.
	CategorySync Category = "SYNC"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, operator must act.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodePageNotFound = "ERR_201_PAGE_NOT_FOUND"
	ErrCodeStoreWrite   = "ERR_202_STORE_WRITE"
	ErrCodeStoreCorrupt = "ERR_203_STORE_CORRUPT"
	ErrCodeLocked       = "ERR_204_DATA_DIR_LOCKED"

	// Sync errors (300-399)
	ErrCodeStaleVersion      = "ERR_301_STALE_VERSION"
	ErrCodeDegraded          = "ERR_302_DEGRADED"
	ErrCodeIndexInconsistent = "ERR_303_INDEX_INCONSISTENT"
	ErrCodeDanglingReference = "ERR_304_DANGLING_REFERENCE"
	ErrCodeUnknownToken      = "ERR_305_UNKNOWN_RETRY_TOKEN"

	// Validation errors (400-499)
	ErrCodeInvalidInput     = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidContent   = "ERR_402_INVALID_CONTENT"
	ErrCodeInvalidID        = "ERR_403_INVALID_ID"
	ErrCodeInvalidDirection = "ERR_404_INVALID_DIRECTION"
	ErrCodeInvalidFormat    = "ERR_405_INVALID_FORMAT"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeRenderFailed = "ERR_502_RENDER_FAILED"
	ErrCodeSearchFailed = "ERR_503_SEARCH_FAILED"
	ErrCodeIndexFailed  = "ERR_504_INDEX_FAILED"
	ErrCodeClosed       = "ERR_505_CLOSED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Numeric portion, e.g. "201" from "ERR_201_PAGE_NOT_FOUND"
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategorySync
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeIndexInconsistent, ErrCodeStoreCorrupt:
		return SeverityFatal
	case ErrCodeStaleVersion, ErrCodeDanglingReference:
		return SeverityInfo
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeDegraded, ErrCodeLocked, ErrCodeIndexFailed:
		return true
	default:
		return false
	}
}
