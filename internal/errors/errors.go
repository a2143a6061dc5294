package errors

import (
	stderrors "errors"
	"fmt"
)

// NoteError is the structured error type for notegraph.
// It carries enough context for logging, retry decisions and user presentation.
type NoteError struct {
	// Code is the unique error code (e.g., "ERR_201_PAGE_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Sync, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *NoteError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *NoteError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code, so sentinels like ErrNotFound work with errors.Is.
func (e *NoteError) Is(target error) bool {
	if t, ok := target.(*NoteError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *NoteError) WithDetail(key, value string) *NoteError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *NoteError) WithSuggestion(suggestion string) *NoteError {
	e.Suggestion = suggestion
	return e
}

// Detail returns a detail value, or "" if unset.
func (e *NoteError) Detail(key string) string {
	return e.Details[key]
}

// New creates a new NoteError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *NoteError {
	return &NoteError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a NoteError with a formatted message and no cause.
func Newf(code string, format string, args ...any) *NoteError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates a NoteError from an existing error.
// The error's message becomes the NoteError message.
func Wrap(code string, err error) *NoteError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Sentinels for the engine's error taxonomy. Compare with errors.Is.
var (
	ErrNotFound          = New(ErrCodePageNotFound, "page not found", nil)
	ErrStaleVersion      = New(ErrCodeStaleVersion, "stale version", nil)
	ErrDegraded          = New(ErrCodeDegraded, "mutation partially applied", nil)
	ErrIndexInconsistent = New(ErrCodeIndexInconsistent, "index inconsistent", nil)
	ErrDanglingReference = New(ErrCodeDanglingReference, "dangling reference", nil)
	ErrInvalidContent    = New(ErrCodeInvalidContent, "invalid content", nil)
	ErrInvalidID         = New(ErrCodeInvalidID, "invalid page id", nil)
	ErrClosed            = New(ErrCodeClosed, "engine is closed", nil)
)

// NotFound returns a NotFound error for the given page id.
func NotFound(id string) *NoteError {
	return New(ErrCodePageNotFound, fmt.Sprintf("page %q not found", id), nil).
		WithDetail("page_id", id)
}

// StaleVersion reports a sub-index update for an already superseded version.
func StaleVersion(id string, got, applied int64) *NoteError {
	return New(ErrCodeStaleVersion,
		fmt.Sprintf("version %d of %q is stale (applied %d)", got, id, applied), nil).
		WithDetail("page_id", id).
		WithDetail("version", fmt.Sprint(got)).
		WithDetail("applied_version", fmt.Sprint(applied))
}

// InvalidContent rejects malformed input before any state change.
func InvalidContent(reason string) *NoteError {
	return New(ErrCodeInvalidContent, "invalid content: "+reason, nil)
}

// InvalidID rejects a malformed page identifier.
func InvalidID(id, reason string) *NoteError {
	return New(ErrCodeInvalidID, fmt.Sprintf("invalid page id %q: %s", id, reason), nil).
		WithDetail("page_id", id)
}

// StorageError wraps a page store failure.
func StorageError(message string, cause error) *NoteError {
	return New(ErrCodeStoreWrite, message, cause)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *NoteError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *NoteError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *NoteError {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first NoteError in err's chain.
func As(err error) (*NoteError, bool) {
	var ne *NoteError
	if stderrors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ne, ok := As(err); ok {
		return ne.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors require operator intervention.
func IsFatal(err error) bool {
	if ne, ok := As(err); ok {
		return ne.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a NoteError.
// Returns empty string if not a NoteError.
func GetCode(err error) string {
	if ne, ok := As(err); ok {
		return ne.Code
	}
	return ""
}

// GetCategory extracts the category from a NoteError.
func GetCategory(err error) Category {
	if ne, ok := As(err); ok {
		return ne.Category
	}
	return ""
}
