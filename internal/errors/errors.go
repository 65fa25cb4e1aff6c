package errors

import (
	stderrors "errors"
	"fmt"
)

// EngineError is the structured error type for the essay search engine.
// It carries the context the session layer needs to decide between silent
// retry and user-visible messaging.
type EngineError struct {
	// Code is the unique error code (e.g., "ERR_303_ASSET_FETCH").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Cache, Network, etc.).
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
func (e *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with EngineError.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *EngineError) WithDetail(key, value string) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

// New creates a new EngineError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *EngineError {
	return &EngineError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an EngineError from an existing error.
// The error's message becomes the EngineError message.
func Wrap(code string, err error) *EngineError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// NotReady creates the precondition error returned when a search or update
// check is attempted before the session finished loading its dataset.
func NotReady(message string) *EngineError {
	return New(ErrCodeNotReady, message, nil).
		WithSuggestion("wait for the dataset load to complete, then retry")
}

// AssetFetchError creates a network asset-fetch error.
// Asset-fetch errors are retryable.
func AssetFetchError(message string, cause error) *EngineError {
	return New(ErrCodeAssetFetch, message, cause)
}

// AlignmentError creates a vector/chunk alignment violation error.
func AlignmentError(message string) *EngineError {
	return New(ErrCodeAlignment, message, nil).
		WithSuggestion("regenerate the dataset so chunks and embeddings come from the same build")
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *EngineError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *EngineError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *EngineError {
	return New(ErrCodeInternal, message, cause)
}

// IsNotReady reports whether err is the NotReady precondition error.
func IsNotReady(err error) bool {
	return GetCode(err) == ErrCodeNotReady
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is an EngineError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ee := AsEngineError(err); ee != nil {
		return ee.Retryable
	}
	return false
}

// AsEngineError unwraps err to the first EngineError in its chain, or nil.
func AsEngineError(err error) *EngineError {
	var ee *EngineError
	if stderrors.As(err, &ee) {
		return ee
	}
	return nil
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ee := AsEngineError(err); ee != nil {
		return ee.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an EngineError.
// Returns empty string if not an EngineError.
func GetCode(err error) string {
	if ee := AsEngineError(err); ee != nil {
		return ee.Code
	}
	return ""
}

// GetCategory extracts the category from an EngineError.
// Returns empty string if not an EngineError.
func GetCategory(err error) Category {
	if ee := AsEngineError(err); ee != nil {
		return ee.Category
	}
	return ""
}
