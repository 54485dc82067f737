// Package errors provides the error taxonomy for the transcription
// pipeline: structured error types with machine-readable codes, HTTP status
// mapping, and retryable detection.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// As extracts an *AppError from err if one is present in its chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the error code of err, or ErrCodeInternal for plain errors.
func CodeOf(err error) ErrorCode {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether err is worth retrying. Plain errors default
// to retryable so transient provider failures re-enter the retry path.
func IsRetryable(err error) bool {
	if appErr, ok := As(err); ok {
		return appErr.Retryable
	}
	return true
}

// --- Pipeline error constructors ---

// Validation creates a new AppError for invalid submission input. It is
// rejected synchronously and never enters the pipeline.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeValidation, Message: message,
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// QuotaExceeded creates a new AppError denying admission for an owner whose
// usage reached its limit. Details carry limit/used/remaining/reset_at.
func QuotaExceeded(limit, used int64, resetAt time.Time) *AppError {
	return &AppError{
		Code: ErrCodeQuotaExceeded, Message: "Usage quota exceeded for this billing period.",
		HTTPStatus: http.StatusTooManyRequests, Retryable: false,
		Details: map[string]any{
			"limit":     limit,
			"used":      used,
			"remaining": int64(0),
			"reset_at":  resetAt.UTC().Format(time.RFC3339),
		},
	}
}

// ProviderUnavailable creates a new AppError for a short-circuited call to
// a provider whose circuit breaker is open. No network call was made.
func ProviderUnavailable(provider string) *AppError {
	return &AppError{
		Code: ErrCodeProviderUnavailable, Message: fmt.Sprintf("The %s provider is temporarily unavailable.", provider),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"provider": provider},
	}
}

// StageFailed creates a new AppError for a step that exhausted its retries.
func StageFailed(stage string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeStageFailed, Message: fmt.Sprintf("The %s stage failed after exhausting retries.", stage),
		HTTPStatus: http.StatusInternalServerError, Retryable: false,
		Details: map[string]any{"stage": stage}, Cause: cause,
	}
}

// AnalysisDegraded creates a new AppError recording that analysis output
// was partially malformed. Non-fatal: the job still completes.
func AnalysisDegraded(fields []string) *AppError {
	return &AppError{
		Code: ErrCodeAnalysisDegraded, Message: "Analysis completed with partial results.",
		HTTPStatus: http.StatusOK, Retryable: false,
		Details: map[string]any{"degraded_fields": fields},
	}
}

// PersistenceConflict creates a new AppError for an attempt to overwrite an
// already-set artifact reference. Ignored by the store, logged, job proceeds.
func PersistenceConflict(field string) *AppError {
	return &AppError{
		Code: ErrCodePersistenceConflict, Message: fmt.Sprintf("Attempted to overwrite artifact %q.", field),
		HTTPStatus: http.StatusConflict, Retryable: false,
		Details: map[string]any{"field": field},
	}
}

// --- Ambient error constructors ---

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		HTTPStatus: http.StatusNotFound, Retryable: false, Details: details,
	}
}

// RateLimited creates a new AppError for too many requests.
func RateLimited() *AppError {
	return &AppError{
		Code: ErrCodeRateLimited, Message: "Too many requests. Please wait a moment and try again.",
		HTTPStatus: http.StatusTooManyRequests, Retryable: true,
	}
}

// Timeout creates a new AppError for an external call that timed out.
func Timeout(operation string) *AppError {
	return &AppError{
		Code: ErrCodeTimeout, Message: "The request took too long. Please try again.",
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// Internal creates a new AppError for an internal error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError, Retryable: false, Cause: cause,
	}
}
