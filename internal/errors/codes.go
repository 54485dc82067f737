package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Pipeline errors
const (
	// ErrCodeValidation indicates bad submission input.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
	// ErrCodeQuotaExceeded indicates the owner's resource quota is exhausted.
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
	// ErrCodeProviderUnavailable indicates a circuit-open short circuit.
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	// ErrCodeStageFailed indicates a pipeline stage exhausted its retries.
	ErrCodeStageFailed ErrorCode = "STAGE_FAILED"
	// ErrCodeAnalysisDegraded indicates partial/default analysis results.
	ErrCodeAnalysisDegraded ErrorCode = "ANALYSIS_DEGRADED"
	// ErrCodePersistenceConflict indicates an artifact overwrite attempt.
	ErrCodePersistenceConflict ErrorCode = "PERSISTENCE_CONFLICT"
)

// Ambient errors
const (
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeRateLimited indicates the client is rate limited.
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrCodeTimeout indicates an external call timed out.
	ErrCodeTimeout ErrorCode = "TIMEOUT"
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeProviderUnavailable: true,
	ErrCodeTimeout:             true,
	ErrCodeRateLimited:         true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
