// Package errors provides structured error handling for the essay search engine.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Cache and store errors (local disk)
//   - 3XX: Network and asset-fetch errors
//   - 4XX: Dataset validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryCache indicates local asset store errors.
	CategoryCache Category = "CACHE"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates dataset or input validation errors.
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
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Cache errors (200-299)
	ErrCodeAssetNotCached  = "ERR_201_ASSET_NOT_CACHED"
	ErrCodeStorePermission = "ERR_202_STORE_PERMISSION"
	ErrCodeStoreCorrupt    = "ERR_203_STORE_CORRUPT"
	ErrCodeSwapIncomplete  = "ERR_204_SWAP_INCOMPLETE"

	// Network errors (300-399)
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
	ErrCodeAssetFetch         = "ERR_303_ASSET_FETCH"
	ErrCodeVersionFetch       = "ERR_304_VERSION_FETCH"

	// Validation errors (400-499)
	ErrCodeInvalidInput      = "ERR_401_INVALID_INPUT"
	ErrCodeAlignment         = "ERR_402_ALIGNMENT_VIOLATION"
	ErrCodeDuplicateChunkID  = "ERR_403_DUPLICATE_CHUNK_ID"
	ErrCodeDimensionMismatch = "ERR_404_DIMENSION_MISMATCH"
	ErrCodeManifestInvalid   = "ERR_405_MANIFEST_INVALID"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeNotReady        = "ERR_502_NOT_READY"
	ErrCodeEmbeddingFailed = "ERR_503_EMBEDDING_FAILED"
	ErrCodeSearchFailed    = "ERR_504_SEARCH_FAILED"
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
		return CategoryCache
	case '3':
		return CategoryNetwork
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	// Corrupt state must abort the operation that discovered it.
	switch code {
	case ErrCodeStoreCorrupt, ErrCodeAlignment, ErrCodeDuplicateChunkID:
		return SeverityFatal
	}

	// Retryable network errors get warning severity.
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetworkTimeout, ErrCodeNetworkUnavailable, ErrCodeAssetFetch, ErrCodeVersionFetch:
		return true
	default:
		return false
	}
}
