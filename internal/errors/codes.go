// Package errors provides structured error handling for CiteLoom.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Zotero and file I/O errors
//   - 3XX: Network errors (Zotero Web API, vector store)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates Zotero database and file I/O errors.
	CategoryIO Category = "IO"
	// CategoryNetwork indicates network-related errors.
	CategoryNetwork Category = "NETWORK"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort the batch.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the document failed but the batch can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigMissing = "ERR_101_CONFIG_MISSING"
	ErrCodeConfigInvalid = "ERR_102_CONFIG_INVALID"

	// Zotero / IO errors (200-299)
	ErrCodeZoteroDatabaseNotFound  = "ERR_201_ZOTERO_DATABASE_NOT_FOUND"
	ErrCodeZoteroDatabaseLocked    = "ERR_202_ZOTERO_DATABASE_LOCKED"
	ErrCodeZoteroProfileNotFound   = "ERR_203_ZOTERO_PROFILE_NOT_FOUND"
	ErrCodeZoteroPathResolution    = "ERR_204_ZOTERO_PATH_RESOLUTION"
	ErrCodeCheckpointCorrupt       = "ERR_205_CHECKPOINT_CORRUPT"
	ErrCodeFileNotFound            = "ERR_206_FILE_NOT_FOUND"

	// Network errors (300-399)
	ErrCodeZoteroRateLimit  = "ERR_301_ZOTERO_RATE_LIMIT"
	ErrCodeZoteroAPI        = "ERR_302_ZOTERO_API"
	ErrCodeIndexUnavailable = "ERR_303_INDEX_UNAVAILABLE"
	ErrCodeNetworkTimeout   = "ERR_304_NETWORK_TIMEOUT"

	// Validation errors (400-499)
	ErrCodeInvalidInput       = "ERR_401_INVALID_INPUT"
	ErrCodeEmbeddingMismatch  = "ERR_402_EMBEDDING_MISMATCH"
	ErrCodeProjectNotFound    = "ERR_403_PROJECT_NOT_FOUND"
	ErrCodeHybridNotSupported = "ERR_404_HYBRID_NOT_SUPPORTED"
	ErrCodeMetadataMissing    = "ERR_405_METADATA_MISSING"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodeEmbeddingFailed = "ERR_502_EMBEDDING_FAILED"
	ErrCodeChunkingFailed  = "ERR_503_CHUNKING_FAILED"
	ErrCodeDocumentTimeout = "ERR_504_DOCUMENT_TIMEOUT"
	ErrCodeUpsertFailed    = "ERR_505_UPSERT_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract the leading digit of the numeric portion (e.g. "1" from "ERR_101_...").
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
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
	// Cross-cutting failures abort the batch.
	switch code {
	case ErrCodeConfigMissing, ErrCodeConfigInvalid, ErrCodeEmbeddingMismatch:
		return SeverityFatal
	}

	// Metadata resolution failure is non-blocking.
	if code == ErrCodeMetadataMissing {
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeZoteroRateLimit, ErrCodeZoteroAPI, ErrCodeNetworkTimeout, ErrCodeUpsertFailed:
		return true
	default:
		return false
	}
}
