// Package errors provides standardized error handling for the profile gateway.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Query validation errors. Surfaced before any upstream call is made.
	ErrCodeInvalidQuery     ErrorCode = "INVALID_QUERY"
	ErrCodeInvalidQueryType ErrorCode = "INVALID_QUERY_TYPE"

	// Per-source lookup errors. Recorded in the source breakdown; a single
	// source failing never fails the whole query on its own.
	ErrCodeSourceUnavailable       ErrorCode = "SOURCE_UNAVAILABLE"
	ErrCodeSourceTimeout           ErrorCode = "SOURCE_TIMEOUT"
	ErrCodeSourceAuthFailed        ErrorCode = "SOURCE_AUTH_FAILED"
	ErrCodeSourceMalformedResponse ErrorCode = "SOURCE_MALFORMED_RESPONSE"

	// Consolidation errors.
	ErrCodeNoDataFound ErrorCode = "NO_DATA_FOUND"

	// Infrastructure errors.
	ErrCodeCacheUnavailable         ErrorCode = "CACHE_UNAVAILABLE"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewInvalidQueryError creates a non-retryable query validation error.
func NewInvalidQueryError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidQuery,
		Message:   "Query is empty or malformed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidQueryTypeError creates a non-retryable unknown query type error.
func NewInvalidQueryTypeError(queryType string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidQueryType,
		Message:   "Unsupported query type",
		Details:   fmt.Sprintf("queryType: %s", queryType),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSourceUnavailableError creates a retryable upstream source error.
func NewSourceUnavailableError(source string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSourceUnavailable,
		Message:   fmt.Sprintf("Source '%s' lookup failed", source),
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"source": source},
		Timestamp: time.Now().UTC(),
	}
}

// NewSourceTimeoutError creates a retryable upstream timeout error.
func NewSourceTimeoutError(source string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSourceTimeout,
		Message:   fmt.Sprintf("Source '%s' lookup timed out", source),
		Retryable: true,
		Metadata:  map[string]interface{}{"source": source},
		Timestamp: time.Now().UTC(),
	}
}

// NewSourceAuthFailedError creates a non-retryable upstream auth error.
func NewSourceAuthFailedError(source, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSourceAuthFailed,
		Message:   fmt.Sprintf("Source '%s' rejected credentials", source),
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"source": source},
		Timestamp: time.Now().UTC(),
	}
}

// NewMalformedResponseError creates a non-retryable schema validation error
// for an upstream payload.
func NewMalformedResponseError(source, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSourceMalformedResponse,
		Message:   fmt.Sprintf("Source '%s' returned a malformed response", source),
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"source": source},
		Timestamp: time.Now().UTC(),
	}
}

// NewNoDataFoundError creates a non-retryable no-data error: every source
// came back empty and the profile holds nothing but the echoed query.
func NewNoDataFoundError(query string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoDataFound,
		Message:   "No source returned data for query",
		Details:   fmt.Sprintf("query: %s", query),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCacheUnavailableError creates a retryable cache error.
func NewCacheUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeCacheUnavailable,
		Message:   "Result cache unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// CodeOf extracts the error code from err, or "" when err is not a
// StandardError.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// HasCode reports whether err is a StandardError carrying the given code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether err is a StandardError marked retryable.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case codeStr == string(ErrCodeNoDataFound):
		return "CONSOLIDATION"
	case strings.Contains(codeStr, "QUERY"):
		return "VALIDATION"
	case strings.Contains(codeStr, "SOURCE"):
		return "SOURCE"
	case strings.Contains(codeStr, "CACHE"):
		return "CACHE"
	case strings.Contains(codeStr, "DATABASE"):
		return "DATABASE"
	default:
		return "OTHER"
	}
}
