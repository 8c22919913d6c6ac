// internal/common/errors/handler.go
package errors

import (
	stderrors "errors"
	"time"
)

// Logger is the minimal logging surface the handler needs.
type Logger interface {
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

// Handler normalizes and logs gateway errors in one place so every component
// reports failures with the same shape.
type Handler struct {
	logger Logger
}

func NewHandler(logger Logger) *Handler {
	return &Handler{logger: logger}
}

// Normalize ensures we always have a StandardError to report.
func (h *Handler) Normalize(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// HandleSourceError logs a per-source lookup failure. Source failures are
// tolerated by consolidation, so they log at warn rather than error.
func (h *Handler) HandleSourceError(source string, err error) *StandardError {
	stdErr := h.Normalize(err)
	h.logger.Warn("source lookup failed", map[string]interface{}{
		"source":        source,
		"errorCode":     string(stdErr.Code),
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"errorCategory": GetErrorCategory(stdErr.Code),
	})
	return stdErr
}

// HandleQueryError logs a query-level failure that will surface to the caller.
func (h *Handler) HandleQueryError(query string, err error) *StandardError {
	stdErr := h.Normalize(err)
	h.logger.Error("query failed", map[string]interface{}{
		"query":         query,
		"errorCode":     string(stdErr.Code),
		"details":       stdErr.Details,
		"errorCategory": GetErrorCategory(stdErr.Code),
	})
	return stdErr
}
