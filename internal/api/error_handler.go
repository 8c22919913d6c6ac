package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	gwerrors "profile-gateway/internal/common/errors"
	"profile-gateway/internal/common/logger"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// NewErrorHandler maps the internal error taxonomy onto HTTP status codes.
// Upstream source failures are the caller's 502, not a 500: the gateway
// itself worked, a dependency did not.
func NewErrorHandler(log logger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		if he, ok := err.(*echo.HTTPError); ok {
			msg, _ := he.Message.(string)
			if msg == "" {
				msg = http.StatusText(he.Code)
			}
			_ = c.JSON(he.Code, errorResponse{Error: msg, Code: "HTTP_ERROR"})
			return
		}

		code := gwerrors.CodeOf(err)
		status := statusFor(code)
		if status >= http.StatusInternalServerError {
			log.Error("request failed", map[string]interface{}{
				"path":  c.Path(),
				"code":  string(code),
				"error": err.Error(),
			})
		}

		_ = c.JSON(status, errorResponse{Error: err.Error(), Code: string(code)})
	}
}

func statusFor(code gwerrors.ErrorCode) int {
	switch code {
	case gwerrors.ErrCodeInvalidQuery, gwerrors.ErrCodeInvalidQueryType:
		return http.StatusBadRequest
	case gwerrors.ErrCodeNoDataFound:
		return http.StatusNotFound
	case gwerrors.ErrCodeSourceUnavailable,
		gwerrors.ErrCodeSourceTimeout,
		gwerrors.ErrCodeSourceAuthFailed,
		gwerrors.ErrCodeSourceMalformedResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
