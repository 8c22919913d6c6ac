package api

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"profile-gateway/internal/common/logger"
)

// Readiness holds the backend handles the readiness probe pings. Any nil
// handle is skipped.
type Readiness struct {
	Redis *redis.Client
	DB    *sql.DB
}

// NewRouter builds the echo instance with all routes and middleware wired.
func NewRouter(h *Handler, ready Readiness, log logger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = NewErrorHandler(log)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.GET("/v1/profiles/lookup", h.LookupProfile)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/readyz", func(c echo.Context) error {
		if err := checkReady(c.Request().Context(), ready); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}

func checkReady(ctx context.Context, ready Readiness) error {
	if ready.Redis != nil {
		if err := ready.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	if ready.DB != nil {
		if err := ready.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	return nil
}
