// Package api exposes the gateway over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"profile-gateway/internal/models"
)

// ProfileService is the piece of the query pipeline the HTTP layer needs.
type ProfileService interface {
	GetUserProfile(ctx context.Context, rawQuery string) (*models.UserProfile, error)
}

type Handler struct {
	service ProfileService
}

func NewHandler(service ProfileService) *Handler {
	return &Handler{service: service}
}

// LookupProfile handles GET /v1/profiles/lookup?q=<query>.
func (h *Handler) LookupProfile(c echo.Context) error {
	profile, err := h.service.GetUserProfile(c.Request().Context(), c.QueryParam("q"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profile)
}
