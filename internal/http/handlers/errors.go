package handlers

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/akmhq/akm-api/internal/service"
)

// mapError translates service-layer errors into HTTP problem responses.
// Unrecognized errors become a 500 with the caller's fallback message so
// internal details never leak to clients.
func mapError(err error, fallback string) error {
	switch {
	case errors.Is(err, service.ErrKeyNotFound),
		errors.Is(err, service.ErrProjectNotFound),
		errors.Is(err, service.ErrWebhookNotFound),
		errors.Is(err, service.ErrRuleNotFound),
		errors.Is(err, service.ErrFieldNotFound),
		errors.Is(err, service.ErrConfigNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrKeyRevoked),
		errors.Is(err, service.ErrKeyExpired):
		return huma.Error409Conflict(err.Error())
	default:
		return huma.Error500InternalServerError(fallback)
	}
}
