// Package handlers contains HTTP handlers for the API.
package handlers

import (
	"context"
	"database/sql"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/akmhq/akm-api/internal/http/mw"
	"github.com/akmhq/akm-api/internal/service"
	"github.com/akmhq/akm-api/internal/version"
)

const timeFormat = "2006-01-02T15:04:05Z07:00"

// HealthCheckOutput represents health check response.
type HealthCheckOutput struct {
	Body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
}

// HealthCheck returns the health status of the API.
func HealthCheck(ctx context.Context, input *struct{}) (*HealthCheckOutput, error) {
	out := &HealthCheckOutput{}
	out.Body.Status = "healthy"
	out.Body.Version = version.Get().Short()
	return out, nil
}

// ReadyCheckOutput represents readiness probe response.
type ReadyCheckOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// NewReadyCheck builds a readiness probe that verifies database
// connectivity.
func NewReadyCheck(db *sql.DB) func(ctx context.Context, input *struct{}) (*ReadyCheckOutput, error) {
	return func(ctx context.Context, input *struct{}) (*ReadyCheckOutput, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return nil, huma.Error503ServiceUnavailable("database unavailable")
		}
		out := &ReadyCheckOutput{}
		out.Body.Status = "ready"
		return out, nil
	}
}

// getClaims extracts the authenticated key's claims from context.
func getClaims(ctx context.Context) (*service.KeyClaims, error) {
	claims, ok := mw.GetKeyClaims(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}
	return claims, nil
}

func fmtTime(t time.Time) string {
	return t.Format(timeFormat)
}

func fmtTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeFormat)
}
