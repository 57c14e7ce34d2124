package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
)

// LimitsService manages the raw settings layers the resolver merges.
// Every write invalidates the resolver cache so changes take effect
// without waiting out the TTL.
type LimitsService struct {
	repos    *repository.Repositories
	resolver *ConfigResolver
	logger   *slog.Logger
}

// NewLimitsService creates a limits service.
func NewLimitsService(repos *repository.Repositories, resolver *ConfigResolver, logger *slog.Logger) *LimitsService {
	return &LimitsService{
		repos:    repos,
		resolver: resolver,
		logger:   logger.With("component", "limits"),
	}
}

// Upsert writes one settings layer. The row is replaced whole: a nil
// field in the new row reverts that field to inheritance.
func (s *LimitsService) Upsert(ctx context.Context, settings *models.LimitSettings) error {
	if err := validateSettings(settings); err != nil {
		return err
	}
	if err := s.repos.LimitSettings.Upsert(ctx, settings); err != nil {
		return err
	}
	s.invalidate(settings.Scope, settings.KeyID)

	s.logger.Info("limit settings updated",
		"scope", settings.Scope,
		"project_id", settings.ProjectID,
		"key_id", settings.KeyID)
	return nil
}

// Get returns one settings layer, or nil when the layer has no row.
func (s *LimitsService) Get(ctx context.Context, scope models.ConfigScope, projectID, keyID string) (*models.LimitSettings, error) {
	switch scope {
	case models.ScopeGlobal:
		return s.repos.LimitSettings.GetGlobal(ctx)
	case models.ScopeProject:
		return s.repos.LimitSettings.GetByProjectID(ctx, projectID)
	case models.ScopeKey:
		return s.repos.LimitSettings.GetByKeyID(ctx, keyID)
	}
	return nil, fmt.Errorf("unknown settings scope %q", scope)
}

// Delete removes a settings layer entirely; the scope falls back to the
// layer below.
func (s *LimitsService) Delete(ctx context.Context, scope models.ConfigScope, projectID, keyID string) error {
	if err := s.repos.LimitSettings.Delete(ctx, scope, projectID, keyID); err != nil {
		return err
	}
	s.invalidate(scope, keyID)
	return nil
}

// Resolve exposes the merged per-key view for inspection endpoints.
func (s *LimitsService) Resolve(ctx context.Context, keyID string) (*models.EffectiveConfig, error) {
	return s.resolver.Resolve(ctx, keyID)
}

func (s *LimitsService) invalidate(scope models.ConfigScope, keyID string) {
	// Key-level writes touch one cache entry; broader scopes can affect
	// any key.
	if scope == models.ScopeKey {
		s.resolver.Invalidate(keyID)
		return
	}
	s.resolver.InvalidateAll()
}

func validateSettings(settings *models.LimitSettings) error {
	switch settings.Scope {
	case models.ScopeGlobal:
		settings.ProjectID = ""
		settings.KeyID = ""
	case models.ScopeProject:
		if settings.ProjectID == "" {
			return fmt.Errorf("project scope requires project_id")
		}
		settings.KeyID = ""
	case models.ScopeKey:
		if settings.ProjectID == "" || settings.KeyID == "" {
			return fmt.Errorf("key scope requires project_id and key_id")
		}
	default:
		return fmt.Errorf("unknown settings scope %q", settings.Scope)
	}

	for _, limit := range []*int64{settings.PerMinute, settings.PerHour, settings.PerDay, settings.PerMonth} {
		if limit != nil && *limit < 0 {
			return fmt.Errorf("limits must be >= 0")
		}
	}
	if settings.WarnPercent != nil && (*settings.WarnPercent <= 0 || *settings.WarnPercent > 100) {
		return fmt.Errorf("warn_percent must be in (0, 100]")
	}
	return nil
}
