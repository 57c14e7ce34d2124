package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/akmhq/akm-api/internal/config"
	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
)

// ConfigResolver produces the effective per-key configuration by merging
// the key, project and global settings layers field by field, with
// service-wide env defaults underneath. Results are cached per key with a
// short TTL; configuration writes invalidate eagerly.
type ConfigResolver struct {
	cfg    *config.Config
	repos  *repository.Repositories
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]*cachedConfig
	ttl   time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

type cachedConfig struct {
	config    *models.EffectiveConfig
	expiresAt time.Time
}

// NewConfigResolver creates a config resolver with the cache TTL from cfg.
func NewConfigResolver(cfg *config.Config, repos *repository.Repositories, logger *slog.Logger) *ConfigResolver {
	return &ConfigResolver{
		cfg:    cfg,
		repos:  repos,
		logger: logger.With("component", "config-resolver"),
		cache:  make(map[string]*cachedConfig),
		ttl:    cfg.ResolverCacheTTL,
		now:    time.Now,
	}
}

// Resolve returns the effective configuration for a key. Returns
// ErrConfigNotFound when the key does not exist.
func (r *ConfigResolver) Resolve(ctx context.Context, keyID string) (*models.EffectiveConfig, error) {
	r.mu.RLock()
	cached, ok := r.cache[keyID]
	r.mu.RUnlock()

	if ok && r.now().Before(cached.expiresAt) {
		return cached.config, nil
	}

	resolved, err := r.resolve(ctx, keyID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[keyID] = &cachedConfig{
		config:    resolved,
		expiresAt: r.now().Add(r.ttl),
	}
	r.mu.Unlock()

	return resolved, nil
}

// Invalidate evicts one key's cached configuration.
func (r *ConfigResolver) Invalidate(keyID string) {
	r.mu.Lock()
	delete(r.cache, keyID)
	r.mu.Unlock()
}

// InvalidateAll drops every cached entry. Used on project-level and
// global settings writes, which can affect any key.
func (r *ConfigResolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]*cachedConfig)
	r.mu.Unlock()
}

func (r *ConfigResolver) resolve(ctx context.Context, keyID string) (*models.EffectiveConfig, error) {
	key, err := r.repos.APIKey.GetByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrConfigNotFound
	}

	global, err := r.repos.LimitSettings.GetGlobal(ctx)
	if err != nil {
		return nil, err
	}
	project, err := r.repos.LimitSettings.GetByProjectID(ctx, key.ProjectID)
	if err != nil {
		return nil, err
	}
	keyLevel, err := r.repos.LimitSettings.GetByKeyID(ctx, keyID)
	if err != nil {
		return nil, err
	}

	// Start from env defaults, then overlay global, project, key. Each
	// layer overrides only the fields it sets.
	effective := &models.EffectiveConfig{
		KeyID:       keyID,
		ProjectID:   key.ProjectID,
		Limits:      r.defaultLimits(),
		WarnPercent: r.cfg.DefaultWarnPercent,
	}

	for _, layer := range []*models.LimitSettings{global, project, keyLevel} {
		if layer == nil {
			continue
		}
		applyLayer(effective, layer)
	}

	return effective, nil
}

// defaultLimits builds the base limit map from env configuration. A zero
// default means the window is not enforced at the base layer.
func (r *ConfigResolver) defaultLimits() map[models.WindowKind]int64 {
	limits := make(map[models.WindowKind]int64, 4)
	defaults := map[models.WindowKind]int64{
		models.WindowMinute: r.cfg.DefaultLimitPerMinute,
		models.WindowHour:   r.cfg.DefaultLimitPerHour,
		models.WindowDay:    r.cfg.DefaultLimitPerDay,
		models.WindowMonth:  r.cfg.DefaultLimitPerMonth,
	}
	for window, limit := range defaults {
		if limit != 0 {
			limits[window] = limit
		}
	}
	return limits
}

// applyLayer overlays one settings row onto the effective config. Nil
// fields inherit from the layer below; a set field replaces it, including
// an explicit zero limit (deny all).
func applyLayer(effective *models.EffectiveConfig, layer *models.LimitSettings) {
	windows := map[models.WindowKind]*int64{
		models.WindowMinute: layer.PerMinute,
		models.WindowHour:   layer.PerHour,
		models.WindowDay:    layer.PerDay,
		models.WindowMonth:  layer.PerMonth,
	}
	for window, limit := range windows {
		if limit != nil {
			effective.Limits[window] = *limit
		}
	}

	if layer.WarnPercent != nil {
		effective.WarnPercent = *layer.WarnPercent
	}
	if layer.AllowedIPs != nil {
		effective.AllowedIPs = layer.AllowedIPs
	}
	if layer.AllowedMethods != nil {
		effective.AllowedMethods = layer.AllowedMethods
	}
	if layer.AllowedTimeStart != nil {
		effective.AllowedTimeStart = *layer.AllowedTimeStart
	}
	if layer.AllowedTimeEnd != nil {
		effective.AllowedTimeEnd = *layer.AllowedTimeEnd
	}
}
