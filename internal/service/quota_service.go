package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/akmhq/akm-api/internal/events"
	"github.com/akmhq/akm-api/internal/logging"
	"github.com/akmhq/akm-api/internal/metrics"
	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
)

// QuotaService enforces per-key request quotas across calendar-aligned
// windows. A request is charged against every enforced window atomically;
// if any window would overshoot, nothing is consumed.
type QuotaService struct {
	resolver *ConfigResolver
	repos    *repository.Repositories
	bus      *events.Bus
	metrics  *metrics.Metrics
	logger   *slog.Logger

	now func() time.Time
}

// Decision is the outcome of a quota check. On deny, Window/Limit/Used/
// ResetAt describe the tightest breached window. On allow they describe
// the tightest enforced window, for the rate-limit response headers.
type Decision struct {
	Allowed   bool
	Window    models.WindowKind
	Limit     int64
	Used      int64
	Remaining int64
	ResetAt   time.Time
}

// NewQuotaService creates a quota service.
func NewQuotaService(resolver *ConfigResolver, repos *repository.Repositories, bus *events.Bus, m *metrics.Metrics, logger *slog.Logger) *QuotaService {
	return &QuotaService{
		resolver: resolver,
		repos:    repos,
		bus:      bus,
		metrics:  m,
		logger:   logger.With("component", "quota"),
		now:      time.Now,
	}
}

// CheckAndConsume charges one request (of the given cost) against every
// enforced window for the key. Denials return a Decision with Allowed
// false, never an error; errors mean the check itself could not run and
// callers must fail closed.
func (s *QuotaService) CheckAndConsume(ctx context.Context, keyID string, cost int64) (*Decision, error) {
	if cost <= 0 {
		cost = 1
	}

	cfg, err := s.resolver.Resolve(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("resolving config for key %s: %w", keyID, err)
	}

	now := s.now().UTC()
	charges := s.buildCharges(cfg, now)

	if len(charges) == 0 {
		// No enforced windows: unlimited key.
		if s.metrics != nil {
			s.metrics.RecordQuotaDecision(true, "")
		}
		return &Decision{Allowed: true, Remaining: -1}, nil
	}

	started := time.Now()
	result, err := s.repos.Usage.CheckAndConsume(ctx, keyID, cost, charges, cfg.WarnPercent)
	if s.metrics != nil {
		s.metrics.ObserveConsumeDuration(time.Since(started).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("consuming quota for key %s: %w", keyID, err)
	}

	if !result.Allowed {
		return s.deny(ctx, keyID, cfg, result.Breached), nil
	}
	return s.allow(ctx, keyID, cfg, result.Usage), nil
}

// buildCharges maps the effective limits onto window charges, tightest
// window first so a deny reports the most actionable reset time.
func (s *QuotaService) buildCharges(cfg *models.EffectiveConfig, now time.Time) []repository.WindowCharge {
	var charges []repository.WindowCharge
	for _, window := range models.WindowKinds {
		limit, enforced := cfg.LimitFor(window)
		if !enforced {
			continue
		}
		charges = append(charges, repository.WindowCharge{
			Window: window,
			Start:  window.SlotStart(now),
			End:    window.SlotEnd(now),
			Limit:  limit,
		})
	}
	return charges
}

func (s *QuotaService) allow(ctx context.Context, keyID string, cfg *models.EffectiveConfig, usage []repository.WindowUsage) *Decision {
	if s.metrics != nil {
		s.metrics.RecordQuotaDecision(true, "")
	}

	for _, u := range usage {
		if !u.CrossedWarn {
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordQuotaWarning(string(u.Window))
		}
		s.logger.Info("usage crossed warning threshold",
			"key_id", keyID,
			"window", u.Window,
			"count", u.Count,
			"limit", u.Limit)
		s.publish(ctx, models.Event{
			Type:      models.EventRateLimitWarning,
			KeyID:     keyID,
			ProjectID: cfg.ProjectID,
			Data: map[string]any{
				"window":       string(u.Window),
				"limit":        u.Limit,
				"used":         u.Count,
				"warn_percent": cfg.WarnPercent,
				"window_start": u.Start.Format(time.RFC3339),
				"window_end":   u.End.Format(time.RFC3339),
			},
		})
	}

	// The tightest window's numbers feed the response headers.
	tightest := usage[0]
	return &Decision{
		Allowed:   true,
		Window:    tightest.Window,
		Limit:     tightest.Limit,
		Used:      tightest.Count,
		Remaining: tightest.Limit - tightest.Count,
		ResetAt:   tightest.End,
	}
}

func (s *QuotaService) deny(ctx context.Context, keyID string, cfg *models.EffectiveConfig, breached *repository.WindowUsage) *Decision {
	if s.metrics != nil {
		s.metrics.RecordQuotaDecision(false, string(breached.Window))
	}
	s.logger.Info("rate limit exceeded",
		"key_id", keyID,
		"window", breached.Window,
		"limit", breached.Limit,
		"used", breached.Count)

	s.publish(ctx, models.Event{
		Type:      models.EventRateLimitExceeded,
		KeyID:     keyID,
		ProjectID: cfg.ProjectID,
		Data: map[string]any{
			"window":       string(breached.Window),
			"limit":        breached.Limit,
			"used":         breached.Count,
			"window_start": breached.Start.Format(time.RFC3339),
			"window_end":   breached.End.Format(time.RFC3339),
		},
	})

	remaining := breached.Limit - breached.Count
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Allowed:   false,
		Window:    breached.Window,
		Limit:     breached.Limit,
		Used:      breached.Count,
		Remaining: remaining,
		ResetAt:   breached.End,
	}
}

func (s *QuotaService) publish(ctx context.Context, ev models.Event) {
	ev.CorrelationID = logging.GetCorrelationID(ctx)
	if s.metrics != nil {
		s.metrics.RecordEventPublished(ev.Type)
	}
	s.bus.Publish(ev)
}

// RateLimitErrorFrom converts a denied decision into the typed error the
// HTTP layer maps to a 429.
func RateLimitErrorFrom(keyID string, d *Decision) *RateLimitError {
	return &RateLimitError{
		KeyID:   keyID,
		Window:  d.Window,
		Limit:   d.Limit,
		Used:    d.Used,
		ResetAt: d.ResetAt,
	}
}
