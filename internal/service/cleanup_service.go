package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/akmhq/akm-api/internal/repository"
)

// CleanupService removes closed usage-counter windows past the retention
// period. Counter rows are history once their window closes; the hourly
// rollups in usage_metrics stay, so stats survive cleanup.
type CleanupService struct {
	usageRepo repository.UsageRepository
	logger    *slog.Logger
}

// NewCleanupService creates a cleanup service.
func NewCleanupService(usageRepo repository.UsageRepository, logger *slog.Logger) *CleanupService {
	return &CleanupService{
		usageRepo: usageRepo,
		logger:    logger.With("component", "cleanup"),
	}
}

// CleanupClosedWindows deletes counter rows whose window closed before
// now minus maxAge. Returns the number of rows removed.
func (s *CleanupService) CleanupClosedWindows(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)

	deleted, err := s.usageRepo.CleanupClosedWindows(ctx, cutoff)
	if err != nil {
		s.logger.Error("counter cleanup failed", "error", err)
		return 0, err
	}

	if deleted > 0 {
		s.logger.Info("cleaned up closed counter windows",
			"deleted", deleted,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}

// RunScheduled runs cleanup immediately and then at the given interval
// until the context ends.
func (s *CleanupService) RunScheduled(ctx context.Context, maxAge, interval time.Duration) {
	s.logger.Info("starting scheduled cleanup",
		"max_age", maxAge.String(),
		"interval", interval.String())

	if _, err := s.CleanupClosedWindows(ctx, maxAge); err != nil {
		s.logger.Error("initial cleanup failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduled cleanup stopped")
			return
		case <-ticker.C:
			if _, err := s.CleanupClosedWindows(ctx, maxAge); err != nil {
				s.logger.Error("scheduled cleanup failed", "error", err)
			}
		}
	}
}
