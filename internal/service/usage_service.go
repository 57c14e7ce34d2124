package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
)

// UsageService aggregates the hourly usage rollups into per-key stats.
type UsageService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

// NewUsageService creates a new usage service.
func NewUsageService(repos *repository.Repositories, logger *slog.Logger) *UsageService {
	return &UsageService{
		repos:  repos,
		logger: logger,
	}
}

// DailyUsage is one day's aggregated numbers.
type DailyUsage struct {
	Date               string  `json:"date"`
	RequestCount       int64   `json:"request_count"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	AvgResponseTimeMs  int64   `json:"avg_response_time_ms"`
	ErrorRate          float64 `json:"error_rate"`
}

// UsageStats summarizes a key's traffic over a period.
type UsageStats struct {
	KeyID              string       `json:"key_id"`
	Since              string       `json:"since"`
	TotalRequests      int64        `json:"total_requests"`
	SuccessfulRequests int64        `json:"successful_requests"`
	FailedRequests     int64        `json:"failed_requests"`
	ErrorRate          float64      `json:"error_rate"`
	AvgResponseTimeMs  int64        `json:"avg_response_time_ms"`
	Daily              []DailyUsage `json:"daily"`
}

// RecordRequest folds one completed request into the hourly rollup.
// Rollup failures are logged, never surfaced: metrics recording must not
// fail a request that already completed.
func (s *UsageService) RecordRequest(ctx context.Context, keyID string, success bool, responseTime time.Duration) {
	err := s.repos.Usage.RecordRequest(ctx, keyID, time.Now().UTC(), success, responseTime.Milliseconds())
	if err != nil {
		s.logger.Error("failed to record usage metric", "key_id", keyID, "error", err)
	}
}

// GetUsageStats aggregates the hourly rollups for a key since the given
// number of days ago.
func (s *UsageService) GetUsageStats(ctx context.Context, keyID string, days int) (*UsageStats, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	rows, err := s.repos.Usage.GetMetrics(ctx, keyID, since)
	if err != nil {
		return nil, err
	}

	stats := &UsageStats{
		KeyID: keyID,
		Since: since.Format("2006-01-02"),
	}

	// Rows arrive newest first; fold hours into days preserving order.
	var weightedResponseTime int64
	byDate := make(map[string]*DailyUsage)
	dayWeighted := make(map[string]int64)
	var dates []string
	for _, m := range rows {
		stats.TotalRequests += m.RequestCount
		stats.SuccessfulRequests += m.SuccessfulRequests
		stats.FailedRequests += m.FailedRequests
		weightedResponseTime += m.AvgResponseTimeMs * m.RequestCount

		day, ok := byDate[m.Date]
		if !ok {
			day = &DailyUsage{Date: m.Date}
			byDate[m.Date] = day
			dates = append(dates, m.Date)
		}
		day.RequestCount += m.RequestCount
		day.SuccessfulRequests += m.SuccessfulRequests
		day.FailedRequests += m.FailedRequests
		dayWeighted[m.Date] += m.AvgResponseTimeMs * m.RequestCount
	}

	for _, date := range dates {
		day := byDate[date]
		day.ErrorRate = errorRate(day.FailedRequests, day.RequestCount)
		if day.RequestCount > 0 {
			day.AvgResponseTimeMs = dayWeighted[date] / day.RequestCount
		}
		stats.Daily = append(stats.Daily, *day)
	}

	stats.ErrorRate = errorRate(stats.FailedRequests, stats.TotalRequests)
	if stats.TotalRequests > 0 {
		stats.AvgResponseTimeMs = weightedResponseTime / stats.TotalRequests
	}
	return stats, nil
}

// GetCounters returns the live window counters for a key at the current
// instant, one per enforced-or-touched window.
func (s *UsageService) GetCounters(ctx context.Context, keyID string) ([]*models.UsageCounter, error) {
	now := time.Now().UTC()
	var counters []*models.UsageCounter
	for _, window := range models.WindowKinds {
		counter, err := s.repos.Usage.GetCounter(ctx, keyID, window, window.SlotStart(now))
		if err != nil {
			return nil, err
		}
		if counter != nil {
			counters = append(counters, counter)
		}
	}
	return counters, nil
}

func errorRate(failed, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
