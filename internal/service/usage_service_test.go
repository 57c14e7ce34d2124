package service

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/akmhq/akm-api/internal/models"
)

func TestUsageService_GetUsageStats(t *testing.T) {
	repos := newTestRepos()
	usage := newMockUsageRepository()
	repos.Usage = usage

	// Newest first, two hours on the 16th and one on the 15th.
	usage.metrics = []*models.UsageMetric{
		{KeyID: "key-1", Date: "2026-03-16", Hour: 10, RequestCount: 100,
			SuccessfulRequests: 90, FailedRequests: 10, AvgResponseTimeMs: 200},
		{KeyID: "key-1", Date: "2026-03-16", Hour: 9, RequestCount: 50,
			SuccessfulRequests: 50, FailedRequests: 0, AvgResponseTimeMs: 100},
		{KeyID: "key-1", Date: "2026-03-15", Hour: 23, RequestCount: 10,
			SuccessfulRequests: 5, FailedRequests: 5, AvgResponseTimeMs: 400},
	}

	svc := NewUsageService(repos, slog.Default())
	stats, err := svc.GetUsageStats(context.Background(), "key-1", 7)
	if err != nil {
		t.Fatalf("GetUsageStats failed: %v", err)
	}

	if stats.TotalRequests != 160 || stats.SuccessfulRequests != 145 || stats.FailedRequests != 15 {
		t.Errorf("unexpected totals: %+v", stats)
	}
	// Weighted: (200*100 + 100*50 + 400*10) / 160 = 181.
	if stats.AvgResponseTimeMs != 181 {
		t.Errorf("expected avg response 181ms, got %d", stats.AvgResponseTimeMs)
	}
	if stats.ErrorRate != float64(15)/160 {
		t.Errorf("unexpected error rate %f", stats.ErrorRate)
	}

	if len(stats.Daily) != 2 {
		t.Fatalf("expected 2 daily buckets, got %d", len(stats.Daily))
	}
	day := stats.Daily[0]
	if day.Date != "2026-03-16" || day.RequestCount != 150 {
		t.Errorf("unexpected first day: %+v", day)
	}
	// (200*100 + 100*50) / 150 = 166.
	if day.AvgResponseTimeMs != 166 {
		t.Errorf("expected day avg 166ms, got %d", day.AvgResponseTimeMs)
	}
	if stats.Daily[1].Date != "2026-03-15" || stats.Daily[1].ErrorRate != 0.5 {
		t.Errorf("unexpected second day: %+v", stats.Daily[1])
	}
}

func TestUsageService_GetUsageStatsEmpty(t *testing.T) {
	repos := newTestRepos()
	repos.Usage = newMockUsageRepository()

	svc := NewUsageService(repos, slog.Default())
	stats, err := svc.GetUsageStats(context.Background(), "key-1", 0)
	if err != nil {
		t.Fatalf("GetUsageStats failed: %v", err)
	}
	if stats.TotalRequests != 0 || stats.ErrorRate != 0 || stats.AvgResponseTimeMs != 0 {
		t.Errorf("expected zeroed stats, got %+v", stats)
	}
	if len(stats.Daily) != 0 {
		t.Errorf("expected no daily buckets, got %d", len(stats.Daily))
	}
}

func TestUsageService_GetCounters(t *testing.T) {
	repos := newTestRepos()
	usage := newMockUsageRepository()
	repos.Usage = usage

	now := time.Now().UTC()
	usage.counters = map[string]*models.UsageCounter{
		"key-1/hour": {KeyID: "key-1", Window: models.WindowHour,
			WindowStart: models.WindowHour.SlotStart(now), Count: 42},
	}

	svc := NewUsageService(repos, slog.Default())
	counters, err := svc.GetCounters(context.Background(), "key-1")
	if err != nil {
		t.Fatalf("GetCounters failed: %v", err)
	}
	if len(counters) != 1 {
		t.Fatalf("expected 1 touched counter, got %d", len(counters))
	}
	if counters[0].Window != models.WindowHour || counters[0].Count != 42 {
		t.Errorf("unexpected counter: %+v", counters[0])
	}
}

func TestUsageService_RecordRequest(t *testing.T) {
	repos := newTestRepos()
	usage := newMockUsageRepository()
	repos.Usage = usage

	svc := NewUsageService(repos, slog.Default())
	svc.RecordRequest(context.Background(), "key-1", true, 150*time.Millisecond)

	usage.mu.Lock()
	defer usage.mu.Unlock()
	if len(usage.recorded) != 1 || usage.recorded[0] != "key-1" {
		t.Errorf("expected one recorded request for key-1, got %v", usage.recorded)
	}
}
