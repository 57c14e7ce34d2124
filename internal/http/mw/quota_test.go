package mw

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/akmhq/akm-api/internal/config"
	"github.com/akmhq/akm-api/internal/events"
	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
	"github.com/akmhq/akm-api/internal/service"
)

// ========================================
// Stub repositories
// ========================================

// stubLimitsRepo serves optional key-scope settings; the global and
// project layers stay unset.
type stubLimitsRepo struct {
	byKey map[string]*models.LimitSettings
}

func (r *stubLimitsRepo) Upsert(ctx context.Context, settings *models.LimitSettings) error {
	return nil
}
func (r *stubLimitsRepo) GetGlobal(ctx context.Context) (*models.LimitSettings, error) {
	return nil, nil
}
func (r *stubLimitsRepo) GetByProjectID(ctx context.Context, projectID string) (*models.LimitSettings, error) {
	return nil, nil
}
func (r *stubLimitsRepo) GetByKeyID(ctx context.Context, keyID string) (*models.LimitSettings, error) {
	return r.byKey[keyID], nil
}
func (r *stubLimitsRepo) Delete(ctx context.Context, scope models.ConfigScope, projectID, keyID string) error {
	return nil
}

// stubUsageRepo counts consumes per key against the first charged window.
type stubUsageRepo struct {
	mu        sync.Mutex
	counts    map[string]int64
	recorded  int
	successes []bool
}

func (r *stubUsageRepo) CheckAndConsume(ctx context.Context, keyID string, cost int64, charges []repository.WindowCharge, warnPercent int) (*repository.ConsumeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int64)
	}
	ch := charges[0]
	next := r.counts[keyID] + cost
	if next > ch.Limit {
		return &repository.ConsumeResult{
			Breached: &repository.WindowUsage{
				Window: ch.Window, Start: ch.Start, End: ch.End,
				Limit: ch.Limit, Count: r.counts[keyID],
			},
		}, nil
	}
	r.counts[keyID] = next
	return &repository.ConsumeResult{
		Allowed: true,
		Usage: []repository.WindowUsage{{
			Window: ch.Window, Start: ch.Start, End: ch.End,
			Limit: ch.Limit, Count: next,
		}},
	}, nil
}

func (r *stubUsageRepo) GetCounter(ctx context.Context, keyID string, window models.WindowKind, start time.Time) (*models.UsageCounter, error) {
	return nil, nil
}

func (r *stubUsageRepo) RecordRequest(ctx context.Context, keyID string, at time.Time, success bool, responseTimeMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded++
	r.successes = append(r.successes, success)
	return nil
}

func (r *stubUsageRepo) GetMetrics(ctx context.Context, keyID string, since time.Time) ([]*models.UsageMetric, error) {
	return nil, nil
}

func (r *stubUsageRepo) CleanupClosedWindows(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type stubAlertRuleRepo struct{}

func (r *stubAlertRuleRepo) Create(ctx context.Context, rule *models.AlertRule) error { return nil }
func (r *stubAlertRuleRepo) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	return nil, nil
}
func (r *stubAlertRuleRepo) GetActiveForKey(ctx context.Context, keyID, projectID string) ([]*models.AlertRule, error) {
	return nil, nil
}
func (r *stubAlertRuleRepo) ListByProjectID(ctx context.Context, projectID string) ([]*models.AlertRule, error) {
	return nil, nil
}
func (r *stubAlertRuleRepo) Update(ctx context.Context, rule *models.AlertRule) error { return nil }
func (r *stubAlertRuleRepo) Delete(ctx context.Context, id string) error              { return nil }
func (r *stubAlertRuleRepo) MarkTriggered(ctx context.Context, ruleID string, now time.Time, cooldown time.Duration) (bool, error) {
	return false, nil
}

// ========================================
// Quota middleware tests
// ========================================

type quotaFixture struct {
	mw    func(http.Handler) http.Handler
	keys  *stubKeyRepo
	usage *stubUsageRepo
}

func newQuotaMiddleware(t *testing.T, hourLimit int64) *quotaFixture {
	t.Helper()
	keys := &stubKeyRepo{keys: make(map[string]*models.APIKey)}
	usage := &stubUsageRepo{}
	repos := &repository.Repositories{
		APIKey:        keys,
		LimitSettings: &stubLimitsRepo{},
		Usage:         usage,
		AlertRule:     &stubAlertRuleRepo{},
	}
	cfg := &config.Config{
		DefaultLimitPerHour: hourLimit,
		DefaultWarnPercent:  80,
		ResolverCacheTTL:    time.Minute,
	}
	bus := events.NewBus(events.DefaultBufferSize, slog.Default())
	resolver := service.NewConfigResolver(cfg, repos, slog.Default())
	quotaSvc := service.NewQuotaService(resolver, repos, bus, nil, slog.Default())
	usageSvc := service.NewUsageService(repos, slog.Default())
	alertSvc := service.NewAlertService(repos, bus, nil, 15*time.Minute, slog.Default())

	return &quotaFixture{
		mw:    Quota(quotaSvc, usageSvc, alertSvc, slog.Default()),
		keys:  keys,
		usage: usage,
	}
}

func (f *quotaFixture) request(keyID string) *httptest.ResponseRecorder {
	handler := f.mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
	req = req.WithContext(WithKeyClaims(req.Context(), &service.KeyClaims{
		KeyID:     keyID,
		ProjectID: "proj-1",
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestQuota_AllowSetsHeaders(t *testing.T) {
	f := newQuotaMiddleware(t, 10)
	f.keys.keys["key-1"] = &models.APIKey{ID: "key-1", ProjectID: "proj-1", IsActive: true}

	rec := f.request("key-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
		t.Errorf("X-RateLimit-Limit = %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "9" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("expected X-RateLimit-Reset header")
	}
}

func TestQuota_DenyReturns429(t *testing.T) {
	f := newQuotaMiddleware(t, 2)
	f.keys.keys["key-1"] = &models.APIKey{ID: "key-1", ProjectID: "proj-1", IsActive: true}

	f.request("key-1")
	f.request("key-1")
	rec := f.request("key-1")

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if !strings.Contains(rec.Body.String(), "rate limit exceeded") {
		t.Errorf("unexpected deny body: %s", rec.Body.String())
	}
}

func TestQuota_UnlimitedKeySkipsHeaders(t *testing.T) {
	f := newQuotaMiddleware(t, 0)
	f.keys.keys["key-1"] = &models.APIKey{ID: "key-1", ProjectID: "proj-1", IsActive: true}

	rec := f.request("key-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Limit") != "" {
		t.Error("unlimited key should not carry rate limit headers")
	}
}

func TestQuota_RecordsUsageAfterResponse(t *testing.T) {
	f := newQuotaMiddleware(t, 10)
	f.keys.keys["key-1"] = &models.APIKey{ID: "key-1", ProjectID: "proj-1", IsActive: true}

	f.request("key-1")

	f.usage.mu.Lock()
	recorded := f.usage.recorded
	f.usage.mu.Unlock()
	if recorded != 1 {
		t.Errorf("recorded = %d, want 1", recorded)
	}
}

func TestQuota_ClientErrorsCountAsFailed(t *testing.T) {
	f := newQuotaMiddleware(t, 10)
	f.keys.keys["key-1"] = &models.APIKey{ID: "key-1", ProjectID: "proj-1", IsActive: true}

	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusInternalServerError} {
		handler := f.mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		req := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
		req = req.WithContext(WithKeyClaims(req.Context(), &service.KeyClaims{
			KeyID:     "key-1",
			ProjectID: "proj-1",
		}))
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	f.usage.mu.Lock()
	successes := append([]bool(nil), f.usage.successes...)
	f.usage.mu.Unlock()

	want := []bool{true, false, false}
	if len(successes) != len(want) {
		t.Fatalf("recorded %d requests, want %d", len(successes), len(want))
	}
	for i, s := range successes {
		if s != want[i] {
			t.Errorf("request %d recorded success=%v, want %v", i, s, want[i])
		}
	}
}

func TestQuota_MissingClaims(t *testing.T) {
	f := newQuotaMiddleware(t, 10)
	handler := f.mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestQuota_FailsClosedOnResolverError(t *testing.T) {
	f := newQuotaMiddleware(t, 10)
	// No key seeded: the resolver cannot find it and the check errors.
	rec := f.request("key-missing")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
