package service

import (
	"context"
	"log/slog"
	"testing"

	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
)

func newLimitsFixture(t *testing.T) (*LimitsService, *repository.Repositories, *ConfigResolver) {
	t.Helper()
	repos := newTestRepos()
	seedKey(t, repos, "key-1", "proj-1")
	resolver := NewConfigResolver(testConfig(), repos, slog.Default())
	return NewLimitsService(repos, resolver, slog.Default()), repos, resolver
}

func TestLimitsService_UpsertInvalidatesResolver(t *testing.T) {
	svc, _, resolver := newLimitsFixture(t)
	ctx := context.Background()

	// Warm the cache with the env defaults.
	cfg, err := resolver.Resolve(ctx, "key-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if limit, _ := cfg.LimitFor(models.WindowHour); limit != 1000 {
		t.Fatalf("expected hour limit 1000, got %d", limit)
	}

	err = svc.Upsert(ctx, &models.LimitSettings{
		Scope:     models.ScopeKey,
		ProjectID: "proj-1",
		KeyID:     "key-1",
		PerHour:   i64(50),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Visible immediately, no TTL wait.
	cfg, err = svc.Resolve(ctx, "key-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if limit, _ := cfg.LimitFor(models.WindowHour); limit != 50 {
		t.Errorf("expected hour limit 50 after upsert, got %d", limit)
	}
}

func TestLimitsService_GlobalWriteInvalidatesEverything(t *testing.T) {
	svc, repos, resolver := newLimitsFixture(t)
	seedKey(t, repos, "key-2", "proj-1")
	ctx := context.Background()

	for _, keyID := range []string{"key-1", "key-2"} {
		if _, err := resolver.Resolve(ctx, keyID); err != nil {
			t.Fatalf("warming cache for %s: %v", keyID, err)
		}
	}

	if err := svc.Upsert(ctx, &models.LimitSettings{
		Scope:   models.ScopeGlobal,
		PerHour: i64(25),
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	for _, keyID := range []string{"key-1", "key-2"} {
		cfg, err := resolver.Resolve(ctx, keyID)
		if err != nil {
			t.Fatalf("Resolve %s failed: %v", keyID, err)
		}
		if limit, _ := cfg.LimitFor(models.WindowHour); limit != 25 {
			t.Errorf("%s: expected hour limit 25 after global write, got %d", keyID, limit)
		}
	}
}

func TestLimitsService_Validation(t *testing.T) {
	svc, _, _ := newLimitsFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		settings *models.LimitSettings
	}{
		{"project scope without project_id", &models.LimitSettings{Scope: models.ScopeProject}},
		{"key scope without key_id", &models.LimitSettings{Scope: models.ScopeKey, ProjectID: "proj-1"}},
		{"unknown scope", &models.LimitSettings{Scope: "tenant"}},
		{"negative limit", &models.LimitSettings{Scope: models.ScopeGlobal, PerHour: i64(-1)}},
		{"warn percent zero", &models.LimitSettings{Scope: models.ScopeGlobal, WarnPercent: iptr(0)}},
		{"warn percent above 100", &models.LimitSettings{Scope: models.ScopeGlobal, WarnPercent: iptr(101)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := svc.Upsert(ctx, tt.settings); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLimitsService_GlobalScopeClearsTargetIDs(t *testing.T) {
	svc, repos, _ := newLimitsFixture(t)
	ctx := context.Background()

	if err := svc.Upsert(ctx, &models.LimitSettings{
		Scope:     models.ScopeGlobal,
		ProjectID: "stray",
		KeyID:     "stray",
		PerDay:    i64(100),
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	row, err := repos.LimitSettings.GetGlobal(ctx)
	if err != nil {
		t.Fatalf("GetGlobal failed: %v", err)
	}
	if row == nil {
		t.Fatal("global row was not written")
	}
	if row.ProjectID != "" || row.KeyID != "" {
		t.Errorf("global row must not carry target ids, got project=%q key=%q", row.ProjectID, row.KeyID)
	}
}

func TestLimitsService_DeleteFallsBack(t *testing.T) {
	svc, _, _ := newLimitsFixture(t)
	ctx := context.Background()

	if err := svc.Upsert(ctx, &models.LimitSettings{
		Scope:     models.ScopeKey,
		ProjectID: "proj-1",
		KeyID:     "key-1",
		PerHour:   i64(5),
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := svc.Delete(ctx, models.ScopeKey, "proj-1", "key-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	cfg, err := svc.Resolve(ctx, "key-1")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if limit, _ := cfg.LimitFor(models.WindowHour); limit != 1000 {
		t.Errorf("expected fallback to env default 1000, got %d", limit)
	}

	row, err := svc.Get(ctx, models.ScopeKey, "proj-1", "key-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if row != nil {
		t.Error("deleted layer should return nil")
	}
}
