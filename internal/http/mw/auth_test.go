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

	"github.com/akmhq/akm-api/internal/crypto"
	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
	"github.com/akmhq/akm-api/internal/service"
)

// ========================================
// Stub repositories
// ========================================

type stubKeyRepo struct {
	mu   sync.Mutex
	keys map[string]*models.APIKey
}

func (r *stubKeyRepo) Create(ctx context.Context, key *models.APIKey) error { return nil }

func (r *stubKeyRepo) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.keys[id], nil
}

func (r *stubKeyRepo) GetByKeyHash(ctx context.Context, hash string) (*models.APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if k.KeyHash == hash {
			return k, nil
		}
	}
	return nil, nil
}

func (r *stubKeyRepo) GetByProjectID(ctx context.Context, projectID string) ([]*models.APIKey, error) {
	return nil, nil
}

func (r *stubKeyRepo) UpdateLastUsed(ctx context.Context, id string, lastUsed time.Time) error {
	return nil
}

func (r *stubKeyRepo) Update(ctx context.Context, key *models.APIKey) error { return nil }
func (r *stubKeyRepo) Revoke(ctx context.Context, id string) error          { return nil }

func (r *stubKeyRepo) GetExpiringSoon(ctx context.Context, within time.Duration) ([]*models.APIKey, error) {
	return nil, nil
}

// seedStubKey stores an active key and returns its plaintext.
func seedStubKey(t *testing.T, repo *stubKeyRepo, id, projectID string, scopes []string) string {
	t.Helper()
	plaintext, prefix, err := crypto.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	repo.keys[id] = &models.APIKey{
		ID:        id,
		ProjectID: projectID,
		KeyHash:   crypto.HashKey(plaintext),
		KeyPrefix: prefix,
		Scopes:    scopes,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	return plaintext
}

func newAuthMiddleware(t *testing.T) (func(http.Handler) http.Handler, *stubKeyRepo) {
	t.Helper()
	keys := &stubKeyRepo{keys: make(map[string]*models.APIKey)}
	repos := &repository.Repositories{APIKey: keys}
	svc := service.NewAuthService(repos, slog.Default())
	return Auth(svc, slog.Default()), keys
}

// ========================================
// Auth middleware tests
// ========================================

func TestAuth_ValidKey(t *testing.T) {
	authMW, keys := newAuthMiddleware(t)
	plaintext := seedStubKey(t, keys, "key-1", "proj-1", []string{"keys:read"})

	var got *service.KeyClaims
	handler := authMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = GetKeyClaims(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got == nil || got.KeyID != "key-1" || got.ProjectID != "proj-1" {
		t.Errorf("claims = %+v", got)
	}
}

func TestAuth_Failures(t *testing.T) {
	tests := []struct {
		name       string
		header     func(plaintext string) string
		mutate     func(k *models.APIKey)
		wantStatus int
	}{
		{
			name:       "missing header",
			header:     func(string) string { return "" },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "not bearer",
			header:     func(p string) string { return "Basic " + p },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unknown key",
			header:     func(string) string { return "Bearer akm_does_not_exist" },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:   "revoked key",
			header: func(p string) string { return "Bearer " + p },
			mutate: func(k *models.APIKey) {
				now := time.Now().UTC()
				k.RevokedAt = &now
			},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authMW, keys := newAuthMiddleware(t)
			plaintext := seedStubKey(t, keys, "key-1", "proj-1", nil)
			if tt.mutate != nil {
				tt.mutate(keys.keys["key-1"])
			}

			handler := authMW(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not run")
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/keys", nil)
			if h := tt.header(plaintext); h != "" {
				req.Header.Set("Authorization", h)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "problem+json") {
				t.Errorf("content-type = %q", ct)
			}
		})
	}
}
