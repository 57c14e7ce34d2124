package mw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/akmhq/akm-api/internal/service"
)

// ========================================
// Scope middleware tests
// ========================================

type scopeTestOutput struct {
	Body struct {
		OK bool `json:"ok"`
	}
}

func newScopeTestRouter(t *testing.T, claims *service.KeyClaims) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	if claims != nil {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(WithKeyClaims(req.Context(), claims)))
			})
		})
	}

	cfg := huma.DefaultConfig("test", "0.0.0")
	api := humachi.New(r, cfg)
	api.UseMiddleware(HumaScopes(api))

	ProtectedGet(api, "/guarded", func(ctx context.Context, input *struct{}) (*scopeTestOutput, error) {
		out := &scopeTestOutput{}
		out.Body.OK = true
		return out, nil
	}, WithScope("keys:read"), WithOperationID("get-guarded"))

	ProtectedGet(api, "/open", func(ctx context.Context, input *struct{}) (*scopeTestOutput, error) {
		out := &scopeTestOutput{}
		out.Body.OK = true
		return out, nil
	})

	return r
}

func TestHumaScopes(t *testing.T) {
	tests := []struct {
		name       string
		claims     *service.KeyClaims
		path       string
		wantStatus int
	}{
		{
			name:       "exact scope allowed",
			claims:     &service.KeyClaims{KeyID: "key-1", Scopes: []string{"keys:read"}},
			path:       "/guarded",
			wantStatus: http.StatusOK,
		},
		{
			name:       "wildcard scope allowed",
			claims:     &service.KeyClaims{KeyID: "key-1", Scopes: []string{"*"}},
			path:       "/guarded",
			wantStatus: http.StatusOK,
		},
		{
			name:       "namespace wildcard allowed",
			claims:     &service.KeyClaims{KeyID: "key-1", Scopes: []string{"keys:*"}},
			path:       "/guarded",
			wantStatus: http.StatusOK,
		},
		{
			name:       "wrong scope forbidden",
			claims:     &service.KeyClaims{KeyID: "key-1", Scopes: []string{"webhooks:read"}},
			path:       "/guarded",
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "no claims unauthorized",
			claims:     nil,
			path:       "/guarded",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "unscoped operation passes through",
			claims:     &service.KeyClaims{KeyID: "key-1", Scopes: nil},
			path:       "/open",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newScopeTestRouter(t, tt.claims)
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}
