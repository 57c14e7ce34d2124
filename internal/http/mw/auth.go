// Package mw contains HTTP middleware for the akm-api.
package mw

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/akmhq/akm-api/internal/logging"
	"github.com/akmhq/akm-api/internal/service"
)

type contextKey string

const claimsContextKey contextKey = "key_claims"

// Auth returns middleware that authenticates requests with a Bearer API
// key. Validated claims are stored in the request context; the key ID is
// also attached to the logging context so downstream log lines carry it.
func Auth(authSvc *service.AuthService, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
				return
			}

			claims, err := authSvc.ValidateKey(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, service.ErrKeyRevoked):
					writeError(w, http.StatusUnauthorized, "API key has been revoked")
				case errors.Is(err, service.ErrKeyExpired):
					writeError(w, http.StatusUnauthorized, "API key has expired")
				case errors.Is(err, service.ErrKeyNotFound):
					writeError(w, http.StatusUnauthorized, "invalid API key")
				default:
					logger.Error("key validation failed", "error", err)
					writeError(w, http.StatusServiceUnavailable, "authentication unavailable")
				}
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			ctx = logging.WithKeyID(ctx, claims.KeyID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetKeyClaims extracts the authenticated key's claims from the context.
func GetKeyClaims(ctx context.Context) (*service.KeyClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*service.KeyClaims)
	return claims, ok
}

// WithKeyClaims returns a context carrying the given claims. Used by tests
// and by handlers that fan work out to background contexts.
func WithKeyClaims(ctx context.Context, claims *service.KeyClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// writeError emits an RFC 7807 style problem document, matching the error
// shape the API layer produces.
func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
