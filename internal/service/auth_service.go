package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/akmhq/akm-api/internal/crypto"
	"github.com/akmhq/akm-api/internal/repository"
)

// AuthService validates presented API keys for the HTTP layer. Keys are
// looked up by their SHA-256 hash; the plaintext is never stored.
type AuthService struct {
	repos  *repository.Repositories
	logger *slog.Logger

	now func() time.Time
}

// NewAuthService creates a new auth service.
func NewAuthService(repos *repository.Repositories, logger *slog.Logger) *AuthService {
	return &AuthService{
		repos:  repos,
		logger: logger,
		now:    time.Now,
	}
}

// KeyClaims is what a validated API key grants a request.
type KeyClaims struct {
	KeyID     string
	ProjectID string
	Scopes    []string
}

// ValidateKey resolves a presented plaintext key to its claims. Revoked,
// expired and deactivated keys are rejected. The key's last_used_at is
// updated best-effort; a failure there does not fail the request.
func (s *AuthService) ValidateKey(ctx context.Context, plaintext string) (*KeyClaims, error) {
	if !strings.HasPrefix(plaintext, crypto.KeyPrefix) {
		return nil, ErrKeyNotFound
	}

	key, err := s.repos.APIKey.GetByKeyHash(ctx, crypto.HashKey(plaintext))
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, ErrKeyNotFound
	}
	if key.RevokedAt != nil {
		return nil, ErrKeyRevoked
	}
	if key.ExpiresAt != nil && !key.ExpiresAt.After(s.now()) {
		return nil, ErrKeyExpired
	}
	if !key.IsActive {
		return nil, ErrKeyNotFound
	}

	if err := s.repos.APIKey.UpdateLastUsed(ctx, key.ID, s.now().UTC()); err != nil {
		s.logger.Warn("failed to update key last_used_at", "key_id", key.ID, "error", err)
	}

	return &KeyClaims{
		KeyID:     key.ID,
		ProjectID: key.ProjectID,
		Scopes:    key.Scopes,
	}, nil
}
