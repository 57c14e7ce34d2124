package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/akmhq/akm-api/internal/crypto"
	"github.com/akmhq/akm-api/internal/events"
	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
	"github.com/akmhq/akm-api/internal/scopes"
)

// APIKeyService handles API key lifecycle: minting, lookup, revocation,
// expiry notifications.
type APIKeyService struct {
	repos  *repository.Repositories
	bus    *events.Bus
	logger *slog.Logger
}

// NewAPIKeyService creates a new API key service.
func NewAPIKeyService(repos *repository.Repositories, bus *events.Bus, logger *slog.Logger) *APIKeyService {
	return &APIKeyService{
		repos:  repos,
		bus:    bus,
		logger: logger.With("component", "apikeys"),
	}
}

// CreateKeyInput represents input for creating an API key.
type CreateKeyInput struct {
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// CreateKeyOutput represents output from creating an API key. Key holds
// the plaintext credential and is populated only here; afterwards only
// the hash exists.
type CreateKeyOutput struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	KeyPrefix string     `json:"key_prefix"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// CreateKey mints a new API key for a project.
func (s *APIKeyService) CreateKey(ctx context.Context, projectID string, input CreateKeyInput) (*CreateKeyOutput, error) {
	project, err := s.repos.Project.GetByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if project == nil {
		return nil, ErrProjectNotFound
	}

	for _, scope := range input.Scopes {
		if !scopes.Valid(scope) {
			return nil, fmt.Errorf("invalid scope %q", scope)
		}
	}
	keyScopes := input.Scopes
	if len(keyScopes) == 0 {
		keyScopes = []string{scopes.Wildcard}
	}

	plaintext, prefix, err := crypto.GenerateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	apiKey := &models.APIKey{
		ProjectID: projectID,
		Name:      input.Name,
		KeyHash:   crypto.HashKey(plaintext),
		KeyPrefix: prefix,
		Scopes:    keyScopes,
		IsActive:  true,
		ExpiresAt: input.ExpiresAt,
	}
	if err := s.repos.APIKey.Create(ctx, apiKey); err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	s.logger.Info("api key created",
		"key_id", apiKey.ID,
		"project_id", projectID,
		"key_prefix", prefix)

	s.bus.Publish(models.Event{
		Type:      models.EventKeyCreated,
		KeyID:     apiKey.ID,
		ProjectID: projectID,
		Data: map[string]any{
			"name":       input.Name,
			"key_prefix": prefix,
		},
	})

	return &CreateKeyOutput{
		ID:        apiKey.ID,
		ProjectID: projectID,
		Name:      apiKey.Name,
		Key:       plaintext,
		KeyPrefix: prefix,
		Scopes:    keyScopes,
		ExpiresAt: input.ExpiresAt,
		CreatedAt: apiKey.CreatedAt,
	}, nil
}

// GetKey returns one key's metadata (never the credential).
func (s *APIKeyService) GetKey(ctx context.Context, projectID, keyID string) (*models.APIKey, error) {
	key, err := s.repos.APIKey.GetByID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key == nil || key.ProjectID != projectID {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// ListKeys lists a project's API keys.
func (s *APIKeyService) ListKeys(ctx context.Context, projectID string) ([]*models.APIKey, error) {
	return s.repos.APIKey.GetByProjectID(ctx, projectID)
}

// RevokeKey revokes an API key and publishes key.revoked.
func (s *APIKeyService) RevokeKey(ctx context.Context, projectID, keyID string) error {
	key, err := s.GetKey(ctx, projectID, keyID)
	if err != nil {
		return err
	}
	if key.RevokedAt != nil {
		return ErrKeyRevoked
	}

	if err := s.repos.APIKey.Revoke(ctx, keyID); err != nil {
		return err
	}

	s.logger.Info("api key revoked", "key_id", keyID, "project_id", projectID)
	s.bus.Publish(models.Event{
		Type:      models.EventKeyRevoked,
		KeyID:     keyID,
		ProjectID: projectID,
		Data:      map[string]any{"key_prefix": key.KeyPrefix},
	})
	return nil
}

// NotifyExpiring publishes key.expiring for active keys whose expiry
// falls within the horizon.
func (s *APIKeyService) NotifyExpiring(ctx context.Context, within time.Duration) (int, error) {
	keys, err := s.repos.APIKey.GetExpiringSoon(ctx, within)
	if err != nil {
		return 0, err
	}

	for _, key := range keys {
		s.bus.Publish(models.Event{
			Type:      models.EventKeyExpiring,
			KeyID:     key.ID,
			ProjectID: key.ProjectID,
			Data: map[string]any{
				"key_prefix": key.KeyPrefix,
				"expires_at": key.ExpiresAt.Format(time.RFC3339),
			},
		})
	}
	return len(keys), nil
}
