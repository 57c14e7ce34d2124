package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/service"
)

// APIKeyHandler handles API key endpoints.
type APIKeyHandler struct {
	apiKeySvc *service.APIKeyService
	usageSvc  *service.UsageService
	limitsSvc *service.LimitsService
}

// NewAPIKeyHandler creates a new API key handler.
func NewAPIKeyHandler(apiKeySvc *service.APIKeyService, usageSvc *service.UsageService, limitsSvc *service.LimitsService) *APIKeyHandler {
	return &APIKeyHandler{
		apiKeySvc: apiKeySvc,
		usageSvc:  usageSvc,
		limitsSvc: limitsSvc,
	}
}

// APIKeyResponse represents an API key in responses. The plaintext key is
// never part of it; only creation returns that, once.
type APIKeyResponse struct {
	ID         string   `json:"id"`
	ProjectID  string   `json:"project_id"`
	Name       string   `json:"name"`
	KeyPrefix  string   `json:"key_prefix"`
	Scopes     []string `json:"scopes"`
	IsActive   bool     `json:"is_active"`
	LastUsedAt string   `json:"last_used_at,omitempty"`
	ExpiresAt  string   `json:"expires_at,omitempty"`
	CreatedAt  string   `json:"created_at"`
	RevokedAt  string   `json:"revoked_at,omitempty"`
}

func toKeyResponse(key *models.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:         key.ID,
		ProjectID:  key.ProjectID,
		Name:       key.Name,
		KeyPrefix:  key.KeyPrefix,
		Scopes:     key.Scopes,
		IsActive:   key.IsActive,
		LastUsedAt: fmtTimePtr(key.LastUsedAt),
		ExpiresAt:  fmtTimePtr(key.ExpiresAt),
		CreatedAt:  fmtTime(key.CreatedAt),
		RevokedAt:  fmtTimePtr(key.RevokedAt),
	}
}

// ListKeysOutput represents API key list response.
type ListKeysOutput struct {
	Body struct {
		Keys []APIKeyResponse `json:"keys"`
	}
}

// ListKeys handles listing the project's API keys.
func (h *APIKeyHandler) ListKeys(ctx context.Context, input *struct{}) (*ListKeysOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	keys, err := h.apiKeySvc.ListKeys(ctx, claims.ProjectID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list API keys")
	}

	out := &ListKeysOutput{}
	for _, key := range keys {
		out.Body.Keys = append(out.Body.Keys, toKeyResponse(key))
	}
	return out, nil
}

// CreateKeyInput represents API key creation request.
type CreateKeyInput struct {
	Body struct {
		Name      string   `json:"name" minLength:"1" doc:"Descriptive name for the key"`
		Scopes    []string `json:"scopes,omitempty" doc:"Permission scopes, e.g. keys:read; defaults to *"`
		ExpiresAt string   `json:"expires_at,omitempty" doc:"Expiration date (RFC3339)"`
	}
}

// CreateKeyOutput represents API key creation response.
type CreateKeyOutput struct {
	Body struct {
		ID        string   `json:"id"`
		ProjectID string   `json:"project_id"`
		Name      string   `json:"name"`
		Key       string   `json:"key" doc:"Full API key - only shown once!"`
		KeyPrefix string   `json:"key_prefix"`
		Scopes    []string `json:"scopes"`
		ExpiresAt string   `json:"expires_at,omitempty"`
		CreatedAt string   `json:"created_at"`
	}
}

// CreateKey handles API key creation.
func (h *APIKeyHandler) CreateKey(ctx context.Context, input *CreateKeyInput) (*CreateKeyOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if input.Body.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, input.Body.ExpiresAt)
		if err != nil {
			return nil, huma.Error400BadRequest("invalid expires_at format")
		}
		expiresAt = &t
	}

	result, err := h.apiKeySvc.CreateKey(ctx, claims.ProjectID, service.CreateKeyInput{
		Name:      input.Body.Name,
		Scopes:    input.Body.Scopes,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return nil, mapError(err, "failed to create API key")
	}

	out := &CreateKeyOutput{}
	out.Body.ID = result.ID
	out.Body.ProjectID = result.ProjectID
	out.Body.Name = result.Name
	out.Body.Key = result.Key
	out.Body.KeyPrefix = result.KeyPrefix
	out.Body.Scopes = result.Scopes
	out.Body.ExpiresAt = fmtTimePtr(result.ExpiresAt)
	out.Body.CreatedAt = fmtTime(result.CreatedAt)
	return out, nil
}

// GetKeyInput represents a single key lookup.
type GetKeyInput struct {
	ID string `path:"id" doc:"API key ID"`
}

// GetKeyOutput represents a single key response.
type GetKeyOutput struct {
	Body APIKeyResponse
}

// GetKey handles fetching one API key.
func (h *APIKeyHandler) GetKey(ctx context.Context, input *GetKeyInput) (*GetKeyOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	key, err := h.apiKeySvc.GetKey(ctx, claims.ProjectID, input.ID)
	if err != nil {
		return nil, mapError(err, "failed to get API key")
	}

	return &GetKeyOutput{Body: toKeyResponse(key)}, nil
}

// RevokeKeyInput represents API key revocation request.
type RevokeKeyInput struct {
	ID string `path:"id" doc:"API key ID to revoke"`
}

// RevokeKeyOutput represents API key revocation response.
type RevokeKeyOutput struct {
	Body struct {
		Success bool `json:"success"`
	}
}

// RevokeKey handles API key revocation.
func (h *APIKeyHandler) RevokeKey(ctx context.Context, input *RevokeKeyInput) (*RevokeKeyOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	if err := h.apiKeySvc.RevokeKey(ctx, claims.ProjectID, input.ID); err != nil {
		return nil, mapError(err, "failed to revoke API key")
	}

	out := &RevokeKeyOutput{}
	out.Body.Success = true
	return out, nil
}

// KeyUsageInput represents a usage stats request.
type KeyUsageInput struct {
	ID   string `path:"id" doc:"API key ID"`
	Days int    `query:"days" doc:"Days of history to aggregate (default 7)"`
}

// KeyUsageOutput represents aggregated usage statistics.
type KeyUsageOutput struct {
	Body service.UsageStats
}

// GetUsage returns aggregated traffic statistics for one key.
func (h *APIKeyHandler) GetUsage(ctx context.Context, input *KeyUsageInput) (*KeyUsageOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := h.apiKeySvc.GetKey(ctx, claims.ProjectID, input.ID); err != nil {
		return nil, mapError(err, "failed to get API key")
	}

	stats, err := h.usageSvc.GetUsageStats(ctx, input.ID, input.Days)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load usage stats")
	}
	return &KeyUsageOutput{Body: *stats}, nil
}

// KeyCountersInput represents a live counter request.
type KeyCountersInput struct {
	ID string `path:"id" doc:"API key ID"`
}

// CounterResponse is one live window counter.
type CounterResponse struct {
	Window      string `json:"window"`
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
	Count       int64  `json:"count"`
	Warned      bool   `json:"warned"`
}

// KeyCountersOutput represents the current window counters for a key.
type KeyCountersOutput struct {
	Body struct {
		KeyID    string            `json:"key_id"`
		Counters []CounterResponse `json:"counters"`
	}
}

// GetCounters returns the live consumption counters for the key's current
// windows.
func (h *APIKeyHandler) GetCounters(ctx context.Context, input *KeyCountersInput) (*KeyCountersOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := h.apiKeySvc.GetKey(ctx, claims.ProjectID, input.ID); err != nil {
		return nil, mapError(err, "failed to get API key")
	}

	counters, err := h.usageSvc.GetCounters(ctx, input.ID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load counters")
	}

	out := &KeyCountersOutput{}
	out.Body.KeyID = input.ID
	for _, c := range counters {
		out.Body.Counters = append(out.Body.Counters, CounterResponse{
			Window:      string(c.Window),
			WindowStart: fmtTime(c.WindowStart),
			WindowEnd:   fmtTime(c.WindowEnd),
			Count:       c.Count,
			Warned:      c.Warned,
		})
	}
	return out, nil
}

// EffectiveLimitsInput represents an effective config lookup.
type EffectiveLimitsInput struct {
	ID string `path:"id" doc:"API key ID"`
}

// EffectiveLimitsOutput is the fully merged configuration for a key.
type EffectiveLimitsOutput struct {
	Body struct {
		KeyID            string           `json:"key_id"`
		ProjectID        string           `json:"project_id"`
		Limits           map[string]int64 `json:"limits" doc:"Enforced limits per window; absent windows are unlimited"`
		WarnPercent      int              `json:"warn_percent"`
		AllowedIPs       []string         `json:"allowed_ips,omitempty"`
		AllowedMethods   []string         `json:"allowed_methods,omitempty"`
		AllowedTimeStart string           `json:"allowed_time_start,omitempty"`
		AllowedTimeEnd   string           `json:"allowed_time_end,omitempty"`
	}
}

// GetEffectiveLimits returns the merged key > project > global limit
// configuration currently enforced for a key.
func (h *APIKeyHandler) GetEffectiveLimits(ctx context.Context, input *EffectiveLimitsInput) (*EffectiveLimitsOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := h.apiKeySvc.GetKey(ctx, claims.ProjectID, input.ID); err != nil {
		return nil, mapError(err, "failed to get API key")
	}

	cfg, err := h.limitsSvc.Resolve(ctx, input.ID)
	if err != nil {
		return nil, mapError(err, "failed to resolve limits")
	}

	out := &EffectiveLimitsOutput{}
	out.Body.KeyID = cfg.KeyID
	out.Body.ProjectID = cfg.ProjectID
	out.Body.Limits = make(map[string]int64, len(cfg.Limits))
	for window, limit := range cfg.Limits {
		out.Body.Limits[string(window)] = limit
	}
	out.Body.WarnPercent = cfg.WarnPercent
	out.Body.AllowedIPs = cfg.AllowedIPs
	out.Body.AllowedMethods = cfg.AllowedMethods
	out.Body.AllowedTimeStart = cfg.AllowedTimeStart
	out.Body.AllowedTimeEnd = cfg.AllowedTimeEnd
	return out, nil
}
