package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/service"
)

// LimitsHandler handles the layered limit configuration endpoints.
type LimitsHandler struct {
	limitsSvc *service.LimitsService
}

// NewLimitsHandler creates a new limits handler.
func NewLimitsHandler(limitsSvc *service.LimitsService) *LimitsHandler {
	return &LimitsHandler{limitsSvc: limitsSvc}
}

// LimitSettingsBody is the writable portion of a settings layer. Nil
// fields stay unset at this layer and resolution falls through.
type LimitSettingsBody struct {
	Scope            string   `json:"scope" enum:"global,project,key" doc:"Configuration layer"`
	ProjectID        string   `json:"project_id,omitempty" doc:"Target project (project and key scope); defaults to the caller's project"`
	KeyID            string   `json:"key_id,omitempty" doc:"Target key (key scope only)"`
	PerMinute        *int64   `json:"per_minute,omitempty"`
	PerHour          *int64   `json:"per_hour,omitempty"`
	PerDay           *int64   `json:"per_day,omitempty"`
	PerMonth         *int64   `json:"per_month,omitempty"`
	WarnPercent      *int     `json:"warn_percent,omitempty" doc:"Usage ratio (1-100) at which a warning event fires"`
	AllowedIPs       []string `json:"allowed_ips,omitempty"`
	AllowedMethods   []string `json:"allowed_methods,omitempty"`
	AllowedTimeStart *string  `json:"allowed_time_start,omitempty" doc:"Daily window start, HH:MM"`
	AllowedTimeEnd   *string  `json:"allowed_time_end,omitempty" doc:"Daily window end, HH:MM"`
}

// LimitSettingsResponse represents one settings layer in responses.
type LimitSettingsResponse struct {
	LimitSettingsBody
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toSettingsResponse(s *models.LimitSettings) LimitSettingsResponse {
	return LimitSettingsResponse{
		LimitSettingsBody: LimitSettingsBody{
			Scope:            string(s.Scope),
			ProjectID:        s.ProjectID,
			KeyID:            s.KeyID,
			PerMinute:        s.PerMinute,
			PerHour:          s.PerHour,
			PerDay:           s.PerDay,
			PerMonth:         s.PerMonth,
			WarnPercent:      s.WarnPercent,
			AllowedIPs:       s.AllowedIPs,
			AllowedMethods:   s.AllowedMethods,
			AllowedTimeStart: s.AllowedTimeStart,
			AllowedTimeEnd:   s.AllowedTimeEnd,
		},
		ID:        s.ID,
		CreatedAt: fmtTime(s.CreatedAt),
		UpdatedAt: fmtTime(s.UpdatedAt),
	}
}

// UpsertLimitsInput represents a settings write.
type UpsertLimitsInput struct {
	Body LimitSettingsBody
}

// UpsertLimitsOutput represents a settings write response.
type UpsertLimitsOutput struct {
	Body LimitSettingsResponse
}

// UpsertLimits replaces one settings layer. The whole row is written:
// fields omitted from the request become unset at this layer.
func (h *LimitsHandler) UpsertLimits(ctx context.Context, input *UpsertLimitsInput) (*UpsertLimitsOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	settings := &models.LimitSettings{
		Scope:            models.ConfigScope(input.Body.Scope),
		ProjectID:        input.Body.ProjectID,
		KeyID:            input.Body.KeyID,
		PerMinute:        input.Body.PerMinute,
		PerHour:          input.Body.PerHour,
		PerDay:           input.Body.PerDay,
		PerMonth:         input.Body.PerMonth,
		WarnPercent:      input.Body.WarnPercent,
		AllowedIPs:       input.Body.AllowedIPs,
		AllowedMethods:   input.Body.AllowedMethods,
		AllowedTimeStart: input.Body.AllowedTimeStart,
		AllowedTimeEnd:   input.Body.AllowedTimeEnd,
	}
	if settings.Scope != models.ScopeGlobal && settings.ProjectID == "" {
		settings.ProjectID = claims.ProjectID
	}

	if err := h.limitsSvc.Upsert(ctx, settings); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &UpsertLimitsOutput{Body: toSettingsResponse(settings)}, nil
}

// GetLimitsInput represents a settings lookup.
type GetLimitsInput struct {
	Scope     string `query:"scope" enum:"global,project,key" doc:"Configuration layer"`
	ProjectID string `query:"project_id" doc:"Target project; defaults to the caller's project"`
	KeyID     string `query:"key_id" doc:"Target key (key scope)"`
}

// GetLimitsOutput represents a settings lookup response.
type GetLimitsOutput struct {
	Body struct {
		Settings *LimitSettingsResponse `json:"settings" doc:"Null when nothing is set at this layer"`
	}
}

// GetLimits returns one settings layer, or null when the layer is unset.
func (h *LimitsHandler) GetLimits(ctx context.Context, input *GetLimitsInput) (*GetLimitsOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	scope := models.ConfigScope(input.Scope)
	projectID := input.ProjectID
	if scope != models.ScopeGlobal && projectID == "" {
		projectID = claims.ProjectID
	}

	settings, err := h.limitsSvc.Get(ctx, scope, projectID, input.KeyID)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	out := &GetLimitsOutput{}
	if settings != nil {
		resp := toSettingsResponse(settings)
		out.Body.Settings = &resp
	}
	return out, nil
}

// DeleteLimitsInput represents a settings layer removal.
type DeleteLimitsInput struct {
	Scope     string `query:"scope" enum:"global,project,key" doc:"Configuration layer"`
	ProjectID string `query:"project_id" doc:"Target project; defaults to the caller's project"`
	KeyID     string `query:"key_id" doc:"Target key (key scope)"`
}

// DeleteLimitsOutput represents a settings removal response.
type DeleteLimitsOutput struct {
	Body struct {
		Success bool `json:"success"`
	}
}

// DeleteLimits removes one settings layer; resolution falls back to the
// next layer immediately.
func (h *LimitsHandler) DeleteLimits(ctx context.Context, input *DeleteLimitsInput) (*DeleteLimitsOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	scope := models.ConfigScope(input.Scope)
	projectID := input.ProjectID
	if scope != models.ScopeGlobal && projectID == "" {
		projectID = claims.ProjectID
	}

	if err := h.limitsSvc.Delete(ctx, scope, projectID, input.KeyID); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	out := &DeleteLimitsOutput{}
	out.Body.Success = true
	return out, nil
}
