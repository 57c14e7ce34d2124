package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/service"
)

// SensitiveFieldHandler handles the audit masking configuration
// endpoints.
type SensitiveFieldHandler struct {
	fieldSvc *service.SensitiveFieldService
}

// NewSensitiveFieldHandler creates a new sensitive field handler.
func NewSensitiveFieldHandler(fieldSvc *service.SensitiveFieldService) *SensitiveFieldHandler {
	return &SensitiveFieldHandler{fieldSvc: fieldSvc}
}

// SensitiveFieldResponse represents a masking entry in responses.
type SensitiveFieldResponse struct {
	ID            string `json:"id"`
	ProjectID     string `json:"project_id,omitempty" doc:"Empty for service-wide entries"`
	FieldName     string `json:"field_name"`
	Strategy      string `json:"strategy,omitempty"`
	MaskShowStart *int   `json:"mask_show_start,omitempty"`
	MaskShowEnd   *int   `json:"mask_show_end,omitempty"`
	MaskChar      string `json:"mask_char,omitempty"`
	Replacement   string `json:"replacement,omitempty"`
	IsActive      bool   `json:"is_active"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func toFieldResponse(f *models.SensitiveField) SensitiveFieldResponse {
	return SensitiveFieldResponse{
		ID:            f.ID,
		ProjectID:     f.ProjectID,
		FieldName:     f.FieldName,
		Strategy:      f.Strategy,
		MaskShowStart: f.MaskShowStart,
		MaskShowEnd:   f.MaskShowEnd,
		MaskChar:      f.MaskChar,
		Replacement:   f.Replacement,
		IsActive:      f.IsActive,
		CreatedAt:     fmtTime(f.CreatedAt),
		UpdatedAt:     fmtTime(f.UpdatedAt),
	}
}

// ListSensitiveFieldsOutput represents the entry list response.
type ListSensitiveFieldsOutput struct {
	Body struct {
		Fields []SensitiveFieldResponse `json:"fields"`
	}
}

// ListFields returns the service-wide entries plus the caller's project
// entries.
func (h *SensitiveFieldHandler) ListFields(ctx context.Context, input *struct{}) (*ListSensitiveFieldsOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	fields, err := h.fieldSvc.ListFields(ctx, claims.ProjectID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list sensitive fields")
	}

	out := &ListSensitiveFieldsOutput{}
	for _, f := range fields {
		out.Body.Fields = append(out.Body.Fields, toFieldResponse(f))
	}
	return out, nil
}

// CreateSensitiveFieldInput represents an entry creation request.
type CreateSensitiveFieldInput struct {
	Body struct {
		Scope         string `json:"scope,omitempty" enum:"global,project" doc:"Entry visibility; defaults to project"`
		FieldName     string `json:"field_name" minLength:"1" doc:"Payload key to mask; matched case-insensitively and by substring"`
		Strategy      string `json:"strategy,omitempty" enum:"redact,mask" doc:"Empty inherits the service default"`
		MaskShowStart *int   `json:"mask_show_start,omitempty" doc:"Leading characters kept visible (mask strategy)"`
		MaskShowEnd   *int   `json:"mask_show_end,omitempty" doc:"Trailing characters kept visible (mask strategy)"`
		MaskChar      string `json:"mask_char,omitempty" maxLength:"1"`
		Replacement   string `json:"replacement,omitempty" doc:"Redaction text; empty uses the service default"`
	}
}

// CreateSensitiveFieldOutput represents an entry creation response.
type CreateSensitiveFieldOutput struct {
	Body SensitiveFieldResponse
}

// CreateField registers a payload key for masking.
func (h *SensitiveFieldHandler) CreateField(ctx context.Context, input *CreateSensitiveFieldInput) (*CreateSensitiveFieldOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	field := &models.SensitiveField{
		FieldName:     input.Body.FieldName,
		Strategy:      input.Body.Strategy,
		MaskShowStart: input.Body.MaskShowStart,
		MaskShowEnd:   input.Body.MaskShowEnd,
		MaskChar:      input.Body.MaskChar,
		Replacement:   input.Body.Replacement,
		IsActive:      true,
	}
	if input.Body.Scope != "global" {
		field.ProjectID = claims.ProjectID
	}

	if err := h.fieldSvc.CreateField(ctx, field); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &CreateSensitiveFieldOutput{Body: toFieldResponse(field)}, nil
}

// GetSensitiveFieldInput represents a single entry lookup.
type GetSensitiveFieldInput struct {
	ID string `path:"id" doc:"Sensitive field ID"`
}

// GetSensitiveFieldOutput represents a single entry response.
type GetSensitiveFieldOutput struct {
	Body SensitiveFieldResponse
}

// GetField fetches one masking entry.
func (h *SensitiveFieldHandler) GetField(ctx context.Context, input *GetSensitiveFieldInput) (*GetSensitiveFieldOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	field, err := h.fieldSvc.GetField(ctx, claims.ProjectID, input.ID)
	if err != nil {
		return nil, mapError(err, "failed to get sensitive field")
	}
	return &GetSensitiveFieldOutput{Body: toFieldResponse(field)}, nil
}

// UpdateSensitiveFieldInput represents an entry update request.
type UpdateSensitiveFieldInput struct {
	ID   string `path:"id" doc:"Sensitive field ID"`
	Body struct {
		FieldName     string `json:"field_name" minLength:"1"`
		Strategy      string `json:"strategy,omitempty" enum:"redact,mask"`
		MaskShowStart *int   `json:"mask_show_start,omitempty"`
		MaskShowEnd   *int   `json:"mask_show_end,omitempty"`
		MaskChar      string `json:"mask_char,omitempty" maxLength:"1"`
		Replacement   string `json:"replacement,omitempty"`
		IsActive      *bool  `json:"is_active,omitempty" doc:"Defaults to true"`
	}
}

// UpdateSensitiveFieldOutput represents an entry update response.
type UpdateSensitiveFieldOutput struct {
	Body SensitiveFieldResponse
}

// UpdateField rewrites a masking entry.
func (h *SensitiveFieldHandler) UpdateField(ctx context.Context, input *UpdateSensitiveFieldInput) (*UpdateSensitiveFieldOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	field := &models.SensitiveField{
		ID:            input.ID,
		FieldName:     input.Body.FieldName,
		Strategy:      input.Body.Strategy,
		MaskShowStart: input.Body.MaskShowStart,
		MaskShowEnd:   input.Body.MaskShowEnd,
		MaskChar:      input.Body.MaskChar,
		Replacement:   input.Body.Replacement,
		IsActive:      true,
	}
	if input.Body.IsActive != nil {
		field.IsActive = *input.Body.IsActive
	}

	if err := h.fieldSvc.UpdateField(ctx, claims.ProjectID, field); err != nil {
		return nil, mapError(err, "failed to update sensitive field")
	}
	return &UpdateSensitiveFieldOutput{Body: toFieldResponse(field)}, nil
}

// DeleteSensitiveFieldInput represents an entry removal request.
type DeleteSensitiveFieldInput struct {
	ID string `path:"id" doc:"Sensitive field ID"`
}

// DeleteSensitiveFieldOutput represents an entry removal response.
type DeleteSensitiveFieldOutput struct {
	Body struct {
		Success bool `json:"success"`
	}
}

// DeleteField removes a masking entry.
func (h *SensitiveFieldHandler) DeleteField(ctx context.Context, input *DeleteSensitiveFieldInput) (*DeleteSensitiveFieldOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	if err := h.fieldSvc.DeleteField(ctx, claims.ProjectID, input.ID); err != nil {
		return nil, mapError(err, "failed to delete sensitive field")
	}

	out := &DeleteSensitiveFieldOutput{}
	out.Body.Success = true
	return out, nil
}
