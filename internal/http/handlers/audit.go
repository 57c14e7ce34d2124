package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/service"
)

// AuditHandler serves the append-only event audit log.
type AuditHandler struct {
	auditSvc  *service.AuditService
	apiKeySvc *service.APIKeyService
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(auditSvc *service.AuditService, apiKeySvc *service.APIKeyService) *AuditHandler {
	return &AuditHandler{auditSvc: auditSvc, apiKeySvc: apiKeySvc}
}

// AuditEntryResponse is one recorded event.
type AuditEntryResponse struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"`
	KeyID         string `json:"key_id,omitempty"`
	ProjectID     string `json:"project_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Data          string `json:"data,omitempty" doc:"Event payload as JSON"`
	CreatedAt     string `json:"created_at"`
}

func toAuditResponse(e *models.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		ID:            e.ID,
		EventID:       e.EventID,
		EventType:     e.EventType,
		KeyID:         e.KeyID,
		ProjectID:     e.ProjectID,
		CorrelationID: e.CorrelationID,
		Data:          e.DataJSON,
		CreatedAt:     fmtTime(e.CreatedAt),
	}
}

// ListAuditInput represents an audit log query. Exactly one of key_id or
// event_type selects the index to walk.
type ListAuditInput struct {
	KeyID     string `query:"key_id" doc:"Filter by key"`
	EventType string `query:"event_type" doc:"Filter by event type, e.g. rate_limit.exceeded"`
	Limit     int    `query:"limit" doc:"Page size (default 50, max 100)"`
	Offset    int    `query:"offset" doc:"Page offset"`
}

// ListAuditOutput represents audit log response.
type ListAuditOutput struct {
	Body struct {
		Entries []AuditEntryResponse `json:"entries"`
	}
}

// ListAudit returns audit entries, newest first.
func (h *AuditHandler) ListAudit(ctx context.Context, input *ListAuditInput) (*ListAuditOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	limit := input.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var entries []*models.AuditEntry
	switch {
	case input.KeyID != "":
		// Only keys in the caller's project are visible.
		if _, err := h.apiKeySvc.GetKey(ctx, claims.ProjectID, input.KeyID); err != nil {
			return nil, mapError(err, "failed to get API key")
		}
		entries, err = h.auditSvc.History(ctx, input.KeyID, limit, input.Offset)
	case input.EventType != "":
		entries, err = h.auditSvc.HistoryByType(ctx, input.EventType, limit, input.Offset)
	default:
		return nil, huma.Error400BadRequest("one of key_id or event_type is required")
	}
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to load audit log")
	}

	out := &ListAuditOutput{}
	for _, e := range entries {
		// Project-scoped view: entries from other projects never leak.
		if e.ProjectID != "" && e.ProjectID != claims.ProjectID {
			continue
		}
		out.Body.Entries = append(out.Body.Entries, toAuditResponse(e))
	}
	return out, nil
}
