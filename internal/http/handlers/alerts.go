package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/service"
)

// AlertHandler handles alert rule endpoints.
type AlertHandler struct {
	alertSvc *service.AlertService
}

// NewAlertHandler creates a new alert handler.
func NewAlertHandler(alertSvc *service.AlertService) *AlertHandler {
	return &AlertHandler{alertSvc: alertSvc}
}

// AlertRuleResponse represents an alert rule in responses.
type AlertRuleResponse struct {
	ID               string `json:"id"`
	ProjectID        string `json:"project_id,omitempty"`
	KeyID            string `json:"key_id,omitempty"`
	Name             string `json:"name"`
	Metric           string `json:"metric"`
	Operator         string `json:"operator"`
	Threshold        int64  `json:"threshold"`
	ThresholdPercent *int   `json:"threshold_percent,omitempty"`
	CooldownSeconds  int64  `json:"cooldown_seconds"`
	LastTriggeredAt  string `json:"last_triggered_at,omitempty"`
	IsActive         bool   `json:"is_active"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

func toRuleResponse(rule *models.AlertRule) AlertRuleResponse {
	return AlertRuleResponse{
		ID:               rule.ID,
		ProjectID:        rule.ProjectID,
		KeyID:            rule.KeyID,
		Name:             rule.Name,
		Metric:           rule.Metric,
		Operator:         rule.Operator,
		Threshold:        rule.Threshold,
		ThresholdPercent: rule.ThresholdPercent,
		CooldownSeconds:  int64(rule.Cooldown / time.Second),
		LastTriggeredAt:  fmtTimePtr(rule.LastTriggeredAt),
		IsActive:         rule.IsActive,
		CreatedAt:        fmtTime(rule.CreatedAt),
		UpdatedAt:        fmtTime(rule.UpdatedAt),
	}
}

// ListAlertsOutput represents alert rule list response.
type ListAlertsOutput struct {
	Body struct {
		Rules []AlertRuleResponse `json:"rules"`
	}
}

// ListRules handles listing the project's alert rules.
func (h *AlertHandler) ListRules(ctx context.Context, input *struct{}) (*ListAlertsOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	rules, err := h.alertSvc.ListRules(ctx, claims.ProjectID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list alert rules")
	}

	out := &ListAlertsOutput{}
	for _, rule := range rules {
		out.Body.Rules = append(out.Body.Rules, toRuleResponse(rule))
	}
	return out, nil
}

// CreateAlertInput represents alert rule creation request.
type CreateAlertInput struct {
	Body struct {
		Name             string `json:"name" minLength:"1" doc:"Rule name"`
		KeyID            string `json:"key_id,omitempty" doc:"Bind the rule to one key; empty covers the whole project"`
		Metric           string `json:"metric" minLength:"1" doc:"Metric to watch, e.g. requests_per_hour"`
		Operator         string `json:"operator" enum:">,>=,<,<=,=" doc:"Comparison operator"`
		Threshold        int64  `json:"threshold,omitempty" doc:"Absolute threshold"`
		ThresholdPercent *int   `json:"threshold_percent,omitempty" doc:"Percentage of the enforced limit, overrides threshold"`
		CooldownSeconds  int64  `json:"cooldown_seconds,omitempty" doc:"Re-fire suppression window; 0 uses the service default"`
	}
}

// CreateAlertOutput represents alert rule creation response.
type CreateAlertOutput struct {
	Body AlertRuleResponse
}

// CreateRule handles alert rule creation.
func (h *AlertHandler) CreateRule(ctx context.Context, input *CreateAlertInput) (*CreateAlertOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	rule := &models.AlertRule{
		ProjectID:        claims.ProjectID,
		KeyID:            input.Body.KeyID,
		Name:             input.Body.Name,
		Metric:           input.Body.Metric,
		Operator:         input.Body.Operator,
		Threshold:        input.Body.Threshold,
		ThresholdPercent: input.Body.ThresholdPercent,
		Cooldown:         time.Duration(input.Body.CooldownSeconds) * time.Second,
		IsActive:         true,
	}
	if err := h.alertSvc.CreateRule(ctx, rule); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &CreateAlertOutput{Body: toRuleResponse(rule)}, nil
}

// GetAlertInput represents a single rule lookup.
type GetAlertInput struct {
	ID string `path:"id" doc:"Alert rule ID"`
}

// GetAlertOutput represents a single rule response.
type GetAlertOutput struct {
	Body AlertRuleResponse
}

// GetRule handles fetching one alert rule.
func (h *AlertHandler) GetRule(ctx context.Context, input *GetAlertInput) (*GetAlertOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	rule, err := h.alertSvc.GetRule(ctx, claims.ProjectID, input.ID)
	if err != nil {
		return nil, mapError(err, "failed to get alert rule")
	}
	return &GetAlertOutput{Body: toRuleResponse(rule)}, nil
}

// UpdateAlertInput represents alert rule update request.
type UpdateAlertInput struct {
	ID   string `path:"id" doc:"Alert rule ID"`
	Body struct {
		Name             string `json:"name,omitempty"`
		Metric           string `json:"metric,omitempty"`
		Operator         string `json:"operator,omitempty" enum:",>,>=,<,<=,="`
		Threshold        *int64 `json:"threshold,omitempty"`
		ThresholdPercent *int   `json:"threshold_percent,omitempty"`
		CooldownSeconds  *int64 `json:"cooldown_seconds,omitempty"`
		IsActive         *bool  `json:"is_active,omitempty"`
	}
}

// UpdateAlertOutput represents alert rule update response.
type UpdateAlertOutput struct {
	Body AlertRuleResponse
}

// UpdateRule handles alert rule updates.
func (h *AlertHandler) UpdateRule(ctx context.Context, input *UpdateAlertInput) (*UpdateAlertOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	rule, err := h.alertSvc.GetRule(ctx, claims.ProjectID, input.ID)
	if err != nil {
		return nil, mapError(err, "failed to get alert rule")
	}

	if input.Body.Name != "" {
		rule.Name = input.Body.Name
	}
	if input.Body.Metric != "" {
		rule.Metric = input.Body.Metric
	}
	if input.Body.Operator != "" {
		rule.Operator = input.Body.Operator
	}
	if input.Body.Threshold != nil {
		rule.Threshold = *input.Body.Threshold
	}
	if input.Body.ThresholdPercent != nil {
		rule.ThresholdPercent = input.Body.ThresholdPercent
	}
	if input.Body.CooldownSeconds != nil {
		rule.Cooldown = time.Duration(*input.Body.CooldownSeconds) * time.Second
	}
	if input.Body.IsActive != nil {
		rule.IsActive = *input.Body.IsActive
	}

	if err := h.alertSvc.UpdateRule(ctx, rule); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &UpdateAlertOutput{Body: toRuleResponse(rule)}, nil
}

// DeleteAlertInput represents alert rule deletion request.
type DeleteAlertInput struct {
	ID string `path:"id" doc:"Alert rule ID"`
}

// DeleteAlertOutput represents alert rule deletion response.
type DeleteAlertOutput struct {
	Body struct {
		Success bool `json:"success"`
	}
}

// DeleteRule handles alert rule deletion. Evaluation history remains.
func (h *AlertHandler) DeleteRule(ctx context.Context, input *DeleteAlertInput) (*DeleteAlertOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	if err := h.alertSvc.DeleteRule(ctx, claims.ProjectID, input.ID); err != nil {
		return nil, mapError(err, "failed to delete alert rule")
	}

	out := &DeleteAlertOutput{}
	out.Body.Success = true
	return out, nil
}

// AlertHistoryInput represents an evaluation history request.
type AlertHistoryInput struct {
	ID     string `path:"id" doc:"Alert rule ID"`
	Limit  int    `query:"limit" doc:"Page size (default 50, max 100)"`
	Offset int    `query:"offset" doc:"Page offset"`
}

// AlertHistoryEntryResponse is one recorded evaluation.
type AlertHistoryEntryResponse struct {
	ID          string `json:"id"`
	RuleID      string `json:"rule_id"`
	KeyID       string `json:"key_id,omitempty"`
	Outcome     string `json:"outcome" doc:"triggered or suppressed"`
	MetricValue int64  `json:"metric_value"`
	Threshold   int64  `json:"threshold"`
	Message     string `json:"message,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// AlertHistoryOutput represents evaluation history response.
type AlertHistoryOutput struct {
	Body struct {
		Entries []AlertHistoryEntryResponse `json:"entries"`
	}
}

// History returns recorded evaluations for one rule, newest first.
func (h *AlertHandler) History(ctx context.Context, input *AlertHistoryInput) (*AlertHistoryOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := h.alertSvc.History(ctx, claims.ProjectID, input.ID, input.Limit, input.Offset)
	if err != nil {
		return nil, mapError(err, "failed to load alert history")
	}

	out := &AlertHistoryOutput{}
	for _, entry := range entries {
		out.Body.Entries = append(out.Body.Entries, AlertHistoryEntryResponse{
			ID:          entry.ID,
			RuleID:      entry.RuleID,
			KeyID:       entry.KeyID,
			Outcome:     string(entry.Outcome),
			MetricValue: entry.MetricValue,
			Threshold:   entry.Threshold,
			Message:     entry.Message,
			CreatedAt:   fmtTime(entry.CreatedAt),
		})
	}
	return out, nil
}
