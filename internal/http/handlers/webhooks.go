package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/service"
)

// WebhookHandler handles webhook endpoint management and delivery history.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// WebhookHeader is a custom HTTP header attached to deliveries.
type WebhookHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// WebhookResponse represents a webhook in responses. The signing secret
// is never returned; HasSecret confirms one is stored.
type WebhookResponse struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"project_id"`
	KeyID          string          `json:"key_id,omitempty"`
	Name           string          `json:"name"`
	URL            string          `json:"url"`
	Events         []string        `json:"events"`
	Headers        []WebhookHeader `json:"headers,omitempty"`
	TimeoutSeconds int             `json:"timeout_seconds"`
	MaxRetries     int             `json:"max_retries"`
	IsActive       bool            `json:"is_active"`
	HasSecret      bool            `json:"has_secret"`
	CreatedAt      string          `json:"created_at"`
	UpdatedAt      string          `json:"updated_at"`
}

func toWebhookResponse(w *models.Webhook) WebhookResponse {
	resp := WebhookResponse{
		ID:             w.ID,
		ProjectID:      w.ProjectID,
		KeyID:          w.KeyID,
		Name:           w.Name,
		URL:            w.URL,
		Events:         w.Events,
		TimeoutSeconds: w.TimeoutSeconds,
		MaxRetries:     w.MaxRetries,
		IsActive:       w.IsActive,
		HasSecret:      w.SecretEncrypted != "",
		CreatedAt:      fmtTime(w.CreatedAt),
		UpdatedAt:      fmtTime(w.UpdatedAt),
	}
	for _, h := range w.Headers {
		resp.Headers = append(resp.Headers, WebhookHeader{Name: h.Name, Value: h.Value})
	}
	return resp
}

// ListWebhooksOutput represents webhook list response.
type ListWebhooksOutput struct {
	Body struct {
		Webhooks []WebhookResponse `json:"webhooks"`
	}
}

// ListWebhooks handles listing the project's webhooks.
func (h *WebhookHandler) ListWebhooks(ctx context.Context, input *struct{}) (*ListWebhooksOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	webhooks, err := h.webhookSvc.ListWebhooks(ctx, claims.ProjectID)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list webhooks")
	}

	out := &ListWebhooksOutput{}
	for _, w := range webhooks {
		out.Body.Webhooks = append(out.Body.Webhooks, toWebhookResponse(w))
	}
	return out, nil
}

// CreateWebhookInput represents webhook creation request.
type CreateWebhookInput struct {
	Body struct {
		Name           string          `json:"name" minLength:"1" doc:"Unique name within the project"`
		URL            string          `json:"url" format:"uri" doc:"Delivery endpoint"`
		KeyID          string          `json:"key_id,omitempty" doc:"Restrict to one key's events"`
		Events         []string        `json:"events,omitempty" doc:"Subscribed event types; defaults to *"`
		Headers        []WebhookHeader `json:"headers,omitempty" doc:"Extra headers sent with each delivery"`
		TimeoutSeconds int             `json:"timeout_seconds,omitempty" doc:"Per-attempt timeout"`
		MaxRetries     int             `json:"max_retries,omitempty" doc:"Retry ceiling after the first attempt"`
	}
}

// CreateWebhookOutput represents webhook creation response. Secret holds
// the signing secret and is populated only here.
type CreateWebhookOutput struct {
	Body struct {
		Webhook WebhookResponse `json:"webhook"`
		Secret  string          `json:"secret" doc:"HMAC signing secret - only shown once!"`
	}
}

// CreateWebhook handles webhook creation.
func (h *WebhookHandler) CreateWebhook(ctx context.Context, input *CreateWebhookInput) (*CreateWebhookOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	webhook := &models.Webhook{
		ProjectID:      claims.ProjectID,
		KeyID:          input.Body.KeyID,
		Name:           input.Body.Name,
		URL:            input.Body.URL,
		Events:         input.Body.Events,
		TimeoutSeconds: input.Body.TimeoutSeconds,
		MaxRetries:     input.Body.MaxRetries,
		IsActive:       true,
	}
	for _, hd := range input.Body.Headers {
		webhook.Headers = append(webhook.Headers, models.Header{Name: hd.Name, Value: hd.Value})
	}

	secret, err := h.webhookSvc.CreateWebhook(ctx, webhook)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}

	out := &CreateWebhookOutput{}
	out.Body.Webhook = toWebhookResponse(webhook)
	out.Body.Secret = secret
	return out, nil
}

// GetWebhookInput represents a single webhook lookup.
type GetWebhookInput struct {
	ID string `path:"id" doc:"Webhook ID"`
}

// GetWebhookOutput represents a single webhook response.
type GetWebhookOutput struct {
	Body WebhookResponse
}

// GetWebhook handles fetching one webhook.
func (h *WebhookHandler) GetWebhook(ctx context.Context, input *GetWebhookInput) (*GetWebhookOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	webhook, err := h.webhookSvc.GetWebhook(ctx, claims.ProjectID, input.ID)
	if err != nil {
		return nil, mapError(err, "failed to get webhook")
	}
	return &GetWebhookOutput{Body: toWebhookResponse(webhook)}, nil
}

// UpdateWebhookInput represents webhook update request.
type UpdateWebhookInput struct {
	ID   string `path:"id" doc:"Webhook ID"`
	Body struct {
		Name           string          `json:"name,omitempty"`
		URL            string          `json:"url,omitempty" format:"uri"`
		Events         []string        `json:"events,omitempty"`
		Headers        []WebhookHeader `json:"headers,omitempty"`
		TimeoutSeconds *int            `json:"timeout_seconds,omitempty"`
		MaxRetries     *int            `json:"max_retries,omitempty"`
		IsActive       *bool           `json:"is_active,omitempty" doc:"Disabling cancels armed retry timers"`
	}
}

// UpdateWebhookOutput represents webhook update response.
type UpdateWebhookOutput struct {
	Body WebhookResponse
}

// UpdateWebhook handles webhook updates.
func (h *WebhookHandler) UpdateWebhook(ctx context.Context, input *UpdateWebhookInput) (*UpdateWebhookOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	webhook, err := h.webhookSvc.GetWebhook(ctx, claims.ProjectID, input.ID)
	if err != nil {
		return nil, mapError(err, "failed to get webhook")
	}

	if input.Body.Name != "" {
		webhook.Name = input.Body.Name
	}
	if input.Body.URL != "" {
		webhook.URL = input.Body.URL
	}
	if input.Body.Events != nil {
		webhook.Events = input.Body.Events
	}
	if input.Body.Headers != nil {
		webhook.Headers = nil
		for _, hd := range input.Body.Headers {
			webhook.Headers = append(webhook.Headers, models.Header{Name: hd.Name, Value: hd.Value})
		}
	}
	if input.Body.TimeoutSeconds != nil {
		webhook.TimeoutSeconds = *input.Body.TimeoutSeconds
	}
	if input.Body.MaxRetries != nil {
		webhook.MaxRetries = *input.Body.MaxRetries
	}
	if input.Body.IsActive != nil {
		webhook.IsActive = *input.Body.IsActive
	}

	if err := h.webhookSvc.UpdateWebhook(ctx, webhook); err != nil {
		return nil, huma.Error500InternalServerError("failed to update webhook")
	}
	return &UpdateWebhookOutput{Body: toWebhookResponse(webhook)}, nil
}

// DeleteWebhookInput represents webhook deletion request.
type DeleteWebhookInput struct {
	ID string `path:"id" doc:"Webhook ID"`
}

// DeleteWebhookOutput represents webhook deletion response.
type DeleteWebhookOutput struct {
	Body struct {
		Success bool `json:"success"`
	}
}

// DeleteWebhook handles webhook deletion.
func (h *WebhookHandler) DeleteWebhook(ctx context.Context, input *DeleteWebhookInput) (*DeleteWebhookOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := h.webhookSvc.GetWebhook(ctx, claims.ProjectID, input.ID); err != nil {
		return nil, mapError(err, "failed to get webhook")
	}
	if err := h.webhookSvc.DeleteWebhook(ctx, input.ID); err != nil {
		return nil, huma.Error500InternalServerError("failed to delete webhook")
	}

	out := &DeleteWebhookOutput{}
	out.Body.Success = true
	return out, nil
}

// ListDeliveriesInput represents a delivery history request.
type ListDeliveriesInput struct {
	ID     string `path:"id" doc:"Webhook ID"`
	Limit  int    `query:"limit" doc:"Page size (default 50, max 100)"`
	Offset int    `query:"offset" doc:"Page offset"`
}

// DeliveryResponse represents one delivery record.
type DeliveryResponse struct {
	ID               string `json:"id"`
	WebhookID        string `json:"webhook_id"`
	EventID          string `json:"event_id"`
	EventType        string `json:"event_type"`
	Status           string `json:"status"`
	AttemptCount     int    `json:"attempt_count"`
	MaxRetries       int    `json:"max_retries"`
	LastAttemptAt    string `json:"last_attempt_at,omitempty"`
	LastResponseCode *int   `json:"last_response_code,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	NextRetryAt      string `json:"next_retry_at,omitempty"`
	CreatedAt        string `json:"created_at"`
	DeliveredAt      string `json:"delivered_at,omitempty"`
}

func toDeliveryResponse(d *models.WebhookDelivery) DeliveryResponse {
	return DeliveryResponse{
		ID:               d.ID,
		WebhookID:        d.WebhookID,
		EventID:          d.EventID,
		EventType:        d.EventType,
		Status:           string(d.Status),
		AttemptCount:     d.AttemptCount,
		MaxRetries:       d.MaxRetries,
		LastAttemptAt:    fmtTimePtr(d.LastAttemptAt),
		LastResponseCode: d.LastResponseCode,
		LastError:        d.LastError,
		NextRetryAt:      fmtTimePtr(d.NextRetryAt),
		CreatedAt:        fmtTime(d.CreatedAt),
		DeliveredAt:      fmtTimePtr(d.DeliveredAt),
	}
}

// ListDeliveriesOutput represents delivery history response.
type ListDeliveriesOutput struct {
	Body struct {
		Deliveries []DeliveryResponse `json:"deliveries"`
	}
}

// ListDeliveries returns the delivery history for one webhook, newest
// first.
func (h *WebhookHandler) ListDeliveries(ctx context.Context, input *ListDeliveriesInput) (*ListDeliveriesOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	deliveries, err := h.webhookSvc.ListDeliveries(ctx, claims.ProjectID, input.ID, input.Limit, input.Offset)
	if err != nil {
		return nil, mapError(err, "failed to list deliveries")
	}

	out := &ListDeliveriesOutput{}
	for _, d := range deliveries {
		out.Body.Deliveries = append(out.Body.Deliveries, toDeliveryResponse(d))
	}
	return out, nil
}

// RetryDeliveryInput represents a manual delivery retry request.
type RetryDeliveryInput struct {
	ID         string `path:"id" doc:"Webhook ID"`
	DeliveryID string `path:"delivery_id" doc:"Delivery ID to retry"`
}

// RetryDeliveryOutput represents a manual retry response.
type RetryDeliveryOutput struct {
	Body DeliveryResponse
}

// RetryDelivery re-enqueues one failed or stuck delivery.
func (h *WebhookHandler) RetryDelivery(ctx context.Context, input *RetryDeliveryInput) (*RetryDeliveryOutput, error) {
	claims, err := getClaims(ctx)
	if err != nil {
		return nil, err
	}

	delivery, err := h.webhookSvc.GetDelivery(ctx, claims.ProjectID, input.DeliveryID)
	if err != nil {
		return nil, mapError(err, "failed to get delivery")
	}
	if delivery.WebhookID != input.ID {
		return nil, huma.Error404NotFound("delivery does not belong to this webhook")
	}

	retried, err := h.webhookSvc.RetryDelivery(ctx, input.DeliveryID)
	if err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &RetryDeliveryOutput{Body: toDeliveryResponse(retried)}, nil
}
