package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/akmhq/akm-api/internal/crypto"
	"github.com/akmhq/akm-api/internal/events"
	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
)

// DeliveryQueue is the handoff to the delivery worker pool. The service
// layer only creates delivery records; the pool owns attempts and retry
// timers.
type DeliveryQueue interface {
	// Enqueue hands a delivery to the pool. Returns false when the queue
	// is full; the startup sweep will pick the record up later.
	Enqueue(delivery *models.WebhookDelivery) bool
	// CancelDelivery stops a scheduled retry timer, if one is armed.
	CancelDelivery(deliveryID string)
	// CancelWebhook stops every retry timer belonging to a webhook.
	CancelWebhook(webhookID string)
}

// WebhookService manages webhook endpoints and dispatches bus events to
// matching subscribers.
type WebhookService struct {
	webhookRepo  repository.WebhookRepository
	deliveryRepo repository.WebhookDeliveryRepository
	encryptor    *crypto.Encryptor
	bus          *events.Bus
	queue        DeliveryQueue
	logger       *slog.Logger

	unsubscribe func()
}

// NewWebhookService creates a webhook service.
func NewWebhookService(webhookRepo repository.WebhookRepository, deliveryRepo repository.WebhookDeliveryRepository, encryptor *crypto.Encryptor, bus *events.Bus, logger *slog.Logger) *WebhookService {
	return &WebhookService{
		webhookRepo:  webhookRepo,
		deliveryRepo: deliveryRepo,
		encryptor:    encryptor,
		bus:          bus,
		logger:       logger.With("component", "webhooks"),
	}
}

// SetQueue wires the delivery worker pool. Must be called before Start.
func (s *WebhookService) SetQueue(queue DeliveryQueue) {
	s.queue = queue
}

// Start subscribes the dispatcher to the bus. Stop with Stop.
func (s *WebhookService) Start() {
	s.unsubscribe = s.bus.SubscribeFunc(s.dispatch)
}

// Stop detaches the dispatcher from the bus.
func (s *WebhookService) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// dispatch fans one event out to every matching webhook. Creating the
// delivery record is idempotent per (webhook, event), so a duplicate
// publication never produces a second delivery.
func (s *WebhookService) dispatch(ev models.Event) {
	if ev.ProjectID == "" {
		return
	}

	ctx := context.Background()
	webhooks, err := s.webhookRepo.GetActiveByProjectID(ctx, ev.ProjectID)
	if err != nil {
		s.logger.Error("failed to load webhooks for event",
			"event_id", ev.ID,
			"project_id", ev.ProjectID,
			"error", err)
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("failed to marshal event payload", "event_id", ev.ID, "error", err)
		return
	}

	for _, webhook := range webhooks {
		if !matches(webhook, ev) {
			continue
		}

		delivery := &models.WebhookDelivery{
			WebhookID:   webhook.ID,
			EventID:     ev.ID,
			EventType:   ev.Type,
			URL:         webhook.URL,
			PayloadJSON: string(payload),
			Status:      models.DeliveryPending,
			MaxRetries:  webhook.MaxRetries,
		}

		created, isNew, err := s.deliveryRepo.CreateOrGet(ctx, delivery)
		if err != nil {
			s.logger.Error("failed to create delivery",
				"webhook_id", webhook.ID,
				"event_id", ev.ID,
				"error", err)
			continue
		}
		if !isNew {
			continue
		}

		if s.queue == nil || !s.queue.Enqueue(created) {
			s.logger.Warn("delivery queue full, deferring to sweep",
				"delivery_id", created.ID,
				"webhook_id", webhook.ID)
		}
	}
}

// matches applies the subscription set, the key scope, and the
// failure-storm exclusion: a delivery-failure event never routes back to
// the webhook that produced it.
func matches(webhook *models.Webhook, ev models.Event) bool {
	if ev.OriginWebhookID != "" && webhook.ID == ev.OriginWebhookID {
		return false
	}
	if webhook.KeyID != "" && webhook.KeyID != ev.KeyID {
		return false
	}
	for _, t := range webhook.Events {
		if t == "*" || t == ev.Type {
			return true
		}
	}
	return false
}

// CreateWebhook registers a new endpoint. The signing secret is generated
// here, stored encrypted, and returned in plaintext exactly once.
func (s *WebhookService) CreateWebhook(ctx context.Context, webhook *models.Webhook) (secret string, err error) {
	existing, err := s.webhookRepo.GetByProjectAndName(ctx, webhook.ProjectID, webhook.Name)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", fmt.Errorf("webhook %q already exists in project", webhook.Name)
	}

	secret, err = crypto.GenerateWebhookSecret()
	if err != nil {
		return "", fmt.Errorf("generating webhook secret: %w", err)
	}
	encrypted, err := s.encryptor.Encrypt(secret)
	if err != nil {
		return "", fmt.Errorf("encrypting webhook secret: %w", err)
	}
	webhook.SecretEncrypted = encrypted

	if len(webhook.Events) == 0 {
		webhook.Events = []string{"*"}
	}

	if err := s.webhookRepo.Create(ctx, webhook); err != nil {
		return "", err
	}

	s.logger.Info("webhook created",
		"webhook_id", webhook.ID,
		"project_id", webhook.ProjectID,
		"url", webhook.URL)
	return secret, nil
}

// GetWebhook fetches one endpoint, scoped to its owning project.
func (s *WebhookService) GetWebhook(ctx context.Context, projectID, id string) (*models.Webhook, error) {
	webhook, err := s.webhookRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if webhook == nil || webhook.ProjectID != projectID {
		return nil, ErrWebhookNotFound
	}
	return webhook, nil
}

// ListWebhooks returns every endpoint in a project, active or not.
func (s *WebhookService) ListWebhooks(ctx context.Context, projectID string) ([]*models.Webhook, error) {
	return s.webhookRepo.GetByProjectID(ctx, projectID)
}

// ListDeliveries returns the delivery history for one endpoint, newest
// first.
func (s *WebhookService) ListDeliveries(ctx context.Context, projectID, webhookID string, limit, offset int) ([]*models.WebhookDelivery, error) {
	if _, err := s.GetWebhook(ctx, projectID, webhookID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.deliveryRepo.GetByWebhookID(ctx, webhookID, limit, offset)
}

// UpdateWebhook applies changes to an endpoint. Disabling it cancels any
// armed retry timers.
func (s *WebhookService) UpdateWebhook(ctx context.Context, webhook *models.Webhook) error {
	if err := s.webhookRepo.Update(ctx, webhook); err != nil {
		return err
	}
	if !webhook.IsActive && s.queue != nil {
		s.queue.CancelWebhook(webhook.ID)
	}
	return nil
}

// DeleteWebhook removes an endpoint and cancels its retry timers. The
// delivery history goes with it (cascade).
func (s *WebhookService) DeleteWebhook(ctx context.Context, id string) error {
	if s.queue != nil {
		s.queue.CancelWebhook(id)
	}
	return s.webhookRepo.Delete(ctx, id)
}

// GetDelivery fetches one delivery record, scoped to the owning project
// through its webhook.
func (s *WebhookService) GetDelivery(ctx context.Context, projectID, deliveryID string) (*models.WebhookDelivery, error) {
	delivery, err := s.deliveryRepo.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, ErrWebhookNotFound
	}
	if _, err := s.GetWebhook(ctx, projectID, delivery.WebhookID); err != nil {
		return nil, err
	}
	return delivery, nil
}

// RetryDelivery re-enqueues one delivery on explicit operator request.
// The attempt appends to the existing record; history is never reset.
func (s *WebhookService) RetryDelivery(ctx context.Context, deliveryID string) (*models.WebhookDelivery, error) {
	delivery, err := s.deliveryRepo.GetByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, ErrWebhookNotFound
	}
	if delivery.Status == models.DeliveryDelivered {
		return nil, fmt.Errorf("delivery %s already delivered", deliveryID)
	}

	// A failed record becomes pending again for this one extra attempt.
	delivery.Status = models.DeliveryPending
	delivery.NextRetryAt = nil
	if err := s.deliveryRepo.Update(ctx, delivery); err != nil {
		return nil, err
	}

	if s.queue == nil || !s.queue.Enqueue(delivery) {
		return nil, fmt.Errorf("delivery queue unavailable")
	}
	return delivery, nil
}
