package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/akmhq/akm-api/internal/events"
	"github.com/akmhq/akm-api/internal/models"
	"github.com/akmhq/akm-api/internal/repository"
)

// payloadSanitizer masks sensitive fields in event payloads before they
// are persisted.
type payloadSanitizer interface {
	Sanitize(ctx context.Context, projectID string, data map[string]any) map[string]any
}

// AuditService persists every bus event to the append-only audit log.
// It runs as a bus subscriber, so a slow database write never blocks
// publishers.
type AuditService struct {
	auditRepo repository.AuditRepository
	bus       *events.Bus
	sanitizer payloadSanitizer
	logger    *slog.Logger

	unsubscribe func()
}

// NewAuditService creates an audit service. sanitizer may be nil, in
// which case payloads are persisted verbatim.
func NewAuditService(auditRepo repository.AuditRepository, bus *events.Bus, sanitizer payloadSanitizer, logger *slog.Logger) *AuditService {
	return &AuditService{
		auditRepo: auditRepo,
		bus:       bus,
		sanitizer: sanitizer,
		logger:    logger.With("component", "audit"),
	}
}

// Start subscribes the audit writer to every event type.
func (s *AuditService) Start() {
	s.unsubscribe = s.bus.SubscribeFunc(s.record)
}

// Stop detaches from the bus.
func (s *AuditService) Stop() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *AuditService) record(ev models.Event) {
	data := ev.Data
	if s.sanitizer != nil {
		data = s.sanitizer.Sanitize(context.Background(), ev.ProjectID, data)
	}

	var dataJSON string
	if len(data) > 0 {
		if b, err := json.Marshal(data); err == nil {
			dataJSON = string(b)
		}
	}

	entry := &models.AuditEntry{
		EventID:       ev.ID,
		EventType:     ev.Type,
		KeyID:         ev.KeyID,
		ProjectID:     ev.ProjectID,
		CorrelationID: ev.CorrelationID,
		DataJSON:      dataJSON,
	}

	if err := s.auditRepo.Create(context.Background(), entry); err != nil {
		s.logger.Error("failed to write audit entry",
			"event_id", ev.ID,
			"event_type", ev.Type,
			"error", err)
	}
}

// History returns audit entries for one key, newest first.
func (s *AuditService) History(ctx context.Context, keyID string, limit, offset int) ([]*models.AuditEntry, error) {
	return s.auditRepo.GetByKeyID(ctx, keyID, limit, offset)
}

// HistoryByType returns audit entries of one event type, newest first.
func (s *AuditService) HistoryByType(ctx context.Context, eventType string, limit, offset int) ([]*models.AuditEntry, error) {
	return s.auditRepo.GetByEventType(ctx, eventType, limit, offset)
}
