package service

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/akmhq/akm-api/internal/events"
	"github.com/akmhq/akm-api/internal/models"
)

func newAuditFixture(t *testing.T) (*AuditService, *mockAuditRepository, *events.Bus) {
	t.Helper()
	repo := newMockAuditRepository()
	bus := events.NewBus(8, slog.Default())
	svc := NewAuditService(repo, bus, nil, slog.Default())
	return svc, repo, bus
}

func waitForEntries(t *testing.T, repo *mockAuditRepository, want int) []*models.AuditEntry {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for len(repo.all()) < want {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d audit entries, have %d", want, len(repo.all()))
		case <-time.After(10 * time.Millisecond):
		}
	}
	return repo.all()
}

func TestAuditService_RecordsPublishedEvents(t *testing.T) {
	svc, repo, bus := newAuditFixture(t)
	svc.Start()
	defer svc.Stop()

	bus.Publish(models.Event{
		ID:            "evt-1",
		Type:          models.EventKeyCreated,
		KeyID:         "key-1",
		ProjectID:     "proj-1",
		CorrelationID: "corr-1",
		Data:          map[string]any{"name": "ci"},
	})

	entries := waitForEntries(t, repo, 1)
	entry := entries[0]
	if entry.EventID != "evt-1" {
		t.Errorf("expected event id evt-1, got %q", entry.EventID)
	}
	if entry.EventType != models.EventKeyCreated {
		t.Errorf("expected event type %q, got %q", models.EventKeyCreated, entry.EventType)
	}
	if entry.KeyID != "key-1" || entry.ProjectID != "proj-1" {
		t.Errorf("scope not carried: key=%q project=%q", entry.KeyID, entry.ProjectID)
	}
	if entry.CorrelationID != "corr-1" {
		t.Errorf("expected correlation id corr-1, got %q", entry.CorrelationID)
	}
	if entry.DataJSON == "" {
		t.Error("expected event data to be serialized")
	}
}

func TestAuditService_RecordsAllEventTypes(t *testing.T) {
	svc, repo, bus := newAuditFixture(t)
	svc.Start()
	defer svc.Stop()

	types := []string{
		models.EventRateLimitWarning,
		models.EventRateLimitExceeded,
		models.EventAlertTriggered,
		models.EventDeliveryFailed,
	}
	for i, typ := range types {
		bus.Publish(models.Event{ID: string(rune('a' + i)), Type: typ})
	}

	entries := waitForEntries(t, repo, len(types))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.EventType] = true
	}
	for _, typ := range types {
		if !seen[typ] {
			t.Errorf("event type %q never reached the audit log", typ)
		}
	}
}

func TestAuditService_MasksSensitivePayloadFields(t *testing.T) {
	repo := newMockAuditRepository()
	bus := events.NewBus(8, slog.Default())

	sanitizer, _ := newSensitiveFixture(t)
	seedField(t, sanitizer, &models.SensitiveField{FieldName: "api_key", IsActive: true})

	svc := NewAuditService(repo, bus, sanitizer, slog.Default())
	svc.Start()
	defer svc.Stop()

	bus.Publish(models.Event{
		ID:        "evt-1",
		Type:      models.EventKeyCreated,
		ProjectID: "proj-1",
		Data:      map[string]any{"api_key": "akm_live_12345", "name": "ci"},
	})

	entry := waitForEntries(t, repo, 1)[0]
	if strings.Contains(entry.DataJSON, "akm_live_12345") {
		t.Errorf("plaintext credential reached the audit log: %s", entry.DataJSON)
	}
	if !strings.Contains(entry.DataJSON, "[REDACTED]") {
		t.Errorf("expected payload to carry the redaction marker: %s", entry.DataJSON)
	}
	if !strings.Contains(entry.DataJSON, `"name":"ci"`) {
		t.Errorf("unrelated field lost: %s", entry.DataJSON)
	}
}

func TestAuditService_StopDetaches(t *testing.T) {
	svc, repo, bus := newAuditFixture(t)
	svc.Start()

	bus.Publish(models.Event{ID: "evt-1", Type: models.EventKeyCreated})
	waitForEntries(t, repo, 1)

	svc.Stop()
	bus.Publish(models.Event{ID: "evt-2", Type: models.EventKeyRevoked})

	// Give a detached subscriber a moment to misbehave.
	time.Sleep(50 * time.Millisecond)
	if got := len(repo.all()); got != 1 {
		t.Errorf("expected no writes after Stop, got %d entries", got)
	}
}

func TestAuditService_History(t *testing.T) {
	svc, repo, _ := newAuditFixture(t)
	ctx := context.Background()

	for _, e := range []*models.AuditEntry{
		{EventID: "e1", EventType: models.EventKeyCreated, KeyID: "key-1"},
		{EventID: "e2", EventType: models.EventRateLimitExceeded, KeyID: "key-1"},
		{EventID: "e3", EventType: models.EventKeyCreated, KeyID: "key-2"},
	} {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	byKey, err := svc.History(ctx, "key-1", 50, 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(byKey) != 2 {
		t.Errorf("expected 2 entries for key-1, got %d", len(byKey))
	}

	byType, err := svc.HistoryByType(ctx, models.EventKeyCreated, 50, 0)
	if err != nil {
		t.Fatalf("HistoryByType failed: %v", err)
	}
	if len(byType) != 2 {
		t.Errorf("expected 2 key.created entries, got %d", len(byType))
	}
}
