package repository

import (
	"context"
	"testing"

	"github.com/akmhq/akm-api/internal/models"
)

func TestAuditRepository_CreateAndQuery(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	entries := []*models.AuditEntry{
		{EventID: "evt-1", EventType: models.EventKeyCreated, KeyID: "key-1", ProjectID: "proj-1", DataJSON: `{"name":"Production"}`},
		{EventID: "evt-2", EventType: models.EventRateLimitExceeded, KeyID: "key-1", ProjectID: "proj-1", CorrelationID: "corr-1"},
		{EventID: "evt-3", EventType: models.EventKeyCreated, KeyID: "key-2", ProjectID: "proj-1"},
	}
	for _, e := range entries {
		if err := repos.Audit.Create(ctx, e); err != nil {
			t.Fatalf("Create(%s) error = %v", e.EventID, err)
		}
		if e.ID == "" {
			t.Fatal("Create() should mint an ID")
		}
	}

	byKey, err := repos.Audit.GetByKeyID(ctx, "key-1", 10, 0)
	if err != nil {
		t.Fatalf("GetByKeyID() error = %v", err)
	}
	if len(byKey) != 2 {
		t.Errorf("entries for key-1 = %d, want 2", len(byKey))
	}

	byType, err := repos.Audit.GetByEventType(ctx, models.EventKeyCreated, 10, 0)
	if err != nil {
		t.Fatalf("GetByEventType() error = %v", err)
	}
	if len(byType) != 2 {
		t.Errorf("key.created entries = %d, want 2", len(byType))
	}

	for _, e := range byKey {
		if e.EventID == "evt-2" {
			if e.CorrelationID != "corr-1" {
				t.Errorf("CorrelationID = %s, want corr-1", e.CorrelationID)
			}
		}
	}
}
