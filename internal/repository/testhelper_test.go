package repository

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/akmhq/akm-api/internal/database/migrations"
	"github.com/akmhq/akm-api/internal/models"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned
// up when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	// Each pooled connection to :memory: would get its own database, so
	// pin the pool to a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// InsertTestProject is a helper to insert a test project directly.
func InsertTestProject(t *testing.T, db *sql.DB, id, name string) {
	t.Helper()
	query := `
		INSERT INTO projects (id, name, prefix, is_active, created_at, updated_at)
		VALUES (?, ?, 'akm', 1, datetime('now'), datetime('now'))
	`
	if _, err := db.Exec(query, id, name); err != nil {
		t.Fatalf("failed to insert test project: %v", err)
	}
}

// InsertTestAPIKey is a helper to insert a test API key directly.
func InsertTestAPIKey(t *testing.T, db *sql.DB, id, projectID, keyHash, keyPrefix string) {
	t.Helper()
	query := `
		INSERT INTO api_keys (id, project_id, name, key_hash, key_prefix, scopes, is_active, created_at, updated_at)
		VALUES (?, ?, 'Test Key', ?, ?, '["*"]', 1, datetime('now'), datetime('now'))
	`
	if _, err := db.Exec(query, id, projectID, keyHash, keyPrefix); err != nil {
		t.Fatalf("failed to insert test API key: %v", err)
	}
}

// InsertTestWebhook is a helper to insert a test webhook.
func InsertTestWebhook(t *testing.T, db *sql.DB, id, projectID, name, url string, enabled bool) {
	t.Helper()
	isActive := 0
	if enabled {
		isActive = 1
	}
	query := `
		INSERT INTO webhooks (id, project_id, name, url, events, timeout_seconds, max_retries, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, '["*"]', 30, 5, ?, datetime('now'), datetime('now'))
	`
	if _, err := db.Exec(query, id, projectID, name, url, isActive); err != nil {
		t.Fatalf("failed to insert test webhook: %v", err)
	}
}

// hourCharge builds a single-window charge for the hour containing now.
func hourCharge(limit int64) []WindowCharge {
	now := time.Now().UTC()
	start := models.WindowHour.SlotStart(now)
	return []WindowCharge{{
		Window: models.WindowHour,
		Start:  start,
		End:    models.WindowHour.SlotEnd(now),
		Limit:  limit,
	}}
}
