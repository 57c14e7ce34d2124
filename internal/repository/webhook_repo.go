package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/akmhq/akm-api/internal/models"
)

const webhookColumns = `id, project_id, key_id, name, url, secret_encrypted, events, headers_json, timeout_seconds, max_retries, is_active, created_at, updated_at`

// SQLiteWebhookRepository implements WebhookRepository for SQLite/libsql.
type SQLiteWebhookRepository struct {
	db *sql.DB
}

// NewSQLiteWebhookRepository creates a new SQLite webhook repository.
func NewSQLiteWebhookRepository(db *sql.DB) *SQLiteWebhookRepository {
	return &SQLiteWebhookRepository{db: db}
}

// Create creates a new webhook.
func (r *SQLiteWebhookRepository) Create(ctx context.Context, webhook *models.Webhook) error {
	now := time.Now().UTC()

	if webhook.ID == "" {
		webhook.ID = ulid.Make().String()
	}
	webhook.CreatedAt = now
	webhook.UpdatedAt = now

	eventsJSON, err := json.Marshal(webhook.Events)
	if err != nil {
		return err
	}
	headersJSON, err := marshalHeaders(webhook.Headers)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, project_id, key_id, name, url, secret_encrypted, events, headers_json, timeout_seconds, max_retries, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, webhook.ID, webhook.ProjectID, nullIfEmpty(webhook.KeyID), webhook.Name, webhook.URL,
		webhook.SecretEncrypted, string(eventsJSON), headersJSON,
		webhook.TimeoutSeconds, webhook.MaxRetries, webhook.IsActive,
		now.Format(time.RFC3339), now.Format(time.RFC3339))

	return err
}

// GetByID retrieves a webhook by ID.
func (r *SQLiteWebhookRepository) GetByID(ctx context.Context, id string) (*models.Webhook, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = ?`, id)
	return r.scanWebhook(row)
}

// GetByProjectID retrieves all webhooks for a project.
func (r *SQLiteWebhookRepository) GetByProjectID(ctx context.Context, projectID string) ([]*models.Webhook, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE project_id = ? ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return r.scanWebhooks(rows)
}

// GetActiveByProjectID retrieves all active webhooks for a project. The
// dispatcher fans events out to this set.
func (r *SQLiteWebhookRepository) GetActiveByProjectID(ctx context.Context, projectID string) ([]*models.Webhook, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE project_id = ? AND is_active = 1 ORDER BY name`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return r.scanWebhooks(rows)
}

// GetByProjectAndName retrieves a webhook by project ID and name.
func (r *SQLiteWebhookRepository) GetByProjectAndName(ctx context.Context, projectID, name string) (*models.Webhook, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE project_id = ? AND name = ?`, projectID, name)
	return r.scanWebhook(row)
}

// Update updates an existing webhook.
func (r *SQLiteWebhookRepository) Update(ctx context.Context, webhook *models.Webhook) error {
	webhook.UpdatedAt = time.Now().UTC()

	eventsJSON, err := json.Marshal(webhook.Events)
	if err != nil {
		return err
	}
	headersJSON, err := marshalHeaders(webhook.Headers)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE webhooks
		SET name = ?, url = ?, key_id = ?, secret_encrypted = ?, events = ?, headers_json = ?, timeout_seconds = ?, max_retries = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, webhook.Name, webhook.URL, nullIfEmpty(webhook.KeyID), webhook.SecretEncrypted,
		string(eventsJSON), headersJSON, webhook.TimeoutSeconds, webhook.MaxRetries,
		webhook.IsActive, webhook.UpdatedAt.Format(time.RFC3339), webhook.ID)

	return err
}

// Delete deletes a webhook by ID. Delivery records cascade.
func (r *SQLiteWebhookRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = ?`, id)
	return err
}

func (r *SQLiteWebhookRepository) scanWebhook(row *sql.Row) (*models.Webhook, error) {
	var webhook models.Webhook
	var keyID, secretEncrypted, headersJSON sql.NullString
	var eventsJSON string
	var createdAt, updatedAt string

	err := row.Scan(
		&webhook.ID,
		&webhook.ProjectID,
		&keyID,
		&webhook.Name,
		&webhook.URL,
		&secretEncrypted,
		&eventsJSON,
		&headersJSON,
		&webhook.TimeoutSeconds,
		&webhook.MaxRetries,
		&webhook.IsActive,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := finishWebhook(&webhook, keyID, secretEncrypted, eventsJSON, headersJSON, createdAt, updatedAt); err != nil {
		return nil, err
	}
	return &webhook, nil
}

func (r *SQLiteWebhookRepository) scanWebhooks(rows *sql.Rows) ([]*models.Webhook, error) {
	var webhooks []*models.Webhook

	for rows.Next() {
		var webhook models.Webhook
		var keyID, secretEncrypted, headersJSON sql.NullString
		var eventsJSON string
		var createdAt, updatedAt string

		err := rows.Scan(
			&webhook.ID,
			&webhook.ProjectID,
			&keyID,
			&webhook.Name,
			&webhook.URL,
			&secretEncrypted,
			&eventsJSON,
			&headersJSON,
			&webhook.TimeoutSeconds,
			&webhook.MaxRetries,
			&webhook.IsActive,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, err
		}

		if err := finishWebhook(&webhook, keyID, secretEncrypted, eventsJSON, headersJSON, createdAt, updatedAt); err != nil {
			return nil, err
		}
		webhooks = append(webhooks, &webhook)
	}

	return webhooks, rows.Err()
}

func finishWebhook(webhook *models.Webhook, keyID, secretEncrypted sql.NullString, eventsJSON string, headersJSON sql.NullString, createdAt, updatedAt string) error {
	webhook.KeyID = keyID.String
	webhook.SecretEncrypted = secretEncrypted.String

	if err := json.Unmarshal([]byte(eventsJSON), &webhook.Events); err != nil {
		return err
	}
	if headersJSON.Valid && headersJSON.String != "" {
		if err := json.Unmarshal([]byte(headersJSON.String), &webhook.Headers); err != nil {
			return err
		}
	}

	webhook.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	webhook.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return nil
}

func marshalHeaders(headers []models.Header) (*string, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}
