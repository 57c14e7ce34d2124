package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/akmhq/akm-api/internal/models"
)

const deliveryColumns = `id, webhook_id, event_id, event_type, url, payload_json, status, attempt_count, max_retries, last_attempt_at, last_response_code, last_error, next_retry_at, created_at, delivered_at`

// SQLiteWebhookDeliveryRepository implements WebhookDeliveryRepository for
// SQLite/libsql.
type SQLiteWebhookDeliveryRepository struct {
	db *sql.DB
}

// NewSQLiteWebhookDeliveryRepository creates a new SQLite webhook delivery
// repository.
func NewSQLiteWebhookDeliveryRepository(db *sql.DB) *SQLiteWebhookDeliveryRepository {
	return &SQLiteWebhookDeliveryRepository{db: db}
}

// CreateOrGet inserts a pending delivery record, or returns the existing
// one when this (webhook_id, event_id) pair was already dispatched. The
// UNIQUE constraint does the dedup; ON CONFLICT DO NOTHING keeps the
// insert race-free under concurrent dispatch.
func (r *SQLiteWebhookDeliveryRepository) CreateOrGet(ctx context.Context, delivery *models.WebhookDelivery) (*models.WebhookDelivery, bool, error) {
	now := time.Now().UTC()

	if delivery.ID == "" {
		delivery.ID = ulid.Make().String()
	}
	if delivery.Status == "" {
		delivery.Status = models.DeliveryPending
	}
	delivery.CreatedAt = now

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event_id, event_type, url, payload_json, status, attempt_count, max_retries, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(webhook_id, event_id) DO NOTHING
	`, delivery.ID, delivery.WebhookID, delivery.EventID, delivery.EventType,
		delivery.URL, delivery.PayloadJSON, delivery.Status,
		delivery.AttemptCount, delivery.MaxRetries, now.Format(time.RFC3339))
	if err != nil {
		return nil, false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if affected == 1 {
		return delivery, true, nil
	}

	existing, err := r.getByWebhookAndEvent(ctx, delivery.WebhookID, delivery.EventID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Update persists the mutable delivery state after an attempt.
func (r *SQLiteWebhookDeliveryRepository) Update(ctx context.Context, delivery *models.WebhookDelivery) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = ?, attempt_count = ?, last_attempt_at = ?, last_response_code = ?, last_error = ?, next_retry_at = ?, delivered_at = ?
		WHERE id = ?
	`, delivery.Status, delivery.AttemptCount, timePtr(delivery.LastAttemptAt),
		delivery.LastResponseCode, nullIfEmpty(delivery.LastError),
		timePtr(delivery.NextRetryAt), timePtr(delivery.DeliveredAt), delivery.ID)

	return err
}

// GetByID retrieves a delivery record by ID.
func (r *SQLiteWebhookDeliveryRepository) GetByID(ctx context.Context, id string) (*models.WebhookDelivery, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = ?`, id)
	return r.scanDelivery(row)
}

// GetByWebhookID returns delivery records for a webhook, newest first.
func (r *SQLiteWebhookDeliveryRepository) GetByWebhookID(ctx context.Context, webhookID string, limit, offset int) ([]*models.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE webhook_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, webhookID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return r.scanDeliveries(rows)
}

// GetByEventID returns all delivery records for one event across webhooks.
func (r *SQLiteWebhookDeliveryRepository) GetByEventID(ctx context.Context, eventID string) ([]*models.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE event_id = ?
		ORDER BY created_at`, eventID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return r.scanDeliveries(rows)
}

// GetPendingRetries returns pending deliveries whose retry time has come,
// oldest first. Used by the startup sweep to resume interrupted schedules.
func (r *SQLiteWebhookDeliveryRepository) GetPendingRetries(ctx context.Context, now time.Time, limit int) ([]*models.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE status = 'pending' AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY next_retry_at
		LIMIT ?`, now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return r.scanDeliveries(rows)
}

func (r *SQLiteWebhookDeliveryRepository) getByWebhookAndEvent(ctx context.Context, webhookID, eventID string) (*models.WebhookDelivery, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE webhook_id = ? AND event_id = ?`,
		webhookID, eventID)
	return r.scanDelivery(row)
}

func (r *SQLiteWebhookDeliveryRepository) scanDelivery(row *sql.Row) (*models.WebhookDelivery, error) {
	var d models.WebhookDelivery
	var lastAttemptAt, lastError, nextRetryAt, deliveredAt sql.NullString
	var lastResponseCode sql.NullInt64
	var createdAt string

	err := row.Scan(
		&d.ID,
		&d.WebhookID,
		&d.EventID,
		&d.EventType,
		&d.URL,
		&d.PayloadJSON,
		&d.Status,
		&d.AttemptCount,
		&d.MaxRetries,
		&lastAttemptAt,
		&lastResponseCode,
		&lastError,
		&nextRetryAt,
		&createdAt,
		&deliveredAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	finishDelivery(&d, lastAttemptAt, lastResponseCode, lastError, nextRetryAt, createdAt, deliveredAt)
	return &d, nil
}

func (r *SQLiteWebhookDeliveryRepository) scanDeliveries(rows *sql.Rows) ([]*models.WebhookDelivery, error) {
	var deliveries []*models.WebhookDelivery

	for rows.Next() {
		var d models.WebhookDelivery
		var lastAttemptAt, lastError, nextRetryAt, deliveredAt sql.NullString
		var lastResponseCode sql.NullInt64
		var createdAt string

		err := rows.Scan(
			&d.ID,
			&d.WebhookID,
			&d.EventID,
			&d.EventType,
			&d.URL,
			&d.PayloadJSON,
			&d.Status,
			&d.AttemptCount,
			&d.MaxRetries,
			&lastAttemptAt,
			&lastResponseCode,
			&lastError,
			&nextRetryAt,
			&createdAt,
			&deliveredAt,
		)
		if err != nil {
			return nil, err
		}

		finishDelivery(&d, lastAttemptAt, lastResponseCode, lastError, nextRetryAt, createdAt, deliveredAt)
		deliveries = append(deliveries, &d)
	}

	return deliveries, rows.Err()
}

func finishDelivery(d *models.WebhookDelivery, lastAttemptAt sql.NullString, lastResponseCode sql.NullInt64, lastError, nextRetryAt sql.NullString, createdAt string, deliveredAt sql.NullString) {
	d.LastAttemptAt = parseTimePtr(lastAttemptAt)
	if lastResponseCode.Valid {
		code := int(lastResponseCode.Int64)
		d.LastResponseCode = &code
	}
	d.LastError = lastError.String
	d.NextRetryAt = parseTimePtr(nextRetryAt)
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	d.DeliveredAt = parseTimePtr(deliveredAt)
}
