package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/akmhq/akm-api/internal/models"
)

const auditColumns = `id, event_id, event_type, key_id, project_id, correlation_id, payload_json, created_at`

// SQLiteAuditRepository implements AuditRepository for SQLite/libsql.
type SQLiteAuditRepository struct {
	db *sql.DB
}

// NewSQLiteAuditRepository creates a new SQLite audit repository.
func NewSQLiteAuditRepository(db *sql.DB) *SQLiteAuditRepository {
	return &SQLiteAuditRepository{db: db}
}

// Create appends an audit entry. The log is append-only; there is no
// update or delete path.
func (r *SQLiteAuditRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, event_id, event_type, key_id, project_id, correlation_id, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.EventID, entry.EventType, nullIfEmpty(entry.KeyID),
		nullIfEmpty(entry.ProjectID), nullIfEmpty(entry.CorrelationID),
		entry.DataJSON, entry.CreatedAt.Format(time.RFC3339))

	return err
}

// GetByKeyID returns audit entries for a key, newest first.
func (r *SQLiteAuditRepository) GetByKeyID(ctx context.Context, keyID string, limit, offset int) ([]*models.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_log
		WHERE key_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, keyID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return r.scanEntries(rows)
}

// GetByEventType returns audit entries of one type, newest first.
func (r *SQLiteAuditRepository) GetByEventType(ctx context.Context, eventType string, limit, offset int) ([]*models.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_log
		WHERE event_type = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, eventType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return r.scanEntries(rows)
}

func (r *SQLiteAuditRepository) scanEntries(rows *sql.Rows) ([]*models.AuditEntry, error) {
	var entries []*models.AuditEntry

	for rows.Next() {
		var entry models.AuditEntry
		var keyID, projectID, correlationID sql.NullString
		var createdAt string

		err := rows.Scan(
			&entry.ID,
			&entry.EventID,
			&entry.EventType,
			&keyID,
			&projectID,
			&correlationID,
			&entry.DataJSON,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}

		entry.KeyID = keyID.String
		entry.ProjectID = projectID.String
		entry.CorrelationID = correlationID.String
		entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
