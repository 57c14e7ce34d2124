package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/akmhq/akm-api/internal/models"
)

const sensitiveFieldColumns = `id, project_id, field_name, strategy, mask_show_start, mask_show_end, mask_char, replacement, is_active, created_at, updated_at`

// SQLiteSensitiveFieldRepository implements SensitiveFieldRepository for
// SQLite/libsql.
type SQLiteSensitiveFieldRepository struct {
	db *sql.DB
}

// NewSQLiteSensitiveFieldRepository creates a new SQLite sensitive field
// repository.
func NewSQLiteSensitiveFieldRepository(db *sql.DB) *SQLiteSensitiveFieldRepository {
	return &SQLiteSensitiveFieldRepository{db: db}
}

// Create inserts a sensitive field entry. FieldName is lowercased so
// matching against payload keys is case-insensitive.
func (r *SQLiteSensitiveFieldRepository) Create(ctx context.Context, field *models.SensitiveField) error {
	now := time.Now().UTC()

	if field.ID == "" {
		field.ID = ulid.Make().String()
	}
	field.FieldName = strings.ToLower(field.FieldName)
	field.CreatedAt = now
	field.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sensitive_fields (id, project_id, field_name, strategy, mask_show_start, mask_show_end, mask_char, replacement, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, field.ID, field.ProjectID, field.FieldName,
		nullIfEmpty(field.Strategy), field.MaskShowStart, field.MaskShowEnd,
		nullIfEmpty(field.MaskChar), nullIfEmpty(field.Replacement),
		field.IsActive, now.Format(time.RFC3339), now.Format(time.RFC3339))

	return err
}

// GetByID retrieves a sensitive field entry, or nil when absent.
func (r *SQLiteSensitiveFieldRepository) GetByID(ctx context.Context, id string) (*models.SensitiveField, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sensitiveFieldColumns+` FROM sensitive_fields WHERE id = ?`, id)
	return r.scanField(row)
}

// GetByName retrieves the entry for a field name within one scope, or
// nil when absent.
func (r *SQLiteSensitiveFieldRepository) GetByName(ctx context.Context, projectID, fieldName string) (*models.SensitiveField, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sensitiveFieldColumns+` FROM sensitive_fields WHERE project_id = ? AND field_name = ?`,
		projectID, strings.ToLower(fieldName))
	return r.scanField(row)
}

// List returns every entry in one scope, ordered by field name.
func (r *SQLiteSensitiveFieldRepository) List(ctx context.Context, projectID string) ([]*models.SensitiveField, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sensitiveFieldColumns+` FROM sensitive_fields
		WHERE project_id = ?
		ORDER BY field_name`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return r.scanFields(rows)
}

// ListActive returns every active entry across all scopes.
func (r *SQLiteSensitiveFieldRepository) ListActive(ctx context.Context) ([]*models.SensitiveField, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sensitiveFieldColumns+` FROM sensitive_fields
		WHERE is_active = 1
		ORDER BY project_id, field_name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return r.scanFields(rows)
}

// Update rewrites a sensitive field entry.
func (r *SQLiteSensitiveFieldRepository) Update(ctx context.Context, field *models.SensitiveField) error {
	field.FieldName = strings.ToLower(field.FieldName)
	field.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		UPDATE sensitive_fields
		SET field_name = ?, strategy = ?, mask_show_start = ?, mask_show_end = ?, mask_char = ?, replacement = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, field.FieldName, nullIfEmpty(field.Strategy),
		field.MaskShowStart, field.MaskShowEnd,
		nullIfEmpty(field.MaskChar), nullIfEmpty(field.Replacement),
		field.IsActive, field.UpdatedAt.Format(time.RFC3339), field.ID)

	return err
}

// Delete removes a sensitive field entry.
func (r *SQLiteSensitiveFieldRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sensitive_fields WHERE id = ?`, id)
	return err
}

type fieldScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteSensitiveFieldRepository) scanField(row *sql.Row) (*models.SensitiveField, error) {
	f, err := scanSensitiveField(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return f, err
}

func (r *SQLiteSensitiveFieldRepository) scanFields(rows *sql.Rows) ([]*models.SensitiveField, error) {
	var fields []*models.SensitiveField
	for rows.Next() {
		f, err := scanSensitiveField(rows)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func scanSensitiveField(s fieldScanner) (*models.SensitiveField, error) {
	var f models.SensitiveField
	var strategy, maskChar, replacement sql.NullString
	var showStart, showEnd sql.NullInt64
	var createdAt, updatedAt string

	err := s.Scan(
		&f.ID,
		&f.ProjectID,
		&f.FieldName,
		&strategy,
		&showStart,
		&showEnd,
		&maskChar,
		&replacement,
		&f.IsActive,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	f.Strategy = strategy.String
	f.MaskChar = maskChar.String
	f.Replacement = replacement.String
	if showStart.Valid {
		v := int(showStart.Int64)
		f.MaskShowStart = &v
	}
	if showEnd.Valid {
		v := int(showEnd.Int64)
		f.MaskShowEnd = &v
	}

	f.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	f.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &f, nil
}
