package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/akmhq/akm-api/internal/models"
)

const settingsColumns = `id, scope, project_id, key_id, per_minute, per_hour, per_day, per_month, warn_percent, allowed_ips, allowed_methods, allowed_time_start, allowed_time_end, created_at, updated_at`

// SQLiteLimitSettingsRepository implements LimitSettingsRepository for
// SQLite/libsql.
type SQLiteLimitSettingsRepository struct {
	db *sql.DB
}

// NewSQLiteLimitSettingsRepository creates a new SQLite limit settings
// repository.
func NewSQLiteLimitSettingsRepository(db *sql.DB) *SQLiteLimitSettingsRepository {
	return &SQLiteLimitSettingsRepository{db: db}
}

// Upsert inserts or replaces the settings row for a scope target. The whole
// row is replaced so clearing a field back to NULL restores inheritance.
func (r *SQLiteLimitSettingsRepository) Upsert(ctx context.Context, settings *models.LimitSettings) error {
	now := time.Now().UTC()

	if settings.ID == "" {
		settings.ID = ulid.Make().String()
	}
	settings.UpdatedAt = now
	if settings.CreatedAt.IsZero() {
		settings.CreatedAt = now
	}

	ipsJSON, err := marshalStrings(settings.AllowedIPs)
	if err != nil {
		return err
	}
	methodsJSON, err := marshalStrings(settings.AllowedMethods)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO limit_settings (id, scope, project_id, key_id, per_minute, per_hour, per_day, per_month, warn_percent, allowed_ips, allowed_methods, allowed_time_start, allowed_time_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, project_id, key_id) DO UPDATE SET
			per_minute = excluded.per_minute,
			per_hour = excluded.per_hour,
			per_day = excluded.per_day,
			per_month = excluded.per_month,
			warn_percent = excluded.warn_percent,
			allowed_ips = excluded.allowed_ips,
			allowed_methods = excluded.allowed_methods,
			allowed_time_start = excluded.allowed_time_start,
			allowed_time_end = excluded.allowed_time_end,
			updated_at = excluded.updated_at
	`, settings.ID, settings.Scope, settings.ProjectID, settings.KeyID,
		settings.PerMinute, settings.PerHour, settings.PerDay, settings.PerMonth,
		settings.WarnPercent, ipsJSON, methodsJSON,
		settings.AllowedTimeStart, settings.AllowedTimeEnd,
		settings.CreatedAt.Format(time.RFC3339), now.Format(time.RFC3339))

	return err
}

// GetGlobal retrieves the single global settings row, or nil if unset.
func (r *SQLiteLimitSettingsRepository) GetGlobal(ctx context.Context) (*models.LimitSettings, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+settingsColumns+` FROM limit_settings WHERE scope = 'global'`)
	return r.scanSettings(row)
}

// GetByProjectID retrieves project-scope settings, or nil if unset.
func (r *SQLiteLimitSettingsRepository) GetByProjectID(ctx context.Context, projectID string) (*models.LimitSettings, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+settingsColumns+` FROM limit_settings WHERE scope = 'project' AND project_id = ?`, projectID)
	return r.scanSettings(row)
}

// GetByKeyID retrieves key-scope settings, or nil if unset.
func (r *SQLiteLimitSettingsRepository) GetByKeyID(ctx context.Context, keyID string) (*models.LimitSettings, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+settingsColumns+` FROM limit_settings WHERE scope = 'key' AND key_id = ?`, keyID)
	return r.scanSettings(row)
}

// Delete removes the settings row for a scope target.
func (r *SQLiteLimitSettingsRepository) Delete(ctx context.Context, scope models.ConfigScope, projectID, keyID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM limit_settings WHERE scope = ? AND project_id = ? AND key_id = ?`,
		scope, projectID, keyID)
	return err
}

func (r *SQLiteLimitSettingsRepository) scanSettings(row *sql.Row) (*models.LimitSettings, error) {
	var s models.LimitSettings
	var perMinute, perHour, perDay, perMonth sql.NullInt64
	var warnPercent sql.NullInt64
	var ipsJSON, methodsJSON, timeStart, timeEnd sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&s.ID,
		&s.Scope,
		&s.ProjectID,
		&s.KeyID,
		&perMinute,
		&perHour,
		&perDay,
		&perMonth,
		&warnPercent,
		&ipsJSON,
		&methodsJSON,
		&timeStart,
		&timeEnd,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	s.PerMinute = nullInt64Ptr(perMinute)
	s.PerHour = nullInt64Ptr(perHour)
	s.PerDay = nullInt64Ptr(perDay)
	s.PerMonth = nullInt64Ptr(perMonth)
	if warnPercent.Valid {
		v := int(warnPercent.Int64)
		s.WarnPercent = &v
	}

	if ipsJSON.Valid && ipsJSON.String != "" {
		if err := json.Unmarshal([]byte(ipsJSON.String), &s.AllowedIPs); err != nil {
			return nil, err
		}
	}
	if methodsJSON.Valid && methodsJSON.String != "" {
		if err := json.Unmarshal([]byte(methodsJSON.String), &s.AllowedMethods); err != nil {
			return nil, err
		}
	}
	if timeStart.Valid && timeStart.String != "" {
		s.AllowedTimeStart = &timeStart.String
	}
	if timeEnd.Valid && timeEnd.String != "" {
		s.AllowedTimeEnd = &timeEnd.String
	}

	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &s, nil
}

func marshalStrings(values []string) (*string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func nullInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
