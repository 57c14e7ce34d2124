package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/akmhq/akm-api/internal/models"
)

const apiKeyColumns = `id, project_id, name, key_hash, key_prefix, scopes, is_active, expires_at, revoked_at, last_used_at, created_at`

// SQLiteAPIKeyRepository implements APIKeyRepository for SQLite/libsql.
type SQLiteAPIKeyRepository struct {
	db *sql.DB
}

// NewSQLiteAPIKeyRepository creates a new SQLite API key repository.
func NewSQLiteAPIKeyRepository(db *sql.DB) *SQLiteAPIKeyRepository {
	return &SQLiteAPIKeyRepository{db: db}
}

// Create creates a new API key.
func (r *SQLiteAPIKeyRepository) Create(ctx context.Context, key *models.APIKey) error {
	now := time.Now().UTC()

	if key.ID == "" {
		key.ID = ulid.Make().String()
	}
	key.CreatedAt = now

	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, project_id, name, key_hash, key_prefix, scopes, is_active, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, key.ID, key.ProjectID, key.Name, key.KeyHash, key.KeyPrefix, string(scopesJSON),
		key.IsActive, timePtr(key.ExpiresAt), now.Format(time.RFC3339), now.Format(time.RFC3339))

	return err
}

// GetByID retrieves an API key by ID.
func (r *SQLiteAPIKeyRepository) GetByID(ctx context.Context, id string) (*models.APIKey, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)

	return r.scanKey(row)
}

// GetByKeyHash retrieves an API key by its SHA-256 hash. This is the auth
// hot path; key_hash is uniquely indexed.
func (r *SQLiteAPIKeyRepository) GetByKeyHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = ?`, hash)

	return r.scanKey(row)
}

// GetByProjectID retrieves all API keys for a project.
func (r *SQLiteAPIKeyRepository) GetByProjectID(ctx context.Context, projectID string) ([]*models.APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []*models.APIKey
	for rows.Next() {
		key, err := r.scanKeyRow(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// UpdateLastUsed stamps the last use time on a key.
func (r *SQLiteAPIKeyRepository) UpdateLastUsed(ctx context.Context, id string, lastUsed time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used_at = ? WHERE id = ?
	`, lastUsed.UTC().Format(time.RFC3339), id)
	return err
}

// Update updates the mutable fields of an API key.
func (r *SQLiteAPIKeyRepository) Update(ctx context.Context, key *models.APIKey) error {
	scopesJSON, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE api_keys
		SET name = ?, scopes = ?, is_active = ?, expires_at = ?, updated_at = ?
		WHERE id = ?
	`, key.Name, string(scopesJSON), key.IsActive, timePtr(key.ExpiresAt),
		time.Now().UTC().Format(time.RFC3339), key.ID)

	return err
}

// Revoke deactivates a key and stamps revoked_at. Revocation is permanent.
func (r *SQLiteAPIKeyRepository) Revoke(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := r.db.ExecContext(ctx, `
		UPDATE api_keys
		SET is_active = 0, revoked_at = ?, updated_at = ?
		WHERE id = ? AND revoked_at IS NULL
	`, now, now, id)
	return err
}

// GetExpiringSoon returns active, unrevoked keys expiring within the horizon.
func (r *SQLiteAPIKeyRepository) GetExpiringSoon(ctx context.Context, within time.Duration) ([]*models.APIKey, error) {
	now := time.Now().UTC()
	horizon := now.Add(within)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys
		WHERE is_active = 1 AND revoked_at IS NULL
		  AND expires_at IS NOT NULL AND expires_at > ? AND expires_at <= ?
		ORDER BY expires_at`,
		now.Format(time.RFC3339), horizon.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []*models.APIKey
	for rows.Next() {
		key, err := r.scanKeyRow(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

func (r *SQLiteAPIKeyRepository) scanKey(row *sql.Row) (*models.APIKey, error) {
	var key models.APIKey
	var scopesJSON string
	var expiresAt, revokedAt, lastUsedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&key.ID,
		&key.ProjectID,
		&key.Name,
		&key.KeyHash,
		&key.KeyPrefix,
		&scopesJSON,
		&key.IsActive,
		&expiresAt,
		&revokedAt,
		&lastUsedAt,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return r.finishKey(&key, scopesJSON, expiresAt, revokedAt, lastUsedAt, createdAt)
}

func (r *SQLiteAPIKeyRepository) scanKeyRow(rows *sql.Rows) (*models.APIKey, error) {
	var key models.APIKey
	var scopesJSON string
	var expiresAt, revokedAt, lastUsedAt sql.NullString
	var createdAt string

	err := rows.Scan(
		&key.ID,
		&key.ProjectID,
		&key.Name,
		&key.KeyHash,
		&key.KeyPrefix,
		&scopesJSON,
		&key.IsActive,
		&expiresAt,
		&revokedAt,
		&lastUsedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	return r.finishKey(&key, scopesJSON, expiresAt, revokedAt, lastUsedAt, createdAt)
}

func (r *SQLiteAPIKeyRepository) finishKey(key *models.APIKey, scopesJSON string, expiresAt, revokedAt, lastUsedAt sql.NullString, createdAt string) (*models.APIKey, error) {
	if err := json.Unmarshal([]byte(scopesJSON), &key.Scopes); err != nil {
		return nil, err
	}

	key.ExpiresAt = parseTimePtr(expiresAt)
	key.RevokedAt = parseTimePtr(revokedAt)
	key.LastUsedAt = parseTimePtr(lastUsedAt)
	key.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)

	return key, nil
}

// timePtr formats an optional time as RFC3339 for storage.
func timePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// parseTimePtr parses an optional RFC3339 column.
func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
