package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/akmhq/akm-api/internal/models"
)

const alertRuleColumns = `id, project_id, key_id, name, metric, operator, threshold, threshold_percent, cooldown_seconds, is_active, last_triggered_at, created_at, updated_at`

// SQLiteAlertRuleRepository implements AlertRuleRepository for SQLite/libsql.
type SQLiteAlertRuleRepository struct {
	db *sql.DB
}

// NewSQLiteAlertRuleRepository creates a new SQLite alert rule repository.
func NewSQLiteAlertRuleRepository(db *sql.DB) *SQLiteAlertRuleRepository {
	return &SQLiteAlertRuleRepository{db: db}
}

// Create creates a new alert rule.
func (r *SQLiteAlertRuleRepository) Create(ctx context.Context, rule *models.AlertRule) error {
	now := time.Now().UTC()

	if rule.ID == "" {
		rule.ID = ulid.Make().String()
	}
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_rules (id, project_id, key_id, name, metric, operator, threshold, threshold_percent, cooldown_seconds, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.ID, nullIfEmpty(rule.ProjectID), nullIfEmpty(rule.KeyID), rule.Name,
		rule.Metric, rule.Operator, rule.Threshold, rule.ThresholdPercent,
		int64(rule.Cooldown.Seconds()), rule.IsActive,
		now.Format(time.RFC3339), now.Format(time.RFC3339))

	return err
}

// GetByID retrieves an alert rule by ID.
func (r *SQLiteAlertRuleRepository) GetByID(ctx context.Context, id string) (*models.AlertRule, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+alertRuleColumns+` FROM alert_rules WHERE id = ?`, id)
	return r.scanRule(row)
}

// GetActiveForKey returns active rules that apply to a key: rules bound to
// the key, rules bound to its project, and unbound service-wide rules.
func (r *SQLiteAlertRuleRepository) GetActiveForKey(ctx context.Context, keyID, projectID string) ([]*models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertRuleColumns+` FROM alert_rules
		WHERE is_active = 1
		  AND (key_id = ? OR (key_id IS NULL AND project_id = ?) OR (key_id IS NULL AND project_id IS NULL))
		ORDER BY created_at`,
		keyID, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return r.scanRules(rows)
}

// ListByProjectID returns all rules bound to a project or its keys.
func (r *SQLiteAlertRuleRepository) ListByProjectID(ctx context.Context, projectID string) ([]*models.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+alertRuleColumns+` FROM alert_rules
		WHERE project_id = ?
		ORDER BY created_at`,
		projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return r.scanRules(rows)
}

// Update updates an existing alert rule.
func (r *SQLiteAlertRuleRepository) Update(ctx context.Context, rule *models.AlertRule) error {
	rule.UpdatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		UPDATE alert_rules
		SET name = ?, metric = ?, operator = ?, threshold = ?, threshold_percent = ?, cooldown_seconds = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`, rule.Name, rule.Metric, rule.Operator, rule.Threshold, rule.ThresholdPercent,
		int64(rule.Cooldown.Seconds()), rule.IsActive,
		rule.UpdatedAt.Format(time.RFC3339), rule.ID)

	return err
}

// Delete deletes an alert rule. History cascades.
func (r *SQLiteAlertRuleRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	return err
}

// MarkTriggered stamps last_triggered_at only if the cooldown has elapsed.
// The conditional UPDATE makes the cooldown race-free: of two concurrent
// evaluations exactly one sees a row affected.
func (r *SQLiteAlertRuleRepository) MarkTriggered(ctx context.Context, ruleID string, now time.Time, cooldown time.Duration) (bool, error) {
	cutoff := now.Add(-cooldown).UTC().Format(time.RFC3339)

	res, err := r.db.ExecContext(ctx, `
		UPDATE alert_rules
		SET last_triggered_at = ?
		WHERE id = ? AND (last_triggered_at IS NULL OR last_triggered_at <= ?)
	`, now.UTC().Format(time.RFC3339), ruleID, cutoff)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *SQLiteAlertRuleRepository) scanRule(row *sql.Row) (*models.AlertRule, error) {
	var rule models.AlertRule
	var projectID, keyID, lastTriggeredAt sql.NullString
	var thresholdPercent sql.NullInt64
	var cooldownSeconds int64
	var createdAt, updatedAt string

	err := row.Scan(
		&rule.ID,
		&projectID,
		&keyID,
		&rule.Name,
		&rule.Metric,
		&rule.Operator,
		&rule.Threshold,
		&thresholdPercent,
		&cooldownSeconds,
		&rule.IsActive,
		&lastTriggeredAt,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	finishRule(&rule, projectID, keyID, lastTriggeredAt, thresholdPercent, cooldownSeconds, createdAt, updatedAt)
	return &rule, nil
}

func (r *SQLiteAlertRuleRepository) scanRules(rows *sql.Rows) ([]*models.AlertRule, error) {
	var rules []*models.AlertRule

	for rows.Next() {
		var rule models.AlertRule
		var projectID, keyID, lastTriggeredAt sql.NullString
		var thresholdPercent sql.NullInt64
		var cooldownSeconds int64
		var createdAt, updatedAt string

		err := rows.Scan(
			&rule.ID,
			&projectID,
			&keyID,
			&rule.Name,
			&rule.Metric,
			&rule.Operator,
			&rule.Threshold,
			&thresholdPercent,
			&cooldownSeconds,
			&rule.IsActive,
			&lastTriggeredAt,
			&createdAt,
			&updatedAt,
		)
		if err != nil {
			return nil, err
		}

		finishRule(&rule, projectID, keyID, lastTriggeredAt, thresholdPercent, cooldownSeconds, createdAt, updatedAt)
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

func finishRule(rule *models.AlertRule, projectID, keyID, lastTriggeredAt sql.NullString, thresholdPercent sql.NullInt64, cooldownSeconds int64, createdAt, updatedAt string) {
	rule.ProjectID = projectID.String
	rule.KeyID = keyID.String
	if thresholdPercent.Valid {
		v := int(thresholdPercent.Int64)
		rule.ThresholdPercent = &v
	}
	rule.Cooldown = time.Duration(cooldownSeconds) * time.Second
	rule.LastTriggeredAt = parseTimePtr(lastTriggeredAt)
	rule.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rule.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SQLiteAlertHistoryRepository implements AlertHistoryRepository for
// SQLite/libsql.
type SQLiteAlertHistoryRepository struct {
	db *sql.DB
}

// NewSQLiteAlertHistoryRepository creates a new SQLite alert history
// repository.
func NewSQLiteAlertHistoryRepository(db *sql.DB) *SQLiteAlertHistoryRepository {
	return &SQLiteAlertHistoryRepository{db: db}
}

// Create appends an alert evaluation record.
func (r *SQLiteAlertHistoryRepository) Create(ctx context.Context, entry *models.AlertHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alert_history (id, rule_id, key_id, outcome, metric_value, threshold, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.RuleID, nullIfEmpty(entry.KeyID), entry.Outcome,
		entry.MetricValue, entry.Threshold, entry.Message,
		entry.CreatedAt.Format(time.RFC3339))

	return err
}

// GetByRuleID returns history entries for a rule, newest first.
func (r *SQLiteAlertHistoryRepository) GetByRuleID(ctx context.Context, ruleID string, limit, offset int) ([]*models.AlertHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, rule_id, key_id, outcome, metric_value, threshold, message, created_at
		FROM alert_history
		WHERE rule_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, ruleID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.AlertHistoryEntry
	for rows.Next() {
		var entry models.AlertHistoryEntry
		var keyID, message sql.NullString
		var createdAt string

		err := rows.Scan(
			&entry.ID,
			&entry.RuleID,
			&keyID,
			&entry.Outcome,
			&entry.MetricValue,
			&entry.Threshold,
			&message,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}

		entry.KeyID = keyID.String
		entry.Message = message.String
		entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
