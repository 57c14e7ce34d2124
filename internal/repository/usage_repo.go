package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/akmhq/akm-api/internal/models"
)

// SQLiteUsageRepository implements UsageRepository for SQLite/libsql.
type SQLiteUsageRepository struct {
	db *sql.DB
}

// NewSQLiteUsageRepository creates a new SQLite usage repository.
func NewSQLiteUsageRepository(db *sql.DB) *SQLiteUsageRepository {
	return &SQLiteUsageRepository{db: db}
}

// CheckAndConsume charges cost against every window in a single transaction.
// The increment is a conditional UPDATE guarded by the ceiling, so two
// concurrent requests can never overshoot a limit: one of them sees zero
// rows affected and the whole transaction rolls back, leaving every other
// window untouched.
func (r *SQLiteUsageRepository) CheckAndConsume(ctx context.Context, keyID string, cost int64, charges []WindowCharge, warnPercent int) (*ConsumeResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339)
	result := &ConsumeResult{Allowed: true}

	for _, charge := range charges {
		startStr := charge.Start.Format(time.RFC3339)
		endStr := charge.End.Format(time.RFC3339)

		// Lazily create the window row. The insert also takes the write
		// lock early, avoiding a lock upgrade mid-transaction.
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO usage_counters (key_id, window, window_start, window_end, count, warned, updated_at)
			VALUES (?, ?, ?, ?, 0, 0, ?)
		`, keyID, charge.Window, startStr, endStr, now); err != nil {
			return nil, err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE usage_counters
			SET count = count + ?, updated_at = ?
			WHERE key_id = ? AND window = ? AND window_start = ? AND count + ? <= ?
		`, cost, now, keyID, charge.Window, startStr, cost, charge.Limit)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}

		if affected == 0 {
			// Ceiling would be overshot. Rolling back undoes the charges
			// already applied to tighter windows.
			var count int64
			err := tx.QueryRowContext(ctx, `
				SELECT count FROM usage_counters
				WHERE key_id = ? AND window = ? AND window_start = ?
			`, keyID, charge.Window, startStr).Scan(&count)
			if err != nil {
				return nil, err
			}

			return &ConsumeResult{
				Allowed: false,
				Breached: &WindowUsage{
					Window: charge.Window,
					Start:  charge.Start,
					End:    charge.End,
					Limit:  charge.Limit,
					Count:  count,
				},
			}, nil
		}

		var count int64
		if err := tx.QueryRowContext(ctx, `
			SELECT count FROM usage_counters
			WHERE key_id = ? AND window = ? AND window_start = ?
		`, keyID, charge.Window, startStr).Scan(&count); err != nil {
			return nil, err
		}

		crossedWarn := false
		if warnPercent > 0 {
			// warned flips at most once per window instance; the condition
			// on warned = 0 makes the crossing edge-triggered.
			warnRes, err := tx.ExecContext(ctx, `
				UPDATE usage_counters
				SET warned = 1
				WHERE key_id = ? AND window = ? AND window_start = ?
				  AND warned = 0 AND count * 100 >= ? * ?
			`, keyID, charge.Window, startStr, charge.Limit, int64(warnPercent))
			if err != nil {
				return nil, err
			}
			warnAffected, err := warnRes.RowsAffected()
			if err != nil {
				return nil, err
			}
			crossedWarn = warnAffected == 1
		}

		result.Usage = append(result.Usage, WindowUsage{
			Window:      charge.Window,
			Start:       charge.Start,
			End:         charge.End,
			Limit:       charge.Limit,
			Count:       count,
			CrossedWarn: crossedWarn,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return result, nil
}

// GetCounter retrieves one window counter row, or nil if never touched.
func (r *SQLiteUsageRepository) GetCounter(ctx context.Context, keyID string, window models.WindowKind, start time.Time) (*models.UsageCounter, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT key_id, window, window_start, window_end, count, warned, updated_at
		FROM usage_counters
		WHERE key_id = ? AND window = ? AND window_start = ?
	`, keyID, window, start.UTC().Format(time.RFC3339))

	var counter models.UsageCounter
	var windowStart, windowEnd, updatedAt string

	err := row.Scan(
		&counter.KeyID,
		&counter.Window,
		&windowStart,
		&windowEnd,
		&counter.Count,
		&counter.Warned,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	counter.WindowStart, _ = time.Parse(time.RFC3339, windowStart)
	counter.WindowEnd, _ = time.Parse(time.RFC3339, windowEnd)
	counter.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return &counter, nil
}

// RecordRequest folds a completed request into the hourly rollup. The
// moving average is recomputed from the previous average and count.
func (r *SQLiteUsageRepository) RecordRequest(ctx context.Context, keyID string, at time.Time, success bool, responseTimeMs int64) error {
	at = at.UTC()
	date := at.Format("2006-01-02")
	hour := at.Hour()
	now := time.Now().UTC().Format(time.RFC3339)

	successCount := 0
	failCount := 0
	if success {
		successCount = 1
	} else {
		failCount = 1
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_metrics (key_id, date, hour, request_count, successful_requests, failed_requests, avg_response_time_ms, updated_at)
		VALUES (?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT(key_id, date, hour) DO UPDATE SET
			request_count = request_count + 1,
			successful_requests = successful_requests + excluded.successful_requests,
			failed_requests = failed_requests + excluded.failed_requests,
			avg_response_time_ms = (avg_response_time_ms * request_count + excluded.avg_response_time_ms) / (request_count + 1),
			updated_at = excluded.updated_at
	`, keyID, date, hour, successCount, failCount, responseTimeMs, now)

	return err
}

// GetMetrics returns hourly rollups for a key since the given time, newest
// first.
func (r *SQLiteUsageRepository) GetMetrics(ctx context.Context, keyID string, since time.Time) ([]*models.UsageMetric, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT key_id, date, hour, request_count, successful_requests, failed_requests, avg_response_time_ms, updated_at
		FROM usage_metrics
		WHERE key_id = ? AND date >= ?
		ORDER BY date DESC, hour DESC
	`, keyID, since.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var metrics []*models.UsageMetric
	for rows.Next() {
		var m models.UsageMetric
		var updatedAt string

		err := rows.Scan(
			&m.KeyID,
			&m.Date,
			&m.Hour,
			&m.RequestCount,
			&m.SuccessfulRequests,
			&m.FailedRequests,
			&m.AvgResponseTimeMs,
			&updatedAt,
		)
		if err != nil {
			return nil, err
		}

		m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		metrics = append(metrics, &m)
	}

	return metrics, rows.Err()
}

// CleanupClosedWindows deletes counter rows whose window closed before the
// cutoff. Closed rows are immutable history; deleting them never affects
// enforcement.
func (r *SQLiteUsageRepository) CleanupClosedWindows(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM usage_counters WHERE window_end < ?
	`, before.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
