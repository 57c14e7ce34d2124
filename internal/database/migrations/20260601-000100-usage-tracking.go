package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260601-000100",
		Description: "Add usage_counters and usage_metrics tables",
		Up: []string{
			// One row per key per calendar window instance. count is only
			// ever moved by the conditional increment in the usage repo, so
			// the ceiling can never be overshot.
			`CREATE TABLE IF NOT EXISTS usage_counters (
				key_id TEXT NOT NULL,
				window TEXT NOT NULL CHECK (window IN ('minute', 'hour', 'day', 'month')),
				window_start TEXT NOT NULL,
				window_end TEXT NOT NULL,
				count INTEGER NOT NULL DEFAULT 0,
				warned INTEGER NOT NULL DEFAULT 0,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (key_id, window, window_start)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_counters_window_end ON usage_counters(window_end)`,

			// Hourly rollup for usage dashboards. avg_response_time_ms is a
			// moving average updated on each recorded request.
			`CREATE TABLE IF NOT EXISTS usage_metrics (
				key_id TEXT NOT NULL,
				date TEXT NOT NULL,
				hour INTEGER NOT NULL,
				request_count INTEGER NOT NULL DEFAULT 0,
				successful_requests INTEGER NOT NULL DEFAULT 0,
				failed_requests INTEGER NOT NULL DEFAULT 0,
				avg_response_time_ms INTEGER NOT NULL DEFAULT 0,
				updated_at TEXT NOT NULL,
				PRIMARY KEY (key_id, date, hour)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_usage_metrics_date ON usage_metrics(date)`,
		},
	})
}
