package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260618-140000",
		Description: "Add audit_log table",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS audit_log (
				id TEXT PRIMARY KEY,
				event_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				key_id TEXT,
				project_id TEXT,
				correlation_id TEXT,
				payload_json TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_log_event_type ON audit_log(event_type, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_log_key_id ON audit_log(key_id, created_at)`,
		},
	})
}
