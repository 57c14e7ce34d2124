package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260901-100000",
		Description: "Add sensitive_fields table",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS sensitive_fields (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL DEFAULT '',
				field_name TEXT NOT NULL,
				strategy TEXT,
				mask_show_start INTEGER,
				mask_show_end INTEGER,
				mask_char TEXT,
				replacement TEXT,
				is_active INTEGER NOT NULL DEFAULT 1,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			// project_id is '' for service-wide entries so the unique
			// index covers both scopes.
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_sensitive_fields_scope_name ON sensitive_fields(project_id, field_name)`,
		},
	})
}
