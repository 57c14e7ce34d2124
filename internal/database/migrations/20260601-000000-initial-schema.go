package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260601-000000",
		Description: "Initial schema: projects, api_keys, limit_settings",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS projects (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				prefix TEXT NOT NULL DEFAULT 'akm',
				description TEXT,
				is_active INTEGER NOT NULL DEFAULT 1,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,

			// API keys store only the SHA-256 digest; the plaintext is shown
			// once at creation and never persisted.
			`CREATE TABLE IF NOT EXISTS api_keys (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				name TEXT NOT NULL,
				key_hash TEXT NOT NULL UNIQUE,
				key_prefix TEXT NOT NULL,
				scopes TEXT NOT NULL DEFAULT '[]',
				is_active INTEGER NOT NULL DEFAULT 1,
				expires_at TEXT,
				revoked_at TEXT,
				last_used_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_api_keys_project_id ON api_keys(project_id)`,
			`CREATE INDEX IF NOT EXISTS idx_api_keys_key_hash ON api_keys(key_hash)`,

			// One row per scope target. Global rows leave project_id and
			// key_id empty. NULL limit columns mean "inherit from the next
			// layer up".
			`CREATE TABLE IF NOT EXISTS limit_settings (
				id TEXT PRIMARY KEY,
				scope TEXT NOT NULL CHECK (scope IN ('global', 'project', 'key')),
				project_id TEXT NOT NULL DEFAULT '',
				key_id TEXT NOT NULL DEFAULT '',
				per_minute INTEGER,
				per_hour INTEGER,
				per_day INTEGER,
				per_month INTEGER,
				warn_percent INTEGER,
				allowed_ips TEXT,
				allowed_methods TEXT,
				allowed_time_start TEXT,
				allowed_time_end TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				UNIQUE(scope, project_id, key_id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_limit_settings_key ON limit_settings(scope, key_id)`,
			`CREATE INDEX IF NOT EXISTS idx_limit_settings_project ON limit_settings(scope, project_id)`,
		},
	})
}
