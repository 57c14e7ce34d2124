package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260610-090000",
		Description: "Add webhooks and webhook_deliveries tables",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS webhooks (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				key_id TEXT,
				name TEXT NOT NULL,
				url TEXT NOT NULL,
				secret_encrypted TEXT,
				events TEXT NOT NULL DEFAULT '["*"]',
				headers_json TEXT,
				timeout_seconds INTEGER NOT NULL DEFAULT 30,
				max_retries INTEGER NOT NULL DEFAULT 5,
				is_active INTEGER NOT NULL DEFAULT 1,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				UNIQUE(project_id, name),
				FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_webhooks_project_id ON webhooks(project_id)`,
			`CREATE INDEX IF NOT EXISTS idx_webhooks_project_active ON webhooks(project_id, is_active)`,

			// One delivery per (webhook, event). The UNIQUE constraint is
			// what makes dispatch idempotent under republish.
			`CREATE TABLE IF NOT EXISTS webhook_deliveries (
				id TEXT PRIMARY KEY,
				webhook_id TEXT NOT NULL,
				event_id TEXT NOT NULL,
				event_type TEXT NOT NULL,
				url TEXT NOT NULL,
				payload_json TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				attempt_count INTEGER NOT NULL DEFAULT 0,
				max_retries INTEGER NOT NULL DEFAULT 5,
				last_attempt_at TEXT,
				last_response_code INTEGER,
				last_error TEXT,
				next_retry_at TEXT,
				created_at TEXT NOT NULL,
				delivered_at TEXT,
				UNIQUE(webhook_id, event_id),
				FOREIGN KEY (webhook_id) REFERENCES webhooks(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_webhook_id ON webhook_deliveries(webhook_id)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_status ON webhook_deliveries(status)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_next_retry ON webhook_deliveries(status, next_retry_at)`,
		},
	})
}
