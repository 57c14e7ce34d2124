package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260605-120000",
		Description: "Add alert_rules and alert_history tables",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS alert_rules (
				id TEXT PRIMARY KEY,
				project_id TEXT,
				key_id TEXT,
				name TEXT NOT NULL,
				metric TEXT NOT NULL,
				operator TEXT NOT NULL CHECK (operator IN ('>', '>=', '<', '<=', '=')),
				threshold INTEGER NOT NULL,
				threshold_percent INTEGER,
				cooldown_seconds INTEGER NOT NULL DEFAULT 900,
				is_active INTEGER NOT NULL DEFAULT 1,
				last_triggered_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_alert_rules_key_id ON alert_rules(key_id)`,
			`CREATE INDEX IF NOT EXISTS idx_alert_rules_project_id ON alert_rules(project_id)`,
			`CREATE INDEX IF NOT EXISTS idx_alert_rules_active ON alert_rules(is_active)`,

			// Every evaluation that matched the rule condition gets a row,
			// including ones suppressed by the cooldown.
			`CREATE TABLE IF NOT EXISTS alert_history (
				id TEXT PRIMARY KEY,
				rule_id TEXT NOT NULL,
				key_id TEXT,
				outcome TEXT NOT NULL CHECK (outcome IN ('triggered', 'suppressed')),
				metric_value INTEGER NOT NULL,
				threshold INTEGER NOT NULL,
				message TEXT,
				created_at TEXT NOT NULL,
				FOREIGN KEY (rule_id) REFERENCES alert_rules(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_alert_history_rule_id ON alert_history(rule_id, created_at)`,
		},
	})
}
