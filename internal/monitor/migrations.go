package monitor

import (
	"database/sql"

	"github.com/tradervane/brokerpulse/internal/store"
)

func migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create monitor health and alert audit tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS monitor_health (
						user_id TEXT NOT NULL,
						credential_id TEXT NOT NULL,
						status TEXT NOT NULL DEFAULT 'unknown',
						response_time_ms INTEGER NOT NULL DEFAULT 0,
						last_checked_at DATETIME,
						consecutive_failures INTEGER NOT NULL DEFAULT 0,
						total_checks INTEGER NOT NULL DEFAULT 0,
						successful_checks INTEGER NOT NULL DEFAULT 0,
						uptime_percentage REAL NOT NULL DEFAULT 100,
						error_message TEXT NOT NULL DEFAULT '',
						PRIMARY KEY (user_id, credential_id)
					)`,

					`CREATE TABLE IF NOT EXISTS monitor_alert_audit (
						id TEXT PRIMARY KEY,
						user_id TEXT NOT NULL,
						credential_id TEXT NOT NULL,
						kind TEXT NOT NULL,
						severity TEXT NOT NULL DEFAULT 'medium',
						message TEXT NOT NULL,
						observed_at DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_monitor_alert_audit_user_time ON monitor_alert_audit(user_id, observed_at)`,
				}
				for _, stmt := range stmts {
					if _, err := tx.Exec(stmt); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
