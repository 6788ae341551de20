package vault

import (
	"database/sql"

	"github.com/tradervane/brokerpulse/internal/store"
)

func migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create vault tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS vault_master (
						id INTEGER PRIMARY KEY CHECK (id = 1),
						salt BLOB NOT NULL,
						wrapped_dek BLOB NOT NULL,
						verification_blob BLOB NOT NULL,
						created_at DATETIME NOT NULL,
						updated_at DATETIME NOT NULL
					)`,

					`CREATE TABLE IF NOT EXISTS vault_credentials (
						id TEXT PRIMARY KEY,
						user_id TEXT NOT NULL,
						server TEXT NOT NULL,
						login TEXT NOT NULL,
						sealed_secret BLOB NOT NULL,
						created_at DATETIME NOT NULL,
						updated_at DATETIME NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS idx_vault_credentials_user ON vault_credentials(user_id)`,
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
