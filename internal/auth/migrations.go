package auth

import (
	"database/sql"

	"github.com/gridsight/gridsight/internal/store"
)

// migrations returns the credential store's database migrations.
func migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create user table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS auth_users (
						id             TEXT PRIMARY KEY,
						username       TEXT NOT NULL UNIQUE,
						name           TEXT NOT NULL DEFAULT '',
						email          TEXT NOT NULL DEFAULT '',
						password_hash  TEXT NOT NULL,
						role           TEXT NOT NULL DEFAULT 'viewer',
						alerts_enabled INTEGER NOT NULL DEFAULT 1,
						created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
						last_login     DATETIME,
						disabled       INTEGER NOT NULL DEFAULT 0
					)`)
				return err
			},
		},
	}
}
