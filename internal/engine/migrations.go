package engine

import (
	"database/sql"

	"github.com/gridsight/gridsight/internal/store"
)

// migrations returns the decision engine's database migrations.
func migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create decision tables",
			Up: func(tx *sql.Tx) error {
				stmts := []string{
					`CREATE TABLE IF NOT EXISTS engine_decisions (
						id             TEXT PRIMARY KEY,
						run_id         TEXT NOT NULL,
						meter_id       TEXT NOT NULL,
						timestamp      DATETIME NOT NULL,
						transformer_id TEXT NOT NULL DEFAULT '',
						voltage        REAL NOT NULL DEFAULT 0,
						current        REAL NOT NULL DEFAULT 0,
						power          REAL NOT NULL DEFAULT 0,
						kwh            REAL NOT NULL DEFAULT 0,
						anomalous      INTEGER NOT NULL DEFAULT 0,
						score          REAL NOT NULL DEFAULT 0,
						pattern        TEXT NOT NULL,
						risk_score     REAL NOT NULL,
						explanation    TEXT NOT NULL DEFAULT '',
						alert          INTEGER NOT NULL DEFAULT 0,
						created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE INDEX IF NOT EXISTS idx_engine_decisions_run ON engine_decisions(run_id)`,
					`CREATE INDEX IF NOT EXISTS idx_engine_decisions_meter ON engine_decisions(meter_id, timestamp)`,
					`CREATE INDEX IF NOT EXISTS idx_engine_decisions_risk ON engine_decisions(risk_score)`,

					`CREATE TABLE IF NOT EXISTS engine_runs (
						id          TEXT PRIMARY KEY,
						rows        INTEGER NOT NULL,
						alerts      INTEGER NOT NULL,
						model_used  INTEGER NOT NULL DEFAULT 0,
						started_at  DATETIME NOT NULL,
						finished_at DATETIME NOT NULL
					)`,
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
