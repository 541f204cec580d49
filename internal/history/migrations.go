package history

import (
	"context"
	"database/sql"
	"fmt"
)

type migration struct {
	Version int
	UpSQL   string
}

var migrations = []migration{
	{
		Version: 1,
		UpSQL: `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cycles (
	cycle_id TEXT PRIMARY KEY,
	team TEXT NOT NULL,
	started_at TEXT NOT NULL,
	ended_at TEXT,
	turns_allocated INTEGER NOT NULL,
	turns_used INTEGER NOT NULL DEFAULT 0,
	exit_reason TEXT,
	session_id TEXT,
	model TEXT,
	total_cost_usd REAL,
	exit_code INTEGER
);

CREATE INDEX IF NOT EXISTS cycles_team_started ON cycles(team, started_at DESC);
`,
	},
}

func applyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("bootstrap schema_migrations: %w", err)
	}
	for _, m := range migrations {
		var applied int
		row := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, m.Version)
		if err := row.Scan(&applied); err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if applied > 0 {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES (?, datetime('now'))`, m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
