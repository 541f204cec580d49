// Package history indexes completed agent cycles in a small SQLite
// database, following the reference daemon's internal/db.Store
// open/migrate shape, repointed from pane/runtime/action tracking to
// a single cycles table. This is an audit trail, never a second copy
// of board state, and is never consulted to decide supervisor
// transitions.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Cycle is one row of the cycle history index.
type Cycle struct {
	CycleID        string
	Team           string
	StartedAt      time.Time
	EndedAt        *time.Time
	TurnsAllocated int
	TurnsUsed      int
	ExitReason     string
	SessionID      string
	Model          string
	TotalCostUSD   *float64
	ExitCode       *int
}

// RecordCycleStart inserts a new open cycle row.
func (s *Store) RecordCycleStart(ctx context.Context, c Cycle) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO cycles(cycle_id, team, started_at, turns_allocated, turns_used, model)
VALUES (?, ?, ?, ?, 0, ?)
`, c.CycleID, c.Team, ts(c.StartedAt), c.TurnsAllocated, c.Model)
	if err != nil {
		return fmt.Errorf("record cycle start: %w", err)
	}
	return nil
}

// RecordCycleEnd fills in the terminal fields of an existing cycle row.
func (s *Store) RecordCycleEnd(ctx context.Context, cycleID string, endedAt time.Time, turnsUsed int, exitReason, sessionID string, totalCostUSD *float64, exitCode *int) error {
	var cost any
	if totalCostUSD != nil {
		cost = *totalCostUSD
	}
	var code any
	if exitCode != nil {
		code = *exitCode
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE cycles SET ended_at = ?, turns_used = ?, exit_reason = ?, session_id = ?, total_cost_usd = ?, exit_code = ?
WHERE cycle_id = ?
`, ts(endedAt), turnsUsed, exitReason, sessionID, cost, code, cycleID)
	if err != nil {
		return fmt.Errorf("record cycle end: %w", err)
	}
	return nil
}

// ListRecentByTeam returns the most recent cycles for team, newest
// first, capped at limit rows.
func (s *Store) ListRecentByTeam(ctx context.Context, team string, limit int) ([]Cycle, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT cycle_id, team, started_at, ended_at, turns_allocated, turns_used, exit_reason, session_id, model, total_cost_usd, exit_code
FROM cycles WHERE team = ? ORDER BY started_at DESC LIMIT ?
`, team, limit)
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var c Cycle
		var startedAt string
		var endedAt, exitReason, sessionID, model sql.NullString
		var cost sql.NullFloat64
		var exitCode sql.NullInt64
		if err := rows.Scan(&c.CycleID, &c.Team, &startedAt, &endedAt, &c.TurnsAllocated, &c.TurnsUsed, &exitReason, &sessionID, &model, &cost, &exitCode); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339, startedAt); err == nil {
			c.StartedAt = parsed
		}
		if endedAt.Valid {
			if parsed, err := time.Parse(time.RFC3339, endedAt.String); err == nil {
				c.EndedAt = &parsed
			}
		}
		c.ExitReason = exitReason.String
		c.SessionID = sessionID.String
		c.Model = model.String
		if cost.Valid {
			v := cost.Float64
			c.TotalCostUSD = &v
		}
		if exitCode.Valid {
			v := int(exitCode.Int64)
			c.ExitCode = &v
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return out, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
