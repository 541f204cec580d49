package history_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/clamban/clamban/internal/history"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := history.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordCycleStartAndEnd(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	started := time.Now().UTC().Truncate(time.Second)
	err := s.RecordCycleStart(ctx, history.Cycle{
		CycleID:        "c1",
		Team:           "alpha",
		StartedAt:      started,
		TurnsAllocated: 10,
		Model:          "claude-sonnet",
	})
	if err != nil {
		t.Fatalf("record start: %v", err)
	}

	cost := 1.23
	code := 0
	ended := started.Add(5 * time.Minute)
	if err := s.RecordCycleEnd(ctx, "c1", ended, 7, "idle", "sess-1", &cost, &code); err != nil {
		t.Fatalf("record end: %v", err)
	}

	cycles, err := s.ListRecentByTeam(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d", len(cycles))
	}
	c := cycles[0]
	if c.CycleID != "c1" || c.TurnsUsed != 7 || c.ExitReason != "idle" || c.SessionID != "sess-1" {
		t.Fatalf("unexpected cycle: %+v", c)
	}
	if c.EndedAt == nil || !c.EndedAt.Equal(ended) {
		t.Fatalf("endedAt = %v, want %v", c.EndedAt, ended)
	}
	if c.TotalCostUSD == nil || *c.TotalCostUSD != cost {
		t.Fatalf("totalCostUSD = %v, want %v", c.TotalCostUSD, cost)
	}
	if c.ExitCode == nil || *c.ExitCode != code {
		t.Fatalf("exitCode = %v, want %v", c.ExitCode, code)
	}
}

func TestListRecentByTeamOrdersNewestFirstAndFiltersByTeam(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	seed := func(id, team string, offset time.Duration) {
		if err := s.RecordCycleStart(ctx, history.Cycle{CycleID: id, Team: team, StartedAt: base.Add(offset)}); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
	seed("a1", "alpha", 0)
	seed("a2", "alpha", time.Minute)
	seed("b1", "beta", 2*time.Minute)

	cycles, err := s.ListRecentByTeam(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("expected 2 alpha cycles, got %d", len(cycles))
	}
	if cycles[0].CycleID != "a2" || cycles[1].CycleID != "a1" {
		t.Fatalf("expected newest-first ordering, got %v then %v", cycles[0].CycleID, cycles[1].CycleID)
	}
}

func TestListRecentByTeamRespectsLimit(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	ids := []string{"c0", "c1", "c2", "c3", "c4"}
	for i, id := range ids {
		err := s.RecordCycleStart(ctx, history.Cycle{
			CycleID:   id,
			Team:      "alpha",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("seed cycle %d: %v", i, err)
		}
	}
	cycles, err := s.ListRecentByTeam(ctx, "alpha", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cycles) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(cycles))
	}
}

func TestListRecentByTeamUnknownTeamReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	cycles, err := s.ListRecentByTeam(ctx, "nonexistent", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cycles) != 0 {
		t.Fatalf("expected no cycles, got %v", cycles)
	}
}
