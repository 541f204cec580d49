// Package governor enforces a per-session turn budget across cycles,
// mirroring the reference daemon's config-struct-with-defaults shape
// (see internal/stateengine.EngineConfig).
package governor

import "sync"

type Config struct {
	MaxTurns          int
	WarningThreshold  float64 // fraction of budget remaining; default 0.1
	OnBudgetWarning   func(used, max int)
	OnBudgetExhausted func(used, max int)
}

func DefaultConfig(maxTurns int) Config {
	return Config{
		MaxTurns:         maxTurns,
		WarningThreshold: 0.1,
	}
}

// Governor tracks turns used against a budget and fires its callbacks
// at most once per reset() epoch.
type Governor struct {
	mu sync.Mutex

	cfg Config

	used          int
	warned        bool
	exhaustedFired bool
}

func New(cfg Config) *Governor {
	if cfg.WarningThreshold <= 0 {
		cfg.WarningThreshold = 0.1
	}
	return &Governor{cfg: cfg}
}

// RecordTurns increments the used count by n and returns false once
// used >= max after the call. On the transition into exhaustion,
// OnBudgetExhausted fires exactly once per reset epoch.
func (g *Governor) RecordTurns(n int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.used += n
	remaining := g.cfg.MaxTurns - g.used

	if !g.warned && g.cfg.MaxTurns > 0 {
		fraction := float64(remaining) / float64(g.cfg.MaxTurns)
		if fraction <= g.cfg.WarningThreshold {
			g.warned = true
			if g.cfg.OnBudgetWarning != nil {
				g.cfg.OnBudgetWarning(g.used, g.cfg.MaxTurns)
			}
		}
	}

	exhausted := g.used >= g.cfg.MaxTurns
	if exhausted && !g.exhaustedFired {
		g.exhaustedFired = true
		if g.cfg.OnBudgetExhausted != nil {
			g.cfg.OnBudgetExhausted(g.used, g.cfg.MaxTurns)
		}
	}
	return !exhausted
}

// AllocateCycleBudget returns the per-cycle turn cap the supervisor
// should pass to the next child process.
func (g *Governor) AllocateCycleBudget(perCycleCap int) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := g.cfg.MaxTurns - g.used
	if remaining < 0 {
		remaining = 0
	}
	if perCycleCap < remaining {
		return max(0, perCycleCap)
	}
	return remaining
}

// CanSpawn is true iff the budget is not exhausted.
func (g *Governor) CanSpawn() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used < g.cfg.MaxTurns
}

func (g *Governor) Used() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used
}

// Reset zeroes counters and re-arms the warning/exhaustion callbacks
// for a new epoch.
func (g *Governor) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.used = 0
	g.warned = false
	g.exhaustedFired = false
}
