// Package supervisor drives the cycle loop that keeps an external
// agent lead pointed at a shared board: spawn it, let it work a
// turn-budgeted cycle, and decide whether to respawn. The whole FSM
// lives on one goroutine reached only through a command channel,
// generalizing the reference daemon's single-owner rule for
// Server.mu-guarded state (internal/daemon/server.go) into an
// explicit channel instead of a mutex, the way spec.md §9's design
// note describes. Cycles run on their own goroutine so the command
// loop stays responsive to stop/boardChanged while a child is alive.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/clamban/clamban/internal/agentproc"
	"github.com/clamban/clamban/internal/governor"
	"github.com/clamban/clamban/internal/history"
	"github.com/clamban/clamban/internal/logstore"
)

type State string

const (
	StateStopped State = "stopped"
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePending State = "pending"
)

// ExitReason classifies why a cycle's child process ended, recorded
// in the Cycle History Index alongside its turn counts.
type ExitReason string

const (
	ExitClean           ExitReason = "clean"
	ExitCrashGuard      ExitReason = "crash-guard"
	ExitBudgetExhausted ExitReason = "budget-exhausted"
	ExitStopped         ExitReason = "stopped"
)

// Config binds one supervisor to one team's board.
type Config struct {
	Team       string
	ProjectDir string
	AgentCmd   string
	Model      string
	MaxTurns   int
	PerCycle   int

	// StatePath is where state/<team>.json (spec.md §6) persists the
	// lead agent's PID across a daemon restart. Empty disables
	// persistence.
	StatePath string

	IdleDebounce          time.Duration
	RespawnDebounce       time.Duration
	CrashGuardWindow      time.Duration
	TerminateKillEscalate time.Duration

	// PromptBuilder renders the stdin prompt for the next cycle. Called
	// on the cycle goroutine, never on the FSM goroutine.
	PromptBuilder func() (string, error)

	Logs    *logstore.Store
	History *history.Store

	OnStateChange func(State)
}

type command struct {
	kind string // start | stop | boardChanged | childExit | childTurns | tick
	n    int
	exit *cycleExit
}

type cycleExit struct {
	cycleID   string
	startedAt time.Time
	turnsUsed int
}

// Supervisor owns the FSM goroutine for one team.
type Supervisor struct {
	cfg  Config
	gov  *governor.Governor
	cmds chan command

	mu        sync.Mutex
	state     State
	started   bool
	cancel    context.CancelFunc
	curProc   *agentproc.Process
	stopWant  bool
	cycleMeta map[string]*cycleMeta
}

func New(cfg Config) *Supervisor {
	if cfg.PerCycle <= 0 {
		cfg.PerCycle = cfg.MaxTurns
	}
	return &Supervisor{
		cfg:   cfg,
		gov:   governor.New(governor.DefaultConfig(cfg.MaxTurns)),
		cmds:  make(chan command, 16),
		state: StateStopped,
	}
}

// State returns the supervisor's current FSM state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Used returns the turns consumed against the session budget so far.
func (s *Supervisor) Used() int {
	return s.gov.Used()
}

// Run starts the FSM goroutine. It blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.loop(runCtx)
}

// Start requests the STOPPED → RUNNING transition: reset the
// governor, clear the team log, and spawn the first cycle
// immediately. Callers (the HTTP layer) are responsible for
// rejecting a start request while the supervisor isn't STOPPED.
func (s *Supervisor) Start() { s.send(command{kind: "start"}) }

// Stop requests the universal cancel: terminate any live child
// (escalating to a kill) and settle into STOPPED.
func (s *Supervisor) Stop() { s.send(command{kind: "stop"}) }

// NotifyBoardChanged tells the supervisor the board mutated under it:
// from IDLE it (re)arms the idle debounce; from RUNNING it sets the
// pending-respawn flag and moves to PENDING.
func (s *Supervisor) NotifyBoardChanged() { s.send(command{kind: "boardChanged"}) }

// Close tears down the FSM goroutine started by Run, for use at
// daemon shutdown.
func (s *Supervisor) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Supervisor) send(c command) {
	select {
	case s.cmds <- c:
	default:
		// command queue is bounded; a full queue means a cycle's already
		// being scheduled, so dropping a duplicate wakeup is harmless.
	}
}

func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	s.state = next
	cb := s.cfg.OnStateChange
	s.mu.Unlock()
	if cb != nil {
		cb(next)
	}
}

// loop is the single goroutine that owns all FSM transitions. Every
// other method only ever reaches it by sending on s.cmds.
func (s *Supervisor) loop(ctx context.Context) {
	var idleTimer *time.Timer
	var respawnCh <-chan time.Time
	pendingBoardChange := false
	var lastSpawnAt time.Time

	clearIdle := func() {
		if idleTimer != nil {
			idleTimer.Stop()
			idleTimer = nil
		}
	}
	armIdle := func() {
		clearIdle()
		d := s.cfg.IdleDebounce
		if d <= 0 {
			d = 3 * time.Second
		}
		idleTimer = time.NewTimer(d)
	}
	spawn := func() {
		pendingBoardChange = false
		lastSpawnAt = time.Now().UTC()
		s.setState(StateRunning)
		go s.runCycle(ctx, lastSpawnAt)
	}

	for {
		var idleCh <-chan time.Time
		if idleTimer != nil {
			idleCh = idleTimer.C
		}

		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			return

		case c := <-s.cmds:
			switch c.kind {
			case "start":
				if s.State() != StateStopped {
					continue
				}
				s.gov.Reset()
				if s.cfg.Logs != nil {
					_ = s.cfg.Logs.Clear(s.cfg.Team)
				}
				spawn()

			case "stop":
				clearIdle()
				respawnCh = nil
				pendingBoardChange = false
				switch s.State() {
				case StateRunning, StatePending:
					s.mu.Lock()
					s.stopWant = true
					s.mu.Unlock()
					s.requestTerminate()
				default:
					// No in-memory handle: the child may have survived a
					// daemon hot-reload. Recover its PID from disk and
					// apply the same terminate-then-kill escalation, off
					// the FSM goroutine so a slow kill can't stall it.
					if pid, alive := s.persistedChildAlive(); alive {
						go s.escalateByPID(pid)
					}
					s.persistStopped()
					s.setState(StateStopped)
				}

			case "boardChanged":
				switch s.State() {
				case StateIdle:
					armIdle()
				case StateRunning:
					pendingBoardChange = true
					s.setState(StatePending)
				case StatePending:
					pendingBoardChange = true
				}

			case "childTurns":
				if !s.gov.RecordTurns(c.n) {
					// budget just exhausted mid-cycle; ask the child to wind
					// down rather than waiting for it to exit on its own.
					s.requestTerminate()
				}

			case "childExit":
				s.mu.Lock()
				s.curProc = nil
				stopWanted := s.stopWant
				s.stopWant = false
				s.mu.Unlock()

				elapsed := time.Since(lastSpawnAt)
				switch {
				case stopWanted:
					s.persistStopped()
					s.recordExit(ctx, c.exit, ExitStopped)
					s.setState(StateStopped)
				case elapsed < s.crashGuardWindow():
					s.persistStopped()
					s.recordExit(ctx, c.exit, ExitCrashGuard)
					s.setState(StateStopped)
				case !s.gov.CanSpawn():
					s.persistStopped()
					s.recordExit(ctx, c.exit, ExitBudgetExhausted)
					s.setState(StateStopped)
				case pendingBoardChange:
					s.recordExit(ctx, c.exit, ExitClean)
					respawnCh = time.After(s.respawnDebounce())
				default:
					s.recordExit(ctx, c.exit, ExitClean)
					s.setState(StateIdle)
				}

			case "tick":
				// reserved for a future liveness probe against the child
				// PID; no-op today.
			}

		case <-idleCh:
			idleTimer = nil
			if s.State() == StateIdle {
				spawn()
			}

		case <-respawnCh:
			respawnCh = nil
			if s.gov.CanSpawn() {
				spawn()
			} else {
				s.persistStopped()
				s.setState(StateStopped)
			}
		}
	}
}

func (s *Supervisor) recordExit(ctx context.Context, exit *cycleExit, reason ExitReason) {
	if exit == nil {
		return
	}
	s.finishCycle(ctx, exit.cycleID, exit.startedAt, exit.turnsUsed, reason)
}

func (s *Supervisor) respawnDebounce() time.Duration {
	if s.cfg.RespawnDebounce <= 0 {
		return time.Second
	}
	return s.cfg.RespawnDebounce
}

func (s *Supervisor) crashGuardWindow() time.Duration {
	if s.cfg.CrashGuardWindow <= 0 {
		return 5 * time.Second
	}
	return s.cfg.CrashGuardWindow
}

func (s *Supervisor) terminateKillEscalate() time.Duration {
	if s.cfg.TerminateKillEscalate <= 0 {
		return 5 * time.Second
	}
	return s.cfg.TerminateKillEscalate
}

// requestTerminate signals the live child to wind down, escalating to
// a kill if it hasn't exited within the terminate-kill window.
func (s *Supervisor) requestTerminate() {
	s.mu.Lock()
	proc := s.curProc
	s.mu.Unlock()
	if proc == nil {
		return
	}
	_ = proc.Signal()
	go func() {
		time.Sleep(s.terminateKillEscalate())
		s.mu.Lock()
		stillCurrent := s.curProc == proc
		s.mu.Unlock()
		if stillCurrent {
			_ = proc.Kill()
		}
	}()
}

// runCycle spawns one child, drains its stdout until exit, records
// cycle-start/session history, and reports completion to the FSM loop
// via a childExit command. It never touches FSM state directly.
func (s *Supervisor) runCycle(ctx context.Context, startedAt time.Time) {
	cycleID := fmt.Sprintf("%s-%d", s.cfg.Team, startedAt.UnixNano())
	turnsUsed := s.runCycleOnce(ctx, cycleID, startedAt)
	s.send(command{kind: "childExit", exit: &cycleExit{cycleID: cycleID, startedAt: startedAt, turnsUsed: turnsUsed}})
}

func (s *Supervisor) runCycleOnce(ctx context.Context, cycleID string, startedAt time.Time) int {
	turnCap := s.gov.AllocateCycleBudget(s.cfg.PerCycle)
	if turnCap <= 0 {
		return 0
	}

	prompt := ""
	if s.cfg.PromptBuilder != nil {
		p, err := s.cfg.PromptBuilder()
		if err != nil {
			s.logf("cycle %s: build prompt: %v", cycleID, err)
			return 0
		}
		prompt = p
	}

	if s.cfg.History != nil {
		_ = s.cfg.History.RecordCycleStart(ctx, history.Cycle{
			CycleID:        cycleID,
			Team:           s.cfg.Team,
			StartedAt:      startedAt,
			TurnsAllocated: turnCap,
			Model:          s.cfg.Model,
		})
	}
	s.logf("cycle %s: spawning, turn cap %d", cycleID, turnCap)

	proc, err := agentproc.Start(ctx, agentproc.Spec{
		Command:    s.cfg.AgentCmd,
		Model:      s.cfg.Model,
		MaxTurns:   turnCap,
		ProjectDir: s.cfg.ProjectDir,
		Prompt:     prompt,
	})
	if err != nil {
		s.logf("cycle %s: spawn failed: %v", cycleID, err)
		return 0
	}
	s.mu.Lock()
	s.curProc = proc
	s.mu.Unlock()
	s.persistState(teamState{LeadPID: proc.PID(), StartedAt: startedAt})

	turnsUsed := 0
	for {
		event, ok := proc.Next()
		if !ok {
			break
		}
		switch event.Kind {
		case agentproc.EventInit:
			s.logf("cycle %s: session %s model %s", cycleID, event.Init.SessionID, event.Init.Model)
			s.cycleSessionID(cycleID, event.Init.SessionID)
		case agentproc.EventAssistant:
			for _, text := range event.Assistant.TextBlocks {
				s.logf("cycle %s: assistant: %s", cycleID, text)
			}
			for _, tool := range event.Assistant.ToolUses {
				s.logf("cycle %s: tool_use: %s", cycleID, tool)
			}
		case agentproc.EventResult:
			if event.Result.NumTurns != nil {
				turnsUsed = *event.Result.NumTurns
				s.send(command{kind: "childTurns", n: turnsUsed})
			}
			s.cycleCost(cycleID, event.Result.TotalCostUSD)
			s.logf("cycle %s: result %s (turns %d)", cycleID, event.Result.Subtype, turnsUsed)
		case agentproc.EventUnknown:
			s.logf("cycle %s: unparsed: %s", cycleID, event.Raw)
		}
	}

	exitCode, stderrText, waitErr := proc.Wait()
	if waitErr != nil {
		s.logf("cycle %s: wait error: %v", cycleID, waitErr)
	}
	if stderrText != "" {
		s.logf("cycle %s: stderr: %s", cycleID, stderrText)
	}
	s.cycleExitCode(cycleID, exitCode)
	s.persistState(teamState{LeadPID: 0, StartedAt: startedAt})

	if turnsUsed == 0 {
		turnsUsed = 1 // the child consumed at least one turn by running at all
		s.send(command{kind: "childTurns", n: turnsUsed})
	}
	return turnsUsed
}

// cycleSessionID, cycleCost and cycleExitCode stash per-cycle fields
// the FSM goroutine doesn't otherwise see, keyed by cycle id, so
// finishCycle can fill in the history row's optional columns.
func (s *Supervisor) cycleSessionID(cycleID, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cycleMeta == nil {
		s.cycleMeta = map[string]*cycleMeta{}
	}
	s.metaFor(cycleID).sessionID = sessionID
}

func (s *Supervisor) cycleCost(cycleID string, cost *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metaFor(cycleID).totalCost = cost
}

func (s *Supervisor) cycleExitCode(cycleID string, code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metaFor(cycleID).exitCode = &code
}

func (s *Supervisor) metaFor(cycleID string) *cycleMeta {
	if s.cycleMeta == nil {
		s.cycleMeta = map[string]*cycleMeta{}
	}
	m, ok := s.cycleMeta[cycleID]
	if !ok {
		m = &cycleMeta{}
		s.cycleMeta[cycleID] = m
	}
	return m
}

type cycleMeta struct {
	sessionID string
	totalCost *float64
	exitCode  *int
}

func (s *Supervisor) finishCycle(ctx context.Context, cycleID string, startedAt time.Time, turnsUsed int, reason ExitReason) {
	s.mu.Lock()
	meta := s.cycleMeta[cycleID]
	delete(s.cycleMeta, cycleID)
	s.mu.Unlock()

	var sessionID string
	var totalCost *float64
	var exitCode *int
	if meta != nil {
		sessionID, totalCost, exitCode = meta.sessionID, meta.totalCost, meta.exitCode
	}

	if s.cfg.History != nil {
		if err := s.cfg.History.RecordCycleEnd(ctx, cycleID, time.Now().UTC(), turnsUsed, string(reason), sessionID, totalCost, exitCode); err != nil {
			s.logf("cycle %s: record history: %v", cycleID, err)
		}
	}
	s.logf("cycle %s: ended, reason %s, turns %d", cycleID, reason, turnsUsed)
}

func (s *Supervisor) persistStopped() {
	now := time.Now().UTC()
	s.persistState(teamState{StoppedAt: &now})
}

func (s *Supervisor) logf(format string, args ...any) {
	if s.cfg.Logs != nil {
		if err := s.cfg.Logs.Appendf(s.cfg.Team, format, args...); err != nil {
			log.Printf("supervisor: log append failed: %v", err)
		}
		return
	}
	log.Printf(format, args...)
}
