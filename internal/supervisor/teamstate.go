package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// teamState is the persisted shape of state/<team>.json (spec.md §6),
// the record that lets a Stop() or a running-check survive the
// daemon process itself being restarted while a lead agent is alive.
type teamState struct {
	LeadPID   int        `json:"leadPid"`
	StartedAt time.Time  `json:"startedAt"`
	StoppedAt *time.Time `json:"stoppedAt,omitempty"`
}

func writeTeamState(path string, st teamState) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create team state dir: %w", err)
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal team state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write team state: %w", err)
	}
	return os.Rename(tmp, path)
}

func readTeamState(path string) (*teamState, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read team state: %w", err)
	}
	var st teamState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse team state: %w", err)
	}
	return &st, nil
}

// processAlive probes pid with a no-op signal rather than trusting a
// cached handle, the liveness check spec.md §9 calls for across a
// hot-reload.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (s *Supervisor) persistState(st teamState) {
	if err := writeTeamState(s.cfg.StatePath, st); err != nil {
		s.logf("persist team state: %v", err)
	}
}

// persistedChildAlive reports whether the last PID this supervisor (or
// a previous process occupying the same state file) recorded is still
// running, independent of any in-memory process handle.
func (s *Supervisor) persistedChildAlive() (int, bool) {
	return PersistedChildAlive(s.cfg.StatePath)
}

// PersistedChildAlive is persistedChildAlive's exported form, for
// callers that need the cross-restart liveness check before a
// Supervisor for the team even exists (spec.md §9's "never trust a
// cached handle after a process restart").
func PersistedChildAlive(path string) (pid int, alive bool) {
	st, err := readTeamState(path)
	if err != nil || st == nil || st.LeadPID == 0 {
		return 0, false
	}
	return st.LeadPID, processAlive(st.LeadPID)
}

// Running reports whether this supervisor has a live child, by either
// an in-memory handle or the PID it last persisted to its state file —
// the running = childAlive || (persistedPid && processAlive(persistedPid))
// formula spec.md §4.E's failure-semantics section requires so status
// stays correct across a daemon hot-reload.
func (s *Supervisor) Running() bool {
	if s.State() != StateStopped {
		return true
	}
	_, alive := s.persistedChildAlive()
	return alive
}

// escalateByPID applies the same terminate-then-kill sequence
// requestTerminate uses against a live child, but against a bare PID
// recovered from the state file rather than an in-memory handle.
func (s *Supervisor) escalateByPID(pid int) {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	_ = proc.Signal(syscall.SIGTERM)
	time.Sleep(s.terminateKillEscalate())
	if processAlive(pid) {
		_ = proc.Signal(syscall.SIGKILL)
	}
}
