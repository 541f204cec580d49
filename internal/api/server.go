// Package api implements clambanserverd's local HTTP + SSE surface:
// the board CRUD routes, team lifecycle routes, and the event stream
// mutation endpoints broadcast on. Grounded on the reference daemon's
// internal/daemon/server.go (ServeMux wiring, writeJSON/writeError
// pair, flock-based single-instance lock) and internal/api/v1.go
// (response envelope shapes), rebuilt on a loopback TCP listener
// instead of a Unix domain socket so a browser client can dial it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/clamban/clamban/internal/board"
	"github.com/clamban/clamban/internal/config"
	"github.com/clamban/clamban/internal/history"
	"github.com/clamban/clamban/internal/logstore"
	"github.com/clamban/clamban/internal/model"
	"github.com/clamban/clamban/internal/supervisor"
	"github.com/clamban/clamban/internal/teamdir"
)

type Server struct {
	cfg      config.Config
	httpSrv  *http.Server
	listener net.Listener
	lockFile *os.File

	boards  *board.Store
	history *history.Store
	logs    *logstore.Store
	hub     *hub

	mu       sync.Mutex
	sup      *supervisor.Supervisor
	supTeam  string
	supStop  context.CancelFunc

	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, boards *board.Store, hist *history.Store, logs *logstore.Store) *Server {
	mux := http.NewServeMux()
	s := &Server{
		cfg:     cfg,
		boards:  boards,
		history: hist,
		logs:    logs,
		hub:     newHub(),
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}

	mux.HandleFunc("/api/healthz", s.healthHandler)
	mux.HandleFunc("/api/events", s.eventsHandler)
	mux.HandleFunc("/api/board", s.boardHandler)
	mux.HandleFunc("/api/tasks", s.tasksCollectionHandler)
	mux.HandleFunc("/api/tasks/", s.taskSubrouteHandler)
	mux.HandleFunc("/api/team", s.teamStatusHandler)
	mux.HandleFunc("/api/team/connect", s.teamConnectHandler)
	mux.HandleFunc("/api/team/disconnect", s.teamDisconnectHandler)
	mux.HandleFunc("/api/team/start", s.teamStartHandler)
	mux.HandleFunc("/api/team/stop", s.teamStopHandler)
	mux.HandleFunc("/api/team/logs", s.teamLogsHandler)
	mux.HandleFunc("/api/team/history", s.teamHistoryHandler)
	mux.HandleFunc("/api/teams/available", s.teamsAvailableHandler)

	return s
}

// Start acquires the single-instance lock, binds the loopback
// listener, and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.LockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	if err := s.acquireLock(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		_ = s.releaseLock()
		return fmt.Errorf("listen http: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		s.stopSupervisorLocked()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		s.mu.Lock()
		ln := s.listener
		s.listener = nil
		s.mu.Unlock()
		if ln != nil {
			if err := ln.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.releaseLock(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			s.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutdownErr
}

func (s *Server) acquireLock() error {
	f, err := os.OpenFile(s.cfg.LockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("clambanserverd already running")
	}
	s.mu.Lock()
	s.lockFile = f
	s.mu.Unlock()
	return nil
}

func (s *Server) releaseLock() error {
	s.mu.Lock()
	f := s.lockFile
	s.lockFile = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow ...string) {
	if len(allow) > 0 {
		w.Header().Set("Allow", strings.Join(allow, ", "))
	}
	s.writeError(w, http.StatusMethodNotAllowed, model.ErrValidation, "method not allowed")
}

// writeValidationErr maps a board.ValidationError onto the HTTP
// status its code implies; every other error becomes a 500.
func (s *Server) writeValidationErr(w http.ResponseWriter, err error) {
	var verr *board.ValidationError
	if errors.As(err, &verr) {
		status := http.StatusBadRequest
		switch verr.Code {
		case model.ErrTaskNotFound, model.ErrRefTargetNotFound:
			status = http.StatusNotFound
		}
		s.writeError(w, status, verr.Code, verr.Message)
		return
	}
	s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	active, _ := s.boards.GetActiveTeam()
	state := ""
	s.mu.Lock()
	if s.sup != nil {
		state = string(s.sup.State())
	}
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", ActiveTeam: active, SupervisorState: state})
}

func (s *Server) boardHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	b, err := s.boards.Read()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrBoardCorrupt, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) broadcastBoardChanged() { s.hub.broadcast("board-changed") }
func (s *Server) broadcastTeamChanged()  { s.hub.broadcast("team-changed") }

// notifySupervisorBoardChanged tells a running supervisor the board it
// drives just mutated, so the cycle scheduler can react (spec.md §4.E:
// idle re-arm or pending respawn) instead of only finding out on its
// own idle timer.
func (s *Server) notifySupervisorBoardChanged() {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup != nil {
		sup.NotifyBoardChanged()
	}
}

// NotifyBoardChanged is notifySupervisorBoardChanged's exported form,
// for callers outside the package (the daemon's team-dir watcher).
func (s *Server) NotifyBoardChanged() { s.notifySupervisorBoardChanged() }

func parseLimit(raw string, def, maxCap int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxCap {
		return maxCap
	}
	return n
}

func sortedTaskSlice(tasks map[string]model.Task, column model.Column) []model.Task {
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if column != "" && t.Column != column {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func currentTeamConfig(b model.Board) (*model.TeamConfig, bool) {
	if b.Meta.Team == nil {
		return nil, false
	}
	return b.Meta.Team, true
}

// ---- team lifecycle ----

func (s *Server) teamStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	b, err := s.boards.Read()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrBoardCorrupt, err.Error())
		return
	}
	resp := TeamStatusResponse{GeneratedAt: time.Now().UTC()}
	if team, ok := currentTeamConfig(b); ok {
		resp.Connected = true
		resp.Name = team.Name
		resp.ProjectDir = team.ProjectDir
		resp.Model = team.Model
		resp.MaxTurns = team.MaxTurns
		resp.AgentCommand = team.AgentCommand
		resp.AutoStart = team.AutoStart
	}
	s.mu.Lock()
	if s.sup != nil {
		resp.SupervisorState = string(s.sup.State())
		resp.TurnsUsed = s.sup.Used()
	}
	s.mu.Unlock()
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) teamConnectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req ConnectTeamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrValidation, "malformed request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.ProjectDir = strings.TrimSpace(req.ProjectDir)
	if req.Name == "" || req.ProjectDir == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrValidation, "name and projectDir are required")
		return
	}
	if req.MaxTurns <= 0 {
		req.MaxTurns = s.cfg.DefaultMaxTurns
	}

	s.mu.Lock()
	s.stopSupervisorLocked()
	s.mu.Unlock()

	if err := s.boards.SetActiveTeam(req.Name); err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	b, err := s.boards.Read()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrBoardCorrupt, err.Error())
		return
	}
	b.Meta.Team = &model.TeamConfig{
		Name:         req.Name,
		ProjectDir:   req.ProjectDir,
		Model:        req.Model,
		MaxTurns:     req.MaxTurns,
		AgentCommand: req.AgentCommand,
		AutoStart:    req.AutoStart,
	}
	if err := s.boards.Write(b); err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	s.broadcastTeamChanged()

	if req.AutoStart {
		if err := s.startSupervisorFor(*b.Meta.Team); err != nil {
			s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

func (s *Server) teamDisconnectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	s.mu.Lock()
	s.stopSupervisorLocked()
	s.mu.Unlock()

	if err := s.boards.SetActiveTeam(""); err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	s.broadcastTeamChanged()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) teamStartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	b, err := s.boards.Read()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrBoardCorrupt, err.Error())
		return
	}
	team, ok := currentTeamConfig(b)
	if !ok {
		s.writeError(w, http.StatusBadRequest, model.ErrTeamNotConnected, "no team connected")
		return
	}
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	running := sup != nil && sup.Running()
	if !running {
		if _, alive := supervisor.PersistedChildAlive(s.cfg.TeamStatePath(team.Name)); alive {
			running = true
		}
	}
	if running {
		s.writeError(w, http.StatusConflict, model.ErrTeamAlreadyRuns, "supervisor already running")
		return
	}
	if err := s.startSupervisorFor(*team); err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) teamStopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil {
		s.writeError(w, http.StatusBadRequest, model.ErrTeamNotConnected, "supervisor not running")
		return
	}
	sup.Stop()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

// startSupervisorFor replaces any existing supervisor with a fresh
// one bound to team and calls Start(), the STOPPED → RUNNING
// transition.
func (s *Server) startSupervisorFor(team model.TeamConfig) error {
	s.mu.Lock()
	s.stopSupervisorLocked()

	runCtx, cancel := context.WithCancel(context.Background())
	sup := supervisor.New(supervisor.Config{
		Team:                  team.Name,
		ProjectDir:            team.ProjectDir,
		AgentCmd:              team.AgentCommand,
		Model:                 team.Model,
		MaxTurns:              team.MaxTurns,
		PerCycle:              s.cfg.DefaultPerCycleCap,
		StatePath:             s.cfg.TeamStatePath(team.Name),
		IdleDebounce:          s.cfg.IdleDebounce,
		RespawnDebounce:       s.cfg.RespawnDebounce,
		CrashGuardWindow:      s.cfg.CrashGuardWindow,
		TerminateKillEscalate: s.cfg.TerminateKillEscalate,
		Logs:                  s.logs,
		History:               s.history,
		OnStateChange: func(st supervisor.State) {
			s.broadcastTeamChanged()
		},
	})
	s.sup = sup
	s.supTeam = team.Name
	s.supStop = cancel
	s.mu.Unlock()

	go sup.Run(runCtx)
	sup.Start()
	return nil
}

// stopSupervisorLocked tears down the current supervisor, if any.
// Callers must hold s.mu.
func (s *Server) stopSupervisorLocked() {
	if s.sup == nil {
		return
	}
	s.sup.Stop()
	if s.supStop != nil {
		s.supStop()
	}
	s.sup = nil
	s.supTeam = ""
	s.supStop = nil
}

func (s *Server) teamLogsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	team, err := s.boards.GetActiveTeam()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	if team == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrTeamNotConnected, "no team connected")
		return
	}
	n := parseLimit(r.URL.Query().Get("lines"), 200, s.cfg.LogTailMaxLines)
	lines, err := s.logs.Tail(team, n)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"logs": logstore.JoinTail(lines)})
}

func (s *Server) teamHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	team, err := s.boards.GetActiveTeam()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	if team == "" {
		s.writeError(w, http.StatusBadRequest, model.ErrTeamNotConnected, "no team connected")
		return
	}
	n := parseLimit(r.URL.Query().Get("limit"), 50, 200)
	cycles, err := s.history.ListRecentByTeam(r.Context(), team, n)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	out := make([]CycleHistoryEntry, 0, len(cycles))
	for _, c := range cycles {
		out = append(out, CycleHistoryEntry{
			CycleID:        c.CycleID,
			StartedAt:      c.StartedAt,
			EndedAt:        c.EndedAt,
			TurnsAllocated: c.TurnsAllocated,
			TurnsUsed:      c.TurnsUsed,
			ExitReason:     c.ExitReason,
			SessionID:      c.SessionID,
			Model:          c.Model,
			TotalCostUSD:   c.TotalCostUSD,
			ExitCode:       c.ExitCode,
		})
	}
	s.writeJSON(w, http.StatusOK, CycleHistoryResponse{Cycles: out})
}

func (s *Server) teamsAvailableHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	teams, err := teamdir.ListAvailable(s.cfg.TeamsDir)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrInternal, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"teams": teams})
}
