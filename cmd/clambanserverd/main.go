// Command clambanserverd runs the local clamban daemon: the board
// store, the cycle supervisor, and the HTTP + SSE API a browser client
// and the CLI both talk to. Structured after the reference daemon's
// cmd/agtmuxd entrypoint (flag parsing, signal.NotifyContext,
// store-then-server bring-up) with the topology/reconcile/retention
// background loops dropped, since clamban has no tmux-pane domain to
// poll.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/clamban/clamban/internal/api"
	"github.com/clamban/clamban/internal/board"
	"github.com/clamban/clamban/internal/config"
	"github.com/clamban/clamban/internal/history"
	"github.com/clamban/clamban/internal/logstore"
	"github.com/clamban/clamban/internal/watcher"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "clambanserverd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.DefaultConfig()

	flag.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "address to bind the HTTP API on")
	flag.StringVar(&cfg.HomeDir, "home-dir", cfg.HomeDir, "directory holding board, log, and lock state")
	flag.StringVar(&cfg.TeamsDir, "teams-dir", cfg.TeamsDir, "directory of agent team configs")
	flag.IntVar(&cfg.DefaultMaxTurns, "max-turns", cfg.DefaultMaxTurns, "default session turn budget for newly connected teams")
	flag.IntVar(&cfg.DefaultPerCycleCap, "per-cycle-turns", cfg.DefaultPerCycleCap, "default per-cycle turn cap")
	flag.Parse()

	cfg.LockPath = cfg.HomeDir + "/clambanserverd.lock"
	cfg.HistoryDB = cfg.HomeDir + "/history.db"

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return fmt.Errorf("create home dir: %w", err)
	}

	boards := board.NewStore(cfg.HomeDir)
	logs := logstore.NewStore(cfg.HomeDir)

	hist, err := history.Open(ctx, cfg.HistoryDB)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer hist.Close()

	srv := api.NewServer(cfg, boards, hist, logs)

	// The team directory (its config and per-worker inboxes) is owned
	// by an external tool and can be created or deleted under us; feed
	// its changes into the running supervisor's debounce input the
	// same way a direct board mutation does.
	teamWatcher := watcher.New(watcher.Config{
		Directories:        []string{cfg.TeamsDir},
		OnChange:           func(fsnotify.Event) { srv.NotifyBoardChanged() },
		HeartbeatTimeoutMs: int(cfg.HeartbeatTimeout / time.Millisecond),
		Recursive:          true,
	})
	if err := teamWatcher.Start(); err != nil {
		return fmt.Errorf("start team directory watcher: %w", err)
	}
	defer teamWatcher.Stop()

	log.Printf("clambanserverd listening on %s (home %s)", cfg.HTTPAddr, cfg.HomeDir)
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Printf("clambanserverd shut down")
	return nil
}
