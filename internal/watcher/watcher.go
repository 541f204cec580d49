// Package watcher implements a filesystem watcher that tolerates the
// watched directories disappearing out from under it — the external
// team directory in spec.md's terms is managed by another tool and
// may be deleted or recreated while this process is running.
package watcher

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Config mirrors the reference daemon's constructor-with-enumerated-
// fields style (see internal/config.Config).
type Config struct {
	Directories       []string
	OnChange          func(event fsnotify.Event)
	HeartbeatTimeoutMs int // 0 disables
	Recursive         bool
}

// Watcher watches Config.Directories and self-heals whenever one of
// them vanishes.
type Watcher struct {
	cfg Config

	mu          sync.Mutex
	fsw         *fsnotify.Watcher
	stopped     bool
	heartbeat   *time.Timer
	reinitCount int
	doneCh      chan struct{}
}

func New(cfg Config) *Watcher {
	return &Watcher{cfg: cfg}
}

// ReinitCount reports how many times the watcher has had to
// re-create a vanished directory and re-subscribe.
func (w *Watcher) ReinitCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reinitCount
}

// Start ensures every configured directory exists, subscribes to
// change events, and arms the heartbeat (if enabled).
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureDirsLocked(); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	if err := w.subscribeAllLocked(); err != nil {
		fsw.Close()
		return err
	}
	w.stopped = false
	w.doneCh = make(chan struct{})
	w.armHeartbeatLocked()
	go w.loop(w.doneCh)
	return nil
}

// Stop is idempotent and fully cancels timers and subscriptions.
// Once Stop returns, the heartbeat timer has been synchronously
// stopped and will not fire.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.heartbeat != nil {
		w.heartbeat.Stop()
		w.heartbeat = nil
	}
	if w.fsw != nil {
		w.fsw.Close()
		w.fsw = nil
	}
	if w.doneCh != nil {
		close(w.doneCh)
		w.doneCh = nil
	}
}

// Heartbeat manually resets the heartbeat timer, as if an event had
// just fired.
func (w *Watcher) Heartbeat() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armHeartbeatLocked()
}

func (w *Watcher) loop(done chan struct{}) {
	for {
		w.mu.Lock()
		fsw := w.fsw
		w.mu.Unlock()
		if fsw == nil {
			return
		}
		select {
		case <-done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				// fsw was closed out from under us, most likely by a
				// heartbeat-triggered reinit; loop back and pick up
				// whatever watcher is current.
				continue
			}
			w.handleEvent(event)
		case _, ok := <-fsw.Errors:
			if !ok {
				continue
			}
			// fsnotify surfaces OS-level errors (e.g. a removed watch
			// target); treat them the same as a heartbeat-detected
			// vanished directory rather than propagating.
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.mu.Lock()
	w.armHeartbeatLocked()
	onChange := w.cfg.OnChange
	w.mu.Unlock()

	if onChange == nil {
		return
	}
	// Exceptions from onChange must not kill the process.
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("watcher: onChange panicked: %v", r)
			}
		}()
		onChange(event)
	}()
}

func (w *Watcher) armHeartbeatLocked() {
	if w.cfg.HeartbeatTimeoutMs <= 0 {
		return
	}
	if w.heartbeat != nil {
		w.heartbeat.Stop()
	}
	timeout := time.Duration(w.cfg.HeartbeatTimeoutMs) * time.Millisecond
	w.heartbeat = time.AfterFunc(timeout, w.onHeartbeatExpired)
}

func (w *Watcher) onHeartbeatExpired() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	_ = w.reinitLocked()
	w.armHeartbeatLocked()
	w.mu.Unlock()
}

// reinitLocked tears down all subscriptions, recreates any missing
// directories, and resubscribes. Called from heartbeat expiry.
func (w *Watcher) reinitLocked() error {
	if w.fsw != nil {
		w.fsw.Close()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	if err := w.ensureDirsLocked(); err != nil {
		return err
	}
	if err := w.subscribeAllLocked(); err != nil {
		return err
	}
	w.reinitCount++
	return nil
}

func (w *Watcher) ensureDirsLocked() error {
	for _, dir := range w.cfg.Directories {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// subscribeAllLocked subscribes to every configured directory. When
// Recursive is set, fsnotify's lack of native recursive watching is
// compensated for by manually walking each tree and subscribing to
// every subdirectory found.
func (w *Watcher) subscribeAllLocked() error {
	for _, dir := range w.cfg.Directories {
		if err := w.fsw.Add(dir); err != nil {
			return err
		}
		if !w.cfg.Recursive {
			continue
		}
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() && path != dir {
				_ = w.fsw.Add(path)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
