// Package logstore implements the per-team append-only cycle log:
// simple sequential appends, bounded tail reads, no rotation.
package logstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clamban/clamban/internal/security"
)

type Store struct {
	homeDir string
}

func NewStore(homeDir string) *Store {
	return &Store{homeDir: homeDir}
}

func (s *Store) path(team string) string {
	return filepath.Join(s.homeDir, "logs", team+".log")
}

// Append writes one redacted line to the team's log file, creating
// the logs directory if needed.
func (s *Store) Append(team, line string) error {
	path := s.path(team)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	safe := security.RedactPayload(line)
	if security.LooksSecretLike(line) {
		safe = fmt.Sprintf("%s [line redacted, matched secret pattern]", safe)
	}
	if _, err := fmt.Fprintln(f, safe); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// Appendf appends a formatted, timestamped cycle-control line.
func (s *Store) Appendf(team string, format string, args ...any) error {
	ts := time.Now().UTC().Format(time.RFC3339)
	return s.Append(team, fmt.Sprintf("[%s] %s", ts, fmt.Sprintf(format, args...)))
}

// Clear truncates the team's log file, used when a cycle supervisor
// starts a fresh session (spec.md §4.E: "Reset governor, clear logs").
func (s *Store) Clear(team string) error {
	path := s.path(team)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("truncate log: %w", err)
	}
	return f.Close()
}

// Tail returns the last n lines of the team's log, capped by the
// caller at its own maximum (spec.md caps at 2000 at the HTTP layer).
func (s *Store) Tail(team string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	path := s.path(team)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if len(ring) < n {
			ring = append(ring, line)
			continue
		}
		copy(ring, ring[1:])
		ring[n-1] = line
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	return ring, nil
}

// JoinTail renders a tail slice as a single newline-joined string,
// the shape the HTTP handler returns.
func JoinTail(lines []string) string {
	return strings.Join(lines, "\n")
}
