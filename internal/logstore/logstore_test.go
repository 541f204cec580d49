package logstore_test

import (
	"strings"
	"testing"

	"github.com/clamban/clamban/internal/logstore"
)

func TestAppendAndTail(t *testing.T) {
	s := logstore.NewStore(t.TempDir())
	for _, line := range []string{"cycle started", "turn 1 complete", "cycle ended"} {
		if err := s.Append("alpha", line); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	lines, err := s.Tail("alpha", 2)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(lines) != 2 || lines[0] != "turn 1 complete" || lines[1] != "cycle ended" {
		t.Fatalf("unexpected tail: %v", lines)
	}
}

func TestTailOnMissingLogReturnsEmpty(t *testing.T) {
	s := logstore.NewStore(t.TempDir())
	lines, err := s.Tail("never-started", 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no lines, got %v", lines)
	}
}

func TestAppendRedactsSecretsAndMarksSecretLikeLines(t *testing.T) {
	s := logstore.NewStore(t.TempDir())
	if err := s.Append("alpha", "token=super-secret-value"); err != nil {
		t.Fatalf("append: %v", err)
	}
	lines, err := s.Tail("alpha", 1)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %v", lines)
	}
	if strings.Contains(lines[0], "super-secret-value") {
		t.Fatalf("secret value leaked into log: %q", lines[0])
	}
	if !strings.Contains(lines[0], "[line redacted, matched secret pattern]") {
		t.Fatalf("expected secret-like marker, got %q", lines[0])
	}
}

func TestAppendNeverDropsOrdinaryLines(t *testing.T) {
	s := logstore.NewStore(t.TempDir())
	if err := s.Append("alpha", "cycle started, spawning agent"); err != nil {
		t.Fatalf("append: %v", err)
	}
	lines, err := s.Tail("alpha", 1)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(lines) != 1 || lines[0] != "cycle started, spawning agent" {
		t.Fatalf("ordinary line should round-trip unchanged, got %v", lines)
	}
}

func TestClearTruncatesLog(t *testing.T) {
	s := logstore.NewStore(t.TempDir())
	if err := s.Append("alpha", "before clear"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Clear("alpha"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	lines, err := s.Tail("alpha", 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected empty log after clear, got %v", lines)
	}
}

func TestAppendfTimestampsLines(t *testing.T) {
	s := logstore.NewStore(t.TempDir())
	if err := s.Appendf("alpha", "cycle %d started", 3); err != nil {
		t.Fatalf("appendf: %v", err)
	}
	lines, err := s.Tail("alpha", 1)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(lines) != 1 || !strings.Contains(lines[0], "cycle 3 started") {
		t.Fatalf("unexpected appendf output: %v", lines)
	}
	if !strings.HasPrefix(lines[0], "[") {
		t.Fatalf("expected timestamp prefix, got %q", lines[0])
	}
}

func TestJoinTail(t *testing.T) {
	got := logstore.JoinTail([]string{"a", "b", "c"})
	if got != "a\nb\nc" {
		t.Fatalf("JoinTail = %q, want %q", got, "a\nb\nc")
	}
}

func TestJoinTailEmpty(t *testing.T) {
	if got := logstore.JoinTail(nil); got != "" {
		t.Fatalf("JoinTail(nil) = %q, want empty string", got)
	}
}
