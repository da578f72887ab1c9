package session

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAppendAndTurns(t *testing.T) {
	s := New("/tmp/project")
	s.Append("hello", "hi there")
	s.Append("what's up", "not much")

	turns := s.Turns()
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].User != "hello" || turns[1].Assistant != "not much" {
		t.Errorf("unexpected turns: %+v", turns)
	}
}

func TestCompactKeepsSuffix(t *testing.T) {
	s := New(".")
	for i := 0; i < 6; i++ {
		s.Append("q", "a")
	}
	keep := s.Turns()[4:]
	s.Compact("earlier discussion about q and a", keep)

	if s.Summary() == "" {
		t.Error("summary should be set")
	}
	if len(s.Turns()) != 2 {
		t.Errorf("expected 2 live turns, got %d", len(s.Turns()))
	}
}

func TestClear(t *testing.T) {
	s := New(".")
	s.Append("q", "a")
	s.Compact("summary", s.Turns())
	s.Clear()

	if len(s.Turns()) != 0 || s.Summary() != "" {
		t.Error("clear should drop turns and summary")
	}
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry(testLogger())
	s := r.Create(".")

	got, err := r.Get(s.ID)
	if err != nil || got != s {
		t.Fatalf("Get: %v", err)
	}

	r.Close(s.ID)
	if _, err := r.Get(s.ID); err == nil {
		t.Error("closed session should not resolve")
	}
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	r := NewRegistry(testLogger())
	old := r.Create(".")
	fresh := r.Create(".")

	old.mu.Lock()
	old.lastActive = time.Now().Add(-2 * time.Hour)
	old.mu.Unlock()

	removed := r.Sweep(time.Hour)
	if removed != 1 {
		t.Fatalf("expected 1 removal, got %d", removed)
	}
	if _, err := r.Get(old.ID); err == nil {
		t.Error("idle session should be gone")
	}
	if _, err := r.Get(fresh.ID); err != nil {
		t.Error("fresh session should survive")
	}
}
