// Package session holds the conversation state the orchestrator owns: an
// ordered sequence of turns plus the summary of compacted history.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Turn is one user utterance plus the assistant's final reply. Immutable
// once completed.
type Turn struct {
	User      string
	Assistant string
	At        time.Time
}

// Session is an ordered sequence of turns. When the summary is non-empty it
// stands in for older turns that have been dropped from the live list.
type Session struct {
	ID         string
	ProjectDir string

	mu         sync.Mutex
	turns      []Turn
	summary    string
	lastActive time.Time
	closed     bool
}

// New creates a session for a project directory.
func New(projectDir string) *Session {
	return &Session{
		ID:         uuid.NewString(),
		ProjectDir: projectDir,
		lastActive: time.Now(),
	}
}

// Append records a completed turn.
func (s *Session) Append(user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{User: user, Assistant: assistant, At: time.Now()})
	s.lastActive = time.Now()
}

// Turns returns a copy of the live turns.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Summary returns the compacted-history summary.
func (s *Session) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Compact replaces the dropped prefix with a summary, keeping only the given
// suffix of turns live.
func (s *Session) Compact(summary string, keep []Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
	s.turns = keep
}

// Clear drops all conversation state. Long-term memory is unaffected.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.summary = ""
	s.lastActive = time.Now()
}

// Touch refreshes the idle clock.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now()
}

// IdleFor reports how long the session has been inactive.
func (s *Session) IdleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActive)
}

// Registry tracks live sessions by id. The remote-mode server owns one
// registry and its maintenance sweep expires idle entries; an orchestrator
// holds a single session, not a registry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger.With("component", "sessions"),
	}
}

// Create registers a new session.
func (r *Registry) Create(projectDir string) *Session {
	s := New(projectDir)
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	r.logger.Info("session created", "id", s.ID, "project", projectDir)
	return s
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return s, nil
}

// Close removes a session from the registry.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	r.logger.Info("session closed", "id", id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep closes sessions idle longer than maxIdle and returns how many were
// removed.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.IdleFor() > maxIdle {
			delete(r.sessions, id)
			removed++
			r.logger.Info("session expired", "id", id, "idle", s.IdleFor().Round(time.Second))
		}
	}
	return removed
}
