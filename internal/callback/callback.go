// Package callback implements the bidirectional tool-callback channel used
// in remote mode: the orchestrator enqueues tool requests, the trusted
// client executes them and sends responses back, and futures are correlated
// by request id with per-request timeouts.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionClosed is returned for invokes on a torn-down session.
	ErrSessionClosed = errors.New("callback: session closed")
	// ErrTimeout is the per-request timeout failure.
	ErrTimeout = errors.New("callback: timed out waiting for tool result")
)

// Request is one tool invocation sent server→client.
type Request struct {
	RequestID      string            `json:"request_id"`
	SessionID      string            `json:"session_id"`
	ToolName       string            `json:"tool_name"`
	Arguments      map[string]string `json:"arguments"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

// Response is one tool result sent client→server.
type Response struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Data      string `json:"data"`
	Error     string `json:"error"`
}

// Session is one client's callback stream state: an outbound queue plus the
// pending-future map. The orchestrator owns the registration; the transport
// pump borrows futures by request id.
type Session struct {
	id     string
	logger *slog.Logger

	mu       sync.Mutex
	pending  map[string]chan Response
	outbound chan Request
	closed   bool
}

// NewSession creates callback state for one session id.
func NewSession(id string, logger *slog.Logger) *Session {
	return &Session{
		id:       id,
		logger:   logger.With("component", "callback", "session", id),
		pending:  make(map[string]chan Response),
		outbound: make(chan Request, 64),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Outbound is the queue the transport pump drains toward the client.
func (s *Session) Outbound() <-chan Request { return s.outbound }

// Invoke enqueues a tool request and waits for the matching response,
// subject to the request's own timeout. A late response for a timed-out id
// is dropped by Deliver.
func (s *Session) Invoke(ctx context.Context, toolName string, args map[string]string, timeout time.Duration) (Response, error) {
	req := Request{
		RequestID:      uuid.NewString(),
		SessionID:      s.id,
		ToolName:       toolName,
		Arguments:      args,
		TimeoutSeconds: int(timeout.Seconds()),
	}

	future := make(chan Response, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Response{}, ErrSessionClosed
	}
	s.pending[req.RequestID] = future
	s.mu.Unlock()

	drop := func() {
		s.mu.Lock()
		delete(s.pending, req.RequestID)
		s.mu.Unlock()
	}

	select {
	case s.outbound <- req:
	case <-ctx.Done():
		drop()
		return Response{}, ctx.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-future:
		if !ok {
			return Response{RequestID: req.RequestID, Success: false, Error: "session closed"}, ErrSessionClosed
		}
		return resp, nil
	case <-timer.C:
		drop()
		s.logger.Warn("tool request timed out", "request_id", req.RequestID, "tool", toolName)
		return Response{RequestID: req.RequestID, Success: false, Error: "timed out"}, ErrTimeout
	case <-ctx.Done():
		drop()
		return Response{}, ctx.Err()
	}
}

// Deliver routes a client response to its waiting future. Duplicates win
// nothing: the first response is kept, later ones are logged and dropped.
// Responses with no matching pending request are discarded.
func (s *Session) Deliver(resp Response) {
	s.mu.Lock()
	future, ok := s.pending[resp.RequestID]
	if ok {
		delete(s.pending, resp.RequestID)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Warn("dropping unmatched or duplicate tool response", "request_id", resp.RequestID)
		return
	}
	future <- resp
}

// Close tears the session down: pending futures resolve with a synthetic
// failure and further invokes reject.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[string]chan Response)
	s.mu.Unlock()

	for id, future := range pending {
		future <- Response{RequestID: id, Success: false, Error: "session closed"}
	}
	s.logger.Info("callback session closed", "cancelled_requests", len(pending))
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// PendingCount returns the number of outstanding requests.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Registry maps session ids to callback sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewRegistry creates an empty callback registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Register creates callback state for a session id. Registering an id twice
// closes the previous stream: one callback channel per session.
func (r *Registry) Register(sessionID string) *Session {
	s := NewSession(sessionID, r.logger)

	r.mu.Lock()
	old := r.sessions[sessionID]
	r.sessions[sessionID] = s
	r.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return s
}

// Get looks up the callback session for an id.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("callback: no stream for session %s", sessionID)
	}
	return s, nil
}

// Unregister closes and removes a session's callback state.
func (r *Registry) Unregister(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	if ok {
		s.Close()
	}
}
