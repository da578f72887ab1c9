// Package server implements the remote-mode daemon: chat and tool-callback
// WebSocket streams plus the auth handshake. Tool execution stays in the
// trusted client process; the orchestrator here only routes, supervises, and
// dispatches tool requests over the callback channel.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/clawinfra/codeclaw/internal/agent"
	"github.com/clawinfra/codeclaw/internal/callback"
	"github.com/clawinfra/codeclaw/internal/config"
	"github.com/clawinfra/codeclaw/internal/gateway"
	"github.com/clawinfra/codeclaw/internal/orchestrator"
	"github.com/clawinfra/codeclaw/internal/security"
	"github.com/clawinfra/codeclaw/internal/session"
	"github.com/clawinfra/codeclaw/internal/tools"
)

// Version is stamped at build time.
var Version = "dev"

// Server hosts the remote-mode API.
type Server struct {
	cfg       *config.Config
	gw        gateway.Streamer
	specs     *agent.SpecSet
	registry  *tools.Registry
	sessions  *session.Registry
	callbacks *callback.Registry
	secret    []byte
	logger    *slog.Logger

	mu    sync.Mutex
	orchs map[string]*orchestrator.Orchestrator

	httpSrv *http.Server
}

// New creates a server. registry supplies tool schemas and capability
// metadata; execution itself goes through the callback channel.
func New(cfg *config.Config, gw gateway.Streamer, specs *agent.SpecSet, registry *tools.Registry, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		gw:        gw,
		specs:     specs,
		registry:  registry,
		sessions:  session.NewRegistry(logger),
		callbacks: callback.NewRegistry(logger),
		secret:    security.GetJWTSecret(),
		logger:    logger.With("component", "server"),
		orchs:     make(map[string]*orchestrator.Orchestrator),
	}
}

// Handler builds the HTTP mux.
func (s *Server) Handler() http.Handler {
	auth := security.AuthMiddleware(s.secret, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/auth", s.handleAuth)
	mux.Handle("/ws/chat", auth(http.HandlerFunc(s.handleChatWS)))
	mux.Handle("/ws/tools", auth(http.HandlerFunc(s.handleToolsWS)))
	return mux
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, fmt.Sprintf("%d", s.cfg.Server.Port))
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.ListenAndServe() }()
	s.logger.Info("server listening", "addr", addr, "auth", s.secret != nil)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"status":   "ok",
		"version":  Version,
		"sessions": s.sessions.Len(),
	})
}

type authRequest struct {
	APIKey   string `json:"api_key"`
	ClientID string `json:"client_id"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleAuth exchanges an API key for a bearer token. With auth disabled it
// still answers so clients keep a uniform handshake.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
		return
	}

	if s.cfg.Server.AuthEnabled {
		if s.cfg.Server.APIKey == "" || req.APIKey != s.cfg.Server.APIKey {
			s.logger.Warn("auth rejected", "client", req.ClientID)
			http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
			return
		}
	}

	expiry := 24 * time.Hour
	token := ""
	if s.secret != nil {
		var err error
		token, err = security.GenerateToken(req.ClientID, "user", s.secret, expiry)
		if err != nil {
			http.Error(w, `{"error":"token generation failed"}`, http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(authResponse{ //nolint:errcheck
		AccessToken: token,
		ExpiresIn:   int(expiry.Seconds()),
	})
}

// chatFrame is the client→server chat message.
type chatFrame struct {
	Message string `json:"message"`
}

// serverFrame is the server→client chat event.
type serverFrame struct {
	Type      string `json:"type"` // session | reply | error
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
}

// handleChatWS runs one chat stream: it creates (or resumes) a session,
// announces the id, and serializes turns through the session's orchestrator.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck

	ctx := r.Context()

	sess, err := s.resumeOrCreateSession(r)
	if err != nil {
		wsjson.Write(ctx, conn, serverFrame{Type: "error", Error: err.Error()}) //nolint:errcheck
		return
	}
	orch := s.orchestratorFor(sess)

	if err := wsjson.Write(ctx, conn, serverFrame{Type: "session", SessionID: sess.ID}); err != nil {
		return
	}

	for {
		var frame chatFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			s.logger.Debug("chat stream closed", "session", sess.ID, "error", err)
			return
		}

		reply, err := orch.Process(ctx, frame.Message)
		if err != nil {
			wsjson.Write(ctx, conn, serverFrame{Type: "error", SessionID: sess.ID, Error: err.Error()}) //nolint:errcheck
			continue
		}
		if err := wsjson.Write(ctx, conn, serverFrame{Type: "reply", SessionID: sess.ID, Content: reply}); err != nil {
			return
		}
	}
}

func (s *Server) resumeOrCreateSession(r *http.Request) (*session.Session, error) {
	if id := sessionIDFrom(r); id != "" {
		return s.sessions.Get(id)
	}
	projectDir := r.URL.Query().Get("project_dir")
	if projectDir == "" {
		projectDir = "."
	}
	return s.sessions.Create(projectDir), nil
}

// orchestratorFor returns the session's orchestrator, creating it with a
// callback-channel dispatcher on first use. The lookup is per call so a
// reconnected tools stream is picked up transparently.
func (s *Server) orchestratorFor(sess *session.Session) *orchestrator.Orchestrator {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.orchs[sess.ID]; ok {
		return o
	}

	execFn := func(ctx context.Context, call tools.Call) tools.Result {
		cb, err := s.callbacks.Get(sess.ID)
		if err != nil {
			return tools.Result{
				Tool: call.Name, Success: false,
				Error: "no tool client connected", ErrorType: tools.ErrTypeNetwork,
			}
		}
		return callback.ExecFunc(cb)(ctx, call)
	}

	o := orchestrator.New(s.cfg, s.gw, s.specs, s.registry, sess, s.logger,
		orchestrator.WithExecFunc(execFn))
	s.orchs[sess.ID] = o
	return o
}

// SweepSessions expires sessions idle longer than maxIdle and tears down
// their orchestrators and callback streams. Returns how many were removed.
func (s *Server) SweepSessions(maxIdle time.Duration) int {
	removed := s.sessions.Sweep(maxIdle)
	if removed == 0 {
		return 0
	}

	s.mu.Lock()
	for id := range s.orchs {
		if _, err := s.sessions.Get(id); err != nil {
			delete(s.orchs, id)
			s.callbacks.Unregister(id)
		}
	}
	s.mu.Unlock()
	return removed
}

// handleToolsWS runs one callback stream for a session.
func (s *Server) handleToolsWS(w http.ResponseWriter, r *http.Request) {
	id := sessionIDFrom(r)
	if id == "" {
		http.Error(w, `{"error":"session-id required"}`, http.StatusBadRequest)
		return
	}
	if _, err := s.sessions.Get(id); err != nil {
		http.Error(w, `{"error":"unknown session"}`, http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck

	cb := s.callbacks.Register(id)
	s.logger.Info("tool client connected", "session", id)

	if err := callback.Pump(r.Context(), conn, cb); err != nil {
		s.logger.Debug("tool stream ended", "session", id, "error", err)
	}
}

// sessionIDFrom accepts the id as a query parameter or header so both
// browser-style and metadata-style clients work.
func sessionIDFrom(r *http.Request) string {
	if id := r.URL.Query().Get("session_id"); id != "" {
		return id
	}
	return r.Header.Get("Session-Id")
}
