// Package client implements the remote-mode client: it authenticates with
// the server, holds the chat stream, and answers tool-callback requests by
// executing tools locally. The filesystem and shell never leave this
// process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/clawinfra/codeclaw/internal/callback"
	"github.com/clawinfra/codeclaw/internal/tools"
)

// ErrNotConnected is returned for operations before Connect.
var ErrNotConnected = errors.New("client: not connected")

// Client is a remote-mode connection to a codeclawd server.
type Client struct {
	baseURL  string
	hc       *http.Client
	registry *tools.Registry
	logger   *slog.Logger

	mu        sync.Mutex
	token     string
	sessionID string
	chatConn  *websocket.Conn
}

// New creates a client for a server base URL (http:// or https://).
func New(baseURL string, registry *tools.Registry, logger *slog.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		hc:       &http.Client{Timeout: 30 * time.Second},
		registry: registry,
		logger:   logger.With("component", "client"),
	}
}

// SessionID returns the server-assigned session id.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Authenticate exchanges an API key for a bearer token.
func (c *Client) Authenticate(ctx context.Context, apiKey, clientID string) error {
	body, err := json.Marshal(map[string]string{"api_key": apiKey, "client_id": clientID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("client: auth request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: auth failed with status %d", resp.StatusCode)
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("client: decode auth response: %w", err)
	}

	c.mu.Lock()
	c.token = out.AccessToken
	c.mu.Unlock()
	return nil
}

func (c *Client) wsURL(path string, query url.Values) string {
	u := c.baseURL + path
	u = strings.Replace(u, "http://", "ws://", 1)
	u = strings.Replace(u, "https://", "wss://", 1)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) dialOpts() *websocket.DialOptions {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()

	opts := &websocket.DialOptions{HTTPClient: c.hc}
	if token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	return opts
}

type serverFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Connect opens the chat stream and records the server-assigned session id.
func (c *Client) Connect(ctx context.Context, projectDir string) error {
	q := url.Values{}
	if projectDir != "" {
		q.Set("project_dir", projectDir)
	}

	conn, _, err := websocket.Dial(ctx, c.wsURL("/ws/chat", q), c.dialOpts())
	if err != nil {
		return fmt.Errorf("client: dial chat: %w", err)
	}

	var hello serverFrame
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		conn.Close(websocket.StatusProtocolError, "no hello") //nolint:errcheck
		return fmt.Errorf("client: read session frame: %w", err)
	}
	if hello.Type != "session" || hello.SessionID == "" {
		conn.Close(websocket.StatusProtocolError, "bad hello") //nolint:errcheck
		return fmt.Errorf("client: unexpected hello frame %q", hello.Type)
	}

	c.mu.Lock()
	c.chatConn = conn
	c.sessionID = hello.SessionID
	c.mu.Unlock()

	c.logger.Info("connected", "session", hello.SessionID)
	return nil
}

// Chat sends one user turn and waits for the reply.
func (c *Client) Chat(ctx context.Context, message string) (string, error) {
	c.mu.Lock()
	conn := c.chatConn
	c.mu.Unlock()
	if conn == nil {
		return "", ErrNotConnected
	}

	if err := wsjson.Write(ctx, conn, map[string]string{"message": message}); err != nil {
		return "", fmt.Errorf("client: send: %w", err)
	}

	for {
		var frame serverFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return "", fmt.Errorf("client: receive: %w", err)
		}
		switch frame.Type {
		case "reply":
			return frame.Content, nil
		case "error":
			return "", fmt.Errorf("client: server error: %s", frame.Error)
		default:
			// status frames are informational
		}
	}
}

// RunToolLoop dials the callback stream and answers tool requests with local
// execution until ctx ends or the stream drops. It should run in its own
// goroutine for the lifetime of the session.
func (c *Client) RunToolLoop(ctx context.Context) error {
	c.mu.Lock()
	id := c.sessionID
	c.mu.Unlock()
	if id == "" {
		return ErrNotConnected
	}

	q := url.Values{"session_id": []string{id}}
	conn, _, err := websocket.Dial(ctx, c.wsURL("/ws/tools", q), c.dialOpts())
	if err != nil {
		return fmt.Errorf("client: dial tools: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "") //nolint:errcheck

	c.logger.Info("tool loop running", "session", id)

	for {
		var req callback.Request
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("client: tool stream: %w", err)
		}

		go func(req callback.Request) {
			timeout := time.Duration(req.TimeoutSeconds) * time.Second
			if timeout <= 0 {
				timeout = 60 * time.Second
			}
			execCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			res := c.registry.Execute(execCtx, tools.Call{
				Name:      req.ToolName,
				Arguments: callback.DecodeArguments(req.Arguments),
			})

			resp := callback.Response{
				RequestID: req.RequestID,
				Success:   res.Success,
				Data:      res.Data,
				Error:     res.Error,
			}
			if err := wsjson.Write(ctx, conn, resp); err != nil {
				c.logger.Warn("failed to send tool response", "request_id", req.RequestID, "error", err)
			}
		}(req)
	}
}

// Close shuts the chat stream down.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chatConn != nil {
		c.chatConn.Close(websocket.StatusNormalClosure, "bye") //nolint:errcheck
		c.chatConn = nil
	}
}
