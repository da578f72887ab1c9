// Package gateway is the streaming chat façade over the local LLM runtime.
// It is stateless: every Chat call is independent, and failures surface as a
// single typed error rather than partial results.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrConnect is returned when the runtime endpoint cannot be reached.
	ErrConnect = errors.New("gateway: connection failed")
	// ErrStatus is returned for a non-200 HTTP response.
	ErrStatus = errors.New("gateway: http error")
	// ErrDecode is returned for a malformed stream chunk.
	ErrDecode = errors.New("gateway: malformed chunk")
	// ErrTimeout is returned when the call deadline expires mid-stream.
	ErrTimeout = errors.New("gateway: timed out")
)

// nativeToolModels lists model families known to honor the structured
// tool-call channel. For anything else the tools field is omitted and callers
// fall back to parsing JSON out of the text response.
var nativeToolModels = []string{
	"llama3.1", "llama3.2", "llama3.3", "llama4",
	"mistral", "mistral-nemo", "mistral-small", "mistral-large", "mixtral",
	"command-r", "command-r-plus", "command-r7b",
	"qwen2.5", "qwen2.5-coder", "qwen3",
	"firefunction-v2", "hermes3",
}

// SupportsNativeTools reports whether a model is expected to honor the
// structured tool channel.
func SupportsNativeTools(model string) bool {
	base := strings.ToLower(model)
	if idx := strings.Index(base, ":"); idx > 0 {
		base = base[:idx]
	}
	for _, m := range nativeToolModels {
		if strings.Contains(base, m) {
			return true
		}
	}
	return false
}

// Client talks to an Ollama-compatible chat endpoint.
type Client struct {
	baseURL string
	hc      *http.Client
	logger  *slog.Logger
}

// New creates a gateway client. timeout bounds each whole call including the
// stream; local inference can be slow, so generous values are normal.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
		logger:  logger.With("component", "gateway"),
	}
}

// Chat starts a streaming chat call. The returned Stream must be closed.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (Stream, error) {
	msgs := make([]wireMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, wireMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, wireMessage{Role: m.Role, Content: m.Content})
	}

	body := wireRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   true,
	}
	if req.Temperature != 0 || req.MaxTokens != 0 {
		body.Options = map[string]any{}
		if req.Temperature != 0 {
			body.Options["temperature"] = req.Temperature
		}
		if req.MaxTokens != 0 {
			body.Options["num_predict"] = req.MaxTokens
		}
	}

	// Degrade gracefully: only request structured tool calls from models
	// known to support them.
	if len(req.Tools) > 0 && SupportsNativeTools(req.Model) {
		for _, t := range req.Tools {
			body.Tools = append(body.Tools, wireTool{
				Type:     "function",
				Function: wireToolSchema{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
			})
		}
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close() //nolint:errcheck
		return nil, fmt.Errorf("%w: %d: %s", ErrStatus, resp.StatusCode, string(respBody))
	}

	return &httpStream{
		body:    resp.Body,
		scanner: newChunkScanner(resp.Body),
		ctx:     ctx,
	}, nil
}

func newChunkScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	// Chunks can carry whole file contents; allow large lines.
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return sc
}

// httpStream decodes the runtime's NDJSON chat stream into Chunks.
type httpStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	ctx     context.Context
	done    bool
}

func (s *httpStream) Recv() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}

		var wc wireChunk
		if err := json.Unmarshal([]byte(line), &wc); err != nil {
			return Chunk{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}

		chunk := Chunk{Content: wc.Message.Content}
		for _, tc := range wc.Message.ToolCalls {
			args := map[string]any{}
			if len(tc.Function.Arguments) > 0 {
				// Arguments arrive either as an object or as a JSON string.
				if err := json.Unmarshal(tc.Function.Arguments, &args); err != nil {
					var s string
					if json.Unmarshal(tc.Function.Arguments, &s) == nil {
						_ = json.Unmarshal([]byte(s), &args)
					}
				}
			}
			chunk.ToolCalls = append(chunk.ToolCalls, ToolCall{Name: tc.Function.Name, Arguments: args})
		}
		if wc.Done {
			s.done = true
			chunk.Done = true
			chunk.Usage = &Usage{PromptTokens: wc.PromptEvalCount, CompletionTokens: wc.EvalCount}
		}
		return chunk, nil
	}

	if err := s.scanner.Err(); err != nil {
		if s.ctx.Err() != nil {
			return Chunk{}, fmt.Errorf("%w: %v", ErrTimeout, s.ctx.Err())
		}
		return Chunk{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return Chunk{}, io.EOF
}

func (s *httpStream) Close() error {
	return s.body.Close()
}

// Collect drains a stream into a single accumulated response.
func Collect(s Stream) (*ChatResponse, error) {
	defer s.Close() //nolint:errcheck

	resp := &ChatResponse{}
	var content strings.Builder
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		content.WriteString(chunk.Content)
		// Tool calls can appear in any chunk, not just the terminal one.
		if len(chunk.ToolCalls) > 0 {
			resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
		}
		if chunk.Done {
			if chunk.Usage != nil {
				resp.Usage = *chunk.Usage
			}
			break
		}
	}
	resp.Content = content.String()
	return resp, nil
}

// Health checks that the runtime is responding.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	return nil
}

// ModelInfo describes one installed model.
type ModelInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ListModels returns the models installed on the runtime.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}

	var out struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return out.Models, nil
}
