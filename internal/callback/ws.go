package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/clawinfra/codeclaw/internal/tools"
)

// Pump runs the server side of one callback stream: it drains the session's
// outbound queue into the WebSocket and demultiplexes inbound responses into
// the waiting futures. It returns when the connection drops or the context
// ends; closing the session alone does not stop it. The session is torn down
// on exit so pending futures fail fast.
func Pump(ctx context.Context, conn *websocket.Conn, sess *Session) error {
	defer sess.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeErr := make(chan error, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-sess.Outbound():
				if err := wsjson.Write(ctx, conn, req); err != nil {
					writeErr <- fmt.Errorf("write tool request: %w", err)
					return
				}
			}
		}
	}()

	readErr := make(chan error, 1)
	go func() {
		for {
			var resp Response
			if err := wsjson.Read(ctx, conn, &resp); err != nil {
				readErr <- fmt.Errorf("read tool response: %w", err)
				return
			}
			sess.Deliver(resp)
		}
	}()

	select {
	case err := <-writeErr:
		return err
	case err := <-readErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecFunc adapts a callback session into the worker-side tool dispatcher:
// tool calls become wire requests and responses become tool results.
func ExecFunc(sess *Session) func(ctx context.Context, call tools.Call) tools.Result {
	return func(ctx context.Context, call tools.Call) tools.Result {
		timeout := 60 * time.Second // generous default for shell-heavy tools
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < timeout {
				timeout = remaining
			}
		}

		resp, err := sess.Invoke(ctx, call.Name, EncodeArguments(call.Arguments), timeout)
		if err != nil {
			errType := tools.ErrTypeNetwork
			if err == ErrTimeout {
				errType = tools.ErrTypeTimeout
			}
			return tools.Result{Tool: call.Name, Success: false, Error: resp.Error, ErrorType: errType}
		}
		return tools.Result{
			Tool:    call.Name,
			Success: resp.Success,
			Data:    resp.Data,
			Error:   resp.Error,
		}
	}
}

// EncodeArguments flattens tool arguments into the wire's string map.
// Non-string values are JSON-encoded.
func EncodeArguments(args map[string]any) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			out[k] = fmt.Sprintf("%v", v)
			continue
		}
		out[k] = string(b)
	}
	return out
}

// DecodeArguments restores a wire string map into tool arguments,
// JSON-decoding values that parse as JSON.
func DecodeArguments(args map[string]string) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			switch decoded.(type) {
			case float64, bool, map[string]any, []any:
				out[k] = decoded
				continue
			}
		}
		out[k] = v
	}
	return out
}
