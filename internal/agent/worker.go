package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clawinfra/codeclaw/internal/gateway"
	"github.com/clawinfra/codeclaw/internal/tools"
)

// escalationThreshold is the number of identical consecutive tool failures
// that makes a worker abort and ask the orchestrator to re-plan.
const escalationThreshold = 3

// ExecFunc dispatches one tool call. The default executes against the local
// registry; remote mode swaps in a callback-channel dispatcher.
type ExecFunc func(ctx context.Context, call tools.Call) tools.Result

// Worker runs the shared tool-use loop for one specialist spec.
type Worker struct {
	spec        Spec
	gw          gateway.Streamer
	registry    *tools.Registry
	workdir     string
	logger      *slog.Logger
	caps        map[tools.Capability]bool
	execFunc    ExecFunc
	maxParallel int
}

// Option configures a Worker.
type Option func(*Worker)

// WithExecFunc overrides tool dispatch, e.g. to route calls through the
// remote tool-callback channel. Capability gating still happens locally
// before the override is consulted.
func WithExecFunc(fn ExecFunc) Option {
	return func(w *Worker) { w.execFunc = fn }
}

// WithMaxParallel bounds concurrent tool execution within one batch.
func WithMaxParallel(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.maxParallel = n
		}
	}
}

// New creates a worker for one run-scoped task loop.
func New(spec Spec, gw gateway.Streamer, registry *tools.Registry, workdir string, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		spec:        spec,
		gw:          gw,
		registry:    registry,
		workdir:     workdir,
		logger:      logger.With("component", "worker", "agent", spec.Name),
		caps:        spec.CapSet(),
		maxParallel: 5,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Spec returns the worker's immutable spec.
func (w *Worker) Spec() Spec { return w.spec }

// Run executes the tool-use loop for one task: call the LLM, extract tool
// calls, execute them, feed results back, repeat until a final answer or the
// iteration cap.
func (w *Worker) Run(ctx context.Context, task string) Result {
	start := time.Now()
	res := Result{Name: w.spec.Name}

	systemPrompt := w.spec.SystemPrompt + "\n\nWorking directory: " + w.workdir
	schemas := w.toolSchemas()

	messages := []gateway.Message{{Role: "user", Content: task}}

	var (
		finalContent    string
		needsSummary    bool
		lastFailureSig  string
		identicalErrors int
	)

	for iteration := 0; iteration < w.spec.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			return w.finish(res, start, "", fmt.Sprintf("cancelled: %v", ctx.Err()))
		}

		resp, err := w.callLLM(ctx, systemPrompt, messages, schemas)
		if err != nil {
			return w.finish(res, start, "", fmt.Sprintf("LLM error: %v", err))
		}

		calls := w.extractToolCalls(resp, task)
		if len(calls) == 0 {
			finalContent = strings.TrimSpace(resp.Content)
			w.logger.Info("tool loop complete", "iterations", iteration+1)
			break
		}

		assistantContent := resp.Content
		if strings.TrimSpace(assistantContent) == "" {
			assistantContent = "Executing tools..."
		}
		messages = append(messages, gateway.Message{Role: "assistant", Content: assistantContent})

		results := w.executeBatch(ctx, calls)

		batchAllFailed := true
		var parts []string
		for i, r := range results {
			res.ToolCallLog = append(res.ToolCallLog, ToolCallRecord{
				Tool:      calls[i].Name,
				Arguments: calls[i].Arguments,
				Success:   r.Success,
				Result:    clip(firstNonEmpty(r.Data, r.Error), 500),
			})
			body := r.Data
			if !r.Success {
				body = "Error: " + r.Error
			} else {
				batchAllFailed = false
			}
			parts = append(parts, fmt.Sprintf("[Tool: %s]\n%s", calls[i].Name, body))
		}
		messages = append(messages, gateway.Message{Role: "user", Content: "Tool results:\n" + strings.Join(parts, "\n\n")})

		// Escalation: identical failures in a row mean the worker is stuck
		// and the orchestrator should re-plan instead of burning iterations.
		if batchAllFailed {
			sig := failureSignature(calls, results)
			if sig == lastFailureSig {
				identicalErrors++
			} else {
				lastFailureSig = sig
				identicalErrors = 1
			}
			if identicalErrors >= escalationThreshold {
				res.Success = false
				res.NeedsEscalation = true
				res.EscalationContext = w.escalationContext(calls, results, identicalErrors)
				res.Error = "worker stuck on repeated tool failure"
				res.DurationMs = time.Since(start).Milliseconds()
				w.logger.Warn("escalating after repeated identical failures",
					"failures", identicalErrors, "tool", calls[0].Name)
				return res
			}
		} else {
			lastFailureSig = ""
			identicalErrors = 0
		}

		if iteration == w.spec.MaxIterations-1 {
			needsSummary = true
		}
	}

	// The loop ended on tool results (or produced no text): one more call
	// with no expectation of tools to get a closing answer.
	if needsSummary || finalContent == "" {
		resp, err := w.callLLM(ctx, systemPrompt, messages, nil)
		if err != nil {
			return w.finish(res, start, "", fmt.Sprintf("summary LLM call: %v", err))
		}
		finalContent = strings.TrimSpace(resp.Content)
		// A closing reply that still asks for a tool is not a final answer.
		known := func(name string) bool {
			_, ok := w.registry.Get(name)
			return ok
		}
		if len(resp.ToolCalls) > 0 || len(ParseToolCalls(resp.Content, known)) > 0 {
			finalContent = ""
		}
	}

	if finalContent == "" {
		return w.finish(res, start, "", fmt.Sprintf("agent reached max iterations (%d) without completing", w.spec.MaxIterations))
	}
	return w.finish(res, start, finalContent, "")
}

func (w *Worker) finish(res Result, start time.Time, output, errMsg string) Result {
	res.DurationMs = time.Since(start).Milliseconds()
	if errMsg != "" {
		res.Success = false
		res.Error = errMsg
		return res
	}
	res.Success = true
	res.Output = output
	return res
}

func (w *Worker) toolSchemas() []gateway.ToolSchema {
	var out []gateway.ToolSchema
	for _, s := range w.registry.Schemas(w.caps) {
		out = append(out, gateway.ToolSchema{Name: s.Name, Description: s.Description, Parameters: s.Parameters})
	}
	return out
}

func (w *Worker) callLLM(ctx context.Context, systemPrompt string, messages []gateway.Message, schemas []gateway.ToolSchema) (*gateway.ChatResponse, error) {
	stream, err := w.gw.Chat(ctx, gateway.ChatRequest{
		Model:        w.spec.Model,
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Tools:        schemas,
		Temperature:  w.spec.Temperature,
		MaxTokens:    w.spec.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return gateway.Collect(stream)
}

// extractToolCalls applies the three parsing tiers in order.
func (w *Worker) extractToolCalls(resp *gateway.ChatResponse, task string) []tools.Call {
	if len(resp.ToolCalls) > 0 {
		calls := make([]tools.Call, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			calls = append(calls, tools.Call{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		return calls
	}

	known := func(name string) bool {
		_, ok := w.registry.Get(name)
		return ok
	}
	if calls := ParseToolCalls(resp.Content, known); len(calls) > 0 {
		return calls
	}

	available := map[string]bool{}
	for _, s := range w.registry.Schemas(w.caps) {
		available[s.Name] = true
	}
	return DetectIntent(resp.Content, task, available)
}

// executeBatch runs the batch concurrently and fans results in by index so
// output order matches call order.
func (w *Worker) executeBatch(ctx context.Context, calls []tools.Call) []tools.Result {
	results := make([]tools.Result, len(calls))

	if len(calls) == 1 {
		results[0] = w.executeCall(ctx, calls[0])
		return results
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.maxParallel)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			results[i] = w.executeCall(gCtx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// executeCall gates on capability before dispatch. A denied or unknown tool
// yields a synthetic failed result fed back into the loop so the model can
// adapt instead of the run aborting.
func (w *Worker) executeCall(ctx context.Context, call tools.Call) tools.Result {
	tool, ok := w.registry.Get(call.Name)
	if !ok {
		return tools.Result{
			Tool: call.Name, Success: false,
			Error: fmt.Sprintf("tool %s not available", call.Name), ErrorType: tools.ErrTypeNotFound,
		}
	}
	if !w.caps[tool.Capability()] {
		w.logger.Warn("capability denied", "tool", call.Name, "capability", tool.Capability())
		return tools.Result{
			Tool: call.Name, Success: false,
			Error: fmt.Sprintf("tool %s not available", call.Name), ErrorType: tools.ErrTypeDenied,
		}
	}
	if w.execFunc != nil {
		return w.execFunc(ctx, call)
	}
	return w.registry.Execute(ctx, call)
}

func (w *Worker) escalationContext(calls []tools.Call, results []tools.Result, count int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The %s agent hit the same tool failure %d times in a row and stopped.\n\n", w.spec.Name, count)
	for i, r := range results {
		fmt.Fprintf(&sb, "Tool: %s\nArguments: %v\nError: %s\n", calls[i].Name, calls[i].Arguments, r.Error)
	}
	return sb.String()
}

func failureSignature(calls []tools.Call, results []tools.Result) string {
	var parts []string
	for i, r := range results {
		parts = append(parts, calls[i].Name+"|"+r.Error)
	}
	return strings.Join(parts, ";")
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}
