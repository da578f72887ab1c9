package agent

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/clawinfra/codeclaw/internal/config"
	"github.com/clawinfra/codeclaw/internal/gateway"
	"github.com/clawinfra/codeclaw/internal/tools"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scripted is one canned LLM response.
type scripted struct {
	content   string
	toolCalls []gateway.ToolCall
}

// scriptedGateway replays responses in order, repeating the last one when
// the script runs out.
type scriptedGateway struct {
	mu        sync.Mutex
	responses []scripted
	calls     int
	requests  []gateway.ChatRequest
}

func (g *scriptedGateway) Chat(_ context.Context, req gateway.ChatRequest) (gateway.Stream, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests = append(g.requests, req)
	idx := g.calls
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	g.calls++
	r := g.responses[idx]

	return &fakeStream{chunks: []gateway.Chunk{
		{Content: r.content, ToolCalls: r.toolCalls},
		{Done: true, Usage: &gateway.Usage{}},
	}}, nil
}

type fakeStream struct {
	chunks []gateway.Chunk
	i      int
}

func (s *fakeStream) Recv() (gateway.Chunk, error) {
	if s.i >= len(s.chunks) {
		return gateway.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *fakeStream) Close() error { return nil }

func executorSpec(caps ...tools.Capability) Spec {
	if len(caps) == 0 {
		caps = []tools.Capability{tools.CapRead, tools.CapSearch, tools.CapBash, tools.CapWrite}
	}
	return Spec{
		Name:          "executor",
		Model:         "qwen2.5-coder:7b",
		SystemPrompt:  executorPrompt,
		Capabilities:  caps,
		MaxIterations: 10,
	}
}

func newTestWorker(t *testing.T, spec Spec, gw gateway.Streamer) (*Worker, string) {
	t.Helper()
	dir := t.TempDir()
	reg := tools.DefaultRegistry(tools.Options{Cwd: dir}, tools.WebOptions{}, testLogger())
	return New(spec, gw, reg, dir, testLogger()), dir
}

func TestWorkerHappyPathEmbeddedJSON(t *testing.T) {
	gw := &scriptedGateway{responses: []scripted{
		{content: `{"name": "write", "arguments": {"path": "hello.py", "content": "print('hello')\n"}}`},
		{content: "Created hello.py with a hello world print."},
	}}
	w, dir := newTestWorker(t, executorSpec(), gw)

	res := w.Run(context.Background(), "Create a python script hello.py that prints hello")
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	if !strings.Contains(res.Output, "hello.py") {
		t.Errorf("output should mention the file: %q", res.Output)
	}

	data, err := os.ReadFile(filepath.Join(dir, "hello.py"))
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if string(data) != "print('hello')\n" {
		t.Errorf("unexpected file content: %q", data)
	}

	if len(res.ToolCallLog) != 1 || res.ToolCallLog[0].Tool != "write" || !res.ToolCallLog[0].Success {
		t.Errorf("unexpected tool log: %+v", res.ToolCallLog)
	}
}

func TestWorkerStructuredToolCalls(t *testing.T) {
	gw := &scriptedGateway{responses: []scripted{
		{toolCalls: []gateway.ToolCall{{Name: "bash", Arguments: map[string]any{"command": "echo structured"}}}},
		{content: "Command executed."},
	}}
	w, _ := newTestWorker(t, executorSpec(), gw)

	res := w.Run(context.Background(), "run echo")
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.ToolCallLog) != 1 || res.ToolCallLog[0].Tool != "bash" {
		t.Errorf("unexpected tool log: %+v", res.ToolCallLog)
	}
}

func TestWorkerCapabilityDenied(t *testing.T) {
	// Executor without WRITE: a write call must be refused before dispatch
	// and the filesystem left untouched.
	gw := &scriptedGateway{responses: []scripted{
		{content: `{"name": "write", "arguments": {"path": "evil.txt", "content": "x"}}`},
		{content: "I cannot write files with my current permissions."},
	}}
	w, dir := newTestWorker(t, executorSpec(tools.CapRead, tools.CapSearch, tools.CapBash), gw)

	res := w.Run(context.Background(), "write a file")
	if !res.Success {
		t.Fatalf("run should complete with an explanation: %s", res.Error)
	}
	if _, err := os.Stat(filepath.Join(dir, "evil.txt")); !os.IsNotExist(err) {
		t.Error("denied write must not touch the filesystem")
	}
	if len(res.ToolCallLog) != 1 || res.ToolCallLog[0].Success {
		t.Errorf("denied call should be logged as failure: %+v", res.ToolCallLog)
	}
	if !strings.Contains(res.ToolCallLog[0].Result, "not available") {
		t.Errorf("denial message missing: %+v", res.ToolCallLog[0])
	}
}

func TestCapabilityDenialSweep(t *testing.T) {
	// Property: for every (capability subset, tool) pair, dispatch succeeds
	// iff the tool's capability is granted.
	toolCaps := map[string]tools.Capability{
		"read": tools.CapRead, "grep": tools.CapSearch, "glob": tools.CapSearch,
		"write": tools.CapWrite, "edit": tools.CapWrite, "bash": tools.CapBash,
		"web_search": tools.CapWeb, "web_fetch": tools.CapWeb,
	}
	allCaps := []tools.Capability{tools.CapRead, tools.CapSearch, tools.CapBash, tools.CapWrite, tools.CapWeb}

	for mask := 0; mask < 1<<len(allCaps); mask++ {
		var subset []tools.Capability
		for i, c := range allCaps {
			if mask&(1<<i) != 0 {
				subset = append(subset, c)
			}
		}
		spec := executorSpec()
		spec.Capabilities = subset

		w, _ := newTestWorker(t, spec, &scriptedGateway{responses: []scripted{{content: "unused"}}})

		for toolName, cap := range toolCaps {
			granted := false
			for _, c := range subset {
				if c == cap {
					granted = true
				}
			}
			res := w.executeCall(context.Background(), tools.Call{Name: toolName, Arguments: map[string]any{}})
			denied := res.ErrorType == tools.ErrTypeDenied
			if granted && denied {
				t.Errorf("mask %b: tool %s denied despite grant", mask, toolName)
			}
			if !granted && !denied {
				t.Errorf("mask %b: tool %s not denied without grant", mask, toolName)
			}
		}
	}
}

func TestWorkerEscalatesAfterIdenticalFailures(t *testing.T) {
	// The model keeps reading a file that does not exist; after three
	// identical failures the worker must abort with the escalation sentinel.
	call := scripted{content: `{"name": "read", "arguments": {"path": "missing.txt"}}`}
	gw := &scriptedGateway{responses: []scripted{call, call, call, call, call}}
	w, _ := newTestWorker(t, executorSpec(), gw)

	res := w.Run(context.Background(), "read missing.txt")
	if res.Success {
		t.Fatal("expected failure")
	}
	if !res.NeedsEscalation {
		t.Fatal("expected escalation sentinel")
	}
	if res.EscalationContext == "" || !strings.Contains(res.EscalationContext, "read") {
		t.Errorf("escalation context should describe the failure: %q", res.EscalationContext)
	}
	if len(res.ToolCallLog) != escalationThreshold {
		t.Errorf("expected exactly %d attempts, got %d", escalationThreshold, len(res.ToolCallLog))
	}
}

func TestWorkerDifferentFailuresDoNotEscalate(t *testing.T) {
	gw := &scriptedGateway{responses: []scripted{
		{content: `{"name": "read", "arguments": {"path": "a.txt"}}`},
		{content: `{"name": "read", "arguments": {"path": "b.txt"}}`},
		{content: `{"name": "read", "arguments": {"path": "c.txt"}}`},
		{content: "Those files do not exist."},
	}}
	w, _ := newTestWorker(t, executorSpec(), gw)

	res := w.Run(context.Background(), "read some files")
	if res.NeedsEscalation {
		t.Error("distinct failures must not trigger escalation")
	}
	if !res.Success {
		t.Errorf("run should complete: %s", res.Error)
	}
}

func TestWorkerMaxIterations(t *testing.T) {
	spec := executorSpec()
	spec.MaxIterations = 2

	// Every response keeps calling a tool and the summary call yields no
	// text either, so the run fails with the iteration bound.
	gw := &scriptedGateway{responses: []scripted{
		{content: `{"name": "bash", "arguments": {"command": "echo 1"}}`},
		{content: `{"name": "bash", "arguments": {"command": "echo 2"}}`},
		{content: `{"name": "bash", "arguments": {"command": "echo 3"}}`},
	}}
	w, _ := newTestWorker(t, spec, gw)

	res := w.Run(context.Background(), "loop forever")
	if res.Success {
		t.Fatal("expected failure at iteration bound")
	}
	if !strings.Contains(res.Error, "max iterations") {
		t.Errorf("unexpected error: %s", res.Error)
	}
}

func TestWorkerSummaryCallAfterMaxIterations(t *testing.T) {
	spec := executorSpec()
	spec.MaxIterations = 1

	gw := &scriptedGateway{responses: []scripted{
		{content: `{"name": "bash", "arguments": {"command": "echo done"}}`},
		{content: "Ran the command; output was 'done'."},
	}}
	w, _ := newTestWorker(t, spec, gw)

	res := w.Run(context.Background(), "run echo")
	if !res.Success {
		t.Fatalf("summary call should rescue the run: %s", res.Error)
	}
	if !strings.Contains(res.Output, "done") {
		t.Errorf("unexpected output: %q", res.Output)
	}
}

func TestWorkerUnknownToolFedBack(t *testing.T) {
	gw := &scriptedGateway{responses: []scripted{
		{toolCalls: []gateway.ToolCall{{Name: "teleport", Arguments: map[string]any{}}}},
		{content: "That tool does not exist; here is what I can do instead."},
	}}
	w, _ := newTestWorker(t, executorSpec(), gw)

	res := w.Run(context.Background(), "teleport")
	if !res.Success {
		t.Fatalf("unexpected failure: %s", res.Error)
	}
	if len(res.ToolCallLog) != 1 || res.ToolCallLog[0].Success {
		t.Errorf("unknown tool should log a failed call: %+v", res.ToolCallLog)
	}
}

func TestWorkerParallelBatchOrdering(t *testing.T) {
	// Two calls in one batch: results must be fed back in call order even
	// though execution is concurrent.
	gw := &scriptedGateway{responses: []scripted{
		{toolCalls: []gateway.ToolCall{
			{Name: "bash", Arguments: map[string]any{"command": "sleep 0.05; echo first"}},
			{Name: "bash", Arguments: map[string]any{"command": "echo second"}},
		}},
		{content: "Both commands ran."},
	}}
	w, _ := newTestWorker(t, executorSpec(), gw)

	res := w.Run(context.Background(), "run both")
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}

	gw.mu.Lock()
	defer gw.mu.Unlock()
	if len(gw.requests) < 2 {
		t.Fatalf("expected a second LLM call with results, got %d", len(gw.requests))
	}
	feedback := gw.requests[1].Messages[len(gw.requests[1].Messages)-1].Content
	firstIdx := strings.Index(feedback, "first")
	secondIdx := strings.Index(feedback, "second")
	if firstIdx < 0 || secondIdx < 0 || firstIdx > secondIdx {
		t.Errorf("results out of order in feedback: %q", feedback)
	}
}

func TestWorkerExecFuncOverride(t *testing.T) {
	var dispatched []string
	exec := func(_ context.Context, call tools.Call) tools.Result {
		dispatched = append(dispatched, call.Name)
		return tools.Result{Tool: call.Name, Success: true, Data: "remote ok"}
	}

	gw := &scriptedGateway{responses: []scripted{
		{content: `{"name": "read", "arguments": {"path": "remote.txt"}}`},
		{content: "Read the remote file."},
	}}

	dir := t.TempDir()
	reg := tools.DefaultRegistry(tools.Options{Cwd: dir}, tools.WebOptions{}, testLogger())
	w := New(executorSpec(), gw, reg, dir, testLogger(), WithExecFunc(exec))

	res := w.Run(context.Background(), "read remote.txt")
	if !res.Success {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(dispatched) != 1 || dispatched[0] != "read" {
		t.Errorf("exec func not used: %v", dispatched)
	}
}

func TestSpecSetDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	set := DefaultSpecSet(cfg.Models, cfg.Defaults)

	exec, ok := set.Get("executor")
	if !ok {
		t.Fatal("executor spec missing")
	}
	if exec.Model != cfg.Models.Execution {
		t.Errorf("executor model = %s, want %s", exec.Model, cfg.Models.Execution)
	}
	if !exec.CapSet()[tools.CapWrite] {
		t.Error("executor should have write capability")
	}

	planner, ok := set.Get("planner")
	if !ok {
		t.Fatal("planner spec missing")
	}
	if len(planner.Capabilities) != 0 {
		t.Errorf("planner must have no tool capabilities: %v", planner.Capabilities)
	}
	if planner.MaxIterations != 1 {
		t.Errorf("planner max iterations = %d, want 1", planner.MaxIterations)
	}

	for _, name := range []string{"explorer", "researcher", "reviewer", "tester", "debugger", "docs", "refactor"} {
		if _, ok := set.Get(name); !ok {
			t.Errorf("missing built-in spec %s", name)
		}
	}
}

func TestSpecSetOverlay(t *testing.T) {
	cfg := config.DefaultConfig()
	set := DefaultSpecSet(cfg.Models, cfg.Defaults)

	err := set.Apply([]config.WorkerDef{
		{Name: "executor", Model: "custom:7b", MaxIterations: 20},
		{Name: "auditor", Model: "llama3.2:3b", SystemPrompt: "You audit.", Capabilities: []string{"read", "search"}},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	exec, _ := set.Get("executor")
	if exec.Model != "custom:7b" || exec.MaxIterations != 20 {
		t.Errorf("overlay not applied: %+v", exec)
	}
	// Capabilities untouched by partial overlay
	if !exec.CapSet()[tools.CapWrite] {
		t.Error("overlay should keep existing capabilities")
	}

	auditor, ok := set.Get("auditor")
	if !ok {
		t.Fatal("new specialist not registered")
	}
	if len(auditor.Capabilities) != 2 {
		t.Errorf("unexpected capabilities: %v", auditor.Capabilities)
	}
}

func TestSpecSetOverlayRejectsBadCapability(t *testing.T) {
	cfg := config.DefaultConfig()
	set := DefaultSpecSet(cfg.Models, cfg.Defaults)
	err := set.Apply([]config.WorkerDef{{Name: "x", Model: "m", Capabilities: []string{"root"}}})
	if err == nil {
		t.Fatal("expected error for unknown capability")
	}
}
