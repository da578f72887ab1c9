// Package orchestrator implements the supervising control loop: it
// classifies each user turn, spawns specialist workers under the concurrency
// semaphore, reviews their output, re-plans on escalation, and manages the
// bounded conversation context.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clawinfra/codeclaw/internal/agent"
	"github.com/clawinfra/codeclaw/internal/config"
	"github.com/clawinfra/codeclaw/internal/gateway"
	"github.com/clawinfra/codeclaw/internal/session"
	"github.com/clawinfra/codeclaw/internal/tools"
)

// ErrBusy is returned when Process is called while another turn is still in
// flight on the same session. Turns are strictly serialized.
var ErrBusy = errors.New("orchestrator: session is already processing a turn")

// maxSupervisionRounds bounds the spawn→review→dispatch recursion per turn.
const maxSupervisionRounds = 3

// supervisionExhausted marks output returned when the bound is hit.
const supervisionExhausted = "(max supervision rounds reached)\n\n"

// Memory is the long-term memory surface the orchestrator consumes. Both
// methods are best-effort from the orchestrator's point of view.
type Memory interface {
	Search(ctx context.Context, query string, limit int) ([]string, error)
	ExtractAndStore(ctx context.Context, userMsg, reply string)
}

// Orchestrator supervises one session. It exclusively owns the session, the
// semaphore, and the worker cache.
type Orchestrator struct {
	cfg      *config.Config
	gw       gateway.Streamer
	specs    *agent.SpecSet
	registry *tools.Registry
	sess     *session.Session
	logger   *slog.Logger

	sem          *Semaphore
	mem          Memory
	execFunc     agent.ExecFunc
	workdir      string
	agentTimeout time.Duration

	turnMu sync.Mutex // serializes Process per session

	workersMu sync.Mutex
	workers   map[string]*agent.Worker // cached by name/model
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMemory attaches a long-term memory store.
func WithMemory(m Memory) Option {
	return func(o *Orchestrator) { o.mem = m }
}

// WithExecFunc routes worker tool calls through a custom dispatcher, e.g.
// the remote tool-callback channel.
func WithExecFunc(fn agent.ExecFunc) Option {
	return func(o *Orchestrator) { o.execFunc = fn }
}

// WithAgentTimeout overrides the per-worker deadline.
func WithAgentTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.agentTimeout = d }
}

// New creates an orchestrator for a session.
func New(cfg *config.Config, gw gateway.Streamer, specs *agent.SpecSet, registry *tools.Registry, sess *session.Session, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:          cfg,
		gw:           gw,
		specs:        specs,
		registry:     registry,
		sess:         sess,
		logger:       logger.With("component", "orchestrator", "session", sess.ID),
		sem:          NewSemaphore(cfg.Regulators.MaxConcurrentAgents),
		workdir:      sess.ProjectDir,
		agentTimeout: time.Duration(cfg.AgentTimeoutSeconds()) * time.Second,
		workers:      make(map[string]*agent.Worker),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Semaphore exposes the admission-control telemetry for status surfaces.
func (o *Orchestrator) Semaphore() *Semaphore { return o.sem }

// Session returns the session this orchestrator owns.
func (o *Orchestrator) Session() *session.Session { return o.sess }

// Process shapes one user turn: compact context if needed, retrieve
// memories, route, dispatch, review, and persist the exchange.
func (o *Orchestrator) Process(ctx context.Context, userMessage string) (string, error) {
	if !o.turnMu.TryLock() {
		return "", ErrBusy
	}
	defer o.turnMu.Unlock()
	o.sess.Touch()

	if o.needsCompaction() {
		o.compactHistory(ctx)
	}

	memories := o.searchMemories(ctx, userMessage)
	systemPrompt := o.buildSystemPrompt(memories)

	messages := o.historyMessages(10)
	messages = append(messages, gateway.Message{Role: "user", Content: userMessage})

	o.logger.Debug("routing request", "length", len(userMessage))

	resp, err := o.callLLM(ctx, systemPrompt, messages, routingTools())
	if err != nil {
		return "", fmt.Errorf("routing call: %w", err)
	}

	name, task := o.resolveRoute(resp, userMessage)

	var reply string
	if name == "" {
		// Knowledge-base role: the routing response is the final answer.
		reply = strings.TrimSpace(resp.Content)
	} else {
		reply = o.dispatch(ctx, name, userMessage, task)
	}

	o.sess.Append(userMessage, reply)

	// Durable-fact extraction is best-effort and must never block the reply.
	if o.mem != nil {
		go func(user, assistant string) {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			o.mem.ExtractAndStore(ctx, user, assistant)
		}(userMessage, reply)
	}

	return reply, nil
}

// RunAgent runs a named specialist directly, bypassing routing and review.
// Backs the /explore and /execute commands.
func (o *Orchestrator) RunAgent(ctx context.Context, agentType, task string) (string, error) {
	sr := o.spawnAgent(ctx, agentType, task, false, false)
	if sr.escalation != "" {
		return "", fmt.Errorf("agent got stuck: %s", sr.escalation)
	}
	if !sr.success {
		return "", errors.New(sr.output)
	}
	o.sess.Touch()
	return sr.output, nil
}

// resolveRoute applies the routing tiers: structured tool calls, JSON
// embedded in text, spawn mentions in the response, then the deterministic
// intent classifier over the user message. Only the first call is honored.
func (o *Orchestrator) resolveRoute(resp *gateway.ChatResponse, userMessage string) (name, task string) {
	known := func(n string) bool { return routingToolNames[n] }

	var calls []tools.Call
	for _, tc := range resp.ToolCalls {
		if known(tc.Name) {
			calls = append(calls, tools.Call{Name: tc.Name, Arguments: tc.Arguments})
		}
	}
	if len(calls) == 0 {
		calls = agent.ParseToolCalls(resp.Content, known)
	}
	if len(calls) == 0 {
		if n := detectSpawnMention(resp.Content); n != "" {
			calls = []tools.Call{{Name: n, Arguments: map[string]any{"task": userMessage}}}
		}
	}
	if len(calls) == 0 {
		if n := detectUserIntent(userMessage); n != "" {
			o.logger.Debug("intent classifier routed request", "intent", n)
			calls = []tools.Call{{Name: n, Arguments: map[string]any{"task": userMessage}}}
		}
	}
	if len(calls) == 0 {
		return "", ""
	}
	if len(calls) > 1 {
		o.logger.Warn("routing emitted multiple tool calls; honoring the first",
			"honored", calls[0].Name, "dropped", len(calls)-1)
	}

	first := calls[0]
	task, _ = first.Arguments["task"].(string)
	if task == "" {
		task = userMessage
	}
	return first.Name, task
}

// dispatch runs the selected route and the supervision machinery.
func (o *Orchestrator) dispatch(ctx context.Context, toolName, userRequest, task string) string {
	agentType := strings.TrimPrefix(toolName, "spawn_")

	if agentType == "planner" {
		return o.runPlannerRoute(ctx, userRequest, task)
	}

	sr := o.spawnAgent(ctx, agentType, task, false, false)
	if sr.escalation != "" {
		return o.handleEscalation(ctx, userRequest, sr.escalation, 1)
	}
	return o.reviewAndSupervise(ctx, userRequest, agentType, sr.output, sr.success, 1)
}

// runPlannerRoute gets a plan, validates it, and hands it to the executor.
func (o *Orchestrator) runPlannerRoute(ctx context.Context, userRequest, task string) string {
	sr := o.spawnAgent(ctx, "planner", task, false, false)
	if !sr.success {
		return "Planning failed: " + sr.output
	}

	plan := ParsePlan(sr.output)
	if err := plan.Validate(); err != nil {
		o.logger.Warn("plan failed validation", "error", err)
		return fmt.Sprintf("Plan created but not executable (%v):\n%s", err, sr.output)
	}

	o.logger.Info("plan created", "steps", len(plan.Steps), "groups", len(plan.ParallelGroups), "complexity", plan.Complexity)
	return o.executePlan(ctx, plan, userRequest)
}

// spawnResult is the orchestrator-side outcome of one worker run.
type spawnResult struct {
	success    bool
	output     string
	escalation string
}

// spawnAgent acquires a semaphore slot, runs the named specialist with a
// deadline, and releases the slot on every exit path. The planner runs
// without a slot: it has no tools and only thinks.
func (o *Orchestrator) spawnAgent(ctx context.Context, agentType, task string, forceLite, forceFull bool) spawnResult {
	spec, ok := o.specs.Get(agentType)
	if !ok {
		return spawnResult{output: fmt.Sprintf("Unknown agent type: %s", agentType)}
	}

	complexity := estimateComplexity(task)
	useLite := forceLite || (complexity == "simple" && !forceFull)
	if useLite {
		if lite := o.liteModel(agentType); lite != "" {
			spec = spec.WithModel(lite)
		}
	}

	o.logger.Info("spawning agent", "type", agentType, "complexity", complexity, "model", spec.Model)

	if agentType != "planner" {
		if err := o.sem.Acquire(ctx); err != nil {
			return spawnResult{output: fmt.Sprintf("Agent admission cancelled: %v", err)}
		}
		defer o.sem.Release()
	}

	runCtx, cancel := context.WithTimeout(ctx, o.agentTimeout)
	defer cancel()

	res := o.worker(spec).Run(runCtx, task)

	if res.NeedsEscalation {
		o.logger.Warn("agent requesting orchestrator help", "type", agentType)
		return spawnResult{escalation: res.EscalationContext}
	}
	if !res.Success {
		out := res.Error
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			out = fmt.Sprintf("Agent timed out after %s", o.agentTimeout)
		}
		o.logger.Warn("agent failed", "type", agentType, "error", out)
		return spawnResult{output: out}
	}

	o.logger.Info("agent completed", "type", agentType, "duration_ms", res.DurationMs, "tool_calls", len(res.ToolCallLog))
	return spawnResult{success: true, output: res.Output}
}

// worker returns a cached worker for (spec name, model); runs share no
// mutable state, so instances are safe to reuse concurrently.
func (o *Orchestrator) worker(spec agent.Spec) *agent.Worker {
	key := spec.Name + "/" + spec.Model

	o.workersMu.Lock()
	defer o.workersMu.Unlock()
	if w, ok := o.workers[key]; ok {
		return w
	}

	var opts []agent.Option
	if o.execFunc != nil {
		opts = append(opts, agent.WithExecFunc(o.execFunc))
	}
	if o.cfg.Regulators.MaxToolParallel > 0 {
		opts = append(opts, agent.WithMaxParallel(o.cfg.Regulators.MaxToolParallel))
	}
	w := agent.New(spec, o.gw, o.registry, o.workdir, o.logger, opts...)
	o.workers[key] = w
	return w
}

func (o *Orchestrator) liteModel(agentType string) string {
	switch agentType {
	case "explorer":
		return o.cfg.Models.ExplorationLite
	case "executor":
		return o.cfg.Models.ExecutionLite
	}
	return ""
}

// reviewAndSupervise asks the routing model whether the work is complete and
// recursively dispatches follow-ups, bounded by maxSupervisionRounds.
func (o *Orchestrator) reviewAndSupervise(ctx context.Context, userRequest, agentType, output string, success bool, round int) string {
	if round >= maxSupervisionRounds {
		o.logger.Warn("max supervision rounds reached")
		return supervisionExhausted + output
	}

	shown := output
	if !success {
		shown = "AGENT ERROR: " + output
	}
	review := fmt.Sprintf(reviewPrompt, userRequest, agentType, shown)

	resp, err := o.callLLM(ctx, o.buildSystemPrompt(nil), []gateway.Message{{Role: "user", Content: review}}, routingTools())
	if err != nil {
		// Review is advisory; on gateway failure fall back to the raw output.
		o.logger.Warn("review call failed", "error", err)
		return output
	}

	name, task := o.resolveReviewFollowup(resp, userRequest)
	if name != "" {
		o.logger.Info("foreman requesting follow-up", "agent", name, "round", round+1)
		sr := o.spawnAgent(ctx, name, task, false, false)
		if sr.escalation != "" {
			return o.handleEscalation(ctx, userRequest, sr.escalation, round+1)
		}
		return o.reviewAndSupervise(ctx, userRequest, name, sr.output, sr.success, round+1)
	}

	if text := strings.TrimSpace(resp.Content); text != "" {
		return text
	}
	return output
}

// resolveReviewFollowup accepts only worker follow-ups from a review
// response; the planner is not a valid review outcome.
func (o *Orchestrator) resolveReviewFollowup(resp *gateway.ChatResponse, userRequest string) (string, string) {
	known := func(n string) bool {
		return n == "spawn_explorer" || n == "spawn_executor" || n == "spawn_researcher"
	}

	var calls []tools.Call
	for _, tc := range resp.ToolCalls {
		if known(tc.Name) {
			calls = append(calls, tools.Call{Name: tc.Name, Arguments: tc.Arguments})
		}
	}
	if len(calls) == 0 {
		calls = agent.ParseToolCalls(resp.Content, known)
	}
	if len(calls) == 0 {
		return "", ""
	}

	task, _ := calls[0].Arguments["task"].(string)
	if task == "" {
		task = "Follow up on: " + userRequest
	}
	return strings.TrimPrefix(calls[0].Name, "spawn_"), task
}

// handleEscalation re-plans after a worker hit a wall: the escalation prompt
// solicits a planner decomposition, an exploratory fact-finding pass, or a
// reformulated executor retry on the full model. Each escalation consumes a
// supervision round.
func (o *Orchestrator) handleEscalation(ctx context.Context, userRequest, escalationContext string, round int) string {
	if round >= maxSupervisionRounds {
		o.logger.Warn("max supervision rounds reached during escalation")
		return supervisionExhausted + "The task could not be completed: " + escalationContext
	}

	o.logger.Info("analyzing escalation", "round", round)
	prompt := fmt.Sprintf(escalationPrompt, userRequest, escalationContext)

	resp, err := o.callLLM(ctx, o.buildSystemPrompt(nil), []gateway.Message{{Role: "user", Content: prompt}}, routingTools())
	if err != nil {
		return "The task could not be completed: " + escalationContext
	}

	name, task := o.resolveEscalationRoute(resp, userRequest)
	switch name {
	case "planner":
		sr := o.spawnAgent(ctx, "planner", task, false, false)
		if sr.success {
			plan := ParsePlan(sr.output)
			if err := plan.Validate(); err == nil {
				return o.executePlan(ctx, plan, userRequest)
			}
		}
		return sr.output
	case "explorer":
		sr := o.spawnAgent(ctx, "explorer", task, false, false)
		if sr.escalation != "" {
			return o.handleEscalation(ctx, userRequest, sr.escalation, round+1)
		}
		return o.reviewAndSupervise(ctx, userRequest, "explorer", sr.output, sr.success, round+1)
	case "executor":
		// Retry on the full model: the lite tier already failed once.
		sr := o.spawnAgent(ctx, "executor", task, false, true)
		if sr.escalation != "" {
			return o.handleEscalation(ctx, userRequest, sr.escalation, round+1)
		}
		return o.reviewAndSupervise(ctx, userRequest, "executor", sr.output, sr.success, round+1)
	}

	if text := strings.TrimSpace(resp.Content); text != "" {
		return text
	}
	return "The task could not be completed. The orchestrator was unable to find a solution."
}

func (o *Orchestrator) resolveEscalationRoute(resp *gateway.ChatResponse, userRequest string) (string, string) {
	known := func(n string) bool { return routingToolNames[n] }

	var calls []tools.Call
	for _, tc := range resp.ToolCalls {
		if known(tc.Name) {
			calls = append(calls, tools.Call{Name: tc.Name, Arguments: tc.Arguments})
		}
	}
	if len(calls) == 0 {
		calls = agent.ParseToolCalls(resp.Content, known)
	}
	if len(calls) == 0 {
		return "", ""
	}
	task, _ := calls[0].Arguments["task"].(string)
	if task == "" {
		task = userRequest
	}
	return strings.TrimPrefix(calls[0].Name, "spawn_"), task
}

func (o *Orchestrator) callLLM(ctx context.Context, systemPrompt string, messages []gateway.Message, schemas []gateway.ToolSchema) (*gateway.ChatResponse, error) {
	stream, err := o.gw.Chat(ctx, gateway.ChatRequest{
		Model:        o.cfg.Models.Orchestration,
		SystemPrompt: systemPrompt,
		Messages:     messages,
		Tools:        schemas,
		Temperature:  o.cfg.Defaults.Temperature,
		MaxTokens:    o.cfg.Defaults.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return gateway.Collect(stream)
}

// historyMessages renders the most recent turns as chat messages.
func (o *Orchestrator) historyMessages(maxTurns int) []gateway.Message {
	turns := o.sess.Turns()
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	var out []gateway.Message
	for _, t := range turns {
		out = append(out, gateway.Message{Role: "user", Content: t.User})
		out = append(out, gateway.Message{Role: "assistant", Content: t.Assistant})
	}
	return out
}
