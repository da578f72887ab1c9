// Package tools provides the closed built-in tool set used by specialist
// workers: read, write, edit, grep, glob, bash, plus web_search and web_fetch
// for the researcher. Tools are self-describing (JSON-schema parameters) and
// run against a pluggable backend so the same registry can target the local
// machine or a remote host.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Capability is a coarse-grained permission tag. A worker is granted a subset
// and may only invoke tools whose capability is in its grant set.
type Capability string

const (
	CapRead   Capability = "read"
	CapSearch Capability = "search"
	CapBash   Capability = "bash"
	CapWrite  Capability = "write"
	CapWeb    Capability = "web"
)

// ParseCapability converts a config string into a Capability.
func ParseCapability(s string) (Capability, error) {
	switch Capability(s) {
	case CapRead, CapSearch, CapBash, CapWrite, CapWeb:
		return Capability(s), nil
	}
	return "", fmt.Errorf("tools: unknown capability %q", s)
}

// Call is a single tool invocation request.
type Call struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Result is the outcome of a tool execution.
type Result struct {
	Tool      string `json:"tool"`
	Success   bool   `json:"success"`
	Data      string `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	ExitCode  int    `json:"exit_code,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

// Error type tags used in Result.ErrorType.
const (
	ErrTypeInvalidParams = "invalid_params"
	ErrTypeNotFound      = "not_found"
	ErrTypeExec          = "exec_error"
	ErrTypeTimeout       = "timeout"
	ErrTypeDenied        = "capability_denied"
	ErrTypeNetwork       = "network_error"
)

func failure(tool, errType, msg string) Result {
	return Result{Tool: tool, Success: false, Error: msg, ErrorType: errType}
}

func success(tool, data string) Result {
	return Result{Tool: tool, Success: true, Data: data}
}

// Tool is a self-describing, executable tool.
type Tool struct {
	name        string
	description string
	capability  Capability
	schema      map[string]any
	run         func(ctx context.Context, args map[string]any) Result
}

func (t *Tool) Name() string           { return t.name }
func (t *Tool) Description() string    { return t.description }
func (t *Tool) Capability() Capability { return t.capability }
func (t *Tool) Schema() map[string]any { return t.schema }

// Execute runs the tool and stamps elapsed time on the result.
func (t *Tool) Execute(ctx context.Context, args map[string]any) Result {
	start := time.Now()
	res := t.run(ctx, args)
	res.Tool = t.name
	res.ElapsedMs = time.Since(start).Milliseconds()
	return res
}

// Schema describes one tool for the LLM tool channel.
type Schema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Registry holds the tools available to a process. Workers filter it by
// their capability grants; the registry itself does not enforce permissions.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "tools"),
	}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.name]; !exists {
		r.order = append(r.order, t.name)
	}
	r.tools[t.name] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Schemas returns the schemas of all tools whose capability is in caps,
// in registration order.
func (r *Registry) Schemas(caps map[Capability]bool) []Schema {
	var out []Schema
	for _, name := range r.order {
		t := r.tools[name]
		if !caps[t.capability] {
			continue
		}
		out = append(out, Schema{Name: t.name, Description: t.description, Parameters: t.schema})
	}
	return out
}

// Execute runs a call against the registry. An unknown tool yields a failed
// result rather than an error so the outcome can be fed back into a worker's
// conversation.
func (r *Registry) Execute(ctx context.Context, call Call) Result {
	t, ok := r.tools[call.Name]
	if !ok {
		return failure(call.Name, ErrTypeNotFound, fmt.Sprintf("tool %s not available", call.Name))
	}
	r.logger.Debug("executing tool", "tool", call.Name)
	return t.Execute(ctx, call.Arguments)
}

// --- argument helpers ---

func argString(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func argInt(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}
