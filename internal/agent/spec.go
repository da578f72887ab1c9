// Package agent implements the specialist workers: a single tool-use loop
// parameterized by WorkerSpec. Specialists differ only in their spec — there
// is no type hierarchy.
package agent

import (
	"fmt"
	"sort"

	"github.com/clawinfra/codeclaw/internal/config"
	"github.com/clawinfra/codeclaw/internal/tools"
)

// Spec configures one specialist. Immutable for the lifetime of a worker.
type Spec struct {
	Name          string
	Model         string
	SystemPrompt  string
	Capabilities  []tools.Capability
	MaxIterations int
	Temperature   float64
	MaxTokens     int
}

// WithModel returns a copy of the spec targeting a different model. Used for
// lite/heavy tier selection without mutating the registered spec.
func (s Spec) WithModel(model string) Spec {
	s.Model = model
	return s
}

// CapSet returns the grant set as a lookup map.
func (s Spec) CapSet() map[tools.Capability]bool {
	m := make(map[tools.Capability]bool, len(s.Capabilities))
	for _, c := range s.Capabilities {
		m[c] = true
	}
	return m
}

// ToolCallRecord is one entry of a worker's tool-call log.
type ToolCallRecord struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Success   bool           `json:"success"`
	Result    string         `json:"result"`
}

// Result is the outcome of one worker run.
type Result struct {
	Name              string
	Success           bool
	Output            string
	Error             string
	ToolCallLog       []ToolCallRecord
	DurationMs        int64
	NeedsEscalation   bool
	EscalationContext string
}

// SpecSet holds the registered specialists, built-ins plus any TOML overlays.
type SpecSet struct {
	specs map[string]Spec
}

// DefaultSpecSet returns the built-in specialists wired to the configured
// model roles.
func DefaultSpecSet(models config.ModelsConfig, defaults config.DefaultsConfig) *SpecSet {
	temp := defaults.Temperature
	maxTok := defaults.MaxTokens

	mk := func(name, model, prompt string, caps []tools.Capability, maxIter int) Spec {
		return Spec{
			Name:          name,
			Model:         model,
			SystemPrompt:  prompt,
			Capabilities:  caps,
			MaxIterations: maxIter,
			Temperature:   temp,
			MaxTokens:     maxTok,
		}
	}

	s := &SpecSet{specs: map[string]Spec{}}
	s.put(mk("explorer", models.Exploration, explorerPrompt,
		[]tools.Capability{tools.CapRead, tools.CapSearch}, 10))
	s.put(mk("executor", models.Execution, executorPrompt,
		[]tools.Capability{tools.CapRead, tools.CapSearch, tools.CapBash, tools.CapWrite}, 15))
	s.put(mk("researcher", models.Research, researcherPrompt,
		[]tools.Capability{tools.CapRead, tools.CapSearch, tools.CapWeb}, 12))
	s.put(mk("planner", models.Planning, plannerPrompt, nil, 1))
	s.put(mk("reviewer", models.Orchestration, reviewerPrompt,
		[]tools.Capability{tools.CapRead, tools.CapSearch}, 8))
	s.put(mk("tester", models.Execution, testerPrompt,
		[]tools.Capability{tools.CapRead, tools.CapSearch, tools.CapBash}, 10))
	s.put(mk("debugger", models.Execution, debuggerPrompt,
		[]tools.Capability{tools.CapRead, tools.CapSearch, tools.CapBash}, 12))
	s.put(mk("docs", models.Orchestration, docsPrompt,
		[]tools.Capability{tools.CapRead, tools.CapSearch, tools.CapWrite}, 10))
	s.put(mk("refactor", models.Execution, refactorPrompt,
		[]tools.Capability{tools.CapRead, tools.CapSearch, tools.CapWrite}, 12))
	return s
}

func (s *SpecSet) put(spec Spec) { s.specs[spec.Name] = spec }

// Get looks up a specialist by name.
func (s *SpecSet) Get(name string) (Spec, bool) {
	spec, ok := s.specs[name]
	return spec, ok
}

// Names returns registered specialist names, sorted.
func (s *SpecSet) Names() []string {
	names := make([]string, 0, len(s.specs))
	for n := range s.specs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Apply overlays worker definitions from a workers.toml file. Existing specs
// are overridden field-by-field; unknown names register new specialists.
func (s *SpecSet) Apply(defs []config.WorkerDef) error {
	for _, def := range defs {
		spec, exists := s.specs[def.Name]
		if !exists {
			spec = Spec{Name: def.Name, MaxIterations: 10}
		}
		if def.Model != "" {
			spec.Model = def.Model
		}
		if def.SystemPrompt != "" {
			spec.SystemPrompt = def.SystemPrompt
		}
		if def.MaxIterations > 0 {
			spec.MaxIterations = def.MaxIterations
		}
		if len(def.Capabilities) > 0 {
			caps := make([]tools.Capability, 0, len(def.Capabilities))
			for _, c := range def.Capabilities {
				cap, err := tools.ParseCapability(c)
				if err != nil {
					return fmt.Errorf("worker %q: %w", def.Name, err)
				}
				caps = append(caps, cap)
			}
			spec.Capabilities = caps
		}
		if spec.Model == "" {
			return fmt.Errorf("worker %q: no model assigned", def.Name)
		}
		s.specs[def.Name] = spec
	}
	return nil
}
