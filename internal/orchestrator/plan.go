package orchestrator

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PlanStep is one unit of a decomposed task.
type PlanStep struct {
	Num         int
	AgentType   string // "explorer" or "executor"
	Description string
	DependsOn   []int
}

// Plan is the planner's structured task decomposition: ordered steps plus
// explicit parallel groups that the executor dispatches group by group.
type Plan struct {
	Analysis       string
	Steps          []PlanStep
	ParallelGroups [][]int
	Complexity     string // simple, moderate, complex
	Raw            string
}

var (
	stepNumPattern   = regexp.MustCompile(`^(\d+)\.`)
	stepAgentPattern = regexp.MustCompile(`\[(explorer|executor)\]`)
	stepDepsPattern  = regexp.MustCompile(`\(depends on:\s*([\d,\s]+)\)`)
	groupNumsPattern = regexp.MustCompile(`\d+`)
)

// ParsePlan parses the planner's line-oriented output format:
//
//	ANALYSIS: ...
//	STEPS:
//	1. [explorer] description (depends on: 1, 2)
//	PARALLEL_GROUPS:
//	- Group 1: steps 1, 2
//	COMPLEXITY: moderate
//
// Missing parallel groups default to one sequential group per step.
func ParsePlan(raw string) *Plan {
	plan := &Plan{Complexity: "moderate", Raw: raw}

	section := ""
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(line, "ANALYSIS:"):
			section = "analysis"
			plan.Analysis = strings.TrimSpace(strings.TrimPrefix(line, "ANALYSIS:"))
		case strings.HasPrefix(line, "STEPS:"):
			section = "steps"
		case strings.HasPrefix(line, "PARALLEL_GROUPS:"):
			section = "parallel"
		case strings.HasPrefix(line, "COMPLEXITY:"):
			section = ""
			c := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "COMPLEXITY:")))
			if c == "simple" || c == "moderate" || c == "complex" {
				plan.Complexity = c
			}
		case section == "analysis" && line != "":
			plan.Analysis += " " + line
		case section == "steps" && line != "":
			if step, ok := parseStep(line, len(plan.Steps)+1); ok {
				plan.Steps = append(plan.Steps, step)
			}
		case section == "parallel" && strings.HasPrefix(line, "- Group"):
			if group := parseGroup(line); len(group) > 0 {
				plan.ParallelGroups = append(plan.ParallelGroups, group)
			}
		}
	}
	plan.Analysis = strings.TrimSpace(plan.Analysis)

	if len(plan.ParallelGroups) == 0 {
		for _, s := range plan.Steps {
			plan.ParallelGroups = append(plan.ParallelGroups, []int{s.Num})
		}
	}
	return plan
}

func parseStep(line string, defaultNum int) (PlanStep, bool) {
	step := PlanStep{Num: defaultNum, AgentType: "executor"}

	if m := stepNumPattern.FindStringSubmatch(line); m != nil {
		step.Num, _ = strconv.Atoi(m[1])
	}
	lower := strings.ToLower(line)
	if m := stepAgentPattern.FindStringSubmatch(lower); m != nil {
		step.AgentType = m[1]
	}
	if m := stepDepsPattern.FindStringSubmatch(lower); m != nil {
		for _, d := range strings.Split(m[1], ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(d)); err == nil {
				step.DependsOn = append(step.DependsOn, n)
			}
		}
	}

	desc := stepNumPattern.ReplaceAllString(line, "")
	desc = regexp.MustCompile(`(?i)\[(explorer|executor)\]\s*`).ReplaceAllString(desc, "")
	desc = regexp.MustCompile(`(?i)\(depends on:[^)]+\)`).ReplaceAllString(desc, "")
	step.Description = strings.TrimSpace(desc)

	if step.Description == "" {
		return PlanStep{}, false
	}
	return step, true
}

func parseGroup(line string) []int {
	payload := line
	if idx := strings.Index(line, ":"); idx >= 0 {
		payload = line[idx+1:]
	}
	var nums []int
	for _, m := range groupNumsPattern.FindAllString(payload, -1) {
		n, _ := strconv.Atoi(m)
		nums = append(nums, n)
	}
	return nums
}

// Validate enforces the plan invariants: at least one step, every step number
// in exactly one group, dependencies resolved in strictly earlier groups, and
// agent assignments restricted to explorer/executor.
func (p *Plan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}

	stepGroup := map[int]int{} // step num → group index
	seen := map[int]bool{}
	for _, s := range p.Steps {
		if seen[s.Num] {
			return fmt.Errorf("duplicate step number %d", s.Num)
		}
		seen[s.Num] = true
		if s.AgentType != "explorer" && s.AgentType != "executor" {
			return fmt.Errorf("step %d: invalid agent type %q", s.Num, s.AgentType)
		}
	}

	assigned := map[int]bool{}
	for gi, group := range p.ParallelGroups {
		for _, num := range group {
			if !seen[num] {
				return fmt.Errorf("group %d references unknown step %d", gi+1, num)
			}
			if assigned[num] {
				return fmt.Errorf("step %d appears in more than one group", num)
			}
			assigned[num] = true
			stepGroup[num] = gi
		}
	}
	for _, s := range p.Steps {
		if !assigned[s.Num] {
			return fmt.Errorf("step %d not assigned to any group", s.Num)
		}
	}

	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			dg, ok := stepGroup[dep]
			if !ok {
				return fmt.Errorf("step %d depends on unknown step %d", s.Num, dep)
			}
			if dg >= stepGroup[s.Num] {
				return fmt.Errorf("step %d depends on step %d, which is not in an earlier group", s.Num, dep)
			}
		}
	}
	return nil
}

// Summary renders a human-readable plan description.
func (p *Plan) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Plan Analysis\n%s\n\n## Steps\n", p.Analysis)
	for _, s := range p.Steps {
		deps := ""
		if len(s.DependsOn) > 0 {
			var parts []string
			for _, d := range s.DependsOn {
				parts = append(parts, strconv.Itoa(d))
			}
			deps = fmt.Sprintf(" (after steps %s)", strings.Join(parts, ", "))
		}
		fmt.Fprintf(&sb, "%d. [%s] %s%s\n", s.Num, s.AgentType, s.Description, deps)
	}
	sb.WriteString("\n## Execution Groups\n")
	for i, g := range p.ParallelGroups {
		var parts []string
		for _, n := range g {
			parts = append(parts, strconv.Itoa(n))
		}
		fmt.Fprintf(&sb, "- Group %d: steps %s\n", i+1, strings.Join(parts, ", "))
	}
	fmt.Fprintf(&sb, "\n## Complexity: %s\n", p.Complexity)
	return sb.String()
}
