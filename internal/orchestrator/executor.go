package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Plan execution: groups dispatch strictly in order; the steps within a
// group run concurrently under the semaphore. A step failure never aborts
// its group, and the combined report is aggregated in ascending step-number
// order so the output is deterministic regardless of completion order.

func (o *Orchestrator) executePlan(ctx context.Context, plan *Plan, userRequest string) string {
	o.logger.Info("executing plan", "steps", len(plan.Steps), "groups", len(plan.ParallelGroups))

	stepByNum := make(map[int]PlanStep, len(plan.Steps))
	for _, s := range plan.Steps {
		stepByNum[s.Num] = s
	}

	stepResults := make(map[int]spawnResult, len(plan.Steps))
	var resultsMu sync.Mutex

	for gi, group := range plan.ParallelGroups {
		var steps []PlanStep
		for _, num := range group {
			if s, ok := stepByNum[num]; ok {
				steps = append(steps, s)
			}
		}
		if len(steps) == 0 {
			continue
		}

		o.logger.Info("executing plan group", "group", gi+1, "steps", len(steps))

		// All steps in the group run to completion before the next group
		// starts; this barrier is the only happens-before the planner gets.
		var wg sync.WaitGroup
		for _, step := range steps {
			step := step
			wg.Add(1)
			go func() {
				defer wg.Done()
				sr := o.spawnAgent(ctx, step.AgentType, step.Description, false, false)
				if sr.escalation != "" {
					// Inside a plan, escalation degrades to a step failure;
					// the post-plan review decides whether to follow up.
					sr = spawnResult{output: "step escalated: " + sr.escalation}
				}
				resultsMu.Lock()
				stepResults[step.Num] = sr
				resultsMu.Unlock()
			}()
		}
		wg.Wait()
	}

	nums := make([]int, 0, len(stepResults))
	for num := range stepResults {
		nums = append(nums, num)
	}
	sort.Ints(nums)

	failed := 0
	var sections []string
	for _, num := range nums {
		step := stepByNum[num]
		sr := stepResults[num]
		if !sr.success {
			failed++
		}
		sections = append(sections, fmt.Sprintf("### Step %d: %s\n%s", num, step.Description, sr.output))
	}
	combined := strings.Join(sections, "\n\n")

	if failed > 0 {
		o.logger.Warn("plan finished with failures", "failed", failed, "total", len(nums))
	}

	return o.reviewAndSupervise(ctx, userRequest, "plan_execution", combined, failed == 0, 1)
}
