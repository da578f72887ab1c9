package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clawinfra/codeclaw/internal/gateway"
)

// Context-window management: when the estimated token count of summary plus
// turns crosses the threshold, the oldest prefix is summarized into (or onto)
// the session summary and dropped, keeping the most recent turns intact.

const (
	contextThresholdPercent = 70
	compactionKeepTurns     = 4
	charsPerToken           = 4
	maxMemoryResults        = 5
)

func estimateTokens(text string) int {
	return len(text) / charsPerToken
}

func (o *Orchestrator) historyTokens() int {
	total := estimateTokens(o.sess.Summary())
	for _, t := range o.sess.Turns() {
		total += estimateTokens(t.User) + estimateTokens(t.Assistant)
	}
	return total
}

func (o *Orchestrator) needsCompaction() bool {
	threshold := o.cfg.Defaults.ContextWindow * contextThresholdPercent / 100
	return o.historyTokens() > threshold
}

// compactHistory summarizes the oldest turns into the session summary via a
// dedicated no-tools gateway call. On gateway failure it falls back to plain
// truncation so the turn can still proceed.
func (o *Orchestrator) compactHistory(ctx context.Context) {
	turns := o.sess.Turns()
	if len(turns) <= compactionKeepTurns {
		return
	}

	toSummarize := turns[:len(turns)-compactionKeepTurns]
	keep := turns[len(turns)-compactionKeepTurns:]

	var history strings.Builder
	for _, t := range toSummarize {
		history.WriteString("user: " + clipText(t.User, 500) + "\n")
		history.WriteString("assistant: " + clipText(t.Assistant, 500) + "\n")
	}

	prompt := fmt.Sprintf(`Summarize this conversation history concisely, preserving key facts, decisions, and context:

%s

Provide a brief summary (2-4 sentences) of what was discussed and any important outcomes.`, history.String())

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := o.callLLM(callCtx, "", []gateway.Message{{Role: "user", Content: prompt}}, nil)
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		o.logger.Warn("compaction summarization failed; truncating instead", "error", err)
		if len(turns) > 6 {
			o.sess.Compact(o.sess.Summary(), turns[len(turns)-6:])
		}
		return
	}

	summary := strings.TrimSpace(resp.Content)
	if existing := o.sess.Summary(); existing != "" {
		summary = existing + "\n\nMore recently: " + summary
	}
	o.sess.Compact(summary, keep)
	o.logger.Info("conversation compacted", "dropped_turns", len(toSummarize), "kept_turns", len(keep))
}

// searchMemories queries long-term memory for context relevant to the user
// message. Failures degrade to no augmentation.
func (o *Orchestrator) searchMemories(ctx context.Context, query string) []string {
	if o.mem == nil {
		return nil
	}
	memories, err := o.mem.Search(ctx, query, maxMemoryResults)
	if err != nil {
		o.logger.Debug("memory search failed", "error", err)
		return nil
	}
	return memories
}

// buildSystemPrompt prepends the summary and retrieved memories to the
// routing prompt as transient augmentation. The stored prompt is never
// mutated, so nothing needs restoring after the call.
func (o *Orchestrator) buildSystemPrompt(memories []string) string {
	base := fmt.Sprintf(chatSystemPrompt, o.workdir)

	var parts []string
	if summary := o.sess.Summary(); summary != "" {
		parts = append(parts, "Previous conversation summary:\n"+summary)
	}
	if len(memories) > 0 {
		var lines []string
		for i, m := range memories {
			if i >= maxMemoryResults {
				break
			}
			lines = append(lines, "- "+m)
		}
		parts = append(parts, "Relevant memories:\n"+strings.Join(lines, "\n"))
	}
	if len(parts) == 0 {
		return base
	}
	return strings.Join(parts, "\n\n") + "\n\n---\n\n" + base
}

func clipText(s string, max int) string {
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
