package orchestrator

import (
	"regexp"
	"strings"
)

// Deterministic intent classification, used when the routing model produces
// no tool call. The tables are fixed so routing stays auditable.

var (
	fileCreatePattern = regexp.MustCompile(`\b(create|write|make|add)\s+(?:a\s+)?(?:\w+\s+)?(file|script)\b`)
	fileExtPattern    = regexp.MustCompile(`\b\w+\.(py|js|ts|sh|bash|rb|go|rs|java|c|cpp|h|txt|json|yaml|yml|md|html|css)\b`)
)

var researchKeywords = []string{
	"how do i ", "how to ", "what is ", "explain ",
	"documentation", "docs for ", "tutorial ",
	"research ", "look up ",
}

var plannerKeywords = []string{
	"implement ", "build a ", "create a system",
	"refactor ", "redesign ", "architect ",
}

var executorActionKeywords = []string{
	"run ", "execute ", "install ", "build ", "compile ",
	"test ", "pytest", "npm ", "pip ", "cargo ",
}

var executorEditKeywords = []string{
	"edit ", "modify ", "change ", "update ", "fix ",
	"add to ", "remove from ", "delete from ",
}

var executorFileKeywords = []string{
	"save to file", "save file", "new file", "touch ", "echo ",
}

var explorerKeywords = []string{
	"read ", "show ", "display ", "what's in ", "what is in ",
	"find ", "search ", "look for ", "where is ",
	"list ", "ls ", "cat ",
}

// detectUserIntent maps a user message to a spawn tool name, or "" when the
// request is unclear and should be treated as general chat.
func detectUserIntent(userMessage string) string {
	msg := strings.ToLower(userMessage)

	// Research first: "documentation for pytest" must not hit the executor's
	// "pytest" keyword.
	if containsAny(msg, researchKeywords) {
		return "spawn_researcher"
	}

	if containsAny(msg, plannerKeywords) {
		return "spawn_planner"
	}

	if fileCreatePattern.MatchString(msg) {
		return "spawn_executor"
	}
	if fileExtPattern.MatchString(msg) &&
		containsAny(msg, []string{"write", "create", "make", "add", "generate"}) {
		return "spawn_executor"
	}
	if containsAny(msg, executorFileKeywords) {
		return "spawn_executor"
	}
	if containsAny(msg, executorActionKeywords) {
		return "spawn_executor"
	}
	if containsAny(msg, executorEditKeywords) {
		return "spawn_executor"
	}

	if containsAny(msg, explorerKeywords) {
		return "spawn_explorer"
	}

	return ""
}

var simplePatterns = []string{
	"read ", "show ", "display ", "print ", "cat ",
	"find file", "list files", "what is", "where is",
	"add comment", "fix typo", "rename variable",
	"simple", "quick", "just ",
}

var complexPatterns = []string{
	"refactor", "restructure", "redesign", "architect",
	"implement feature", "add feature", "create system",
	"multiple files", "across the codebase", "all files",
	"migrate", "upgrade", "overhaul",
}

// estimateComplexity classifies a task to pick the model tier: simple tasks
// take the lite model, complex ones the full model, moderate the default.
func estimateComplexity(task string) string {
	t := strings.ToLower(task)
	if containsAny(t, simplePatterns) {
		return "simple"
	}
	if containsAny(t, complexPatterns) {
		return "complex"
	}
	return "moderate"
}

// detectSpawnMention maps explicit agent mentions and action-oriented phrases
// in a routing response to a spawn tool. Fallback between structured parsing
// and user-intent classification.
func detectSpawnMention(responseText string) string {
	rl := strings.ToLower(responseText)

	switch {
	case strings.Contains(rl, "spawn_planner") || strings.Contains(rl, "planner agent"):
		return "spawn_planner"
	case strings.Contains(rl, "spawn_researcher") || strings.Contains(rl, "researcher agent"):
		return "spawn_researcher"
	case strings.Contains(rl, "spawn_explorer") || strings.Contains(rl, "explorer agent"):
		return "spawn_explorer"
	case strings.Contains(rl, "spawn_executor") || strings.Contains(rl, "executor agent"):
		return "spawn_executor"
	}

	if containsAny(rl, []string{
		"create the file", "write the file", "create a file",
		"write to file", "creating file", "writing file",
		"let me create", "i'll create", "i will create",
		"let me write", "i'll write", "i will write",
		"run the command", "run command",
	}) {
		return "spawn_executor"
	}
	if containsAny(rl, []string{
		"let me search", "let me look", "let me find",
		"searching for", "looking for", "i'll search",
		"read the file", "check the file", "examine",
	}) {
		return "spawn_explorer"
	}
	if containsAny(rl, []string{
		"search the web", "web search", "look up documentation",
		"find documentation", "research this", "let me research",
		"i'll look up", "search online", "check the docs",
	}) {
		return "spawn_researcher"
	}

	return ""
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
