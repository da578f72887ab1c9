package agent

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/clawinfra/codeclaw/internal/tools"
)

// Tool-call extraction runs in three tiers: structured calls from the
// gateway, JSON objects embedded in free text, and finally keyword intent
// detection over the prose. First tier that produces calls wins.

// ExtractJSONObjects finds balanced top-level JSON objects in free text.
// Brace matching is used instead of a decoder because models interleave
// prose with the JSON.
func ExtractJSONObjects(text string) []map[string]any {
	var out []map[string]any

	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		end := -1
		for j := i; j < len(text); j++ {
			c := text[j]
			if escaped {
				escaped = false
				continue
			}
			switch {
			case c == '\\' && inString:
				escaped = true
			case c == '"':
				inString = !inString
			case c == '{' && !inString:
				depth++
			case c == '}' && !inString:
				depth--
				if depth == 0 {
					end = j + 1
				}
			}
			if end > 0 {
				break
			}
		}
		if end < 0 {
			break
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(text[i:end]), &obj); err == nil {
			out = append(out, obj)
		}
		i = end - 1
	}
	return out
}

// ParseToolCalls extracts tool calls embedded as JSON in response text.
// Accepts both {"name": …, "arguments": …} and {"<tool>": {…}} shapes;
// known reports whether a name is a dispatchable tool.
func ParseToolCalls(text string, known func(string) bool) []tools.Call {
	var calls []tools.Call
	for _, obj := range ExtractJSONObjects(text) {
		if name, ok := obj["name"].(string); ok && known(name) {
			args, _ := obj["arguments"].(map[string]any)
			if args == nil {
				args, _ = obj["parameters"].(map[string]any)
			}
			if args == nil {
				if s, ok := obj["arguments"].(string); ok {
					var parsed map[string]any
					if json.Unmarshal([]byte(s), &parsed) == nil {
						args = parsed
					}
				}
			}
			if args == nil {
				args = map[string]any{}
			}
			calls = append(calls, tools.Call{Name: name, Arguments: args})
			continue
		}

		// {tool_name: {args}} shape
		for k, v := range obj {
			if !known(k) {
				continue
			}
			args, _ := v.(map[string]any)
			if args == nil {
				args = map[string]any{}
			}
			calls = append(calls, tools.Call{Name: k, Arguments: args})
		}
	}
	return calls
}

// --- keyword intent detection (tier 3) ---

var (
	quotedPathPattern = regexp.MustCompile("[`\"']([^\\s`\"']+\\.[A-Za-z0-9]+)[`\"']")
	barePathPattern   = regexp.MustCompile(`\b([\w./-]+\.[A-Za-z0-9]{1,5})\b`)
	codeFencePattern  = regexp.MustCompile("```(?:bash|sh)?\\s*\\n([^`]+)\\n```")
	backtickPattern   = regexp.MustCompile("`([^`]+)`")
	quotedTextPattern = regexp.MustCompile("[`\"']([^`\"']+)[`\"']")
	globPattern       = regexp.MustCompile("[`\"'](\\*\\*?[^\\s`\"']+)[`\"']")
)

func anyContains(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func extractPath(texts ...string) string {
	for _, t := range texts {
		if m := quotedPathPattern.FindStringSubmatch(t); m != nil {
			return m[1]
		}
	}
	for _, t := range texts {
		if m := barePathPattern.FindStringSubmatch(t); m != nil {
			return m[1]
		}
	}
	return ""
}

func extractCommand(response string) string {
	if m := codeFencePattern.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := backtickPattern.FindStringSubmatch(response); m != nil {
		cmd := strings.TrimSpace(m[1])
		if cmd != "" && !strings.HasPrefix(cmd, "I ") && !strings.HasPrefix(cmd, "The ") {
			return cmd
		}
	}
	return ""
}

// DetectIntent infers a tool call from natural language when the model
// described what it wants to do instead of emitting a call. The pattern set
// is fixed so the behavior stays auditable. available holds the tool names
// the worker may dispatch.
func DetectIntent(response, task string, available map[string]bool) []tools.Call {
	rl := strings.ToLower(response)

	if available["write"] && anyContains(rl, []string{
		"create the file", "create a file", "creating file",
		"write the file", "write to file", "writing to",
		"let me create", "i'll create", "i will create",
		"save to file", "saving to",
	}) {
		if path := extractPath(task, response); path != "" {
			content := ""
			if m := quotedTextPattern.FindStringSubmatch(task); m != nil && !strings.Contains(m[1], ".") {
				content = m[1]
			}
			return []tools.Call{{Name: "write", Arguments: map[string]any{"path": path, "content": content}}}
		}
	}

	if available["read"] && anyContains(rl, []string{
		"read the file", "reading file", "let me read",
		"check the file", "look at the file", "examine the file",
		"open the file", "view the file", "see what's in",
	}) {
		if path := extractPath(task, response); path != "" {
			return []tools.Call{{Name: "read", Arguments: map[string]any{"path": path}}}
		}
	}

	if available["bash"] && anyContains(rl, []string{
		"run the command", "execute the command", "running:",
		"let me run", "i'll run", "i will run", "execute:",
	}) {
		if cmd := extractCommand(response); cmd != "" {
			return []tools.Call{{Name: "bash", Arguments: map[string]any{"command": cmd}}}
		}
	}

	if available["grep"] && anyContains(rl, []string{
		"search for", "searching for", "let me search",
		"find occurrences", "grep for",
	}) {
		if m := quotedTextPattern.FindStringSubmatch(task); m != nil {
			return []tools.Call{{Name: "grep", Arguments: map[string]any{"pattern": m[1]}}}
		}
	}

	if available["glob"] && anyContains(rl, []string{
		"find files", "list files", "locate files", "files matching",
	}) {
		if m := globPattern.FindStringSubmatch(task); m != nil {
			return []tools.Call{{Name: "glob", Arguments: map[string]any{"pattern": m[1]}}}
		}
		switch {
		case strings.Contains(strings.ToLower(task), "python"):
			return []tools.Call{{Name: "glob", Arguments: map[string]any{"pattern": "**/*.py"}}}
		case strings.Contains(strings.ToLower(task), "go "):
			return []tools.Call{{Name: "glob", Arguments: map[string]any{"pattern": "**/*.go"}}}
		}
	}

	if available["web_search"] && anyContains(rl, []string{
		"search the web", "web search", "look up documentation", "search online",
	}) {
		return []tools.Call{{Name: "web_search", Arguments: map[string]any{"query": task}}}
	}

	return nil
}
