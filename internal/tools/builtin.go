package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Options configures the built-in tool factories.
type Options struct {
	// Cwd is the working directory for relative path resolution.
	Cwd string

	// Backend selects which FileOps/ExecOps implementation to use.
	// Defaults to LocalBackend() if nil.
	Backend *Backend

	// MaxReadBytes limits file read and command output size. Default: 512KB.
	MaxReadBytes int64

	// MaxReadLines limits line count for text files. Default: 2000.
	MaxReadLines int

	// BashTimeout overrides the default bash execution timeout.
	BashTimeout time.Duration
}

func (o Options) defaults() Options {
	if o.Backend == nil {
		o.Backend = LocalBackend()
	}
	if o.MaxReadBytes == 0 {
		o.MaxReadBytes = 512 * 1024
	}
	if o.MaxReadLines == 0 {
		o.MaxReadLines = 2000
	}
	if o.BashTimeout == 0 {
		o.BashTimeout = 30 * time.Second
	}
	return o
}

func resolvePath(cwd, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cwd, path)
}

func truncate(s string, max int64) string {
	if int64(len(s)) > max {
		return s[:max] + "\n... (truncated)"
	}
	return s
}

// NewReadTool reads file contents with optional line offsets.
func NewReadTool(opts Options) *Tool {
	opts = opts.defaults()

	return &Tool{
		name:        "read",
		description: "Read the contents of a file. Returns the file content, optionally restricted to a line range.",
		capability:  CapRead,
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file to read (relative to working directory or absolute)",
				},
				"start_line": map[string]any{
					"type":        "integer",
					"description": "Line number to start reading from (1-indexed)",
				},
				"end_line": map[string]any{
					"type":        "integer",
					"description": "Last line to return (1-indexed, inclusive)",
				},
			},
			"required": []string{"path"},
		},
		run: func(ctx context.Context, args map[string]any) Result {
			path := argString(args, "path")
			if path == "" {
				return failure("read", ErrTypeInvalidParams, "path is required")
			}
			resolved := resolvePath(opts.Cwd, path)

			data, err := opts.Backend.File.ReadFile(ctx, resolved)
			if err != nil {
				return failure("read", ErrTypeNotFound, err.Error())
			}
			if int64(len(data)) > opts.MaxReadBytes {
				data = data[:opts.MaxReadBytes]
			}

			start := argInt(args, "start_line", 0)
			end := argInt(args, "end_line", 0)

			scanner := bufio.NewScanner(bytes.NewReader(data))
			scanner.Buffer(make([]byte, 0, 64*1024), int(opts.MaxReadBytes))
			var lines []string
			lineNum := 0
			for scanner.Scan() {
				lineNum++
				if start > 0 && lineNum < start {
					continue
				}
				if end > 0 && lineNum > end {
					break
				}
				lines = append(lines, scanner.Text())
				if len(lines) >= opts.MaxReadLines {
					lines = append(lines, "... (truncated)")
					break
				}
			}
			return success("read", strings.Join(lines, "\n"))
		},
	}
}

// NewWriteTool creates or overwrites a file, creating parent directories.
func NewWriteTool(opts Options) *Tool {
	opts = opts.defaults()

	return &Tool{
		name:        "write",
		description: "Write content to a file. Creates the file if it doesn't exist, overwrites if it does. Parent directories are created automatically.",
		capability:  CapWrite,
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file to write",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Content to write to the file",
				},
			},
			"required": []string{"path", "content"},
		},
		run: func(ctx context.Context, args map[string]any) Result {
			path := argString(args, "path")
			content := argString(args, "content")
			if path == "" {
				return failure("write", ErrTypeInvalidParams, "path is required")
			}
			resolved := resolvePath(opts.Cwd, path)

			if err := opts.Backend.File.MkdirAll(ctx, filepath.Dir(resolved), 0755); err != nil {
				return failure("write", ErrTypeExec, err.Error())
			}
			if err := opts.Backend.File.WriteFile(ctx, resolved, []byte(content), 0644); err != nil {
				return failure("write", ErrTypeExec, err.Error())
			}
			return success("write", fmt.Sprintf("Wrote %d bytes to %s", len(content), path))
		},
	}
}

// NewEditTool replaces exact text in a file.
func NewEditTool(opts Options) *Tool {
	opts = opts.defaults()

	return &Tool{
		name:        "edit",
		description: "Edit a file by replacing exact text. The old_text must match exactly, including whitespace. Set replace_all to replace every occurrence.",
		capability:  CapWrite,
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Path to the file to edit",
				},
				"old_text": map[string]any{
					"type":        "string",
					"description": "Exact text to find and replace",
				},
				"new_text": map[string]any{
					"type":        "string",
					"description": "New text to replace the old text with",
				},
				"replace_all": map[string]any{
					"type":        "boolean",
					"description": "Replace all occurrences instead of only the first",
				},
			},
			"required": []string{"path", "old_text", "new_text"},
		},
		run: func(ctx context.Context, args map[string]any) Result {
			path := argString(args, "path")
			oldText := argString(args, "old_text")
			newText := argString(args, "new_text")
			if path == "" || oldText == "" {
				return failure("edit", ErrTypeInvalidParams, "path and old_text are required")
			}
			resolved := resolvePath(opts.Cwd, path)

			data, err := opts.Backend.File.ReadFile(ctx, resolved)
			if err != nil {
				return failure("edit", ErrTypeNotFound, err.Error())
			}
			content := string(data)
			if !strings.Contains(content, oldText) {
				return failure("edit", ErrTypeNotFound, "old_text not found in file")
			}

			n := 1
			if argBool(args, "replace_all") {
				n = -1
			}
			content = strings.Replace(content, oldText, newText, n)

			if err := opts.Backend.File.WriteFile(ctx, resolved, []byte(content), 0644); err != nil {
				return failure("edit", ErrTypeExec, err.Error())
			}
			return success("edit", fmt.Sprintf("Edited %s", path))
		},
	}
}

// NewBashTool executes shell commands through the backend.
func NewBashTool(opts Options) *Tool {
	opts = opts.defaults()

	return &Tool{
		name:        "bash",
		description: "Execute a shell command using bash. Returns stdout, stderr, and exit code.",
		capability:  CapBash,
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Shell command to execute",
				},
				"timeout": map[string]any{
					"type":        "integer",
					"description": "Timeout in seconds (default: 30)",
				},
			},
			"required": []string{"command"},
		},
		run: func(ctx context.Context, args map[string]any) Result {
			command := argString(args, "command")
			if command == "" {
				return failure("bash", ErrTypeInvalidParams, "command is required")
			}

			timeout := opts.BashTimeout
			if secs := argInt(args, "timeout", 0); secs > 0 {
				timeout = time.Duration(secs) * time.Second
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			stdout, stderr, exitCode, err := opts.Backend.Exec.Run(ctx, "bash", []string{"-c", command}, nil, opts.Cwd)
			if err != nil {
				if ctx.Err() != nil {
					return failure("bash", ErrTypeTimeout, fmt.Sprintf("command timed out after %s", timeout))
				}
				return failure("bash", ErrTypeExec, err.Error())
			}

			var out strings.Builder
			if stdout != "" {
				out.WriteString(stdout)
			}
			if stderr != "" {
				if out.Len() > 0 {
					out.WriteString("\n")
				}
				out.WriteString("STDERR: " + stderr)
			}
			if out.Len() == 0 {
				out.WriteString("(no output)")
			}

			res := success("bash", truncate(out.String(), opts.MaxReadBytes))
			res.ExitCode = exitCode
			if exitCode != 0 {
				res.Success = false
				res.Error = fmt.Sprintf("exit code %d", exitCode)
				res.ErrorType = ErrTypeExec
			}
			return res
		},
	}
}

// NewGrepTool searches file contents through the backend's grep.
func NewGrepTool(opts Options) *Tool {
	opts = opts.defaults()

	return &Tool{
		name:        "grep",
		description: "Search for a pattern in files. Returns matching lines with file names and line numbers.",
		capability:  CapSearch,
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Regular expression pattern to search for",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "File or directory to search in (default: working directory)",
				},
				"case_sensitive": map[string]any{
					"type":        "boolean",
					"description": "Whether the search is case-sensitive (default: true)",
				},
			},
			"required": []string{"pattern"},
		},
		run: func(ctx context.Context, args map[string]any) Result {
			pattern := argString(args, "pattern")
			if pattern == "" {
				return failure("grep", ErrTypeInvalidParams, "pattern is required")
			}

			searchPath := opts.Cwd
			if p := argString(args, "path"); p != "" {
				searchPath = resolvePath(opts.Cwd, p)
			}

			grepArgs := []string{"-rn", "--color=never"}
			if ci, ok := args["case_sensitive"].(bool); ok && !ci {
				grepArgs = append(grepArgs, "-i")
			}
			grepArgs = append(grepArgs,
				"--exclude-dir=.git", "--exclude-dir=node_modules", "--exclude-dir=__pycache__",
				pattern, searchPath)

			ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()

			stdout, _, exitCode, err := opts.Backend.Exec.Run(ctx, "grep", grepArgs, nil, opts.Cwd)
			if err != nil {
				return failure("grep", ErrTypeExec, err.Error())
			}
			if exitCode == 1 && stdout == "" {
				return success("grep", "No matches found")
			}
			return success("grep", truncate(stdout, opts.MaxReadBytes))
		},
	}
}

// NewGlobTool finds files matching a glob pattern. Patterns support ** for
// recursive matching. It walks the local filesystem with filepath.WalkDir and
// does not go through Options.Backend, so with the SSH backend it lists local
// paths, not files on the remote host.
func NewGlobTool(opts Options) *Tool {
	opts = opts.defaults()

	return &Tool{
		name:        "glob",
		description: "Find files matching a glob pattern (e.g. '**/*.py' for all Python files). Returns matching paths.",
		capability:  CapSearch,
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Glob pattern; ** matches across directories",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Base directory to search in (default: working directory)",
				},
			},
			"required": []string{"pattern"},
		},
		run: func(ctx context.Context, args map[string]any) Result {
			pattern := argString(args, "pattern")
			if pattern == "" {
				return failure("glob", ErrTypeInvalidParams, "pattern is required")
			}

			base := opts.Cwd
			if p := argString(args, "path"); p != "" {
				base = resolvePath(opts.Cwd, p)
			}
			if base == "" {
				base = "."
			}

			re, err := globToRegexp(pattern)
			if err != nil {
				return failure("glob", ErrTypeInvalidParams, fmt.Sprintf("bad pattern: %v", err))
			}

			var matches []string
			walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil // skip unreadable entries
				}
				if d.IsDir() {
					switch d.Name() {
					case ".git", "node_modules", "__pycache__":
						return filepath.SkipDir
					}
					return nil
				}
				rel, relErr := filepath.Rel(base, path)
				if relErr != nil {
					return nil
				}
				if re.MatchString(filepath.ToSlash(rel)) {
					matches = append(matches, rel)
				}
				if len(matches) >= 1000 {
					return fs.SkipAll
				}
				return ctx.Err()
			})
			if walkErr != nil && ctx.Err() != nil {
				return failure("glob", ErrTypeTimeout, ctx.Err().Error())
			}

			if len(matches) == 0 {
				return success("glob", "No files found matching pattern: "+pattern)
			}
			return success("glob", truncate(strings.Join(matches, "\n"), opts.MaxReadBytes))
		},
	}
}

// globToRegexp converts a glob pattern (with ** support) to an anchored
// regular expression over slash-separated relative paths.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	p := filepath.ToSlash(pattern)
	for i := 0; i < len(p); i++ {
		switch c := p[i]; c {
		case '*':
			if i+1 < len(p) && p[i+1] == '*' {
				// ** crosses directory boundaries; swallow a following slash
				// so "**/x" also matches "x" at the root.
				if i+2 < len(p) && p[i+2] == '/' {
					sb.WriteString(`(?:.*/)?`)
					i += 2
				} else {
					sb.WriteString(`.*`)
					i++
				}
			} else {
				sb.WriteString(`[^/]*`)
			}
		case '?':
			sb.WriteString(`[^/]`)
		case '.', '+', '(', ')', '|', '[', ']', '{', '}', '^', '$', '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}
