package tools

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	reg := DefaultRegistry(Options{Cwd: dir}, WebOptions{}, testLogger())
	return reg, dir
}

func TestWriteAndRead(t *testing.T) {
	reg, dir := testRegistry(t)
	ctx := context.Background()

	res := reg.Execute(ctx, Call{Name: "write", Arguments: map[string]any{
		"path":    "sub/hello.py",
		"content": "print('hello')\n",
	}})
	if !res.Success {
		t.Fatalf("write failed: %s", res.Error)
	}
	if _, err := os.Stat(filepath.Join(dir, "sub", "hello.py")); err != nil {
		t.Fatalf("file not created: %v", err)
	}

	res = reg.Execute(ctx, Call{Name: "read", Arguments: map[string]any{"path": "sub/hello.py"}})
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	if !strings.Contains(res.Data, "print('hello')") {
		t.Errorf("unexpected read data: %q", res.Data)
	}
}

func TestReadLineRange(t *testing.T) {
	reg, dir := testRegistry(t)
	ctx := context.Background()

	content := "one\ntwo\nthree\nfour\n"
	if err := os.WriteFile(filepath.Join(dir, "lines.txt"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	res := reg.Execute(ctx, Call{Name: "read", Arguments: map[string]any{
		"path":       "lines.txt",
		"start_line": float64(2),
		"end_line":   float64(3),
	}})
	if !res.Success {
		t.Fatalf("read failed: %s", res.Error)
	}
	if res.Data != "two\nthree" {
		t.Errorf("unexpected range data: %q", res.Data)
	}
}

func TestReadMissingFile(t *testing.T) {
	reg, _ := testRegistry(t)
	res := reg.Execute(context.Background(), Call{Name: "read", Arguments: map[string]any{"path": "ghost.txt"}})
	if res.Success {
		t.Fatal("expected failure for missing file")
	}
	if res.ErrorType != ErrTypeNotFound {
		t.Errorf("unexpected error type: %s", res.ErrorType)
	}
}

func TestEditExactMatch(t *testing.T) {
	reg, dir := testRegistry(t)
	ctx := context.Background()

	path := filepath.Join(dir, "app.go")
	if err := os.WriteFile(path, []byte("a = 1\nb = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	res := reg.Execute(ctx, Call{Name: "edit", Arguments: map[string]any{
		"path":     "app.go",
		"old_text": "= 1",
		"new_text": "= 2",
	}})
	if !res.Success {
		t.Fatalf("edit failed: %s", res.Error)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "a = 2\nb = 1\n" {
		t.Errorf("only first occurrence should change: %q", data)
	}

	res = reg.Execute(ctx, Call{Name: "edit", Arguments: map[string]any{
		"path":        "app.go",
		"old_text":    "= 1",
		"new_text":    "= 3",
		"replace_all": true,
	}})
	if !res.Success {
		t.Fatalf("edit failed: %s", res.Error)
	}
	data, _ = os.ReadFile(path)
	if string(data) != "a = 2\nb = 3\n" {
		t.Errorf("replace_all result wrong: %q", data)
	}
}

func TestEditOldTextNotFound(t *testing.T) {
	reg, dir := testRegistry(t)
	if err := os.WriteFile(filepath.Join(dir, "x.txt"), []byte("abc"), 0644); err != nil {
		t.Fatal(err)
	}
	res := reg.Execute(context.Background(), Call{Name: "edit", Arguments: map[string]any{
		"path": "x.txt", "old_text": "zzz", "new_text": "yyy",
	}})
	if res.Success {
		t.Fatal("expected failure when old_text absent")
	}
}

func TestBashExecution(t *testing.T) {
	reg, _ := testRegistry(t)
	res := reg.Execute(context.Background(), Call{Name: "bash", Arguments: map[string]any{
		"command": "echo hello-from-bash",
	}})
	if !res.Success {
		t.Fatalf("bash failed: %s", res.Error)
	}
	if !strings.Contains(res.Data, "hello-from-bash") {
		t.Errorf("unexpected output: %q", res.Data)
	}
}

func TestBashNonZeroExit(t *testing.T) {
	reg, _ := testRegistry(t)
	res := reg.Execute(context.Background(), Call{Name: "bash", Arguments: map[string]any{
		"command": "exit 3",
	}})
	if res.Success {
		t.Fatal("expected failure for non-zero exit")
	}
	if res.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", res.ExitCode)
	}
}

func TestGlobRecursive(t *testing.T) {
	reg, dir := testRegistry(t)
	ctx := context.Background()

	for _, p := range []string{"a.py", "sub/b.py", "sub/deep/c.py", "d.go"} {
		full := filepath.Join(dir, p)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	res := reg.Execute(ctx, Call{Name: "glob", Arguments: map[string]any{"pattern": "**/*.py"}})
	if !res.Success {
		t.Fatalf("glob failed: %s", res.Error)
	}
	for _, want := range []string{"a.py", filepath.Join("sub", "b.py"), filepath.Join("sub", "deep", "c.py")} {
		if !strings.Contains(res.Data, want) {
			t.Errorf("glob missing %s in %q", want, res.Data)
		}
	}
	if strings.Contains(res.Data, "d.go") {
		t.Errorf("glob should not match d.go: %q", res.Data)
	}
}

func TestGlobToRegexp(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.py", "a.py", true},
		{"*.py", "sub/a.py", false},
		{"**/*.py", "a.py", true},
		{"**/*.py", "sub/deep/a.py", true},
		{"src/**/*.go", "src/a/b/c.go", true},
		{"src/**/*.go", "lib/a.go", false},
		{"file?.txt", "file1.txt", true},
		{"file?.txt", "file12.txt", false},
	}
	for _, tc := range cases {
		re, err := globToRegexp(tc.pattern)
		if err != nil {
			t.Fatalf("globToRegexp(%q): %v", tc.pattern, err)
		}
		if got := re.MatchString(tc.path); got != tc.want {
			t.Errorf("pattern %q against %q = %v, want %v", tc.pattern, tc.path, got, tc.want)
		}
	}
}

func TestUnknownToolYieldsResult(t *testing.T) {
	reg, _ := testRegistry(t)
	res := reg.Execute(context.Background(), Call{Name: "launch_missiles", Arguments: nil})
	if res.Success {
		t.Fatal("unknown tool must fail")
	}
	if !strings.Contains(res.Error, "not available") {
		t.Errorf("unexpected error: %s", res.Error)
	}
}

func TestSchemasFilterByCapability(t *testing.T) {
	reg, _ := testRegistry(t)

	readOnly := reg.Schemas(map[Capability]bool{CapRead: true, CapSearch: true})
	names := map[string]bool{}
	for _, s := range readOnly {
		names[s.Name] = true
	}
	for _, want := range []string{"read", "grep", "glob"} {
		if !names[want] {
			t.Errorf("missing %s in read-only schemas", want)
		}
	}
	for _, banned := range []string{"write", "edit", "bash", "web_search", "web_fetch"} {
		if names[banned] {
			t.Errorf("%s should not appear in read-only schemas", banned)
		}
	}
}

func TestToolCapabilities(t *testing.T) {
	reg, _ := testRegistry(t)
	want := map[string]Capability{
		"read": CapRead, "grep": CapSearch, "glob": CapSearch,
		"write": CapWrite, "edit": CapWrite, "bash": CapBash,
		"web_search": CapWeb, "web_fetch": CapWeb,
	}
	for name, cap := range want {
		tool, ok := reg.Get(name)
		if !ok {
			t.Fatalf("tool %s not registered", name)
		}
		if tool.Capability() != cap {
			t.Errorf("tool %s capability = %s, want %s", name, tool.Capability(), cap)
		}
	}
}

func TestStripTags(t *testing.T) {
	in := `<p>Hello &amp; <b>world</b></p>   <span>!</span>`
	if got := stripTags(in); got != "Hello & world !" {
		t.Errorf("stripTags = %q", got)
	}
}
