package memory

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clawinfra/codeclaw/internal/gateway"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

func TestStoreAddAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, "sess1", "the user prefers tabs over spaces", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Add(ctx, "sess1", "the project uses postgres for storage", nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.Search(ctx, "sess1", "what storage does the project use", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected at least one hit")
	}
	found := false
	for _, m := range got {
		if strings.Contains(m, "postgres") {
			found = true
		}
	}
	if !found {
		t.Errorf("postgres memory not retrieved: %v", got)
	}
}

func TestStoreSessionIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Add(ctx, "a", "alpha secret fact", nil); err != nil {
		t.Fatal(err)
	}
	got, err := s.Search(ctx, "b", "alpha secret fact", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("memories leaked across sessions: %v", got)
	}
}

func TestStoreSearchLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := s.Add(ctx, "s", "fact about widgets and gadgets", nil); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Search(ctx, "s", "widgets", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("limit not honored: got %d", len(got))
	}
}

func TestFTSQuerySanitizesOperators(t *testing.T) {
	q := ftsQuery(`NEAR("a b") OR c:* -d`)
	if strings.Contains(q, "*") || strings.Contains(q, "-d") || strings.Contains(q, "(") {
		t.Errorf("operators leaked: %q", q)
	}
	if ftsQuery("!!! ???") != "" {
		t.Error("pure punctuation should yield an empty query")
	}
}

// chatFn adapts a function into a gateway.Streamer.
type chatFn func(req gateway.ChatRequest) string

func (f chatFn) Chat(_ context.Context, req gateway.ChatRequest) (gateway.Stream, error) {
	return &fakeStream{chunks: []gateway.Chunk{
		{Content: f(req)},
		{Done: true},
	}}, nil
}

type fakeStream struct {
	chunks []gateway.Chunk
	i      int
}

func (s *fakeStream) Recv() (gateway.Chunk, error) {
	if s.i >= len(s.chunks) {
		return gateway.Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *fakeStream) Close() error { return nil }

func TestManagerExtractAndStore(t *testing.T) {
	s := newTestStore(t)
	gw := chatFn(func(req gateway.ChatRequest) string {
		return "The user's project lives in /srv/app and uses Makefiles."
	})
	m := NewManager(s, gw, "llama3.2:3b", "sess", testLogger())

	m.ExtractAndStore(context.Background(),
		"remember my project is in /srv/app",
		"Noted: your project lives in /srv/app and builds with make. I'll keep that in mind.")

	n, err := s.Count(context.Background(), "sess")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 stored memory, got %d", n)
	}
}

func TestManagerSkipsNoneAndShortReplies(t *testing.T) {
	s := newTestStore(t)
	gw := chatFn(func(req gateway.ChatRequest) string { return "None" })
	m := NewManager(s, gw, "llama3.2:3b", "sess", testLogger())

	// Extraction answered "None"
	m.ExtractAndStore(context.Background(), "hi", strings.Repeat("a detailed reply ", 10))
	// Reply too short to bother
	m.ExtractAndStore(context.Background(), "hi", "ok")

	n, err := s.Count(context.Background(), "sess")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected no stored memories, got %d", n)
	}
}
