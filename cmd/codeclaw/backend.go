package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clawinfra/codeclaw/internal/client"
	"github.com/clawinfra/codeclaw/internal/config"
	"github.com/clawinfra/codeclaw/internal/docsrag"
	"github.com/clawinfra/codeclaw/internal/maintenance"
	"github.com/clawinfra/codeclaw/internal/orchestrator"
	"github.com/clawinfra/codeclaw/internal/session"
	"github.com/clawinfra/codeclaw/internal/tools"
)

// localBackend runs the orchestrator in-process.
type localBackend struct {
	cfg        *config.Config
	orch       *orchestrator.Orchestrator
	registry   *tools.Registry
	docs       *docsrag.Index
	projectDir string
	logger     *slog.Logger
}

func (b *localBackend) Process(ctx context.Context, message string) (string, error) {
	return b.orch.Process(ctx, message)
}

func (b *localBackend) Spawn(ctx context.Context, agentType, task string) (string, error) {
	return b.orch.RunAgent(ctx, agentType, task)
}

func (b *localBackend) ReadFile(ctx context.Context, path string) (string, error) {
	res := b.registry.Execute(ctx, tools.Call{Name: "read", Arguments: map[string]any{"path": path}})
	if !res.Success {
		return "", errors.New(res.Error)
	}
	return res.Data, nil
}

func (b *localBackend) History() []session.Turn {
	return b.orch.Session().Turns()
}

func (b *localBackend) ClearConversation() {
	b.orch.Session().Clear()
}

func (b *localBackend) AgentStatus() (int, int, int) {
	sem := b.orch.Semaphore()
	return sem.Active(), sem.Available(), sem.Capacity()
}

func (b *localBackend) Docs(ctx context.Context, args []string) (string, error) {
	if b.docs == nil {
		return "", errors.New("docs cache is disabled")
	}
	if len(args) == 0 {
		return "", errors.New("usage: /docs status|detect|index|search|clear|cleanup")
	}

	switch args[0] {
	case "status":
		st, err := b.docs.Status(ctx)
		if err != nil {
			return "", err
		}
		if st.Pages == 0 {
			return "docs cache is empty", nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%d pages cached:\n", st.Pages)
		for lib, n := range st.Libraries {
			fmt.Fprintf(&sb, "  %s: %d\n", lib, n)
		}
		return sb.String(), nil

	case "detect":
		det, err := docsrag.Detect(b.projectDir, b.cfg.DocsRag.MaxLibraries)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("languages: %s\nlibraries: %s",
			strings.Join(det.Languages, ", "), strings.Join(det.Libraries, ", ")), nil

	case "index":
		det, err := docsrag.Detect(b.projectDir, b.cfg.DocsRag.MaxLibraries)
		if err != nil {
			return "", err
		}
		if len(det.Libraries) == 0 {
			return "no libraries detected to index", nil
		}
		// Detection only: this command neither fetches pages nor records the
		// libraries in the cache.
		return fmt.Sprintf("detected %d libraries; no pages were fetched", len(det.Libraries)), nil

	case "search":
		if len(args) < 2 {
			return "", errors.New("usage: /docs search <query>")
		}
		hits, err := b.docs.Search(ctx, strings.Join(args[1:], " "), b.cfg.DocsRag.MaxChunksPerQuery)
		if err != nil {
			return "", err
		}
		if len(hits) == 0 {
			return "no matches in the docs cache", nil
		}
		var sb strings.Builder
		for _, h := range hits {
			fmt.Fprintf(&sb, "[%s] %s\n  %s\n  %s\n", h.Library, h.Title, h.URL, h.Snippet)
		}
		return sb.String(), nil

	case "clear":
		if err := b.docs.Clear(ctx); err != nil {
			return "", err
		}
		return "docs cache cleared", nil

	case "cleanup":
		maxAge := time.Duration(b.cfg.DocsRag.CacheMaxAgeDays) * 24 * time.Hour
		n, err := b.docs.Cleanup(ctx, maxAge)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("removed %d stale pages", n), nil
	}
	return "", fmt.Errorf("unknown docs command %q", args[0])
}

func docsOpen(cfg *config.Config, logger *slog.Logger) (*docsrag.Index, error) {
	return docsrag.Open(cfg.DocsRag.CacheDir, cfg.DocsRag.MaxPagesPerLibrary, logger)
}

func startMaintenance(ctx context.Context, runner *maintenance.Runner, cfg *config.Config, b *localBackend, logger *slog.Logger) {
	idle := time.Duration(cfg.Maintenance.SessionIdleMinutes) * time.Minute
	if idle <= 0 {
		idle = time.Hour
	}

	err := runner.Add(maintenance.Job{
		Name:     "session-idle-reset",
		Schedule: cfg.Maintenance.SessionSweepSchedule,
		Run: func(context.Context) {
			// A single-session REPL has nothing to unregister; an idle
			// conversation is cleared instead so a stale context never
			// bleeds into tomorrow's first question.
			if b.orch.Session().IdleFor() > idle && len(b.orch.Session().Turns()) > 0 {
				b.orch.Session().Clear()
				logger.Info("idle conversation cleared")
			}
		},
	})
	if err != nil {
		logger.Warn("session sweep job not scheduled", "error", err)
	}

	if b.docs != nil {
		err := runner.Add(maintenance.Job{
			Name:     "docs-cache-cleanup",
			Schedule: cfg.Maintenance.DocsCleanupSchedule,
			Run: func(ctx context.Context) {
				maxAge := time.Duration(cfg.DocsRag.CacheMaxAgeDays) * 24 * time.Hour
				if _, err := b.docs.Cleanup(ctx, maxAge); err != nil {
					logger.Warn("docs cleanup failed", "error", err)
				}
			},
		})
		if err != nil {
			logger.Warn("docs cleanup job not scheduled", "error", err)
		}
	}

	runner.Start(ctx)
}

// remoteBackend drives a codeclawd server; tool execution and /read stay
// local to this process.
type remoteBackend struct {
	cli      *client.Client
	registry *tools.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	history []session.Turn
}

func (b *remoteBackend) Process(ctx context.Context, message string) (string, error) {
	reply, err := b.cli.Chat(ctx, message)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	b.history = append(b.history, session.Turn{User: message, Assistant: reply, At: time.Now()})
	b.mu.Unlock()
	return reply, nil
}

func (b *remoteBackend) Spawn(ctx context.Context, agentType, task string) (string, error) {
	// The server routes; an explicit agent request is phrased so the router
	// honors it.
	return b.Process(ctx, fmt.Sprintf("Use the %s agent: %s", agentType, task))
}

func (b *remoteBackend) ReadFile(ctx context.Context, path string) (string, error) {
	res := b.registry.Execute(ctx, tools.Call{Name: "read", Arguments: map[string]any{"path": path}})
	if !res.Success {
		return "", errors.New(res.Error)
	}
	return res.Data, nil
}

func (b *remoteBackend) History() []session.Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]session.Turn, len(b.history))
	copy(out, b.history)
	return out
}

func (b *remoteBackend) ClearConversation() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
}

func (b *remoteBackend) AgentStatus() (int, int, int) {
	return 0, 0, 0 // server-side telemetry is not exposed over the wire
}

func (b *remoteBackend) Docs(context.Context, []string) (string, error) {
	return "", errors.New("docs commands are unavailable in remote mode")
}
