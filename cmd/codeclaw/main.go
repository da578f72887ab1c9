// Command codeclaw is the interactive coding assistant. By default the
// orchestrator runs in-process against a local LLM runtime; with --remote it
// connects to a codeclawd server while tool execution stays local.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/clawinfra/codeclaw/internal/agent"
	"github.com/clawinfra/codeclaw/internal/client"
	"github.com/clawinfra/codeclaw/internal/config"
	"github.com/clawinfra/codeclaw/internal/gateway"
	"github.com/clawinfra/codeclaw/internal/maintenance"
	"github.com/clawinfra/codeclaw/internal/memory"
	"github.com/clawinfra/codeclaw/internal/orchestrator"
	"github.com/clawinfra/codeclaw/internal/session"
	"github.com/clawinfra/codeclaw/internal/tools"
	"github.com/clawinfra/codeclaw/internal/tui"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml (default: ./config.yaml if present)")
		projectDir = flag.String("dir", ".", "project directory")
		remoteURL  = flag.String("remote", "", "codeclawd server URL (enables remote mode)")
		apiKey     = flag.String("api-key", os.Getenv("CODECLAW_API_KEY"), "API key for remote mode")
		logLevel   = flag.String("log-level", "warn", "log level: debug|info|warn|error")
	)
	flag.Parse()

	logger := newLogger(*logLevel)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "codeclaw: %v\n", err)
		os.Exit(1)
	}

	absDir, err := filepath.Abs(*projectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "codeclaw: resolve project dir: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var backend tui.Backend
	var cleanup func()
	if *remoteURL != "" {
		backend, cleanup, err = newRemoteBackend(ctx, cfg, *remoteURL, *apiKey, absDir, logger)
	} else {
		backend, cleanup, err = newLocalBackend(ctx, cfg, absDir, logger)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "codeclaw: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	if err := tui.Run(ctx, backend); err != nil {
		fmt.Fprintf(os.Stderr, "codeclaw: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return config.Load("config.yaml")
	}
	return config.DefaultConfig(), nil
}

func buildSpecs(cfg *config.Config, projectDir string) (*agent.SpecSet, error) {
	specs := agent.DefaultSpecSet(cfg.Models, cfg.Defaults)
	defs, err := config.LoadWorkerDefs(filepath.Join(projectDir, "workers.toml"))
	if err != nil {
		return nil, err
	}
	if err := specs.Apply(defs); err != nil {
		return nil, err
	}
	return specs, nil
}

func newLocalBackend(ctx context.Context, cfg *config.Config, projectDir string, logger *slog.Logger) (tui.Backend, func(), error) {
	gw := gateway.New(cfg.LLM.APIURL, time.Duration(cfg.LLM.TimeoutSeconds)*time.Second, logger)

	specs, err := buildSpecs(cfg, projectDir)
	if err != nil {
		return nil, nil, err
	}

	toolOpts := tools.Options{Cwd: projectDir}
	if cfg.Tools.Backend == "ssh" {
		backend, err := tools.SSHBackend("ssh", cfg.Tools.SSH.Host, cfg.Tools.SSH.User, cfg.Tools.SSH.KeyPath)
		if err != nil {
			return nil, nil, err
		}
		toolOpts.Backend = backend
	}

	registry := tools.DefaultRegistry(
		toolOpts,
		tools.WebOptions{
			Engine:     cfg.Research.Engine,
			MaxResults: cfg.Research.MaxResults,
			SearXNGURL: cfg.Research.Engines.SearXNG.URL,
			Region:     cfg.Research.Engines.DuckDuckGo.Region,
		},
		logger,
	)

	sess := session.New(projectDir)
	opts := []orchestrator.Option{}

	var memStore *memory.SQLiteStore
	if cfg.Memory.Enabled && cfg.Memory.VectorStore == "sqlite" {
		memStore, err = memory.NewSQLiteStore(cfg.Memory.Stores.SQLite.Path)
		if err != nil {
			logger.Warn("memory store unavailable", "error", err)
		} else {
			mgr := memory.NewManager(memStore, gw, cfg.Models.Orchestration, sess.ID, logger)
			opts = append(opts, orchestrator.WithMemory(mgr))
		}
	}

	orch := orchestrator.New(cfg, gw, specs, registry, sess, logger, opts...)

	b := &localBackend{
		cfg:        cfg,
		orch:       orch,
		registry:   registry,
		projectDir: projectDir,
		logger:     logger,
	}

	if cfg.DocsRag.Enabled {
		idx, err := docsOpen(cfg, logger)
		if err != nil {
			logger.Warn("docs cache unavailable", "error", err)
		} else {
			b.docs = idx
		}
	}

	runner := maintenance.NewRunner(logger)
	if cfg.Maintenance.Enabled {
		startMaintenance(ctx, runner, cfg, b, logger)
	}

	cleanup := func() {
		runner.Stop()
		if b.docs != nil {
			b.docs.Close() //nolint:errcheck
		}
		if memStore != nil {
			memStore.Close() //nolint:errcheck
		}
	}
	return b, cleanup, nil
}

func newRemoteBackend(ctx context.Context, cfg *config.Config, serverURL, apiKey, projectDir string, logger *slog.Logger) (tui.Backend, func(), error) {
	registry := tools.DefaultRegistry(tools.Options{Cwd: projectDir}, tools.WebOptions{
		Engine:     cfg.Research.Engine,
		MaxResults: cfg.Research.MaxResults,
		SearXNGURL: cfg.Research.Engines.SearXNG.URL,
		Region:     cfg.Research.Engines.DuckDuckGo.Region,
	}, logger)

	cli := client.New(serverURL, registry, logger)

	if err := cli.Authenticate(ctx, apiKey, hostname()); err != nil {
		return nil, nil, err
	}
	if err := cli.Connect(ctx, projectDir); err != nil {
		return nil, nil, err
	}

	toolCtx, stopTools := context.WithCancel(ctx)
	go func() {
		if err := cli.RunToolLoop(toolCtx); err != nil && toolCtx.Err() == nil {
			logger.Warn("tool loop ended", "error", err)
		}
	}()

	b := &remoteBackend{cli: cli, registry: registry, logger: logger}
	cleanup := func() {
		stopTools()
		cli.Close()
	}
	return b, cleanup, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "codeclaw-client"
	}
	return h
}
