// Command codeclawd is the remote-mode daemon: it hosts the orchestrator and
// LLM access on a server while trusted clients execute tools locally over
// the callback channel.
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
	"github.com/clawinfra/codeclaw/internal/config"
	"github.com/clawinfra/codeclaw/internal/gateway"
	"github.com/clawinfra/codeclaw/internal/maintenance"
	"github.com/clawinfra/codeclaw/internal/server"
	"github.com/clawinfra/codeclaw/internal/tools"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to config.yaml")
		logLevel   = flag.String("log-level", "", "override server.logLevel")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "codeclawd: %v\n", err)
		os.Exit(1)
	}

	level := cfg.Server.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	specs := agent.DefaultSpecSet(cfg.Models, cfg.Defaults)
	defs, err := config.LoadWorkerDefs(filepath.Join(cfg.Server.DataDir, "workers.toml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "codeclawd: %v\n", err)
		os.Exit(1)
	}
	if err := specs.Apply(defs); err != nil {
		fmt.Fprintf(os.Stderr, "codeclawd: %v\n", err)
		os.Exit(1)
	}

	gw := gateway.New(cfg.LLM.APIURL, time.Duration(cfg.LLM.TimeoutSeconds)*time.Second, logger)

	// The server-side registry supplies schemas and capability metadata;
	// execution is dispatched to clients through the callback channel.
	registry := tools.DefaultRegistry(tools.Options{}, tools.WebOptions{
		Engine:     cfg.Research.Engine,
		MaxResults: cfg.Research.MaxResults,
		SearXNGURL: cfg.Research.Engines.SearXNG.URL,
		Region:     cfg.Research.Engines.DuckDuckGo.Region,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.Health(ctx); err != nil {
		logger.Warn("LLM runtime not reachable at startup", "url", cfg.LLM.APIURL, "error", err)
	} else if models, err := gw.ListModels(ctx); err == nil {
		logger.Info("LLM runtime ready", "url", cfg.LLM.APIURL, "models", len(models))
	}

	srv := server.New(cfg, gw, specs, registry, logger)

	if cfg.Maintenance.Enabled {
		runner := maintenance.NewRunner(logger)
		idle := time.Duration(cfg.Maintenance.SessionIdleMinutes) * time.Minute
		if idle <= 0 {
			idle = time.Hour
		}
		err := runner.Add(maintenance.Job{
			Name:     "session-sweep",
			Schedule: cfg.Maintenance.SessionSweepSchedule,
			Run: func(context.Context) {
				srv.SweepSessions(idle)
			},
		})
		if err != nil {
			logger.Warn("session sweep not scheduled", "error", err)
		} else {
			runner.Start(ctx)
			defer runner.Stop()
		}
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "codeclawd: %v\n", err)
		os.Exit(1)
	}
}
