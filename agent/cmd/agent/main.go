package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fieldgrid/fieldgrid/agent/internal/config"
	"github.com/fieldgrid/fieldgrid/agent/internal/dropdir"
	"github.com/fieldgrid/fieldgrid/agent/internal/shipper"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("fieldgrid-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"endpoint", cfg.Agent.Endpoint,
		"project", cfg.Agent.ProjectID,
		"watch_dir", cfg.Agent.WatchDir,
		"batch_size", cfg.Agent.BatchSize,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ship, err := shipper.New(cfg.Agent)
	if err != nil {
		slog.Error("failed to build shipper", "err", err)
		os.Exit(1)
	}

	watcher := dropdir.New(cfg.Agent, ship)

	// Batch size, source and technician reload; endpoint, auth and
	// directories need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			watcher.SetSettings(dropdir.SettingsFrom(updated.Agent))
			if updated.Agent.Endpoint != cfg.Agent.Endpoint || updated.Agent.WatchDir != cfg.Agent.WatchDir {
				slog.Warn("config: endpoint or watch_dir changed, restart to apply")
			}
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	if err := watcher.Run(ctx); err != nil {
		slog.Error("drop directory watcher failed", "err", err)
		os.Exit(1)
	}
	slog.Info("fieldgrid-agent shutting down")
}
