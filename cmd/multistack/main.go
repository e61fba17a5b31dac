package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/joho/godotenv"

	"multistack/internal/classify"
	"multistack/internal/cli"
	"multistack/internal/config"
	"multistack/internal/logging"
	"multistack/internal/pipeline"
	"multistack/internal/preview"
	"multistack/internal/siril"
	"multistack/internal/storage"
)

var version = "0.1.0-dev"

func main() {
	// .env may set MULTISTACK_CONFIG, so it loads before the config.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.Open(cfg.Paths.DatabaseDriver, cfg.Paths.DatabasePath)
	if err != nil {
		logger.Warn("run ledger unavailable, resume and history disabled", "path", cfg.Paths.DatabasePath, "error", err)
		store = nil
	} else {
		defer store.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipe := pipeline.New(ctx, 8, logger, store, newOrchestrator(cfg, store, logger))
	defer pipe.Stop()

	cli.Version = version
	root := cli.NewRootCmd(cfg, logger, store, pipe)
	if err := fang.Execute(
		ctx,
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		pipe.Stop()
		os.Exit(1)
	}
}

func newOrchestrator(cfg *config.Config, store *storage.Store, logger *slog.Logger) pipeline.OrchestratorFactory {
	return func() *pipeline.Orchestrator {
		timeout, _ := cfg.EngineTimeout()
		engine := siril.New(siril.Options{
			Path:      cfg.Engine.SirilPath,
			Requires:  cfg.Engine.Requires,
			Timeout:   timeout,
			Extension: cfg.Engine.Extension,
			Bits:      cfg.Engine.BitDepth,
		}, logger)

		var render preview.Renderer
		if cfg.Output.Preview {
			render = preview.Magick(cfg.Output.PreviewQuality, logger)
		}
		return pipeline.NewOrchestrator(engine, classify.New(logger), store, pipeline.SettingsFromConfig(cfg), render, logger)
	}
}
