package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklar/deployd/internal/config"
	"github.com/oklar/deployd/internal/logging"
	"github.com/oklar/deployd/internal/persistence/postgres"
	"github.com/oklar/deployd/internal/pipeline"
	"github.com/oklar/deployd/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			log.Fatalf("schema migration failed: %v", err)
		}
	}

	settings := pipeline.Settings{
		RepoDir:      cfg.RepoDir,
		ServiceUnit:  cfg.ServiceUnit,
		ServiceUser:  cfg.ServiceUser,
		ProxyUnit:    cfg.ProxyUnit,
		SiteURL:      cfg.SiteURL,
		SettleDelay:  cfg.SettleDelay,
		JournalLines: cfg.JournalLines,
	}

	steps := pipeline.Steps(settings)
	if cfg.PipelineFile != "" {
		file, err := pipeline.LoadFile(cfg.PipelineFile)
		if err != nil {
			log.Fatalf("load pipeline file failed: %v", err)
		}
		steps, err = pipeline.ApplyFile(steps, file)
		if err != nil {
			log.Fatalf("apply pipeline file failed: %v", err)
		}
		logger.Info("pipeline overrides loaded", "path", cfg.PipelineFile, "steps", len(steps))
	}

	w := worker.New(worker.Deps{
		Pool:   pool,
		Logger: logger,
		Executor: &worker.HostExecutor{
			Settings: settings,
			Steps:    steps,
			Logger:   logger,
		},
		WebhookSecret: cfg.WebhookSecret,
	})

	logger.Info("worker started",
		"service_unit", cfg.ServiceUnit,
		"repo_dir", cfg.RepoDir,
	)

	ticker := time.NewTicker(800 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopping")
			return
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				logger.Error("worker process failed", "error", err)
			}
		}
	}
}
