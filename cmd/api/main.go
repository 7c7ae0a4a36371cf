// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklar/deployd/internal/config"
	"github.com/oklar/deployd/internal/logging"
	"github.com/oklar/deployd/internal/persistence/postgres"
	"github.com/oklar/deployd/internal/repository"
	httptransport "github.com/oklar/deployd/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
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

	deploymentRepo := repository.NewDeploymentRepository(pool, logger)
	stepRepo := repository.NewStepRepository(pool, logger)
	eventRepo := repository.NewEventRepository(pool, logger)
	tokenRepo := repository.NewOperatorTokenRepository(pool, logger)

	handler := httptransport.NewRouter(httptransport.Deps{
		DeploymentRepo: deploymentRepo,
		StepRepo:       stepRepo,
		EventRepo:      eventRepo,
		TokenAdmin:     tokenRepo,
		Logger:         logger,
		TokenResolver:  tokenRepo,
		AdminToken:     cfg.AdminToken,
		HealthChecker:  postgres.NewSchemaHealthChecker(pool),
		Version:        Version,
		Commit:         Commit,
		BuildDate:      BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
