// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/oklar/deployd/internal/config"
	"github.com/oklar/deployd/internal/domain"
	"github.com/oklar/deployd/internal/hostcmd"
	"github.com/oklar/deployd/internal/logging"
	"github.com/oklar/deployd/internal/pipeline"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] != "deploy" {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	cfg := config.Load()
	logger := logging.NewLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("deployment aborted", "error", err)
		os.Exit(1)
	}
}

// geteuid is swapped out in tests to exercise the privilege gate.
var geteuid = os.Geteuid

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// Privilege gate before any mutating step: restarts and reloads need root.
	if geteuid() != 0 {
		return domain.ErrNotRoot
	}

	// Operate relative to the installed binary so a cron or systemd invocation
	// does not depend on the caller's working directory.
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable path: %w", err)
	}
	if err := os.Chdir(filepath.Dir(exe)); err != nil {
		return fmt.Errorf("chdir to executable dir: %w", err)
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
			return fmt.Errorf("load pipeline file: %w", err)
		}
		steps, err = pipeline.ApplyFile(steps, file)
		if err != nil {
			return fmt.Errorf("apply pipeline file: %w", err)
		}
		logger.Info("pipeline overrides loaded", "path", cfg.PipelineFile, "steps", len(steps))
	}

	p := pipeline.New(&hostcmd.ExecRunner{}, logger, settings, steps)

	result := p.Run(ctx, func(update pipeline.StepUpdate) {
		switch update.Status {
		case domain.StepRunning:
			fmt.Printf("==> %s\n", update.Name)
		case domain.StepSuccess:
			fmt.Printf("    %s ok\n", update.Name)
		case domain.StepSkipped:
			if update.Warning != "" {
				fmt.Printf("    %s skipped: %s\n", update.Name, update.Warning)
			} else {
				fmt.Printf("    %s skipped\n", update.Name)
			}
		case domain.StepFailed:
			fmt.Printf("    %s failed\n", update.Name)
			if update.Output != "" {
				fmt.Print(update.Output)
			}
		}
	})

	for _, warning := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
	}

	if result.Status != domain.DeploymentSuccess {
		fmt.Fprintf(os.Stderr, "error: %s\n", result.FailureMsg)
		if result.Hint != "" {
			fmt.Fprintf(os.Stderr, "check: %s\n", result.Hint)
		}
		return &domain.StepError{Step: result.FailedStep, Err: fmt.Errorf("%s", result.FailureMsg)}
	}

	fmt.Print(result.Summary)
	return nil
}

func printUsage(w *os.File) {
	_, _ = fmt.Fprintln(w, "usage: deployd-cli [deploy]")
}
