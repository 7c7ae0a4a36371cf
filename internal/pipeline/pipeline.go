// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklar/deployd/internal/domain"
	"github.com/oklar/deployd/internal/hostcmd"
)

// StepUpdate is emitted for every step status transition so callers can
// persist progress or render it.
type StepUpdate struct {
	Name    domain.StepName
	Status  domain.StepStatus
	Output  string
	Err     error
	Warning string

	// Duration is set on terminal transitions only.
	Duration time.Duration
}

// Result is the terminal state of one pipeline run.
type Result struct {
	Status     domain.DeploymentStatus
	FailedStep domain.StepName
	FailureMsg string
	Hint       string
	Warnings   []string
	Summary    string
}

type Pipeline struct {
	runner   hostcmd.Runner
	logger   *slog.Logger
	steps    []Step
	settings Settings

	// sleep is injectable so tests do not wait out the settle delay.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(runner hostcmd.Runner, logger *slog.Logger, settings Settings, steps []Step) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if steps == nil {
		steps = Steps(settings)
	}

	return &Pipeline{
		runner:   runner,
		logger:   logger,
		steps:    steps,
		settings: settings,
		sleep:    sleepCtx,
	}
}

// Run executes the pipeline sequentially with fail-fast gating: the first
// critical failure halts the run, advisory failures are recorded as warnings.
// notify may be nil.
func (p *Pipeline) Run(ctx context.Context, notify func(StepUpdate)) Result {
	emit := notify
	if emit == nil {
		emit = func(StepUpdate) {}
	}

	result := Result{Status: domain.DeploymentSuccess}

	for i, step := range p.steps {
		if step.Requires != "" {
			if _, err := p.runner.LookPath(step.Requires); err != nil {
				warning := fmt.Sprintf("%s not found on PATH, skipping %s", step.Requires, step.Name)
				p.logger.Warn("step skipped", "step", step.Name, "missing_tool", step.Requires)
				result.Warnings = append(result.Warnings, warning)
				emit(StepUpdate{Name: step.Name, Status: domain.StepSkipped, Warning: warning})
				continue
			}
		}

		emit(StepUpdate{Name: step.Name, Status: domain.StepRunning})

		started := time.Now()
		output, err := p.runStep(ctx, step)
		elapsed := time.Since(started)
		if err != nil {
			if step.Criticality == domain.Advisory {
				warning := fmt.Sprintf("%s: %v", step.FailureMsg, err)
				p.logger.Warn("advisory step failed",
					"step", step.Name,
					"exit_code", hostcmd.ExitCode(err),
					"error", err,
				)
				result.Warnings = append(result.Warnings, warning)
				emit(StepUpdate{Name: step.Name, Status: domain.StepFailed, Output: output, Err: err, Warning: warning, Duration: elapsed})
				continue
			}

			p.logger.Error("step failed",
				"step", step.Name,
				"exit_code", hostcmd.ExitCode(err),
				"error", err,
			)
			emit(StepUpdate{Name: step.Name, Status: domain.StepFailed, Output: output, Err: err, Duration: elapsed})

			// Remaining steps never run.
			for _, skipped := range p.steps[i+1:] {
				emit(StepUpdate{Name: skipped.Name, Status: domain.StepSkipped})
			}

			result.Status = domain.DeploymentFailed
			result.FailedStep = step.Name
			result.FailureMsg = step.FailureMsg
			result.Hint = step.FailureHint
			return result
		}

		p.logger.Info("step completed", "step", step.Name)
		emit(StepUpdate{Name: step.Name, Status: domain.StepSuccess, Output: output, Duration: elapsed})
	}

	result.Summary = p.buildSummary(ctx, &result)
	return result
}

func (p *Pipeline) runStep(ctx context.Context, step Step) (string, error) {
	started := time.Now()
	p.logger.Info("running step", "step", step.Name, "criticality", step.Criticality)

	if step.PreDelay > 0 {
		p.logger.Info("waiting for service to settle", "step", step.Name, "delay", step.PreDelay)
		if err := p.sleep(ctx, step.PreDelay); err != nil {
			return "", err
		}
	}

	var combined strings.Builder
	for _, argv := range step.Commands {
		out, err := p.runner.Run(ctx, argv)
		combined.WriteString(out)
		if err != nil {
			return combined.String(), fmt.Errorf("%s: %w", strings.Join(argv, " "), err)
		}
	}

	p.logger.Debug("step commands finished",
		"step", step.Name,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return combined.String(), nil
}

// buildSummary collects the operator report printed after a successful run:
// completion banner, reachability hint, and a journal tail for inspection.
func (p *Pipeline) buildSummary(ctx context.Context, result *Result) string {
	var b strings.Builder

	b.WriteString("deployment complete\n")
	b.WriteString("service: " + p.settings.ServiceUnit + "\n")
	if p.settings.SiteURL != "" {
		b.WriteString("reachable at: " + p.settings.SiteURL + "\n")
	}

	tail, err := p.runner.Run(ctx, hostcmd.JournalTail(p.settings.ServiceUnit, p.settings.JournalLines))
	if err != nil {
		warning := fmt.Sprintf("could not read service journal: %v", err)
		p.logger.Warn("journal tail failed", "error", err)
		result.Warnings = append(result.Warnings, warning)
		return b.String()
	}

	b.WriteString(fmt.Sprintf("last %d journal lines:\n", p.settings.JournalLines))
	b.WriteString(tail)
	return b.String()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
