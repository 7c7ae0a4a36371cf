package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklar/deployd/internal/domain"
	"github.com/oklar/deployd/internal/logging"
	"github.com/oklar/deployd/internal/metrics"
	"github.com/oklar/deployd/internal/pipeline"
)

type Deps struct {
	Pool          *pgxpool.Pool
	Logger        *slog.Logger
	Executor      PipelineExecutor
	ReclaimAfter  time.Duration
	MaxAttempts   int
	WebhookSecret string
	HTTPClient    *http.Client
}

type Worker struct {
	pool          *pgxpool.Pool
	logger        *slog.Logger
	executor      PipelineExecutor
	reclaimAfter  time.Duration
	maxAttempts   int
	webhookSecret string
	httpClient    *http.Client
}

func New(deps Deps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	reclaim := deps.ReclaimAfter
	if reclaim <= 0 {
		reclaim = 5 * time.Minute
	}

	maxAtt := deps.MaxAttempts
	if maxAtt <= 0 {
		maxAtt = 3
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Worker{
		pool:          deps.Pool,
		logger:        l,
		executor:      deps.Executor,
		reclaimAfter:  reclaim,
		maxAttempts:   maxAtt,
		webhookSecret: deps.WebhookSecret,
		httpClient:    client,
	}
}

type claimedDeployment struct {
	ID         uuid.UUID
	WebhookURL string
	Attempts   int
	Reclaimed  bool
}

// ProcessOnce claims at most one runnable deployment and drives it to a
// terminal status. Deployments stuck in RUNNING longer than reclaimAfter are
// picked up again; a deployment claimed more than maxAttempts times is failed
// without executing.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	started := time.Now()
	claim, err := w.claimOneDeployment(ctx)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		w.logger.Error("claim deployment failed", "error", err)
		return err
	}
	metrics.ObserveWorkerClaimLatency(time.Since(started))

	log := logging.WithDeployment(w.logger, claim.ID)
	log.Info("deployment claimed",
		"attempt", claim.Attempts,
		"reclaimed", claim.Reclaimed,
	)

	if claim.Attempts > w.maxAttempts {
		log.Error("deployment exceeded max attempts",
			"attempts", claim.Attempts,
			"max_attempts", w.maxAttempts,
		)
		return w.finishDeployment(ctx, claim, pipeline.Result{
			Status:     domain.DeploymentFailed,
			FailureMsg: "deployment retried too many times",
		}, started)
	}

	if w.executor == nil {
		return errors.New("no pipeline executor configured")
	}

	result := w.executor.Execute(ctx, func(update pipeline.StepUpdate) {
		if err := w.recordStepUpdate(ctx, claim.ID, update); err != nil {
			log.Error("record step update failed",
				"step", update.Name,
				"status", update.Status,
				"error", err,
			)
		}
	})

	if err := w.finishDeployment(ctx, claim, result, started); err != nil {
		log.Error("finish deployment failed",
			"status", result.Status,
			"error", err,
		)
		return err
	}

	log.Info("deployment finished",
		"status", result.Status,
		"warnings", len(result.Warnings),
	)

	return nil
}

// claimOneDeployment claims one runnable deployment.
// It also supports "reclaiming" stuck RUNNING deployments older than reclaimAfter.
func (w *Worker) claimOneDeployment(ctx context.Context) (claimedDeployment, error) {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return claimedDeployment{}, err
	}
	defer tx.Rollback(ctx)

	reclaimBefore := time.Now().Add(-w.reclaimAfter)

	var (
		c      claimedDeployment
		status string
	)

	err = tx.QueryRow(ctx, `
		SELECT id, webhook_url, attempts, status
		FROM deployments
		WHERE status = $1 OR
			(status = $2 AND started_at IS NOT NULL AND started_at < $3)
		ORDER BY created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`,
		domain.DeploymentPending,
		domain.DeploymentRunning,
		reclaimBefore,
	).Scan(&c.ID, &c.WebhookURL, &c.Attempts, &status)

	if err != nil {
		return claimedDeployment{}, err
	}

	c.Reclaimed = domain.DeploymentStatus(status) == domain.DeploymentRunning
	c.Attempts++

	// Every claim counts as an attempt.
	_, err = tx.Exec(ctx, `
		UPDATE deployments
		SET status=$2,
		    started_at=COALESCE(started_at, NOW()),
		    attempts=attempts + 1,
		    updated_at=NOW()
		WHERE id=$1
	`,
		c.ID,
		domain.DeploymentRunning,
	)
	if err != nil {
		return claimedDeployment{}, err
	}

	if err := insertEvent(ctx, tx, c.ID, "DEPLOYMENT_CLAIMED", map[string]any{
		"attempt":   c.Attempts,
		"reclaimed": c.Reclaimed,
	}); err != nil {
		return claimedDeployment{}, err
	}

	return c, tx.Commit(ctx)
}

// recordStepUpdate persists one pipeline step transition and appends the
// matching event so SSE consumers observe progress.
func (w *Worker) recordStepUpdate(ctx context.Context, deploymentID uuid.UUID, update pipeline.StepUpdate) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	switch update.Status {
	case domain.StepRunning:
		_, err = tx.Exec(ctx, `
			UPDATE deployment_steps
			SET status=$3, started_at=NOW()
			WHERE deployment_id=$1 AND name=$2
		`,
			deploymentID,
			string(update.Name),
			domain.StepRunning,
		)
	default:
		_, err = tx.Exec(ctx, `
			UPDATE deployment_steps
			SET status=$3, output=$4, finished_at=NOW()
			WHERE deployment_id=$1 AND name=$2
		`,
			deploymentID,
			string(update.Name),
			update.Status,
			update.Output,
		)
		metrics.IncStepStatus(string(update.Status))
		if update.Duration > 0 {
			metrics.ObserveStepExecutionDuration(update.Duration)
		}
	}
	if err != nil {
		return err
	}

	payload := map[string]any{
		"step":   update.Name,
		"status": update.Status,
	}
	if update.Err != nil {
		payload["error"] = update.Err.Error()
	}
	if update.Warning != "" {
		payload["warning"] = update.Warning
	}

	if err := insertEvent(ctx, tx, deploymentID, "STEP_"+string(update.Status), payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (w *Worker) finishDeployment(
	ctx context.Context,
	claim claimedDeployment,
	result pipeline.Result,
	startedAt time.Time,
) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Only transition out of RUNNING so a concurrent cancel wins.
	tag, err := tx.Exec(ctx, `
		UPDATE deployments
		SET status=$2, finished_at=NOW(), updated_at=NOW()
		WHERE id=$1 AND status=$3
	`,
		claim.ID,
		result.Status,
		domain.DeploymentRunning,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		w.logger.Warn("deployment no longer running, terminal status not applied",
			"deployment_id", claim.ID,
			"status", result.Status,
		)
		return nil
	}

	// Steps that never ran (poisoned or interrupted deployments) must not stay
	// PENDING once the deployment is terminal.
	_, err = tx.Exec(ctx, `
		UPDATE deployment_steps
		SET status=$2, finished_at=NOW()
		WHERE deployment_id=$1 AND status IN ($3, $4)
	`,
		claim.ID,
		domain.StepCanceled,
		domain.StepPending,
		domain.StepRunning,
	)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"status": result.Status,
	}
	if result.FailedStep != "" {
		payload["failed_step"] = result.FailedStep
		payload["failure_msg"] = result.FailureMsg
	}
	if result.Hint != "" {
		payload["hint"] = result.Hint
	}
	if len(result.Warnings) > 0 {
		payload["warnings"] = result.Warnings
	}
	if result.Summary != "" {
		payload["summary"] = result.Summary
	}

	eventType := "DEPLOYMENT_SUCCEEDED"
	if result.Status == domain.DeploymentFailed {
		eventType = "DEPLOYMENT_FAILED"
	}
	if err := insertEvent(ctx, tx, claim.ID, eventType, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	metrics.IncDeploymentStatus(string(result.Status))
	metrics.ObserveDeploymentDuration(time.Since(startedAt))

	w.deliverTerminalWebhook(ctx, claim.ID, result, time.Now().UTC(), claim.WebhookURL, w.webhookSecret)

	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, deploymentID uuid.UUID, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO events (id, deployment_id, type, payload)
		VALUES ($1, $2, $3, $4::jsonb)
	`,
		uuid.New(),
		deploymentID,
		eventType,
		body,
	)
	return err
}
