package repository

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklar/deployd/internal/auth"
	"github.com/oklar/deployd/internal/domain"
)

type DeploymentRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewDeploymentRepository(pool *pgxpool.Pool, logger *slog.Logger) *DeploymentRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &DeploymentRepository{
		pool:   pool,
		logger: logger,
	}
}

// CreateDeployment queues a deployment and its pipeline steps. When the
// request carries an idempotency key, a repeat request returns the original
// deployment id instead of queueing again.
func (r *DeploymentRepository) CreateDeployment(ctx context.Context, params domain.CreateDeploymentParams) (uuid.UUID, error) {
	operatorID, err := operatorIDFromContext(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	maxConcurrent := domain.DefaultMaxConcurrentDeployments
	if token, ok := auth.OperatorTokenFromContext(ctx); ok && token.MaxConcurrentDeployments > 0 {
		maxConcurrent = token.MaxConcurrentDeployments
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	idempotencyKey, hasKey := auth.IdempotencyKeyFromContext(ctx)
	if hasKey {
		var existing uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT deployment_id FROM deployment_requests
			WHERE operator_token_id=$1 AND idempotency_key=$2
		`, operatorID, idempotencyKey).Scan(&existing)
		if err == nil {
			r.logger.Info("deployment request replayed",
				"deployment_id", existing,
				"idempotency_key", idempotencyKey,
			)
			return existing, tx.Commit(ctx)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Error("idempotency lookup failed", "error", err)
			return uuid.Nil, err
		}
	}

	var active int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM deployments
		WHERE operator_token_id=$1 AND status IN ($2,$3)
	`, operatorID, domain.DeploymentPending, domain.DeploymentRunning).Scan(&active); err != nil {
		r.logger.Error("count active deployments failed", "error", err)
		return uuid.Nil, err
	}
	if active >= maxConcurrent {
		return uuid.Nil, domain.ErrMaxConcurrentDeploymentsExceeded
	}

	deploymentID := uuid.New()

	_, err = tx.Exec(ctx, `
		INSERT INTO deployments (id, operator_token_id, status, webhook_url)
		VALUES ($1, $2, $3, $4)
	`, deploymentID, operatorID, domain.DeploymentPending, params.WebhookURL)
	if err != nil {
		r.logger.Error("insert deployment failed", "deployment_id", deploymentID, "error", err)
		return uuid.Nil, err
	}

	for _, name := range domain.PipelineSteps {
		if _, err := tx.Exec(ctx, `
			INSERT INTO deployment_steps (id, deployment_id, name, criticality, status)
			VALUES ($1, $2, $3, $4, $5)
		`,
			uuid.New(),
			deploymentID,
			name,
			domain.CriticalityOf(name),
			domain.StepPending,
		); err != nil {
			r.logger.Error("insert step failed",
				"deployment_id", deploymentID,
				"step", name,
				"error", err,
			)
			return uuid.Nil, err
		}
	}

	if hasKey {
		if _, err := tx.Exec(ctx, `
			INSERT INTO deployment_requests (operator_token_id, idempotency_key, deployment_id)
			VALUES ($1, $2, $3)
		`, operatorID, idempotencyKey, deploymentID); err != nil {
			r.logger.Error("insert deployment request failed",
				"deployment_id", deploymentID,
				"error", err,
			)
			return uuid.Nil, err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO events (id, deployment_id, type, payload)
		VALUES ($1, $2, $3, $4)
	`, uuid.New(), deploymentID, "DEPLOYMENT_QUEUED", `{"source":"api"}`)
	if err != nil {
		r.logger.Error("insert queued event failed", "deployment_id", deploymentID, "error", err)
		return uuid.Nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit failed", "deployment_id", deploymentID, "error", err)
		return uuid.Nil, err
	}

	r.logger.Info("deployment queued", "deployment_id", deploymentID)
	return deploymentID, nil
}

func (r *DeploymentRepository) GetDeployment(ctx context.Context, id uuid.UUID) (domain.DeploymentStatus, error) {
	operatorID, err := operatorIDFromContext(ctx)
	if err != nil {
		r.logger.Warn("get deployment denied: missing operator id", "deployment_id", id, "error", err)
		return "", err
	}

	var status domain.DeploymentStatus
	err = r.pool.QueryRow(ctx,
		`SELECT status FROM deployments WHERE id=$1 AND operator_token_id=$2`,
		id, operatorID,
	).Scan(&status)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Error("get deployment failed", "deployment_id", id, "error", err)
		}
		return "", err
	}

	return status, nil
}

func (r *DeploymentRepository) ListDeployments(ctx context.Context, limit int) ([]domain.DeploymentRecord, error) {
	operatorID, err := operatorIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 100 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, status, created_at, finished_at
		FROM deployments
		WHERE operator_token_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, operatorID, limit)
	if err != nil {
		r.logger.Error("list deployments query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.DeploymentRecord, 0, limit)
	for rows.Next() {
		var rec domain.DeploymentRecord
		if err := rows.Scan(&rec.ID, &rec.Status, &rec.CreatedAt, &rec.FinishedAt); err != nil {
			r.logger.Error("scan deployment row failed", "error", err)
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		r.logger.Error("deployments rows iteration failed", "error", err)
		return nil, err
	}

	return out, nil
}

func (r *DeploymentRepository) CancelDeployment(ctx context.Context, deploymentID uuid.UUID) error {
	operatorID, err := operatorIDFromContext(ctx)
	if err != nil {
		r.logger.Warn("cancel denied: missing operator id", "deployment_id", deploymentID, "error", err)
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		r.logger.Error("begin tx failed", "error", err)
		return err
	}
	defer tx.Rollback(ctx)

	var status domain.DeploymentStatus
	if err := tx.QueryRow(ctx,
		`SELECT status FROM deployments WHERE id=$1 AND operator_token_id=$2`,
		deploymentID, operatorID,
	).Scan(&status); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.logger.Error("read deployment status failed", "deployment_id", deploymentID, "error", err)
		}
		return err
	}

	if status.Terminal() {
		r.logger.Info("cancel skipped (terminal)",
			"deployment_id", deploymentID,
			"status", status,
		)
		return tx.Commit(ctx)
	}

	_, err = tx.Exec(ctx,
		`UPDATE deployments SET status=$2, updated_at=NOW(), finished_at=COALESCE(finished_at, NOW()) WHERE id=$1`,
		deploymentID, domain.DeploymentCanceled,
	)
	if err != nil {
		r.logger.Error("update deployment cancel failed", "deployment_id", deploymentID, "error", err)
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE deployment_steps
		SET status=$2,
		    finished_at=COALESCE(finished_at, NOW())
		WHERE deployment_id=$1
		  AND status IN ($3,$4)
	`,
		deploymentID,
		domain.StepCanceled,
		domain.StepPending,
		domain.StepRunning,
	)
	if err != nil {
		r.logger.Error("update steps cancel failed", "deployment_id", deploymentID, "error", err)
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO events (id, deployment_id, type, payload)
		 VALUES ($1, $2, $3, $4)`,
		uuid.New(), deploymentID, "DEPLOYMENT_CANCELED", `{"reason":"operator_request"}`,
	)
	if err != nil {
		r.logger.Error("insert cancel event failed", "deployment_id", deploymentID, "error", err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		r.logger.Error("commit cancel failed", "deployment_id", deploymentID, "error", err)
		return err
	}

	r.logger.Info("deployment canceled", "deployment_id", deploymentID)
	return nil
}
