// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklar/deployd/internal/domain"
)

type StepRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStepRepository(pool *pgxpool.Pool, logger *slog.Logger) *StepRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &StepRepository{
		pool:   pool,
		logger: logger,
	}
}

func (s *StepRepository) ListSteps(ctx context.Context, deploymentID uuid.UUID) ([]domain.StepRecord, error) {
	operatorID, err := operatorIDFromContext(ctx)
	if err != nil {
		s.logger.Warn("list steps denied: missing operator id", "deployment_id", deploymentID, "error", err)
		return nil, err
	}

	var exists int
	if err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM deployments WHERE id=$1 AND operator_token_id=$2`,
		deploymentID,
		operatorID,
	).Scan(&exists); err != nil {
		s.logger.Error("deployment ownership check failed",
			"deployment_id", deploymentID,
			"operator_id", operatorID,
			"error", err,
		)
		return nil, err
	}

	// All five rows share one insert transaction, so created_at cannot order
	// them. Pipeline position does.
	order := make([]string, len(domain.PipelineSteps))
	for i, name := range domain.PipelineSteps {
		order[i] = string(name)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, name, criticality, status
		FROM deployment_steps
		WHERE deployment_id=$1
		ORDER BY array_position($2::text[], name), created_at ASC
	`, deploymentID, order)
	if err != nil {
		s.logger.Error("list steps query failed",
			"deployment_id", deploymentID,
			"error", err,
		)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StepRecord, 0, len(domain.PipelineSteps))

	for rows.Next() {
		var st domain.StepRecord
		if err := rows.Scan(&st.ID, &st.Name, &st.Criticality, &st.Status); err != nil {
			s.logger.Error("scan step row failed",
				"deployment_id", deploymentID,
				"error", err,
			)
			return nil, err
		}
		out = append(out, st)
	}

	if err := rows.Err(); err != nil {
		s.logger.Error("rows iteration failed",
			"deployment_id", deploymentID,
			"error", err,
		)
		return nil, err
	}

	s.logger.Info("steps fetched",
		"deployment_id", deploymentID,
		"count", len(out),
	)

	return out, nil
}
