// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklar/deployd/internal/domain"
)

type EventRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewEventRepository(pool *pgxpool.Pool, logger *slog.Logger) *EventRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *EventRepository) ListEventsAfter(ctx context.Context, deploymentID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error) {
	operatorID, err := operatorIDFromContext(ctx)
	if err != nil {
		r.logger.Warn("list events denied: missing operator id", "deployment_id", deploymentID, "error", err)
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT e.id, e.seq, e.deployment_id, e.type, e.payload, e.created_at
		FROM events e
		JOIN deployments d ON e.deployment_id = d.id
		WHERE e.deployment_id=$1
		  AND d.operator_token_id=$2
		  AND e.seq > $3
		ORDER BY e.seq ASC
	`,
		deploymentID,
		operatorID,
		afterSeq,
	)
	if err != nil {
		r.logger.Error("list events query failed",
			"deployment_id", deploymentID,
			"operator_id", operatorID,
			"error", err,
		)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.EventRecord, 0, 8)
	for rows.Next() {
		var ev domain.EventRecord
		if err := rows.Scan(
			&ev.ID,
			&ev.Seq,
			&ev.DeploymentID,
			&ev.Type,
			&ev.Payload,
			&ev.CreatedAt,
		); err != nil {
			r.logger.Error("scan event row failed",
				"deployment_id", deploymentID,
				"operator_id", operatorID,
				"error", err,
			)
			return nil, err
		}
		out = append(out, ev)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("events rows iteration failed",
			"deployment_id", deploymentID,
			"operator_id", operatorID,
			"error", err,
		)
		return nil, err
	}

	return out, nil
}

func (r *EventRepository) ResolveCursorByEventID(ctx context.Context, deploymentID uuid.UUID, eventID uuid.UUID) (int64, error) {
	operatorID, err := operatorIDFromContext(ctx)
	if err != nil {
		r.logger.Warn("resolve cursor denied: missing operator id", "deployment_id", deploymentID, "error", err)
		return 0, err
	}

	var seq int64
	if err := r.pool.QueryRow(ctx, `
		SELECT e.seq
		FROM events e
		JOIN deployments d ON e.deployment_id = d.id
		WHERE e.id=$1
		  AND e.deployment_id=$2
		  AND d.operator_token_id=$3
	`,
		eventID,
		deploymentID,
		operatorID,
	).Scan(&seq); err != nil {
		r.logger.Error("resolve event cursor failed",
			"deployment_id", deploymentID,
			"event_id", eventID,
			"operator_id", operatorID,
			"error", err,
		)
		return 0, err
	}

	return seq, nil
}
