// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/google/uuid"
	"github.com/oklar/deployd/internal/auth"
	"github.com/oklar/deployd/internal/domain"
)

type DeploymentCreator interface {
	CreateDeployment(ctx context.Context, params domain.CreateDeploymentParams) (uuid.UUID, error)
	GetDeployment(ctx context.Context, id uuid.UUID) (domain.DeploymentStatus, error)
	ListDeployments(ctx context.Context, limit int) ([]domain.DeploymentRecord, error)
	CancelDeployment(ctx context.Context, id uuid.UUID) error
}

type StepLister interface {
	ListSteps(ctx context.Context, deploymentID uuid.UUID) ([]domain.StepRecord, error)
}

type OperatorTokenResolver interface {
	ResolveOperatorToken(ctx context.Context, bearerToken string) (auth.OperatorToken, bool, error)
}

type OperatorTokenManager interface {
	CreateOperatorToken(ctx context.Context, params domain.CreateOperatorTokenParams) (domain.CreatedOperatorToken, error)
	ListOperatorTokens(ctx context.Context) ([]domain.OperatorTokenRecord, error)
	RevokeOperatorToken(ctx context.Context, id uuid.UUID) error
}

type EventStreamer interface {
	ListEventsAfter(ctx context.Context, deploymentID uuid.UUID, afterSeq int64) ([]domain.EventRecord, error)
	ResolveCursorByEventID(ctx context.Context, deploymentID uuid.UUID, eventID uuid.UUID) (int64, error)
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
