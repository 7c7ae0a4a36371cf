// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	// A deployment mutates the host in place, so one in flight is the norm.
	DefaultMaxConcurrentDeployments = 1
	DefaultMaxRequestsPerMin        = 60
)

type CreateOperatorTokenParams struct {
	Name                     string
	MaxConcurrentDeployments int
	MaxRequestsPerMin        int
}

type CreatedOperatorToken struct {
	ID    uuid.UUID
	Token string
}

type OperatorTokenRecord struct {
	ID                       uuid.UUID `json:"id"`
	Name                     string    `json:"name"`
	MaxConcurrentDeployments int       `json:"max_concurrent_deployments"`
	MaxRequestsPerMin        int       `json:"max_requests_per_min"`
	CreatedAt                time.Time `json:"created_at"`
}

type CreateDeploymentParams struct {
	WebhookURL string
}

type DeploymentRecord struct {
	ID         uuid.UUID        `json:"id"`
	Status     DeploymentStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}
