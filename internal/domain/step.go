package domain

import "github.com/google/uuid"

type StepStatus string
type StepName string
type StepCriticality string

type StepRecord struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Criticality string    `json:"criticality"`
	Status      string    `json:"status"`
}

const (
	StepPending  StepStatus = "PENDING"
	StepRunning  StepStatus = "RUNNING"
	StepSuccess  StepStatus = "SUCCEEDED"
	StepFailed   StepStatus = "FAILED"
	StepSkipped  StepStatus = "SKIPPED"
	StepCanceled StepStatus = "CANCELED"
)

const (
	StepFetchSource    StepName = "FETCH_SOURCE"
	StepSyncDeps       StepName = "SYNC_DEPS"
	StepRestartService StepName = "RESTART_SERVICE"
	StepVerifyHealth   StepName = "VERIFY_HEALTH"
	StepReloadProxy    StepName = "RELOAD_PROXY"
)

const (
	// Critical steps halt the whole deployment when they fail.
	Critical StepCriticality = "CRITICAL"
	// Advisory steps surface failures as warnings only.
	Advisory StepCriticality = "ADVISORY"
)

// PipelineSteps is the canonical step order of a deployment.
var PipelineSteps = []StepName{
	StepFetchSource,
	StepSyncDeps,
	StepRestartService,
	StepVerifyHealth,
	StepReloadProxy,
}

// CriticalityOf returns the built-in criticality of a pipeline step.
func CriticalityOf(name StepName) StepCriticality {
	if name == StepReloadProxy {
		return Advisory
	}
	return Critical
}
