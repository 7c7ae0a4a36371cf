package domain

type DeploymentStatus string

const (
	DeploymentPending  DeploymentStatus = "PENDING"
	DeploymentRunning  DeploymentStatus = "RUNNING"
	DeploymentSuccess  DeploymentStatus = "SUCCEEDED"
	DeploymentFailed   DeploymentStatus = "FAILED"
	DeploymentCanceled DeploymentStatus = "CANCELED"
)

// Terminal reports whether a deployment can no longer change status.
func (s DeploymentStatus) Terminal() bool {
	switch s {
	case DeploymentSuccess, DeploymentFailed, DeploymentCanceled:
		return true
	}
	return false
}
