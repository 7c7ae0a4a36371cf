// SPDX-License-Identifier: Apache-2.0

package domain

import "testing"

func TestDeploymentStatusConstants(t *testing.T) {
	if DeploymentPending != "PENDING" {
		t.Fatalf("unexpected DeploymentPending value: %s", DeploymentPending)
	}
	if DeploymentRunning != "RUNNING" {
		t.Fatalf("unexpected DeploymentRunning value: %s", DeploymentRunning)
	}
	if DeploymentSuccess != "SUCCEEDED" {
		t.Fatalf("unexpected DeploymentSuccess value: %s", DeploymentSuccess)
	}
	if DeploymentFailed != "FAILED" {
		t.Fatalf("unexpected DeploymentFailed value: %s", DeploymentFailed)
	}
	if DeploymentCanceled != "CANCELED" {
		t.Fatalf("unexpected DeploymentCanceled value: %s", DeploymentCanceled)
	}
}

func TestDeploymentStatusTerminal(t *testing.T) {
	terminal := []DeploymentStatus{DeploymentSuccess, DeploymentFailed, DeploymentCanceled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}

	open := []DeploymentStatus{DeploymentPending, DeploymentRunning}
	for _, s := range open {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}

func TestPipelineStepOrder(t *testing.T) {
	want := []StepName{
		StepFetchSource,
		StepSyncDeps,
		StepRestartService,
		StepVerifyHealth,
		StepReloadProxy,
	}

	if len(PipelineSteps) != len(want) {
		t.Fatalf("expected %d pipeline steps, got %d", len(want), len(PipelineSteps))
	}
	for i, name := range want {
		if PipelineSteps[i] != name {
			t.Fatalf("expected step %d to be %s, got %s", i, name, PipelineSteps[i])
		}
	}
}

func TestCriticalityOf(t *testing.T) {
	if CriticalityOf(StepReloadProxy) != Advisory {
		t.Fatal("expected RELOAD_PROXY to be advisory")
	}

	for _, name := range []StepName{StepFetchSource, StepSyncDeps, StepRestartService, StepVerifyHealth} {
		if CriticalityOf(name) != Critical {
			t.Fatalf("expected %s to be critical", name)
		}
	}
}
