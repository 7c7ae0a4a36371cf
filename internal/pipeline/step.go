// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"time"

	"github.com/oklar/deployd/internal/domain"
	"github.com/oklar/deployd/internal/hostcmd"
)

// Step is one gate of the deployment pipeline.
type Step struct {
	Name        domain.StepName
	Criticality domain.StepCriticality

	// Commands run in order; the first non-zero exit fails the step.
	Commands [][]string

	// Requires names a binary that must be on PATH. When it is absent the
	// step is skipped with a warning instead of failing.
	Requires string

	// PreDelay is a settle delay before the first command runs.
	PreDelay time.Duration

	// FailureMsg is the operator-facing diagnostic for a critical failure.
	FailureMsg string

	// FailureHint is extra guidance printed alongside FailureMsg.
	FailureHint string
}

// Settings describe the host being deployed to.
type Settings struct {
	RepoDir      string
	ServiceUnit  string
	ServiceUser  string
	ProxyUnit    string
	SiteURL      string
	SettleDelay  time.Duration
	JournalLines int
}

// Steps builds the canonical deployment pipeline for a host.
func Steps(s Settings) []Step {
	return []Step{
		{
			Name:        domain.StepFetchSource,
			Criticality: domain.Critical,
			Commands:    [][]string{hostcmd.GitPull(s.ServiceUser, s.RepoDir)},
			FailureMsg:  "failed to pull source",
		},
		{
			Name:        domain.StepSyncDeps,
			Criticality: domain.Critical,
			Requires:    "uv",
			Commands:    [][]string{hostcmd.UvSync(s.ServiceUser, s.RepoDir)},
			FailureMsg:  "failed to sync dependencies",
		},
		{
			Name:        domain.StepRestartService,
			Criticality: domain.Critical,
			Commands:    [][]string{hostcmd.SystemctlRestart(s.ServiceUnit)},
			FailureMsg:  "failed to restart " + s.ServiceUnit,
		},
		{
			Name:        domain.StepVerifyHealth,
			Criticality: domain.Critical,
			PreDelay:    s.SettleDelay,
			Commands:    [][]string{hostcmd.SystemctlIsActive(s.ServiceUnit)},
			FailureMsg:  s.ServiceUnit + " is not active after restart",
			FailureHint: "inspect the service journal: journalctl -u " + s.ServiceUnit + " -n 50 --no-pager",
		},
		{
			Name:        domain.StepReloadProxy,
			Criticality: domain.Advisory,
			Commands: [][]string{
				hostcmd.NginxTest(),
				hostcmd.SystemctlReload(s.ProxyUnit),
			},
			FailureMsg: "proxy reload failed",
		},
	}
}
