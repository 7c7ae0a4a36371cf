// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"log/slog"

	"github.com/oklar/deployd/internal/hostcmd"
	"github.com/oklar/deployd/internal/pipeline"
)

// PipelineExecutor runs the deployment pipeline on the host and reports each
// step transition through notify.
type PipelineExecutor interface {
	Execute(ctx context.Context, notify func(pipeline.StepUpdate)) pipeline.Result
}

// HostExecutor executes the pipeline against the local host with exec(2).
type HostExecutor struct {
	Settings pipeline.Settings
	Steps    []pipeline.Step
	Logger   *slog.Logger
}

func (h *HostExecutor) Execute(ctx context.Context, notify func(pipeline.StepUpdate)) pipeline.Result {
	p := pipeline.New(&hostcmd.ExecRunner{}, h.Logger, h.Settings, h.Steps)
	return p.Run(ctx, notify)
}
