// SPDX-License-Identifier: Apache-2.0

package hostcmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
)

// Runner executes host commands. The production implementation shells out;
// tests substitute fakes so no host state is touched.
type Runner interface {
	// Run executes argv and returns combined stdout+stderr.
	Run(ctx context.Context, argv []string) (string, error)

	// LookPath reports where a binary lives on PATH, if anywhere.
	LookPath(name string) (string, error)
}

type ExecRunner struct{}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (e *ExecRunner) Run(ctx context.Context, argv []string) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = os.Environ()

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return out.String(), err
}

func (e *ExecRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// ExitCode extracts the subprocess exit code from a Run error, or 1 when the
// command never ran.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
