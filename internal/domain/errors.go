// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"errors"
	"fmt"
)

var ErrMaxConcurrentDeploymentsExceeded = errors.New("max concurrent deployments exceeded")
var ErrInvalidOperatorTokenName = errors.New("invalid operator token name")
var ErrNotRoot = errors.New("deployd must run with root privileges")

// StepError marks the critical step that halted a deployment.
type StepError struct {
	Step StepName
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
