// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/oklar/deployd/internal/auth"
)

var ErrMissingOperatorID = errors.New("missing operator id in context")

func operatorIDFromContext(ctx context.Context) (uuid.UUID, error) {
	id, ok := auth.OperatorIDFromContext(ctx)
	if !ok {
		return uuid.Nil, ErrMissingOperatorID
	}
	return id, nil
}
