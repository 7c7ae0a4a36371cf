// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"

	"github.com/google/uuid"
)

type operatorIDContextKey struct{}
type operatorTokenContextKey struct{}
type idempotencyKeyContextKey struct{}

var ctxOperatorIDKey operatorIDContextKey
var ctxOperatorTokenKey operatorTokenContextKey
var ctxIdempotencyKey idempotencyKeyContextKey

// OperatorToken is a resolved bearer token with its limits.
type OperatorToken struct {
	ID                       uuid.UUID
	MaxConcurrentDeployments int
	MaxRequestsPerMin        int
}

// WithOperatorID stores the authenticated operator id on the request context.
func WithOperatorID(ctx context.Context, operatorID uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxOperatorIDKey, operatorID)
}

// WithOperatorToken stores the resolved token and limits on request context.
func WithOperatorToken(ctx context.Context, token OperatorToken) context.Context {
	ctx = context.WithValue(ctx, ctxOperatorTokenKey, token)
	return context.WithValue(ctx, ctxOperatorIDKey, token.ID)
}

// OperatorIDFromContext reads the authenticated operator id from context.
func OperatorIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	if token, ok := OperatorTokenFromContext(ctx); ok {
		return token.ID, true
	}

	v := ctx.Value(ctxOperatorIDKey)
	id, ok := v.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// OperatorTokenFromContext reads the resolved token and limits from context.
func OperatorTokenFromContext(ctx context.Context) (OperatorToken, bool) {
	v := ctx.Value(ctxOperatorTokenKey)
	token, ok := v.(OperatorToken)
	if !ok || token.ID == uuid.Nil {
		return OperatorToken{}, false
	}
	return token, true
}

func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxIdempotencyKey, key)
}

func IdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	v := ctx.Value(ctxIdempotencyKey)
	key, ok := v.(string)
	if !ok || key == "" {
		return "", false
	}
	return key, true
}
