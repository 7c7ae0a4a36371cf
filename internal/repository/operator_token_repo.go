// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklar/deployd/internal/auth"
	"github.com/oklar/deployd/internal/domain"
)

type OperatorTokenRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewOperatorTokenRepository(pool *pgxpool.Pool, logger *slog.Logger) *OperatorTokenRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &OperatorTokenRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *OperatorTokenRepository) ResolveOperatorToken(ctx context.Context, bearerToken string) (auth.OperatorToken, bool, error) {
	if bearerToken == "" {
		return auth.OperatorToken{}, false, nil
	}
	tokenHash := sha256Hex(bearerToken)

	var token auth.OperatorToken
	err := r.pool.QueryRow(ctx,
		`SELECT id, max_concurrent_deployments, max_requests_per_min
		 FROM operator_tokens
		 WHERE token_hash=$1 AND revoked_at IS NULL`,
		tokenHash,
	).Scan(&token.ID, &token.MaxConcurrentDeployments, &token.MaxRequestsPerMin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.OperatorToken{}, false, nil
		}
		r.logger.Error("resolve operator token failed", "error", err)
		return auth.OperatorToken{}, false, err
	}

	if token.MaxConcurrentDeployments <= 0 {
		token.MaxConcurrentDeployments = domain.DefaultMaxConcurrentDeployments
	}
	if token.MaxRequestsPerMin <= 0 {
		token.MaxRequestsPerMin = domain.DefaultMaxRequestsPerMin
	}

	return token, true, nil
}

func (r *OperatorTokenRepository) CreateOperatorToken(ctx context.Context, params domain.CreateOperatorTokenParams) (domain.CreatedOperatorToken, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return domain.CreatedOperatorToken{}, domain.ErrInvalidOperatorTokenName
	}

	maxConcurrent := params.MaxConcurrentDeployments
	if maxConcurrent <= 0 {
		maxConcurrent = domain.DefaultMaxConcurrentDeployments
	}
	maxRequestsPerMin := params.MaxRequestsPerMin
	if maxRequestsPerMin <= 0 {
		maxRequestsPerMin = domain.DefaultMaxRequestsPerMin
	}

	token, tokenHash, err := generateOperatorToken()
	if err != nil {
		r.logger.Error("generate operator token failed", "error", err)
		return domain.CreatedOperatorToken{}, err
	}

	tokenID := uuid.New()
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO operator_tokens (id, name, token_hash, max_concurrent_deployments, max_requests_per_min)
		VALUES ($1, $2, $3, $4, $5)
	`,
		tokenID,
		name,
		tokenHash,
		maxConcurrent,
		maxRequestsPerMin,
	); err != nil {
		r.logger.Error("create operator token failed", "name", name, "error", err)
		return domain.CreatedOperatorToken{}, err
	}

	return domain.CreatedOperatorToken{
		ID:    tokenID,
		Token: token,
	}, nil
}

func (r *OperatorTokenRepository) ListOperatorTokens(ctx context.Context) ([]domain.OperatorTokenRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, max_concurrent_deployments, max_requests_per_min, created_at
		FROM operator_tokens
		WHERE revoked_at IS NULL
		ORDER BY created_at DESC
	`)
	if err != nil {
		r.logger.Error("list operator tokens query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	tokens := make([]domain.OperatorTokenRecord, 0, 8)
	for rows.Next() {
		var record domain.OperatorTokenRecord
		if err := rows.Scan(
			&record.ID,
			&record.Name,
			&record.MaxConcurrentDeployments,
			&record.MaxRequestsPerMin,
			&record.CreatedAt,
		); err != nil {
			return nil, err
		}
		tokens = append(tokens, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tokens, nil
}

func (r *OperatorTokenRepository) RevokeOperatorToken(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE operator_tokens
		SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`, id)
	if err != nil {
		r.logger.Error("revoke operator token failed", "operator_token_id", id, "error", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func generateOperatorToken() (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	token := "dp_live_" + hex.EncodeToString(raw)
	return token, sha256Hex(token), nil
}

func sha256Hex(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
