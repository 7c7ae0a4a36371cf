// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/oklar/deployd/internal/auth"
	"github.com/oklar/deployd/internal/domain"
	"github.com/oklar/deployd/internal/metrics"
	"github.com/oklar/deployd/internal/transport/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const headerIdempotencyKey = "Idempotency-Key"

type createDeploymentRequest struct {
	WebhookURL string `json:"webhook_url"`
}

type createOperatorTokenRequest struct {
	Name                     string `json:"name"`
	MaxConcurrentDeployments int    `json:"max_concurrent_deployments"`
	MaxRequestsPerMin        int    `json:"max_requests_per_min"`
}

type Deps struct {
	DeploymentRepo DeploymentCreator
	StepRepo       StepLister
	EventRepo      EventStreamer
	TokenAdmin     OperatorTokenManager
	Logger         *slog.Logger
	TokenResolver  OperatorTokenResolver
	AdminToken     string
	HealthChecker  HealthChecker
	Version        string
	Commit         string
	BuildDate      string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("health check hit")
		if deps.HealthChecker != nil {
			if err := deps.HealthChecker.Check(r.Context()); err != nil {
				logger.Warn("health check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- OPERATOR TOKEN LIFECYCLE (ADMIN) ----------------

	if deps.TokenAdmin != nil {
		r.Route("/operator-tokens", func(admin chi.Router) {
			admin.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))

			admin.Post("/", func(w http.ResponseWriter, r *http.Request) {
				reqBody, err := decodeCreateOperatorTokenRequest(r)
				if err != nil {
					http.Error(w, "invalid request body", http.StatusBadRequest)
					return
				}

				created, err := deps.TokenAdmin.CreateOperatorToken(r.Context(), domain.CreateOperatorTokenParams{
					Name:                     reqBody.Name,
					MaxConcurrentDeployments: reqBody.MaxConcurrentDeployments,
					MaxRequestsPerMin:        reqBody.MaxRequestsPerMin,
				})
				if err != nil {
					if errors.Is(err, domain.ErrInvalidOperatorTokenName) {
						http.Error(w, "invalid operator token name", http.StatusBadRequest)
						return
					}
					logger.Error("create operator token failed", "error", err)
					http.Error(w, "failed to create operator token", http.StatusInternalServerError)
					return
				}

				writeJSON(w, http.StatusOK, map[string]string{
					"operator_token_id": created.ID.String(),
					"token":             created.Token,
				})
			})

			admin.Get("/", func(w http.ResponseWriter, r *http.Request) {
				tokens, err := deps.TokenAdmin.ListOperatorTokens(r.Context())
				if err != nil {
					logger.Error("list operator tokens failed", "error", err)
					http.Error(w, "failed to list operator tokens", http.StatusInternalServerError)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{
					"operator_tokens": tokens,
				})
			})

			admin.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
				id, err := uuid.Parse(chi.URLParam(r, "id"))
				if err != nil {
					http.Error(w, "invalid operator token ID", http.StatusBadRequest)
					return
				}

				if err := deps.TokenAdmin.RevokeOperatorToken(r.Context(), id); err != nil {
					if errors.Is(err, pgx.ErrNoRows) {
						http.Error(w, "operator token not found", http.StatusNotFound)
						return
					}
					logger.Error("delete operator token failed", "operator_token_id", id, "error", err)
					http.Error(w, "failed to delete operator token", http.StatusInternalServerError)
					return
				}

				w.WriteHeader(http.StatusNoContent)
			})
		})
	}

	// ---------------- DEPLOYMENTS (OPERATOR TOKEN AUTH) ----------------

	r.Group(func(r chi.Router) {
		if deps.TokenResolver != nil {
			r.Use(middleware.OperatorTokenAuth(deps.TokenResolver, logger))
		}

		// ---------------- CREATE DEPLOYMENT ----------------

		r.Post("/deployments", func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey)); key != "" {
				ctx = auth.WithIdempotencyKey(ctx, key)
			}

			reqBody, err := decodeCreateDeploymentRequest(r)
			if err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}

			deploymentID, err := deps.DeploymentRepo.CreateDeployment(ctx, domain.CreateDeploymentParams{
				WebhookURL: reqBody.WebhookURL,
			})
			if err != nil {
				if errors.Is(err, domain.ErrMaxConcurrentDeploymentsExceeded) {
					if w.Header().Get("Retry-After") == "" {
						w.Header().Set("Retry-After", "1")
					}
					http.Error(w, "max concurrent deployments exceeded", http.StatusTooManyRequests)
					return
				}

				logger.Error("create deployment failed", "error", err)
				http.Error(w, "failed to create deployment", http.StatusInternalServerError)
				return
			}

			logger.Info("deployment created via API", "deployment_id", deploymentID)

			writeJSON(w, http.StatusOK, map[string]string{
				"deployment_id": deploymentID.String(),
			})
		})

		// ---------------- LIST DEPLOYMENTS ----------------

		r.Get("/deployments", func(w http.ResponseWriter, r *http.Request) {
			limit := 0
			if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
				parsed, err := strconv.Atoi(raw)
				if err != nil || parsed < 0 {
					http.Error(w, "invalid limit", http.StatusBadRequest)
					return
				}
				limit = parsed
			}

			deployments, err := deps.DeploymentRepo.ListDeployments(r.Context(), limit)
			if err != nil {
				logger.Error("list deployments failed", "error", err)
				http.Error(w, "failed to list deployments", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, map[string]any{
				"deployments": deployments,
			})
		})

		// ---------------- GET DEPLOYMENT ----------------

		r.Get("/deployments/{id}", func(w http.ResponseWriter, r *http.Request) {
			idStr := chi.URLParam(r, "id")

			deploymentID, err := uuid.Parse(idStr)
			if err != nil {
				http.Error(w, "invalid deployment ID", http.StatusBadRequest)
				return
			}

			status, err := deps.DeploymentRepo.GetDeployment(r.Context(), deploymentID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					logger.Warn("deployment not found", "deployment_id", deploymentID)
					http.Error(w, "deployment not found", http.StatusNotFound)
					return
				}

				logger.Error("get deployment failed", "deployment_id", deploymentID, "error", err)
				http.Error(w, "failed to get deployment", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, map[string]string{
				"id":     deploymentID.String(),
				"status": string(status),
			})
		})

		// ---------------- CANCEL DEPLOYMENT ----------------

		r.Post("/deployments/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
			idStr := chi.URLParam(r, "id")

			deploymentID, err := uuid.Parse(idStr)
			if err != nil {
				http.Error(w, "invalid deployment ID", http.StatusBadRequest)
				return
			}

			if err := deps.DeploymentRepo.CancelDeployment(r.Context(), deploymentID); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					logger.Warn("deployment not found", "deployment_id", deploymentID)
					http.Error(w, "deployment not found", http.StatusNotFound)
					return
				}

				logger.Error("cancel deployment failed", "deployment_id", deploymentID, "error", err)
				http.Error(w, "failed to cancel deployment", http.StatusInternalServerError)
				return
			}

			logger.Info("deployment canceled via API", "deployment_id", deploymentID)

			writeJSON(w, http.StatusOK, map[string]string{
				"id":     deploymentID.String(),
				"status": string(domain.DeploymentCanceled),
			})
		})

		// ---------------- LIST STEPS ----------------

		r.Get("/deployments/{id}/steps", func(w http.ResponseWriter, r *http.Request) {
			idStr := chi.URLParam(r, "id")

			deploymentID, err := uuid.Parse(idStr)
			if err != nil {
				http.Error(w, "invalid deployment ID", http.StatusBadRequest)
				return
			}

			steps, err := deps.StepRepo.ListSteps(r.Context(), deploymentID)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					logger.Warn("deployment not found", "deployment_id", deploymentID)
					http.Error(w, "deployment not found", http.StatusNotFound)
					return
				}

				logger.Error("list steps failed", "deployment_id", deploymentID, "error", err)
				http.Error(w, "failed to list steps", http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, struct {
				DeploymentID string              `json:"deployment_id"`
				Steps        []domain.StepRecord `json:"steps"`
			}{
				DeploymentID: deploymentID.String(),
				Steps:        steps,
			})
		})

		// ---------------- STREAM EVENTS (SSE) ----------------

		r.Get("/deployments/{id}/events", func(w http.ResponseWriter, r *http.Request) {
			idStr := chi.URLParam(r, "id")

			deploymentID, err := uuid.Parse(idStr)
			if err != nil {
				http.Error(w, "invalid deployment ID", http.StatusBadRequest)
				return
			}

			// Enforce operator ownership and hide cross-operator existence.
			if _, err := deps.DeploymentRepo.GetDeployment(r.Context(), deploymentID); err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					http.Error(w, "deployment not found", http.StatusNotFound)
					return
				}
				logger.Error("sse get deployment failed", "deployment_id", deploymentID, "error", err)
				http.Error(w, "failed to stream events", http.StatusInternalServerError)
				return
			}

			if deps.EventRepo == nil {
				logger.Error("sse events repository is not configured")
				http.Error(w, "failed to stream events", http.StatusInternalServerError)
				return
			}

			since := strings.TrimSpace(r.URL.Query().Get("since_id"))
			cursor, err := resolveEventsCursor(r.Context(), deps.EventRepo, deploymentID, since)
			if err != nil {
				if errors.Is(err, errInvalidSinceID) {
					http.Error(w, "invalid since_id", http.StatusBadRequest)
					return
				}
				logger.Error("resolve events cursor failed",
					"deployment_id", deploymentID,
					"since_id", since,
					"error", err,
				)
				http.Error(w, "failed to stream events", http.StatusInternalServerError)
				return
			}

			flusher, ok := w.(http.Flusher)
			if !ok {
				http.Error(w, "streaming unsupported", http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")
			w.WriteHeader(http.StatusOK)
			flusher.Flush()

			writeEvents := func() error {
				events, err := deps.EventRepo.ListEventsAfter(r.Context(), deploymentID, cursor)
				if err != nil {
					return err
				}

				for _, ev := range events {
					payload, err := json.Marshal(ev)
					if err != nil {
						return err
					}
					if _, err := fmt.Fprintf(w, "event: step_update\ndata: %s\n\n", payload); err != nil {
						return err
					}
					flusher.Flush()
					cursor = ev.Seq
				}

				return nil
			}

			if err := writeEvents(); err != nil {
				logger.Error("sse initial write failed", "deployment_id", deploymentID, "error", err)
				return
			}

			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()

			for {
				select {
				case <-r.Context().Done():
					return
				case <-ticker.C:
					if err := writeEvents(); err != nil {
						logger.Error("sse write failed", "deployment_id", deploymentID, "error", err)
						return
					}
				}
			}
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeCreateDeploymentRequest(r *http.Request) (createDeploymentRequest, error) {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return createDeploymentRequest{}, nil
	}

	var req createDeploymentRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return createDeploymentRequest{}, nil
		}
		return createDeploymentRequest{}, err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return createDeploymentRequest{}, errors.New("request body must contain exactly one JSON object")
	}

	req.WebhookURL = strings.TrimSpace(req.WebhookURL)
	if req.WebhookURL == "" {
		return req, nil
	}

	parsed, err := url.Parse(req.WebhookURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return createDeploymentRequest{}, errors.New("invalid webhook_url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return createDeploymentRequest{}, errors.New("unsupported webhook_url scheme")
	}

	return req, nil
}

func decodeCreateOperatorTokenRequest(r *http.Request) (createOperatorTokenRequest, error) {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return createOperatorTokenRequest{}, domain.ErrInvalidOperatorTokenName
	}

	var req createOperatorTokenRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return createOperatorTokenRequest{}, err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return createOperatorTokenRequest{}, errors.New("request body must contain exactly one JSON object")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return createOperatorTokenRequest{}, domain.ErrInvalidOperatorTokenName
	}

	return req, nil
}

var errInvalidSinceID = errors.New("invalid since_id")

func resolveEventsCursor(
	ctx context.Context,
	eventRepo EventStreamer,
	deploymentID uuid.UUID,
	since string,
) (int64, error) {
	if since == "" {
		return 0, nil
	}

	if seq, err := strconv.ParseInt(since, 10, 64); err == nil {
		if seq < 0 {
			return 0, errInvalidSinceID
		}
		return seq, nil
	}

	eventID, err := uuid.Parse(since)
	if err != nil {
		return 0, errInvalidSinceID
	}

	seq, err := eventRepo.ResolveCursorByEventID(ctx, deploymentID, eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, errInvalidSinceID
		}
		return 0, err
	}

	return seq, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
