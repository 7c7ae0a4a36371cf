// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklar/deployd/internal/domain"
	"github.com/oklar/deployd/internal/pipeline"
)

const (
	webhookRetryAttempts = 3
	webhookRetryBase     = 300 * time.Millisecond
	webhookHeaderSig     = "X-Signature"
)

type terminalWebhookPayload struct {
	DeploymentID uuid.UUID               `json:"deployment_id"`
	Status       domain.DeploymentStatus `json:"status"`
	FailedStep   string                  `json:"failed_step,omitempty"`
	Warnings     []string                `json:"warnings,omitempty"`
	FinishedAt   time.Time               `json:"finished_at"`
}

func (w *Worker) deliverTerminalWebhook(
	ctx context.Context,
	deploymentID uuid.UUID,
	result pipeline.Result,
	finishedAt time.Time,
	webhookURL string,
	webhookSecret string,
) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" || w.httpClient == nil {
		return
	}

	body, err := json.Marshal(terminalWebhookPayload{
		DeploymentID: deploymentID,
		Status:       result.Status,
		FailedStep:   string(result.FailedStep),
		Warnings:     result.Warnings,
		FinishedAt:   finishedAt,
	})
	if err != nil {
		w.logger.Error("webhook payload marshal failed",
			"deployment_id", deploymentID,
			"status", result.Status,
			"error", err,
		)
		return
	}

	signature := signWebhookPayload(webhookSecret, body)

	var lastErr error
	for attempt := 1; attempt <= webhookRetryAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
		if err != nil {
			lastErr = err
			w.logger.Error("webhook request build failed",
				"deployment_id", deploymentID,
				"status", result.Status,
				"attempt", attempt,
				"error", err,
			)
			break
		}
		req.Header.Set("Content-Type", "application/json")
		if signature != "" {
			req.Header.Set(webhookHeaderSig, signature)
		}

		resp, err := w.httpClient.Do(req)
		if err != nil {
			lastErr = err
			w.logger.Warn("webhook failure",
				"deployment_id", deploymentID,
				"status", result.Status,
				"attempt", attempt,
				"error", err,
			)
		} else {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()

			if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
				w.logger.Info("webhook success",
					"deployment_id", deploymentID,
					"status", result.Status,
					"attempt", attempt,
					"response_status", resp.StatusCode,
				)
				return
			}

			lastErr = fmt.Errorf("non-2xx response: %d", resp.StatusCode)
			w.logger.Warn("webhook failure",
				"deployment_id", deploymentID,
				"status", result.Status,
				"attempt", attempt,
				"response_status", resp.StatusCode,
			)
		}

		if attempt < webhookRetryAttempts {
			wait := webhookRetryBase * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				w.logger.Warn("webhook canceled before retry",
					"deployment_id", deploymentID,
					"status", result.Status,
					"attempt", attempt,
					"error", ctx.Err(),
				)
				return
			case <-timer.C:
			}
		}
	}

	if lastErr != nil {
		w.logger.Error("webhook retries exhausted",
			"deployment_id", deploymentID,
			"status", result.Status,
			"error", lastErr,
		)
	}
}

func signWebhookPayload(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
