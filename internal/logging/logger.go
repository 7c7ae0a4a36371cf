// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// NewLogger returns the project-standard slog logger.
// - env=dev: text handler with source locations
// - env=prod: JSON handler without source locations
// LOG_LEVEL controls the level (debug/info/warn/error), default info.
// LOG_FORMAT=json|text overrides the env-derived handler choice.
func NewLogger(env string) *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))
	prod := strings.EqualFold(strings.TrimSpace(env), "prod")

	useJSON := prod
	switch strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT"))) {
	case "json":
		useJSON = true
	case "text":
		useJSON = false
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: !prod,
	}

	if useJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// WithDeployment scopes a logger to one deployment.
func WithDeployment(logger *slog.Logger, deploymentID uuid.UUID) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("deployment_id", deploymentID)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}
