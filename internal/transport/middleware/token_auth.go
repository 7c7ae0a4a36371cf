// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklar/deployd/internal/auth"
)

const healthzPath = "/healthz"
const metricsPath = "/metrics"
const versionPath = "/version"
const headerRateLimitLimit = "X-RateLimit-Limit"
const headerRateLimitRemaining = "X-RateLimit-Remaining"
const headerRetryAfter = "Retry-After"

type OperatorTokenResolver interface {
	ResolveOperatorToken(ctx context.Context, bearerToken string) (auth.OperatorToken, bool, error)
}

// OperatorTokenAuth enforces bearer-token authentication for all routes except
// /healthz, /metrics, and /version; resolves the operator from the token and
// stores it on request context.
func OperatorTokenAuth(resolver OperatorTokenResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return operatorTokenAuthWithLimiter(resolver, newInMemoryRateLimiter(), logger)
}

func operatorTokenAuthWithLimiter(
	resolver OperatorTokenResolver,
	limiter *inMemoryRateLimiter,
	logger *slog.Logger,
) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("middleware.OperatorTokenAuth requires a resolver")
	}
	if limiter == nil {
		panic("middleware.OperatorTokenAuth requires a limiter")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == healthzPath || r.URL.Path == metricsPath || r.URL.Path == versionPath {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			token, ok := bearerToken(authHeader)
			if !ok {
				logger.Warn("request blocked by operator token middleware",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid operator token", http.StatusUnauthorized)
				return
			}

			resolved, found, err := resolver.ResolveOperatorToken(r.Context(), token)
			if err != nil {
				logger.Error("operator token resolution failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				http.Error(w, "auth lookup failed", http.StatusInternalServerError)
				return
			}

			if !found {
				logger.Warn("request blocked by operator token lookup",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "missing or invalid operator token", http.StatusUnauthorized)
				return
			}

			decision := limiter.Allow(resolved.ID, resolved.MaxRequestsPerMin, time.Now())
			w.Header().Set(headerRateLimitLimit, strconv.Itoa(decision.LimitPerMinute))
			w.Header().Set(headerRateLimitRemaining, strconv.Itoa(decision.Remaining))
			if !decision.Allowed {
				w.Header().Set(headerRetryAfter, strconv.Itoa(decision.RetryAfterSeconds))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			// Preserve authenticated context on the current request pointer so
			// outer middleware (request logging) can read the operator id
			// after next returns.
			*r = *r.WithContext(auth.WithOperatorToken(r.Context(), resolved))
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	schemeToken := strings.SplitN(header, " ", 2)
	if len(schemeToken) != 2 {
		return "", false
	}
	if !strings.EqualFold(schemeToken[0], "Bearer") {
		return "", false
	}
	if schemeToken[1] == "" {
		return "", false
	}
	return schemeToken[1], true
}
