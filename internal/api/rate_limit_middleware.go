package api

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/btaap/library-service/internal/app"
	"github.com/btaap/library-service/internal/metrics"
)

// RateLimitConfig describes one limited route group.
type RateLimitConfig struct {
	Limiter app.RateLimiter
	Scope   string
	Limit   int
	Window  time.Duration
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// RateLimitMiddleware counts requests per caller and answers 429 once the window is used up.
// Callers are keyed by principal when authenticated, else by client address.
// Limiter failures let the request through.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}

	return func(next http.Handler) http.Handler {
		if cfg.Limiter == nil || cfg.Limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := clientAddress(r)
			if principal, ok := PrincipalFromContext(r.Context()); ok {
				subject = principal.ID.String()
			}

			count, retryAfter, err := cfg.Limiter.ConsumeRateLimit(r.Context(), cfg.Scope, subject, cfg.Limit, window)
			if err != nil {
				logger.Warn("rate limiter unavailable; allowing request", "error", err, "scope", cfg.Scope)
				next.ServeHTTP(w, r)
				return
			}
			if count > cfg.Limit {
				cfg.Metrics.ObserveRateLimited(cfg.Scope)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
