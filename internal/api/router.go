/**
 * @description
 * This file sets up the HTTP router for the library service. It defines the API
 * endpoints, associates them with their handlers, and applies the middleware
 * for authentication, roles, rate limits and CORS.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: Router and standard middleware.
 * - github.com/go-chi/cors: Cross-origin policy exposing range headers.
 * - github.com/prometheus/client_golang: /metrics exposition.
 */

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/btaap/library-service/internal/app"
	"github.com/btaap/library-service/internal/domain"
	"github.com/btaap/library-service/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultRequestTimeout = 60 * time.Second

// RouterConfig carries the cross-cutting settings of the HTTP surface.
type RouterConfig struct {
	Auth                        AuthConfig
	AllowedOrigins              []string
	Limiter                     app.RateLimiter
	DownloadLimitPerMinute      int
	PaymentSubmitLimitPerMinute int
	Metrics                     *metrics.Metrics
	Gatherer                    prometheus.Gatherer
	Logger                      *slog.Logger
	// RequestTimeout bounds every route except file streams; zero means 60s.
	RequestTimeout time.Duration
}

// LibraryRoutes creates and returns the router for the library service.
func LibraryRoutes(h *LibraryHandlers, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Range"},
		ExposedHeaders:   []string{"Content-Range", "Accept-Ranges", "Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// File bodies can take longer than any fixed deadline to stream, so the
	// timeout is applied per group rather than router-wide.
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	timeout := middleware.Timeout(requestTimeout)

	r.With(timeout).Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})
	if cfg.Gatherer != nil {
		r.With(timeout).Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	requireAuth := JWTAuthMiddleware(cfg.Auth)
	adminOnly := RequireRole(domain.RoleAdmin)
	limit := func(scope string, perMinute int) func(http.Handler) http.Handler {
		return RateLimitMiddleware(RateLimitConfig{
			Limiter: cfg.Limiter,
			Scope:   scope,
			Limit:   perMinute,
			Window:  time.Minute,
			Metrics: cfg.Metrics,
			Logger:  cfg.Logger,
		})
	}

	r.Route("/api/pdfs", func(r chi.Router) {
		// Public reads.
		r.Group(func(r chi.Router) {
			r.Use(OptionalAuthMiddleware(cfg.Auth))
			r.Get("/{id}", h.StreamDocumentHandler)
			r.Get("/{id}/cover", h.DocumentCoverHandler)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Get("/", h.ListDocumentsHandler)
				r.Get("/tags", h.ListTagsHandler)
				r.Get("/{id}/details", h.DocumentDetailsHandler)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth, timeout)
			r.Post("/upload", h.UploadDocumentHandler)
			r.Post("/{id}/favorite", h.ToggleFavoriteHandler)
			r.With(limit(app.RateLimitScopeDownload, cfg.DownloadLimitPerMinute)).Post("/{id}/download", h.DownloadDocumentHandler)
			r.With(adminOnly).Delete("/{id}", h.DeleteDocumentHandler)
		})
	})

	r.Route("/api/credits", func(r chi.Router) {
		r.Use(requireAuth, timeout)
		r.Get("/", h.CreditSummaryHandler)
		r.Post("/use", h.UseCreditsHandler)
		r.Get("/downloads", h.ListDownloadsHandler)
	})

	r.Route("/api/payments", func(r chi.Router) {
		r.Use(requireAuth, timeout)
		r.With(limit(app.RateLimitScopePaymentSubmit, cfg.PaymentSubmitLimitPerMinute)).Post("/submit", h.SubmitPaymentHandler)
		r.Get("/my-payments", h.MyPaymentsHandler)

		r.Group(func(r chi.Router) {
			r.Use(adminOnly)
			r.Get("/all", h.AllPaymentsHandler)
			r.Get("/pending", h.PendingPaymentsHandler)
			r.Patch("/{id}/status", h.UpdatePaymentStatusHandler)
		})
	})

	return r
}
