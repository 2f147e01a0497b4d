package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/chat-orchestrator/internal/middleware"
	"github.com/capitalize-ai/chat-orchestrator/internal/service"
	"github.com/capitalize-ai/chat-orchestrator/pkg/logger"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Service *service.ChatService
	Logger  *logger.Logger

	// Events is checked by /ready; nil means publishing is disabled.
	Events Pinger

	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	SubmitRateLimit   int
	Heartbeat         time.Duration
}

// NewRouter builds the API router.
func NewRouter(cfg RouterConfig) http.Handler {
	healthHandler := NewHealthHandler(cfg.Events)
	sessionHandler := NewSessionHandler(cfg.Service, cfg.Logger)
	modelsHandler := NewModelsHandler(cfg.Service)
	streamHandler := NewStreamHandler(cfg.Service, cfg.Logger, cfg.Heartbeat)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Get("/models", modelsHandler.List)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", sessionHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", sessionHandler.Get)
				r.Delete("/", sessionHandler.Delete)
				r.Post("/reset", sessionHandler.Reset)
				r.Get("/history", sessionHandler.History)
				r.Get("/suggestions", sessionHandler.Suggestions)
				r.Get("/stream", streamHandler.Stream)

				r.Post("/stop", sessionHandler.StopAll)
				r.Post("/messages/{messageID}/stop", sessionHandler.Stop)
				if cfg.SubmitRateLimit > 0 {
					r.With(middleware.SessionRateLimit(cfg.SubmitRateLimit, cfg.RateLimitWindow)).
						Post("/messages", sessionHandler.Submit)
				} else {
					r.Post("/messages", sessionHandler.Submit)
				}
			})
		})
	})

	return r
}
