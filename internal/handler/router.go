package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flowbit-ai/chat-with-data/internal/middleware"
	"github.com/flowbit-ai/chat-with-data/internal/service"
	"github.com/flowbit-ai/chat-with-data/pkg/logger"
)

// RouterConfig holds HTTP surface settings.
type RouterConfig struct {
	// JWTSecret enables bearer auth on /api/v1 when set.
	JWTSecret         string
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Heartbeat         time.Duration
}

// Deps are the components served by the router.
type Deps struct {
	Chat      *service.ChatService
	Explainer *service.Explainer
	Upstream  Prober
	Logger    *logger.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg RouterConfig, deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logger.Global()
	}

	healthHandler := NewHealthHandler(deps.Chat, deps.Upstream)
	chatHandler := NewChatHandler(deps.Chat, deps.Explainer, deps.Logger)
	streamHandler := NewStreamHandler(deps.Chat, cfg.Heartbeat, deps.Logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(deps.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(middleware.Auth(cfg.JWTSecret))
		}

		r.Route("/chat", func(r chi.Router) {
			r.Get("/turns", chatHandler.Turns)
			r.Get("/state", chatHandler.State)
			r.Get("/context", chatHandler.Context)
			r.Get("/export", chatHandler.Export)
			r.Get("/stream", streamHandler.Stream)
			r.Delete("/", chatHandler.Clear)
			r.Delete("/inflight", chatHandler.Cancel)

			// Upstream and LLM calls
			r.Group(func(r chi.Router) {
				if cfg.RateLimitRequests > 0 {
					r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
				}
				r.Post("/questions", chatHandler.Ask)
				r.Post("/explain", chatHandler.Explain)
			})
		})

		r.Get("/debug/upstream", healthHandler.Upstream)
	})

	return r
}
