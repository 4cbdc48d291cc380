package api

import (
	"net/http"

	"github.com/Rrens/postbot/internal/api/handler"
	customMiddleware "github.com/Rrens/postbot/internal/api/middleware"
	"github.com/Rrens/postbot/internal/config"
	"github.com/Rrens/postbot/internal/llm"
	"github.com/Rrens/postbot/internal/security"
	"github.com/Rrens/postbot/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps are the components the HTTP API exposes
type Deps struct {
	Registry   *service.Registry
	Maintainer *service.Maintainer
	LLM        *llm.Router
	JWT        *security.JWTManager
	// Webhook is nil when the bot polls for updates.
	Webhook handler.UpdateQueue
	// Cache is nil when redis is disabled.
	Cache handler.CacheFlusher
	// Ready lists dependencies checked by /ready.
	Ready map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", handler.HealthCheck)
	r.Get("/ready", handler.ReadyCheck(deps.Ready))

	if deps.Webhook != nil {
		webhookHandler := handler.NewWebhookHandler(cfg.Telegram.WebhookSecret, deps.Webhook)
		r.Post("/telegram/webhook/{secret}", webhookHandler.Receive)
	}

	adminHandler := handler.NewAdminHandler(deps.Registry, deps.Maintainer, deps.Cache)
	authMiddleware := customMiddleware.NewAuthMiddleware(deps.JWT)

	r.Route("/api/v1/admin", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Get("/llm-providers", handler.ListLLMProviders(deps.LLM))
		r.Post("/cleanup", adminHandler.Cleanup)
		r.Post("/backup", adminHandler.Backup)
		r.Post("/cache/flush", adminHandler.FlushCache)

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/stats", adminHandler.Stats)
			r.Get("/sessions", adminHandler.Sessions)
			r.Delete("/sessions/{seriesID}", adminHandler.DeleteSession)
			r.Get("/tree", adminHandler.Tree)
		})
	})

	return r
}
