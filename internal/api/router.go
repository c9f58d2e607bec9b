package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RouterConfig carries the dependencies the router wires into handlers.
type RouterConfig struct {
	Log         zerolog.Logger
	Webhook     WebhookOptions
	Notifier    PRNotifier
	Bulk        BulkSender
	RedisClient *redis.Client // optional, readiness only
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers
// configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(DeliveryIDMiddleware(cfg.Log))
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(RecoverMiddleware(cfg.Log))
	r.Use(CORSMiddleware)

	// Health and metrics endpoints
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(cfg.RedisClient))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Webhook endpoint (authenticated by HMAC signature, not bearer auth)
	r.Post("/api/v1/webhooks/github", GitHubWebhookHandler(cfg.Webhook, cfg.Notifier))

	// Bulk send endpoint
	r.Post("/api/v1/bulk-send", BulkSendHandler(cfg.Bulk))

	return r
}
