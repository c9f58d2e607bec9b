package api

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// HealthzHandler reports process liveness.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler reports readiness. The only stateful dependency is the
// optional quota Redis; when it is configured but unreachable the service
// still serves single-webhook traffic, so that is reported as degraded
// rather than not-ready.
func ReadyzHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				status = "degraded"
			}
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": status})
	}
}
