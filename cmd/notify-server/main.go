package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sungwon/devops-notify/internal/api"
	"github.com/sungwon/devops-notify/internal/config"
	"github.com/sungwon/devops-notify/internal/delivery"
	"github.com/sungwon/devops-notify/internal/github"
	"github.com/sungwon/devops-notify/internal/gmail"
	"github.com/sungwon/devops-notify/internal/logger"
	"github.com/sungwon/devops-notify/internal/quota"
	"github.com/sungwon/devops-notify/internal/template"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	log.Info().Msg("starting notify server")

	if cfg.Webhook.InsecureSkipVerify {
		log.Warn().Msg("webhook signature verification is DISABLED (webhook.insecure_skip_verify); do not run this in production")
	}

	// Gmail credential broker; fails fast on an unparsable key.
	gmailHTTP := gmail.NewHTTPClient(cfg.Gmail.Timeout)
	broker, err := gmail.NewTokenBroker(gmail.ServiceAccount{
		Email:         cfg.Gmail.ServiceAccountEmail,
		PrivateKeyPEM: cfg.Gmail.PrivateKeyPEM,
		Subject:       cfg.Gmail.SenderEmail,
	}, cfg.Gmail.TokenURL, gmailHTTP, log)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid service account key")
	}

	gmailClient := gmail.NewClient(cfg.Gmail.Endpoint, gmailHTTP, broker)
	composer := gmail.NewComposer()

	// Template API client
	templateHTTP := gmail.NewHTTPClient(cfg.Template.Timeout)
	templates := template.NewClient(cfg.Template.PRNotificationURL, cfg.Template.SalesURL, templateHTTP)

	// Optional Redis-backed monthly send quota
	var redisClient *redis.Client
	if cfg.Quota.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Quota.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid quota redis url")
		}
		redisClient = redis.NewClient(opts)
		log.Info().Int("monthly_limit", cfg.Quota.MonthlyLimit).Msg("send quota enabled")
	}
	limiter := quota.NewLimiter(redisClient, quota.Config{MonthlyLimit: cfg.Quota.MonthlyLimit})

	// Pipelines
	notifier := delivery.NewService(
		templates,
		composer,
		gmailClient,
		cfg.Gmail.SenderName,
		cfg.Gmail.SenderEmail,
		cfg.Webhook.Recipients,
		log,
	)
	bulk := delivery.NewBulk(
		templates,
		composer,
		gmailClient,
		limiter,
		delivery.BulkConfig{
			SendDelay:    cfg.Bulk.SendDelay,
			MaxBatchSize: cfg.Bulk.MaxBatchSize,
			SenderNames:  cfg.Bulk.SenderNames,
		},
		log,
	)

	// Router
	router := api.NewRouter(api.RouterConfig{
		Log: log,
		Webhook: api.WebhookOptions{
			Secret:             cfg.Webhook.Secret,
			InsecureSkipVerify: cfg.Webhook.InsecureSkipVerify,
			Filter:             &github.Filter{AllowedBranches: cfg.Webhook.AllowedBranches},
		},
		Notifier:    notifier,
		Bulk:        bulk,
		RedisClient: redisClient,
	})

	// Configure HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("notify server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down server")

	// Graceful shutdown with 30-second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	if redisClient != nil {
		redisClient.Close()
	}

	log.Info().Msg("server stopped")
}
