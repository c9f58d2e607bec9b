package logger

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config mirrors config.LoggingConfig to avoid a circular import.
// Callers should populate this from config.LoggingConfig fields.
type Config struct {
	Level     string
	Output    string // stdout (default), file
	FilePath  string
	MaxSizeMB int
	MaxFiles  int
}

type contextKey string

const (
	loggerKey     contextKey = "logger"
	deliveryIDKey contextKey = "delivery_id"
)

// New creates a zerolog.Logger with the specified level and JSON output.
// If the level string is invalid, it defaults to info.
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(os.Stdout).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// NewFromConfig creates a zerolog.Logger from a Config, selecting the
// output writer based on cfg.Output: "file" writes to a rotating file via
// lumberjack, anything else writes to stdout.
func NewFromConfig(cfg Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var writer io.Writer
	switch cfg.Output {
	case "file":
		writer = NewFileWriter(FileConfig{
			Path:      cfg.FilePath,
			MaxSizeMB: cfg.MaxSizeMB,
			MaxFiles:  cfg.MaxFiles,
		})
	default:
		writer = os.Stdout
	}

	return zerolog.New(writer).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithDeliveryID stores a webhook delivery ID in the context. It doubles as
// the request correlation ID for everything downstream of the gateway.
func WithDeliveryID(ctx context.Context, deliveryID string) context.Context {
	return context.WithValue(ctx, deliveryIDKey, deliveryID)
}

// DeliveryIDFromContext retrieves the delivery ID from the context.
// Returns an empty string if not set.
func DeliveryIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(deliveryIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext retrieves the logger from the context. If a delivery ID is
// present, it is attached to the returned logger. If no logger is found
// in the context, a default info-level logger is returned.
func FromContext(ctx context.Context) zerolog.Logger {
	var log zerolog.Logger

	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		log = l
	} else {
		log = New("info")
	}

	if id := DeliveryIDFromContext(ctx); id != "" {
		log = log.With().Str("delivery_id", id).Logger()
	}

	return log
}

// NewDeliveryID generates a UUID-based delivery ID for requests that
// arrive without one.
func NewDeliveryID() string {
	return uuid.New().String()
}
