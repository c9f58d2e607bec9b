package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration. It is built once at startup
// and passed by reference into each component; nothing reads the environment
// after Load returns.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Gmail    GmailConfig    `mapstructure:"gmail"`
	Template TemplateConfig `mapstructure:"template"`
	Bulk     BulkConfig     `mapstructure:"bulk"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// APIConfig holds HTTP server configuration.
type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// WebhookConfig holds inbound GitHub webhook configuration.
type WebhookConfig struct {
	// Secret is the shared secret for X-Hub-Signature-256 verification.
	Secret string `mapstructure:"secret"`
	// InsecureSkipVerify accepts unsigned webhooks. It must be opted into
	// explicitly; an empty Secret alone is a configuration error.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
	// AllowedBranches lists base branches whose merged PRs trigger mail.
	AllowedBranches []string `mapstructure:"allowed_branches"`
	// Recipients is the DevOps distribution list for PR notifications.
	Recipients []string `mapstructure:"recipients"`
}

// GmailConfig holds the service account identity used for domain-wide
// delegation and the Gmail API endpoints.
type GmailConfig struct {
	// ServiceAccountEmail is the JWT assertion issuer.
	ServiceAccountEmail string `mapstructure:"service_account_email"`
	// PrivateKeyPEM is the service account signing key. Escaped newlines
	// (literal \n) are normalized by Validate, as keys passed through
	// environment variables usually arrive that way.
	PrivateKeyPEM string `mapstructure:"private_key_pem"`
	// SenderEmail is the mailbox to impersonate (the assertion subject).
	SenderEmail string `mapstructure:"sender_email"`
	// SenderName is the display name used in the From header.
	SenderName string `mapstructure:"sender_name"`
	// TokenURL overrides the OAuth2 token endpoint (useful for testing).
	TokenURL string `mapstructure:"token_url"`
	// Endpoint overrides the Gmail API base URL (useful for testing).
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TemplateConfig holds the external template-render API configuration.
type TemplateConfig struct {
	PRNotificationURL string        `mapstructure:"pr_notification_url"`
	SalesURL          string        `mapstructure:"sales_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// BulkConfig holds bulk-send pacing configuration.
type BulkConfig struct {
	// SendDelay is the pause between consecutive sends. It is the rate
	// limit compliance strategy, not an optimization target.
	SendDelay time.Duration `mapstructure:"send_delay"`
	// MaxBatchSize caps the number of valid recipients per request.
	MaxBatchSize int `mapstructure:"max_batch_size"`
	// SenderNames maps sender addresses to display names. Addresses not
	// in the map fall back to local-part inference.
	SenderNames map[string]string `mapstructure:"sender_names"`
}

// QuotaConfig holds the optional Redis-backed monthly send quota.
type QuotaConfig struct {
	RedisURL     string `mapstructure:"redis_url"`
	MonthlyLimit int    `mapstructure:"monthly_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"` // stdout (default), file
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

const (
	defaultTimeout      = 30 * time.Second
	defaultSendDelay    = 200 * time.Millisecond
	defaultMaxBatchSize = 100
	defaultTokenURL     = "https://oauth2.googleapis.com/token"
	defaultEndpoint     = "https://gmail.googleapis.com"
)

// Load reads configuration from the given config directory path.
// It looks for a file named "config.yaml" in that directory.
// Environment variables with prefix DEVOPS_NOTIFY_ override file values.
// For example, DEVOPS_NOTIFY_WEBHOOK_SECRET overrides webhook.secret.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("DEVOPS_NOTIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks required fields, applies defaults, and normalizes the
// private key. Missing secrets fail here, at startup, rather than degrading
// a security check at request time.
func (c *Config) Validate() error {
	if c.Gmail.ServiceAccountEmail == "" {
		return errors.New("gmail: service_account_email is required")
	}
	if c.Gmail.PrivateKeyPEM == "" {
		return errors.New("gmail: private_key_pem is required")
	}
	if c.Gmail.SenderEmail == "" {
		return errors.New("gmail: sender_email is required")
	}
	if c.Webhook.Secret == "" && !c.Webhook.InsecureSkipVerify {
		return errors.New("webhook: secret is required (or set insecure_skip_verify to accept unsigned webhooks)")
	}
	if len(c.Webhook.Recipients) == 0 {
		return errors.New("webhook: at least one recipient is required")
	}

	// Keys delivered via env vars carry literal \n sequences.
	c.Gmail.PrivateKeyPEM = strings.ReplaceAll(c.Gmail.PrivateKeyPEM, `\n`, "\n")

	if len(c.Webhook.AllowedBranches) == 0 {
		c.Webhook.AllowedBranches = []string{"main", "master"}
	}
	if c.Gmail.TokenURL == "" {
		c.Gmail.TokenURL = defaultTokenURL
	}
	if c.Gmail.Endpoint == "" {
		c.Gmail.Endpoint = defaultEndpoint
	}
	if c.Gmail.Timeout == 0 {
		c.Gmail.Timeout = defaultTimeout
	}
	if c.Template.Timeout == 0 {
		c.Template.Timeout = defaultTimeout
	}
	if c.Bulk.SendDelay == 0 {
		c.Bulk.SendDelay = defaultSendDelay
	}
	if c.Bulk.MaxBatchSize == 0 {
		c.Bulk.MaxBatchSize = defaultMaxBatchSize
	}

	return nil
}
