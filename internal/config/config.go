package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	APIBaseURL     string        `envconfig:"API_BASE_URL" required:"true"`
	Platform       string        `envconfig:"PLATFORM" default:"android"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	Env            string        `envconfig:"ENV" default:"development"`

	DownloadDir    string `envconfig:"DOWNLOAD_DIR" required:"true"`
	DBPath         string `envconfig:"DB_PATH" default:"companion.db"`
	SecureStoreDir string `envconfig:"SECURE_STORE_DIR"`
	UserID         string `envconfig:"USER_ID" default:"anonymous"`
	AuthToken      string `envconfig:"AUTH_TOKEN"`

	CommentsCacheTTL time.Duration `envconfig:"COMMENTS_CACHE_TTL" default:"2m"`
	LibraryCacheTTL  time.Duration `envconfig:"LIBRARY_CACHE_TTL" default:"5m"`
	SyncInterval     time.Duration `envconfig:"SYNC_INTERVAL" default:"15m"`
	ViewLogWindow    time.Duration `envconfig:"VIEW_LOG_WINDOW" default:"1m"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"INFO"`
	NotifyWebhookURL string        `envconfig:"NOTIFY_WEBHOOK_URL"`
	PurgeMinAge      time.Duration `envconfig:"PURGE_MIN_AGE" default:"1h"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:9191"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"false"`
		ServiceName  string `split_words:"true" default:"content_companion"`
		OTLPEndpoint string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, errors.New("API_BASE_URL must not be empty")
	}

	if strings.TrimSpace(cfg.DownloadDir) == "" {
		return nil, errors.New("DOWNLOAD_DIR must not be empty")
	}

	return &cfg, nil
}

// IsProduction reports whether diagnostic payloads must be kept out of the logs.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
