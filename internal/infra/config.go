package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	ProviderBaseURL        string
	ProviderAPIKey         string
	ProviderConnectTimeout time.Duration
	ProviderReadTimeout    time.Duration

	PollInterval   time.Duration
	FirstPollDelay time.Duration
	StuckTimeout   time.Duration

	WebhookToken     string
	WebhookPublicURL string
	ForceSync        bool

	WorkerConcurrency  int
	ReconcileBatchSize int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	CORSAllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		ProviderBaseURL:        os.Getenv("PROVIDER_BASE_URL"),
		ProviderAPIKey:         os.Getenv("PROVIDER_API_KEY"),
		ProviderConnectTimeout: time.Second * time.Duration(getEnvInt("PROVIDER_CONNECT_TIMEOUT_SECONDS", 5)),
		ProviderReadTimeout:    time.Second * time.Duration(getEnvInt("PROVIDER_READ_TIMEOUT_SECONDS", 30)),

		PollInterval:   time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 10)),
		FirstPollDelay: time.Second * time.Duration(getEnvInt("FIRST_POLL_DELAY_SECONDS", 15)),
		StuckTimeout:   time.Second * time.Duration(getEnvInt("STUCK_TIMEOUT_SECONDS", 900)),

		WebhookToken:     os.Getenv("WEBHOOK_TOKEN"),
		WebhookPublicURL: os.Getenv("WEBHOOK_PUBLIC_URL"),
		ForceSync:        getEnvBool("FORCE_SYNC_MODE", false),

		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 4),
		ReconcileBatchSize: getEnvInt("RECONCILE_BATCH_SIZE", 20),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),

		CORSAllowedOrigins: splitEnvList("CORS_ALLOWED_ORIGINS"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.ProviderBaseURL == "" {
		return nil, fmt.Errorf("PROVIDER_BASE_URL is required")
	}

	if cfg.StuckTimeout <= cfg.FirstPollDelay {
		return nil, fmt.Errorf("STUCK_TIMEOUT_SECONDS must exceed FIRST_POLL_DELAY_SECONDS")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitEnvList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
