package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Store string `envconfig:"STORE" default:"seedr"`

	SeedrToken    string `envconfig:"SEEDR_TOKEN"`
	SeedrBaseURL  string `envconfig:"SEEDR_BASE_URL" default:"https://www.seedr.cc"`
	SeedrClientID string `envconfig:"SEEDR_CLIENT_ID" default:"seedr_xbmc"`

	PutioToken  string `envconfig:"PUTIO_TOKEN"`
	PutioFolder string `envconfig:"PUTIO_FOLDER"`

	CacheBackend string `envconfig:"CACHE_BACKEND" default:"memory"`
	RedisURL     string `envconfig:"REDIS_URL"`

	Resolver struct {
		CacheTTL       time.Duration `split_words:"true" default:"30m"`
		GateWait       time.Duration `split_words:"true" default:"30s"`
		PendingTTL     time.Duration `split_words:"true" default:"60s"`
		PollAttempts   int           `split_words:"true" default:"100"`
		PollInterval   time.Duration `split_words:"true" default:"3s"`
		MatchPrefix    int           `split_words:"true" default:"20"`
		CapacityPolicy string        `split_words:"true" default:"purge"`
		EvictCount     int           `split_words:"true" default:"1"`
		RecentAddTTL   time.Duration `split_words:"true" default:"5m"`
	}

	DBPath            string        `envconfig:"DB_PATH" default:"resolutions.db"`
	KeepResolvedFor   time.Duration `envconfig:"KEEP_RESOLVED_FOR" default:"0"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"seedbox_resolver"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Auth struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:7000"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"6m"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig loads the optional env file named by ENV_FILE (default .env) and
// then reads environment variables into the Config struct.
func LoadConfig() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading env file %s: %w", envFile, err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	switch c.Store {
	case "seedr":
	case "putio":
		if c.PutioToken == "" {
			return errors.New("PUTIO_TOKEN is required when STORE=putio")
		}
	default:
		return fmt.Errorf("invalid store: %s", c.Store)
	}

	switch c.CacheBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when CACHE_BACKEND=redis")
		}
	default:
		return fmt.Errorf("invalid cache backend: %s", c.CacheBackend)
	}

	switch c.Resolver.CapacityPolicy {
	case "purge", "oldest", "none":
	default:
		return fmt.Errorf("invalid capacity policy: %s", c.Resolver.CapacityPolicy)
	}

	if c.Resolver.PollAttempts < 1 {
		return errors.New("RESOLVER_POLL_ATTEMPTS must be at least 1")
	}

	return nil
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
