package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "seedr", cfg.Store)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, 30*time.Minute, cfg.Resolver.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.Resolver.GateWait)
	assert.Equal(t, 60*time.Second, cfg.Resolver.PendingTTL)
	assert.Equal(t, 100, cfg.Resolver.PollAttempts)
	assert.Equal(t, 3*time.Second, cfg.Resolver.PollInterval)
	assert.Equal(t, 20, cfg.Resolver.MatchPrefix)
	assert.Equal(t, "purge", cfg.Resolver.CapacityPolicy)
	assert.Equal(t, 5*time.Minute, cfg.Resolver.RecentAddTTL)
	assert.Equal(t, "0.0.0.0:7000", cfg.Web.BindAddress)
}

func TestLoadConfig_EnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("STORE=putio\nPUTIO_TOKEN=secret\nRESOLVER_POLL_ATTEMPTS=7\n"), 0o600))

	t.Setenv("ENV_FILE", envFile)
	t.Cleanup(func() {
		os.Unsetenv("STORE")
		os.Unsetenv("PUTIO_TOKEN")
		os.Unsetenv("RESOLVER_POLL_ATTEMPTS")
	})

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "putio", cfg.Store)
	assert.Equal(t, "secret", cfg.PutioToken)
	assert.Equal(t, 7, cfg.Resolver.PollAttempts)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{Store: "seedr", CacheBackend: "memory"}
		c.Resolver.CapacityPolicy = "purge"
		c.Resolver.PollAttempts = 1

		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "deluge" }, wantErr: "invalid store"},
		{name: "putio without token", mutate: func(c *Config) { c.Store = "putio" }, wantErr: "PUTIO_TOKEN"},
		{name: "redis without url", mutate: func(c *Config) { c.CacheBackend = "redis" }, wantErr: "REDIS_URL"},
		{name: "unknown cache", mutate: func(c *Config) { c.CacheBackend = "memcached" }, wantErr: "invalid cache backend"},
		{name: "unknown policy", mutate: func(c *Config) { c.Resolver.CapacityPolicy = "wipe" }, wantErr: "invalid capacity policy"},
		{name: "zero attempts", mutate: func(c *Config) { c.Resolver.PollAttempts = 0 }, wantErr: "POLL_ATTEMPTS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)

			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}

	for in, want := range tests {
		c := &Config{LogLevel: in}
		assert.Equal(t, want, c.SlogLevel(), in)
	}
}
