// Package rediscache implements resolver.ResultCache on Redis so several
// processes on one host can share resolved URLs.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/italolelis/seedbox_resolver/internal/fingerprint"
	"github.com/italolelis/seedbox_resolver/internal/logctx"
	"github.com/italolelis/seedbox_resolver/internal/resolver"
)

const keyPrefix = "seedbox_resolver:result:"

type entry struct {
	URL        string    `json:"url"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Cache stores results with SET EX so Redis expires them after the TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ resolver.ResultCache = (*Cache)(nil)

func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}

	return New(client, ttl), nil
}

func (c *Cache) Lookup(ctx context.Context, fp fingerprint.Fingerprint) (*resolver.CachedResult, bool) {
	raw, err := c.client.Get(ctx, keyPrefix+fp.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}

	if err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "result cache lookup failed", "err", err)

		return nil, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "dropping undecodable cache entry", "err", err)
		c.Invalidate(ctx, fp)

		return nil, false
	}

	return &resolver.CachedResult{Fingerprint: fp, URL: e.URL, ResolvedAt: e.ResolvedAt}, true
}

func (c *Cache) Store(ctx context.Context, fp fingerprint.Fingerprint, url string) {
	raw, err := json.Marshal(entry{URL: url, ResolvedAt: time.Now().UTC()})
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, keyPrefix+fp.String(), raw, c.ttl).Err(); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "result cache store failed", "err", err)
	}
}

func (c *Cache) Invalidate(ctx context.Context, fp fingerprint.Fingerprint) {
	if err := c.client.Del(ctx, keyPrefix+fp.String()).Err(); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "result cache invalidate failed", "err", err)
	}
}

func (c *Cache) Close() error {
	return c.client.Close()
}
