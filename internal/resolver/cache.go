package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/italolelis/seedbox_resolver/internal/fingerprint"
)

// CachedResult is a resolved URL. Entries are replaced, never updated.
type CachedResult struct {
	Fingerprint fingerprint.Fingerprint
	URL         string
	ResolvedAt  time.Time
}

// ResultCache maps fingerprints to resolved URLs for a fixed TTL.
// Implementations must be safe for concurrent use; racing stores are
// last-write-wins. Backend failures read as misses.
type ResultCache interface {
	Lookup(ctx context.Context, fp fingerprint.Fingerprint) (*CachedResult, bool)
	Store(ctx context.Context, fp fingerprint.Fingerprint, url string)
	Invalidate(ctx context.Context, fp fingerprint.Fingerprint)
}

// MemoryCache is a process-local ResultCache. Stale entries are evicted
// lazily on lookup.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[fingerprint.Fingerprint]CachedResult
	now     func() time.Time
}

var _ ResultCache = (*MemoryCache)(nil)

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[fingerprint.Fingerprint]CachedResult),
		now:     time.Now,
	}
}

func (c *MemoryCache) Lookup(_ context.Context, fp fingerprint.Fingerprint) (*CachedResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[fp]
	if !ok {
		return nil, false
	}

	if c.now().Sub(entry.ResolvedAt) >= c.ttl {
		delete(c.entries, fp)

		return nil, false
	}

	return &entry, true
}

func (c *MemoryCache) Store(_ context.Context, fp fingerprint.Fingerprint, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[fp] = CachedResult{Fingerprint: fp, URL: url, ResolvedAt: c.now()}
}

func (c *MemoryCache) Invalidate(_ context.Context, fp fingerprint.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, fp)
}

// Len returns the number of entries, stale ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
