package resolver

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/italolelis/seedbox_resolver/internal/fingerprint"
	"github.com/italolelis/seedbox_resolver/internal/logctx"
)

// Pending marks a resolution in flight. Done is closed when the holder
// releases it.
type Pending struct {
	Fingerprint fingerprint.Fingerprint
	CreatedAt   time.Time

	// lastSeen is guarded by the owning gate's mutex.
	lastSeen time.Time

	done chan struct{}
	once sync.Once
}

func (p *Pending) Done() <-chan struct{} {
	return p.done
}

func (p *Pending) close() {
	p.once.Do(func() { close(p.done) })
}

// Gate admits one triggering resolution per fingerprint.
type Gate interface {
	// TryAcquire registers a new entry and returns it with true, or returns
	// the entry already held with false. Check and insert are atomic.
	TryAcquire(fp fingerprint.Fingerprint) (*Pending, bool)
	// Wait blocks until p is released, limit elapses or ctx is done. It
	// reports whether p was released.
	Wait(ctx context.Context, p *Pending, limit time.Duration) bool
	// Touch tells the gate the holder of p is still working so p is not
	// taken for a leaked entry.
	Touch(p *Pending)
	Release(p *Pending)
}

// MemoryGate is a process-local Gate. Entries not touched for ttl are
// treated as leaked: the next acquirer replaces them and Sweep removes them.
type MemoryGate struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[fingerprint.Fingerprint]*Pending
	now     func() time.Time
}

var _ Gate = (*MemoryGate)(nil)

func NewMemoryGate(ttl time.Duration) *MemoryGate {
	return &MemoryGate{
		ttl:     ttl,
		entries: make(map[fingerprint.Fingerprint]*Pending),
		now:     time.Now,
	}
}

func (g *MemoryGate) TryAcquire(fp fingerprint.Fingerprint) (*Pending, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()

	if held, ok := g.entries[fp]; ok {
		if now.Sub(held.lastSeen) < g.ttl {
			return held, false
		}

		held.close()
	}

	p := &Pending{Fingerprint: fp, CreatedAt: now, lastSeen: now, done: make(chan struct{})}
	g.entries[fp] = p

	return p, true
}

func (g *MemoryGate) Wait(ctx context.Context, p *Pending, limit time.Duration) bool {
	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case <-p.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

func (g *MemoryGate) Touch(p *Pending) {
	if p == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.entries[p.Fingerprint] == p {
		p.lastSeen = g.now()
	}
}

// Release removes p if it is still the registered entry and wakes its
// waiters. Releasing twice is harmless.
func (g *MemoryGate) Release(p *Pending) {
	g.mu.Lock()
	if g.entries[p.Fingerprint] == p {
		delete(g.entries, p.Fingerprint)
	}
	g.mu.Unlock()

	p.close()
}

// Sweep removes entries not touched within the ttl and returns how many it
// removed.
func (g *MemoryGate) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0

	for fp, p := range g.entries {
		if now.Sub(p.lastSeen) >= g.ttl {
			delete(g.entries, fp)
			p.close()

			removed++
		}
	}

	return removed
}

// Len returns the number of held entries.
func (g *MemoryGate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.entries)
}

// Run sweeps leaked entries every interval until ctx is done.
func (g *MemoryGate) Run(ctx context.Context, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx).With("component", "admission_gate")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sweepSafely(ctx, logger)
		}
	}
}

func (g *MemoryGate) sweepSafely(ctx context.Context, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "gate sweep panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if n := g.Sweep(); n > 0 {
		logger.WarnContext(ctx, "swept leaked pending entries", "count", n)
	}
}
