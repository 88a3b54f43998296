package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/seedbox_resolver/internal/logctx"
	"github.com/italolelis/seedbox_resolver/internal/store"
	"github.com/italolelis/seedbox_resolver/internal/telemetry"
)

// ErrRecoveryDisabled is returned by NoopPolicy.
var ErrRecoveryDisabled = errors.New("capacity recovery disabled")

// CapacityPolicy reclaims space on the store after it reported capacity
// exhaustion. It returns how many items it removed.
type CapacityPolicy interface {
	Name() string
	Reclaim(ctx context.Context, s store.Store) (int, error)
}

// PurgePolicy deletes every folder, file and transfer on the store. It
// loses data.
type PurgePolicy struct{}

func (PurgePolicy) Name() string { return "purge" }

func (PurgePolicy) Reclaim(ctx context.Context, s store.Store) (int, error) {
	return s.PurgeAll(ctx)
}

// OldestPolicy deletes the Count least recently updated root folders.
type OldestPolicy struct {
	Count int
}

func (OldestPolicy) Name() string { return "oldest" }

func (p OldestPolicy) Reclaim(ctx context.Context, s store.Store) (int, error) {
	root, err := s.ListFolder(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("failed to list root folder: %w", err)
	}

	folders := append([]*store.Folder(nil), root.Folders...)
	sort.SliceStable(folders, func(i, j int) bool {
		return folders[i].UpdatedAt.Before(folders[j].UpdatedAt)
	})

	n := min(max(p.Count, 1), len(folders))
	if n == 0 {
		return 0, nil
	}

	items := make([]store.Item, 0, n)
	for _, f := range folders[:n] {
		items = append(items, store.Item{Kind: store.KindFolder, ID: f.ID})
	}

	if err := s.Delete(ctx, items...); err != nil {
		return 0, fmt.Errorf("failed to delete oldest folders: %w", err)
	}

	return n, nil
}

// NoopPolicy never reclaims; the first exhaustion is final.
type NoopPolicy struct{}

func (NoopPolicy) Name() string { return "none" }

func (NoopPolicy) Reclaim(context.Context, store.Store) (int, error) {
	return 0, ErrRecoveryDisabled
}

// PolicyByName returns the policy configured as name.
func PolicyByName(name string, evictCount int) (CapacityPolicy, error) {
	switch name {
	case "purge":
		return PurgePolicy{}, nil
	case "oldest":
		return OldestPolicy{Count: evictCount}, nil
	case "none":
		return NoopPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown capacity policy %q", name)
	}
}

// Notifier announces destructive recoveries and exhaustion.
type Notifier interface {
	Notify(ctx context.Context, content string) error
}

// Recoverer adds references to the store and handles capacity exhaustion:
// it removes the wishlist entry the store created, reclaims space once and
// retries the add exactly once.
type Recoverer struct {
	store     store.Store
	policy    CapacityPolicy
	notifier  Notifier
	telemetry *telemetry.Telemetry

	// Reclaim and retry run one at a time. reclaims counts finished
	// reclaims so a request that was exhausted before another request's
	// reclaim retries into the freed space instead of reclaiming again.
	mu       sync.Mutex
	reclaims atomic.Uint64
}

type RecovererOption func(*Recoverer)

func WithNotifier(n Notifier) RecovererOption {
	return func(r *Recoverer) { r.notifier = n }
}

func WithRecoveryTelemetry(t *telemetry.Telemetry) RecovererOption {
	return func(r *Recoverer) { r.telemetry = t }
}

func NewRecoverer(s store.Store, policy CapacityPolicy, opts ...RecovererOption) *Recoverer {
	if policy == nil {
		policy = NoopPolicy{}
	}

	r := &Recoverer{store: s, policy: policy}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// AddWithRecovery adds ref. A second exhaustion, or one under a disabled
// policy, is a KindStorageExhausted error. Store errors are returned as is.
// Each call reclaims at most once; when another call reclaimed space after
// this one's first add, the add is retried before reclaiming.
func (r *Recoverer) AddWithRecovery(ctx context.Context, ref store.Reference) (*store.AddResult, error) {
	logger := logctx.LoggerFromContext(ctx)

	generation := r.reclaims.Load()

	res, err := r.store.AddByReference(ctx, ref)
	if err != nil {
		return nil, err
	}

	if !res.CapacityExhausted {
		return res, nil
	}

	logger.WarnContext(ctx, "store capacity exhausted", "code", res.Code, "policy", r.policy.Name())
	r.removeWishlist(ctx, res)

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another request reclaimed space while this one waited for the lock.
	if r.reclaims.Load() != generation {
		logger.InfoContext(ctx, "capacity reclaimed by a concurrent resolution, retrying add")

		res, err = r.store.AddByReference(ctx, ref)
		if err != nil {
			return nil, err
		}

		if !res.CapacityExhausted {
			r.telemetry.RecordCapacityRecovery(r.policy.Name(), "shared")

			return res, nil
		}

		r.removeWishlist(ctx, res)
	}

	deleted, err := r.policy.Reclaim(ctx, r.store)
	if errors.Is(err, ErrRecoveryDisabled) {
		r.telemetry.RecordCapacityRecovery(r.policy.Name(), "disabled")
		r.notify(ctx, fmt.Sprintf("Storage exhausted (%s) and recovery is disabled", res.Code))

		return nil, &Error{Kind: KindStorageExhausted, Message: "store is full (" + res.Code + ")"}
	}

	if err != nil {
		r.telemetry.RecordCapacityRecovery(r.policy.Name(), "error")

		return nil, &Error{Kind: KindStorageExhausted, Message: "failed to reclaim space", Err: err}
	}

	r.reclaims.Add(1)

	logger.WarnContext(ctx, "reclaimed store capacity", "policy", r.policy.Name(), "deleted", deleted)
	r.notify(ctx, fmt.Sprintf("Storage full: removed %s item(s) with the %s policy", humanize.Comma(int64(deleted)), r.policy.Name()))

	res, err = r.store.AddByReference(ctx, ref)
	if err != nil {
		r.telemetry.RecordCapacityRecovery(r.policy.Name(), "error")

		return nil, err
	}

	if res.CapacityExhausted {
		r.removeWishlist(ctx, res)
		r.telemetry.RecordCapacityRecovery(r.policy.Name(), "exhausted")
		r.notify(ctx, fmt.Sprintf("Storage still exhausted (%s) after recovery", res.Code))

		return nil, &Error{Kind: KindStorageExhausted, Message: "store is still full after recovery (" + res.Code + ")"}
	}

	r.telemetry.RecordCapacityRecovery(r.policy.Name(), "recovered")

	return res, nil
}

func (r *Recoverer) removeWishlist(ctx context.Context, res *store.AddResult) {
	if res.WishlistID == "" {
		return
	}

	if err := r.store.RemoveFromWishlist(ctx, res.WishlistID); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to remove wishlist entry",
			"wishlist_id", res.WishlistID, "err", err)
	}
}

func (r *Recoverer) notify(ctx context.Context, content string) {
	if r.notifier == nil {
		return
	}

	if err := r.notifier.Notify(ctx, content); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to send notification", "err", err)
	}
}
