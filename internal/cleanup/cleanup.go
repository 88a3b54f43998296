// Package cleanup reclaims remote store space held by resolutions older
// than the retention period.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/italolelis/seedbox_resolver/internal/fingerprint"
	"github.com/italolelis/seedbox_resolver/internal/logctx"
	"github.com/italolelis/seedbox_resolver/internal/storage"
	"github.com/italolelis/seedbox_resolver/internal/store"
	"github.com/italolelis/seedbox_resolver/internal/telemetry"
)

const (
	defaultBatchSize   = 100
	defaultConcurrency = 4
)

// Invalidator drops cached results of deleted content.
type Invalidator interface {
	Invalidate(ctx context.Context, fp fingerprint.Fingerprint)
}

type Sweeper struct {
	repo      storage.ResolutionRepository
	store     store.Store
	cache     Invalidator
	keep      time.Duration
	telemetry *telemetry.Telemetry
	now       func() time.Time
}

func NewSweeper(repo storage.ResolutionRepository, s store.Store, cache Invalidator, keep time.Duration, tel *telemetry.Telemetry) *Sweeper {
	return &Sweeper{
		repo:      repo,
		store:     s,
		cache:     cache,
		keep:      keep,
		telemetry: tel,
		now:       time.Now,
	}
}

// DeleteExpired deletes the root items of resolutions older than the
// retention period, marks them deleted and invalidates their cached
// results. Records sharing a root item trigger one delete. It returns how
// many resolutions were reclaimed; failures are joined into the error and
// retried on the next sweep.
func (s *Sweeper) DeleteExpired(ctx context.Context) (int, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := s.now()

	records, err := s.repo.GetExpiredResolutions(ctx, now.Add(-s.keep), defaultBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired resolutions: %w", err)
	}

	if len(records) == 0 {
		return 0, nil
	}

	// Group records by the root item holding their content
	byRoot := make(map[store.Item][]storage.Resolution)
	for _, rec := range records {
		item := store.Item{Kind: store.ItemKind(rec.RootKind), ID: rec.RootID}
		byRoot[item] = append(byRoot[item], rec)
	}

	var (
		mu       sync.Mutex
		errs     []error
		reclaims int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultConcurrency)

	for item, recs := range byRoot {
		g.Go(func() error {
			if item.ID != "" {
				if err := s.store.Delete(gctx, item); err != nil {
					logger.ErrorContext(gctx, "failed to delete expired content", "kind", item.Kind, "id", item.ID, "err", err)

					mu.Lock()
					errs = append(errs, fmt.Errorf("delete %s %s: %w", item.Kind, item.ID, err))
					mu.Unlock()

					return nil
				}
			}

			// Content is gone, record it and drop the cached links
			for _, rec := range recs {
				if err := s.repo.MarkDeleted(gctx, rec.Fingerprint, now); err != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("mark %s deleted: %w", rec.Fingerprint, err))
					mu.Unlock()

					continue
				}

				s.cache.Invalidate(gctx, fingerprint.Fingerprint(rec.Fingerprint))

				logger.InfoContext(gctx, "deleted expired content", "fingerprint", rec.Fingerprint,
					"name", rec.Name, "resolved_at", rec.ResolvedAt)

				mu.Lock()
				reclaims++
				mu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()

	err = errors.Join(errs...)

	s.telemetry.RecordCleanup("deleted", reclaims)
	s.telemetry.RecordCleanup("failed", len(errs))

	return reclaims, err
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx).With("component", "cleanup")
	ctx = logctx.WithLogger(ctx, logger)

	logger.InfoContext(ctx, "retention sweeper started", "keep_for", s.keep, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "retention sweeper stopped")

			return
		case <-ticker.C:
			s.sweepSafely(ctx)
		}
	}
}

func (s *Sweeper) sweepSafely(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "retention sweep panic", "panic", r, "stack", string(debug.Stack()))
			s.telemetry.RecordSystemError("cleanup", "panic")
		}
	}()

	n, err := s.DeleteExpired(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "retention sweep finished with errors", "deleted", n, "err", err)

		return
	}

	if n > 0 {
		logger.InfoContext(ctx, "retention sweep finished", "deleted", n)
	}
}
