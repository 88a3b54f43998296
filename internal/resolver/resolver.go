// Package resolver turns a content fingerprint into a playable URL on the
// remote store: it admits one triggering resolution per fingerprint, adds
// the content if the store does not already hold it, polls for completion
// and caches the result.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"github.com/italolelis/seedbox_resolver/internal/fingerprint"
	"github.com/italolelis/seedbox_resolver/internal/logctx"
	"github.com/italolelis/seedbox_resolver/internal/storage"
	"github.com/italolelis/seedbox_resolver/internal/store"
	"github.com/italolelis/seedbox_resolver/internal/telemetry"
)

const playableKey = "playable"

type Status string

const (
	StatusReady   Status = "ready"
	StatusPending Status = "pending"
)

// Request asks for a fingerprint to be resolved. MetaInfo, when set, is
// a .torrent file added instead of a magnet built from Trackers.
type Request struct {
	Fingerprint string
	DisplayName string
	Trackers    []string
	MetaInfo    []byte
}

// Result is either a ready URL or a pending status the caller should retry.
type Result struct {
	Fingerprint string
	Status      Status
	URL         string
	Name        string
	Size        int64
	Progress    float64
	Attempts    int
	Cached      bool
}

type Config struct {
	GateWait     time.Duration
	PollAttempts int
	PollInterval time.Duration
	MatchPrefix  int
	// RecentAddTTL suppresses a second add of the same fingerprint while the
	// store may not list the first one yet.
	RecentAddTTL time.Duration
}

// Ledger records successful resolutions.
type Ledger interface {
	SaveResolution(ctx context.Context, r *storage.Resolution) error
}

type Resolver struct {
	store     store.Store
	cache     ResultCache
	gate      Gate
	recoverer *Recoverer
	ledger    Ledger
	telemetry *telemetry.Telemetry
	cfg       Config

	listings singleflight.Group

	recentMu sync.Mutex
	recent   map[fingerprint.Fingerprint]time.Time
	now      func() time.Time
}

type Option func(*Resolver)

func WithLedger(l Ledger) Option {
	return func(r *Resolver) { r.ledger = l }
}

func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(r *Resolver) { r.telemetry = t }
}

func New(s store.Store, cache ResultCache, gate Gate, recoverer *Recoverer, cfg Config, opts ...Option) *Resolver {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 1
	}

	r := &Resolver{
		store:     s,
		cache:     cache,
		gate:      gate,
		recoverer: recoverer,
		cfg:       cfg,
		recent:    make(map[fingerprint.Fingerprint]time.Time),
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Resolve returns a ready URL, a pending result or an *Error. The remote
// work runs on a context detached from ctx: if the caller goes away the
// resolution carries on in the background and still releases its gate.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	res, err := r.resolve(ctx, req)

	outcome := "error_" + KindOf(err).String()
	if err == nil {
		outcome = string(res.Status)
		if res.Cached {
			outcome = "cached"
		}
	}

	r.telemetry.RecordResolution(outcome, time.Since(start))

	return res, err
}

func (r *Resolver) resolve(ctx context.Context, req Request) (*Result, error) {
	fp, err := fingerprint.Normalize(req.Fingerprint)
	if err != nil {
		return nil, &Error{Kind: KindInvalidFingerprint, Fingerprint: req.Fingerprint, Message: "invalid fingerprint", Err: err}
	}

	ctx, logger := logctx.With(ctx, "fingerprint", fp.String())

	ref, name, err := r.reference(fp, req)
	if err != nil {
		return nil, err
	}

	if cached, ok := r.cache.Lookup(ctx, fp); ok {
		r.telemetry.RecordCacheLookup("hit")
		logger.DebugContext(ctx, "result cache hit")

		return &Result{Fingerprint: fp.String(), Status: StatusReady, URL: cached.URL, Name: name, Cached: true}, nil
	}

	r.telemetry.RecordCacheLookup("miss")

	type outcome struct {
		res *Result
		err error
	}

	done := make(chan outcome, 1)
	work := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				logger.ErrorContext(work, "resolution panic", "panic", p, "stack", string(debug.Stack()))
				r.telemetry.RecordSystemError("resolver", "panic")

				done <- outcome{err: &Error{Kind: KindInternal, Fingerprint: fp.String(), Message: fmt.Sprint(p)}}
			}
		}()

		var o outcome

		o.err = r.telemetry.InstrumentResolution(work, func(ctx context.Context) error {
			var err error

			o.res, err = r.run(ctx, fp, name, ref)

			return err
		})

		done <- o
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		logger.InfoContext(ctx, "caller left, resolution continues in the background")

		return nil, &Error{Kind: KindTransient, Fingerprint: fp.String(), Message: "resolution continues in the background", Err: ctx.Err()}
	}
}

// reference builds what gets handed to the store and the name used for
// matching.
func (r *Resolver) reference(fp fingerprint.Fingerprint, req Request) (store.Reference, string, error) {
	name := req.DisplayName

	if len(req.MetaInfo) > 0 {
		blobFP, infoName, err := fingerprint.FromMetaInfo(req.MetaInfo)
		if err != nil {
			return store.Reference{}, "", &Error{Kind: KindInvalidFingerprint, Fingerprint: fp.String(), Message: "invalid metainfo", Err: err}
		}

		if blobFP != fp {
			return store.Reference{}, "", &Error{
				Kind:        KindInvalidFingerprint,
				Fingerprint: fp.String(),
				Message:     fmt.Sprintf("metainfo hash %s does not match", blobFP),
			}
		}

		if name == "" {
			name = infoName
		}

		return store.Reference{Blob: req.MetaInfo, Filename: fp.String() + ".torrent"}, name, nil
	}

	magnet, err := fingerprint.Magnet(fp, name, req.Trackers)
	if err != nil {
		return store.Reference{}, "", &Error{Kind: KindInvalidFingerprint, Fingerprint: fp.String(), Message: "failed to build magnet", Err: err}
	}

	return store.Reference{Magnet: magnet}, name, nil
}

func (r *Resolver) run(ctx context.Context, fp fingerprint.Fingerprint, name string, ref store.Reference) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	if res, ok := r.lookupMaterialized(ctx, fp, name); ok {
		return res, nil
	}

	p, acquired := r.gate.TryAcquire(fp)
	if !acquired {
		r.telemetry.RecordGateAdmission("waited")
		logger.InfoContext(ctx, "resolution already in flight, waiting")

		released := r.gate.Wait(ctx, p, r.cfg.GateWait)

		if cached, ok := r.cache.Lookup(ctx, fp); ok {
			return &Result{Fingerprint: fp.String(), Status: StatusReady, URL: cached.URL, Name: name, Cached: true}, nil
		}

		if res, ok := r.lookupMaterialized(ctx, fp, name); ok {
			return res, nil
		}

		if !released {
			logger.WarnContext(ctx, "in-flight resolution did not finish in time, proceeding independently",
				"waited", r.cfg.GateWait)
		}

		p, acquired = r.gate.TryAcquire(fp)
	}

	var owned *Pending

	if acquired {
		r.telemetry.RecordGateAdmission("acquired")

		owned = p
		defer r.gate.Release(owned)
	} else {
		r.telemetry.RecordGateAdmission("bypassed")
	}

	transfers, err := r.store.ListActiveTransfers(ctx)
	if err != nil {
		return nil, classify(fp.String(), "listing transfers", err)
	}

	switch t := findTransfer(transfers, fp, name, r.cfg.MatchPrefix); {
	case t != nil:
		logger.InfoContext(ctx, "content already downloading, skipping add",
			"transfer_id", t.ID, "progress", t.Progress)

		if name == "" {
			name = t.Name
		}
	case r.recentlyAdded(fp):
		logger.InfoContext(ctx, "content added moments ago, skipping add")
	default:
		res, err := r.recoverer.AddWithRecovery(ctx, ref)
		if err != nil {
			return nil, classify(fp.String(), "adding content", err)
		}

		r.markAdded(fp)
		r.listings.Forget(playableKey)

		logger.InfoContext(ctx, "content added to store", "store_id", res.ID, "name", res.Name)

		if name == "" {
			name = res.Name
		}
	}

	return r.awaitCompletion(ctx, fp, name, owned)
}

type completion struct {
	file *store.File
	link *store.Link
}

// awaitCompletion polls until the content is playable. owned is the gate
// entry this resolution holds, nil when it bypassed the gate.
func (r *Resolver) awaitCompletion(ctx context.Context, fp fingerprint.Fingerprint, name string, owned *Pending) (*Result, error) {
	logger := logctx.LoggerFromContext(ctx)

	var progress float64

	found, attempts, err := Poll(ctx, Budget{Attempts: r.cfg.PollAttempts, Interval: r.cfg.PollInterval},
		func(ctx context.Context, attempt int) (completion, bool, error) {
			// Keep the entry alive for polls longer than the pending ttl.
			r.gate.Touch(owned)

			transfers, err := r.store.ListActiveTransfers(ctx)
			if err != nil {
				return completion{}, false, pollError(err)
			}

			if t := findTransfer(transfers, fp, name, r.cfg.MatchPrefix); t != nil {
				progress = t.Progress

				if name == "" {
					name = t.Name
				}

				logger.DebugContext(ctx, "transfer in progress", "attempt", attempt,
					"progress", t.Progress, "size", humanize.Bytes(uint64(max(t.Size, 0))))
			}

			files, err := r.playableFiles(ctx, true)
			if err != nil {
				return completion{}, false, pollError(err)
			}

			file := findFile(files, name, r.cfg.MatchPrefix)
			if file == nil {
				return completion{}, false, nil
			}

			link, err := r.store.GetDirectURL(ctx, file.ID)
			if err != nil {
				return completion{}, false, pollError(err)
			}

			return completion{file: file, link: link}, true, nil
		})

	switch {
	case errors.Is(err, ErrBudgetExhausted):
		r.telemetry.RecordPoll("timeout", attempts)
		logger.InfoContext(ctx, "content not ready yet", "attempts", attempts, "progress", progress)

		return &Result{Fingerprint: fp.String(), Status: StatusPending, Name: name, Progress: progress, Attempts: attempts}, nil
	case err != nil:
		r.telemetry.RecordPoll("error", attempts)

		return nil, classify(fp.String(), "polling store", err)
	}

	r.telemetry.RecordPoll("found", attempts)

	res := r.complete(ctx, fp, found.file, found.link)
	res.Attempts = attempts

	return res, nil
}

// lookupMaterialized finds content the store already holds, including
// content added out of band. Failures read as a miss.
func (r *Resolver) lookupMaterialized(ctx context.Context, fp fingerprint.Fingerprint, name string) (*Result, bool) {
	logger := logctx.LoggerFromContext(ctx)

	if name == "" {
		return nil, false
	}

	files, err := r.playableFiles(ctx, false)
	if err != nil {
		logger.WarnContext(ctx, "failed to list store content", "err", err)

		return nil, false
	}

	file := findFile(files, name, r.cfg.MatchPrefix)
	if file == nil {
		return nil, false
	}

	link, err := r.store.GetDirectURL(ctx, file.ID)
	if err != nil {
		logger.WarnContext(ctx, "failed to get direct url", "file_id", file.ID, "err", err)

		return nil, false
	}

	logger.InfoContext(ctx, "content already on store", "file_id", file.ID, "path", file.Path)

	return r.complete(ctx, fp, file, link), true
}

// playableFiles walks the store once for all concurrent callers. A fresh
// walk never joins one that started before the caller's last probe.
func (r *Resolver) playableFiles(ctx context.Context, fresh bool) ([]*store.File, error) {
	if fresh {
		r.listings.Forget(playableKey)
	}

	v, err, _ := r.listings.Do(playableKey, func() (any, error) {
		return store.PlayableFiles(ctx, r.store)
	})
	if err != nil {
		return nil, err
	}

	return v.([]*store.File), nil
}

func (r *Resolver) complete(ctx context.Context, fp fingerprint.Fingerprint, file *store.File, link *store.Link) *Result {
	logger := logctx.LoggerFromContext(ctx)

	r.cache.Store(ctx, fp, link.URL)

	if r.ledger != nil {
		err := r.ledger.SaveResolution(ctx, &storage.Resolution{
			Fingerprint: fp.String(),
			Name:        link.Name,
			FileID:      file.ID,
			RootKind:    string(file.Root.Kind),
			RootID:      file.Root.ID,
			ResolvedAt:  r.now(),
		})
		if err != nil {
			logger.WarnContext(ctx, "failed to record resolution", "err", err)
		}
	}

	logger.InfoContext(ctx, "content resolved", "file_id", file.ID, "size", humanize.Bytes(uint64(max(link.Size, 0))))

	return &Result{
		Fingerprint: fp.String(),
		Status:      StatusReady,
		URL:         link.URL,
		Name:        link.Name,
		Size:        link.Size,
	}
}

func (r *Resolver) recentlyAdded(fp fingerprint.Fingerprint) bool {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()

	at, ok := r.recent[fp]

	return ok && r.now().Sub(at) < r.cfg.RecentAddTTL
}

func (r *Resolver) markAdded(fp fingerprint.Fingerprint) {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()

	now := r.now()

	for k, at := range r.recent {
		if now.Sub(at) >= r.cfg.RecentAddTTL {
			delete(r.recent, k)
		}
	}

	r.recent[fp] = now
}

// Invalidate drops fp from the result cache.
func (r *Resolver) Invalidate(ctx context.Context, fp fingerprint.Fingerprint) {
	r.cache.Invalidate(ctx, fp)
}

// pollError keeps auth failures fatal; everything else is retried within
// the poll budget.
func pollError(err error) error {
	var auth *store.AuthenticationError
	if errors.As(err, &auth) {
		return Permanent(err)
	}

	return err
}
