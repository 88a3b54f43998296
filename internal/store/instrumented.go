package store

import (
	"context"

	"github.com/italolelis/seedbox_resolver/internal/telemetry"
)

// InstrumentedStore wraps a Store with spans and operation counters.
type InstrumentedStore struct {
	store     Store
	telemetry *telemetry.Telemetry
	storeType string
}

var _ Store = (*InstrumentedStore)(nil)

// NewInstrumented wraps s. storeType labels every metric, e.g. "seedr".
func NewInstrumented(s Store, tel *telemetry.Telemetry, storeType string) *InstrumentedStore {
	return &InstrumentedStore{
		store:     s,
		telemetry: tel,
		storeType: storeType,
	}
}

func (s *InstrumentedStore) Authenticate(ctx context.Context) error {
	return s.telemetry.InstrumentStoreOperation(ctx, s.storeType, "authenticate", func(ctx context.Context) error {
		return s.store.Authenticate(ctx)
	})
}

func (s *InstrumentedStore) AddByReference(ctx context.Context, ref Reference) (*AddResult, error) {
	var result *AddResult

	err := s.telemetry.InstrumentStoreOperation(ctx, s.storeType, "add", func(ctx context.Context) error {
		var err error
		result, err = s.store.AddByReference(ctx, ref)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *InstrumentedStore) ListFolder(ctx context.Context, folderID string) (*Listing, error) {
	var result *Listing

	err := s.telemetry.InstrumentStoreOperation(ctx, s.storeType, "list_folder", func(ctx context.Context) error {
		var err error
		result, err = s.store.ListFolder(ctx, folderID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *InstrumentedStore) ListActiveTransfers(ctx context.Context) ([]*Transfer, error) {
	var result []*Transfer

	err := s.telemetry.InstrumentStoreOperation(ctx, s.storeType, "list_transfers", func(ctx context.Context) error {
		var err error
		result, err = s.store.ListActiveTransfers(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *InstrumentedStore) GetDirectURL(ctx context.Context, fileID string) (*Link, error) {
	var result *Link

	err := s.telemetry.InstrumentStoreOperation(ctx, s.storeType, "get_direct_url", func(ctx context.Context) error {
		var err error
		result, err = s.store.GetDirectURL(ctx, fileID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *InstrumentedStore) Delete(ctx context.Context, items ...Item) error {
	return s.telemetry.InstrumentStoreOperation(ctx, s.storeType, "delete", func(ctx context.Context) error {
		return s.store.Delete(ctx, items...)
	})
}

func (s *InstrumentedStore) PurgeAll(ctx context.Context) (int, error) {
	var deleted int

	err := s.telemetry.InstrumentStoreOperation(ctx, s.storeType, "purge_all", func(ctx context.Context) error {
		var err error
		deleted, err = s.store.PurgeAll(ctx)

		return err
	})

	return deleted, err
}

func (s *InstrumentedStore) RemoveFromWishlist(ctx context.Context, id string) error {
	return s.telemetry.InstrumentStoreOperation(ctx, s.storeType, "remove_wishlist", func(ctx context.Context) error {
		return s.store.RemoveFromWishlist(ctx, id)
	})
}
