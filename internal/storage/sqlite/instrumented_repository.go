package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/seedbox_resolver/internal/storage"
	"github.com/italolelis/seedbox_resolver/internal/telemetry"
)

// InstrumentedResolutionRepository wraps ResolutionRepository with telemetry.
type InstrumentedResolutionRepository struct {
	repo      *ResolutionRepository
	telemetry *telemetry.Telemetry
}

var _ storage.ResolutionRepository = (*InstrumentedResolutionRepository)(nil)

// NewInstrumentedResolutionRepository creates a new instrumented resolution repository.
func NewInstrumentedResolutionRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedResolutionRepository {
	return &InstrumentedResolutionRepository{
		repo:      NewResolutionRepository(dbConn),
		telemetry: tel,
	}
}

// SaveResolution stores a resolution with telemetry.
func (r *InstrumentedResolutionRepository) SaveResolution(ctx context.Context, res *storage.Resolution) error {
	return r.telemetry.InstrumentDBOperation(ctx, "save_resolution", func(ctx context.Context) error {
		return r.repo.SaveResolution(ctx, res)
	})
}

// MarkDeleted marks a resolution as reclaimed with telemetry.
func (r *InstrumentedResolutionRepository) MarkDeleted(ctx context.Context, fingerprint string, at time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_deleted", func(ctx context.Context) error {
		return r.repo.MarkDeleted(ctx, fingerprint, at)
	})
}

// GetResolution retrieves a resolution with telemetry.
func (r *InstrumentedResolutionRepository) GetResolution(ctx context.Context, fingerprint string) (*storage.Resolution, error) {
	var result *storage.Resolution

	err := r.telemetry.InstrumentDBOperation(ctx, "get_resolution", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetResolution(ctx, fingerprint)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetExpiredResolutions lists expired resolutions with telemetry.
func (r *InstrumentedResolutionRepository) GetExpiredResolutions(ctx context.Context, cutoff time.Time, limit int) ([]storage.Resolution, error) {
	var result []storage.Resolution

	err := r.telemetry.InstrumentDBOperation(ctx, "get_expired_resolutions", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetExpiredResolutions(ctx, cutoff, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
