package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("resolution not found")

// Resolution records content the resolver made playable, so the retention
// sweeper can reclaim it from the remote store later.
type Resolution struct {
	Fingerprint string
	Name        string
	FileID      string
	// RootKind and RootID identify the top-level store item holding the file.
	RootKind   string
	RootID     string
	ResolvedAt time.Time
	DeletedAt  *time.Time
}

type ResolutionReadRepository interface {
	GetResolution(ctx context.Context, fingerprint string) (*Resolution, error)
	// GetExpiredResolutions returns live resolutions resolved before cutoff,
	// oldest first.
	GetExpiredResolutions(ctx context.Context, cutoff time.Time, limit int) ([]Resolution, error)
}

type ResolutionWriteRepository interface {
	// SaveResolution inserts or refreshes a resolution and clears its deletion mark.
	SaveResolution(ctx context.Context, r *Resolution) error
	MarkDeleted(ctx context.Context, fingerprint string, at time.Time) error
}

type ResolutionRepository interface {
	ResolutionReadRepository
	ResolutionWriteRepository
}
