package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/seedbox_resolver/internal/storage"
)

func newTestRepository(t *testing.T) *InstrumentedResolutionRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "resolutions.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return NewInstrumentedResolutionRepository(db, nil)
}

func TestSaveAndGetResolution(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	resolvedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	err := repo.SaveResolution(ctx, &storage.Resolution{
		Fingerprint: "abc",
		Name:        "The Matrix",
		FileID:      "9",
		RootKind:    "folder",
		RootID:      "8",
		ResolvedAt:  resolvedAt,
	})
	require.NoError(t, err)

	got, err := repo.GetResolution(ctx, "abc")
	require.NoError(t, err)

	assert.Equal(t, "The Matrix", got.Name)
	assert.Equal(t, "9", got.FileID)
	assert.Equal(t, "folder", got.RootKind)
	assert.Equal(t, "8", got.RootID)
	assert.True(t, resolvedAt.Equal(got.ResolvedAt))
	assert.Nil(t, got.DeletedAt)

	_, err = repo.GetResolution(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSaveResolution_ClearsDeletion(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.SaveResolution(ctx, &storage.Resolution{Fingerprint: "abc", FileID: "1", ResolvedAt: now}))
	require.NoError(t, repo.MarkDeleted(ctx, "abc", now))

	got, err := repo.GetResolution(ctx, "abc")
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)

	require.NoError(t, repo.SaveResolution(ctx, &storage.Resolution{Fingerprint: "abc", FileID: "2", ResolvedAt: now}))

	got, err = repo.GetResolution(ctx, "abc")
	require.NoError(t, err)
	assert.Nil(t, got.DeletedAt)
	assert.Equal(t, "2", got.FileID)
}

func TestMarkDeleted_Unknown(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.MarkDeleted(context.Background(), "missing", time.Now())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestGetExpiredResolutions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for fp, age := range map[string]time.Duration{
		"old":     3 * time.Hour,
		"older":   5 * time.Hour,
		"fresh":   10 * time.Minute,
		"deleted": 6 * time.Hour,
	} {
		require.NoError(t, repo.SaveResolution(ctx, &storage.Resolution{Fingerprint: fp, ResolvedAt: now.Add(-age)}))
	}

	require.NoError(t, repo.MarkDeleted(ctx, "deleted", now))

	expired, err := repo.GetExpiredResolutions(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)

	require.Len(t, expired, 2)
	assert.Equal(t, "older", expired[0].Fingerprint)
	assert.Equal(t, "old", expired[1].Fingerprint)

	limited, err := repo.GetExpiredResolutions(ctx, now.Add(-time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
