package cleanup

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/seedbox_resolver/internal/fingerprint"
	"github.com/italolelis/seedbox_resolver/internal/storage"
	"github.com/italolelis/seedbox_resolver/internal/storage/sqlite"
	"github.com/italolelis/seedbox_resolver/internal/store"
	"github.com/italolelis/seedbox_resolver/internal/store/storetest"
)

type recordingCache struct {
	mu          sync.Mutex
	invalidated []fingerprint.Fingerprint
}

func (c *recordingCache) Invalidate(_ context.Context, fp fingerprint.Fingerprint) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidated = append(c.invalidated, fp)
}

type failingDeleteStore struct {
	*storetest.Fake
}

func (failingDeleteStore) Delete(context.Context, ...store.Item) error {
	return errors.New("store unavailable")
}

func newRepo(t *testing.T) *sqlite.ResolutionRepository {
	t.Helper()

	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "resolutions.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return sqlite.NewResolutionRepository(db)
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := newRepo(t)

	for _, r := range []storage.Resolution{
		{Fingerprint: "aa", RootKind: "folder", RootID: "1", ResolvedAt: now.Add(-3 * time.Hour)},
		{Fingerprint: "bb", RootKind: "folder", RootID: "1", ResolvedAt: now.Add(-4 * time.Hour)},
		{Fingerprint: "cc", RootKind: "file", RootID: "2", ResolvedAt: now.Add(-5 * time.Hour)},
		{Fingerprint: "dd", RootKind: "folder", RootID: "3", ResolvedAt: now.Add(-10 * time.Minute)},
	} {
		require.NoError(t, repo.SaveResolution(ctx, &r))
	}

	fake := storetest.New()
	cache := &recordingCache{}

	sweeper := NewSweeper(repo, fake, cache, time.Hour, nil)
	sweeper.now = func() time.Time { return now }

	n, err := sweeper.DeleteExpired(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, n)
	assert.Equal(t, 2, fake.Calls(storetest.OpDelete), "records sharing a root are deleted once")
	assert.ElementsMatch(t, []store.Item{
		{Kind: store.KindFolder, ID: "1"},
		{Kind: store.KindFile, ID: "2"},
	}, fake.Deleted())
	assert.ElementsMatch(t, []fingerprint.Fingerprint{"aa", "bb", "cc"}, cache.invalidated)

	fresh, err := repo.GetResolution(ctx, "dd")
	require.NoError(t, err)
	assert.Nil(t, fresh.DeletedAt)

	t.Run("already deleted records are skipped", func(t *testing.T) {
		n, err := sweeper.DeleteExpired(ctx)
		require.NoError(t, err)

		assert.Zero(t, n)
		assert.Equal(t, 2, fake.Calls(storetest.OpDelete))
	})
}

func TestDeleteExpired_StoreFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	repo := newRepo(t)

	require.NoError(t, repo.SaveResolution(ctx, &storage.Resolution{
		Fingerprint: "aa", RootKind: "folder", RootID: "1", ResolvedAt: now.Add(-2 * time.Hour),
	}))

	sweeper := NewSweeper(repo, failingDeleteStore{storetest.New()}, &recordingCache{}, time.Hour, nil)

	n, err := sweeper.DeleteExpired(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
	assert.Zero(t, n)

	rec, err := repo.GetResolution(ctx, "aa")
	require.NoError(t, err)
	assert.Nil(t, rec.DeletedAt)
}

func TestRun_StopsOnCancel(t *testing.T) {
	repo := newRepo(t)
	sweeper := NewSweeper(repo, storetest.New(), &recordingCache{}, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sweeper.Run(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
