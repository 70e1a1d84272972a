package compaction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/latticedb/pkg/storage"
	"github.com/cuemby/latticedb/pkg/types"
)

var testNow = time.UnixMicro(10_000_000_000) // fixed clock for every pass

func newTestStore(t *testing.T) *storage.Engine {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestCompactor(store *storage.Engine, policy RetentionPolicy) *Engine {
	e := NewEngine(store, policy)
	e.nowFn = func() time.Time { return testNow }
	return e
}

// ageMicros returns a CreatedAt timestamp age before the fixed test clock.
func ageMicros(age time.Duration) uint64 {
	return uint64(testNow.Add(-age).UnixMicro())
}

func putAged(t *testing.T, store *storage.Engine, entityType string, id types.EntityID, ts uint64, age time.Duration) {
	t.Helper()
	rec := types.Record{
		Data:      map[string]types.Value{"n": types.Int64Value(int64(ts))},
		CreatedAt: ageMicros(age),
	}
	require.NoError(t, store.PutTyped(entityType, types.VersionedKey{EntityID: id, VersionTS: ts}, rec))
}

func TestTTLRemovesExpiredVersionsButKeepsLatest(t *testing.T) {
	store := newTestStore(t)
	id := store.GenerateID()
	putAged(t, store, "User", id, 100, 48*time.Hour)
	putAged(t, store, "User", id, 200, 47*time.Hour)
	putAged(t, store, "User", id, 300, time.Minute)

	ttl := 24 * time.Hour
	comp := newTestCompactor(store, RetentionPolicy{TTL: &ttl, MinAge: time.Hour})

	result, err := comp.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.VersionsRemoved)

	versions, err := store.ScanVersions(id)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, uint64(300), versions[0].VersionTS)
}

func TestMaxVersionsTrimsOldest(t *testing.T) {
	store := newTestStore(t)
	id := store.GenerateID()
	for ts := uint64(1); ts <= 5; ts++ {
		putAged(t, store, "User", id, ts, 48*time.Hour)
	}

	maxVersions := 2
	comp := newTestCompactor(store, RetentionPolicy{MaxVersions: &maxVersions, MinAge: time.Hour})

	result, err := comp.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.VersionsRemoved)

	versions, err := store.ScanVersions(id)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, uint64(4), versions[0].VersionTS)
	assert.Equal(t, uint64(5), versions[1].VersionTS)
}

func TestMinAgeProtectsYoungVersions(t *testing.T) {
	store := newTestStore(t)
	id := store.GenerateID()
	putAged(t, store, "User", id, 100, 30*time.Minute)
	putAged(t, store, "User", id, 200, 20*time.Minute)

	ttl := time.Minute
	comp := newTestCompactor(store, RetentionPolicy{TTL: &ttl, MinAge: time.Hour})

	result, err := comp.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.VersionsRemoved)
}

func TestTombstoneCleanupDropsIDFromTypeIndex(t *testing.T) {
	store := newTestStore(t)
	id := store.GenerateID()
	putAged(t, store, "User", id, 100, 72*time.Hour)

	txn := store.Begin()
	txn.Delete("User", id, 200, ageMicros(48*time.Hour))
	require.NoError(t, txn.Commit())

	ttl := 24 * time.Hour
	comp := newTestCompactor(store, RetentionPolicy{TTL: &ttl, MinAge: time.Hour, CleanupTombstones: true})

	result, err := comp.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.VersionsRemoved)
	assert.Equal(t, 1, result.TombstonesRemoved)

	versions, err := store.ScanVersions(id)
	require.NoError(t, err)
	assert.Empty(t, versions)
	assert.False(t, store.TypeIndex().Has("User", id))
}

func TestTrailingTombstoneSurvivesWhileOlderVersionsRemain(t *testing.T) {
	store := newTestStore(t)
	id := store.GenerateID()
	// The live version is too young to remove, so the trailing tombstone
	// must stay too: it is not the last surviving version.
	putAged(t, store, "User", id, 100, 30*time.Minute)

	txn := store.Begin()
	txn.Delete("User", id, 200, ageMicros(25*time.Minute))
	require.NoError(t, txn.Commit())

	comp := newTestCompactor(store, RetentionPolicy{MinAge: time.Hour, CleanupTombstones: true})

	result, err := comp.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.VersionsRemoved)

	versions, err := store.ScanVersions(id)
	require.NoError(t, err)
	assert.Len(t, versions, 2)
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	store := newTestStore(t)
	id := store.GenerateID()
	putAged(t, store, "User", id, 100, 48*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	comp := newTestCompactor(store, RetentionPolicy{})
	_, err := comp.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
