package changelog

import (
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/latticedb/pkg/types"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "cl.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	l, err := Open(db)
	require.NoError(t, err)
	return l
}

func TestAppendAssignsMonotoneLSN(t *testing.T) {
	l := newTestLog(t)

	lsn1, err := l.Append(types.ChangeLogEntry{EntityType: "User", ChangeType: types.ChangeInsert})
	require.NoError(t, err)
	lsn2, err := l.Append(types.ChangeLogEntry{EntityType: "User", ChangeType: types.ChangeUpdate})
	require.NoError(t, err)

	require.Equal(t, uint64(1), lsn1)
	require.Equal(t, uint64(2), lsn2)

	cur, err := l.CurrentLSN()
	require.NoError(t, err)
	require.Equal(t, uint64(2), cur)
}

func TestScanFilteredByEntityType(t *testing.T) {
	l := newTestLog(t)
	_, err := l.Append(types.ChangeLogEntry{EntityType: "User"})
	require.NoError(t, err)
	_, err = l.Append(types.ChangeLogEntry{EntityType: "Post"})
	require.NoError(t, err)
	_, err = l.Append(types.ChangeLogEntry{EntityType: "User"})
	require.NoError(t, err)

	entries, hasMore, err := l.ScanFiltered(1, 10, map[string]bool{"User": true})
	require.NoError(t, err)
	require.False(t, hasMore)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Equal(t, "User", e.EntityType)
	}
}

func TestScanBatchRespectsMax(t *testing.T) {
	l := newTestLog(t)
	for i := 0; i < 5; i++ {
		_, err := l.Append(types.ChangeLogEntry{EntityType: "User"})
		require.NoError(t, err)
	}

	entries, hasMore, err := l.ScanBatch(1, 2)
	require.NoError(t, err)
	require.True(t, hasMore)
	require.Len(t, entries, 2)
	require.Equal(t, uint64(1), entries[0].LSN)
	require.Equal(t, uint64(2), entries[1].LSN)
}
