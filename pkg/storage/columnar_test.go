package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/latticedb/pkg/types"
)

func TestColumnarMirrorTracksLatestTypedRow(t *testing.T) {
	e := newTestEngine(t)
	id := e.GenerateID()

	require.NoError(t, e.PutTyped("User", types.VersionedKey{EntityID: id, VersionTS: 100}, rec(1)))
	require.NoError(t, e.PutTyped("User", types.VersionedKey{EntityID: id, VersionTS: 200}, rec(2)))

	rows, err := e.ScanColumnar("User")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].EntityID)
	assert.Equal(t, uint64(200), rows[0].VersionTS)
	assert.Equal(t, int32(2), rows[0].Record.Data["n"].I3)
}

func TestColumnarMirrorIgnoresStaleWrite(t *testing.T) {
	e := newTestEngine(t)
	id := e.GenerateID()

	require.NoError(t, e.PutTyped("User", types.VersionedKey{EntityID: id, VersionTS: 200}, rec(2)))
	// A backdated version must not clobber the mirrored latest row.
	require.NoError(t, e.PutTyped("User", types.VersionedKey{EntityID: id, VersionTS: 100}, rec(1)))

	rows, err := e.ScanColumnar("User")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, uint64(200), rows[0].VersionTS)
}

func TestColumnarMirrorClearsOnTombstone(t *testing.T) {
	e := newTestEngine(t)
	id := e.GenerateID()

	require.NoError(t, e.PutTyped("User", types.VersionedKey{EntityID: id, VersionTS: 100}, rec(1)))

	txn := e.Begin()
	txn.Delete("User", id, 200, 200)
	require.NoError(t, txn.Commit())

	rows, err := e.ScanColumnar("User")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestColumnarMirrorMatchesTypedScan(t *testing.T) {
	e := newTestEngine(t)
	for i := int32(0); i < 5; i++ {
		id := e.GenerateID()
		require.NoError(t, e.PutTyped("User", types.VersionedKey{EntityID: id, VersionTS: 10}, rec(i)))
	}

	scanned, err := e.ScanEntityType("User")
	require.NoError(t, err)
	mirrored, err := e.ScanColumnar("User")
	require.NoError(t, err)
	assert.Equal(t, scanned, mirrored)
}
