package raft

import (
	"testing"

	hraft "github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/latticedb/pkg/changelog"
	"github.com/cuemby/latticedb/pkg/storage"
	"github.com/cuemby/latticedb/pkg/types"
)

func newTestFSM(t *testing.T) (*StateMachine, *storage.Engine) {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clog, err := changelog.OpenFromEngine(store)
	require.NoError(t, err)

	return NewStateMachine(store, clog), store
}

func mutateLog(index uint64, mutations ...types.Mutation) *hraft.Log {
	data, err := EncodeCommand(Command{Kind: CommandMutate, Mutations: mutations})
	if err != nil {
		panic(err)
	}
	return &hraft.Log{Index: index, Type: hraft.LogCommand, Data: data}
}

func TestApplyInsertIsVisibleAndAdvancesLastApplied(t *testing.T) {
	fsm, store := newTestFSM(t)
	id := types.NewEntityID()

	result := fsm.Apply(mutateLog(1, types.Mutation{
		Op: types.MutationInsert, EntityType: "user", EntityID: id,
		Data: map[string]types.Value{"name": types.StringValue("alice")}, VersionTS: 100,
	}))
	require.Nil(t, result)

	_, rec, ok, err := store.GetLatest(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", rec.Data["name"].S)

	applied, err := ReadLastApplied(store.DB())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), applied)
}

func TestApplyBatchIsAtomicAndAppendsChangeLog(t *testing.T) {
	fsm, store := newTestFSM(t)
	clog, err := changelog.OpenFromEngine(store)
	require.NoError(t, err)

	idA, idB := types.NewEntityID(), types.NewEntityID()
	result := fsm.Apply(mutateLog(1,
		types.Mutation{Op: types.MutationInsert, EntityType: "user", EntityID: idA, Data: map[string]types.Value{"n": types.Int64Value(1)}, VersionTS: 10},
		types.Mutation{Op: types.MutationInsert, EntityType: "user", EntityID: idB, Data: map[string]types.Value{"n": types.Int64Value(2)}, VersionTS: 10},
	))
	require.Nil(t, result)

	entries, _, err := clog.ScanBatch(1, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestApplyDeleteHidesLatest(t *testing.T) {
	fsm, store := newTestFSM(t)
	id := types.NewEntityID()

	fsm.Apply(mutateLog(1, types.Mutation{Op: types.MutationInsert, EntityType: "user", EntityID: id, Data: map[string]types.Value{"n": types.Int64Value(1)}, VersionTS: 10}))
	fsm.Apply(mutateLog(2, types.Mutation{Op: types.MutationDelete, EntityType: "user", EntityID: id, VersionTS: 20}))

	_, _, ok, err := store.GetLatest(id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotAndRestoreRoundTrip(t *testing.T) {
	fsm, store := newTestFSM(t)
	id := types.NewEntityID()
	fsm.Apply(mutateLog(1, types.Mutation{Op: types.MutationInsert, EntityType: "user", EntityID: id, Data: map[string]types.Value{"n": types.Int64Value(7)}, VersionTS: 10}))

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	sink := newMemSink()
	require.NoError(t, snap.Persist(sink))

	require.NoError(t, restoreSnapshot(store, sink.reader()))

	_, rec, ok, err := store.GetLatest(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), rec.Data["n"].I6)

	applied, err := ReadLastApplied(store.DB())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), applied)
}
