package raft

import (
	"io"

	msgpack "github.com/hashicorp/go-msgpack/v2/codec"
	hraft "github.com/hashicorp/raft"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/storage"
	"github.com/cuemby/latticedb/pkg/types"
)

// snapshotRecord is one versioned row captured by build_snapshot,
// including tombstones, so a restore reproduces the exact pre-snapshot
// history rather than only the latest value per id.
type snapshotRecord struct {
	EntityType string
	EntityID   types.EntityID
	VersionTS  uint64
	Record     types.Record
}

type snapshotEnvelope struct {
	LastApplied uint64
	Records     []snapshotRecord
}

// Snapshot carries every version of every entity id the storage engine
// owns, plus the last_applied index it was captured at.
type Snapshot struct {
	data snapshotEnvelope
}

// newSnapshot captures a consistent point-in-time copy of the storage
// state this state machine owns.
func newSnapshot(store *storage.Engine) (*Snapshot, error) {
	lastApplied, err := ReadLastApplied(store.DB())
	if err != nil {
		return nil, err
	}

	ids, err := store.AllEntityIDs()
	if err != nil {
		return nil, err
	}

	var records []snapshotRecord
	for _, id := range ids {
		entityType, _ := store.EntityTypeOf(id)
		versions, err := store.ScanVersions(id)
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			records = append(records, snapshotRecord{
				EntityType: entityType,
				EntityID:   v.EntityID,
				VersionTS:  v.VersionTS,
				Record:     v.Record,
			})
		}
	}

	return &Snapshot{data: snapshotEnvelope{LastApplied: lastApplied, Records: records}}, nil
}

// Persist writes the snapshot to sink, closing it on success and
// cancelling it on any failure.
func (s *Snapshot) Persist(sink hraft.SnapshotSink) error {
	err := func() error {
		var buf []byte
		enc := msgpack.NewEncoderBytes(&buf, mpHandle)
		if err := enc.Encode(s.data); err != nil {
			return err
		}
		if _, err := sink.Write(buf); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release is a no-op: Snapshot holds no resources beyond its in-memory
// envelope.
func (s *Snapshot) Release() {}

// restoreSnapshot truncates pre-snapshot state (storage.Engine.Reset) and
// repopulates storage by re-applying every captured version through one
// transaction, then restores last_applied atomically with it.
func restoreSnapshot(store *storage.Engine, rc io.ReadCloser) error {
	raw, err := io.ReadAll(rc)
	if err != nil {
		return latticeerr.Wrap(latticeerr.CodeStorageIO, err, "read snapshot stream")
	}

	var env snapshotEnvelope
	dec := msgpack.NewDecoderBytes(raw, mpHandle)
	if err := dec.Decode(&env); err != nil {
		return latticeerr.Wrap(latticeerr.CodeInvalidData, err, "decode snapshot")
	}

	if err := store.Reset(); err != nil {
		return err
	}

	tx := store.Begin()
	for _, r := range env.Records {
		tx.PutTyped(r.EntityType, types.VersionedKey{EntityID: r.EntityID, VersionTS: r.VersionTS}, r.Record)
	}
	tx.AddHook(lastAppliedHook(env.LastApplied))
	return tx.Commit()
}
