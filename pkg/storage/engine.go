// Package storage implements the MVCC storage engine: a versioned,
// entity-typed ordered key-value store on top of bbolt, with atomic
// multi-key transactions and an in-memory type index mirror.
//
//	┌───────────────────────── StorageEngine ─────────────────────────┐
//	│                                                                   │
//	│   bbolt database file: <dataDir>/latticedb.db                    │
//	│                                                                   │
//	│   ┌───────────────┐  ┌───────────────┐  ┌──────────────────┐    │
//	│   │  data bucket  │  │  meta bucket  │  │ type_index bucket │    │
//	│   │ VersionedKey  │  │ latest: + id  │  │ type + 0x00 + id  │    │
//	│   │  -> Record    │  │ -> version_ts │  │  -> empty         │    │
//	│   └───────────────┘  └───────────────┘  └──────────────────┘    │
//	│                                                                   │
//	│   in-memory TypeIndex (google/btree) mirrors type_index bucket   │
//	│   for ordered, allocation-light iteration during typed scans.    │
//	└───────────────────────────────────────────────────────────────────┘
//
// Transactions buffer Put/Delete/PutTyped intent and apply it as one
// bbolt.Update call spanning the data, meta, and type_index buckets, so a
// commit either makes every buffered op visible or none of them.
package storage

import (
	"bytes"
	"encoding/binary"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/types"
)

var (
	bucketData       = []byte("data")
	bucketMeta       = []byte("meta")
	bucketTypeIndex  = []byte("type_index")
	metaLatestPrefix = []byte("latest:")
)

// Engine is the versioned, entity-typed ordered KV. It owns the data and
// meta trees and spawns no background goroutines of its own; compaction
// (pkg/compaction) and the change log (pkg/changelog) are handed a
// *bolt.DB from DB() and run as external collaborators that share the
// same file.
type Engine struct {
	db    *bolt.DB
	index *TypeIndex
}

// Open opens (creating if absent) the bbolt database file under dataDir
// and rebuilds the in-memory type index from its persisted bucket.
func Open(dataDir string) (*Engine, error) {
	dbPath := filepath.Join(dataDir, "latticedb.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "open %s", dbPath)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketData, bucketMeta, bucketTypeIndex, bucketColumnar} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "init buckets")
	}

	e := &Engine{db: db, index: NewTypeIndex()}
	if err := e.loadTypeIndex(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) loadTypeIndex() error {
	return e.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTypeIndex)
		return b.ForEach(func(k, _ []byte) error {
			sep := bytes.IndexByte(k, 0)
			if sep < 0 || len(k)-sep-1 != 16 {
				return nil
			}
			entityType := string(k[:sep])
			var id types.EntityID
			copy(id[:], k[sep+1:])
			e.index.Add(entityType, id)
			return nil
		})
	})
}

// DB exposes the underlying bbolt handle so sibling trees (change log,
// catalog, raft log store) can share one database file and, where needed,
// compose their writes into the same bbolt transaction as a storage
// commit.
func (e *Engine) DB() *bolt.DB { return e.db }

// TypeIndex exposes the in-memory type index for the executor's scan path
// and for compaction's lazy index cleanup.
func (e *Engine) TypeIndex() *TypeIndex { return e.index }

func (e *Engine) Close() error { return e.db.Close() }

// Flush blocks until the database is durable. bbolt fsyncs on every
// committed Update transaction, so this is a no-op sync point exposed for
// API parity with the spec's flush().
func (e *Engine) Flush() error {
	return e.db.Sync()
}

// GenerateID allocates a time-ordered entity id.
func (e *Engine) GenerateID() types.EntityID {
	return types.NewEntityID()
}

func metaLatestKey(id types.EntityID) []byte {
	k := make([]byte, 0, len(metaLatestPrefix)+16)
	k = append(k, metaLatestPrefix...)
	k = append(k, id[:]...)
	return k
}

var metaEntityTypePrefix = []byte("etype:")

func metaEntityTypeKey(id types.EntityID) []byte {
	k := make([]byte, 0, len(metaEntityTypePrefix)+16)
	k = append(k, metaEntityTypePrefix...)
	k = append(k, id[:]...)
	return k
}

// EntityTypeOf returns the entity type an id was last put_typed under, if
// any. Compaction uses this to drop a fully-tombstoned id from the
// persisted type index without needing the caller to track it.
func (e *Engine) EntityTypeOf(id types.EntityID) (string, bool) {
	var entityType string
	_ = e.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(metaEntityTypeKey(id))
		if raw != nil {
			entityType = string(raw)
		}
		return nil
	})
	return entityType, entityType != ""
}

func typeIndexKey(entityType string, id types.EntityID) []byte {
	k := make([]byte, 0, len(entityType)+1+16)
	k = append(k, entityType...)
	k = append(k, 0)
	k = append(k, id[:]...)
	return k
}

// Put inserts or overwrites a specific version outside of any explicit
// transaction; it is a convenience wrapper around a single-op
// Transaction, used by callers that do not need multi-key atomicity.
func (e *Engine) Put(key types.VersionedKey, record types.Record) error {
	txn := e.Begin()
	txn.Put(key, record)
	return txn.Commit()
}

// PutTyped is Put plus EntityTypeIndex maintenance, as a single-op
// Transaction.
func (e *Engine) PutTyped(entityType string, key types.VersionedKey, record types.Record) error {
	txn := e.Begin()
	txn.PutTyped(entityType, key, record)
	return txn.Commit()
}

// Get reads one exact version.
func (e *Engine) Get(id types.EntityID, versionTS uint64) (types.Record, bool, error) {
	var (
		rec   types.Record
		found bool
	)
	err := e.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketData)
		enc := types.VersionedKey{EntityID: id, VersionTS: versionTS}.Encode()
		raw := b.Get(enc[:])
		if raw == nil {
			return nil
		}
		r, err := DecodeRecord(raw)
		if err != nil {
			return err
		}
		rec, found = r, true
		return nil
	})
	if err != nil {
		return types.Record{}, false, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "get %s@%d", id, versionTS)
	}
	return rec, found, nil
}

// GetLatest reads the latest pointer then the data tree. A tombstoned
// latest version reads as absent.
func (e *Engine) GetLatest(id types.EntityID) (uint64, types.Record, bool, error) {
	var (
		ts    uint64
		rec   types.Record
		found bool
	)
	err := e.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		tsRaw := meta.Get(metaLatestKey(id))
		if tsRaw == nil {
			return nil
		}
		latestTS := decodeUint64(tsRaw)

		data := tx.Bucket(bucketData)
		enc := types.VersionedKey{EntityID: id, VersionTS: latestTS}.Encode()
		raw := data.Get(enc[:])
		if raw == nil {
			return nil
		}
		r, err := DecodeRecord(raw)
		if err != nil {
			return err
		}
		if r.Deleted {
			return nil
		}
		ts, rec, found = latestTS, r, true
		return nil
	})
	if err != nil {
		return 0, types.Record{}, false, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "get_latest %s", id)
	}
	return ts, rec, found, nil
}

// ScanVersions yields every version of one entity in ascending
// (chronological) order, including tombstones.
func (e *Engine) ScanVersions(id types.EntityID) ([]types.VersionedRecord, error) {
	var out []types.VersionedRecord
	prefix := types.EntityPrefix(id)
	err := e.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketData).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			vk, ok := types.DecodeVersionedKey(k)
			if !ok {
				continue
			}
			rec, err := DecodeRecord(v)
			if err != nil {
				return err
			}
			out = append(out, types.VersionedRecord{EntityID: id, VersionTS: vk.VersionTS, Record: rec})
		}
		return nil
	})
	if err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "scan_versions %s", id)
	}
	return out, nil
}

// ScanEntityType yields the latest non-tombstoned version of every id
// registered under entityType. Iteration order is the type index's
// ascending id order, which is deterministic for a fixed database state.
func (e *Engine) ScanEntityType(entityType string) ([]types.VersionedRecord, error) {
	var (
		out     []types.VersionedRecord
		scanErr error
	)
	e.index.Each(entityType, func(id types.EntityID) bool {
		ts, rec, found, err := e.GetLatest(id)
		if err != nil {
			scanErr = err
			return false
		}
		if !found {
			return true
		}
		out = append(out, types.VersionedRecord{EntityID: id, VersionTS: ts, Record: rec})
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	return out, nil
}

// AllEntityIDs returns every distinct entity id with at least one version
// in the data tree, in ascending id order. Compaction uses this to
// enumerate candidates across every entity type, including ids whose type
// membership was already lazily dropped from the index.
func (e *Engine) AllEntityIDs() ([]types.EntityID, error) {
	var out []types.EntityID
	err := e.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketData).Cursor()
		var last types.EntityID
		first := true
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			vk, ok := types.DecodeVersionedKey(k)
			if !ok {
				continue
			}
			if first || vk.EntityID != last {
				out = append(out, vk.EntityID)
				last = vk.EntityID
				first = false
			}
		}
		return nil
	})
	if err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "enumerate entity ids")
	}
	return out, nil
}

// Reset drops and recreates the data, meta, and type_index buckets in one
// transaction, then clears the in-memory type index mirror. It exists for
// the raft snapshot restorer, which must truncate pre-snapshot state
// before repopulating storage from a snapshot stream; no other caller in
// this repository is expected to need it.
func (e *Engine) Reset() error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketData, bucketMeta, bucketTypeIndex, bucketColumnar} {
			if err := tx.DeleteBucket(b); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return latticeerr.Wrap(latticeerr.CodeStorageIO, err, "reset storage buckets")
	}
	e.index = NewTypeIndex()
	return nil
}

func decodeUint64(b []byte) uint64 { return binary.BigEndian.Uint64(b) }

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
