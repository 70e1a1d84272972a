package storage

import (
	bolt "go.etcd.io/bbolt"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/types"
)

type bufferedOp struct {
	key        types.VersionedKey
	record     types.Record
	entityType string // empty unless this op came through PutTyped
	typed      bool
}

// Hook is extra work a caller composes into the same bbolt commit as a
// Transaction's buffered ops. The raft state machine uses this to append
// a change-log entry and advance last_applied atomically with the data
// write, so a crash can never separate the three.
type Hook func(tx *bolt.Tx) error

// Transaction buffers put/delete/put_typed intent and applies it as one
// atomic bbolt.Update call on Commit. Buffering rather than writing
// through immediately is what lets an arbitrary batch of operations
// become visible together or not at all.
type Transaction struct {
	engine *Engine
	ops    []bufferedOp
	hooks  []Hook
	done   bool
}

// Begin opens a buffered transaction. It does not touch the database
// until Commit is called.
func (e *Engine) Begin() *Transaction {
	return &Transaction{engine: e}
}

// Put buffers an insert/overwrite of a specific version.
func (t *Transaction) Put(key types.VersionedKey, record types.Record) {
	t.ops = append(t.ops, bufferedOp{key: key, record: record})
}

// PutTyped buffers a put plus EntityTypeIndex maintenance. A tombstoned
// record is not removed from the index synchronously; removal is
// deferred to compaction once every version of the id is tombstoned and
// old enough.
func (t *Transaction) PutTyped(entityType string, key types.VersionedKey, record types.Record) {
	t.ops = append(t.ops, bufferedOp{key: key, record: record, entityType: entityType, typed: true})
}

// Delete buffers a tombstone write at ts for id, registered under
// entityType so the type index stays correct.
func (t *Transaction) Delete(entityType string, id types.EntityID, ts uint64, createdAt uint64) {
	t.PutTyped(entityType, types.VersionedKey{EntityID: id, VersionTS: ts}, types.Tombstone(createdAt))
}

// AddHook registers extra work to run inside the same bbolt commit as
// this transaction's buffered ops, after they are applied.
func (t *Transaction) AddHook(h Hook) {
	t.hooks = append(t.hooks, h)
}

// Rollback discards the buffer. It is a no-op once Commit has run.
func (t *Transaction) Rollback() {
	t.ops = nil
	t.hooks = nil
	t.done = true
}

// Commit executes every buffered operation atomically across the data,
// meta, and type_index buckets. Either all become visible or none do.
func (t *Transaction) Commit() error {
	if t.done {
		return latticeerr.New(latticeerr.CodeInternal, "commit called on finished transaction")
	}
	t.done = true

	err := t.engine.db.Update(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketData)
		meta := tx.Bucket(bucketMeta)
		typeIdx := tx.Bucket(bucketTypeIndex)
		columnar := tx.Bucket(bucketColumnar)

		// Track the max version_ts per id within this batch so the meta
		// pointer update reflects the whole batch, not just the last op.
		maxTS := make(map[types.EntityID]uint64)
		// Latest typed op per id, for the columnar mirror.
		latestTyped := make(map[types.EntityID]*bufferedOp)

		for i := range t.ops {
			op := &t.ops[i]

			// Tie-break: if this exact (id, ts) key already holds a
			// record, nudge the version forward by one microsecond so
			// concurrent commits at the same timestamp stay strictly
			// monotone and the later commit wins.
			enc := op.key.Encode()
			for data.Get(enc[:]) != nil {
				op.key.VersionTS++
				enc = op.key.Encode()
			}

			raw, err := EncodeRecord(op.record)
			if err != nil {
				return latticeerr.Wrap(latticeerr.CodeInvalidData, err, "encode record for %s", op.key.EntityID)
			}
			if err := data.Put(enc[:], raw); err != nil {
				return err
			}

			if cur, ok := maxTS[op.key.EntityID]; !ok || op.key.VersionTS > cur {
				maxTS[op.key.EntityID] = op.key.VersionTS
			}

			if op.typed && !op.record.Deleted {
				if err := typeIdx.Put(typeIndexKey(op.entityType, op.key.EntityID), []byte{1}); err != nil {
					return err
				}
				if err := meta.Put(metaEntityTypeKey(op.key.EntityID), []byte(op.entityType)); err != nil {
					return err
				}
			}
			if op.typed {
				if cur, ok := latestTyped[op.key.EntityID]; !ok || op.key.VersionTS >= cur.key.VersionTS {
					latestTyped[op.key.EntityID] = op
				}
			}
		}

		for id, ts := range maxTS {
			key := metaLatestKey(id)
			cur := meta.Get(key)
			if cur == nil || ts > decodeUint64(cur) {
				if err := meta.Put(key, encodeUint64(ts)); err != nil {
					return err
				}
			}
		}

		// Mirror the latest typed row of each id into the columnar bucket,
		// unless a newer version already exists outside this batch. A
		// tombstone clears the mirror entry instead.
		for id, op := range latestTyped {
			if ptr := meta.Get(metaLatestKey(id)); ptr != nil && decodeUint64(ptr) > op.key.VersionTS {
				continue
			}
			ck := columnarKey(op.entityType, id)
			if op.record.Deleted {
				if err := columnar.Delete(ck); err != nil {
					return err
				}
				continue
			}
			raw, err := EncodeRecord(op.record)
			if err != nil {
				return err
			}
			if err := columnar.Put(ck, columnarValue(op.key.VersionTS, raw)); err != nil {
				return err
			}
		}

		for _, h := range t.hooks {
			if err := h(tx); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return latticeerr.Wrap(latticeerr.CodeTransactionConflict, err, "commit transaction")
	}

	// Apply the in-memory type index mirror only after the bbolt commit
	// succeeds, so a failed commit never advances it.
	for _, op := range t.ops {
		if op.typed {
			if op.record.Deleted {
				continue
			}
			t.engine.index.Add(op.entityType, op.key.EntityID)
		}
	}
	return nil
}

// RemoveFromTypeIndex is used by compaction to drop an id from
// the persisted type_index bucket once every version is gone, mirroring
// the in-memory removal it also performs.
func (e *Engine) RemoveFromTypeIndex(entityType string, id types.EntityID) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketTypeIndex).Delete(typeIndexKey(entityType, id)); err != nil {
			return err
		}
		return tx.Bucket(bucketColumnar).Delete(columnarKey(entityType, id))
	})
}

// DeleteVersions removes the given exact versions of id from
// the data tree in one transaction, used by compaction. It never touches
// the meta pointer.
func (e *Engine) DeleteVersions(id types.EntityID, versions []uint64) error {
	return e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketData)
		for _, ts := range versions {
			enc := types.VersionedKey{EntityID: id, VersionTS: ts}.Encode()
			if err := b.Delete(enc[:]); err != nil {
				return err
			}
		}
		return nil
	})
}
