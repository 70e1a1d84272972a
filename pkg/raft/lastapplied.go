package raft

import (
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/storage"
)

var (
	bucketRaftMeta = []byte("raft_meta")
	keyLastApplied = []byte("last_applied")
)

// lastAppliedHook writes index into the raft_meta bucket inside the same
// bbolt commit as the data it describes, so last_applied can never
// advance ahead of, or fall behind, the data it accounts for.
func lastAppliedHook(index uint64) storage.Hook {
	return func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketRaftMeta)
		if err != nil {
			return err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, index)
		return b.Put(keyLastApplied, buf)
	}
}

// ReadLastApplied returns the last raft log index this state machine has
// applied, or 0 if it has never applied anything.
func ReadLastApplied(db *bolt.DB) (uint64, error) {
	var index uint64
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRaftMeta)
		if b == nil {
			return nil
		}
		raw := b.Get(keyLastApplied)
		if raw != nil {
			index = binary.BigEndian.Uint64(raw)
		}
		return nil
	})
	if err != nil {
		return 0, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "read last_applied")
	}
	return index, nil
}
