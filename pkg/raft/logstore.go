package raft

import (
	"path/filepath"

	hraft "github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
)

// LogStore is the Raft log persistence layer: append, read-range,
// truncate-tail, purge-head, and vote persistence over an ordered KV.
// raft-boltdb already implements both hraft.LogStore and
// hraft.StableStore over a bbolt file with exactly these semantics
// (append-only log keyed by monotone uint64 index, and a small separate
// k/v space for vote state); there is nothing to adapt beyond giving it
// its own file under the node's data directory.
type LogStore struct {
	*raftboltdb.BoltStore
}

// OpenLogStore opens (creating if absent) the raft log database under
// dataDir.
func OpenLogStore(dataDir string) (*LogStore, error) {
	path := filepath.Join(dataDir, "raft-log.db")
	store, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "open raft log store %s", path)
	}
	return &LogStore{BoltStore: store}, nil
}

// OpenStableStore opens the separate vote/term k/v store.
func OpenStableStore(dataDir string) (hraft.StableStore, error) {
	path := filepath.Join(dataDir, "raft-stable.db")
	store, err := raftboltdb.NewBoltStore(path)
	if err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "open raft stable store %s", path)
	}
	return store, nil
}
