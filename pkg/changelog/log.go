// Package changelog implements the change log: a totally ordered,
// monotonically numbered stream of committed mutations used for CDC
// consumers and replica catch-up.
package changelog

import (
	"encoding/binary"

	msgpack "github.com/hashicorp/go-msgpack/v2/codec"
	bolt "go.etcd.io/bbolt"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/storage"
	"github.com/cuemby/latticedb/pkg/types"
)

var (
	bucketEntries = []byte("changelog_entries")
	bucketMeta    = []byte("changelog_meta")
	keyCurrentLSN = []byte("current_lsn")
)

var mpHandle = &msgpack.MsgpackHandle{}

// Log shares the storage engine's bbolt handle (its buckets are siblings
// of the storage trees) so that an append can be composed into the very
// transaction that commits the mutation it describes.
type Log struct {
	db *bolt.DB
}

// Open creates (or attaches to) the change log buckets on db.
func Open(db *bolt.DB) (*Log, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketEntries, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "init changelog buckets")
	}
	return &Log{db: db}, nil
}

// OpenFromEngine is a convenience constructor sharing a storage.Engine's
// database handle.
func OpenFromEngine(e *storage.Engine) (*Log, error) {
	return Open(e.DB())
}

func lsnKey(lsn uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, lsn)
	return b
}

func (l *Log) appendInTx(tx *bolt.Tx, entry types.ChangeLogEntry) (uint64, error) {
	meta := tx.Bucket(bucketMeta)
	cur := meta.Get(keyCurrentLSN)
	next := uint64(1)
	if cur != nil {
		next = binary.BigEndian.Uint64(cur) + 1
	}
	entry.LSN = next

	var buf []byte
	enc := msgpack.NewEncoderBytes(&buf, mpHandle)
	if err := enc.Encode(entry); err != nil {
		return 0, latticeerr.Wrap(latticeerr.CodeInvalidData, err, "encode change log entry")
	}

	if err := tx.Bucket(bucketEntries).Put(lsnKey(next), buf); err != nil {
		return 0, err
	}
	if err := meta.Put(keyCurrentLSN, lsnKey(next)); err != nil {
		return 0, err
	}
	return next, nil
}

// AppendHook returns a storage.Hook that appends entry inside the caller's
// transaction and writes the assigned LSN into *out once the hook runs.
// The hook executes as part of the same bolt.Update call as the storage
// mutation it describes, so an entry exists iff its mutation committed.
func (l *Log) AppendHook(entry types.ChangeLogEntry, out *uint64) storage.Hook {
	return func(tx *bolt.Tx) error {
		lsn, err := l.appendInTx(tx, entry)
		if err != nil {
			return err
		}
		*out = lsn
		return nil
	}
}

// Append appends entry in its own transaction, for callers (tests, or a
// standalone CDC replay harness) that are not already composing a
// storage.Transaction.
func (l *Log) Append(entry types.ChangeLogEntry) (uint64, error) {
	var lsn uint64
	err := l.db.Update(func(tx *bolt.Tx) error {
		var err error
		lsn, err = l.appendInTx(tx, entry)
		return err
	})
	if err != nil {
		return 0, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "append change log entry")
	}
	return lsn, nil
}

// CurrentLSN returns the highest LSN appended so far, or 0 if the log is
// empty.
func (l *Log) CurrentLSN() (uint64, error) {
	var lsn uint64
	err := l.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keyCurrentLSN)
		if raw != nil {
			lsn = binary.BigEndian.Uint64(raw)
		}
		return nil
	})
	if err != nil {
		return 0, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "current_lsn")
	}
	return lsn, nil
}

// ScanBatch reads up to max entries starting at fromLSN (inclusive),
// returning hasMore if entries remain beyond what was returned.
func (l *Log) ScanBatch(fromLSN uint64, max int) ([]types.ChangeLogEntry, bool, error) {
	return l.ScanFiltered(fromLSN, max, nil)
}

// ScanFiltered is ScanBatch plus a server-side entity-type filter: when
// entitySet is non-nil, only entries whose EntityType is present in the
// set are returned, but the max-count budget still applies to entries
// scanned, not entries matched, keeping the scan bounded.
func (l *Log) ScanFiltered(fromLSN uint64, max int, entitySet map[string]bool) ([]types.ChangeLogEntry, bool, error) {
	var (
		out     []types.ChangeLogEntry
		hasMore bool
	)
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketEntries).Cursor()
		scanned := 0
		for k, v := c.Seek(lsnKey(fromLSN)); k != nil; k, v = c.Next() {
			if scanned >= max {
				hasMore = true
				break
			}
			scanned++

			var entry types.ChangeLogEntry
			dec := msgpack.NewDecoderBytes(v, mpHandle)
			if err := dec.Decode(&entry); err != nil {
				return latticeerr.Wrap(latticeerr.CodeInvalidData, err, "decode change log entry")
			}
			if entitySet == nil || entitySet[entry.EntityType] {
				out = append(out, entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, hasMore, nil
}
