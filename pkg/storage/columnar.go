package storage

import (
	"bytes"
	"encoding/binary"

	bolt "go.etcd.io/bbolt"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/types"
)

// The columnar bucket is a best-effort row-to-column mirror: one entry per
// (entity type, id) holding the latest non-tombstoned row, maintained
// inside the same commit as the typed put that produced it. The executor
// consults it for pure scans with no filter, where re-reading every
// version chain through the meta pointer would do strictly more work than
// a single cursor sweep over this bucket. It is a read accelerator only:
// the data and meta trees stay authoritative, and a row written through
// the untyped Put path simply does not appear here.
var bucketColumnar = []byte("columnar")

func columnarKey(entityType string, id types.EntityID) []byte {
	k := make([]byte, 0, len(entityType)+1+16)
	k = append(k, entityType...)
	k = append(k, 0)
	k = append(k, id[:]...)
	return k
}

// columnarValue prepends the row's version timestamp to its encoded record
// so ScanColumnar can yield full VersionedRecords without touching the
// meta tree.
func columnarValue(versionTS uint64, encodedRecord []byte) []byte {
	v := make([]byte, 8+len(encodedRecord))
	binary.BigEndian.PutUint64(v[:8], versionTS)
	copy(v[8:], encodedRecord)
	return v
}

// ScanColumnar yields the mirrored latest row of every id under
// entityType, in ascending id order, the same order ScanEntityType
// produces. Callers that need filter evaluation or tombstone-aware
// version reads use ScanEntityType; this path exists for the executor's
// no-filter scan shaping.
func (e *Engine) ScanColumnar(entityType string) ([]types.VersionedRecord, error) {
	prefix := append(append([]byte(nil), entityType...), 0)
	var out []types.VersionedRecord
	err := e.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketColumnar).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if len(k) != len(prefix)+16 || len(v) < 8 {
				continue
			}
			var id types.EntityID
			copy(id[:], k[len(prefix):])
			rec, err := DecodeRecord(v[8:])
			if err != nil {
				return err
			}
			out = append(out, types.VersionedRecord{
				EntityID:  id,
				VersionTS: binary.BigEndian.Uint64(v[:8]),
				Record:    rec,
			})
		}
		return nil
	})
	if err != nil {
		return nil, latticeerr.Wrap(latticeerr.CodeStorageIO, err, "scan columnar %s", entityType)
	}
	return out, nil
}
