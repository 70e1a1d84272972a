package compaction

import (
	"context"
	"time"

	"github.com/cuemby/latticedb/pkg/log"
	"github.com/cuemby/latticedb/pkg/metrics"
	"github.com/cuemby/latticedb/pkg/storage"
	"github.com/cuemby/latticedb/pkg/types"
)

// Engine runs one retention-policy pass against a storage.Engine. It owns
// no goroutines itself; Scheduler below drives it on an interval.
type Engine struct {
	store  *storage.Engine
	policy RetentionPolicy
	nowFn  func() time.Time
}

func NewEngine(store *storage.Engine, policy RetentionPolicy) *Engine {
	return &Engine{store: store, policy: policy, nowFn: time.Now}
}

// Run executes one compaction pass: enumerate ids, identify candidate
// versions per id, delete them in one transaction per id. It checks ctx
// between ids so a long pass can be cancelled promptly.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	start := e.nowFn()
	var result Result

	ids, err := e.store.AllEntityIDs()
	if err != nil {
		return result, err
	}

	for _, id := range ids {
		select {
		case <-ctx.Done():
			result.Duration = e.nowFn().Sub(start)
			return result, ctx.Err()
		default:
		}

		versions, err := e.store.ScanVersions(id)
		if err != nil {
			return result, err
		}
		if len(versions) == 0 {
			continue
		}

		toRemove, removesID := e.candidates(versions)
		if len(toRemove) == 0 {
			continue
		}

		tsList := make([]uint64, len(toRemove))
		bytesReclaimed := int64(0)
		tombstones := 0
		for i, v := range toRemove {
			tsList[i] = v.VersionTS
			bytesReclaimed += int64(len(v.Record.Data)) * 32 // rough estimate, no exact on-disk size API
			if v.Record.Deleted {
				tombstones++
			}
		}

		if err := e.store.DeleteVersions(id, tsList); err != nil {
			return result, err
		}

		if removesID {
			if entityType, ok := e.store.EntityTypeOf(id); ok {
				e.store.TypeIndex().Remove(entityType, id)
				if err := e.store.RemoveFromTypeIndex(entityType, id); err != nil {
					return result, err
				}
				entityLogger := log.WithEntityType(entityType)
				entityLogger.Debug().
					Str("entity_id", id.String()).
					Msg("dropped fully tombstoned id from type index")
			}
		}

		result.VersionsRemoved += len(toRemove)
		result.TombstonesRemoved += tombstones
		result.BytesReclaimed += bytesReclaimed
	}

	result.Duration = e.nowFn().Sub(start)
	metrics.CompactionVersionsRemoved.Add(float64(result.VersionsRemoved))
	metrics.CompactionTombstonesRemoved.Add(float64(result.TombstonesRemoved))
	metrics.CompactionDuration.Observe(result.Duration.Seconds())
	return result, nil
}

// candidates identifies which of an id's versions (ordered ascending,
// i.e. oldest first) are eligible for removal, and whether removing them
// would remove every surviving version (dropping the id from the type
// index too).
func (e *Engine) candidates(versions []types.VersionedRecord) ([]types.VersionedRecord, bool) {
	now := e.nowFn()
	minAgeCutoff := now.Add(-e.policy.MinAge)

	eligible := make([]bool, len(versions))
	for i, v := range versions {
		writtenAt := microsToTime(v.Record.CreatedAt)
		if !writtenAt.Before(minAgeCutoff) {
			continue // too young to touch regardless of reason
		}

		if e.policy.TTL != nil {
			ttlCutoff := now.Add(-*e.policy.TTL)
			if writtenAt.Before(ttlCutoff) {
				eligible[i] = true
			}
		}
	}

	if e.policy.MaxVersions != nil && len(versions) > *e.policy.MaxVersions {
		excess := len(versions) - *e.policy.MaxVersions
		for i := 0; i < excess && i < len(versions); i++ {
			writtenAt := microsToTime(versions[i].Record.CreatedAt)
			if writtenAt.Before(minAgeCutoff) {
				eligible[i] = true
			}
		}
	}

	// A trailing tombstone may be removed only when it is the last
	// surviving version and old enough; removing it also drops the id
	// from the type index.
	removesID := false
	last := len(versions) - 1
	if e.policy.CleanupTombstones && last >= 0 && versions[last].Record.Deleted {
		writtenAt := microsToTime(versions[last].Record.CreatedAt)
		if writtenAt.Before(minAgeCutoff) {
			allOthersRemoved := true
			for i := 0; i < last; i++ {
				if !eligible[i] {
					allOthersRemoved = false
					break
				}
			}
			if allOthersRemoved {
				eligible[last] = true
				removesID = true
			}
		}
	}

	var out []types.VersionedRecord
	for i, ok := range eligible {
		if ok {
			out = append(out, versions[i])
		}
	}
	// Never remove the single latest non-tombstoned version: if every
	// version was marked eligible but the id survives (removesID is
	// false), keep the newest version back.
	if !removesID && len(out) == len(versions) {
		out = out[:len(out)-1]
	}
	return out, removesID
}

func microsToTime(us uint64) time.Time {
	return time.UnixMicro(int64(us))
}
