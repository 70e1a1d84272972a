package raft

import (
	"fmt"
	"io"
	"sort"
	"sync"

	hraft "github.com/hashicorp/raft"

	"github.com/cuemby/latticedb/pkg/changelog"
	"github.com/cuemby/latticedb/pkg/storage"
	"github.com/cuemby/latticedb/pkg/types"
)

// StateMachine is this database's raft.FSM: a command-dispatch Apply, a
// Snapshot that captures a point-in-time view, and a Restore that
// repopulates storage from it. Apply always goes through exactly one
// storage.Transaction so that every mutation in a batch, the change-log
// entries describing them, and the last_applied bookkeeping land in one
// bbolt commit, never partially.
type StateMachine struct {
	mu    sync.RWMutex
	store *storage.Engine
	log   *changelog.Log
}

func NewStateMachine(store *storage.Engine, log *changelog.Log) *StateMachine {
	return &StateMachine{store: store, log: log}
}

// Apply applies one committed raft log entry. Determinism: the
// only inputs are the entry payload and current storage state: record
// timestamps and entity ids travel inside the Mutation rather than being
// generated here, so every replica produces identical bytes.
func (f *StateMachine) Apply(entry *hraft.Log) interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	tx := f.store.Begin()

	if entry.Type == hraft.LogCommand {
		cmd, err := DecodeCommand(entry.Data)
		if err != nil {
			return err
		}

		lsnOuts := make([]*uint64, len(cmd.Mutations))
		for i, mut := range cmd.Mutations {
			before := f.readBefore(mut)
			changeType, err := applyMutation(tx, mut)
			if err != nil {
				return err
			}

			var lsn uint64
			lsnOuts[i] = &lsn
			entry := types.ChangeLogEntry{
				Timestamp:     mut.VersionTS,
				EntityType:    mut.EntityType,
				EntityID:      mut.EntityID,
				ChangeType:    changeType,
				ChangedFields: changedFields(mut, before),
				AfterData:     mut.Data,
				BeforeData:    before,
			}
			tx.AddHook(f.log.AppendHook(entry, lsnOuts[i]))
		}
	}

	tx.AddHook(lastAppliedHook(entry.Index))

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}

// changedFields lists the fields a mutation touched, sorted so replicas
// and CDC consumers see a stable order: every written field, plus any
// prior field a delete removed.
func changedFields(mut types.Mutation, before map[string]types.Value) []string {
	var src map[string]types.Value
	if mut.Op == types.MutationDelete {
		src = before
	} else {
		src = mut.Data
	}
	if len(src) == 0 {
		return nil
	}
	out := make([]string, 0, len(src))
	for f := range src {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (f *StateMachine) readBefore(mut types.Mutation) map[string]types.Value {
	if mut.Op == types.MutationInsert {
		return nil
	}
	_, rec, ok, err := f.store.GetLatest(mut.EntityID)
	if err != nil || !ok || rec.Deleted {
		return nil
	}
	return rec.Data
}

func applyMutation(tx *storage.Transaction, mut types.Mutation) (types.ChangeType, error) {
	key := types.VersionedKey{EntityID: mut.EntityID, VersionTS: mut.VersionTS}

	switch mut.Op {
	case types.MutationInsert:
		tx.PutTyped(mut.EntityType, key, types.Record{Data: mut.Data, CreatedAt: mut.VersionTS})
		return types.ChangeInsert, nil
	case types.MutationUpdate:
		tx.PutTyped(mut.EntityType, key, types.Record{Data: mut.Data, CreatedAt: mut.VersionTS})
		return types.ChangeUpdate, nil
	case types.MutationDelete:
		tx.Delete(mut.EntityType, mut.EntityID, mut.VersionTS, mut.VersionTS)
		return types.ChangeDelete, nil
	default:
		return 0, fmt.Errorf("unknown mutation op %d", mut.Op)
	}
}

// Snapshot builds a consistent point-in-time copy of the storage state
// this state machine owns.
func (f *StateMachine) Snapshot() (hraft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return newSnapshot(f.store)
}

// Restore truncates existing state and repopulates it from a previously
// built snapshot stream.
func (f *StateMachine) Restore(rc io.ReadCloser) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	defer rc.Close()
	return restoreSnapshot(f.store, rc)
}
