package storage

import (
	"bytes"
	"sync"

	"github.com/google/btree"

	"github.com/cuemby/latticedb/pkg/types"
)

// typeIndexEntry is the btree element for one (entity_type, entity_id)
// membership, ordered by id so iteration over one type is deterministic
// for a fixed database state, matching scan_entity_type's contract.
type typeIndexEntry struct {
	id types.EntityID
}

func (a typeIndexEntry) Less(than btree.Item) bool {
	b := than.(typeIndexEntry)
	return bytes.Compare(a.id[:], b.id[:]) < 0
}

// TypeIndex is the in-memory mirror of the EntityTypeIndex: a reverse
// map from entity type name to the set of ids that have at least one
// non-tombstoned version. It is rebuilt from the bbolt type-index bucket
// on Open and kept in sync thereafter by PutTyped and compaction's lazy
// cleanup.
type TypeIndex struct {
	mu   sync.RWMutex
	tree map[string]*btree.BTree
}

func NewTypeIndex() *TypeIndex {
	return &TypeIndex{tree: make(map[string]*btree.BTree)}
}

func (t *TypeIndex) treeFor(entityType string) *btree.BTree {
	bt, ok := t.tree[entityType]
	if !ok {
		bt = btree.New(32)
		t.tree[entityType] = bt
	}
	return bt
}

func (t *TypeIndex) Add(entityType string, id types.EntityID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.treeFor(entityType).ReplaceOrInsert(typeIndexEntry{id: id})
}

func (t *TypeIndex) Remove(entityType string, id types.EntityID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bt, ok := t.tree[entityType]
	if !ok {
		return
	}
	bt.Delete(typeIndexEntry{id: id})
}

func (t *TypeIndex) Has(entityType string, id types.EntityID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bt, ok := t.tree[entityType]
	if !ok {
		return false
	}
	return bt.Has(typeIndexEntry{id: id})
}

// Each walks every id registered under entityType in ascending id order,
// stopping early if fn returns false.
func (t *TypeIndex) Each(entityType string, fn func(id types.EntityID) bool) {
	t.mu.RLock()
	bt, ok := t.tree[entityType]
	if !ok {
		t.mu.RUnlock()
		return
	}
	// Snapshot ids under the lock; btree.Ascend holding the lock across fn
	// would risk deadlock if fn re-enters the index.
	ids := make([]types.EntityID, 0, bt.Len())
	bt.Ascend(func(item btree.Item) bool {
		ids = append(ids, item.(typeIndexEntry).id)
		return true
	})
	t.mu.RUnlock()

	for _, id := range ids {
		if !fn(id) {
			return
		}
	}
}

func (t *TypeIndex) Len(entityType string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	bt, ok := t.tree[entityType]
	if !ok {
		return 0
	}
	return bt.Len()
}
