package query

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cuemby/latticedb/pkg/types"
)

// CacheStats is one consistent snapshot of the cache's counters.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Size      int
	Capacity  int
	Evictions uint64
}

// PlanCache is a fixed-capacity fingerprint -> Plan map with LRU
// eviction. The underlying golang-lru container serializes every
// operation, Get included, under its own single lock, so a read can wait
// behind a write to another key. This package's own mutex guards only
// the schema-version purge in SetSchemaVersion.
type PlanCache struct {
	lru      *lru.Cache[uint64, types.Plan]
	capacity int

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	schemaVersion atomic.Uint64
	mu            sync.Mutex
}

// NewPlanCache builds a cache of the given capacity. capacity must be
// positive.
func NewPlanCache(capacity int) *PlanCache {
	c := &PlanCache{capacity: capacity}
	evictCb := func(_ uint64, _ types.Plan) {
		c.evictions.Add(1)
	}
	l, err := lru.NewWithEvict[uint64, types.Plan](capacity, evictCb)
	if err != nil {
		// Capacity <= 0 is a programming error, not a runtime condition
		// callers should branch on.
		panic(err)
	}
	c.lru = l
	return c
}

// Get returns the cached plan for fp, if present and not stale relative
// to the last SetSchemaVersion call.
func (c *PlanCache) Get(fp uint64) (types.Plan, bool) {
	plan, ok := c.lru.Get(fp)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return plan, ok
}

// Put caches plan under its own Fingerprint.
func (c *PlanCache) Put(plan types.Plan) {
	c.lru.Add(plan.Fingerprint, plan)
}

// SetSchemaVersion discards every cached entry when version advances past
// the cache's last-known schema version, so a plan compiled against an
// older schema is never served after the schema evolves.
func (c *PlanCache) SetSchemaVersion(version uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version > c.schemaVersion.Load() {
		c.schemaVersion.Store(version)
		c.lru.Purge()
	}
}

func (c *PlanCache) Stats() CacheStats {
	return CacheStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Size:      c.lru.Len(),
		Capacity:  c.capacity,
		Evictions: c.evictions.Load(),
	}
}
