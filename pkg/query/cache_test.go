package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/latticedb/pkg/types"
)

func TestPlanCacheHitMiss(t *testing.T) {
	c := NewPlanCache(4)
	plan := types.Plan{Fingerprint: 42, RootEntity: "user"}

	_, ok := c.Get(42)
	assert.False(t, ok)

	c.Put(plan)
	got, ok := c.Get(42)
	require.True(t, ok)
	assert.Equal(t, plan, got)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 4, stats.Capacity)
}

func TestPlanCacheEviction(t *testing.T) {
	c := NewPlanCache(2)
	c.Put(types.Plan{Fingerprint: 1})
	c.Put(types.Plan{Fingerprint: 2})
	c.Put(types.Plan{Fingerprint: 3}) // evicts fingerprint 1

	_, ok := c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestPlanCacheSchemaVersionPurge(t *testing.T) {
	c := NewPlanCache(4)
	c.Put(types.Plan{Fingerprint: 1})
	c.SetSchemaVersion(2)

	_, ok := c.Get(1)
	assert.False(t, ok, "cache entries from a prior schema version must be discarded")
}
