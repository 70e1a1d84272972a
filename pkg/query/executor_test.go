package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/types"
)

// memScanner is a fixed in-memory ScanEntityType stand-in for executor
// tests, avoiding a live storage.Engine.
type memScanner struct {
	byType map[string][]types.VersionedRecord
}

func (m memScanner) ScanEntityType(entityType string) ([]types.VersionedRecord, error) {
	return append([]types.VersionedRecord(nil), m.byType[entityType]...), nil
}

func newID(b byte) types.EntityID {
	var id types.EntityID
	id[0] = b
	return id
}

func TestExecutorFilterOrderPaginate(t *testing.T) {
	users := []types.VersionedRecord{
		{EntityID: newID(1), VersionTS: 1, Record: types.Record{Data: Row{"name": types.StringValue("carol"), "age": types.Int64Value(40)}}},
		{EntityID: newID(2), VersionTS: 1, Record: types.Record{Data: Row{"name": types.StringValue("alice"), "age": types.Int64Value(30)}}},
		{EntityID: newID(3), VersionTS: 1, Record: types.Record{Data: Row{"name": types.StringValue("bob"), "age": types.Int64Value(20)}}},
	}
	store := memScanner{byType: map[string][]types.VersionedRecord{"user": users}}
	ex := NewExecutor(store)

	ageFilter := types.Simple("age", types.OpGe, types.Int64Value(25))
	plan := types.Plan{
		RootEntity: "user",
		Filter:     &ageFilter,
		OrderBy:    []types.OrderKey{{Field: "name", Direction: types.Ascending}},
		Pagination: &types.Pagination{Limit: 1, Offset: 0},
	}

	result, err := ex.Execute(plan)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	block := result.Entities[0]
	assert.Equal(t, "user", block.EntityType)
	require.Len(t, block.IDs, 1)
	assert.Equal(t, newID(2), block.IDs[0]) // alice sorts first among age>=25
}

func TestExecutorIncludeExpansionNestedLoop(t *testing.T) {
	userA := newID(1)
	userB := newID(2)
	users := []types.VersionedRecord{
		{EntityID: userA, VersionTS: 1, Record: types.Record{Data: Row{"name": types.StringValue("alice")}}},
		{EntityID: userB, VersionTS: 1, Record: types.Record{Data: Row{"name": types.StringValue("bob")}}},
	}
	posts := []types.VersionedRecord{
		{EntityID: newID(10), VersionTS: 1, Record: types.Record{Data: Row{"title": types.StringValue("p1"), "author_id": types.IDValue(userA)}}},
		{EntityID: newID(11), VersionTS: 1, Record: types.Record{Data: Row{"title": types.StringValue("p2"), "author_id": types.IDValue(userA)}}},
		{EntityID: newID(12), VersionTS: 1, Record: types.Record{Data: Row{"title": types.StringValue("p3"), "author_id": types.IDValue(userB)}}},
	}
	store := memScanner{byType: map[string][]types.VersionedRecord{"user": users, "post": posts}}
	ex := NewExecutor(store)

	plan := types.Plan{
		RootEntity: "user",
		Includes: []types.IncludePlan{
			{Relation: "posts", JoinField: "author_id", ChildType: "post", Strategy: types.NestedLoop},
		},
	}

	result, err := ex.Execute(plan)
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)
	require.Len(t, result.Edges, 1)

	edge := result.Edges[0]
	assert.Equal(t, "posts", edge.Relation)
	assert.Len(t, edge.Parents, 3)

	var postBlock types.EntityBlock
	for _, b := range result.Entities {
		if b.EntityType == "post" {
			postBlock = b
		}
	}
	assert.Len(t, postBlock.IDs, 3)
}

func TestExecutorIncludeExpansionHashJoin(t *testing.T) {
	userA := newID(1)
	users := []types.VersionedRecord{
		{EntityID: userA, VersionTS: 1, Record: types.Record{Data: Row{"name": types.StringValue("alice")}}},
	}
	posts := []types.VersionedRecord{
		{EntityID: newID(10), VersionTS: 1, Record: types.Record{Data: Row{"title": types.StringValue("p1"), "author_id": types.IDValue(userA)}}},
	}
	store := memScanner{byType: map[string][]types.VersionedRecord{"user": users, "post": posts}}
	ex := NewExecutor(store)

	plan := types.Plan{
		RootEntity: "user",
		Includes: []types.IncludePlan{
			{Relation: "posts", JoinField: "author_id", ChildType: "post", Strategy: types.HashJoin},
		},
	}

	result, err := ex.Execute(plan)
	require.NoError(t, err)
	require.Len(t, result.Edges[0].Children, 1)
	assert.Equal(t, newID(10), result.Edges[0].Children[0])
}

func TestExecutorBudgetExceededMidExpansion(t *testing.T) {
	userA := newID(1)
	users := []types.VersionedRecord{
		{EntityID: userA, VersionTS: 1, Record: types.Record{Data: Row{"name": types.StringValue("alice")}}},
	}
	posts := []types.VersionedRecord{
		{EntityID: newID(10), VersionTS: 1, Record: types.Record{Data: Row{"author_id": types.IDValue(userA)}}},
		{EntityID: newID(11), VersionTS: 1, Record: types.Record{Data: Row{"author_id": types.IDValue(userA)}}},
		{EntityID: newID(12), VersionTS: 1, Record: types.Record{Data: Row{"author_id": types.IDValue(userA)}}},
	}
	store := memScanner{byType: map[string][]types.VersionedRecord{"user": users, "post": posts}}
	ex := NewExecutor(store)

	plan := types.Plan{
		RootEntity: "user",
		Includes: []types.IncludePlan{
			{
				Relation: "posts", JoinField: "author_id", ChildType: "post",
				Strategy: types.HashJoin,
				Budget:   types.FanOutBudget{MaxEdges: 2},
			},
		},
	}

	result, err := ex.Execute(plan)
	require.Error(t, err)
	le, ok := latticeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, latticeerr.CodeBudgetExceeded, le.Code)
	assert.Empty(t, result.Entities, "partial output must be discarded on overrun")
	assert.Empty(t, result.Edges)
}

func TestExecutorBudgetBoundsRootScan(t *testing.T) {
	users := []types.VersionedRecord{
		{EntityID: newID(1), VersionTS: 1, Record: types.Record{Data: Row{"name": types.StringValue("alice")}}},
		{EntityID: newID(2), VersionTS: 1, Record: types.Record{Data: Row{"name": types.StringValue("bob")}}},
	}
	store := memScanner{byType: map[string][]types.VersionedRecord{"user": users}}
	ex := NewExecutor(store)

	plan := types.Plan{
		RootEntity: "user",
		Budget:     types.FanOutBudget{MaxEntities: 1},
	}

	_, err := ex.Execute(plan)
	require.Error(t, err)
	le, ok := latticeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, latticeerr.CodeBudgetExceeded, le.Code)
}

func TestNullOrderingAscendingLastDescendingFirst(t *testing.T) {
	rows := []types.VersionedRecord{
		{EntityID: newID(1), Record: types.Record{Data: Row{"score": types.NullValue()}}},
		{EntityID: newID(2), Record: types.Record{Data: Row{"score": types.Int64Value(5)}}},
	}

	asc := orderRows(rows, []types.OrderKey{{Field: "score", Direction: types.Ascending}})
	assert.Equal(t, newID(2), asc[0].EntityID)
	assert.Equal(t, newID(1), asc[1].EntityID)

	desc := orderRows(rows, []types.OrderKey{{Field: "score", Direction: types.Descending}})
	assert.Equal(t, newID(1), desc[0].EntityID)
	assert.Equal(t, newID(2), desc[1].EntityID)
}
