package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/types"
)

func testBundle() types.SchemaBundle {
	return types.SchemaBundle{
		Version: 1,
		Entities: []types.EntityDef{
			{Name: "user", Fields: []types.FieldDef{{Name: "name"}, {Name: "age"}}},
			{Name: "post", Fields: []types.FieldDef{{Name: "title"}, {Name: "author_id"}}},
		},
		Relations: []types.RelationDef{
			{Name: "posts", FromEntity: "user", ToEntity: "post", Kind: types.RelationHasMany, JoinField: "author_id"},
		},
	}
}

func TestPlannerResolvesRelationAndStrategy(t *testing.T) {
	p := NewPlanner(MapStats{"user": 10, "post": 5})
	q := types.GraphQuery{
		RootEntity: "user",
		Fields:     []string{"name"},
		Includes: []types.IncludeQuery{
			{Relation: "posts", Fields: []string{"title"}},
		},
	}

	plan, err := p.Plan(q, testBundle())
	require.NoError(t, err)
	require.Len(t, plan.Includes, 1)
	assert.Equal(t, "post", plan.Includes[0].ChildType)
	assert.Equal(t, "author_id", plan.Includes[0].JoinField)
	assert.Equal(t, types.NestedLoop, plan.Includes[0].Strategy)
}

func TestPlannerPicksHashJoinAboveThreshold(t *testing.T) {
	p := NewPlanner(MapStats{"user": NLThreshold + 1, "post": 5})
	q := types.GraphQuery{
		RootEntity: "user",
		Includes:   []types.IncludeQuery{{Relation: "posts"}},
	}
	plan, err := p.Plan(q, testBundle())
	require.NoError(t, err)
	assert.Equal(t, types.HashJoin, plan.Includes[0].Strategy)
}

func TestPlannerUnknownEntity(t *testing.T) {
	p := NewPlanner(MapStats{})
	_, err := p.Plan(types.GraphQuery{RootEntity: "widget"}, testBundle())
	require.Error(t, err)
	le, ok := latticeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, latticeerr.CodeUnknownEntity, le.Code)
}

func TestPlannerBudgetExceeded(t *testing.T) {
	p := NewPlanner(MapStats{"user": 500, "post": 1000})
	q := types.GraphQuery{
		RootEntity: "user",
		Includes:   []types.IncludeQuery{{Relation: "posts"}},
		Budget:     types.FanOutBudget{MaxEntities: 100, MaxEdges: 100, MaxDepth: 5},
	}
	_, err := p.Plan(q, testBundle())
	require.Error(t, err)
	le, ok := latticeerr.As(err)
	require.True(t, ok)
	assert.Equal(t, latticeerr.CodeBudgetExceeded, le.Code)
}

func TestPlannerSelectivityScalesWithParentsNotChildType(t *testing.T) {
	// 200 parents joining into a child type of cardinality 1000 expects
	// ~200 edges under 1/N selectivity, comfortably inside the budget; the
	// child type's own size must not multiply into the estimate.
	p := NewPlanner(MapStats{"user": 200, "post": 1000})
	q := types.GraphQuery{
		RootEntity: "user",
		Includes:   []types.IncludeQuery{{Relation: "posts"}},
		Budget:     types.FanOutBudget{MaxEntities: 50_000, MaxEdges: 50_000, MaxDepth: 5},
	}
	_, err := p.Plan(q, testBundle())
	require.NoError(t, err)
}

func TestFingerprintIgnoresLiteralOperands(t *testing.T) {
	p := NewPlanner(MapStats{"user": 10})
	f1 := types.Simple("age", types.OpGt, types.Int64Value(18))
	f2 := types.Simple("age", types.OpGt, types.Int64Value(99))

	q1 := types.GraphQuery{RootEntity: "user", Filter: &f1}
	q2 := types.GraphQuery{RootEntity: "user", Filter: &f2}

	plan1, err := p.Plan(q1, testBundle())
	require.NoError(t, err)
	plan2, err := p.Plan(q2, testBundle())
	require.NoError(t, err)

	assert.Equal(t, plan1.Fingerprint, plan2.Fingerprint)
}

func TestFingerprintDiffersOnFieldName(t *testing.T) {
	p := NewPlanner(MapStats{"user": 10})
	f1 := types.Simple("age", types.OpGt, types.Int64Value(18))
	f2 := types.Simple("name", types.OpGt, types.StringValue("a"))

	plan1, err := p.Plan(types.GraphQuery{RootEntity: "user", Filter: &f1}, testBundle())
	require.NoError(t, err)
	plan2, err := p.Plan(types.GraphQuery{RootEntity: "user", Filter: &f2}, testBundle())
	require.NoError(t, err)

	assert.NotEqual(t, plan1.Fingerprint, plan2.Fingerprint)
}
