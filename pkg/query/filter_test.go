package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/latticedb/pkg/types"
)

func TestEvalAndOrNot(t *testing.T) {
	row := Row{"age": types.Int64Value(30), "name": types.StringValue("alice")}

	gt := types.Simple("age", types.OpGt, types.Int64Value(18))
	eq := types.Simple("name", types.OpEq, types.StringValue("alice"))
	and := types.And(gt, eq)
	assert.True(t, Eval(&and, row))

	ne := types.Simple("name", types.OpEq, types.StringValue("bob"))
	or := types.Or(gt, ne)
	assert.True(t, Eval(&or, row))

	not := types.Not(ne)
	assert.True(t, Eval(&not, row))
}

func TestEvalNullHandling(t *testing.T) {
	row := Row{"age": types.NullValue()}

	isNull := types.Simple("age", types.OpIsNull, types.Value{})
	assert.True(t, Eval(&isNull, row))

	isNotNull := types.Simple("age", types.OpIsNotNull, types.Value{})
	assert.False(t, Eval(&isNotNull, row))

	gt := types.Simple("age", types.OpGt, types.Int64Value(1))
	assert.False(t, Eval(&gt, row))

	notGt := types.Not(gt)
	assert.True(t, Eval(&notGt, row), "Not(comparison against a null field) should flip the false to true")
}

func TestEvalNumericWidening(t *testing.T) {
	row := Row{"count": types.Int32Value(5)}
	eq := types.Simple("count", types.OpEq, types.Int64Value(5))
	assert.True(t, Eval(&eq, row))
}

func TestEvalLikePattern(t *testing.T) {
	row := Row{"name": types.StringValue("alice")}

	like1 := types.Simple("name", types.OpLike, types.StringValue("al%"))
	assert.True(t, Eval(&like1, row))

	like2 := types.Simple("name", types.OpLike, types.StringValue("a_ice"))
	assert.True(t, Eval(&like2, row))

	like3 := types.Simple("name", types.OpLike, types.StringValue("bob%"))
	assert.False(t, Eval(&like3, row))
}

func TestEvalIn(t *testing.T) {
	row := Row{"status": types.StringValue("open")}
	in := types.In("status", []types.Value{types.StringValue("open"), types.StringValue("closed")})
	assert.True(t, Eval(&in, row))
}
