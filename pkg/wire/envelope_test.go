package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/types"
)

func TestRequestRoundTrip(t *testing.T) {
	filter := types.Simple("status", types.OpEq, types.StringValue("active"))
	req := Request{
		ID:            7,
		SchemaVersion: 2,
		Token:         "cap-token",
		Operation: Operation{
			Kind: OpQuery,
			Query: &types.GraphQuery{
				RootEntity: "user",
				Filter:     &filter,
				OrderBy:    []types.OrderKey{{Field: "name", Direction: types.Ascending}},
				Includes:   []types.IncludeQuery{{Relation: "posts"}},
			},
		},
	}

	raw, err := EncodeRequest(req)
	require.NoError(t, err)

	got, err := DecodeRequest(raw)
	require.NoError(t, err)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, req.Token, got.Token)
	assert.Equal(t, OpQuery, got.Operation.Kind)
	require.NotNil(t, got.Operation.Query)
	assert.Equal(t, "user", got.Operation.Query.RootEntity)
	require.NotNil(t, got.Operation.Query.Filter)
	assert.Equal(t, "status", got.Operation.Query.Filter.Field)
	assert.Equal(t, "active", got.Operation.Query.Filter.Operand.S)
}

func TestMutateRequestRoundTrip(t *testing.T) {
	id := types.NewEntityID()
	req := Request{
		ID: 9,
		Operation: Operation{
			Kind: OpMutate,
			Mutation: &types.Mutation{
				Op:         types.MutationInsert,
				EntityType: "user",
				EntityID:   id,
				Data:       map[string]types.Value{"name": types.StringValue("alice")},
				VersionTS:  100,
			},
		},
	}

	raw, err := EncodeRequest(req)
	require.NoError(t, err)

	got, err := DecodeRequest(raw)
	require.NoError(t, err)
	require.NotNil(t, got.Operation.Mutation)
	assert.Equal(t, id, got.Operation.Mutation.EntityID)
	assert.Equal(t, uint64(100), got.Operation.Mutation.VersionTS)
	assert.Equal(t, "alice", got.Operation.Mutation.Data["name"].S)
}

func TestResponseRoundTripCarriesSchemaVersion(t *testing.T) {
	resp := Response{
		ID:                  7,
		OK:                  true,
		ServerSchemaVersion: 4,
		LSNs:                []uint64{11, 12},
	}

	raw, err := EncodeResponse(resp)
	require.NoError(t, err)

	got, err := DecodeResponse(raw)
	require.NoError(t, err)
	assert.True(t, got.OK)
	assert.Equal(t, uint64(4), got.ServerSchemaVersion)
	assert.Equal(t, []uint64{11, 12}, got.LSNs)
}

func TestErrorResponseTranslatesCodes(t *testing.T) {
	resp := ErrorResponse(3, latticeerr.NotLeader("node-2", "10.0.0.2:7100"))
	assert.Equal(t, latticeerr.CodeNotLeader, resp.Status)
	assert.Equal(t, "node-2", resp.LeaderID)
	assert.Equal(t, "10.0.0.2:7100", resp.LeaderAddr)

	resp = ErrorResponse(4, assert.AnError)
	assert.Equal(t, latticeerr.CodeInternal, resp.Status, "a bare Go error never leaks its type, only CodeInternal")
}
