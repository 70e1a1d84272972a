package security

import (
	"context"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/types"
)

type tokenKey struct{}

// ContextWithToken attaches a raw capability token string to ctx for a
// Guard to resolve later. An empty token resolves to the anonymous,
// fully-capable SecurityContext.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenKey{}, token)
}

// Guard is the core-side half of the security layer: it
// resolves the caller's SecurityContext from the request's token, checks
// capability admission, and ANDs the context's row filter into
// outgoing read queries. Field masking and attribute-driven policy
// evaluation happen in the layer above the core, after the executor
// returns rows; Guard only implements the admission and filter-injection
// mechanism the core exposes for that layer to use.
type Guard struct {
	tokens *TokenManager
}

func NewGuard(tokens *TokenManager) *Guard {
	return &Guard{tokens: tokens}
}

func (g *Guard) resolve(ctx context.Context) (SecurityContext, error) {
	token, ok := ctx.Value(tokenKey{}).(string)
	if !ok || token == "" {
		return anonymous, nil
	}
	return g.tokens.Validate(token)
}

// CheckWrite admits or rejects a mutation on capability grounds.
func (g *Guard) CheckWrite(ctx context.Context) error {
	sc, err := g.resolve(ctx)
	if err != nil {
		return err
	}
	if !sc.HasCapability(CapWrite) {
		return latticeerr.New(latticeerr.CodePermissionDenied, "missing write capability")
	}
	return nil
}

// CheckQuery admits or rejects a read on capability grounds, for read
// surfaces that take no GraphQuery to AND a row filter into (the change
// stream). Row-level filtering of the change stream itself is a
// collaborator's concern, like field masking.
func (g *Guard) CheckQuery(ctx context.Context) error {
	if g == nil {
		return nil
	}
	sc, err := g.resolve(ctx)
	if err != nil {
		return err
	}
	if !sc.HasCapability(CapQuery) {
		return latticeerr.New(latticeerr.CodePermissionDenied, "missing query capability")
	}
	return nil
}

// CheckWriteOrNil is CheckWrite for callers that may be built with no
// Guard configured at all (a single-process embedding with no admission
// layer): a nil Guard admits every write, exactly as the anonymous
// SecurityContext does for a Guard that exists but received no token.
func (g *Guard) CheckWriteOrNil(ctx context.Context) error {
	if g == nil {
		return nil
	}
	return g.CheckWrite(ctx)
}

// FilterQuery admits or rejects query on capability grounds, then returns
// a copy with the caller's row filter ANDed into its top-level filter and
// its budget narrowed to the caller's ceiling, whichever is smaller.
func (g *Guard) FilterQuery(ctx context.Context, query types.GraphQuery) (types.GraphQuery, error) {
	sc, err := g.resolve(ctx)
	if err != nil {
		return types.GraphQuery{}, err
	}
	if !sc.HasCapability(CapQuery) {
		return types.GraphQuery{}, latticeerr.New(latticeerr.CodePermissionDenied, "missing query capability")
	}

	if sc.RowFilter != nil {
		if query.Filter == nil {
			query.Filter = sc.RowFilter
		} else {
			query.Filter = &types.FilterExpr{
				Kind:     types.FilterAnd,
				Children: []types.FilterExpr{*query.Filter, *sc.RowFilter},
			}
		}
	}
	if sc.Budget != nil {
		query.Budget = narrowBudget(query.Budget, *sc.Budget)
	}
	return query, nil
}

// narrowBudget returns the tighter of requested and ceiling on every
// field independently: a caller can ask for less than its ceiling, never
// more.
func narrowBudget(requested, ceiling types.FanOutBudget) types.FanOutBudget {
	if ceiling.MaxEntities != 0 && (requested.MaxEntities == 0 || requested.MaxEntities > ceiling.MaxEntities) {
		requested.MaxEntities = ceiling.MaxEntities
	}
	if ceiling.MaxDepth != 0 && (requested.MaxDepth == 0 || requested.MaxDepth > ceiling.MaxDepth) {
		requested.MaxDepth = ceiling.MaxDepth
	}
	if ceiling.MaxEdges != 0 && (requested.MaxEdges == 0 || requested.MaxEdges > ceiling.MaxEdges) {
		requested.MaxEdges = ceiling.MaxEdges
	}
	return requested
}
