package query

import (
	"github.com/cuemby/latticedb/pkg/types"
)

// bundleSource is the minimal catalog surface Engine depends on.
type bundleSource interface {
	Current() types.SchemaBundle
}

// Engine composes the planner, plan cache, and executor into the single
// call the wire server and any embedded caller make per incoming
// GraphQuery: plan against the current schema bundle, record a cache hit
// or miss by the plan's fingerprint, then execute.
//
// Planning in this implementation is a pure in-memory structural walk
// with no I/O, so a cache miss costs little beyond what a hit costs;
// Engine still always re-plans rather than splicing a new query's
// literals into a cached plan template. Recomputing is simpler and
// exactly as expensive, but it does mean this plan cache's primary value
// is the hit/miss accounting over literal-only query variants and a hook
// future planner work (e.g. statistics-driven costing) can use to skip
// replanning outright.
type Engine struct {
	catalog  bundleSource
	planner  *Planner
	cache    *PlanCache
	executor *Executor
}

func NewEngine(catalog bundleSource, planner *Planner, cache *PlanCache, executor *Executor) *Engine {
	return &Engine{catalog: catalog, planner: planner, cache: cache, executor: executor}
}

// Run plans and executes query against the catalog's current bundle,
// returning the shaped result and whether the plan's fingerprint was
// already cached.
func (e *Engine) Run(query types.GraphQuery) (types.QueryResult, bool, error) {
	bundle := e.catalog.Current()
	e.cache.SetSchemaVersion(bundle.Version)

	plan, err := e.planner.Plan(query, bundle)
	if err != nil {
		return types.QueryResult{}, false, err
	}

	_, hit := e.cache.Get(plan.Fingerprint)
	if !hit {
		e.cache.Put(plan)
	}

	result, err := e.executor.Execute(plan)
	if err != nil {
		return types.QueryResult{}, hit, err
	}
	return result, hit, nil
}
