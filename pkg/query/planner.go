package query

import (
	"fmt"
	"hash/fnv"
	"strings"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/types"
)

// NLThreshold is the static tunable join-strategy crossover: an include
// edge with an estimated parent count at or below this uses NestedLoop,
// above it uses HashJoin.
const NLThreshold = 100

// Stats supplies the planner with entity cardinality estimates. MapStats
// below, a fixed map, is the implementation this repository provides; it
// is what both the tests and the serve command use.
type Stats interface {
	EntityCardinality(entityType string) uint64
}

// MapStats is a fixed-cardinality Stats implementation for tests and for
// callers that have not wired live statistics yet.
type MapStats map[string]uint64

func (m MapStats) EntityCardinality(entityType string) uint64 {
	if n, ok := m[entityType]; ok {
		return n
	}
	return 1
}

// Planner compiles a GraphQuery into a cacheable Plan against a schema
// bundle, enforcing the fan-out budget before any scan executes.
type Planner struct {
	stats Stats
}

func NewPlanner(stats Stats) *Planner {
	return &Planner{stats: stats}
}

// Plan builds a Plan tree from query, resolving field/relation names
// against bundle and choosing a join strategy per include edge.
func (p *Planner) Plan(query types.GraphQuery, bundle types.SchemaBundle) (types.Plan, error) {
	root, ok := bundle.Entity(query.RootEntity)
	if !ok {
		return types.Plan{}, latticeerr.New(latticeerr.CodeUnknownEntity, "unknown entity %q", query.RootEntity)
	}
	if err := p.validateFields(root, query.Fields); err != nil {
		return types.Plan{}, err
	}

	budget := query.Budget
	if budget.MaxEntities == 0 {
		budget.MaxEntities = ^uint64(0)
	}
	if budget.MaxEdges == 0 {
		budget.MaxEdges = ^uint64(0)
	}
	if budget.MaxDepth == 0 {
		budget.MaxDepth = ^uint32(0)
	}

	rootEstimate := p.stats.EntityCardinality(query.RootEntity)
	includes, err := p.planIncludes(query.Includes, bundle, rootEstimate, budget, 1)
	if err != nil {
		return types.Plan{}, err
	}

	plan := types.Plan{
		RootEntity: query.RootEntity,
		Fields:     query.Fields,
		Filter:     query.Filter,
		OrderBy:    query.OrderBy,
		Pagination: query.Pagination,
		Budget:     budget,
		Includes:   includes,
	}
	plan.Fingerprint = Fingerprint(plan)
	return plan, nil
}

func (p *Planner) validateFields(entity types.EntityDef, fields []string) error {
	for _, f := range fields {
		if _, ok := entity.Field(f); !ok {
			return latticeerr.New(latticeerr.CodeUnknownField, "entity %q has no field %q", entity.Name, f)
		}
	}
	return nil
}

func (p *Planner) planIncludes(includes []types.IncludeQuery, bundle types.SchemaBundle, parentsEstimate uint64, budget types.FanOutBudget, depth uint32) ([]types.IncludePlan, error) {
	if len(includes) == 0 {
		return nil, nil
	}
	if depth > budget.MaxDepth {
		return nil, latticeerr.New(latticeerr.CodeBudgetExceeded, "include depth %d exceeds max_depth %d", depth, budget.MaxDepth)
	}

	out := make([]types.IncludePlan, 0, len(includes))
	for _, inc := range includes {
		rel, ok := bundle.Relation(inc.Relation)
		if !ok {
			return nil, latticeerr.New(latticeerr.CodeUnknownRelation, "unknown relation %q", inc.Relation)
		}
		childEntity, ok := bundle.Entity(rel.ToEntity)
		if !ok {
			return nil, latticeerr.New(latticeerr.CodeUnknownEntity, "relation %q targets unknown entity %q", inc.Relation, rel.ToEntity)
		}
		if err := p.validateFields(childEntity, inc.Fields); err != nil {
			return nil, err
		}

		childCardinality := p.stats.EntityCardinality(rel.ToEntity)
		edges := parentsEstimate * expectedChildrenPerParent(childCardinality)
		if edges > budget.MaxEdges || edges > budget.MaxEntities {
			return nil, latticeerr.New(latticeerr.CodeBudgetExceeded, "include %q exceeds fan-out budget", inc.Relation)
		}

		strategy := NestedLoopOrHash(parentsEstimate)

		children, err := p.planIncludes(inc.Includes, bundle, edges, budget, depth+1)
		if err != nil {
			return nil, err
		}

		out = append(out, types.IncludePlan{
			Relation:   inc.Relation,
			Fields:     inc.Fields,
			Filter:     inc.Filter,
			OrderBy:    inc.OrderBy,
			Pagination: inc.Pagination,
			Strategy:   strategy,
			JoinField:  rel.JoinField,
			ChildType:  rel.ToEntity,
			Budget:     budget,
			Includes:   children,
		})
	}
	return out, nil
}

// expectedChildrenPerParent applies the default 1/N selectivity rule (N =
// the child type's estimated cardinality) when no better statistic is
// available: an equality join on the child's join field matches each of
// the N children with probability 1/N, so a parent expects N * 1/N = 1
// child and the edge estimate stays proportional to the parent count
// rather than multiplying by the whole child type.
func expectedChildrenPerParent(childCardinality uint64) uint64 {
	if childCardinality == 0 {
		return 0
	}
	// N * (1/N): the two cancel, independent of the child type's size.
	return 1
}

// NestedLoopOrHash picks the join strategy for one include edge given an
// estimated parent count.
func NestedLoopOrHash(parentsEstimate uint64) types.JoinStrategy {
	if parentsEstimate <= NLThreshold {
		return types.NestedLoop
	}
	return types.HashJoin
}

// Fingerprint computes a deterministic structural hash over plan: root
// entity, selected fields, filter tree shape (operators and field names,
// never literal operands), order list, pagination presence, and the
// include tree. Two plans differing only in a filter's literal operand
// produce equal fingerprints.
func Fingerprint(plan types.Plan) uint64 {
	h := fnv.New64a()
	writeFingerprint(h, plan)
	return h.Sum64()
}

func writeFingerprint(h interface{ Write([]byte) (int, error) }, plan types.Plan) {
	fmt.Fprintf(h, "root:%s\n", plan.RootEntity)
	fmt.Fprintf(h, "fields:%s\n", strings.Join(plan.Fields, ","))
	writeFilterShape(h, plan.Filter)
	for _, ob := range plan.OrderBy {
		fmt.Fprintf(h, "order:%s:%d\n", ob.Field, ob.Direction)
	}
	fmt.Fprintf(h, "paginated:%v\n", plan.Pagination != nil)
	for _, inc := range plan.Includes {
		writeIncludeFingerprint(h, inc)
	}
}

func writeIncludeFingerprint(h interface{ Write([]byte) (int, error) }, inc types.IncludePlan) {
	fmt.Fprintf(h, "include:%s:fields:%s\n", inc.Relation, strings.Join(inc.Fields, ","))
	writeFilterShape(h, inc.Filter)
	for _, ob := range inc.OrderBy {
		fmt.Fprintf(h, "include_order:%s:%d\n", ob.Field, ob.Direction)
	}
	fmt.Fprintf(h, "include_paginated:%v\n", inc.Pagination != nil)
	for _, child := range inc.Includes {
		writeIncludeFingerprint(h, child)
	}
}

// writeFilterShape hashes operator and field-name structure only, never
// an operand's literal value; a fingerprint must be reusable across
// literal-only query variants.
func writeFilterShape(h interface{ Write([]byte) (int, error) }, expr *types.FilterExpr) {
	if expr == nil {
		fmt.Fprint(h, "filter:none\n")
		return
	}
	switch expr.Kind {
	case types.FilterAnd:
		fmt.Fprint(h, "and(\n")
		for _, c := range expr.Children {
			writeFilterShape(h, &c)
		}
		fmt.Fprint(h, ")\n")
	case types.FilterOr:
		fmt.Fprint(h, "or(\n")
		for _, c := range expr.Children {
			writeFilterShape(h, &c)
		}
		fmt.Fprint(h, ")\n")
	case types.FilterNot:
		fmt.Fprint(h, "not(\n")
		writeFilterShape(h, expr.Negated)
		fmt.Fprint(h, ")\n")
	default:
		fmt.Fprintf(h, "simple:%s:%d\n", expr.Field, expr.Op)
	}
}
