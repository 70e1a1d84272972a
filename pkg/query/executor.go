package query

import (
	"sort"

	latticeerr "github.com/cuemby/latticedb/pkg/errors"
	"github.com/cuemby/latticedb/pkg/storage"
	"github.com/cuemby/latticedb/pkg/types"
)

// scanner is the minimal storage surface the executor depends on,
// satisfied by *storage.Engine; an interface here keeps the executor
// testable against an in-memory stand-in without touching bbolt.
type scanner interface {
	ScanEntityType(entityType string) ([]types.VersionedRecord, error)
}

var _ scanner = (*storage.Engine)(nil)

// columnarScanner is the optional fast path a storage backend may offer:
// the row-to-column mirror maintained alongside typed puts. The executor
// uses it only for a root scan with no filter, where the mirror's single
// cursor sweep replaces a per-id latest-pointer chase and yields the same
// rows in the same order.
type columnarScanner interface {
	ScanColumnar(entityType string) ([]types.VersionedRecord, error)
}

var _ columnarScanner = (*storage.Engine)(nil)

// Executor runs the execution pipeline: source scan, filter, order,
// paginate, include expansion, then shape into EntityBlock/EdgeBlock
// output.
type Executor struct {
	store scanner
}

func NewExecutor(store scanner) *Executor {
	return &Executor{store: store}
}

// Execute runs plan to completion. A budget overrun mid-execution
// discards the partial output and returns CodeBudgetExceeded.
func (ex *Executor) Execute(plan types.Plan) (types.QueryResult, error) {
	rows, err := ex.scanRoot(plan)
	if err != nil {
		return types.QueryResult{}, err
	}

	rows = filterRows(rows, plan.Filter)
	rows = orderRows(rows, plan.OrderBy)
	rows = paginateRows(rows, plan.Pagination)

	tracker := &budgetTracker{}
	if err := tracker.addEntities(len(rows), plan.Budget); err != nil {
		return types.QueryResult{}, err
	}

	result := types.QueryResult{}
	blocks := newBlockSet()
	blocks.add(plan.RootEntity, rows)

	if err := ex.expandIncludes(rows, plan.Includes, blocks, &result.Edges, tracker); err != nil {
		return types.QueryResult{}, err
	}

	result.Entities = blocks.toBlocks()
	return result, nil
}

// budgetTracker holds the running entity and edge counts one Execute call
// has materialized, checked against the active budget at every point new
// rows or edges are added. The planner bounds the estimate before any
// scan runs; this bounds what execution actually produced. Zero budget
// fields mean unlimited, so a hand-built Plan with no budget runs
// unchecked.
type budgetTracker struct {
	entities uint64
	edges    uint64
}

func (t *budgetTracker) addEntities(n int, budget types.FanOutBudget) error {
	t.entities += uint64(n)
	if budget.MaxEntities != 0 && t.entities > budget.MaxEntities {
		return latticeerr.New(latticeerr.CodeBudgetExceeded,
			"result rows %d exceed max_entities %d", t.entities, budget.MaxEntities)
	}
	return nil
}

func (t *budgetTracker) addEdges(n int, budget types.FanOutBudget) error {
	t.edges += uint64(n)
	if budget.MaxEdges != 0 && t.edges > budget.MaxEdges {
		return latticeerr.New(latticeerr.CodeBudgetExceeded,
			"traversed edges %d exceed max_edges %d", t.edges, budget.MaxEdges)
	}
	return nil
}

// scanRoot picks the root row source: the columnar mirror when the plan
// carries no filter and the backend maintains one, the regular typed scan
// otherwise. A mirror read failure falls back to the typed scan rather
// than failing the query, since the mirror is a best-effort accelerator.
func (ex *Executor) scanRoot(plan types.Plan) ([]types.VersionedRecord, error) {
	if plan.Filter == nil {
		if cs, ok := ex.store.(columnarScanner); ok {
			rows, err := cs.ScanColumnar(plan.RootEntity)
			if err == nil {
				return rows, nil
			}
		}
	}
	return ex.store.ScanEntityType(plan.RootEntity)
}

func filterRows(rows []types.VersionedRecord, filter *types.FilterExpr) []types.VersionedRecord {
	if filter == nil {
		return rows
	}
	out := rows[:0:0]
	for _, r := range rows {
		if Eval(filter, r.Record.Data) {
			out = append(out, r)
		}
	}
	return out
}

// orderRows stable-sorts rows on the key tuple with the documented null
// ordering: nulls sort last ascending, first descending.
func orderRows(rows []types.VersionedRecord, orderBy []types.OrderKey) []types.VersionedRecord {
	if len(orderBy) == 0 {
		return rows
	}
	out := append([]types.VersionedRecord(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		for _, key := range orderBy {
			a, b := out[i].Record.Data[key.Field], out[j].Record.Data[key.Field]
			cmp := compareOrdered(a, b, key.Direction)
			if cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	return out
}

func compareOrdered(a, b types.Value, dir types.SortDirection) int {
	aNull, bNull := a.IsNull(), b.IsNull()
	if aNull && bNull {
		return 0
	}
	if aNull || bNull {
		// nulls last ascending, first descending
		nullFirst := dir == types.Descending
		if aNull {
			if nullFirst {
				return -1
			}
			return 1
		}
		if nullFirst {
			return 1
		}
		return -1
	}
	c := compare(a, b)
	if dir == types.Descending {
		return -c
	}
	return c
}

func paginateRows(rows []types.VersionedRecord, pg *types.Pagination) []types.VersionedRecord {
	if pg == nil {
		return rows
	}
	offset := int(pg.Offset)
	if offset >= len(rows) {
		return nil
	}
	rows = rows[offset:]
	if pg.Limit > 0 && int(pg.Limit) < len(rows) {
		rows = rows[:pg.Limit]
	}
	return rows
}

// expandIncludes walks each include edge for parentRows, scanning the
// child entity type once per NestedLoop iteration or once total for
// HashJoin, then recurses into nested includes using the matched child
// rows as the next level's parents.
func (ex *Executor) expandIncludes(parentRows []types.VersionedRecord, includes []types.IncludePlan, blocks *blockSet, edges *[]types.EdgeBlock, tracker *budgetTracker) error {
	for _, inc := range includes {
		groups, err := ex.matchChildren(parentRows, inc)
		if err != nil {
			return err
		}

		edge := types.EdgeBlock{Relation: inc.Relation}
		var allChildRows []types.VersionedRecord
		for _, parent := range parentRows {
			group := groups[parent.EntityID]
			group = orderRows(group, inc.OrderBy)
			group = paginateRows(group, inc.Pagination)
			if err := tracker.addEntities(len(group), inc.Budget); err != nil {
				return err
			}
			if err := tracker.addEdges(len(group), inc.Budget); err != nil {
				return err
			}
			for _, child := range group {
				edge.Parents = append(edge.Parents, parent.EntityID)
				edge.Children = append(edge.Children, child.EntityID)
				allChildRows = append(allChildRows, child)
			}
		}
		*edges = append(*edges, edge)
		blocks.add(inc.ChildType, allChildRows)

		if len(inc.Includes) > 0 {
			if err := ex.expandIncludes(allChildRows, inc.Includes, blocks, edges, tracker); err != nil {
				return err
			}
		}
	}
	return nil
}

// matchChildren returns, per parent id, the child rows joined on
// inc.JoinField, using the strategy the planner chose. Child rows within
// a parent group preserve encounter/bucket-insertion order; reordering as
// a side effect of hashing would make results unstable across runs.
func (ex *Executor) matchChildren(parentRows []types.VersionedRecord, inc types.IncludePlan) (map[types.EntityID][]types.VersionedRecord, error) {
	groups := make(map[types.EntityID][]types.VersionedRecord)

	if inc.Strategy == types.HashJoin {
		childRows, err := ex.store.ScanEntityType(inc.ChildType)
		if err != nil {
			return nil, err
		}
		childRows = filterRows(childRows, inc.Filter)
		for _, child := range childRows {
			parentID, ok := joinFieldID(child, inc.JoinField)
			if !ok {
				continue
			}
			groups[parentID] = append(groups[parentID], child)
		}
		return groups, nil
	}

	// NestedLoop: re-scan and re-filter the child type per parent, adding
	// an equality condition on the join field, matching the cost profile
	// the planner assumed when it picked this strategy below NLThreshold.
	for _, parent := range parentRows {
		childRows, err := ex.store.ScanEntityType(inc.ChildType)
		if err != nil {
			return nil, err
		}
		childRows = filterRows(childRows, inc.Filter)
		for _, child := range childRows {
			parentID, ok := joinFieldID(child, inc.JoinField)
			if ok && parentID == parent.EntityID {
				groups[parent.EntityID] = append(groups[parent.EntityID], child)
			}
		}
	}
	return groups, nil
}

func joinFieldID(row types.VersionedRecord, joinField string) (types.EntityID, bool) {
	v, ok := row.Record.Data[joinField]
	if !ok || v.Tag != types.TagID {
		return types.NilEntityID, false
	}
	return v.Id, true
}

// blockSet accumulates rows per entity type across the root scan and
// every include, deduplicating by id so one EntityBlock is produced per
// type no matter how many include edges touched it.
type blockSet struct {
	order []string
	seen  map[string]map[types.EntityID]bool
	rows  map[string][]types.VersionedRecord
}

func newBlockSet() *blockSet {
	return &blockSet{
		seen: make(map[string]map[types.EntityID]bool),
		rows: make(map[string][]types.VersionedRecord),
	}
}

func (b *blockSet) add(entityType string, rows []types.VersionedRecord) {
	if _, ok := b.seen[entityType]; !ok {
		b.seen[entityType] = make(map[types.EntityID]bool)
		b.order = append(b.order, entityType)
	}
	for _, r := range rows {
		if b.seen[entityType][r.EntityID] {
			continue
		}
		b.seen[entityType][r.EntityID] = true
		b.rows[entityType] = append(b.rows[entityType], r)
	}
}

func (b *blockSet) toBlocks() []types.EntityBlock {
	out := make([]types.EntityBlock, 0, len(b.order))
	for _, entityType := range b.order {
		rows := b.rows[entityType]
		fieldSet := map[string]bool{}
		var fields []string
		for _, r := range rows {
			for f := range r.Record.Data {
				if !fieldSet[f] {
					fieldSet[f] = true
					fields = append(fields, f)
				}
			}
		}
		sort.Strings(fields)

		block := types.EntityBlock{EntityType: entityType, Fields: fields}
		for _, r := range rows {
			block.IDs = append(block.IDs, r.EntityID)
			vals := make([]types.Value, len(fields))
			for i, f := range fields {
				vals[i] = r.Record.Data[f]
			}
			block.Rows = append(block.Rows, vals)
		}
		out = append(out, block)
	}
	return out
}

// UnknownRelation is returned by a catalog lookup miss during planning;
// re-exported here so executor-adjacent callers do not need to import
// pkg/errors just to compare a code.
var UnknownRelation = latticeerr.CodeUnknownRelation
