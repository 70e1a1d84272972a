// Package query implements the graph query executor: the filter
// evaluator, planner with cost/fingerprinting, a bounded plan cache, and
// the scan/filter/order/paginate/include execution pipeline.
package query

import (
	"strings"

	"github.com/cuemby/latticedb/pkg/types"
)

// Row is a decoded record's fields, the shape the filter evaluator and
// executor operate on.
type Row = map[string]types.Value

// Eval evaluates a FilterExpr against a decoded row: And/Or
// short-circuit, no cross-type-class coercion, numeric widening,
// case-sensitive anchored Like, and the documented null-handling rule
// that Not(p) over a comparison against a null field evaluates to true
// (the comparison is false). Not(IsNull(x)) on a null field is false,
// since IsNull itself is true there.
func Eval(expr *types.FilterExpr, row Row) bool {
	if expr == nil {
		return true
	}
	switch expr.Kind {
	case types.FilterAnd:
		for _, child := range expr.Children {
			if !Eval(&child, row) {
				return false
			}
		}
		return true
	case types.FilterOr:
		for _, child := range expr.Children {
			if Eval(&child, row) {
				return true
			}
		}
		return false
	case types.FilterNot:
		return !Eval(expr.Negated, row)
	default:
		return evalSimple(expr, row)
	}
}

func evalSimple(expr *types.FilterExpr, row Row) bool {
	field := row[expr.Field]

	switch expr.Op {
	case types.OpIsNull:
		return field.IsNull()
	case types.OpIsNotNull:
		return !field.IsNull()
	}

	// Every other operator over a null field is false; only IsNull and
	// IsNotNull above ever see a null. Not() over this still sees that
	// false and flips it to true at the Not node above, not here.
	if field.IsNull() {
		return false
	}

	switch expr.Op {
	case types.OpEq:
		return valuesEqual(field, expr.Operand)
	case types.OpNe:
		return !valuesEqual(field, expr.Operand)
	case types.OpLt:
		return compare(field, expr.Operand) < 0
	case types.OpLe:
		return compare(field, expr.Operand) <= 0
	case types.OpGt:
		return compare(field, expr.Operand) > 0
	case types.OpGe:
		return compare(field, expr.Operand) >= 0
	case types.OpLike:
		return likeMatch(field, expr.Operand)
	case types.OpIn:
		for _, candidate := range expr.Operands {
			if valuesEqual(field, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// numericClass reports whether a tag is in the widened numeric comparison
// domain.
func numericClass(tag types.ValueTag) bool {
	switch tag {
	case types.TagInt32, types.TagInt64, types.TagFloat32, types.TagFloat64:
		return true
	default:
		return false
	}
}

// valuesEqual implements Eq/Ne/In's equality rule: comparison across
// distinct scalar tag classes is false, except numeric tags widen to a
// common domain before comparing.
func valuesEqual(a, b types.Value) bool {
	if numericClass(a.Tag) && numericClass(b.Tag) {
		return numericEqual(a, b)
	}
	if a.Tag != b.Tag {
		return false
	}
	switch a.Tag {
	case types.TagBool:
		return a.B == b.B
	case types.TagString:
		return a.S == b.S
	case types.TagBytes:
		return string(a.Bs) == string(b.Bs)
	case types.TagTimestamp:
		return a.Ts == b.Ts
	case types.TagID:
		return a.Id == b.Id
	default:
		return false
	}
}

func numericEqual(a, b types.Value) bool {
	// Prefer integer comparison when both sides are integral, to avoid
	// float rounding surprises on large int64 values.
	ai, aIsInt := a.AsInt64()
	bi, bIsInt := b.AsInt64()
	if aIsInt && bIsInt {
		return ai == bi
	}
	af, _ := a.AsFloat64()
	bf, _ := b.AsFloat64()
	return af == bf
}

// compare returns -1/0/1 for a vs b under the same widening rule as
// valuesEqual; strings and timestamps compare within their own tag, and
// every other comparison returns 0 (treated as
// equal, since Lt/Le/Gt/Ge over incomparable types is not meaningful and
// the filter IR never asks for it in a well-planned query).
func compare(a, b types.Value) int {
	if numericClass(a.Tag) && numericClass(b.Tag) {
		af, _ := a.AsFloat64()
		bf, _ := b.AsFloat64()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	if a.Tag == types.TagString && b.Tag == types.TagString {
		return strings.Compare(a.S, b.S)
	}
	if a.Tag == types.TagTimestamp && b.Tag == types.TagTimestamp {
		switch {
		case a.Ts < b.Ts:
			return -1
		case a.Ts > b.Ts:
			return 1
		default:
			return 0
		}
	}
	return 0
}

// likeMatch implements the Like pattern: % = any sequence (including
// empty), _ = any single code point, case-sensitive, anchored to the
// whole string.
func likeMatch(field, pattern types.Value) bool {
	if field.Tag != types.TagString || pattern.Tag != types.TagString {
		return false
	}
	return likeMatchRunes([]rune(field.S), []rune(pattern.S))
}

func likeMatchRunes(s, p []rune) bool {
	// Classic DP over the pattern/string, anchored at both ends.
	sLen, pLen := len(s), len(p)
	dp := make([][]bool, sLen+1)
	for i := range dp {
		dp[i] = make([]bool, pLen+1)
	}
	dp[0][0] = true
	for j := 1; j <= pLen; j++ {
		if p[j-1] == '%' {
			dp[0][j] = dp[0][j-1]
		}
	}
	for i := 1; i <= sLen; i++ {
		for j := 1; j <= pLen; j++ {
			switch p[j-1] {
			case '%':
				dp[i][j] = dp[i-1][j] || dp[i][j-1]
			case '_':
				dp[i][j] = dp[i-1][j-1]
			default:
				dp[i][j] = dp[i-1][j-1] && s[i-1] == p[j-1]
			}
		}
	}
	return dp[sLen][pLen]
}
