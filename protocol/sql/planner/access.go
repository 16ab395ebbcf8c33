package planner

import (
	"github.com/guileen/kvql/protocol/sql/parser"
	"github.com/guileen/kvql/storage/shared"
	"github.com/guileen/kvql/types"
)

// maxTerms bounds the disjunctive normal form considered for point lookups.
const maxTerms = 64

// accessPath picks the cheapest Fetch for t under pred: point lookup, then
// range scan, then full scan. pred only narrows what is read; the caller
// always re-applies it.
func accessPath(t *tableRef, pred parser.Expr) *FetchStep {
	step := &FetchStep{Table: t.name, Pattern: t.pattern, Schema: t.schema}

	terms, ok := dnf(pred)
	if ok {
		if keys, ok := pointKeys(t, terms); ok {
			step.Strategy = StrategyPoint
			step.Keys = keys
			return step
		}
		if len(terms) == 1 && rangeBounds(t, terms[0], step) {
			step.Strategy = StrategyRange
			return step
		}
	}

	step.Strategy = StrategyFull
	step.Glob = t.pattern.Glob()
	step.Unindexed = true
	return step
}

// dnf flattens pred into an OR of AND-ed comparisons. ok is false for an
// empty predicate or one whose expansion exceeds maxTerms.
func dnf(pred parser.Expr) ([][]*parser.Comparison, bool) {
	switch n := pred.(type) {
	case *parser.Comparison:
		return [][]*parser.Comparison{{n}}, true
	case *parser.BinaryExpr:
		left, ok := dnf(n.Left)
		if !ok {
			return nil, false
		}
		right, ok := dnf(n.Right)
		if !ok {
			return nil, false
		}
		if n.Op == parser.OpOr {
			if len(left)+len(right) > maxTerms {
				return nil, false
			}
			return append(append([][]*parser.Comparison{}, left...), right...), true
		}
		if len(left)*len(right) > maxTerms {
			return nil, false
		}
		out := make([][]*parser.Comparison, 0, len(left)*len(right))
		for _, l := range left {
			for _, r := range right {
				term := make([]*parser.Comparison, 0, len(l)+len(r))
				term = append(append(term, l...), r...)
				out = append(out, term)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// equality returns the first "column = literal" on t.column within term.
func equality(t *tableRef, term []*parser.Comparison, column string) (parser.Literal, bool) {
	for _, c := range term {
		if c.Op == parser.OpEq && c.Column.Table == t.name && c.Column.Name == column {
			return c.Value, true
		}
	}
	return parser.Literal{}, false
}

// keyText renders a literal as it appears inside a key.
func keyText(l parser.Literal) string {
	if l.Kind == parser.LiteralNumber {
		return types.FormatNumber(l.Num)
	}
	return l.Str
}

// bindable reports whether col's value can be read back from key text.
// Number key columns cannot: "7" and "07" hold the same number.
func bindable(t *tableRef, col string) bool {
	return t.columnType(col) == types.ColumnTypeString
}

// pointKeys returns the keys bound by terms when every term binds every key
// column by equality. Terms whose values cannot form a key match no row and
// contribute nothing.
func pointKeys(t *tableRef, terms [][]*parser.Comparison) ([]string, bool) {
	columns := t.pattern.Columns()
	keys := []string{}
	seen := make(map[string]bool)
	for _, term := range terms {
		values := make([]string, len(columns))
		for i, col := range columns {
			lit, ok := equality(t, term, col)
			if !ok || !bindable(t, col) {
				return nil, false
			}
			values[i] = keyText(lit)
		}
		key, err := t.pattern.Format(values)
		if err != nil || seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys, true
}

// rangeBounds narrows step to the keys sharing the prefix of the leading
// key columns bound by equality. When the next key column is the last one,
// ends the key and holds strings, its string bounds narrow the range
// further. It reports false when term narrows nothing.
func rangeBounds(t *tableRef, term []*parser.Comparison, step *FetchStep) bool {
	columns := t.pattern.Columns()
	var values []string
	for _, col := range columns {
		lit, ok := equality(t, term, col)
		if !ok || !bindable(t, col) {
			break
		}
		values = append(values, keyText(lit))
	}
	prefix, err := t.pattern.Prefix(values)
	if err != nil {
		return false
	}

	lower, upper := prefix, shared.PrefixEnd(prefix)
	bounded := false
	next := len(values)
	if next == len(columns)-1 && t.pattern.LastSegmentIsOpen() && t.columnType(columns[next]) == types.ColumnTypeString {
		for _, c := range term {
			if c.Column.Table != t.name || c.Column.Name != columns[next] || c.Value.Kind != parser.LiteralString {
				continue
			}
			bound := prefix + c.Value.Str
			switch c.Op {
			case parser.OpGt, parser.OpGe:
				if bound > lower {
					lower = bound
				}
			case parser.OpLt:
				if upper == "" || bound < upper {
					upper = bound
				}
			case parser.OpLe:
				if end := shared.PrefixEnd(bound); end != "" && (upper == "" || end < upper) {
					upper = end
				}
			default:
				continue
			}
			bounded = true
		}
	}
	if len(values) == 0 && !bounded {
		return false
	}

	step.Lower = lower
	step.Upper = upper
	step.Glob = t.pattern.PrefixGlob(values)
	return true
}
