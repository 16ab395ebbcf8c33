package operators

import (
	"strings"

	"github.com/guileen/kvql/protocol/sql/parser"
	"github.com/guileen/kvql/types"
)

type FilterOperator struct {
	input     PhysicalOperator
	predicate FilterPredicate
}

type FilterPredicate interface {
	Evaluate(row types.Row) bool
}

// ExprPredicate evaluates a parsed WHERE tree against a row.
type ExprPredicate struct {
	Expr parser.Expr
}

func NewFilter(input PhysicalOperator, predicate FilterPredicate) *FilterOperator {
	return &FilterOperator{
		input:     input,
		predicate: predicate,
	}
}

func (op *FilterOperator) Open() error {
	return op.input.Open()
}

func (op *FilterOperator) Next() (types.Row, error) {
	for {
		row, err := op.input.Next()
		if err != nil {
			return types.Row{}, err
		}
		if op.predicate.Evaluate(row) {
			return row, nil
		}
	}
}

func (op *FilterOperator) Close() error {
	return op.input.Close()
}

// Filter keeps the rows of ds satisfying expr. A nil expr keeps every row.
func Filter(ds types.Dataset, expr parser.Expr) types.Dataset {
	if expr == nil {
		return ds
	}
	out, _ := Drain(NewFilter(NewDatasetScan(ds), ExprPredicate{Expr: expr}))
	return out
}

func (p ExprPredicate) Evaluate(row types.Row) bool {
	return Evaluate(p.Expr, row)
}

// Evaluate reports whether row satisfies e. A nil predicate matches.
func Evaluate(e parser.Expr, row types.Row) bool {
	switch n := e.(type) {
	case nil:
		return true
	case *parser.BinaryExpr:
		if n.Op == parser.OpAnd {
			return Evaluate(n.Left, row) && Evaluate(n.Right, row)
		}
		return Evaluate(n.Left, row) || Evaluate(n.Right, row)
	case *parser.Comparison:
		return Match(row.Value(n.Column), n.Op, n.Value.Value())
	default:
		return false
	}
}

// Match applies op to a column value and a literal. Absent values match
// nothing. A string and a number are only unequal, as in joins.
func Match(v types.Value, op parser.CompareOp, lit types.Value) bool {
	if v.IsAbsent() || lit.IsAbsent() {
		return false
	}
	cmp, ok := Compare(v, lit)
	if !ok {
		return op == parser.OpNe
	}
	switch op {
	case parser.OpEq:
		return cmp == 0
	case parser.OpNe:
		return cmp != 0
	case parser.OpLt:
		return cmp < 0
	case parser.OpLe:
		return cmp <= 0
	case parser.OpGt:
		return cmp > 0
	case parser.OpGe:
		return cmp >= 0
	default:
		return false
	}
}

// Compare orders two present values of the same kind. ok is false for
// values of different kinds.
func Compare(a, b types.Value) (int, bool) {
	switch {
	case a.IsNumber() && b.IsNumber():
		return compareFloat(a.Num(), b.Num()), true
	case a.IsString() && b.IsString():
		return strings.Compare(a.Str(), b.Str()), true
	}
	return 0, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
