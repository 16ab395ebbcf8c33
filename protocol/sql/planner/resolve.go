package planner

import (
	"github.com/guileen/kvql/catalog"
	qerrors "github.com/guileen/kvql/engine/errors"
	"github.com/guileen/kvql/protocol/sql/parser"
	"github.com/guileen/kvql/types"
)

// tableRef is a table as seen by one plan. schema is nil for schema-less
// tables.
type tableRef struct {
	name    string
	schema  *catalog.TableSchema
	pattern *catalog.KeyPattern
}

// declares reports whether the table is known to have the column: a
// declared column, or a key column of a schema-less table.
func (t *tableRef) declares(name string) bool {
	if t.schema != nil {
		return t.schema.HasColumn(name)
	}
	return t.pattern.IsKeyColumn(name)
}

// columnType returns the declared type, string for schema-less tables.
func (t *tableRef) columnType(name string) types.ColumnType {
	if t.schema != nil {
		return t.schema.ColumnType(name)
	}
	return types.ColumnTypeString
}

// literal converts a written value to the declared type of col. Values
// written to schema-less tables keep the literal's own kind.
func (t *tableRef) literal(col string, l parser.Literal) types.Value {
	if t.schema == nil {
		return l.Value()
	}
	return types.Coerce(l.Value(), t.schema.ColumnType(col))
}

// operand converts a comparison literal to the type col is known to hold:
// its declared type, or string for a key column of a schema-less table.
func (t *tableRef) operand(col string, l parser.Literal) parser.Literal {
	if t.schema == nil && !t.pattern.IsKeyColumn(col) {
		return l
	}
	v := types.Coerce(l.Value(), t.columnType(col))
	if v.IsNumber() {
		return parser.NumberLiteral(v.Num())
	}
	return parser.StringLiteral(v.Str())
}

// scope holds the tables a statement can reference.
type scope struct {
	tables []*tableRef
}

func (s *scope) lookup(name string) *tableRef {
	for _, t := range s.tables {
		if t.name == name {
			return t
		}
	}
	return nil
}

// resolve qualifies ref with its table. An unqualified name that only a
// schema-less table can hold stays unqualified when more than one such
// table is in scope.
func (s *scope) resolve(ref types.ColumnRef) (types.ColumnRef, error) {
	if ref.Table != "" {
		t := s.lookup(ref.Table)
		if t == nil {
			return ref, qerrors.NewPlanErrorf(qerrors.CodeUnknownTable, "unknown table %q in column %s", ref.Table, ref)
		}
		if t.schema != nil && !t.schema.HasColumn(ref.Name) {
			return ref, qerrors.NewPlanErrorf(qerrors.CodeUnknownColumn, "unknown column %s", ref)
		}
		return ref, nil
	}

	var declared, open []*tableRef
	for _, t := range s.tables {
		switch {
		case t.declares(ref.Name):
			declared = append(declared, t)
		case t.schema == nil:
			open = append(open, t)
		}
	}
	switch {
	case len(declared) > 1:
		return ref, qerrors.NewPlanErrorf(qerrors.CodeAmbiguousColumn, "column %q is ambiguous", ref.Name)
	case len(declared) == 1:
		return types.ColumnRef{Table: declared[0].name, Name: ref.Name}, nil
	case len(open) == 1:
		return types.ColumnRef{Table: open[0].name, Name: ref.Name}, nil
	case len(open) > 1:
		return ref, nil
	default:
		return ref, qerrors.NewPlanErrorf(qerrors.CodeUnknownColumn, "unknown column %q", ref.Name)
	}
}

// resolveExpr returns a copy of e with every column qualified.
func (s *scope) resolveExpr(e parser.Expr) (parser.Expr, error) {
	switch n := e.(type) {
	case nil:
		return nil, nil
	case *parser.BinaryExpr:
		left, err := s.resolveExpr(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := s.resolveExpr(n.Right)
		if err != nil {
			return nil, err
		}
		return &parser.BinaryExpr{Op: n.Op, Left: left, Right: right}, nil
	case *parser.Comparison:
		col, err := s.resolve(n.Column)
		if err != nil {
			return nil, err
		}
		value := n.Value
		if t := s.lookup(col.Table); t != nil {
			value = t.operand(col.Name, value)
		}
		return &parser.Comparison{Column: col, Op: n.Op, Value: value}, nil
	default:
		return nil, qerrors.Errorf(qerrors.StagePlan, qerrors.CodeUnsupportedSyntax, "unsupported predicate %T", e)
	}
}

// sharedName reports whether every table in scope declares name, which
// qualifies its output label.
func (s *scope) sharedName(name string) bool {
	if len(s.tables) < 2 {
		return false
	}
	for _, t := range s.tables {
		if !t.declares(name) {
			return false
		}
	}
	return true
}

// labels returns the output labels of plain projected columns: the bare
// name, or table.column when the name collides across the joined tables.
func (s *scope) labels(refs []types.ColumnRef) []string {
	labels := types.Labels(refs)
	for i, ref := range refs {
		if ref.Table != "" && labels[i] == ref.Name && s.sharedName(ref.Name) {
			labels[i] = ref.String()
		}
	}
	return labels
}

// tablesOf returns the distinct tables referenced by e, in order of first
// reference. An unqualified column yields "".
func tablesOf(e parser.Expr) []string {
	var out []string
	parser.Walk(e, func(c *parser.Comparison) {
		for _, t := range out {
			if t == c.Column.Table {
				return
			}
		}
		out = append(out, c.Column.Table)
	})
	return out
}
