package planner

import (
	"github.com/guileen/kvql/catalog"
	qerrors "github.com/guileen/kvql/engine/errors"
	"github.com/guileen/kvql/protocol/sql/parser"
	"github.com/guileen/kvql/types"
)

func (p *Planner) planInsert(b *builder, stmt *parser.InsertStmt, snap *catalog.Snapshot) error {
	t, err := p.table(stmt.Table, snap)
	if err != nil {
		return err
	}

	columns := stmt.Columns
	if len(columns) == 0 {
		if t.schema == nil {
			return qerrors.NewPlanErrorf(qerrors.CodeInvalidInsert, "INSERT into schema-less table %q requires a column list", t.name)
		}
		columns = t.schema.ColumnNames()
	}

	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		if seen[col] {
			return qerrors.NewPlanErrorf(qerrors.CodeInvalidInsert, "column %q specified more than once", col)
		}
		seen[col] = true
		if t.schema != nil && !t.schema.HasColumn(col) {
			return qerrors.NewPlanErrorf(qerrors.CodeUnknownColumn, "unknown column %s.%s", t.name, col)
		}
	}
	keyColumns := t.pattern.Columns()
	for _, kc := range keyColumns {
		if !seen[kc] {
			return qerrors.NewPlanErrorf(qerrors.CodeMissingKeyColumn, "INSERT into %q must set key column %q", t.name, kc)
		}
	}

	step := &MutateStep{Op: MutateInsert, Table: t.name, Pattern: t.pattern, In: -1}
	for i, tuple := range stmt.Rows {
		if len(tuple) != len(columns) {
			return qerrors.NewPlanErrorf(qerrors.CodeInvalidInsert,
				"row %d has %d values, expected %d", i+1, len(tuple), len(columns))
		}
		keyValues := make([]string, len(keyColumns))
		var fields []types.Field
		for j, col := range columns {
			if idx := t.pattern.Index(col); idx >= 0 {
				keyValues[idx] = keyText(tuple[j])
				continue
			}
			fields = append(fields, types.Field{Table: t.name, Name: col, Value: t.literal(col, tuple[j])})
		}
		key, err := t.pattern.Format(keyValues)
		if err != nil {
			return qerrors.NewPlanErrorf(qerrors.CodeInvalidInsert, "row %d: %v", i+1, err)
		}
		step.Rows = append(step.Rows, InsertRow{Key: key, Fields: fields})
	}
	step.Atomic = p.opts.AtomicWrites && len(step.Rows) > 1
	b.add(step)
	return nil
}

func (p *Planner) planUpdate(b *builder, stmt *parser.UpdateStmt, snap *catalog.Snapshot) error {
	t, err := p.table(stmt.Table, snap)
	if err != nil {
		return err
	}

	var set []SetField
	for _, a := range stmt.Set {
		if t.pattern.IsKeyColumn(a.Column) {
			return qerrors.NewPlanErrorf(qerrors.CodeInvalidAssignment, "cannot assign key column %q", a.Column)
		}
		if t.schema != nil && !t.schema.HasColumn(a.Column) {
			return qerrors.NewPlanErrorf(qerrors.CodeUnknownColumn, "unknown column %s.%s", t.name, a.Column)
		}
		for _, s := range set {
			if s.Column == a.Column {
				return qerrors.NewPlanErrorf(qerrors.CodeInvalidAssignment, "column %q assigned more than once", a.Column)
			}
		}
		set = append(set, SetField{Column: a.Column, Value: t.literal(a.Column, a.Value)})
	}

	in, fetch, err := p.planTarget(b, t, stmt.Where)
	if err != nil {
		return err
	}
	b.add(&MutateStep{
		Op:      MutateUpdate,
		Table:   t.name,
		Pattern: t.pattern,
		In:      in,
		Set:     set,
		Atomic:  p.opts.AtomicWrites && multiKey(fetch),
	})
	return nil
}

func (p *Planner) planDelete(b *builder, stmt *parser.DeleteStmt, snap *catalog.Snapshot) error {
	t, err := p.table(stmt.Table, snap)
	if err != nil {
		return err
	}
	in, fetch, err := p.planTarget(b, t, stmt.Where)
	if err != nil {
		return err
	}
	b.add(&MutateStep{
		Op:      MutateDelete,
		Table:   t.name,
		Pattern: t.pattern,
		In:      in,
		Atomic:  p.opts.AtomicWrites && multiKey(fetch),
	})
	return nil
}

// planTarget reads the rows an UPDATE or DELETE applies to.
func (p *Planner) planTarget(b *builder, t *tableRef, where parser.Expr) (int, *FetchStep, error) {
	sc := &scope{tables: []*tableRef{t}}
	pred, err := sc.resolveExpr(where)
	if err != nil {
		return 0, nil, err
	}
	in, fetch := p.fetchAndFilter(b, t, pred)
	return in, fetch, nil
}

func multiKey(f *FetchStep) bool {
	return f.Strategy != StrategyPoint || len(f.Keys) > 1
}
