package planner

import (
	"github.com/guileen/kvql/catalog"
	qerrors "github.com/guileen/kvql/engine/errors"
	"github.com/guileen/kvql/protocol/sql/operators"
	"github.com/guileen/kvql/protocol/sql/parser"
	"github.com/guileen/kvql/types"
)

func (p *Planner) planSelect(b *builder, stmt *parser.SelectStmt, snap *catalog.Snapshot) error {
	left, err := p.table(stmt.From, snap)
	if err != nil {
		return err
	}
	sc := &scope{tables: []*tableRef{left}}

	if stmt.Join != nil {
		if err := checkJoin(stmt.Join); err != nil {
			return err
		}
		if stmt.Join.Table == left.name {
			return qerrors.NewPlanErrorf(qerrors.CodeUnsupportedJoin, "self join of %q is not supported", left.name)
		}
		right, err := p.table(stmt.Join.Table, snap)
		if err != nil {
			return err
		}
		sc.tables = append(sc.tables, right)
	}

	where, err := sc.resolveExpr(stmt.Where)
	if err != nil {
		return err
	}

	var in int
	if stmt.Join == nil {
		in, _ = p.fetchAndFilter(b, left, where)
	} else {
		if in, err = p.planJoin(b, sc, stmt.Join, where); err != nil {
			return err
		}
	}

	return p.planProjection(b, sc, stmt, in)
}

func checkJoin(j *parser.JoinClause) error {
	if j.Kind != parser.JoinInner {
		return qerrors.NewPlanErrorf(qerrors.CodeUnsupportedJoin, "%s JOIN is not supported", j.Kind)
	}
	if j.On == nil {
		return qerrors.NewPlanErrorf(qerrors.CodeUnsupportedJoin, "JOIN %s requires ON left_column = right_column", j.Table)
	}
	if j.On.Op != parser.OpEq {
		return qerrors.NewPlanErrorf(qerrors.CodeUnsupportedJoin, "JOIN condition must be an equality, found %s", j.On.Op)
	}
	return nil
}

// planJoin fetches both sides with the conjuncts of where that reference
// only that side, joins them and applies the remaining conjuncts.
func (p *Planner) planJoin(b *builder, sc *scope, j *parser.JoinClause, where parser.Expr) (int, error) {
	left, right := sc.tables[0], sc.tables[1]

	lk, err := sc.resolve(j.On.Left)
	if err != nil {
		return 0, err
	}
	rk, err := sc.resolve(j.On.Right)
	if err != nil {
		return 0, err
	}
	if lk.Table == right.name && rk.Table == left.name {
		lk, rk = rk, lk
	}
	if lk.Table != left.name || rk.Table != right.name {
		return 0, qerrors.NewPlanErrorf(qerrors.CodeUnsupportedJoin,
			"JOIN condition %s = %s must compare a column of %s with a column of %s", j.On.Left, j.On.Right, left.name, right.name)
	}

	var leftPreds, rightPreds, rest []parser.Expr
	for _, c := range parser.Conjuncts(where) {
		tables := tablesOf(c)
		switch {
		case len(tables) == 1 && tables[0] == left.name:
			leftPreds = append(leftPreds, c)
		case len(tables) == 1 && tables[0] == right.name:
			rightPreds = append(rightPreds, c)
		default:
			rest = append(rest, c)
		}
	}

	leftOut, _ := p.fetchAndFilter(b, left, parser.And(leftPreds...))
	rightOut, _ := p.fetchAndFilter(b, right, parser.And(rightPreds...))

	join := &JoinStep{Left: leftOut, Right: rightOut, Out: b.slot(), LeftKey: lk, RightKey: rk}
	b.add(join)
	out := join.Out

	if residual := parser.And(rest...); residual != nil {
		f := &FilterStep{In: out, Out: b.slot(), Predicate: residual}
		b.add(f)
		out = f.Out
	}
	return out, nil
}

func (p *Planner) planProjection(b *builder, sc *scope, stmt *parser.SelectStmt, in int) error {
	if stmt.Star {
		if len(stmt.GroupBy) > 0 {
			return qerrors.NewPlanErrorf(qerrors.CodeInvalidProjection, "SELECT * cannot be combined with GROUP BY")
		}
		project := &ProjectStep{In: in, Star: true}
		for _, t := range sc.tables {
			src := StarSource{Table: t.name}
			if t.schema != nil {
				src.Columns = t.schema.ColumnNames()
			}
			project.Sources = append(project.Sources, src)
		}
		b.add(project)
		return nil
	}

	if stmt.HasAggregates() || len(stmt.GroupBy) > 0 {
		return p.planAggregate(b, sc, stmt, in)
	}

	refs := make([]types.ColumnRef, len(stmt.Items))
	for i, item := range stmt.Items {
		ref, err := sc.resolve(item.Column)
		if err != nil {
			return err
		}
		refs[i] = ref
	}
	labels := sc.labels(refs)
	for i, item := range stmt.Items {
		if item.Alias != "" {
			labels[i] = item.Alias
		}
	}
	b.add(&ProjectStep{In: in, Columns: refs, Labels: labels})
	return nil
}

func (p *Planner) planAggregate(b *builder, sc *scope, stmt *parser.SelectStmt, in int) error {
	if !stmt.HasAggregates() {
		return qerrors.NewPlanErrorf(qerrors.CodeInvalidProjection, "GROUP BY requires an aggregate function")
	}

	groupBy := make([]types.ColumnRef, len(stmt.GroupBy))
	for i, col := range stmt.GroupBy {
		ref, err := sc.resolve(col)
		if err != nil {
			return err
		}
		groupBy[i] = ref
	}

	var plainRefs []types.ColumnRef
	for _, item := range stmt.Items {
		if item.IsAggregate() {
			continue
		}
		ref, err := sc.resolve(item.Column)
		if err != nil {
			return err
		}
		if !containsRef(groupBy, ref) {
			return qerrors.NewPlanErrorf(qerrors.CodeInvalidProjection,
				"column %s must appear in GROUP BY or be used in an aggregate function", item.Column)
		}
		plainRefs = append(plainRefs, ref)
	}
	plainLabels := sc.labels(plainRefs)

	step := &AggregateStep{In: in, GroupBy: groupBy}
	plain := 0
	for _, item := range stmt.Items {
		var spec operators.AggSpec
		if item.IsAggregate() {
			spec.Func = operators.Func(item.Agg)
			spec.Star = item.Star
			if !item.Star {
				ref, err := sc.resolve(item.Column)
				if err != nil {
					return err
				}
				spec.Column = ref
			}
			spec.Label = spec.Func.Label(spec.Column.Name, spec.Star)
		} else {
			spec.Column = plainRefs[plain]
			spec.Label = plainLabels[plain]
			plain++
		}
		if item.Alias != "" {
			spec.Label = item.Alias
		}
		step.Specs = append(step.Specs, spec)
	}
	b.add(step)
	return nil
}

func containsRef(refs []types.ColumnRef, ref types.ColumnRef) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}
