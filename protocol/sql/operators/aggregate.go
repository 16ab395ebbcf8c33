package operators

import (
	"math"
	"strconv"
	"strings"

	qerrors "github.com/guileen/kvql/engine/errors"
	"github.com/guileen/kvql/types"
)

// Func is an aggregate function.
type Func string

const (
	FuncCount Func = "COUNT"
	FuncSum   Func = "SUM"
	FuncAvg   Func = "AVG"
	FuncMin   Func = "MIN"
	FuncMax   Func = "MAX"
)

// Label returns the default output label of fn over column: "count" for
// COUNT(*), otherwise "<fn>_<column>".
func (fn Func) Label(column string, star bool) string {
	if star {
		return strings.ToLower(string(fn))
	}
	return strings.ToLower(string(fn)) + "_" + column
}

// Accumulator is the running state of one aggregate function. COUNT counts
// every row; the other functions consume number values only and tally the
// rest as skipped.
type Accumulator struct {
	fn      Func
	rows    int64
	numeric int64
	skipped int64
	sum     float64
	min     float64
	max     float64
}

func NewAccumulator(fn Func) *Accumulator {
	a := &Accumulator{fn: fn}
	a.Init()
	return a
}

func (a *Accumulator) Init() {
	a.rows, a.numeric, a.skipped = 0, 0, 0
	a.sum = 0
	a.min = math.Inf(1)
	a.max = math.Inf(-1)
}

func (a *Accumulator) Update(v types.Value) {
	a.rows++
	if a.fn == FuncCount {
		return
	}
	if !v.IsNumber() {
		a.skipped++
		return
	}
	n := v.Num()
	a.numeric++
	a.sum += n
	if n < a.min {
		a.min = n
	}
	if n > a.max {
		a.max = n
	}
}

// Rows returns the number of rows seen.
func (a *Accumulator) Rows() int64 { return a.rows }

// Skipped returns the number of non-numeric or absent values ignored.
func (a *Accumulator) Skipped() int64 { return a.skipped }

// Finalize returns the aggregate value. SUM, AVG, MIN and MAX over zero
// numeric rows fail with ErrNoNumericRows.
func (a *Accumulator) Finalize() (types.Value, error) {
	if a.fn == FuncCount {
		return types.NewNumber(float64(a.rows)), nil
	}
	if a.numeric == 0 {
		return types.Absent(), qerrors.ErrNoNumericRows
	}
	switch a.fn {
	case FuncSum:
		return types.NewNumber(a.sum), nil
	case FuncAvg:
		return types.NewNumber(a.sum / float64(a.numeric)), nil
	case FuncMin:
		return types.NewNumber(a.min), nil
	case FuncMax:
		return types.NewNumber(a.max), nil
	default:
		return types.Absent(), qerrors.NewAggregationErrorf(qerrors.CodeNoNumericRows, "unknown aggregate %q", a.fn)
	}
}

// AggregationResult is the outcome of one aggregate over a dataset.
type AggregationResult struct {
	Value   types.Value
	Rows    int64
	Skipped int64
}

// Aggregate computes fn over column in a single pass.
func Aggregate(ds types.Dataset, fn Func, column types.ColumnRef) (AggregationResult, error) {
	acc := NewAccumulator(fn)
	for _, row := range ds.Rows {
		acc.Update(row.Value(column))
	}
	v, err := acc.Finalize()
	if err != nil {
		return AggregationResult{Rows: acc.Rows(), Skipped: acc.Skipped()},
			qerrors.NewAggregationErrorf(qerrors.CodeNoNumericRows, "%s(%s): no numeric rows", fn, column)
	}
	return AggregationResult{Value: v, Rows: acc.Rows(), Skipped: acc.Skipped()}, nil
}

// AggSpec describes one output column of an aggregation: an aggregate call,
// or a GROUP BY column passed through when Func is empty.
type AggSpec struct {
	Func   Func
	Column types.ColumnRef
	Star   bool
	Label  string
}

// AggregateOperator groups its input by the GROUP BY columns, in first-seen
// group order, and emits one row per group with a field per spec. Without
// GROUP BY it emits exactly one row, even for empty input.
type AggregateOperator struct {
	input          PhysicalOperator
	groupByColumns []types.ColumnRef
	specs          []AggSpec

	groups    map[string]*aggGroup
	groupKeys []string
	groupIdx  int
	skipped   map[string]int64
}

type aggGroup struct {
	first types.Row
	accs  []*Accumulator
}

func NewAggregate(input PhysicalOperator, groupBy []types.ColumnRef, specs []AggSpec) *AggregateOperator {
	return &AggregateOperator{
		input:          input,
		groupByColumns: groupBy,
		specs:          specs,
		groups:         make(map[string]*aggGroup),
		skipped:        make(map[string]int64),
	}
}

func (op *AggregateOperator) Open() error {
	if err := op.input.Open(); err != nil {
		return err
	}

	for {
		row, err := op.input.Next()
		if err == EOF {
			break
		}
		if err != nil {
			return err
		}

		groupKey := op.buildGroupKey(row)
		group, exists := op.groups[groupKey]
		if !exists {
			group = &aggGroup{first: row, accs: op.initAccumulators()}
			op.groups[groupKey] = group
			op.groupKeys = append(op.groupKeys, groupKey)
		}
		for i, spec := range op.specs {
			if acc := group.accs[i]; acc != nil {
				acc.Update(row.Value(spec.Column))
			}
		}
	}

	if len(op.groupByColumns) == 0 && len(op.groupKeys) == 0 {
		op.groups[""] = &aggGroup{accs: op.initAccumulators()}
		op.groupKeys = append(op.groupKeys, "")
	}
	return nil
}

// Next emits the next group. Without GROUP BY, a numeric aggregate over no
// numeric rows is an error; within a group it yields an absent value.
func (op *AggregateOperator) Next() (types.Row, error) {
	if op.groupIdx >= len(op.groupKeys) {
		return types.Row{}, EOF
	}

	group := op.groups[op.groupKeys[op.groupIdx]]
	op.groupIdx++

	row := types.Row{Fields: make([]types.Field, len(op.specs))}
	for i, spec := range op.specs {
		var v types.Value
		if acc := group.accs[i]; acc != nil {
			var err error
			v, err = acc.Finalize()
			if err != nil {
				if len(op.groupByColumns) == 0 {
					return types.Row{}, qerrors.NewAggregationErrorf(qerrors.CodeNoNumericRows,
						"%s(%s): no numeric rows", spec.Func, spec.Column)
				}
				v = types.Absent()
			}
			if acc.Skipped() > 0 {
				op.skipped[spec.Label] += acc.Skipped()
			}
		} else {
			v = group.first.Value(spec.Column)
		}
		row.Fields[i] = types.Field{Name: spec.Label, Value: v}
	}
	return row, nil
}

func (op *AggregateOperator) Close() error {
	return op.input.Close()
}

// Skipped returns the skipped value tallies per output label of the groups
// emitted so far.
func (op *AggregateOperator) Skipped() map[string]int64 {
	return op.skipped
}

// buildGroupKey concatenates the length-prefixed typed hash keys of the
// group values; absent values form their own group.
func (op *AggregateOperator) buildGroupKey(row types.Row) string {
	if len(op.groupByColumns) == 0 {
		return ""
	}

	var b strings.Builder
	for _, col := range op.groupByColumns {
		key, ok := row.Value(col).HashKey()
		if !ok {
			key = "a"
		}
		b.WriteString(strconv.Itoa(len(key)))
		b.WriteByte(':')
		b.WriteString(key)
	}
	return b.String()
}

func (op *AggregateOperator) initAccumulators() []*Accumulator {
	accs := make([]*Accumulator, len(op.specs))
	for i, spec := range op.specs {
		if spec.Func != "" {
			accs[i] = NewAccumulator(spec.Func)
		}
	}
	return accs
}
