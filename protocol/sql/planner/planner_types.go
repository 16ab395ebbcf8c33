package planner

import (
	"github.com/guileen/kvql/catalog"
	"github.com/guileen/kvql/protocol/sql/operators"
	"github.com/guileen/kvql/protocol/sql/parser"
	"github.com/guileen/kvql/types"
)

// Plan is an ordered list of steps. Steps exchange datasets through numbered
// slots: a step reads the slots it names and writes its Out slot.
type Plan struct {
	Statement string
	Steps     []Step
	Slots     int
}

// StepKind tags the variant of a Step.
type StepKind int

const (
	StepFetch StepKind = iota
	StepFilter
	StepJoin
	StepAggregate
	StepProject
	StepMutate
)

func (k StepKind) String() string {
	switch k {
	case StepFetch:
		return "fetch"
	case StepFilter:
		return "filter"
	case StepJoin:
		return "join"
	case StepAggregate:
		return "aggregate"
	case StepProject:
		return "project"
	default:
		return "mutate"
	}
}

// Step is one of *FetchStep, *FilterStep, *JoinStep, *AggregateStep,
// *ProjectStep or *MutateStep.
type Step interface {
	Kind() StepKind
}

// Strategy is the access path of a Fetch.
type Strategy int

const (
	StrategyPoint Strategy = iota
	StrategyRange
	StrategyFull
)

func (s Strategy) String() string {
	switch s {
	case StrategyPoint:
		return "point"
	case StrategyRange:
		return "range"
	default:
		return "full"
	}
}

// FetchStep reads the rows of one table.
//
// Point fetches read Keys. Range fetches enumerate the keys in
// [Lower, Upper), or the keys matching Glob on stores without ordered
// range scans. Full fetches enumerate Glob and are Unindexed.
type FetchStep struct {
	Table    string
	Pattern  *catalog.KeyPattern
	Schema   *catalog.TableSchema
	Strategy Strategy

	Keys  []string
	Lower string
	Upper string
	Glob  string

	Unindexed bool
	Out       int
}

// FilterStep keeps the rows of In satisfying Predicate.
type FilterStep struct {
	In        int
	Out       int
	Predicate parser.Expr
}

// JoinStep is an inner equi-join of two slots.
type JoinStep struct {
	Left     int
	Right    int
	Out      int
	LeftKey  types.ColumnRef
	RightKey types.ColumnRef
}

// AggregateStep reduces In to one row per group. It is terminal.
type AggregateStep struct {
	In      int
	GroupBy []types.ColumnRef
	Specs   []operators.AggSpec
}

// Labels returns the output column labels.
func (s *AggregateStep) Labels() []string {
	labels := make([]string, len(s.Specs))
	for i, spec := range s.Specs {
		labels[i] = spec.Label
	}
	return labels
}

// ProjectStep shapes In into result columns. It is terminal. For SELECT *
// the columns come from Sources at materialization time.
type ProjectStep struct {
	In      int
	Star    bool
	Sources []StarSource
	Columns []types.ColumnRef
	Labels  []string
}

// StarSource lists the columns one table contributes to SELECT *. Columns is
// nil for schema-less tables, whose columns are discovered from the rows.
type StarSource struct {
	Table   string
	Columns []string
}

// MutateKind is the write a Mutate step performs.
type MutateKind int

const (
	MutateInsert MutateKind = iota
	MutateUpdate
	MutateDelete
)

func (k MutateKind) String() string {
	switch k {
	case MutateInsert:
		return "insert"
	case MutateUpdate:
		return "update"
	default:
		return "delete"
	}
}

// InsertRow is one fully keyed row of an INSERT. Fields exclude key columns.
type InsertRow struct {
	Key    string
	Fields []types.Field
}

// SetField is one UPDATE assignment, coerced to the column type.
type SetField struct {
	Column string
	Value  types.Value
}

// MutateStep writes to one table. INSERT carries its rows; UPDATE and
// DELETE apply to the rows of slot In. It is terminal.
type MutateStep struct {
	Op      MutateKind
	Table   string
	Pattern *catalog.KeyPattern
	In      int
	Rows    []InsertRow
	Set     []SetField
	Atomic  bool
}

func (*FetchStep) Kind() StepKind     { return StepFetch }
func (*FilterStep) Kind() StepKind    { return StepFilter }
func (*JoinStep) Kind() StepKind      { return StepJoin }
func (*AggregateStep) Kind() StepKind { return StepAggregate }
func (*ProjectStep) Kind() StepKind   { return StepProject }
func (*MutateStep) Kind() StepKind    { return StepMutate }

// Terminal returns the last step of the plan.
func (p *Plan) Terminal() Step {
	if len(p.Steps) == 0 {
		return nil
	}
	return p.Steps[len(p.Steps)-1]
}

// Fetches returns the Fetch steps in plan order.
func (p *Plan) Fetches() []*FetchStep {
	var out []*FetchStep
	for _, s := range p.Steps {
		if f, ok := s.(*FetchStep); ok {
			out = append(out, f)
		}
	}
	return out
}
