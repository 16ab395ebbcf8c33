// Package planner turns a parsed statement into an ordered execution plan,
// choosing an access strategy per table from the key patterns of the schema
// registry.
package planner

import (
	"github.com/guileen/kvql/catalog"
	qerrors "github.com/guileen/kvql/engine/errors"
	"github.com/guileen/kvql/protocol/sql/parser"
)

// Options control planning for tables without a registry entry and the
// atomicity of multi-key writes.
type Options struct {
	// DefaultSeparator and DefaultKeyColumn build the key pattern
	// "<table><sep>{<column>}" of schema-less tables.
	DefaultSeparator string
	DefaultKeyColumn string
	// AtomicWrites marks Mutate steps that may touch more than one key as
	// atomic.
	AtomicWrites bool
}

// DefaultOptions returns the options used by New when fields are left empty.
func DefaultOptions() Options {
	return Options{DefaultSeparator: ":", DefaultKeyColumn: "id"}
}

// Planner builds plans. It holds no per-query state and is safe for
// concurrent use.
type Planner struct {
	opts Options
}

// New creates a planner.
func New(opts Options) *Planner {
	def := DefaultOptions()
	if opts.DefaultSeparator == "" {
		opts.DefaultSeparator = def.DefaultSeparator
	}
	if opts.DefaultKeyColumn == "" {
		opts.DefaultKeyColumn = def.DefaultKeyColumn
	}
	return &Planner{opts: opts}
}

// Options returns the effective options.
func (p *Planner) Options() Options { return p.opts }

// Plan resolves stmt against snap and builds its plan. The same statement,
// snapshot and options always yield the same plan.
func (p *Planner) Plan(stmt parser.Statement, snap *catalog.Snapshot) (*Plan, error) {
	b := &builder{plan: &Plan{Statement: stmt.Kind()}}
	var err error
	switch s := stmt.(type) {
	case *parser.SelectStmt:
		err = p.planSelect(b, s, snap)
	case *parser.InsertStmt:
		err = p.planInsert(b, s, snap)
	case *parser.UpdateStmt:
		err = p.planUpdate(b, s, snap)
	case *parser.DeleteStmt:
		err = p.planDelete(b, s, snap)
	default:
		err = qerrors.Errorf(qerrors.StagePlan, qerrors.CodeUnsupportedSyntax, "unsupported statement %T", stmt)
	}
	if err != nil {
		return nil, err
	}
	return b.plan, nil
}

type builder struct {
	plan *Plan
}

func (b *builder) slot() int {
	n := b.plan.Slots
	b.plan.Slots++
	return n
}

func (b *builder) add(s Step) {
	b.plan.Steps = append(b.plan.Steps, s)
}

// fetchAndFilter adds the Fetch of t and, when pred is set, the Filter
// re-applying it. It returns the slot holding the surviving rows and the
// Fetch step.
func (p *Planner) fetchAndFilter(b *builder, t *tableRef, pred parser.Expr) (int, *FetchStep) {
	fetch := accessPath(t, pred)
	fetch.Out = b.slot()
	b.add(fetch)
	out := fetch.Out
	if pred != nil {
		f := &FilterStep{In: out, Out: b.slot(), Predicate: pred}
		b.add(f)
		out = f.Out
	}
	return out, fetch
}

// table resolves a table name. A non-empty snapshot rejects unregistered
// tables; an empty one treats every table as schema-less.
func (p *Planner) table(name string, snap *catalog.Snapshot) (*tableRef, error) {
	if schema, ok := snap.Lookup(name); ok {
		return &tableRef{name: name, schema: schema, pattern: schema.KeyPattern}, nil
	}
	if !snap.Empty() {
		return nil, qerrors.NewPlanErrorf(qerrors.CodeUnknownTable, "unknown table %q", name)
	}
	return &tableRef{
		name:    name,
		pattern: catalog.DefaultKeyPattern(name, p.opts.DefaultSeparator, p.opts.DefaultKeyColumn),
	}, nil
}
