// Package executor runs execution plans against a store client and
// materializes their results.
package executor

import (
	"context"

	qerrors "github.com/guileen/kvql/engine/errors"
	"github.com/guileen/kvql/logger"
	"github.com/guileen/kvql/protocol/sql/operators"
	"github.com/guileen/kvql/protocol/sql/planner"
	"github.com/guileen/kvql/storage/shared"
	"github.com/guileen/kvql/types"
)

const DefaultBatchSize = 100

// Observer receives store activity, e.g. for metrics. op is one of "get",
// "mget", "scan", "set", "setnx", "del" or "commit"; keys is the number of
// keys the call covered.
type Observer interface {
	StoreOp(op string, keys int, err error)
	FullScan(table string)
}

type nopObserver struct{}

func (nopObserver) StoreOp(string, int, error) {}
func (nopObserver) FullScan(string)            {}

type Options struct {
	// BatchSize bounds the keys read per round trip during scans.
	BatchSize int
	Observer  Observer
}

// Executor interprets plans. It keeps no state between calls and is safe for
// concurrent use.
type Executor struct {
	batchSize int
	observer  Observer
}

func New(opts Options) *Executor {
	e := &Executor{batchSize: opts.BatchSize, observer: opts.Observer}
	if e.batchSize <= 0 {
		e.batchSize = DefaultBatchSize
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	return e
}

// run is the state of one Execute call.
type run struct {
	*Executor
	ctx   context.Context
	store shared.Client
	slots []types.Dataset

	succeeded []string
	failed    []types.KeyError
	affected  []string
	warnings  []string
	skipped   map[string]int64

	columns []string
	rows    [][]types.Value
}

// Execute runs the steps of plan in order. Cancellation of ctx is observed
// before each step. Per-key read and write errors drop the affected rows and
// yield a PartialFailure; scan errors, aborted transactions and aggregation
// errors yield a Failure. The result is never nil.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan, store shared.Client) *types.QueryResult {
	r := &run{
		Executor: e,
		ctx:      ctx,
		store:    store,
		slots:    make([]types.Dataset, plan.Slots),
	}

	for i, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			ee := qerrors.Wrap(err, qerrors.StageExecute, qerrors.CodeCancelled, step.Kind().String())
			ee.Message = "query cancelled before step " + step.Kind().String()
			return r.fail(ee)
		}
		logger.DebugContext(ctx, "Executing step",
			logger.Component("executor"),
			logger.Operation(step.Kind().String()),
			"step", i)

		var err *qerrors.EngineError
		switch s := step.(type) {
		case *planner.FetchStep:
			err = r.fetch(s)
		case *planner.FilterStep:
			r.slots[s.Out] = operators.Filter(r.slots[s.In], s.Predicate)
		case *planner.JoinStep:
			r.slots[s.Out] = operators.HashJoin(r.slots[s.Left], r.slots[s.Right], s.LeftKey, s.RightKey)
		case *planner.AggregateStep:
			err = r.aggregate(s)
		case *planner.ProjectStep:
			r.columns, r.rows = Materialize(s, r.slots[s.In])
		case *planner.MutateStep:
			err = r.mutate(s)
		}
		if err != nil {
			return r.fail(err)
		}
	}

	return r.result()
}

func (r *run) aggregate(s *planner.AggregateStep) *qerrors.EngineError {
	op := operators.NewAggregate(operators.NewDatasetScan(r.slots[s.In]), s.GroupBy, s.Specs)
	ds, err := operators.Drain(op)
	if err != nil {
		if ee, ok := qerrors.As(err); ok {
			return ee
		}
		return qerrors.Wrap(err, qerrors.StageAggregate, qerrors.CodeNoNumericRows, "aggregate")
	}
	if skipped := op.Skipped(); len(skipped) > 0 {
		r.skipped = skipped
	}
	r.columns, r.rows = MaterializeAggregate(s, ds)
	return nil
}

func (r *run) fail(err *qerrors.EngineError) *types.QueryResult {
	res := types.Failure(err)
	res.Warnings = r.warnings
	if len(r.failed) > 0 {
		res.SucceededKeys = r.succeeded
		res.FailedKeys = r.failed
	}
	return res
}

func (r *run) warn(msg string, args ...any) {
	logger.WarnContext(r.ctx, msg, args...)
	r.warnings = append(r.warnings, msg)
}

func (r *run) failKey(key string, err error) {
	r.failed = append(r.failed, types.KeyError{Key: key, Err: err})
}

func (r *run) result() *types.QueryResult {
	res := &types.QueryResult{
		Status:   types.StatusSuccess,
		Columns:  r.columns,
		Rows:     r.rows,
		Affected: r.affected,
		Warnings: r.warnings,
		Skipped:  r.skipped,
	}
	if res.Columns == nil {
		res.Columns = []string{}
	}
	if res.Rows == nil {
		res.Rows = [][]types.Value{}
	}
	if len(r.failed) > 0 {
		res.Status = types.StatusPartialFailure
		res.SucceededKeys = r.succeeded
		res.FailedKeys = r.failed
		logger.WarnContext(r.ctx, "Query partially failed",
			"succeeded", len(r.succeeded), "failed", len(r.failed))
	}
	return res
}
