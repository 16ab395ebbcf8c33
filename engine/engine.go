// Package engine is the entry point of the query layer: it parses, plans and
// executes one query against a store client.
package engine

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/guileen/kvql/catalog"
	qerrors "github.com/guileen/kvql/engine/errors"
	"github.com/guileen/kvql/logger"
	"github.com/guileen/kvql/metrics"
	"github.com/guileen/kvql/protocol/sql/executor"
	"github.com/guileen/kvql/protocol/sql/parser"
	"github.com/guileen/kvql/protocol/sql/planner"
	"github.com/guileen/kvql/storage"
	"github.com/guileen/kvql/types"
)

// ErrClosed is returned by Query after Close.
var ErrClosed = qerrors.New(qerrors.StageExecute, qerrors.CodeStoreError, "engine closed")

// Engine is an independent query engine instance. It is safe for concurrent
// use; the registry is its only shared state.
type Engine struct {
	registry    *catalog.Registry
	plannerOpts planner.Options
	batchSize   int
	observer    executor.Observer
	metrics     bool

	planner  *planner.Planner
	executor *executor.Executor
	closed   atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry sets the schema registry. Without one every table is
// schema-less.
func WithRegistry(reg *catalog.Registry) Option {
	return func(e *Engine) { e.registry = reg }
}

// WithPlannerOptions sets the key pattern defaults of schema-less tables and
// the atomic-writes policy.
func WithPlannerOptions(opts planner.Options) Option {
	return func(e *Engine) { e.plannerOpts = opts }
}

// WithBatchSize sets the number of keys read per round trip during scans.
func WithBatchSize(n int) Option {
	return func(e *Engine) { e.batchSize = n }
}

// WithObserver receives store activity in addition to the metrics.
func WithObserver(o executor.Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithMetrics toggles the Prometheus collectors.
func WithMetrics(enabled bool) Option {
	return func(e *Engine) { e.metrics = enabled }
}

// New creates an engine.
func New(opts ...Option) *Engine {
	e := &Engine{metrics: true}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = catalog.NewRegistry()
	}

	var observers multiObserver
	if e.metrics {
		observers = append(observers, metrics.StoreObserver{})
	}
	if e.observer != nil {
		observers = append(observers, e.observer)
	}

	e.planner = planner.New(e.plannerOpts)
	e.executor = executor.New(executor.Options{BatchSize: e.batchSize, Observer: observers})
	return e
}

// Registry returns the schema registry. Register and Drop on it take effect
// for queries planned afterwards.
func (e *Engine) Registry() *catalog.Registry { return e.registry }

// Close releases the engine. Queries issued afterwards fail.
func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}

// Query runs one statement against store. The result is never nil; the error
// is non-nil exactly when the result is a Failure.
func (e *Engine) Query(ctx context.Context, query string, store storage.Client) (*types.QueryResult, error) {
	if logger.QueryID(ctx) == "" {
		ctx = logger.WithContextValue(ctx, logger.QueryIDKey, uuid.NewString())
	}
	start := time.Now()

	res, kind := e.run(ctx, query, store)

	elapsed := time.Since(start)
	if e.metrics {
		metrics.ObserveQuery(kind, res.Status.String(), elapsed)
	}
	if res.Status == types.StatusFailure {
		e.logFailure(ctx, res.Err)
		return res, res.Err
	}
	logger.DebugContext(ctx, "Query finished",
		logger.Component("engine"),
		logger.Operation(kind),
		"status", res.Status.String(),
		"rows", len(res.Rows),
		logger.Duration("duration", elapsed))
	return res, nil
}

func (e *Engine) run(ctx context.Context, query string, store storage.Client) (*types.QueryResult, string) {
	if e.closed.Load() {
		return types.Failure(ErrClosed), ""
	}

	stmt, err := parser.Parse(query)
	if err != nil {
		return types.Failure(asEngineError(err, qerrors.StageParse)), ""
	}

	plan, err := e.planner.Plan(stmt, e.registry.Snapshot())
	if err != nil {
		return types.Failure(asEngineError(err, qerrors.StagePlan)), stmt.Kind()
	}

	return e.executor.Execute(ctx, plan, store), stmt.Kind()
}

func (e *Engine) logFailure(ctx context.Context, err *qerrors.EngineError) {
	if e.metrics {
		metrics.ObserveError(string(err.Stage), err.Code)
	}
	switch err.Stage {
	case qerrors.StageParse, qerrors.StagePlan:
		err.Log(ctx, slog.LevelWarn)
	default:
		err.Log(ctx, slog.LevelError)
	}
}

func asEngineError(err error, stage qerrors.Stage) *qerrors.EngineError {
	if ee, ok := qerrors.As(err); ok {
		return ee
	}
	return qerrors.Wrap(err, stage, qerrors.CodeUnsupportedSyntax, string(stage))
}

type multiObserver []executor.Observer

func (m multiObserver) StoreOp(op string, keys int, err error) {
	for _, o := range m {
		o.StoreOp(op, keys, err)
	}
}

func (m multiObserver) FullScan(table string) {
	for _, o := range m {
		o.FullScan(table)
	}
}
