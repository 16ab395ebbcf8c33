// Package errors provides the stage-tagged error taxonomy shared by the
// parser, planner, executor and aggregation operators.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/guileen/kvql/logger"
)

// Stage identifies the pipeline stage that produced an error.
type Stage string

const (
	StageParse     Stage = "parse"
	StagePlan      Stage = "plan"
	StageExecute   Stage = "execute"
	StageAggregate Stage = "aggregate"
)

// Error codes for different types of errors
const (
	// parse
	CodeEmptyInput          = "empty_input"
	CodeUnsupportedSyntax   = "unsupported_syntax"
	CodeUnexpectedToken     = "unexpected_token"
	CodeUnterminatedLiteral = "unterminated_literal"
	CodeMultipleStatements  = "multiple_statements"

	// plan
	CodeUnknownTable      = "unknown_table"
	CodeUnknownColumn     = "unknown_column"
	CodeAmbiguousColumn   = "ambiguous_column"
	CodeUnsupportedJoin   = "unsupported_join"
	CodeInvalidProjection = "invalid_projection"
	CodeMissingKeyColumn  = "missing_key_column"
	CodeInvalidInsert     = "invalid_insert"
	CodeInvalidAssignment = "invalid_assignment"

	// execute
	CodeStoreError         = "store_error"
	CodeDuplicateKey       = "duplicate_key"
	CodeTransactionAborted = "transaction_aborted"
	CodeCancelled          = "cancelled"
	CodeDecodeError        = "decode_error"

	// aggregate
	CodeNoNumericRows = "no_numeric_rows"
)

// EngineError is the single error type returned by every stage of the query
// pipeline. Position, Found and Expected are only set for parse errors.
type EngineError struct {
	Stage    Stage
	Code     string
	Message  string
	Op       string
	Position int
	Found    string
	Expected string
	Err      error
}

// Error implements the error interface
func (e *EngineError) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return fmt.Sprintf("%s error [%s]: %s", e.Stage, e.Code, msg)
}

// Unwrap implements the unwrap interface for error chaining
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches another *EngineError with the same stage and code.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Stage == t.Stage && e.Code == t.Code
	}
	return false
}

// Log logs the error with the provided logger
func (e *EngineError) Log(ctx context.Context, logLevel slog.Level) {
	logFields := []any{
		"stage", string(e.Stage),
		"error_code", e.Code,
		"message", e.Message,
	}
	if e.Op != "" {
		logFields = append(logFields, "operation", e.Op)
	}
	if e.Stage == StageParse {
		logFields = append(logFields, "position", e.Position)
	}
	if e.Err != nil {
		logFields = append(logFields, "cause", e.Err.Error())
	}

	switch {
	case logLevel <= slog.LevelDebug:
		logger.DebugContext(ctx, "Query error", logFields...)
	case logLevel <= slog.LevelInfo:
		logger.InfoContext(ctx, "Query error", logFields...)
	case logLevel <= slog.LevelWarn:
		logger.WarnContext(ctx, "Query error", logFields...)
	default:
		logger.ErrorContext(ctx, "Query error", logFields...)
	}
}

// New creates a new EngineError
func New(stage Stage, code, message string) *EngineError {
	return &EngineError{Stage: stage, Code: code, Message: message}
}

// Errorf creates a new EngineError with formatted message
func Errorf(stage Stage, code, format string, args ...interface{}) *EngineError {
	return &EngineError{Stage: stage, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with context
func Wrap(err error, stage Stage, code, op string) *EngineError {
	return &EngineError{
		Stage:   stage,
		Code:    code,
		Message: err.Error(),
		Op:      op,
		Err:     err,
	}
}

// NewParseError builds a parse-stage error located at position.
func NewParseError(code string, position int, found, expected string) *EngineError {
	var msg string
	switch {
	case expected != "" && found != "":
		msg = fmt.Sprintf("at position %d: expected %s, found %s", position, expected, found)
	case found != "":
		msg = fmt.Sprintf("at position %d: unexpected %s", position, found)
	default:
		msg = fmt.Sprintf("at position %d", position)
	}
	return &EngineError{
		Stage:    StageParse,
		Code:     code,
		Message:  msg,
		Position: position,
		Found:    found,
		Expected: expected,
	}
}

// NewPlanErrorf creates a plan-stage error.
func NewPlanErrorf(code, format string, args ...interface{}) *EngineError {
	return Errorf(StagePlan, code, format, args...)
}

// NewExecutionErrorf creates an execute-stage error.
func NewExecutionErrorf(code, format string, args ...interface{}) *EngineError {
	return Errorf(StageExecute, code, format, args...)
}

// NewAggregationErrorf creates an aggregate-stage error.
func NewAggregationErrorf(code, format string, args ...interface{}) *EngineError {
	return Errorf(StageAggregate, code, format, args...)
}

// As extracts an *EngineError from err's chain.
func As(err error) (*EngineError, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsStage reports whether err is an EngineError produced by stage.
func IsStage(err error, stage Stage) bool {
	e, ok := As(err)
	return ok && e.Stage == stage
}

// HasCode reports whether err is an EngineError carrying code.
func HasCode(err error, code string) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// IsParseError checks if an error is a parse error
func IsParseError(err error) bool { return IsStage(err, StageParse) }

// IsPlanError checks if an error is a plan error
func IsPlanError(err error) bool { return IsStage(err, StagePlan) }

// IsExecutionError checks if an error is an execution error
func IsExecutionError(err error) bool { return IsStage(err, StageExecute) }

// IsAggregationError checks if an error is an aggregation error
func IsAggregationError(err error) bool { return IsStage(err, StageAggregate) }

// Predefined error variables, usable as errors.Is targets.
var (
	ErrNoNumericRows = &EngineError{Stage: StageAggregate, Code: CodeNoNumericRows, Message: "no numeric rows"}
	ErrCancelled     = &EngineError{Stage: StageExecute, Code: CodeCancelled, Message: "query cancelled"}
	ErrDuplicateKey  = &EngineError{Stage: StageExecute, Code: CodeDuplicateKey, Message: "key already exists"}
)

// LogError logs an error at error level
func LogError(ctx context.Context, err error) {
	if e, ok := As(err); ok {
		e.Log(ctx, slog.LevelError)
		return
	}
	logger.ErrorContext(ctx, "Unexpected error occurred", "error", err.Error())
}

// LogWarning logs an error at warning level
func LogWarning(ctx context.Context, err error) {
	if e, ok := As(err); ok {
		e.Log(ctx, slog.LevelWarn)
		return
	}
	logger.WarnContext(ctx, "Unexpected error occurred", "error", err.Error())
}
