package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineError_Error(t *testing.T) {
	err := New(StagePlan, CodeUnknownTable, "unknown table \"users\"")
	assert.Equal(t, "plan error [unknown_table]: unknown table \"users\"", err.Error())

	err.Op = "resolve"
	assert.Equal(t, "plan error [unknown_table]: resolve: unknown table \"users\"", err.Error())
}

func TestEngineError_Wrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := Wrap(inner, StageExecute, CodeStoreError, "get users:1")

	assert.ErrorIs(t, err, inner)
	assert.True(t, IsExecutionError(err))
	assert.True(t, HasCode(err, CodeStoreError))
}

func TestEngineError_Is(t *testing.T) {
	err := NewAggregationErrorf(CodeNoNumericRows, "avg over %q", "price")
	assert.ErrorIs(t, err, ErrNoNumericRows)
	assert.NotErrorIs(t, err, ErrCancelled)

	wrapped := fmt.Errorf("outer: %w", err)
	assert.ErrorIs(t, wrapped, ErrNoNumericRows)
	assert.True(t, IsAggregationError(wrapped))
}

func TestNewParseError(t *testing.T) {
	err := NewParseError(CodeUnexpectedToken, 7, "WHERE", "FROM")
	require.True(t, IsParseError(err))
	assert.Equal(t, 7, err.Position)
	assert.Equal(t, "WHERE", err.Found)
	assert.Equal(t, "FROM", err.Expected)
	assert.Contains(t, err.Error(), "expected FROM, found WHERE")
}

func TestAs(t *testing.T) {
	_, ok := As(errors.New("plain"))
	assert.False(t, ok)

	e, ok := As(fmt.Errorf("ctx: %w", NewPlanErrorf(CodeUnsupportedJoin, "cross join")))
	require.True(t, ok)
	assert.Equal(t, StagePlan, e.Stage)
	assert.False(t, IsStage(nil, StagePlan))
}
