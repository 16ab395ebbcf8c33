package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueKindsAndEquality(t *testing.T) {
	assert.True(t, Absent().IsAbsent())
	assert.True(t, Value{}.IsAbsent())
	assert.True(t, NewString("7").Equal(NewString("7")))
	assert.False(t, NewString("7").Equal(NewNumber(7)))
	assert.True(t, NewNumber(1.5).Equal(NewNumber(1.5)))
	assert.True(t, Absent().Equal(Absent()))
}

func TestValueHashKey(t *testing.T) {
	s, ok := NewString("7").HashKey()
	require.True(t, ok)
	n, ok := NewNumber(7).HashKey()
	require.True(t, ok)
	assert.NotEqual(t, s, n)

	z1, _ := NewNumber(0).HashKey()
	negZero := NewNumber(0)
	negZero.num = -negZero.num
	z2, _ := negZero.HashKey()
	assert.Equal(t, z1, z2)

	_, ok = Absent().HashKey()
	assert.False(t, ok)
}

func TestValueJSON(t *testing.T) {
	data, err := json.Marshal([]Value{NewString("Ann"), NewNumber(3), Absent()})
	require.NoError(t, err)
	assert.JSONEq(t, `["Ann", 3, null]`, string(data))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "3", FormatNumber(3))
	assert.Equal(t, "-42", FormatNumber(-42))
	assert.Equal(t, "2.5", FormatNumber(2.5))
}

func TestCoerce(t *testing.T) {
	assert.Equal(t, NewNumber(42), Coerce(NewString("42"), ColumnTypeNumber))
	assert.Equal(t, NewString("abc"), Coerce(NewString("abc"), ColumnTypeNumber))
	assert.Equal(t, NewString("7"), Coerce(NewNumber(7), ColumnTypeString))
	assert.Equal(t, Absent(), Coerce(Absent(), ColumnTypeNumber))
	assert.Equal(t, NewString("NaN"), Coerce(NewString("NaN"), ColumnTypeNumber))
	assert.Equal(t, NewString("-Inf"), Coerce(NewString("-Inf"), ColumnTypeNumber))
	assert.Equal(t, NewString("1e999"), Coerce(NewString("1e999"), ColumnTypeNumber))
}

func TestRowGetAndLabels(t *testing.T) {
	orders := Row{Key: "orders:1", Fields: []Field{
		{Table: "orders", Name: "id", Value: NewString("1")},
		{Table: "orders", Name: "user_id", Value: NewString("7")},
	}}
	users := Row{Key: "users:7", Fields: []Field{
		{Table: "users", Name: "id", Value: NewString("7")},
		{Table: "users", Name: "name", Value: NewString("Bo")},
	}}
	joined := Concat(orders, users)

	assert.Equal(t, "", joined.Key)
	assert.Equal(t, NewString("7"), joined.Value(ColumnRef{Table: "users", Name: "id"}))
	assert.Equal(t, NewString("1"), joined.Value(ColumnRef{Name: "id"}))
	assert.True(t, joined.Value(ColumnRef{Name: "missing"}).IsAbsent())

	assert.Equal(t, []string{"orders.id", "user_id", "users.id", "name"}, Labels(joined.Refs()))
}

func TestRowWith(t *testing.T) {
	r := Row{Key: "users:1", Fields: []Field{{Table: "users", Name: "name", Value: NewString("Ann")}}}
	updated := r.With("users", "name", NewString("Bo"))
	added := r.With("users", "age", NewNumber(30))

	assert.Equal(t, NewString("Ann"), r.Value(ColumnRef{Name: "name"}), "original row must not change")
	assert.Equal(t, NewString("Bo"), updated.Value(ColumnRef{Name: "name"}))
	assert.Len(t, added.Fields, 2)
	assert.Equal(t, "users:1", added.Key)
}

func TestQueryResultRecords(t *testing.T) {
	res := &QueryResult{
		Status:  StatusPartialFailure,
		Columns: []string{"id", "name"},
		Rows:    [][]Value{{NewString("42"), NewString("Ann")}},
		FailedKeys: []KeyError{
			{Key: "users:9", Err: errors.New("boom")},
		},
	}
	assert.Equal(t, []map[string]Value{{"id": NewString("42"), "name": NewString("Ann")}}, res.Records())
	assert.Equal(t, []string{"users:9"}, res.FailedKeyNames())
	assert.False(t, res.OK())
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "partial_failure", StatusPartialFailure.String())
}
