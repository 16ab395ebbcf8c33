package operators

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"testing"

	qerrors "github.com/guileen/kvql/engine/errors"
	"github.com/guileen/kvql/protocol/sql/parser"
	"github.com/guileen/kvql/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(table, key string, kv ...any) types.Row {
	r := types.Row{Key: key}
	for i := 0; i+1 < len(kv); i += 2 {
		var v types.Value
		switch x := kv[i+1].(type) {
		case string:
			v = types.NewString(x)
		case float64:
			v = types.NewNumber(x)
		case int:
			v = types.NewNumber(float64(x))
		}
		r.Fields = append(r.Fields, types.Field{Table: table, Name: kv[i].(string), Value: v})
	}
	return r
}

func ref(table, name string) types.ColumnRef { return types.ColumnRef{Table: table, Name: name} }

func TestMatch(t *testing.T) {
	tests := []struct {
		name string
		v    types.Value
		op   parser.CompareOp
		lit  types.Value
		want bool
	}{
		{"string eq", types.NewString("a"), parser.OpEq, types.NewString("a"), true},
		{"string lt", types.NewString("a"), parser.OpLt, types.NewString("b"), true},
		{"number ge", types.NewNumber(3), parser.OpGe, types.NewNumber(3), true},
		{"numeric string vs number", types.NewString("10"), parser.OpGt, types.NewNumber(9), false},
		{"number vs numeric string", types.NewNumber(7), parser.OpEq, types.NewString("7"), false},
		{"padded string vs number", types.NewString("07"), parser.OpNe, types.NewNumber(7), true},
		{"nan string vs number", types.NewString("NaN"), parser.OpEq, types.NewNumber(0), false},
		{"incomparable eq", types.NewString("abc"), parser.OpEq, types.NewNumber(1), false},
		{"incomparable ne", types.NewString("abc"), parser.OpNe, types.NewNumber(1), true},
		{"absent eq", types.Absent(), parser.OpEq, types.NewString(""), false},
		{"absent ne", types.Absent(), parser.OpNe, types.NewString("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.v, tt.op, tt.lit))
		})
	}
}

func TestFilter(t *testing.T) {
	ds := types.Dataset{Rows: []types.Row{
		row("users", "users:1", "id", "1", "age", 30),
		row("users", "users:2", "id", "2", "age", 17),
		row("users", "users:3", "id", "3"),
	}}

	stmt, err := parser.Parse("SELECT * FROM users WHERE age >= 18 OR id = '3'")
	require.NoError(t, err)
	out := Filter(ds, stmt.(*parser.SelectStmt).Where)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, "users:1", out.Rows[0].Key)
	assert.Equal(t, "users:3", out.Rows[1].Key)

	assert.Equal(t, 3, Filter(ds, nil).Len())
}

func TestHashJoin_Basic(t *testing.T) {
	orders := types.Dataset{Rows: []types.Row{
		row("orders", "orders:1", "id", "1", "user_id", "7"),
		row("orders", "orders:2", "id", "2", "user_id", "8"),
		row("orders", "orders:3", "id", "3", "user_id", 7),
		row("orders", "orders:4", "id", "4"),
	}}
	users := types.Dataset{Rows: []types.Row{
		row("users", "users:7", "id", "7", "name", "Ann"),
	}}

	out := HashJoin(orders, users, ref("orders", "user_id"), ref("users", "id"))
	require.Equal(t, 1, out.Len())
	joined := out.Rows[0]
	assert.Equal(t, "", joined.Key)
	assert.Equal(t, "1", joined.Value(ref("orders", "id")).Str())
	assert.Equal(t, "Ann", joined.Value(ref("users", "name")).Str())
	assert.Equal(t, []string{"orders.id", "user_id", "users.id", "name"}, types.Labels(joined.Refs()))
}

func TestHashJoin_MatchesNestedLoop(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	gen := func(table string, n int) types.Dataset {
		var ds types.Dataset
		for i := 0; i < n; i++ {
			r := types.Row{Key: fmt.Sprintf("%s:%d", table, i)}
			r.Fields = append(r.Fields, types.Field{Table: table, Name: "id", Value: types.NewString(fmt.Sprint(i))})
			var v types.Value
			switch rng.Intn(4) {
			case 0:
				v = types.NewString(fmt.Sprint(rng.Intn(5)))
			case 1:
				v = types.NewNumber(float64(rng.Intn(5)))
			case 2:
				v = types.Absent()
			default:
				v = types.NewString("k" + fmt.Sprint(rng.Intn(3)))
			}
			r.Fields = append(r.Fields, types.Field{Table: table, Name: "k", Value: v})
			ds.Rows = append(ds.Rows, r)
		}
		return ds
	}

	pairs := func(ds types.Dataset) []string {
		out := make([]string, len(ds.Rows))
		for i, r := range ds.Rows {
			out[i] = r.Value(ref("l", "id")).Str() + "/" + r.Value(ref("r", "id")).Str()
		}
		return out
	}

	for trial := 0; trial < 50; trial++ {
		left := gen("l", rng.Intn(30))
		right := gen("r", rng.Intn(30))
		lk, rk := ref("l", "k"), ref("r", "k")

		hashed := pairs(HashJoin(left, right, lk, rk))
		nested := pairs(NestedLoopJoin(left, right, lk, rk))
		assert.Equal(t, nested, hashed, "trial %d", trial)

		sort.Strings(hashed)
		sort.Strings(nested)
		assert.Equal(t, nested, hashed)
	}
}

func TestHashJoinOperator(t *testing.T) {
	left := types.Dataset{Rows: []types.Row{
		row("a", "a:1", "x", 1),
		row("a", "a:2", "x", 2),
	}}
	right := types.Dataset{Rows: []types.Row{
		row("b", "b:1", "y", 1, "tag", "first"),
		row("b", "b:2", "y", 1, "tag", "second"),
	}}
	op := NewHashJoin(NewDatasetScan(left), NewDatasetScan(right), JoinCondition{Left: ref("a", "x"), Right: ref("b", "y")})
	out, err := Drain(op)
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, "first", out.Rows[0].Value(ref("b", "tag")).Str())
	assert.Equal(t, "second", out.Rows[1].Value(ref("b", "tag")).Str())
	assert.Equal(t, 1.0, out.Rows[1].Value(ref("a", "x")).Num())
}

func TestAggregate(t *testing.T) {
	ds := types.Dataset{Rows: []types.Row{
		row("t", "t:1", "price", 1.5),
		row("t", "t:2", "price", "n/a"),
		row("t", "t:3"),
		row("t", "t:4", "price", 4),
		row("t", "t:5", "price", -2),
	}}
	price := ref("", "price")

	res, err := Aggregate(ds, FuncCount, price)
	require.NoError(t, err)
	assert.Equal(t, float64(ds.Len()), res.Value.Num())
	assert.Zero(t, res.Skipped)

	res, err = Aggregate(ds, FuncSum, price)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, res.Value.Num(), 1e-9)
	assert.Equal(t, int64(2), res.Skipped)

	res, err = Aggregate(ds, FuncAvg, price)
	require.NoError(t, err)
	assert.InDelta(t, 3.5/3, res.Value.Num(), 1e-9)

	res, err = Aggregate(ds, FuncMin, price)
	require.NoError(t, err)
	assert.Equal(t, -2.0, res.Value.Num())

	res, err = Aggregate(ds, FuncMax, price)
	require.NoError(t, err)
	assert.Equal(t, 4.0, res.Value.Num())
}

func TestAggregate_SumMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var ds types.Dataset
	var want float64
	for i := 0; i < 1000; i++ {
		f := rng.Float64()*1000 - 500
		want += f
		ds.Rows = append(ds.Rows, row("t", "", "v", f))
	}
	res, err := Aggregate(ds, FuncSum, ref("t", "v"))
	require.NoError(t, err)
	assert.InDelta(t, want, res.Value.Num(), 1e-9)
}

func TestAggregate_NoNumericRows(t *testing.T) {
	ds := types.Dataset{Rows: []types.Row{
		row("t", "t:1", "price", "free"),
		row("t", "t:2"),
	}}
	for _, fn := range []Func{FuncSum, FuncAvg, FuncMin, FuncMax} {
		res, err := Aggregate(ds, fn, ref("", "price"))
		require.Error(t, err, fn)
		assert.ErrorIs(t, err, qerrors.ErrNoNumericRows)
		assert.True(t, qerrors.IsAggregationError(err))
		assert.True(t, res.Value.IsAbsent())
		assert.Equal(t, int64(2), res.Skipped)
	}

	_, err := Aggregate(types.Dataset{}, FuncAvg, ref("", "price"))
	assert.ErrorIs(t, err, qerrors.ErrNoNumericRows)

	res, err := Aggregate(types.Dataset{}, FuncCount, ref("", "price"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Value.Num())
}

func TestAggregateOperator_GroupBy(t *testing.T) {
	ds := types.Dataset{Rows: []types.Row{
		row("o", "o:1", "user", "b", "amount", 10),
		row("o", "o:2", "user", "a", "amount", 5),
		row("o", "o:3", "user", "b", "amount", "x"),
		row("o", "o:4", "user", "c", "amount", "y"),
	}}
	specs := []AggSpec{
		{Column: ref("", "user"), Label: "user"},
		{Func: FuncCount, Star: true, Label: "count"},
		{Func: FuncSum, Column: ref("", "amount"), Label: "sum_amount"},
	}
	op := NewAggregate(NewDatasetScan(ds), []types.ColumnRef{ref("", "user")}, specs)
	out, err := Drain(op)
	require.NoError(t, err)
	require.Equal(t, 3, out.Len())

	var got [][]string
	for _, r := range out.Rows {
		var line []string
		for _, f := range r.Fields {
			line = append(line, f.Value.String())
		}
		got = append(got, line)
	}
	assert.Equal(t, [][]string{{"b", "2", "10"}, {"a", "1", "5"}, {"c", "1", ""}}, got)
	assert.True(t, out.Rows[2].Fields[2].Value.IsAbsent())
	assert.Equal(t, map[string]int64{"sum_amount": 2}, op.Skipped())
}

func TestAggregateOperator_GroupKeysWithSeparatorBytes(t *testing.T) {
	ds := types.Dataset{Rows: []types.Row{
		row("o", "o:1", "a", "x\x00sy", "b", "z"),
		row("o", "o:2", "a", "x", "b", "y\x00sz"),
		row("o", "o:3", "a", "x", "b", "y\x00sz"),
	}}
	groupBy := []types.ColumnRef{ref("", "a"), ref("", "b")}
	specs := []AggSpec{
		{Column: ref("", "a"), Label: "a"},
		{Column: ref("", "b"), Label: "b"},
		{Func: FuncCount, Star: true, Label: "count"},
	}
	out, err := Drain(NewAggregate(NewDatasetScan(ds), groupBy, specs))
	require.NoError(t, err)
	require.Equal(t, 2, out.Len())
	assert.Equal(t, "x\x00sy", out.Rows[0].Fields[0].Value.String())
	assert.Equal(t, 1.0, out.Rows[0].Fields[2].Value.Num())
	assert.Equal(t, "y\x00sz", out.Rows[1].Fields[1].Value.String())
	assert.Equal(t, 2.0, out.Rows[1].Fields[2].Value.Num())
}

func TestAggregateOperator_Ungrouped(t *testing.T) {
	specs := []AggSpec{{Func: FuncCount, Star: true, Label: "count"}}
	out, err := Drain(NewAggregate(NewDatasetScan(types.Dataset{}), nil, specs))
	require.NoError(t, err)
	require.Equal(t, 1, out.Len())
	assert.Equal(t, 0.0, out.Rows[0].Fields[0].Value.Num())

	specs = []AggSpec{{Func: FuncMax, Column: ref("", "v"), Label: "max_v"}}
	_, err = Drain(NewAggregate(NewDatasetScan(types.Dataset{}), nil, specs))
	assert.ErrorIs(t, err, qerrors.ErrNoNumericRows)
}

func TestFuncLabel(t *testing.T) {
	assert.Equal(t, "count", FuncCount.Label("", true))
	assert.Equal(t, "avg_price", FuncAvg.Label("price", false))
	assert.True(t, math.IsInf(NewAccumulator(FuncMin).min, 1))
}
