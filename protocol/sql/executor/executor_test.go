package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/guileen/kvql/catalog"
	qerrors "github.com/guileen/kvql/engine/errors"
	"github.com/guileen/kvql/protocol/sql/parser"
	"github.com/guileen/kvql/protocol/sql/planner"
	"github.com/guileen/kvql/storage"
	"github.com/guileen/kvql/storage/shared"
	"github.com/guileen/kvql/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	ops       map[string]int
	fullScans []string
}

func (o *countingObserver) StoreOp(op string, keys int, err error) {
	if o.ops == nil {
		o.ops = make(map[string]int)
	}
	o.ops[op]++
}

func (o *countingObserver) FullScan(table string) { o.fullScans = append(o.fullScans, table) }

type harness struct {
	t     *testing.T
	store *storage.MemoryStore
	snap  *catalog.Snapshot
	opts  planner.Options
	exec  *Executor
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, store: storage.NewMemoryStore(), exec: New(Options{BatchSize: 2})}
}

func (h *harness) run(query string) *types.QueryResult {
	return h.runOn(context.Background(), h.store, query)
}

func (h *harness) runOn(ctx context.Context, store shared.Client, query string) *types.QueryResult {
	h.t.Helper()
	stmt, err := parser.Parse(query)
	require.NoError(h.t, err)
	pl, err := planner.New(h.opts).Plan(stmt, h.snap)
	require.NoError(h.t, err)
	res := h.exec.Execute(ctx, pl, store)
	require.NotNil(h.t, res)
	return res
}

func strs(row []types.Value) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = v.String()
	}
	return out
}

func TestExecute_PointLookup(t *testing.T) {
	h := newHarness(t)
	h.store.Put("users:42", []byte(`{"name":"Ann"}`))

	res := h.run("SELECT * FROM users WHERE id = '42'")
	require.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"42", "Ann"}, strs(res.Rows[0]))
	assert.Empty(t, res.Warnings)

	res = h.run("SELECT * FROM users WHERE id = '43'")
	require.Equal(t, types.StatusSuccess, res.Status)
	assert.Empty(t, res.Rows)
}

func TestExecute_KeyLookupMatchesScan(t *testing.T) {
	h := newHarness(t)
	h.store.Put("users:07", []byte(`{"name":"Ann"}`))
	h.store.Put("users:8", []byte(`{"name":"Bob"}`))

	for _, q := range []string{
		"SELECT name FROM users WHERE id = 7",
		"SELECT name FROM users WHERE id = 7 OR name = 'zzz'",
	} {
		res := h.run(q)
		require.Equal(t, types.StatusSuccess, res.Status, q)
		assert.Empty(t, res.Rows, q)
	}
	for _, q := range []string{
		"SELECT name FROM users WHERE id = 8",
		"SELECT name FROM users WHERE id = 8 OR name = 'zzz'",
	} {
		res := h.run(q)
		require.Len(t, res.Rows, 1, q)
		assert.Equal(t, []string{"Bob"}, strs(res.Rows[0]), q)
	}
	res := h.run("SELECT name FROM users WHERE id = '07'")
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"Ann"}, strs(res.Rows[0]))
}

func TestExecute_InsertThenSelect(t *testing.T) {
	h := newHarness(t)

	res := h.run("INSERT INTO users (id, name) VALUES ('7','Bo')")
	require.Equal(t, types.StatusSuccess, res.Status)
	assert.Empty(t, res.Rows)
	assert.Equal(t, []string{"users:7"}, res.Affected)
	raw, ok := h.store.Raw("users:7")
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"Bo"}`, string(raw))

	res = h.run("SELECT * FROM users WHERE id='7'")
	require.Equal(t, types.StatusSuccess, res.Status)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"7", "Bo"}, strs(res.Rows[0]))

	res = h.run("INSERT INTO users (id, name) VALUES ('7','Cy'), ('8', 'Di')")
	require.Equal(t, types.StatusPartialFailure, res.Status)
	assert.Equal(t, []string{"users:7"}, res.FailedKeyNames())
	assert.ErrorIs(t, res.FailedKeys[0].Err, qerrors.ErrDuplicateKey)
	assert.Equal(t, []string{"users:8"}, res.SucceededKeys)
}

func TestExecute_Count(t *testing.T) {
	h := newHarness(t)
	for _, k := range []string{"users:1", "users:2", "users:3"} {
		h.store.Put(k, []byte(`{"name":"x"}`))
	}
	h.store.Put("orders:1", []byte(`{}`))

	res := h.run("SELECT COUNT(*) FROM users")
	require.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, []string{"count"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, 3.0, res.Rows[0][0].Num())
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "full scan")
}

func TestExecute_JoinWithFailedFetch(t *testing.T) {
	h := newHarness(t)
	h.store.Put("users:1", []byte(`{"name":"Ann"}`))
	h.store.Put("users:2", []byte(`{"name":"Bob"}`))
	h.store.Put("orders:1", []byte(`{"user_id":"1","total":10}`))
	h.store.Put("orders:2", []byte(`{"user_id":"2","total":20}`))
	h.store.Put("orders:3", []byte(`{"user_id":"1","total":30}`))
	boom := errors.New("connection reset")
	h.store.FailGet("orders:2", boom)

	for name, store := range map[string]shared.Client{"mget": h.store, "get": storage.Basic(h.store)} {
		t.Run(name, func(t *testing.T) {
			res := h.runOn(context.Background(), store, "SELECT orders.id, name, total FROM orders JOIN users ON orders.user_id = users.id")
			require.Equal(t, types.StatusPartialFailure, res.Status)
			assert.Equal(t, []string{"orders:2"}, res.FailedKeyNames())
			assert.ErrorIs(t, res.FailedKeys[0].Err, boom)
			assert.Contains(t, res.SucceededKeys, "orders:1")
			assert.NotContains(t, res.SucceededKeys, "orders:2")

			assert.Equal(t, []string{"orders.id", "name", "total"}, res.Columns)
			require.Len(t, res.Rows, 2)
			assert.Equal(t, []string{"1", "Ann", "10"}, strs(res.Rows[0]))
			assert.Equal(t, []string{"3", "Ann", "30"}, strs(res.Rows[1]))
		})
	}
}

func TestExecute_SelectStarJoinLabels(t *testing.T) {
	h := newHarness(t)
	h.store.Put("users:1", []byte(`{"name":"Ann"}`))
	h.store.Put("orders:9", []byte(`{"user_id":1}`))

	res := h.run("SELECT * FROM orders JOIN users ON orders.user_id = users.id")
	require.Equal(t, types.StatusSuccess, res.Status)
	// 1 (number) never joins '1' (string)
	assert.Empty(t, res.Rows)

	h.store.Put("orders:9", []byte(`{"user_id":"1"}`))
	res = h.run("SELECT * FROM orders JOIN users ON orders.user_id = users.id")
	assert.Equal(t, []string{"orders.id", "user_id", "users.id", "name"}, res.Columns)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, []string{"9", "1", "1", "Ann"}, strs(res.Rows[0]))
}

func TestExecute_RangeScan(t *testing.T) {
	h := newHarness(t)
	reg := catalog.NewRegistry()
	_, err := reg.Register(catalog.TableDef{Name: "orders", KeyPattern: "orders:{user_id}:{id}",
		Columns: []catalog.ColumnDef{{Name: "total", Type: "number"}}})
	require.NoError(t, err)
	h.snap = reg.Snapshot()

	h.store.Put("orders:7:a", []byte(`{"total":"1"}`))
	h.store.Put("orders:7:b", []byte(`{"total":2}`))
	h.store.Put("orders:7:c", []byte(`{"total":3}`))
	h.store.Put("orders:70:a", []byte(`{"total":4}`))
	h.store.Put("orders:8:a", []byte(`{"total":5}`))

	for name, store := range map[string]shared.Client{"range": h.store, "glob": storage.Basic(h.store)} {
		t.Run(name, func(t *testing.T) {
			res := h.runOn(context.Background(), store, "SELECT id, total FROM orders WHERE user_id = '7' AND id > 'a'")
			require.Equal(t, types.StatusSuccess, res.Status)
			assert.Empty(t, res.Warnings)
			require.Len(t, res.Rows, 2)
			assert.Equal(t, []string{"b", "2"}, strs(res.Rows[0]))
			assert.Equal(t, []string{"c", "3"}, strs(res.Rows[1]))

			res = h.runOn(context.Background(), store, "SELECT SUM(total) FROM orders WHERE user_id = '7'")
			require.Equal(t, types.StatusSuccess, res.Status)
			assert.Equal(t, 6.0, res.Rows[0][0].Num())
		})
	}
	assert.Positive(t, h.store.Stats().RangeScans)
}

func TestExecute_AtomicInsert(t *testing.T) {
	h := newHarness(t)
	h.opts.AtomicWrites = true
	h.store.Put("users:2", []byte(`{"name":"old"}`))

	res := h.run("INSERT INTO users (id, name) VALUES ('1', 'a'), ('2', 'b')")
	require.Equal(t, types.StatusFailure, res.Status)
	require.NotNil(t, res.Err)
	assert.Equal(t, qerrors.CodeTransactionAborted, res.Err.Code)
	assert.ElementsMatch(t, []string{"users:1", "users:2"}, res.FailedKeyNames())
	_, ok := h.store.Raw("users:1")
	assert.False(t, ok)

	res = h.run("INSERT INTO users (id, name) VALUES ('1', 'a'), ('3', 'c')")
	require.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, []string{"users:1", "users:3"}, res.Affected)
	assert.EqualValues(t, 2, h.store.Stats().Commits)
}

func TestExecute_AtomicFallback(t *testing.T) {
	h := newHarness(t)
	h.opts.AtomicWrites = true
	res := h.runOn(context.Background(), storage.Basic(h.store), "INSERT INTO users (id, name) VALUES ('1', 'a'), ('2', 'b')")
	require.Equal(t, types.StatusSuccess, res.Status)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "not atomic")
	assert.Len(t, h.store.Keys(), 2)
}

func TestExecute_CommitFailure(t *testing.T) {
	h := newHarness(t)
	h.opts.AtomicWrites = true
	h.store.Put("users:1", []byte(`{"n":1}`))
	h.store.Put("users:2", []byte(`{"n":2}`))
	h.store.FailCommit(errors.New("EXECABORT"))

	res := h.run("DELETE FROM users")
	require.Equal(t, types.StatusFailure, res.Status)
	assert.True(t, qerrors.HasCode(res.Err, qerrors.CodeTransactionAborted))
	assert.Len(t, res.FailedKeys, 2)
	assert.Len(t, h.store.Keys(), 2)
}

type failingBeginStore struct {
	shared.Client
	err error
}

func (s failingBeginStore) Begin(ctx context.Context) (shared.Tx, error) {
	return nil, s.err
}

func TestExecute_BeginFailure(t *testing.T) {
	h := newHarness(t)
	h.opts.AtomicWrites = true
	store := failingBeginStore{Client: h.store, err: errors.New("connection reset")}

	res := h.runOn(context.Background(), store, "INSERT INTO users (id, name) VALUES ('1', 'a'), ('2', 'b')")
	require.Equal(t, types.StatusFailure, res.Status)
	assert.True(t, qerrors.HasCode(res.Err, qerrors.CodeTransactionAborted))
	assert.ElementsMatch(t, []string{"users:1", "users:2"}, res.FailedKeyNames())
	assert.Empty(t, h.store.Keys())
}

func TestExecute_UpdateKeepsUntouchedFields(t *testing.T) {
	h := newHarness(t)
	h.store.Put("users:1", []byte(`{"name":"Ann","active":true,"tags":["a","b"],"note":null}`))
	h.store.Put("users:2", []byte(`plain text`))

	res := h.run("UPDATE users SET name = 'Bo' WHERE id = '1'")
	require.Equal(t, types.StatusSuccess, res.Status)
	raw, _ := h.store.Raw("users:1")
	assert.Equal(t, `{"name":"Bo","active":true,"tags":["a","b"],"note":null}`, string(raw))

	res = h.run("UPDATE users SET name = 'Cy'")
	require.Equal(t, types.StatusPartialFailure, res.Status)
	assert.Equal(t, []string{"users:1"}, res.Affected)
	assert.Equal(t, []string{"users:2"}, res.FailedKeyNames())
	raw, _ = h.store.Raw("users:2")
	assert.Equal(t, "plain text", string(raw))

	h.opts.AtomicWrites = true
	res = h.run("UPDATE users SET name = 'Di'")
	require.Equal(t, types.StatusFailure, res.Status)
	assert.True(t, qerrors.HasCode(res.Err, qerrors.CodeTransactionAborted))
	raw, _ = h.store.Raw("users:1")
	assert.Contains(t, string(raw), `"name":"Cy"`)
}

func TestExecute_UpdateAndDelete(t *testing.T) {
	h := newHarness(t)
	h.store.Put("users:1", []byte(`{"name":"Ann","age":30}`))
	h.store.Put("users:2", []byte(`{"name":"Bob","age":17}`))
	h.store.Put("users:3", []byte(`{"name":"Cy"}`))

	res := h.run("UPDATE users SET age = 18, city = 'Oslo' WHERE age < 18")
	require.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, []string{"users:2"}, res.Affected)
	raw, _ := h.store.Raw("users:2")
	assert.JSONEq(t, `{"name":"Bob","age":18,"city":"Oslo"}`, string(raw))

	h.store.FailWrite("users:3", errors.New("READONLY"))
	res = h.run("DELETE FROM users WHERE id = '1' OR id = '3' OR id = '4'")
	require.Equal(t, types.StatusPartialFailure, res.Status)
	assert.Equal(t, []string{"users:1"}, res.Affected)
	assert.Equal(t, []string{"users:1"}, res.SucceededKeys)
	assert.Equal(t, []string{"users:3"}, res.FailedKeyNames())
	assert.Equal(t, []string{"users:2", "users:3"}, h.store.Keys())
}

func TestExecute_Failures(t *testing.T) {
	h := newHarness(t)
	h.store.Put("items:1", []byte(`{"price":"free"}`))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.runOn(ctx, h.store, "SELECT * FROM items")
	require.Equal(t, types.StatusFailure, res.Status)
	assert.ErrorIs(t, res.Err, qerrors.ErrCancelled)
	assert.ErrorIs(t, res.Err, context.Canceled)

	res = h.run("SELECT AVG(price) FROM items")
	require.Equal(t, types.StatusFailure, res.Status)
	assert.ErrorIs(t, res.Err, qerrors.ErrNoNumericRows)

	h.store.FailScan(errors.New("scan refused"))
	res = h.run("SELECT * FROM items")
	require.Equal(t, types.StatusFailure, res.Status)
	assert.True(t, qerrors.HasCode(res.Err, qerrors.CodeStoreError))
}

func TestExecute_Decoding(t *testing.T) {
	h := newHarness(t)
	h.store.Put("users:1", []byte(`{"id":"spoofed","name":"Ann","vip":true,"tags":["a"],"nick":null}`))
	h.store.Put("users:2", []byte(`plain text`))
	h.store.Put("users:", []byte(`{"name":"no id"}`))

	res := h.run("SELECT * FROM users")
	require.Equal(t, types.StatusSuccess, res.Status)
	// the first row fixes the column set
	assert.Equal(t, []string{"id", "name", "vip", "tags"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []string{"1", "Ann", "true", `["a"]`}, strs(res.Rows[0]))
	assert.Equal(t, "2", res.Rows[1][0].Str())
	assert.True(t, res.Rows[1][1].IsAbsent())

	res = h.run("SELECT value FROM users WHERE id = '2'")
	require.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, "plain text", res.Rows[0][0].Str())
}

func TestExecute_GroupBySkipped(t *testing.T) {
	h := newHarness(t)
	h.store.Put("sales:1", []byte(`{"region":"n","amount":5}`))
	h.store.Put("sales:2", []byte(`{"region":"s","amount":"n/a"}`))
	h.store.Put("sales:3", []byte(`{"region":"n","amount":7}`))

	res := h.run("SELECT region, SUM(amount) AS total FROM sales GROUP BY region")
	require.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, []string{"region", "total"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, []string{"n", "12"}, strs(res.Rows[0]))
	assert.True(t, res.Rows[1][1].IsAbsent())
	assert.Equal(t, map[string]int64{"total": 1}, res.Skipped)
}

func TestExecute_Observer(t *testing.T) {
	obs := &countingObserver{}
	h := newHarness(t)
	h.exec = New(Options{Observer: obs})
	h.store.Put("users:1", []byte(`{}`))

	h.run("SELECT * FROM users")
	h.run("SELECT * FROM users WHERE id = '1'")
	h.run("DELETE FROM users WHERE id = '1'")

	assert.Equal(t, []string{"users"}, obs.fullScans)
	assert.Equal(t, 1, obs.ops["scan"])
	assert.Equal(t, 3, obs.ops["mget"])
	assert.Equal(t, 1, obs.ops["del"])
}
