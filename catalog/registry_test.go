package catalog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/kvql/types"
)

func TestTableDef_Build(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		schema, err := TableDef{
			Name:    "users",
			Columns: []ColumnDef{{Name: "name"}, {Name: "age", Type: "int"}},
		}.Build()
		require.NoError(t, err)
		assert.Equal(t, "users:{id}", schema.KeyPattern.String())
		assert.Equal(t, []string{"id", "name", "age"}, schema.ColumnNames())
		assert.Equal(t, types.ColumnTypeNumber, schema.ColumnType("age"))
		assert.Equal(t, types.ColumnTypeString, schema.ColumnType("id"))
	})

	t.Run("declared key column keeps its position and type", func(t *testing.T) {
		schema, err := TableDef{
			Name:       "orders",
			KeyPattern: "orders:{user_id}:{id}",
			Columns:    []ColumnDef{{Name: "id", Type: "number"}, {Name: "total", Type: "number"}},
		}.Build()
		require.NoError(t, err)
		assert.Equal(t, []string{"user_id", "id", "total"}, schema.ColumnNames())
		assert.Equal(t, types.ColumnTypeNumber, schema.ColumnType("id"))
	})

	t.Run("errors", func(t *testing.T) {
		_, err := TableDef{Name: "1bad"}.Build()
		assert.Error(t, err)
		_, err = TableDef{Name: "t", Columns: []ColumnDef{{Name: "a"}, {Name: "a"}}}.Build()
		assert.Error(t, err)
		_, err = TableDef{Name: "t", Columns: []ColumnDef{{Name: "a", Type: "blob"}}}.Build()
		assert.Error(t, err)
		_, err = TableDef{Name: "t", KeyPattern: "t"}.Build()
		assert.Error(t, err)
	})

	t.Run("def round trip", func(t *testing.T) {
		schema, err := TableDef{Name: "users", Columns: []ColumnDef{{Name: "age", Type: "number"}}}.Build()
		require.NoError(t, err)
		again, err := schema.Def().Build()
		require.NoError(t, err)
		assert.Equal(t, schema.ColumnNames(), again.ColumnNames())
		assert.Equal(t, schema.KeyPattern.String(), again.KeyPattern.String())
	})
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, reg.Snapshot().Empty())

	_, err := reg.Register(TableDef{Name: "users"})
	require.NoError(t, err)
	_, err = reg.Register(TableDef{Name: "orders"})
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, reg.Tables())
	assert.Equal(t, 2, reg.Len())

	snap := reg.Snapshot()
	assert.True(t, reg.Drop("orders"))
	assert.False(t, reg.Drop("orders"))

	_, ok := snap.Lookup("orders")
	assert.True(t, ok, "snapshot must not observe later drops")
	_, ok = reg.Lookup("orders")
	assert.False(t, ok)

	var nilReg *Registry
	assert.True(t, nilReg.Snapshot().Empty())
	var nilSnap *Snapshot
	assert.True(t, nilSnap.Empty())
	_, ok = nilSnap.Lookup("users")
	assert.False(t, ok)
}

func TestRegistry_Concurrent(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = reg.Register(TableDef{Name: "users"})
				reg.Drop("users")
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				snap := reg.Snapshot()
				_ = snap.Tables()
			}
		}()
	}
	wg.Wait()
}
