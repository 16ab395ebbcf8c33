// Package catalog holds the optional schema registry: for each table, the
// key pattern that maps rows to store keys and the ordered set of declared
// columns.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/guileen/kvql/types"
)

// Column is a declared column of a table.
type Column struct {
	Name string
	Type types.ColumnType
}

// TableSchema is the registered description of one table. A TableSchema is
// immutable once registered.
type TableSchema struct {
	Name       string
	KeyPattern *KeyPattern
	Columns    []Column
}

// Column looks up a declared column.
func (t *TableSchema) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether name is declared.
func (t *TableSchema) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// ColumnType returns the declared type of name, defaulting to string.
func (t *TableSchema) ColumnType(name string) types.ColumnType {
	if c, ok := t.Column(name); ok {
		return c.Type
	}
	return types.ColumnTypeString
}

// ColumnNames returns the declared column names in order.
func (t *TableSchema) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// TableDef is the declarative form of a table, as found in schema files and
// HTTP requests.
type TableDef struct {
	Name       string      `json:"name" yaml:"name"`
	KeyPattern string      `json:"key_pattern,omitempty" yaml:"key_pattern,omitempty"`
	Columns    []ColumnDef `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// ColumnDef is the declarative form of a column.
type ColumnDef struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Build validates the definition and compiles it into a TableSchema. A
// missing key pattern defaults to "<name>:{id}"; key columns missing from
// the column list are prepended as string columns.
func (d TableDef) Build() (*TableSchema, error) {
	if !isIdentifier(d.Name) {
		return nil, fmt.Errorf("invalid table name %q", d.Name)
	}

	var kp *KeyPattern
	if d.KeyPattern == "" {
		kp = DefaultKeyPattern(d.Name, ":", "id")
	} else {
		var err error
		if kp, err = ParseKeyPattern(d.KeyPattern); err != nil {
			return nil, fmt.Errorf("table %q: %w", d.Name, err)
		}
	}

	var cols []Column
	seen := make(map[string]bool)
	for _, kc := range kp.Columns() {
		declared := false
		for _, c := range d.Columns {
			if c.Name == kc {
				declared = true
				break
			}
		}
		if !declared {
			cols = append(cols, Column{Name: kc, Type: types.ColumnTypeString})
			seen[kc] = true
		}
	}
	for _, c := range d.Columns {
		if !isIdentifier(c.Name) {
			return nil, fmt.Errorf("table %q: invalid column name %q", d.Name, c.Name)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("table %q: duplicate column %q", d.Name, c.Name)
		}
		typ, ok := types.ParseColumnType(c.Type)
		if !ok {
			return nil, fmt.Errorf("table %q: column %q: unsupported type %q", d.Name, c.Name, c.Type)
		}
		seen[c.Name] = true
		cols = append(cols, Column{Name: c.Name, Type: typ})
	}

	return &TableSchema{Name: d.Name, KeyPattern: kp, Columns: cols}, nil
}

// Def returns the declarative form of the schema.
func (t *TableSchema) Def() TableDef {
	def := TableDef{Name: t.Name, KeyPattern: t.KeyPattern.String()}
	for _, c := range t.Columns {
		def.Columns = append(def.Columns, ColumnDef{Name: c.Name, Type: string(c.Type)})
	}
	return def
}

// Registry is the mutable, concurrency-safe schema registry. Queries plan
// against a Snapshot so a concurrent Register or Drop never changes the view
// of a plan in progress.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*TableSchema
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*TableSchema)}
}

// Register adds or replaces a table.
func (r *Registry) Register(def TableDef) (*TableSchema, error) {
	schema, err := def.Build()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.tables[schema.Name] = schema
	r.mu.Unlock()
	return schema, nil
}

// Drop removes a table, reporting whether it existed.
func (r *Registry) Drop(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tables[name]; !ok {
		return false
	}
	delete(r.tables, name)
	return true
}

// Lookup returns the registered schema for name.
func (r *Registry) Lookup(name string) (*TableSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[name]
	return t, ok
}

// Tables returns the registered table names, sorted.
func (r *Registry) Tables() []string {
	return r.Snapshot().Tables()
}

// Len returns the number of registered tables.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tables)
}

// Snapshot returns an immutable view of the registry. A nil registry yields
// an empty snapshot.
func (r *Registry) Snapshot() *Snapshot {
	if r == nil {
		return &Snapshot{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tables := make(map[string]*TableSchema, len(r.tables))
	for name, t := range r.tables {
		tables[name] = t
	}
	return &Snapshot{tables: tables}
}

// Snapshot is a point-in-time, read-only view of the registry.
type Snapshot struct {
	tables map[string]*TableSchema
}

// Lookup returns the schema of a table in the snapshot.
func (s *Snapshot) Lookup(name string) (*TableSchema, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.tables[name]
	return t, ok
}

// Empty reports whether the snapshot declares no tables, in which case every
// table is treated as schema-less.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.tables) == 0
}

// Tables returns the table names, sorted.
func (s *Snapshot) Tables() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
