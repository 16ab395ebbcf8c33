package types

// ColumnRef names a column, optionally qualified by its table.
type ColumnRef struct {
	Table string
	Name  string
}

func (c ColumnRef) String() string {
	if c.Table == "" {
		return c.Name
	}
	return c.Table + "." + c.Name
}

// Field is one column of a row, remembering the table it came from.
type Field struct {
	Table string
	Name  string
	Value Value
}

// Row is an ordered list of fields. Key is the store key the row was read
// from and Raw the stored value it was decoded from; joined rows have
// neither.
type Row struct {
	Key    string
	Raw    []byte
	Fields []Field
}

// Get resolves ref against the row. An unqualified reference matches the
// first field with that name.
func (r Row) Get(ref ColumnRef) (Value, bool) {
	for _, f := range r.Fields {
		if f.Name != ref.Name {
			continue
		}
		if ref.Table == "" || ref.Table == f.Table {
			return f.Value, true
		}
	}
	return Absent(), false
}

// Value resolves ref, returning the absent marker when missing.
func (r Row) Value(ref ColumnRef) Value {
	v, _ := r.Get(ref)
	return v
}

// Refs returns a fully qualified reference for each field, in order.
func (r Row) Refs() []ColumnRef {
	refs := make([]ColumnRef, len(r.Fields))
	for i, f := range r.Fields {
		refs[i] = ColumnRef{Table: f.Table, Name: f.Name}
	}
	return refs
}

// With returns a copy of the row with ref set to v, appending the field when
// it does not exist yet.
func (r Row) With(table, name string, v Value) Row {
	fields := make([]Field, len(r.Fields), len(r.Fields)+1)
	copy(fields, r.Fields)
	for i := range fields {
		if fields[i].Name == name && fields[i].Table == table {
			fields[i].Value = v
			return Row{Key: r.Key, Raw: r.Raw, Fields: fields}
		}
	}
	return Row{Key: r.Key, Raw: r.Raw, Fields: append(fields, Field{Table: table, Name: name, Value: v})}
}

// Concat joins two rows into a new keyless row, left fields first.
func Concat(left, right Row) Row {
	fields := make([]Field, 0, len(left.Fields)+len(right.Fields))
	fields = append(fields, left.Fields...)
	fields = append(fields, right.Fields...)
	return Row{Fields: fields}
}

// Labels returns output labels for refs: the bare column name, or
// table.column when the same name belongs to more than one table.
func Labels(refs []ColumnRef) []string {
	tables := make(map[string]map[string]struct{}, len(refs))
	for _, ref := range refs {
		if tables[ref.Name] == nil {
			tables[ref.Name] = make(map[string]struct{})
		}
		tables[ref.Name][ref.Table] = struct{}{}
	}
	labels := make([]string, len(refs))
	for i, ref := range refs {
		if len(tables[ref.Name]) > 1 && ref.Table != "" {
			labels[i] = ref.Table + "." + ref.Name
		} else {
			labels[i] = ref.Name
		}
	}
	return labels
}

// Dataset is the logical sequence of rows flowing between plan steps.
// Steps never modify a Dataset they receive.
type Dataset struct {
	Rows []Row
}

// Len returns the number of rows.
func (d Dataset) Len() int { return len(d.Rows) }
