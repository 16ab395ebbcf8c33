package executor

import (
	"github.com/guileen/kvql/protocol/sql/planner"
	"github.com/guileen/kvql/types"
)

// Materialize shapes ds into result columns and rows. For SELECT * the
// columns of a registered table follow its declared order; those of a
// schema-less table are the fields of the first row, in order, applied to
// every row. Missing values are the absent marker.
func Materialize(s *planner.ProjectStep, ds types.Dataset) ([]string, [][]types.Value) {
	refs, labels := s.Columns, s.Labels
	if s.Star {
		refs = starColumns(s.Sources, ds)
		labels = types.Labels(refs)
	}

	rows := make([][]types.Value, len(ds.Rows))
	for i, row := range ds.Rows {
		values := make([]types.Value, len(refs))
		for j, ref := range refs {
			values[j] = row.Value(ref)
		}
		rows[i] = values
	}
	return labels, rows
}

func starColumns(sources []planner.StarSource, ds types.Dataset) []types.ColumnRef {
	var refs []types.ColumnRef
	for _, src := range sources {
		if src.Columns != nil {
			for _, col := range src.Columns {
				refs = append(refs, types.ColumnRef{Table: src.Table, Name: col})
			}
			continue
		}
		if len(ds.Rows) == 0 {
			continue
		}
		seen := make(map[string]bool)
		for _, f := range ds.Rows[0].Fields {
			if f.Table != src.Table || seen[f.Name] {
				continue
			}
			seen[f.Name] = true
			refs = append(refs, types.ColumnRef{Table: src.Table, Name: f.Name})
		}
	}
	if refs == nil {
		refs = []types.ColumnRef{}
	}
	return refs
}

// MaterializeAggregate turns aggregate output rows into result rows, one
// column per aggregate spec.
func MaterializeAggregate(s *planner.AggregateStep, ds types.Dataset) ([]string, [][]types.Value) {
	rows := make([][]types.Value, len(ds.Rows))
	for i, row := range ds.Rows {
		values := make([]types.Value, len(s.Specs))
		for j := range s.Specs {
			if j < len(row.Fields) {
				values[j] = row.Fields[j].Value
			}
		}
		rows[i] = values
	}
	return s.Labels(), rows
}
