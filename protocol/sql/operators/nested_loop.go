package operators

import (
	"github.com/guileen/kvql/types"
)

// NestedLoopJoin is the reference inner equi-join: every pair of rows whose
// join values are equal and present.
func NestedLoopJoin(left, right types.Dataset, leftKey, rightKey types.ColumnRef) types.Dataset {
	var out types.Dataset
	for _, l := range left.Rows {
		lv := l.Value(leftKey)
		if lv.IsAbsent() {
			continue
		}
		for _, r := range right.Rows {
			if lv.Equal(r.Value(rightKey)) {
				out.Rows = append(out.Rows, types.Concat(l, r))
			}
		}
	}
	return out
}
