package operators

import (
	"sort"

	"github.com/guileen/kvql/types"
)

// JoinCondition is an equality between one column of each side.
type JoinCondition struct {
	Left  types.ColumnRef
	Right types.ColumnRef
}

// HashJoinOperator is an inner equi-join that builds a hash table on the
// right input and probes it with the left. Join values are compared through
// their typed hash keys, so "7" never matches 7 and absent values never
// match.
type HashJoinOperator struct {
	leftInput   PhysicalOperator
	rightInput  PhysicalOperator
	onCondition JoinCondition
	hashTable   map[string][]types.Row

	currentLeft    types.Row
	currentMatches []types.Row
	matchIndex     int
	leftExhausted  bool
}

func NewHashJoin(left, right PhysicalOperator, cond JoinCondition) *HashJoinOperator {
	return &HashJoinOperator{
		leftInput:   left,
		rightInput:  right,
		onCondition: cond,
		hashTable:   make(map[string][]types.Row),
	}
}

func (op *HashJoinOperator) Open() error {
	if err := op.rightInput.Open(); err != nil {
		return err
	}

	for {
		row, err := op.rightInput.Next()
		if err == EOF {
			break
		}
		if err != nil {
			return err
		}

		if key, ok := row.Value(op.onCondition.Right).HashKey(); ok {
			op.hashTable[key] = append(op.hashTable[key], row)
		}
	}

	return op.leftInput.Open()
}

func (op *HashJoinOperator) Next() (types.Row, error) {
	for {
		if op.matchIndex >= len(op.currentMatches) {
			if op.leftExhausted {
				return types.Row{}, EOF
			}

			leftRow, err := op.leftInput.Next()
			if err == EOF {
				op.leftExhausted = true
				return types.Row{}, EOF
			}
			if err != nil {
				return types.Row{}, err
			}

			key, ok := leftRow.Value(op.onCondition.Left).HashKey()
			if !ok {
				op.currentMatches = nil
				continue
			}
			op.currentMatches = op.hashTable[key]
			op.currentLeft = leftRow
			op.matchIndex = 0
			continue
		}

		result := types.Concat(op.currentLeft, op.currentMatches[op.matchIndex])
		op.matchIndex++
		return result, nil
	}
}

func (op *HashJoinOperator) Close() error {
	if err := op.leftInput.Close(); err != nil {
		return err
	}
	return op.rightInput.Close()
}

// HashJoin joins two datasets, building the hash table on the smaller one.
// Output rows hold the left fields followed by the right fields, ordered by
// left row then right row.
func HashJoin(left, right types.Dataset, leftKey, rightKey types.ColumnRef) types.Dataset {
	if right.Len() <= left.Len() {
		out, _ := Drain(NewHashJoin(NewDatasetScan(left), NewDatasetScan(right), JoinCondition{Left: leftKey, Right: rightKey}))
		return out
	}

	build := make(map[string][]int, left.Len())
	for i, row := range left.Rows {
		if key, ok := row.Value(leftKey).HashKey(); ok {
			build[key] = append(build[key], i)
		}
	}

	type pair struct{ l, r int }
	var pairs []pair
	for j, row := range right.Rows {
		key, ok := row.Value(rightKey).HashKey()
		if !ok {
			continue
		}
		for _, i := range build[key] {
			pairs = append(pairs, pair{i, j})
		}
	}
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].l < pairs[b].l })

	out := types.Dataset{Rows: make([]types.Row, len(pairs))}
	for k, p := range pairs {
		out.Rows[k] = types.Concat(left.Rows[p.l], right.Rows[p.r])
	}
	return out
}
