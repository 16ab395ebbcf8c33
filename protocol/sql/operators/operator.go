// Package operators implements the relational operators of the query
// pipeline: filtering, equi-joins and streaming aggregation.
package operators

import (
	"io"

	"github.com/guileen/kvql/types"
)

type PhysicalOperator interface {
	Open() error
	Next() (types.Row, error)
	Close() error
}

var EOF = io.EOF

// DatasetScanOperator streams the rows of an in-memory dataset.
type DatasetScanOperator struct {
	rows []types.Row
	pos  int
}

func NewDatasetScan(ds types.Dataset) *DatasetScanOperator {
	return &DatasetScanOperator{rows: ds.Rows}
}

func (op *DatasetScanOperator) Open() error {
	op.pos = 0
	return nil
}

func (op *DatasetScanOperator) Next() (types.Row, error) {
	if op.pos >= len(op.rows) {
		return types.Row{}, EOF
	}
	row := op.rows[op.pos]
	op.pos++
	return row, nil
}

func (op *DatasetScanOperator) Close() error {
	return nil
}

// Drain opens op, collects every row and closes it.
func Drain(op PhysicalOperator) (types.Dataset, error) {
	if err := op.Open(); err != nil {
		return types.Dataset{}, err
	}
	var rows []types.Row
	for {
		row, err := op.Next()
		if err == EOF {
			break
		}
		if err != nil {
			op.Close()
			return types.Dataset{}, err
		}
		rows = append(rows, row)
	}
	if err := op.Close(); err != nil {
		return types.Dataset{}, err
	}
	return types.Dataset{Rows: rows}, nil
}
