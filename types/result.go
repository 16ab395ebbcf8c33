package types

import (
	qerrors "github.com/guileen/kvql/engine/errors"
)

// Status tags the variant of a QueryResult.
type Status int

const (
	StatusSuccess Status = iota
	StatusPartialFailure
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPartialFailure:
		return "partial_failure"
	default:
		return "failure"
	}
}

// KeyError records a store key whose read or write failed.
type KeyError struct {
	Key string
	Err error
}

// QueryResult is the outcome of one query. Exactly one of Success,
// PartialFailure or Failure; callers must check Status before reading Rows.
type QueryResult struct {
	Status  Status
	Columns []string
	// Rows are aligned with Columns; missing values hold the absent marker.
	Rows [][]Value

	// SucceededKeys and FailedKeys are populated on PartialFailure and on
	// aborted atomic writes.
	SucceededKeys []string
	FailedKeys    []KeyError

	// Affected lists the keys written or deleted by a write statement.
	Affected []string

	// Warnings carries non-fatal notices such as full-scan cost warnings.
	Warnings []string

	// Skipped counts non-numeric or absent values excluded by each numeric
	// aggregate, keyed by output column.
	Skipped map[string]int64

	// Err is set for Failure.
	Err *qerrors.EngineError
}

// Failure builds a Failure result for err.
func Failure(err *qerrors.EngineError) *QueryResult {
	return &QueryResult{Status: StatusFailure, Err: err}
}

// OK reports whether the result is a full success.
func (r *QueryResult) OK() bool { return r != nil && r.Status == StatusSuccess }

// Records returns the rows as column-label keyed maps.
func (r *QueryResult) Records() []map[string]Value {
	out := make([]map[string]Value, len(r.Rows))
	for i, row := range r.Rows {
		rec := make(map[string]Value, len(r.Columns))
		for j, col := range r.Columns {
			if j < len(row) {
				rec[col] = row[j]
			}
		}
		out[i] = rec
	}
	return out
}

// FailedKeyNames returns the failed keys without their errors.
func (r *QueryResult) FailedKeyNames() []string {
	keys := make([]string, len(r.FailedKeys))
	for i, fk := range r.FailedKeys {
		keys[i] = fk.Key
	}
	return keys
}
