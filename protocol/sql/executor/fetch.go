package executor

import (
	"fmt"

	"github.com/guileen/kvql/codec"
	qerrors "github.com/guileen/kvql/engine/errors"
	"github.com/guileen/kvql/protocol/sql/planner"
	"github.com/guileen/kvql/storage/shared"
	"github.com/guileen/kvql/types"
)

func (r *run) fetch(s *planner.FetchStep) *qerrors.EngineError {
	var rows []types.Row
	switch s.Strategy {
	case planner.StrategyPoint:
		rows = r.readKeys(s, s.Keys)
	default:
		if s.Unindexed {
			r.observer.FullScan(s.Table)
			r.warn(fmt.Sprintf("full scan of table %q: no key column predicate", s.Table),
				"table", s.Table, "pattern", s.Glob)
		}
		var err *qerrors.EngineError
		if rows, err = r.scan(s); err != nil {
			return err
		}
	}
	r.slots[s.Out] = types.Dataset{Rows: rows}
	return nil
}

// scan enumerates the keys of a range or full fetch and reads them in
// batches.
func (r *run) scan(s *planner.FetchStep) ([]types.Row, *qerrors.EngineError) {
	var it shared.KeyIterator
	inRange := func(string) bool { return true }
	if s.Strategy == planner.StrategyRange {
		if rs, ok := r.store.(shared.RangeScanner); ok {
			it = rs.ScanRange(r.ctx, s.Lower, s.Upper)
		} else {
			inRange = func(k string) bool { return k >= s.Lower && (s.Upper == "" || k < s.Upper) }
		}
	}
	if it == nil {
		it = r.store.Scan(r.ctx, s.Glob)
	}
	defer it.Close()

	var rows []types.Row
	batch := make([]string, 0, r.batchSize)
	flush := func() {
		rows = append(rows, r.readKeys(s, batch)...)
		batch = batch[:0]
	}
	for ok := it.First(); ok; ok = it.Next() {
		key := it.Key()
		if !inRange(key) {
			continue
		}
		if _, ok := s.Pattern.Parse(key); !ok {
			continue
		}
		batch = append(batch, key)
		if len(batch) == r.batchSize {
			flush()
		}
	}
	err := it.Error()
	r.observer.StoreOp("scan", len(rows), err)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.StageExecute, qerrors.CodeStoreError, "scan "+s.Table)
	}
	if len(batch) > 0 {
		flush()
	}
	return rows, nil
}

// readKeys reads keys, through MGet when the store supports it. Missing keys
// are skipped; failing keys are recorded and dropped.
func (r *run) readKeys(s *planner.FetchStep, keys []string) []types.Row {
	if len(keys) == 0 {
		return nil
	}
	rows := make([]types.Row, 0, len(keys))

	if mg, ok := r.store.(shared.MultiGetter); ok {
		lookups, err := mg.MGet(r.ctx, keys)
		r.observer.StoreOp("mget", len(keys), err)
		if err != nil {
			for _, key := range keys {
				r.failKey(key, err)
			}
			return rows
		}
		for i, key := range keys {
			l := lookups[i]
			switch {
			case l.Err != nil:
				r.failKey(key, l.Err)
			case l.Found:
				if row, ok := r.decode(s, key, l.Value); ok {
					rows = append(rows, row)
				}
			}
		}
		return rows
	}

	for _, key := range keys {
		value, err := r.store.Get(r.ctx, key)
		if shared.IsNotFound(err) {
			r.observer.StoreOp("get", 1, nil)
			continue
		}
		r.observer.StoreOp("get", 1, err)
		if err != nil {
			r.failKey(key, err)
			continue
		}
		if row, ok := r.decode(s, key, value); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// decode builds the row stored at key: the key columns parsed from the key
// come first, then the stored fields. Null fields and stored fields named
// like a key column are ignored. Declared column types are applied.
func (r *run) decode(s *planner.FetchStep, key string, value []byte) (types.Row, bool) {
	keyValues, ok := s.Pattern.Parse(key)
	if !ok {
		return types.Row{}, false
	}
	stored, err := codec.DecodeRow(value)
	if err != nil {
		r.failKey(key, qerrors.Wrap(err, qerrors.StageExecute, qerrors.CodeDecodeError, "decode "+key))
		return types.Row{}, false
	}

	row := types.Row{Key: key, Raw: value, Fields: make([]types.Field, 0, len(keyValues)+len(stored))}
	for i, col := range s.Pattern.Columns() {
		row.Fields = append(row.Fields, types.Field{Table: s.Table, Name: col, Value: r.coerce(s, col, types.NewString(keyValues[i]))})
	}
	for _, f := range stored {
		if f.Value.IsAbsent() || s.Pattern.IsKeyColumn(f.Name) {
			continue
		}
		row.Fields = append(row.Fields, types.Field{Table: s.Table, Name: f.Name, Value: r.coerce(s, f.Name, f.Value)})
	}
	r.succeeded = append(r.succeeded, key)
	return row, true
}

func (r *run) coerce(s *planner.FetchStep, col string, v types.Value) types.Value {
	if s.Schema == nil {
		return v
	}
	c, ok := s.Schema.Column(col)
	if !ok {
		return v
	}
	return types.Coerce(v, c.Type)
}
