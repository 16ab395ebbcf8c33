package executor

import (
	"fmt"
	"strings"

	"github.com/guileen/kvql/codec"
	qerrors "github.com/guileen/kvql/engine/errors"
	"github.com/guileen/kvql/logger"
	"github.com/guileen/kvql/protocol/sql/planner"
	"github.com/guileen/kvql/storage/shared"
	"github.com/guileen/kvql/types"
)

// write is one store command of a Mutate step.
type write struct {
	cmd   string
	key   string
	value []byte
}

func (w write) args() [][]byte {
	if w.cmd == shared.CmdDel {
		return [][]byte{[]byte(w.key)}
	}
	return [][]byte{[]byte(w.key), w.value}
}

func (r *run) mutate(s *planner.MutateStep) *qerrors.EngineError {
	// Keys read by UPDATE and DELETE are reported through the write outcome.
	r.succeeded = nil

	failedBefore := len(r.failed)
	writes, err := r.writes(s)
	if err != nil {
		return err
	}
	if len(writes) == 0 {
		return nil
	}

	if s.Atomic {
		if ts, ok := r.store.(shared.Transactional); ok {
			if len(r.failed) > failedBefore {
				return r.aborted(s, writes, r.failed[failedBefore].Err)
			}
			tx, err := ts.Begin(r.ctx)
			if err != nil {
				r.observer.StoreOp("begin", len(writes), err)
				return r.aborted(s, writes, err)
			}
			return r.commit(s, tx, writes)
		}
		r.warn(fmt.Sprintf("store does not support transactions: %s of %d keys in %q is not atomic", s.Op, len(writes), s.Table),
			"table", s.Table, "keys", len(writes))
	}

	for _, w := range writes {
		reply, err := r.store.Execute(r.ctx, w.cmd, w.args()...)
		r.observer.StoreOp(strings.ToLower(w.cmd), 1, err)
		switch {
		case err != nil:
			r.failKey(w.key, qerrors.Wrap(err, qerrors.StageExecute, qerrors.CodeStoreError, strings.ToLower(w.cmd)+" "+w.key))
		case w.cmd == shared.CmdSetNX && reply.Affected == 0:
			r.failKey(w.key, duplicateKey(w.key))
		default:
			r.succeeded = append(r.succeeded, w.key)
			r.affected = append(r.affected, w.key)
		}
	}
	return nil
}

// writes turns a Mutate step into store commands.
func (r *run) writes(s *planner.MutateStep) ([]write, *qerrors.EngineError) {
	var out []write
	switch s.Op {
	case planner.MutateInsert:
		for _, row := range s.Rows {
			value, err := codec.EncodeRow(row.Fields)
			if err != nil {
				return nil, qerrors.Wrap(err, qerrors.StageExecute, qerrors.CodeStoreError, "encode "+row.Key)
			}
			out = append(out, write{cmd: shared.CmdSetNX, key: row.Key, value: value})
		}

	case planner.MutateUpdate:
		set := make([]types.Field, len(s.Set))
		for i, f := range s.Set {
			set[i] = types.Field{Table: s.Table, Name: f.Column, Value: f.Value}
		}
		for _, row := range r.slots[s.In].Rows {
			value, err := codec.PatchRow(row.Raw, set)
			if err != nil {
				r.failKey(row.Key, qerrors.Wrap(err, qerrors.StageExecute, qerrors.CodeDecodeError, "update "+row.Key))
				continue
			}
			out = append(out, write{cmd: shared.CmdSet, key: row.Key, value: value})
		}

	case planner.MutateDelete:
		for _, row := range r.slots[s.In].Rows {
			out = append(out, write{cmd: shared.CmdDel, key: row.Key})
		}
	}
	return out, nil
}

// commit applies writes in one transaction. Any failure aborts the whole
// step and reports every key as failed.
func (r *run) commit(s *planner.MutateStep, tx shared.Tx, writes []write) *qerrors.EngineError {
	abort := func(err error) *qerrors.EngineError {
		if rbErr := tx.Rollback(r.ctx); rbErr != nil {
			logger.WarnContext(r.ctx, "Rollback failed", logger.ErrorField(rbErr))
		}
		return r.aborted(s, writes, err)
	}

	for _, w := range writes {
		if err := tx.Execute(r.ctx, w.cmd, w.args()...); err != nil {
			return abort(err)
		}
	}

	_, err := tx.Commit(r.ctx)
	r.observer.StoreOp("commit", len(writes), err)
	if err != nil {
		return r.aborted(s, writes, err)
	}
	for _, w := range writes {
		r.succeeded = append(r.succeeded, w.key)
		r.affected = append(r.affected, w.key)
	}
	return nil
}

func (r *run) aborted(s *planner.MutateStep, writes []write, cause error) *qerrors.EngineError {
	keyErr := cause
	if shared.IsConflict(cause) {
		keyErr = qerrors.ErrDuplicateKey
	}
	for _, w := range writes {
		r.failKey(w.key, keyErr)
	}
	ee := qerrors.Wrap(cause, qerrors.StageExecute, qerrors.CodeTransactionAborted, s.Op.String()+" "+s.Table)
	ee.Message = fmt.Sprintf("transaction aborted, no key written: %v", cause)
	return ee
}

func duplicateKey(key string) error {
	return qerrors.NewExecutionErrorf(qerrors.CodeDuplicateKey, "key %q already exists", key)
}
