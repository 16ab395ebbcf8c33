package kv

import (
	"context"
	"sync"

	"github.com/guileen/kvql/storage/shared"
)

// queuedTx collects write commands and hands them to a backend specific
// apply function at Commit.
type queuedTx struct {
	mu     sync.Mutex
	ops    []shared.Op
	closed bool
	apply  func(ctx context.Context, ops []shared.Op) ([]shared.Reply, error)
}

func newQueuedTx(apply func(ctx context.Context, ops []shared.Op) ([]shared.Reply, error)) *queuedTx {
	return &queuedTx{apply: apply}
}

func (t *queuedTx) Execute(ctx context.Context, cmd string, args ...[]byte) error {
	op, err := shared.ParseOp(cmd, args...)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return shared.ErrClosed
	}
	t.ops = append(t.ops, op)
	return nil
}

func (t *queuedTx) Commit(ctx context.Context) ([]shared.Reply, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, shared.ErrClosed
	}
	t.closed = true
	if len(t.ops) == 0 {
		return nil, nil
	}
	return t.apply(ctx, t.ops)
}

func (t *queuedTx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.ops = nil
	return nil
}

// checkInsertConflicts reports ErrConflict when a SETNX in ops targets a key
// that exists, either already in the store or written earlier in ops.
func checkInsertConflicts(ops []shared.Op, exists func(key string) (bool, error)) error {
	written := make(map[string]bool, len(ops))
	for _, op := range ops {
		switch op.Cmd {
		case shared.CmdSetNX:
			present, ok := written[op.Key]
			if !ok {
				var err error
				if present, err = exists(op.Key); err != nil {
					return err
				}
			}
			if present {
				return shared.ErrConflict
			}
			written[op.Key] = true
		case shared.CmdSet:
			written[op.Key] = true
		case shared.CmdDel:
			written[op.Key] = false
		}
	}
	return nil
}
