// Package shared provides shared types and interfaces for the storage module
package shared

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Command names accepted by Client.Execute.
const (
	CmdSet   = "SET"
	CmdSetNX = "SETNX"
	CmdDel   = "DEL"
)

// Client is the store-client contract the query engine runs against.
type Client interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Scan enumerates the keys matching a glob pattern ("*", "?", "[...]"
	// and backslash escapes).
	Scan(ctx context.Context, pattern string) KeyIterator
	// Execute runs a write command: SET key value, SETNX key value or
	// DEL key.
	Execute(ctx context.Context, cmd string, args ...[]byte) (Reply, error)
}

// KeyIterator is a lazy, finite sequence of keys. First (re)starts the
// enumeration.
type KeyIterator interface {
	io.Closer
	First() bool
	Valid() bool
	Next() bool
	Key() string
	Error() error
}

// Reply is the result of a write command. Affected is the number of keys
// changed: 0 for a SETNX on an existing key or a DEL of a missing one.
type Reply struct {
	Affected int64
}

// Lookup is one element of a MultiGetter result.
type Lookup struct {
	Value []byte
	Found bool
	Err   error
}

// MultiGetter is implemented by stores that can read many keys in one round
// trip. The result is aligned with keys.
type MultiGetter interface {
	MGet(ctx context.Context, keys []string) ([]Lookup, error)
}

// RangeScanner is implemented by ordered stores. ScanRange enumerates keys k
// with lower <= k < upper in byte order; an empty upper is unbounded.
type RangeScanner interface {
	ScanRange(ctx context.Context, lower, upper string) KeyIterator
}

// Transactional is implemented by stores offering an all-or-nothing write
// boundary.
type Transactional interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx queues write commands and applies them atomically at Commit. A SETNX on
// an existing key aborts the whole transaction with ErrConflict.
type Tx interface {
	Execute(ctx context.Context, cmd string, args ...[]byte) error
	Commit(ctx context.Context) ([]Reply, error)
	Rollback(ctx context.Context) error
}

// Op is a parsed write command.
type Op struct {
	Cmd   string
	Key   string
	Value []byte
}

// ParseOp validates the arguments of a write command.
func ParseOp(cmd string, args ...[]byte) (Op, error) {
	switch cmd {
	case CmdSet, CmdSetNX:
		if len(args) != 2 {
			return Op{}, fmt.Errorf("%w: %s expects key and value", ErrInvalidCommand, cmd)
		}
		return Op{Cmd: cmd, Key: string(args[0]), Value: args[1]}, nil
	case CmdDel:
		if len(args) != 1 {
			return Op{}, fmt.Errorf("%w: DEL expects one key", ErrInvalidCommand)
		}
		return Op{Cmd: cmd, Key: string(args[0])}, nil
	default:
		return Op{}, fmt.Errorf("%w: %q", ErrInvalidCommand, cmd)
	}
}

// Error types
var (
	ErrNotFound       = &kvError{msg: "key not found"}
	ErrClosed         = &kvError{msg: "kv store closed"}
	ErrConflict       = &kvError{msg: "transaction conflict"}
	ErrInvalidCommand = &kvError{msg: "invalid command"}
)

type kvError struct {
	msg string
}

func (e *kvError) Error() string {
	return e.msg
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is a transaction conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// SliceIterator iterates over a precomputed key list.
type SliceIterator struct {
	keys []string
	pos  int
	err  error
	load func() ([]string, error)
}

// NewSliceIterator returns an iterator whose keys are produced by load each
// time First is called.
func NewSliceIterator(load func() ([]string, error)) *SliceIterator {
	return &SliceIterator{load: load, pos: -1}
}

// ErrorIterator returns an iterator that yields no keys and reports err.
func ErrorIterator(err error) *SliceIterator {
	return &SliceIterator{err: err, pos: -1}
}

func (it *SliceIterator) First() bool {
	if it.load == nil {
		return false
	}
	it.keys, it.err = it.load()
	it.pos = 0
	return it.Valid()
}

func (it *SliceIterator) Valid() bool {
	return it.err == nil && it.pos >= 0 && it.pos < len(it.keys)
}

func (it *SliceIterator) Next() bool {
	if !it.Valid() {
		return false
	}
	it.pos++
	return it.Valid()
}

func (it *SliceIterator) Key() string {
	if !it.Valid() {
		return ""
	}
	return it.keys[it.pos]
}

func (it *SliceIterator) Error() error { return it.err }

func (it *SliceIterator) Close() error {
	it.keys = nil
	it.pos = -1
	return nil
}
