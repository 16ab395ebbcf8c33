package kv

import (
	"context"
	"sort"
	"sync"

	"github.com/guileen/kvql/storage/shared"
)

// MemoryStats counts the calls a MemoryStore has served.
type MemoryStats struct {
	Gets       int64
	MGets      int64
	Scans      int64
	RangeScans int64
	Writes     int64
	Commits    int64
}

// MemoryStore is an in-process store for tests and embedding. Faults can be
// injected per key to exercise partial failures.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool

	getFaults   map[string]error
	writeFaults map[string]error
	scanFault   error
	commitFault error

	stats MemoryStats
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:        make(map[string][]byte),
		getFaults:   make(map[string]error),
		writeFaults: make(map[string]error),
	}
}

// Put stores value at key directly, bypassing faults and counters.
func (m *MemoryStore) Put(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
}

// Raw returns the stored value at key, bypassing faults and counters.
func (m *MemoryStore) Raw(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

// Keys returns all stored keys, sorted.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FailGet makes reads of key return err.
func (m *MemoryStore) FailGet(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getFaults[key] = err
}

// FailWrite makes writes of key return err.
func (m *MemoryStore) FailWrite(key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeFaults[key] = err
}

// FailScan makes every scan report err.
func (m *MemoryStore) FailScan(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanFault = err
}

// FailCommit makes every transaction commit return err.
func (m *MemoryStore) FailCommit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitFault = err
}

// ClearFaults removes every injected fault.
func (m *MemoryStore) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getFaults = make(map[string]error)
	m.writeFaults = make(map[string]error)
	m.scanFault = nil
	m.commitFault = nil
}

// Stats returns the call counters.
func (m *MemoryStore) Stats() MemoryStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, shared.ErrClosed
	}
	m.stats.Gets++
	return m.getLocked(key)
}

func (m *MemoryStore) getLocked(key string) ([]byte, error) {
	if err := m.getFaults[key]; err != nil {
		return nil, err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) MGet(ctx context.Context, keys []string) ([]shared.Lookup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, shared.ErrClosed
	}
	m.stats.MGets++
	out := make([]shared.Lookup, len(keys))
	for i, key := range keys {
		v, err := m.getLocked(key)
		switch {
		case err == nil:
			out[i] = shared.Lookup{Value: v, Found: true}
		case shared.IsNotFound(err):
		default:
			out[i] = shared.Lookup{Err: err}
		}
	}
	return out, nil
}

func (m *MemoryStore) Scan(ctx context.Context, pattern string) shared.KeyIterator {
	m.mu.Lock()
	m.stats.Scans++
	m.mu.Unlock()
	return shared.NewSliceIterator(func() ([]string, error) {
		return m.matching(func(k string) bool { return shared.MatchGlob(pattern, k) })
	})
}

func (m *MemoryStore) ScanRange(ctx context.Context, lower, upper string) shared.KeyIterator {
	m.mu.Lock()
	m.stats.RangeScans++
	m.mu.Unlock()
	return shared.NewSliceIterator(func() ([]string, error) {
		return m.matching(func(k string) bool {
			return k >= lower && (upper == "" || k < upper)
		})
	})
}

func (m *MemoryStore) matching(match func(string) bool) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, shared.ErrClosed
	}
	if m.scanFault != nil {
		return nil, m.scanFault
	}
	var keys []string
	for k := range m.data {
		if match(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) Execute(ctx context.Context, cmd string, args ...[]byte) (shared.Reply, error) {
	op, err := shared.ParseOp(cmd, args...)
	if err != nil {
		return shared.Reply{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return shared.Reply{}, shared.ErrClosed
	}
	m.stats.Writes++
	if err := m.writeFaults[op.Key]; err != nil {
		return shared.Reply{}, err
	}
	return m.applyLocked(op), nil
}

func (m *MemoryStore) applyLocked(op shared.Op) shared.Reply {
	_, exists := m.data[op.Key]
	switch op.Cmd {
	case shared.CmdSetNX:
		if exists {
			return shared.Reply{}
		}
		m.data[op.Key] = append([]byte(nil), op.Value...)
	case shared.CmdSet:
		m.data[op.Key] = append([]byte(nil), op.Value...)
	case shared.CmdDel:
		if !exists {
			return shared.Reply{}
		}
		delete(m.data, op.Key)
	}
	return shared.Reply{Affected: 1}
}

func (m *MemoryStore) Begin(ctx context.Context) (shared.Tx, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, shared.ErrClosed
	}
	return newQueuedTx(m.commit), nil
}

func (m *MemoryStore) commit(ctx context.Context, ops []shared.Op) ([]shared.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, shared.ErrClosed
	}
	m.stats.Commits++
	if m.commitFault != nil {
		return nil, m.commitFault
	}
	for _, op := range ops {
		if err := m.writeFaults[op.Key]; err != nil {
			return nil, err
		}
	}
	err := checkInsertConflicts(ops, func(key string) (bool, error) {
		_, ok := m.data[key]
		return ok, nil
	})
	if err != nil {
		return nil, err
	}
	replies := make([]shared.Reply, len(ops))
	for i, op := range ops {
		replies[i] = m.applyLocked(op)
	}
	return replies, nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
