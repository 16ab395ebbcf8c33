package kv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/guileen/kvql/storage/shared"
)

// PebbleStore is an embedded, ordered store on cockroachdb/pebble. It
// implements Client, MultiGetter, RangeScanner and Transactional.
type PebbleStore struct {
	db            *pebble.DB
	dbPath        string
	closed        bool
	mu            sync.RWMutex
	writeMu       sync.Mutex // serializes read-check-write commands
	writeOpts     *pebble.WriteOptions
	pendingWrites int64
	flushTicker   *time.Ticker
	flushDone     chan struct{}
}

// PebbleStats reports internal counters of the Pebble store.
type PebbleStats struct {
	ApproximateSize int64
	MemTableSize    int64
	FlushCount      int64
	CompactionCount int64
	PendingWrites   int64
}

func NewPebbleStore(config *PebbleConfig) (*PebbleStore, error) {
	cache := pebble.NewCache(config.CacheSize)
	defer cache.Unref()

	compression := pebble.NoCompression
	if config.CompressionEnabled {
		compression = pebble.SnappyCompression
	}

	opts := &pebble.Options{
		Cache:                       cache,
		MaxOpenFiles:                config.MaxOpenFiles,
		MemTableSize:                uint64(config.MemTableSize),
		MemTableStopWritesThreshold: 8,
		L0CompactionThreshold:       config.L0CompactionThreshold,
		L0StopWritesThreshold:       config.L0StopWritesThreshold,
		LBaseMaxBytes:               config.LBaseMaxBytes,
		MaxConcurrentCompactions:    func() int { return config.CompactionConcurrency },
		Levels: []pebble.LevelOptions{
			{TargetFileSize: config.TargetFileSize, BlockSize: config.BlockSize, Compression: compression},
			{TargetFileSize: config.TargetFileSize * 4, BlockSize: config.BlockSize, Compression: compression},
			{TargetFileSize: config.TargetFileSize * 16, BlockSize: config.BlockSize, Compression: compression},
		},
	}
	if config.InMemory {
		opts.FS = vfs.NewMem()
	}
	if config.EnableBloomFilter {
		for i := range opts.Levels {
			opts.Levels[i].FilterPolicy = bloom.FilterPolicy(config.BloomFilterBitsPerKey)
			opts.Levels[i].FilterType = pebble.TableFilter
		}
	}

	db, err := pebble.Open(config.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}

	writeOpts := pebble.NoSync
	if config.SyncWrites {
		writeOpts = pebble.Sync
	}
	flushInterval := config.FlushInterval
	if flushInterval <= 0 {
		flushInterval = time.Second
	}

	p := &PebbleStore{
		db:          db,
		dbPath:      config.Path,
		writeOpts:   writeOpts,
		flushTicker: time.NewTicker(flushInterval),
		flushDone:   make(chan struct{}),
	}

	go p.backgroundFlush()

	return p, nil
}

func (p *PebbleStore) Get(ctx context.Context, key string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, shared.ErrClosed
	}
	return p.getLocked(key)
}

func (p *PebbleStore) getLocked(key string) ([]byte, error) {
	value, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (p *PebbleStore) MGet(ctx context.Context, keys []string) ([]shared.Lookup, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, shared.ErrClosed
	}

	snap := p.db.NewSnapshot()
	defer snap.Close()

	out := make([]shared.Lookup, len(keys))
	for i, key := range keys {
		value, closer, err := snap.Get([]byte(key))
		switch {
		case err == nil:
			out[i] = shared.Lookup{Value: append([]byte(nil), value...), Found: true}
			closer.Close()
		case errors.Is(err, pebble.ErrNotFound):
		default:
			out[i] = shared.Lookup{Err: fmt.Errorf("pebble get: %w", err)}
		}
	}
	return out, nil
}

// Scan narrows the iteration to the literal prefix of pattern and matches
// the remaining keys against the glob.
func (p *PebbleStore) Scan(ctx context.Context, pattern string) shared.KeyIterator {
	prefix := shared.GlobPrefix(pattern)
	return p.newIterator(prefix, shared.PrefixEnd(prefix), func(key string) bool {
		return shared.MatchGlob(pattern, key)
	})
}

func (p *PebbleStore) ScanRange(ctx context.Context, lower, upper string) shared.KeyIterator {
	return p.newIterator(lower, upper, nil)
}

func (p *PebbleStore) newIterator(lower, upper string, match func(string) bool) shared.KeyIterator {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return shared.ErrorIterator(shared.ErrClosed)
	}

	iterOpts := &pebble.IterOptions{}
	if lower != "" {
		iterOpts.LowerBound = []byte(lower)
	}
	if upper != "" {
		iterOpts.UpperBound = []byte(upper)
	}
	iter, err := p.db.NewIter(iterOpts)
	if err != nil {
		return shared.ErrorIterator(fmt.Errorf("pebble iterator: %w", err))
	}
	return &PebbleIterator{iter: iter, match: match}
}

func (p *PebbleStore) Execute(ctx context.Context, cmd string, args ...[]byte) (shared.Reply, error) {
	op, err := shared.ParseOp(cmd, args...)
	if err != nil {
		return shared.Reply{}, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return shared.Reply{}, shared.ErrClosed
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	batch := p.db.NewBatch()
	defer batch.Close()
	reply, err := p.stage(batch, op, nil)
	if err != nil || reply.Affected == 0 {
		return reply, err
	}
	if err := batch.Commit(p.writeOpts); err != nil {
		return shared.Reply{}, fmt.Errorf("pebble commit: %w", err)
	}
	atomic.AddInt64(&p.pendingWrites, 1)
	return reply, nil
}

// stage adds op to batch. written tracks keys staged earlier in the same
// batch (true when present after the staged write).
func (p *PebbleStore) stage(batch *pebble.Batch, op shared.Op, written map[string]bool) (shared.Reply, error) {
	exists, ok := written[op.Key]
	if !ok {
		_, err := p.getLocked(op.Key)
		switch {
		case err == nil:
			exists = true
		case !shared.IsNotFound(err):
			return shared.Reply{}, err
		}
	}

	key := []byte(op.Key)
	switch op.Cmd {
	case shared.CmdSetNX:
		if exists {
			return shared.Reply{}, nil
		}
		if err := batch.Set(key, op.Value, nil); err != nil {
			return shared.Reply{}, err
		}
	case shared.CmdSet:
		if err := batch.Set(key, op.Value, nil); err != nil {
			return shared.Reply{}, err
		}
	case shared.CmdDel:
		if !exists {
			return shared.Reply{}, nil
		}
		if err := batch.Delete(key, nil); err != nil {
			return shared.Reply{}, err
		}
	}
	if written != nil {
		written[op.Key] = op.Cmd != shared.CmdDel
	}
	return shared.Reply{Affected: 1}, nil
}

func (p *PebbleStore) Begin(ctx context.Context) (shared.Tx, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, shared.ErrClosed
	}
	return newQueuedTx(p.commit), nil
}

// commit applies ops as one synced Pebble batch.
func (p *PebbleStore) commit(ctx context.Context, ops []shared.Op) ([]shared.Reply, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, shared.ErrClosed
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	err := checkInsertConflicts(ops, func(key string) (bool, error) {
		_, err := p.getLocked(key)
		if shared.IsNotFound(err) {
			return false, nil
		}
		return err == nil, err
	})
	if err != nil {
		return nil, err
	}

	batch := p.db.NewBatch()
	defer batch.Close()
	written := make(map[string]bool, len(ops))
	replies := make([]shared.Reply, len(ops))
	for i, op := range ops {
		if replies[i], err = p.stage(batch, op, written); err != nil {
			return nil, err
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, fmt.Errorf("transaction commit: %w", err)
	}
	atomic.AddInt64(&p.pendingWrites, int64(len(ops)))
	return replies, nil
}

func (p *PebbleStore) Stats() PebbleStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return PebbleStats{}
	}

	metrics := p.db.Metrics()
	return PebbleStats{
		ApproximateSize: int64(metrics.DiskSpaceUsage()),
		MemTableSize:    int64(metrics.MemTable.Size),
		FlushCount:      metrics.Flush.Count,
		CompactionCount: metrics.Compact.Count,
		PendingWrites:   atomic.LoadInt64(&p.pendingWrites),
	}
}

func (p *PebbleStore) Flush() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return shared.ErrClosed
	}

	if err := p.db.Flush(); err != nil {
		return fmt.Errorf("pebble flush: %w", err)
	}

	atomic.StoreInt64(&p.pendingWrites, 0)
	return nil
}

func (p *PebbleStore) backgroundFlush() {
	for {
		select {
		case <-p.flushTicker.C:
			if atomic.LoadInt64(&p.pendingWrites) > 0 {
				_ = p.Flush()
			}
		case <-p.flushDone:
			return
		}
	}
}

func (p *PebbleStore) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true

	p.flushTicker.Stop()
	close(p.flushDone)

	if atomic.LoadInt64(&p.pendingWrites) > 0 {
		_ = p.db.Flush()
	}

	if err := p.db.Close(); err != nil {
		return fmt.Errorf("pebble close: %w", err)
	}
	return nil
}
