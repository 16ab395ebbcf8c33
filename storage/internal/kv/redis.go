package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/guileen/kvql/storage/shared"
)

// RedisConfig configures a Redis backed store.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	// ScanCount is the COUNT hint passed to SCAN.
	ScanCount int64
}

// RedisStore talks to a Redis server through go-redis. Atomic write steps
// run as a single Lua script.
type RedisStore struct {
	client    redis.UniversalClient
	scanCount int64
	ownClient bool

	mu     sync.RWMutex
	closed bool
}

// commitScript applies queued commands all-or-nothing. KEYS holds one key
// per command; ARGV holds command and value pairs.
var commitScript = redis.NewScript(`
local written = {}
for i = 1, #KEYS do
  local cmd = ARGV[2*i-1]
  local key = KEYS[i]
  if cmd == 'SETNX' then
    local present = written[key]
    if present == nil then
      present = redis.call('EXISTS', key) == 1
    end
    if present then
      return redis.error_reply('CONFLICT ' .. key)
    end
    written[key] = true
  elseif cmd == 'SET' then
    written[key] = true
  elseif cmd == 'DEL' then
    written[key] = false
  end
end
local out = {}
for i = 1, #KEYS do
  local cmd = ARGV[2*i-1]
  if cmd == 'SET' or cmd == 'SETNX' then
    redis.call('SET', KEYS[i], ARGV[2*i])
    out[i] = 1
  else
    out[i] = redis.call('DEL', KEYS[i])
  end
end
return out
`)

func NewRedisStore(config *RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Username: config.Username,
		Password: config.Password,
		DB:       config.DB,
	})
	s := NewRedisStoreFromClient(client, config.ScanCount)
	s.ownClient = true
	return s
}

// NewRedisStoreFromClient wraps an existing client. The caller keeps
// ownership of client.
func NewRedisStoreFromClient(client redis.UniversalClient, scanCount int64) *RedisStore {
	if scanCount <= 0 {
		scanCount = 100
	}
	return &RedisStore{client: client, scanCount: scanCount}
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if r.isClosed() {
		return nil, shared.ErrClosed
	}
	v, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

func (r *RedisStore) MGet(ctx context.Context, keys []string) ([]shared.Lookup, error) {
	if r.isClosed() {
		return nil, shared.ErrClosed
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([]shared.Lookup, len(keys))
	for i, v := range vals {
		switch s := v.(type) {
		case nil:
		case string:
			out[i] = shared.Lookup{Value: []byte(s), Found: true}
		default:
			out[i] = shared.Lookup{Err: fmt.Errorf("redis mget: unexpected reply %T", v)}
		}
	}
	return out, nil
}

// Scan walks SCAN MATCH pages lazily. Keys that SCAN reports more than once
// are returned once.
func (r *RedisStore) Scan(ctx context.Context, pattern string) shared.KeyIterator {
	if r.isClosed() {
		return shared.ErrorIterator(shared.ErrClosed)
	}
	return &redisIterator{ctx: ctx, client: r.client, pattern: pattern, count: r.scanCount}
}

func (r *RedisStore) Execute(ctx context.Context, cmd string, args ...[]byte) (shared.Reply, error) {
	op, err := shared.ParseOp(cmd, args...)
	if err != nil {
		return shared.Reply{}, err
	}
	if r.isClosed() {
		return shared.Reply{}, shared.ErrClosed
	}
	switch op.Cmd {
	case shared.CmdSet:
		if err := r.client.Set(ctx, op.Key, op.Value, 0).Err(); err != nil {
			return shared.Reply{}, fmt.Errorf("redis set: %w", err)
		}
		return shared.Reply{Affected: 1}, nil
	case shared.CmdSetNX:
		ok, err := r.client.SetNX(ctx, op.Key, op.Value, 0).Result()
		if err != nil {
			return shared.Reply{}, fmt.Errorf("redis setnx: %w", err)
		}
		if !ok {
			return shared.Reply{}, nil
		}
		return shared.Reply{Affected: 1}, nil
	default:
		n, err := r.client.Del(ctx, op.Key).Result()
		if err != nil {
			return shared.Reply{}, fmt.Errorf("redis del: %w", err)
		}
		return shared.Reply{Affected: n}, nil
	}
}

func (r *RedisStore) Begin(ctx context.Context) (shared.Tx, error) {
	if r.isClosed() {
		return nil, shared.ErrClosed
	}
	return newQueuedTx(r.commit), nil
}

func (r *RedisStore) commit(ctx context.Context, ops []shared.Op) ([]shared.Reply, error) {
	keys := make([]string, len(ops))
	args := make([]interface{}, 0, 2*len(ops))
	for i, op := range ops {
		keys[i] = op.Key
		args = append(args, op.Cmd, op.Value)
	}
	res, err := commitScript.Run(ctx, r.client, keys, args...).Int64Slice()
	if err != nil {
		if strings.Contains(err.Error(), "CONFLICT") {
			return nil, fmt.Errorf("%w: %s", shared.ErrConflict, err.Error())
		}
		return nil, fmt.Errorf("redis commit: %w", err)
	}
	replies := make([]shared.Reply, len(ops))
	for i := range replies {
		if i < len(res) {
			replies[i] = shared.Reply{Affected: res[i]}
		}
	}
	return replies, nil
}

func (r *RedisStore) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.ownClient {
		return r.client.Close()
	}
	return nil
}

type redisIterator struct {
	ctx     context.Context
	client  redis.UniversalClient
	pattern string
	count   int64

	cursor  uint64
	started bool
	done    bool
	page    []string
	pos     int
	seen    map[string]struct{}
	err     error
}

func (it *redisIterator) First() bool {
	it.cursor = 0
	it.started = true
	it.done = false
	it.page = nil
	it.pos = 0
	it.err = nil
	it.seen = make(map[string]struct{})
	return it.advance()
}

func (it *redisIterator) Valid() bool {
	return it.started && it.err == nil && it.pos < len(it.page)
}

func (it *redisIterator) Next() bool {
	if !it.Valid() {
		return false
	}
	it.pos++
	return it.advance()
}

// advance moves to the next unseen key, fetching pages as needed.
func (it *redisIterator) advance() bool {
	for {
		for it.pos < len(it.page) {
			if _, dup := it.seen[it.page[it.pos]]; !dup {
				it.seen[it.page[it.pos]] = struct{}{}
				return true
			}
			it.pos++
		}
		if it.done {
			return false
		}
		keys, cursor, err := it.client.Scan(it.ctx, it.cursor, it.pattern, it.count).Result()
		if err != nil {
			it.err = fmt.Errorf("redis scan: %w", err)
			return false
		}
		it.page, it.pos, it.cursor = keys, 0, cursor
		if cursor == 0 {
			it.done = true
		}
	}
}

func (it *redisIterator) Key() string {
	if !it.Valid() {
		return ""
	}
	return it.page[it.pos]
}

func (it *redisIterator) Error() error { return it.err }

func (it *redisIterator) Close() error {
	it.page = nil
	it.seen = nil
	it.done = true
	return nil
}
