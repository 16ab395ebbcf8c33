// Package storage provides the public API for the storage module: the
// store-client contract the query engine runs against and its variants.
package storage

import (
	"context"

	"github.com/guileen/kvql/storage/internal/kv"
	"github.com/guileen/kvql/storage/shared"
)

// Client is the store-client contract: Get, Scan and Execute.
type Client = shared.Client

// KeyIterator is a lazy, finite, restartable key sequence.
type KeyIterator = shared.KeyIterator

// Reply is the result of a write command.
type Reply = shared.Reply

// Lookup is one element of a multi-key read.
type Lookup = shared.Lookup

// MultiGetter reads many keys in one round trip.
type MultiGetter = shared.MultiGetter

// RangeScanner enumerates keys of an ordered store by byte range.
type RangeScanner = shared.RangeScanner

// Transactional offers an all-or-nothing write boundary.
type Transactional = shared.Transactional

// Tx is a queued write transaction.
type Tx = shared.Tx

// Write commands accepted by Client.Execute.
const (
	CmdSet   = shared.CmdSet
	CmdSetNX = shared.CmdSetNX
	CmdDel   = shared.CmdDel
)

// Error types
var (
	ErrNotFound       = shared.ErrNotFound
	ErrClosed         = shared.ErrClosed
	ErrConflict       = shared.ErrConflict
	ErrInvalidCommand = shared.ErrInvalidCommand
)

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return shared.IsNotFound(err)
}

// IsConflict checks if an error is a transaction conflict
func IsConflict(err error) bool {
	return shared.IsConflict(err)
}

// MatchGlob reports whether key matches a store glob pattern.
func MatchGlob(pattern, key string) bool {
	return shared.MatchGlob(pattern, key)
}

// PrefixEnd returns the exclusive upper bound of all keys with prefix.
func PrefixEnd(prefix string) string {
	return shared.PrefixEnd(prefix)
}

// MemoryStore is the in-process store with fault injection.
type MemoryStore = kv.MemoryStore

// MemoryStats counts MemoryStore calls.
type MemoryStats = kv.MemoryStats

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return kv.NewMemoryStore()
}

// PebbleConfig holds the configuration for the Pebble store
type PebbleConfig = kv.PebbleConfig

// PebbleStore is the embedded Pebble store.
type PebbleStore = kv.PebbleStore

// NewPebbleStore opens a Pebble-based store
func NewPebbleStore(config *PebbleConfig) (*PebbleStore, error) {
	return kv.NewPebbleStore(config)
}

// DefaultPebbleConfig creates a default configuration for the Pebble store
func DefaultPebbleConfig(path string) *PebbleConfig {
	return kv.DefaultPebbleConfig(path)
}

// InMemoryPebbleConfig creates a configuration for a Pebble store on an
// in-memory filesystem
func InMemoryPebbleConfig() *PebbleConfig {
	return kv.InMemoryPebbleConfig()
}

// RedisConfig configures the Redis store.
type RedisConfig = kv.RedisConfig

// RedisStore is the Redis store.
type RedisStore = kv.RedisStore

// NewRedisStore connects to Redis.
func NewRedisStore(config *RedisConfig) *RedisStore {
	return kv.NewRedisStore(config)
}

// PostgresConfig configures the PostgreSQL store.
type PostgresConfig = kv.PostgresConfig

// PostgresStore is the PostgreSQL store.
type PostgresStore = kv.PostgresStore

// NewPostgresStore connects to PostgreSQL and prepares the key/value table.
func NewPostgresStore(ctx context.Context, config *PostgresConfig) (*PostgresStore, error) {
	return kv.NewPostgresStore(ctx, config)
}

// Basic hides the optional capabilities of c (multi-get, range scans and
// transactions), leaving only the base contract.
func Basic(c Client) Client {
	return basicClient{c}
}

type basicClient struct {
	Client
}
