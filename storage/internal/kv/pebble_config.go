package kv

import (
	"time"
)

// PebbleConfig holds configuration options for the Pebble store
type PebbleConfig struct {
	Path string
	// InMemory keeps the database in an in-memory filesystem; Path is then
	// only used as the directory name inside it.
	InMemory              bool
	CacheSize             int64
	MemTableSize          int
	MaxOpenFiles          int
	CompactionConcurrency int
	FlushInterval         time.Duration
	BlockSize             int
	L0CompactionThreshold int
	L0StopWritesThreshold int
	LBaseMaxBytes         int64
	CompressionEnabled    bool
	EnableBloomFilter     bool
	BloomFilterBitsPerKey int
	TargetFileSize        int64
	// SyncWrites fsyncs every write command, not only transaction commits.
	SyncWrites bool
}

// DefaultPebbleConfig creates a default configuration for an on-disk store
func DefaultPebbleConfig(path string) *PebbleConfig {
	return &PebbleConfig{
		Path:                  path,
		CacheSize:             256 * 1024 * 1024,     // 256MB block cache
		MemTableSize:          64 * 1024 * 1024,      // 64MB memtable
		MaxOpenFiles:          5000,
		CompactionConcurrency: 4,
		FlushInterval:         500 * time.Millisecond,
		BlockSize:             32 << 10,
		L0CompactionThreshold: 4,
		L0StopWritesThreshold: 12,
		LBaseMaxBytes:         64 << 20,
		CompressionEnabled:    true,
		EnableBloomFilter:     true, // point lookups dominate
		BloomFilterBitsPerKey: 10,
		TargetFileSize:        16 << 20,
	}
}

// InMemoryPebbleConfig creates a small configuration backed by an in-memory
// filesystem, for tests and ephemeral stores.
func InMemoryPebbleConfig() *PebbleConfig {
	return &PebbleConfig{
		Path:                  "kvql",
		InMemory:              true,
		CacheSize:             8 * 1024 * 1024,
		MemTableSize:          4 * 1024 * 1024,
		MaxOpenFiles:          1000,
		CompactionConcurrency: 1,
		FlushInterval:         100 * time.Millisecond,
		BlockSize:             4 << 10,
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 10,
		LBaseMaxBytes:         32 << 20,
		CompressionEnabled:    false,
		EnableBloomFilter:     true,
		BloomFilterBitsPerKey: 5,
		TargetFileSize:        8 << 20,
	}
}
