// Package config loads the server configuration from an optional YAML or
// JSON file and KVQL_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. KVQL_STORE_BACKEND.
const EnvPrefix = "KVQL"

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPebble   = "pebble"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Engine EngineConfig `mapstructure:"engine"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	Backend  string         `mapstructure:"backend"`
	Pebble   PebbleConfig   `mapstructure:"pebble"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PebbleConfig struct {
	Path       string `mapstructure:"path"`
	InMemory   bool   `mapstructure:"in_memory"`
	CacheSize  int64  `mapstructure:"cache_size"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	ScanCount int64  `mapstructure:"scan_count"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	PageSize int    `mapstructure:"page_size"`
}

// EngineConfig configures query planning and execution.
type EngineConfig struct {
	// SchemaFile is an optional JSON or YAML registry file.
	SchemaFile       string `mapstructure:"schema_file"`
	DefaultSeparator string `mapstructure:"default_separator"`
	DefaultKeyColumn string `mapstructure:"default_key_column"`
	AtomicWrites     bool   `mapstructure:"atomic_writes"`
	BatchSize        int    `mapstructure:"batch_size"`
	Metrics          bool   `mapstructure:"metrics"`
}

// Default returns the built-in configuration: an in-memory store served on
// :8080.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend: BackendMemory,
			Pebble:  PebbleConfig{Path: "./data", CacheSize: 64 << 20},
			Redis:   RedisConfig{Addr: "localhost:6379", ScanCount: 500},
			Postgres: PostgresConfig{
				Table:    "kvql_kv",
				PageSize: 500,
			},
		},
		Engine: EngineConfig{
			DefaultSeparator: ":",
			DefaultKeyColumn: "id",
			BatchSize:        100,
			Metrics:          true,
		},
	}
}

// Load reads the configuration. path may be empty; environment variables
// override file values, which override the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every key so that environment variables bind even
// when no file mentions them.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.pebble.path", d.Store.Pebble.Path)
	v.SetDefault("store.pebble.in_memory", d.Store.Pebble.InMemory)
	v.SetDefault("store.pebble.cache_size", d.Store.Pebble.CacheSize)
	v.SetDefault("store.pebble.sync_writes", d.Store.Pebble.SyncWrites)
	v.SetDefault("store.redis.addr", d.Store.Redis.Addr)
	v.SetDefault("store.redis.username", d.Store.Redis.Username)
	v.SetDefault("store.redis.password", d.Store.Redis.Password)
	v.SetDefault("store.redis.db", d.Store.Redis.DB)
	v.SetDefault("store.redis.scan_count", d.Store.Redis.ScanCount)
	v.SetDefault("store.postgres.dsn", d.Store.Postgres.DSN)
	v.SetDefault("store.postgres.table", d.Store.Postgres.Table)
	v.SetDefault("store.postgres.page_size", d.Store.Postgres.PageSize)

	v.SetDefault("engine.schema_file", d.Engine.SchemaFile)
	v.SetDefault("engine.default_separator", d.Engine.DefaultSeparator)
	v.SetDefault("engine.default_key_column", d.Engine.DefaultKeyColumn)
	v.SetDefault("engine.atomic_writes", d.Engine.AtomicWrites)
	v.SetDefault("engine.batch_size", d.Engine.BatchSize)
	v.SetDefault("engine.metrics", d.Engine.Metrics)
}

// Validate checks the settings the selected backend depends on.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendPebble:
		if c.Store.Pebble.Path == "" && !c.Store.Pebble.InMemory {
			return fmt.Errorf("store.pebble.path is required")
		}
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required")
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Engine.BatchSize <= 0 {
		return fmt.Errorf("engine.batch_size must be positive, got %d", c.Engine.BatchSize)
	}
	if c.Engine.DefaultSeparator == "" || c.Engine.DefaultKeyColumn == "" {
		return fmt.Errorf("engine.default_separator and engine.default_key_column must be set")
	}
	return nil
}
