package main

import (
	"context"
	"fmt"

	"github.com/guileen/kvql/catalog"
	"github.com/guileen/kvql/config"
	"github.com/guileen/kvql/engine"
	"github.com/guileen/kvql/logger"
	"github.com/guileen/kvql/protocol/sql/planner"
	"github.com/guileen/kvql/storage"
)

// closingClient is a store client the server owns and must close.
type closingClient interface {
	storage.Client
	Close() error
}

func openStore(ctx context.Context, cfg config.StoreConfig) (closingClient, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return storage.NewMemoryStore(), nil
	case config.BackendPebble:
		pc := storage.DefaultPebbleConfig(cfg.Pebble.Path)
		if cfg.Pebble.InMemory {
			pc = storage.InMemoryPebbleConfig()
		}
		if cfg.Pebble.CacheSize > 0 {
			pc.CacheSize = cfg.Pebble.CacheSize
		}
		pc.SyncWrites = cfg.Pebble.SyncWrites
		store, err := storage.NewPebbleStore(pc)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendRedis:
		return storage.NewRedisStore(&storage.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Username:  cfg.Redis.Username,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			ScanCount: cfg.Redis.ScanCount,
		}), nil
	case config.BackendPostgres:
		store, err := storage.NewPostgresStore(ctx, &storage.PostgresConfig{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			PageSize: cfg.Postgres.PageSize,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
}

func newEngine(cfg config.EngineConfig) (*engine.Engine, error) {
	reg := catalog.NewRegistry()
	if cfg.SchemaFile != "" {
		var err error
		if reg, err = catalog.LoadFile(cfg.SchemaFile); err != nil {
			return nil, err
		}
		logger.Info("Schema registry loaded",
			logger.String("file", cfg.SchemaFile),
			logger.Int("tables", reg.Len()))
	}
	return engine.New(
		engine.WithRegistry(reg),
		engine.WithPlannerOptions(planner.Options{
			DefaultSeparator: cfg.DefaultSeparator,
			DefaultKeyColumn: cfg.DefaultKeyColumn,
			AtomicWrites:     cfg.AtomicWrites,
		}),
		engine.WithBatchSize(cfg.BatchSize),
		engine.WithMetrics(cfg.Metrics),
	), nil
}
