package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guileen/kvql/storage/shared"
)

// PostgresConfig configures a PostgreSQL backed store.
type PostgresConfig struct {
	DSN string
	// Table holds the key/value pairs; it is created when missing.
	Table string
	// PageSize bounds the rows fetched per scan round trip.
	PageSize int
}

// PostgresStore keeps key/value pairs in one PostgreSQL table. Keys use the
// "C" collation so that range scans follow byte order. Atomic write steps
// run in a SQL transaction.
type PostgresStore struct {
	pool     *pgxpool.Pool
	table    string
	pageSize int
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func NewPostgresStore(ctx context.Context, config *PostgresConfig) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	table := config.Table
	if table == "" {
		table = "kvql_kv"
	}
	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	s := &PostgresStore{pool: pool, table: pgx.Identifier{table}.Sanitize(), pageSize: pageSize}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (key TEXT COLLATE "C" PRIMARY KEY, value BYTEA NOT NULL)`, s.table)
	if _, err := pool.Exec(connectCtx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table), key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) MGet(ctx context.Context, keys []string) ([]shared.Lookup, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT key, value FROM %s WHERE key = ANY($1)`, s.table), keys)
	if err != nil {
		return nil, fmt.Errorf("postgres mget: %w", err)
	}
	defer rows.Close()

	found := make(map[string][]byte, len(keys))
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("postgres mget: %w", err)
		}
		found[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres mget: %w", err)
	}

	out := make([]shared.Lookup, len(keys))
	for i, key := range keys {
		if v, ok := found[key]; ok {
			out[i] = shared.Lookup{Value: v, Found: true}
		}
	}
	return out, nil
}

func (s *PostgresStore) Scan(ctx context.Context, pattern string) shared.KeyIterator {
	prefix := shared.GlobPrefix(pattern)
	return s.pagedIterator(ctx, prefix, shared.PrefixEnd(prefix), func(key string) bool {
		return shared.MatchGlob(pattern, key)
	})
}

func (s *PostgresStore) ScanRange(ctx context.Context, lower, upper string) shared.KeyIterator {
	return s.pagedIterator(ctx, lower, upper, nil)
}

// pagedIterator reads keys in [lower, upper) with keyset pagination.
func (s *PostgresStore) pagedIterator(ctx context.Context, lower, upper string, match func(string) bool) shared.KeyIterator {
	return &pagedIterator{
		match: match,
		fetch: func(after string, first bool) ([]string, error) {
			op := ">"
			bound := after
			if first {
				op, bound = ">=", lower
			}
			query := fmt.Sprintf(`SELECT key FROM %s WHERE key %s $1`, s.table, op)
			args := []any{bound}
			if upper != "" {
				query += ` AND key < $2`
				args = append(args, upper)
			}
			query += fmt.Sprintf(` ORDER BY key LIMIT %d`, s.pageSize)

			rows, err := s.pool.Query(ctx, query, args...)
			if err != nil {
				return nil, fmt.Errorf("postgres scan: %w", err)
			}
			keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
			if err != nil {
				return nil, fmt.Errorf("postgres scan: %w", err)
			}
			return keys, nil
		},
		pageSize: s.pageSize,
	}
}

func (s *PostgresStore) Execute(ctx context.Context, cmd string, args ...[]byte) (shared.Reply, error) {
	op, err := shared.ParseOp(cmd, args...)
	if err != nil {
		return shared.Reply{}, err
	}
	return s.apply(ctx, s.pool, op)
}

func (s *PostgresStore) apply(ctx context.Context, q querier, op shared.Op) (shared.Reply, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch op.Cmd {
	case shared.CmdSet:
		tag, err = q.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, s.table),
			op.Key, op.Value)
	case shared.CmdSetNX:
		tag, err = q.Exec(ctx, fmt.Sprintf(
			`INSERT INTO %s (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`, s.table),
			op.Key, op.Value)
	default:
		tag, err = q.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table), op.Key)
	}
	if err != nil {
		return shared.Reply{}, fmt.Errorf("postgres %s: %w", op.Cmd, err)
	}
	return shared.Reply{Affected: tag.RowsAffected()}, nil
}

func (s *PostgresStore) Begin(ctx context.Context) (shared.Tx, error) {
	return newQueuedTx(s.commit), nil
}

func (s *PostgresStore) commit(ctx context.Context, ops []shared.Op) ([]shared.Reply, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres begin: %w", err)
	}
	defer tx.Rollback(ctx)

	replies := make([]shared.Reply, len(ops))
	for i, op := range ops {
		reply, err := s.apply(ctx, tx, op)
		if err != nil {
			return nil, err
		}
		if op.Cmd == shared.CmdSetNX && reply.Affected == 0 {
			return nil, fmt.Errorf("%w: key %q exists", shared.ErrConflict, op.Key)
		}
		replies[i] = reply
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres commit: %w", err)
	}
	return replies, nil
}

// Truncate removes every key. Intended for tests.
func (s *PostgresStore) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, s.table))
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// pagedIterator pulls pages of sorted keys, resuming after the last key of
// the previous page.
type pagedIterator struct {
	fetch    func(after string, first bool) ([]string, error)
	match    func(string) bool
	pageSize int

	page    []string
	pos     int
	last    string
	more    bool
	started bool
	err     error
}

func (it *pagedIterator) First() bool {
	it.started = true
	it.err = nil
	it.page, it.pos, it.last = nil, 0, ""
	it.load(true)
	return it.skip()
}

func (it *pagedIterator) load(first bool) {
	keys, err := it.fetch(it.last, first)
	if err != nil {
		it.err = err
		it.page = nil
		return
	}
	it.page, it.pos = keys, 0
	it.more = len(keys) == it.pageSize
	if len(keys) > 0 {
		it.last = keys[len(keys)-1]
	}
}

func (it *pagedIterator) skip() bool {
	for it.err == nil {
		for it.pos < len(it.page) {
			if it.match == nil || it.match(it.page[it.pos]) {
				return true
			}
			it.pos++
		}
		if !it.more {
			return false
		}
		it.load(false)
	}
	return false
}

func (it *pagedIterator) Valid() bool {
	return it.started && it.err == nil && it.pos < len(it.page)
}

func (it *pagedIterator) Next() bool {
	if !it.Valid() {
		return false
	}
	it.pos++
	return it.skip()
}

func (it *pagedIterator) Key() string {
	if !it.Valid() {
		return ""
	}
	return it.page[it.pos]
}

func (it *pagedIterator) Error() error { return it.err }

func (it *pagedIterator) Close() error {
	it.page = nil
	it.more = false
	return nil
}
