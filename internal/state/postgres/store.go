// Package postgres stores committed state in a single kv table. Each Update
// runs in one serializable transaction.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/tcr/internal/state"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{db: pool}, nil
}

// Pool exposes the connection pool to components sharing the database.
func (s *Store) Pool() *pgxpool.Pool {
	return s.db
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

// Migrate applies the embedded schema migrations. connString must be a URL.
func Migrate(connString string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(connString))
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// migrateURL rewrites postgres:// URLs to the scheme the pgx/v5 migrate driver registers.
func migrateURL(connString string) string {
	for _, scheme := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(connString, scheme) {
			return "pgx5://" + strings.TrimPrefix(connString, scheme)
		}
	}
	return connString
}

func (s *Store) View(ctx context.Context, fn func(state.Reader) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&kvTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Update(ctx context.Context, fn func(state.ReadWriter) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&kvTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// Empty reports whether no state has been committed yet.
func (s *Store) Empty(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM kv)").Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("kv probe failed: %w", err)
	}
	return !exists, nil
}

// CopyRecords bulk loads entries into an empty kv table.
func (s *Store) CopyRecords(ctx context.Context, records []state.KV) (int64, error) {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = []any{r.Key, r.Value}
	}

	n, err := s.db.CopyFrom(ctx,
		pgx.Identifier{"kv"},
		[]string{"key", "value"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("copy kv failed: %w", err)
	}
	return n, nil
}

type kvTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *kvTx) Get(key []byte) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRow(t.ctx, "SELECT value FROM kv WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv get failed: %w", err)
	}
	return value, nil
}

func (t *kvTx) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	var (
		rows pgx.Rows
		err  error
	)
	// bytea compares bytewise, so a prefix is a half-open key range.
	if end := state.PrefixEnd(prefix); end != nil {
		rows, err = t.tx.Query(t.ctx,
			"SELECT key, value FROM kv WHERE key >= $1 AND key < $2 ORDER BY key", prefix, end)
	} else {
		rows, err = t.tx.Query(t.ctx,
			"SELECT key, value FROM kv WHERE key >= $1 ORDER BY key", nonNil(prefix))
	}
	if err != nil {
		return fmt.Errorf("kv scan failed: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (state.KV, error) {
		var kv state.KV
		err := row.Scan(&kv.Key, &kv.Value)
		return kv, err
	})
	if err != nil {
		return fmt.Errorf("kv scan failed: %w", err)
	}

	for _, kv := range entries {
		if err := fn(kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return nil
}

func (t *kvTx) Set(key, value []byte) error {
	_, err := t.tx.Exec(t.ctx,
		"INSERT INTO kv (key, value) VALUES ($1, $2) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value",
		key, nonNil(value))
	if err != nil {
		return fmt.Errorf("kv set failed: %w", err)
	}
	return nil
}

func (t *kvTx) Delete(key []byte) error {
	if _, err := t.tx.Exec(t.ctx, "DELETE FROM kv WHERE key = $1", key); err != nil {
		return fmt.Errorf("kv delete failed: %w", err)
	}
	return nil
}

// nonNil keeps pgx from encoding an empty key or value as NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
