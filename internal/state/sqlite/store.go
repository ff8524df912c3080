// Package sqlite stores committed state in an embedded SQLite file, for
// single-node deployments that do not run Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/punchamoorthee/tcr/internal/state"
)

const maxBusyTimeoutMs = 5000

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s", filepath.Clean(path)))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps transactions from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", maxBusyTimeoutMs),
		"PRAGMA journal_mode=WAL",
		`CREATE TABLE IF NOT EXISTS kv (
			key   BLOB PRIMARY KEY,
			value BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) View(ctx context.Context, fn func(state.Reader) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&kvTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Update(ctx context.Context, fn func(state.ReadWriter) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&kvTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type kvTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *kvTx) Get(key []byte) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRowContext(t.ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv get failed: %w", err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (t *kvTx) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	var (
		rows *sql.Rows
		err  error
	)
	if end := state.PrefixEnd(prefix); end != nil {
		rows, err = t.tx.QueryContext(t.ctx,
			"SELECT key, value FROM kv WHERE key >= ? AND key < ? ORDER BY key", nonNil(prefix), end)
	} else {
		rows, err = t.tx.QueryContext(t.ctx,
			"SELECT key, value FROM kv WHERE key >= ? ORDER BY key", nonNil(prefix))
	}
	if err != nil {
		return fmt.Errorf("kv scan failed: %w", err)
	}

	var entries []state.KV
	for rows.Next() {
		var kv state.KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			rows.Close()
			return fmt.Errorf("kv scan failed: %w", err)
		}
		entries = append(entries, kv)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("kv scan failed: %w", err)
	}
	rows.Close()

	for _, kv := range entries {
		if err := fn(kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return nil
}

func (t *kvTx) Set(key, value []byte) error {
	_, err := t.tx.ExecContext(t.ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, nonNil(value))
	if err != nil {
		return fmt.Errorf("kv set failed: %w", err)
	}
	return nil
}

func (t *kvTx) Delete(key []byte) error {
	if _, err := t.tx.ExecContext(t.ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("kv delete failed: %w", err)
	}
	return nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
