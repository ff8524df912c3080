package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps keys in the idempotency_keys table created by the
// state/postgres migrations.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Reserve(ctx context.Context, key, requestHash string) (*Record, error) {
	var (
		storedHash   string
		storedStatus string
		respStatus   *int
		respBody     []byte
	)
	err := s.db.QueryRow(ctx,
		"SELECT request_hash, status, response_status, response_body FROM idempotency_keys WHERE key = $1",
		key,
	).Scan(&storedHash, &storedStatus, &respStatus, &respBody)

	if err == nil {
		existing := &Record{
			Key:          key,
			RequestHash:  storedHash,
			Status:       storedStatus,
			ResponseBody: json.RawMessage(respBody),
		}
		if respStatus != nil {
			existing.ResponseStatus = *respStatus
		}
		return check(existing, requestHash)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("idempotency query failed: %w", err)
	}

	_, err = s.db.Exec(ctx,
		"INSERT INTO idempotency_keys (key, request_hash, status) VALUES ($1, $2, $3)",
		key, requestHash, StatusInProgress,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("key reservation failed: %w", err)
	}
	return nil, nil
}

func (s *PostgresStore) Complete(ctx context.Context, key string, status int, body []byte) error {
	_, err := s.db.Exec(ctx,
		"UPDATE idempotency_keys SET status = $1, response_status = $2, response_body = $3 WHERE key = $4",
		StatusCompleted, status, body, key,
	)
	if err != nil {
		return fmt.Errorf("idempotency update failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key string) error {
	_, err := s.db.Exec(ctx, "DELETE FROM idempotency_keys WHERE key = $1 AND status = $2", key, StatusInProgress)
	if err != nil {
		return fmt.Errorf("idempotency release failed: %w", err)
	}
	return nil
}
