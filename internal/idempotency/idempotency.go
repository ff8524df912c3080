// Package idempotency remembers responses by Idempotency-Key so retried
// requests replay the first response instead of applying twice.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrConflict = errors.New("request in progress")
	ErrMismatch = errors.New("key reuse with mismatched payload")
)

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Record holds the state of a request key.
type Record struct {
	Key            string          `json:"key"`
	RequestHash    string          `json:"request_hash"`
	Status         string          `json:"status"`
	ResponseStatus int             `json:"response_status,omitempty"`
	ResponseBody   json.RawMessage `json:"response_body,omitempty"`
}

// Store reserves keys before a request runs and records its response after.
type Store interface {
	// Reserve claims key for a request body hash. It returns the completed
	// record when key was already used with the same hash, ErrMismatch when
	// used with a different one, and ErrConflict while the first request runs.
	Reserve(ctx context.Context, key, requestHash string) (*Record, error)
	Complete(ctx context.Context, key string, status int, body []byte) error
	// Release forgets an in-progress key so the client may retry it.
	Release(ctx context.Context, key string) error
}

// check applies the reservation rules to an existing record.
func check(existing *Record, requestHash string) (*Record, error) {
	if existing.RequestHash != requestHash {
		return nil, ErrMismatch
	}
	if existing.Status != StatusCompleted {
		return nil, ErrConflict
	}
	return existing, nil
}
