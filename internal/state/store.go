// Package state is the committed key-value storage the ledger and registry run on.
// Every transition executes inside Store.Update and either commits all of its
// writes or none of them.
package state

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("state: store closed")

// Reader is a read-only view of committed state. Get returns nil for a missing key.
// Iterate visits keys under prefix in ascending byte order.
type Reader interface {
	Get(key []byte) ([]byte, error)
	Iterate(prefix []byte, fn func(key, value []byte) error) error
}

// ReadWriter is the view handed to a transition. Writes are only visible to
// the same transaction until it commits.
type ReadWriter interface {
	Reader
	Set(key, value []byte) error
	Delete(key []byte) error
}

type Store interface {
	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(ReadWriter) error) error
	Close() error
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil if no such key exists.
func PrefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// KV is one committed entry, used for exports and bulk loads.
type KV struct {
	Key   []byte
	Value []byte
}

// Dump returns every committed entry in key order.
func Dump(ctx context.Context, s Store) ([]KV, error) {
	var out []KV
	err := s.View(ctx, func(r Reader) error {
		return r.Iterate(nil, func(key, value []byte) error {
			out = append(out, KV{Key: key, Value: value})
			return nil
		})
	})
	return out, err
}
