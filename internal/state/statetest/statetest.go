// Package statetest holds the behaviour every state.Store backend must share.
package statetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/tcr/internal/state"
)

// Run exercises a backend. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) state.Store) {
	t.Run("missing key reads nil", func(t *testing.T) {
		s := newStore(t)
		err := s.View(context.Background(), func(r state.Reader) error {
			v, err := r.Get([]byte("absent"))
			require.NoError(t, err)
			assert.Nil(t, v)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("update commits", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, func(w state.ReadWriter) error {
			return w.Set([]byte("k"), []byte("v1"))
		}))
		require.NoError(t, s.Update(ctx, func(w state.ReadWriter) error {
			return w.Set([]byte("k"), []byte("v2"))
		}))
		assert.Equal(t, []byte("v2"), get(t, s, "k"))
	})

	t.Run("failed update rolls back", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, func(w state.ReadWriter) error {
			return w.Set([]byte("kept"), []byte("1"))
		}))

		boom := errors.New("boom")
		err := s.Update(ctx, func(w state.ReadWriter) error {
			require.NoError(t, w.Set([]byte("kept"), []byte("2")))
			require.NoError(t, w.Set([]byte("new"), []byte("x")))
			return boom
		})
		require.ErrorIs(t, err, boom)

		assert.Equal(t, []byte("1"), get(t, s, "kept"))
		assert.Nil(t, get(t, s, "new"))
	})

	t.Run("writes are visible inside the transaction", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(context.Background(), func(w state.ReadWriter) error {
			require.NoError(t, w.Set([]byte("k"), []byte("v")))
			v, err := w.Get([]byte("k"))
			require.NoError(t, err)
			assert.Equal(t, []byte("v"), v)

			require.NoError(t, w.Delete([]byte("k")))
			v, err = w.Get([]byte("k"))
			require.NoError(t, err)
			assert.Nil(t, v)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, func(w state.ReadWriter) error {
			return w.Set([]byte("k"), []byte("v"))
		}))
		require.NoError(t, s.Update(ctx, func(w state.ReadWriter) error {
			return w.Delete([]byte("k"))
		}))
		assert.Nil(t, get(t, s, "k"))
	})

	t.Run("iterate visits a prefix in key order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, func(w state.ReadWriter) error {
			for _, k := range []string{"b/2", "a/1", "b/1", "b/3", "c/1"} {
				if err := w.Set([]byte(k), []byte(k)); err != nil {
					return err
				}
			}
			return nil
		}))

		err := s.Update(ctx, func(w state.ReadWriter) error {
			require.NoError(t, w.Delete([]byte("b/2")))
			require.NoError(t, w.Set([]byte("b/0"), []byte("b/0")))

			var keys []string
			err := w.Iterate([]byte("b/"), func(key, value []byte) error {
				assert.Equal(t, key, value)
				keys = append(keys, string(key))
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"b/0", "b/1", "b/3"}, keys)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("iterate stops on callback error", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, func(w state.ReadWriter) error {
			require.NoError(t, w.Set([]byte("p1"), []byte("1")))
			return w.Set([]byte("p2"), []byte("2"))
		}))

		stop := errors.New("stop")
		visited := 0
		err := s.View(ctx, func(r state.Reader) error {
			return r.Iterate([]byte("p"), func(_, _ []byte) error {
				visited++
				return stop
			})
		})
		require.ErrorIs(t, err, stop)
		assert.Equal(t, 1, visited)
	})

	t.Run("dump", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, func(w state.ReadWriter) error {
			require.NoError(t, w.Set([]byte{0x02}, []byte("two")))
			return w.Set([]byte{0x01, 0xff}, []byte("one"))
		}))

		kvs, err := state.Dump(ctx, s)
		require.NoError(t, err)
		require.Len(t, kvs, 2)
		assert.Equal(t, []byte{0x01, 0xff}, kvs[0].Key)
		assert.Equal(t, []byte("two"), kvs[1].Value)
	})
}

func get(t *testing.T, s state.Store, key string) []byte {
	t.Helper()
	var out []byte
	err := s.View(context.Background(), func(r state.Reader) error {
		v, err := r.Get([]byte(key))
		out = v
		return err
	})
	require.NoError(t, err)
	return out
}
