package state_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/tcr/internal/state"
	"github.com/punchamoorthee/tcr/internal/state/statetest"
)

func TestMemoryStore(t *testing.T) {
	statetest.Run(t, func(t *testing.T) state.Store {
		return state.NewMemoryStore()
	})
}

func TestMemoryStoreClosed(t *testing.T) {
	s := state.NewMemoryStore()
	require.NoError(t, s.Close())

	err := s.Update(context.Background(), func(state.ReadWriter) error { return nil })
	assert.ErrorIs(t, err, state.ErrClosed)
}

func TestMemoryStoreValuesAreCopied(t *testing.T) {
	s := state.NewMemoryStore()
	ctx := context.Background()
	value := []byte("abc")
	require.NoError(t, s.Update(ctx, func(w state.ReadWriter) error {
		return w.Set([]byte("k"), value)
	}))
	value[0] = 'x'

	require.NoError(t, s.View(ctx, func(r state.Reader) error {
		v, err := r.Get([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), v)
		v[0] = 'y'
		return nil
	}))
	require.NoError(t, s.View(ctx, func(r state.Reader) error {
		v, _ := r.Get([]byte("k"))
		assert.Equal(t, []byte("abc"), v)
		return nil
	}))
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x03}, state.PrefixEnd([]byte{0x01, 0x02}))
	assert.Equal(t, []byte{0x02}, state.PrefixEnd([]byte{0x01, 0xff}))
	assert.Nil(t, state.PrefixEnd([]byte{0xff, 0xff}))
	assert.Nil(t, state.PrefixEnd(nil))
}

func TestMapKeysShareTheirPrefix(t *testing.T) {
	prefix := state.Prefix("Token", "Balances")
	key := state.MapKey("Token", "Balances", []byte("alice"))

	assert.Len(t, prefix, 32)
	assert.Equal(t, prefix, key[:32])
	// blake2_128 hash followed by the raw key part.
	assert.Len(t, key, 32+16+len("alice"))
	assert.Equal(t, []byte("alice"), key[len(key)-5:])
	assert.NotEqual(t, prefix, state.Prefix("Token", "Allowances"))
}

func TestJSONCodec(t *testing.T) {
	s := state.NewMemoryStore()
	ctx := context.Background()
	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	require.NoError(t, s.Update(ctx, func(w state.ReadWriter) error {
		return state.PutJSON(w, []byte("r"), record{Name: "n", Count: 3})
	}))
	require.NoError(t, s.View(ctx, func(r state.Reader) error {
		var got record
		found, err := state.GetJSON(r, []byte("r"), &got)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, record{Name: "n", Count: 3}, got)

		found, err = state.GetJSON(r, []byte("missing"), &got)
		require.NoError(t, err)
		assert.False(t, found)
		return nil
	}))
}
