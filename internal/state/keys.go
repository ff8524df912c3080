package state

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
	"golang.org/x/crypto/blake2b"
)

// Keys follow the substrate layout: twox128(module) ++ twox128(item) for a
// value or map prefix, then blake2_128_concat(key) for each map key part.

func Twox128(data []byte) []byte {
	h1 := xxhash.NewS64(0)
	h1.Write(data)
	h2 := xxhash.NewS64(1)
	h2.Write(data)

	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[0:], h1.Sum64())
	binary.LittleEndian.PutUint64(out[8:], h2.Sum64())
	return out
}

// Blake2_128Concat hashes data and appends the raw data so the key stays
// reversible.
func Blake2_128Concat(data []byte) []byte {
	h, err := blake2b.New(16, nil)
	if err != nil {
		panic(err) // only fails for sizes outside 1..64
	}
	h.Write(data)
	return append(h.Sum(nil), data...)
}

// Prefix is the storage prefix of one item of a module.
func Prefix(module, item string) []byte {
	return append(Twox128([]byte(module)), Twox128([]byte(item))...)
}

// MapKey builds the key of a (possibly multi-part) map entry.
func MapKey(module, item string, parts ...[]byte) []byte {
	key := Prefix(module, item)
	for _, p := range parts {
		key = append(key, Blake2_128Concat(p)...)
	}
	return key
}

// U64 encodes v little-endian, the way map keys for counters are encoded.
func U64(v uint64) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, v)
	return out
}
