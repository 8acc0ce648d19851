package hash

import (
	"encoding/binary"

	"github.com/cespare/xxhash"
	"github.com/spaolacci/murmur3"
)

// KeyHasher is a pure function from a key to a 32-bit integer. The
// index routes keys by the hash's low-order bits, so the same hasher
// must back an index for its whole on-disk lifetime.
type KeyHasher func(key int64) uint32

// KeyComparator is a pure function returning negative/zero/positive
// as a < b, a == b, a > b.
type KeyComparator func(a, b int64) int

// Int64Comparator is the natural ordering on int64 keys.
func Int64Comparator(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func keyBytes(key int64) []byte {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutVarint(buf, key)
	return buf[:n]
}

// XxHasher hashes key with xxHash, truncated to 32 bits.
func XxHasher(key int64) uint32 {
	return uint32(xxhash.Sum64(keyBytes(key)))
}

// MurmurHasher hashes key with MurmurHash3, truncated to 32 bits. A
// pluggable alternative to XxHasher; either is a pure function of its
// input and either may back an Index.
func MurmurHasher(key int64) uint32 {
	return uint32(murmur3.Sum64(keyBytes(key)))
}
