package cf

import (
	"hash/fnv"
	"math/rand"
)

// === SearchKey ===

// SearchKey uniquely identifies a reproducible batch run.
// Two runs with the same SearchKey and identical configuration MUST produce
// bit-for-bit identical ResultRecords (pixel data included).
type SearchKey int64

// NewSearchKey creates a SearchKey from a seed value.
func NewSearchKey(seed int64) SearchKey {
	return SearchKey(seed)
}

// === Per-instance RNG derivation ===
//
// Each instance's job gets its own deterministically-derived RNG so that the
// result of one instance never depends on how many siblings ran before it or
// on worker scheduling. Derivation: masterSeed XOR fnv1a64("instance|" + ID).

// InstanceRNG returns a fresh RNG for the given instance, derived from the
// key. Safe to call concurrently; each call returns an independent *rand.Rand
// that must be used from a single goroutine.
func InstanceRNG(key SearchKey, instanceID string) *rand.Rand {
	derived := int64(key) ^ fnv1a64("instance|"+instanceID)
	return rand.New(rand.NewSource(derived))
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
