package hashmap

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// HashUint32 is the murmur3 fmix32 finalizer.
func HashUint32(v uint32) uint32 {
	h := v
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}

// HashInt32 hashes a signed 32-bit key.
func HashInt32(v int32) uint32 {
	return HashUint32(uint32(v))
}

// HashInt64 is the murmur3 fmix64 finalizer truncated to 32 bits.
func HashInt64(v int64) uint32 {
	k := uint64(v)
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return uint32(k)
}

// HashFloat hashes a float so that 0 and -0 collide.
func HashFloat(f float32) uint32 {
	b := math.Float32bits(f)
	if b == 0x80000000 {
		b = 0
	}
	return HashUint32(b)
}

// HashCombine mixes two hashes (murmur3 round).
func HashCombine(a, b uint32) uint32 {
	a *= 0xcc9e2d51
	a = (a >> 17) | (a << 15)
	a *= 0x1b873593
	b ^= a
	b = (b >> 19) | (b << 13)
	return b*5 + 0xe6546b64
}

// HashVec3 hashes a three component vector.
func HashVec3(v [3]float32) uint32 {
	return HashCombine(HashFloat(v[0]), HashCombine(HashFloat(v[1]), HashFloat(v[2])))
}

// HashString hashes a string by content.
func HashString(s string) uint32 {
	h := xxhash.Sum64String(s)
	return uint32(h) ^ uint32(h>>32)
}
