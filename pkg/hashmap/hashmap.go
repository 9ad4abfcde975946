// Package hashmap implements the open-addressing index used for name
// resolution in the progs VM.
//
// Entries live in dense parallel arrays (keys, values, chain links) indexed
// 0..Size()-1. A separate bucket array, always a power of two in length, maps
// a masked hash to the first dense index of its chain. Erase moves the last
// dense entry into the vacated slot, so removal is O(1) and no dense index
// other than the two involved changes.
package hashmap

import "math/bits"

// Growth constants.
const (
	MinKeyValueStorageSize = 16 // smallest dense allocation
	MinHashSize            = 32 // smallest bucket array

	noEntry = ^uint32(0) // end of chain / empty bucket
)

// Hasher hashes a key to 32 bits.
type Hasher[K any] func(key K) uint32

// Equal reports whether two keys are the same key.
type Equal[K any] func(a, b K) bool

// Map maps keys of type K to values of type V.
//
// A Map is not safe for concurrent use. Pointers returned by LookupPtr are
// invalidated by the next Insert, Erase or Reserve.
type Map[K comparable, V any] struct {
	numEntries  uint32
	hashSize    uint32
	hashToIndex []uint32 // bucket -> first dense index
	indexChain  []uint32 // dense index -> next dense index in the same bucket
	keys        []K
	values      []V
	hasher      Hasher[K]
	equal       Equal[K]
}

// New creates an empty map. If equal is nil keys are compared with ==.
func New[K comparable, V any](hasher Hasher[K], equal Equal[K]) *Map[K, V] {
	if hasher == nil {
		panic("hashmap: nil hasher")
	}
	return &Map[K, V]{
		hasher: hasher,
		equal:  equal,
	}
}

// NewString creates a map keyed by strings compared by content.
func NewString[V any]() *Map[string, V] {
	return New[string, V](HashString, nil)
}

// Size returns the number of live entries.
func (m *Map[K, V]) Size() int {
	return int(m.numEntries)
}

// Reserve grows storage so that capacity entries fit without rehashing.
func (m *Map[K, V]) Reserve(capacity int) {
	if capacity <= 0 {
		return
	}
	kvSize := nextPow2(uint32(capacity))
	if uint32(len(m.keys)) < kvSize {
		m.expandKeyValueStorage(kvSize)
	}
	hashSize := nextPow2(uint32(capacity + capacity/4))
	if m.hashSize < hashSize {
		m.rehash(hashSize)
	}
}

// Insert stores value under key. It returns true if an existing entry was
// overwritten.
func (m *Map[K, V]) Insert(key K, value V) bool {
	if m.numEntries >= uint32(len(m.keys)) {
		m.expandKeyValueStorage(max(uint32(len(m.keys))*2, MinKeyValueStorageSize))
	}
	if m.numEntries+m.numEntries/4 >= m.hashSize {
		m.rehash(max(m.hashSize*2, MinHashSize))
	}

	bucket := m.bucket(key)
	for i := m.hashToIndex[bucket]; i != noEntry; i = m.indexChain[i] {
		if m.same(key, m.keys[i]) {
			m.values[i] = value
			return true
		}
	}

	n := m.numEntries
	m.indexChain[n] = m.hashToIndex[bucket]
	m.hashToIndex[bucket] = n
	m.keys[n] = key
	m.values[n] = value
	m.numEntries++
	return false
}

// Lookup returns the value stored under key.
func (m *Map[K, V]) Lookup(key K) (V, bool) {
	if i, ok := m.find(key); ok {
		return m.values[i], true
	}
	var zero V
	return zero, false
}

// LookupPtr returns a pointer to the value stored under key, or nil.
func (m *Map[K, V]) LookupPtr(key K) *V {
	if i, ok := m.find(key); ok {
		return &m.values[i]
	}
	return nil
}

// Erase removes key. It returns true if the key was present.
func (m *Map[K, V]) Erase(key K) bool {
	if m.numEntries == 0 {
		return false
	}

	bucket := m.bucket(key)
	prev := noEntry
	for i := m.hashToIndex[bucket]; i != noEntry; i = m.indexChain[i] {
		if !m.same(key, m.keys[i]) {
			prev = i
			continue
		}

		// Unlink the erased entry from its chain.
		if prev == noEntry {
			m.hashToIndex[bucket] = m.indexChain[i]
		} else {
			m.indexChain[prev] = m.indexChain[i]
		}

		last := m.numEntries - 1
		if i == last {
			m.clearSlot(last)
			m.numEntries--
			return true
		}

		// Unlink the last entry from its own chain, which may be a
		// different bucket than the erased key's.
		lastBucket := m.bucket(m.keys[last])
		if m.hashToIndex[lastBucket] == last {
			m.hashToIndex[lastBucket] = m.indexChain[last]
		} else {
			for j := m.hashToIndex[lastBucket]; j != noEntry; j = m.indexChain[j] {
				if m.indexChain[j] == last {
					m.indexChain[j] = m.indexChain[last]
					break
				}
			}
		}

		// Move the last entry into the hole and relink it at the head of
		// its bucket.
		m.keys[i] = m.keys[last]
		m.values[i] = m.values[last]
		m.indexChain[i] = m.hashToIndex[lastBucket]
		m.hashToIndex[lastBucket] = i

		m.clearSlot(last)
		m.numEntries--
		return true
	}
	return false
}

// Key returns the key at dense index i, 0 <= i < Size().
func (m *Map[K, V]) Key(i int) K {
	return m.keys[i]
}

// Value returns the value at dense index i, 0 <= i < Size().
func (m *Map[K, V]) Value(i int) V {
	return m.values[i]
}

// Clear removes every entry but keeps the allocated storage.
func (m *Map[K, V]) Clear() {
	for i := uint32(0); i < m.numEntries; i++ {
		m.clearSlot(i)
	}
	for i := range m.hashToIndex {
		m.hashToIndex[i] = noEntry
	}
	m.numEntries = 0
}

func (m *Map[K, V]) find(key K) (uint32, bool) {
	if m.numEntries == 0 {
		return 0, false
	}
	for i := m.hashToIndex[m.bucket(key)]; i != noEntry; i = m.indexChain[i] {
		if m.same(key, m.keys[i]) {
			return i, true
		}
	}
	return 0, false
}

// bucket masks the hash; hashSize is always a power of two.
func (m *Map[K, V]) bucket(key K) uint32 {
	return m.hasher(key) & (m.hashSize - 1)
}

func (m *Map[K, V]) same(a, b K) bool {
	if m.equal != nil {
		return m.equal(a, b)
	}
	return a == b
}

// clearSlot drops references held by a dead dense slot.
func (m *Map[K, V]) clearSlot(i uint32) {
	var zk K
	var zv V
	m.keys[i] = zk
	m.values[i] = zv
}

func (m *Map[K, V]) expandKeyValueStorage(newSize uint32) {
	keys := make([]K, newSize)
	copy(keys, m.keys[:m.numEntries])
	values := make([]V, newSize)
	copy(values, m.values[:m.numEntries])
	chain := make([]uint32, newSize)
	copy(chain, m.indexChain[:m.numEntries])
	m.keys, m.values, m.indexChain = keys, values, chain
}

func (m *Map[K, V]) rehash(newSize uint32) {
	if m.hashSize >= newSize {
		return
	}
	m.hashSize = newSize
	m.hashToIndex = make([]uint32, newSize)
	for i := range m.hashToIndex {
		m.hashToIndex[i] = noEntry
	}
	for i := uint32(0); i < m.numEntries; i++ {
		b := m.bucket(m.keys[i])
		m.indexChain[i] = m.hashToIndex[b]
		m.hashToIndex[b] = i
	}
}

func nextPow2(v uint32) uint32 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len32(v-1)
}
