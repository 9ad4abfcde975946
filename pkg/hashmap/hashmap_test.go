package hashmap

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
)

// TestBasic mirrors insert / lookup / erase of a contiguous key range.
func TestBasic(t *testing.T) {
	for _, reserve := range []bool{false, true} {
		const n = 1000
		m := New[int32, int64](HashInt32, nil)
		if reserve {
			m.Reserve(n)
		}
		for i := int32(0); i < n; i++ {
			if m.Insert(i, int64(i)) {
				t.Fatalf("Insert(%d) overwrote an entry", i)
			}
		}
		for i := int32(0); i < n; i++ {
			if v, ok := m.Lookup(i); !ok || v != int64(i) {
				t.Fatalf("Lookup(%d) = %d, %v, want %d, true", i, v, ok, i)
			}
		}
		for i := int32(0); i < n; i += 2 {
			if !m.Erase(i) {
				t.Fatalf("Erase(%d) = false, want true", i)
			}
		}
		for i := int32(1); i < n; i += 2 {
			if v, ok := m.Lookup(i); !ok || v != int64(i) {
				t.Errorf("Lookup(%d) after erase = %d, %v", i, v, ok)
			}
		}
		for i := int32(0); i < n; i += 2 {
			if _, ok := m.Lookup(i); ok {
				t.Errorf("Lookup(%d) found an erased key", i)
			}
		}
		for i := int32(0); i < n; i++ {
			m.Erase(i)
		}
		if m.Size() != 0 {
			t.Errorf("Size() = %d, want 0", m.Size())
		}
	}
}

// TestInsertOverwrite verifies the overwrite flag and size accounting.
func TestInsertOverwrite(t *testing.T) {
	m := NewString[int]()
	if m.Insert("self", 28) {
		t.Error("first Insert reported overwrite")
	}
	if !m.Insert("self", 29) {
		t.Error("second Insert did not report overwrite")
	}
	if m.Size() != 1 {
		t.Errorf("Size() = %d, want 1", m.Size())
	}
	if v, _ := m.Lookup("self"); v != 29 {
		t.Errorf("Lookup(self) = %d, want 29", v)
	}
	if p := m.LookupPtr("self"); p == nil || *p != 29 {
		t.Errorf("LookupPtr(self) = %v", p)
	}
	if m.LookupPtr("other") != nil {
		t.Error("LookupPtr(other) should be nil")
	}
	if m.Erase("other") {
		t.Error("Erase(other) = true for a missing key")
	}
}

// TestGrowthBoundaries inserts around the power-of-two thresholds.
func TestGrowthBoundaries(t *testing.T) {
	for _, n := range []int{15, 16, 17, 31, 32, 33, 63, 64, 65} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			m := New[int64, int32](HashInt64, nil)
			for i := 0; i < n; i++ {
				m.Insert(int64(i)*7919, int32(i))
				for j := 0; j <= i; j++ {
					if v, ok := m.Lookup(int64(j) * 7919); !ok || v != int32(j) {
						t.Fatalf("after %d inserts Lookup(%d) = %d, %v", i+1, j, v, ok)
					}
				}
			}
			if m.Size() != n {
				t.Errorf("Size() = %d, want %d", m.Size(), n)
			}
		})
	}
}

// TestStress runs shuffled insert and reverse erase rounds like the engine self-test.
func TestStress(t *testing.T) {
	const n = 10000
	rng := rand.New(rand.NewSource(0))
	m := New[int64, int32](HashInt64, nil)
	keys := make([]int64, n)
	for round := 0; round < 5; round++ {
		for i := range keys {
			keys[i] = int64(i)
		}
		rng.Shuffle(n, func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
		for i, k := range keys {
			m.Insert(k, int32(i))
		}
		for i, k := range keys {
			if v, ok := m.Lookup(k); !ok || v != int32(i) {
				t.Fatalf("round %d: Lookup(%d) = %d, %v, want %d", round, k, v, ok, i)
			}
		}
		for i := n - 1; i >= 0; i-- {
			m.Erase(keys[i])
		}
		if m.Size() != 0 {
			t.Fatalf("round %d: Size() = %d, want 0", round, m.Size())
		}
	}
}

// TestRandomizedAgainstBuiltin compares a random operation sequence with a Go map.
func TestRandomizedAgainstBuiltin(t *testing.T) {
	hashers := map[string]Hasher[int32]{
		"murmur": HashInt32,
		// A weak hasher forces long chains that span buckets after growth.
		"weak": func(k int32) uint32 { return uint32(k) % 7 },
	}
	for name, h := range hashers {
		t.Run(name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			m := New[int32, int32](h, nil)
			ref := make(map[int32]int32)
			for step := 0; step < 50000; step++ {
				k := int32(rng.Intn(600))
				switch rng.Intn(3) {
				case 0, 1:
					v := rng.Int31()
					_, existed := ref[k]
					if got := m.Insert(k, v); got != existed {
						t.Fatalf("step %d: Insert(%d) overwrite = %v, want %v", step, k, got, existed)
					}
					ref[k] = v
				case 2:
					_, existed := ref[k]
					if got := m.Erase(k); got != existed {
						t.Fatalf("step %d: Erase(%d) = %v, want %v", step, k, got, existed)
					}
					delete(ref, k)
				}
				if m.Size() != len(ref) {
					t.Fatalf("step %d: Size() = %d, want %d", step, m.Size(), len(ref))
				}
			}
			for k, want := range ref {
				if v, ok := m.Lookup(k); !ok || v != want {
					t.Errorf("Lookup(%d) = %d, %v, want %d", k, v, ok, want)
				}
			}
			for i := 0; i < m.Size(); i++ {
				k := m.Key(i)
				if ref[k] != m.Value(i) {
					t.Errorf("dense slot %d holds %d=%d, want %d", i, k, m.Value(i), ref[k])
				}
			}
		})
	}
}

// TestCustomEqual uses a comparator that ignores case.
func TestCustomEqual(t *testing.T) {
	m := New[string, int](
		func(s string) uint32 { return HashString(strings.ToLower(s)) },
		strings.EqualFold,
	)
	m.Insert("Monster_Army", 1)
	if v, ok := m.Lookup("monster_army"); !ok || v != 1 {
		t.Errorf("Lookup(monster_army) = %d, %v, want 1, true", v, ok)
	}
	if !m.Insert("MONSTER_ARMY", 2) {
		t.Error("Insert with different case should overwrite")
	}
}

// TestClear verifies that Clear empties the map and it stays usable.
func TestClear(t *testing.T) {
	m := NewString[int]()
	for i := 0; i < 100; i++ {
		m.Insert(fmt.Sprintf("k%d", i), i)
	}
	m.Clear()
	if m.Size() != 0 {
		t.Errorf("Size() = %d, want 0", m.Size())
	}
	if _, ok := m.Lookup("k5"); ok {
		t.Error("Lookup(k5) found a cleared key")
	}
	m.Insert("k5", 5)
	if v, _ := m.Lookup("k5"); v != 5 {
		t.Errorf("Lookup(k5) = %d, want 5", v)
	}
}

// TestHashers checks the fixed points the maps rely on.
func TestHashers(t *testing.T) {
	if HashFloat(0) != HashFloat(float32(negZero())) {
		t.Error("HashFloat(0) != HashFloat(-0)")
	}
	if HashString("self") != HashString("self") {
		t.Error("HashString is not deterministic")
	}
	if HashString("self") == HashString("other") {
		t.Error("HashString(self) == HashString(other)")
	}
	if HashVec3([3]float32{1, 2, 3}) == HashVec3([3]float32{3, 2, 1}) {
		t.Error("HashVec3 ignores component order")
	}
	if nextPow2(17) != 32 || nextPow2(32) != 32 || nextPow2(1) != 1 {
		t.Error("nextPow2 mismatch")
	}
}

func negZero() float64 {
	z := 0.0
	return -z
}
