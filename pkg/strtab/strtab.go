// Package strtab maps string handles used by progs to Go strings.
//
// A non-negative handle is an offset into the image's static string blob.
// A negative handle names a slot in the table of known dynamic strings:
//
//	handle = -1 - (slot | generation<<SlotBits)
//
// The generation is bumped every time a slot is released, so a handle kept
// past its release is detected instead of aliasing the slot's next owner.
// A slot whose generation would wrap is retired and never handed out again.
package strtab

import (
	"errors"
	"fmt"

	"github.com/fortiblox/qcvm/pkg/hashmap"
)

// Handle layout.
const (
	SlotBits = 20
	GenBits  = 10
	MaxSlots = 1 << SlotBits

	slotMask = MaxSlots - 1
	genMask  = 1<<GenBits - 1
)

// String table errors.
var (
	ErrTableFull    = errors.New("string table full")
	ErrFreedString  = errors.New("access to released string")
	ErrBadHandle    = errors.New("string handle out of range")
	ErrNotOwned     = errors.New("string is not program owned")
	ErrBufferLength = errors.New("bad string buffer length")
)

// Owner identifies who is responsible for a dynamic string. Engine strings
// are never released, program strings are released by the program or by
// ClearDynamic, and temp strings are recycled through the temp ring.
type Owner uint8

// Owners.
const (
	OwnerNone Owner = iota
	OwnerEngine
	OwnerProgram
	OwnerTemp
)

var ownerNames = [...]string{"none", "engine", "program", "temp"}

// String returns the owner name.
func (o Owner) String() string {
	if int(o) < len(ownerNames) {
		return ownerNames[o]
	}
	return fmt.Sprintf("owner(%d)", o)
}

// Config holds string table limits.
type Config struct {
	// MaxKnownStrings bounds the number of dynamic slots.
	MaxKnownStrings int
	// TempBuffers is the size of the temp string ring.
	TempBuffers int
	// TempLength bounds the length of a temp string.
	TempLength int
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxKnownStrings: MaxSlots,
		TempBuffers:     1024,
		TempLength:      1024,
	}
}

type entry struct {
	str   string
	buf   []byte // writable storage for AllocDynamic strings
	owner Owner
	gen   uint16
}

// Table resolves static and dynamic string handles.
type Table struct {
	cfg     Config
	static  []byte
	entries []entry
	free    []int32

	engine *hashmap.Map[string, int32]

	temps    []int32
	tempNext int

	retired int
}

// New creates a table over the static blob of an image.
func New(static []byte, cfg Config) *Table {
	if cfg.MaxKnownStrings <= 0 || cfg.MaxKnownStrings > MaxSlots {
		cfg.MaxKnownStrings = MaxSlots
	}
	if cfg.TempBuffers <= 0 {
		cfg.TempBuffers = 1
	}
	if cfg.TempLength <= 0 {
		cfg.TempLength = DefaultConfig().TempLength
	}
	return &Table{
		cfg:    cfg,
		static: static,
		engine: hashmap.NewString[int32](),
	}
}

// IsDynamic reports whether h names a dynamic slot.
func IsDynamic(h int32) bool {
	return h < 0
}

func encode(slot int32, gen uint16) int32 {
	return -1 - (slot | int32(gen)<<SlotBits)
}

func decode(h int32) (slot int32, gen uint16) {
	v := -1 - h
	return v & slotMask, uint16(v>>SlotBits) & genMask
}

// Get returns the string named by h.
func (t *Table) Get(h int32) (string, error) {
	if h >= 0 {
		if int(h) > len(t.static) {
			return "", fmt.Errorf("%w: static offset %d, blob is %d bytes", ErrBadHandle, h, len(t.static))
		}
		return t.Static(h), nil
	}
	e, err := t.lookup(h)
	if err != nil {
		return "", err
	}
	if e.buf != nil {
		return cstring(e.buf), nil
	}
	return e.str, nil
}

// Static returns the static string at ofs, or "" if out of range.
func (t *Table) Static(ofs int32) string {
	if ofs < 0 || int(ofs) >= len(t.static) {
		return ""
	}
	return cstring(t.static[ofs:])
}

// Owner returns the owner of a dynamic handle.
func (t *Table) Owner(h int32) (Owner, error) {
	if h >= 0 {
		return OwnerNone, nil
	}
	e, err := t.lookup(h)
	if err != nil {
		return OwnerNone, err
	}
	return e.owner, nil
}

func (t *Table) lookup(h int32) (*entry, error) {
	slot, gen := decode(h)
	if int(slot) >= len(t.entries) {
		return nil, fmt.Errorf("%w: slot %d of %d", ErrBadHandle, slot, len(t.entries))
	}
	e := &t.entries[slot]
	if e.owner == OwnerNone || e.gen != gen {
		return nil, fmt.Errorf("%w: handle %d", ErrFreedString, h)
	}
	return e, nil
}

// alloc reserves a slot, reusing released slots first.
func (t *Table) alloc(owner Owner) (int32, error) {
	if n := len(t.free); n > 0 {
		slot := t.free[n-1]
		t.free = t.free[:n-1]
		t.entries[slot].owner = owner
		return slot, nil
	}
	if len(t.entries) >= t.cfg.MaxKnownStrings {
		return 0, fmt.Errorf("%w: %d strings", ErrTableFull, len(t.entries))
	}
	t.entries = append(t.entries, entry{owner: owner})
	return int32(len(t.entries) - 1), nil
}

// AllocDynamic reserves a zeroed writable buffer of size bytes owned by the
// program. The string value is the buffer up to its first NUL.
func (t *Table) AllocDynamic(size int) (int32, []byte, error) {
	if size <= 0 {
		return 0, nil, fmt.Errorf("%w: %d", ErrBufferLength, size)
	}
	slot, err := t.alloc(OwnerProgram)
	if err != nil {
		return 0, nil, err
	}
	e := &t.entries[slot]
	e.buf = make([]byte, size)
	return encode(slot, e.gen), e.buf, nil
}

// NewDynamic stores a program-owned copy of s.
func (t *Table) NewDynamic(s string) (int32, error) {
	slot, err := t.alloc(OwnerProgram)
	if err != nil {
		return 0, err
	}
	e := &t.entries[slot]
	e.str = s
	return encode(slot, e.gen), nil
}

// EngineString returns a permanent handle for s. Equal strings share a
// handle.
func (t *Table) EngineString(s string) (int32, error) {
	if h, ok := t.engine.Lookup(s); ok {
		return h, nil
	}
	slot, err := t.alloc(OwnerEngine)
	if err != nil {
		return 0, err
	}
	e := &t.entries[slot]
	e.str = s
	h := encode(slot, e.gen)
	t.engine.Insert(s, h)
	return h, nil
}

// TempString stores s in the next slot of the temp ring, truncated to the
// configured length. The handle stays valid until the ring wraps.
func (t *Table) TempString(s string) (int32, error) {
	if len(s) >= t.cfg.TempLength {
		s = s[:t.cfg.TempLength-1]
	}
	pos := t.tempNext
	t.tempNext = (t.tempNext + 1) % t.cfg.TempBuffers

	if pos < len(t.temps) {
		slot := t.temps[pos]
		e := &t.entries[slot]
		if e.owner == OwnerTemp {
			if gen := (e.gen + 1) & genMask; gen != 0 {
				e.gen = gen
				e.str = s
				return encode(slot, e.gen), nil
			}
			*e = entry{}
			t.retired++
		}
	}
	slot, err := t.alloc(OwnerTemp)
	if err != nil {
		return 0, err
	}
	if pos < len(t.temps) {
		t.temps[pos] = slot
	} else {
		t.temps = append(t.temps, slot)
	}
	e := &t.entries[slot]
	e.str = s
	return encode(slot, e.gen), nil
}

// Release frees a program-owned string. Its handle becomes invalid.
func (t *Table) Release(h int32) error {
	if h >= 0 {
		return fmt.Errorf("%w: static handle %d", ErrNotOwned, h)
	}
	e, err := t.lookup(h)
	if err != nil {
		return err
	}
	if e.owner != OwnerProgram {
		return fmt.Errorf("%w: %s string", ErrNotOwned, e.owner)
	}
	slot, _ := decode(h)
	t.release(slot)
	return nil
}

func (t *Table) release(slot int32) {
	e := &t.entries[slot]
	gen := (e.gen + 1) & genMask
	*e = entry{gen: gen}
	if gen == 0 {
		// every generation of this slot has been handed out
		t.retired++
		return
	}
	t.free = append(t.free, slot)
}

// ClearDynamic releases every program-owned string.
func (t *Table) ClearDynamic() {
	for i := range t.entries {
		if t.entries[i].owner == OwnerProgram {
			t.release(int32(i))
		}
	}
}

// Counts returns the number of live dynamic strings per owner.
func (t *Table) Counts() (engine, program, temp int) {
	for _, e := range t.entries {
		switch e.owner {
		case OwnerEngine:
			engine++
		case OwnerProgram:
			program++
		case OwnerTemp:
			temp++
		}
	}
	return engine, program, temp
}

// Slots returns the number of dynamic slots ever allocated.
func (t *Table) Slots() int {
	return len(t.entries)
}

// Retired returns the number of slots withdrawn after using up their
// generations.
func (t *Table) Retired() int {
	return t.retired
}

func cstring(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
