// Package edict implements the entity store used by the interpreter.
//
// Entities are addressed by index everywhere outside the store. Headers live
// in one slice and the per-entity field blocks in one flat cell arena, so an
// entity's field at offset ofs is cell index*FieldCells()+ofs. Growing the
// store may move both backing arrays; callers re-resolve by index after any
// allocation.
//
// Entity 0 is the world and is never handed out or freed. Freed entities are
// appended to the tail of a free list and only reused from its head once they
// have been free long enough, so a slot removed during a frame is not handed
// back to code running later in the same frame.
package edict

import (
	"errors"
	"fmt"

	"github.com/fortiblox/qcvm/internal/types"
)

// Store errors.
var (
	ErrNoFreeEdicts = errors.New("no free edicts")
	ErrBadEdict     = errors.New("edict index out of range")
	ErrReserved     = errors.New("edict is reserved")
)

// MaxEntLeafs bounds the leaf list kept per entity.
const MaxEntLeafs = 32

// none marks an empty free-list link.
const none = -1

// Config contains entity store limits.
type Config struct {
	// MaxEdicts bounds the number of entities, world included.
	MaxEdicts int

	// MinEdicts is the table size reached by growth before freed slots are
	// reused. Loading a save that expects fixed indices relies on it.
	MinEdicts int

	// ReservedEdicts is the number of leading slots, world included, that
	// Allocate never returns. Client entities live there.
	ReservedEdicts int

	// Quarantine is the time in seconds a freed entity waits before reuse.
	Quarantine float32

	// StartupGrace disables the quarantine for entities freed before this
	// time, so map spawning can recycle slots immediately.
	StartupGrace float32
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		MaxEdicts:      8192,
		MinEdicts:      0,
		ReservedEdicts: 1,
		Quarantine:     0.5,
		StartupGrace:   2,
	}
}

// State is a network baseline snapshot.
type State struct {
	Origin     types.Vec3
	Angles     types.Vec3
	ModelIndex uint16
	Frame      uint16
	Colormap   uint8
	Skin       uint8
	Alpha      uint8
	Effects    int32
}

// Header is the engine-side part of an entity.
type Header struct {
	Free     bool
	FreeTime float32

	// free-list links
	prev, next int32

	// area links, maintained by the world collaborator
	AreaPrev, AreaNext int32

	NumLeafs int
	LeafNums [MaxEntLeafs]int32

	Baseline     State
	Alpha        uint8
	SendInterval bool

	// prediction cache
	OldFrame     float32
	OldThinkTime float32
	PredThinkPos types.Vec3
	LastThink    float32
}

// Store holds every entity of one VM.
type Store struct {
	cfg        Config
	fieldCells int

	headers []Header
	fields  []uint32

	freeHead int32
	freeTail int32
	numFree  int
}

// New creates a store whose entities carry fieldCells cells of fields. The
// world and the reserved slots are allocated immediately.
func New(fieldCells int, cfg Config) *Store {
	if cfg.ReservedEdicts < 1 {
		cfg.ReservedEdicts = 1
	}
	if cfg.MaxEdicts < cfg.ReservedEdicts {
		cfg.MaxEdicts = cfg.ReservedEdicts
	}
	s := &Store{cfg: cfg, fieldCells: fieldCells}
	s.Clear()
	return s
}

// Clear frees every entity and resets the table to the reserved slots.
func (s *Store) Clear() {
	n := s.cfg.ReservedEdicts
	s.headers = make([]Header, n, max(n, 64))
	s.fields = make([]uint32, n*s.fieldCells, max(n, 64)*s.fieldCells)
	for i := range s.headers {
		s.headers[i].prev, s.headers[i].next = none, none
	}
	s.freeHead, s.freeTail = none, none
	s.numFree = 0
}

// FieldCells returns the number of field cells per entity.
func (s *Store) FieldCells() int {
	return s.fieldCells
}

// NumEdicts returns the size of the table, free entities included.
func (s *Store) NumEdicts() int {
	return len(s.headers)
}

// Config returns the store limits.
func (s *Store) Config() Config {
	return s.cfg
}

// Cells returns the flat field arena. The slice is invalidated by Allocate.
func (s *Store) Cells() []uint32 {
	return s.fields
}

// Allocate returns a zeroed entity at time now.
func (s *Store) Allocate(now float32) (int, error) {
	if len(s.headers) >= s.cfg.MinEdicts && s.freeHead != none {
		head := s.freeHead
		h := &s.headers[head]
		if h.FreeTime < s.cfg.StartupGrace || now-h.FreeTime > s.cfg.Quarantine {
			s.unlink(head)
			s.reset(int(head))
			return int(head), nil
		}
	}

	if len(s.headers) >= s.cfg.MaxEdicts {
		return 0, fmt.Errorf("%w: %d in use", ErrNoFreeEdicts, len(s.headers))
	}
	n := len(s.headers)
	s.headers = append(s.headers, Header{prev: none, next: none})
	s.fields = append(s.fields, make([]uint32, s.fieldCells)...)
	return n, nil
}

// Free releases entity n at time now. Freeing an already free entity is a
// no-op.
func (s *Store) Free(n int, now float32) error {
	if err := s.check(n); err != nil {
		return err
	}
	if n < s.cfg.ReservedEdicts {
		return fmt.Errorf("%w: %d", ErrReserved, n)
	}
	h := &s.headers[n]
	if h.Free {
		return nil
	}
	s.reset(n)
	h.Free = true
	h.FreeTime = now

	h.prev, h.next = s.freeTail, none
	if s.freeTail != none {
		s.headers[s.freeTail].next = int32(n)
	} else {
		s.freeHead = int32(n)
	}
	s.freeTail = int32(n)
	s.numFree++
	return nil
}

// Restore makes entity n active and zeroed regardless of its current state,
// growing the table with free entities as needed. Restoring a saved game
// uses it to place entities at their saved numbers.
func (s *Store) Restore(n int) error {
	if n < 0 || n >= s.cfg.MaxEdicts {
		return fmt.Errorf("%w: %d of %d", ErrBadEdict, n, s.cfg.MaxEdicts)
	}
	for len(s.headers) <= n {
		i := len(s.headers)
		s.headers = append(s.headers, Header{prev: none, next: none})
		s.fields = append(s.fields, make([]uint32, s.fieldCells)...)
		if i < n {
			if err := s.Free(i, 0); err != nil {
				return err
			}
		}
	}
	if s.headers[n].Free {
		s.unlink(int32(n))
	}
	s.reset(n)
	return nil
}

func (s *Store) unlink(n int32) {
	h := &s.headers[n]
	if h.prev != none {
		s.headers[h.prev].next = h.next
	} else {
		s.freeHead = h.next
	}
	if h.next != none {
		s.headers[h.next].prev = h.prev
	} else {
		s.freeTail = h.prev
	}
	h.prev, h.next = none, none
	s.numFree--
}

// reset zeroes entity n's header state and fields, keeping list links.
func (s *Store) reset(n int) {
	h := &s.headers[n]
	prev, next := h.prev, h.next
	*h = Header{prev: prev, next: next}
	clear(s.fields[n*s.fieldCells : (n+1)*s.fieldCells])
}

func (s *Store) check(n int) error {
	if n < 0 || n >= len(s.headers) {
		return fmt.Errorf("%w: %d of %d", ErrBadEdict, n, len(s.headers))
	}
	return nil
}

// Header returns the header of entity n.
func (s *Store) Header(n int) (*Header, error) {
	if err := s.check(n); err != nil {
		return nil, err
	}
	return &s.headers[n], nil
}

// Fields returns the field block of entity n.
func (s *Store) Fields(n int) ([]uint32, error) {
	if err := s.check(n); err != nil {
		return nil, err
	}
	return s.fields[n*s.fieldCells : (n+1)*s.fieldCells : (n+1)*s.fieldCells], nil
}

// IsFree reports whether entity n is free. Out-of-range indices count as
// free.
func (s *Store) IsFree(n int) bool {
	if n < 0 || n >= len(s.headers) {
		return true
	}
	return s.headers[n].Free
}

// Count returns the number of active and free entities.
func (s *Store) Count() (active, free int) {
	return len(s.headers) - s.numFree, s.numFree
}

// CountActive returns the number of entities in use, world included.
func (s *Store) CountActive() int {
	return len(s.headers) - s.numFree
}

// Next returns the first active entity after n, or 0 when there is none.
func (s *Store) Next(n int) int {
	for i := n + 1; i < len(s.headers); i++ {
		if !s.headers[i].Free {
			return i
		}
	}
	return 0
}

// ForEach calls fn for every active entity after the world until fn
// returns false.
func (s *Store) ForEach(fn func(n int) bool) {
	for i := 1; i < len(s.headers); i++ {
		if s.headers[i].Free {
			continue
		}
		if !fn(i) {
			return
		}
	}
}

// Pointer returns the arena cell index of field ofs on entity n.
func (s *Store) Pointer(n, ofs int) (int, error) {
	if err := s.check(n); err != nil {
		return 0, err
	}
	if ofs < 0 || ofs >= s.fieldCells {
		return 0, fmt.Errorf("%w: field %d of %d", ErrBadEdict, ofs, s.fieldCells)
	}
	return n*s.fieldCells + ofs, nil
}
