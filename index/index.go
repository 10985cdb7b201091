// Package index holds entity hypervectors in memory and answers
// Hamming-similarity nearest-neighbor queries over them.
//
// Writes build a fresh immutable snapshot and publish it atomically, so a
// concurrent search never observes a half-written update. Readers take the
// current snapshot and scan it without locking; at the intended scale
// (~100k entities) a flat linear scan is faster than any auxiliary
// structure would pay for.
package index

import (
	"errors"
	"sync"
	"sync/atomic"

	"resonance/hvec"
)

var (
	// ErrDimensionMismatch is returned when a hypervector's bit width does
	// not match the width the index was created with. Vectors are never
	// truncated or padded to fit.
	ErrDimensionMismatch = errors.New("index: hypervector bit width mismatch")

	// ErrWriteConflict is returned when another write is in flight.
	// The caller should retry the write; reads are unaffected.
	ErrWriteConflict = errors.New("index: concurrent write in progress")

	// ErrEntityExists is returned by Insert for an already-registered id.
	ErrEntityExists = errors.New("index: entity already exists")

	// ErrEntityUnknown is returned by Update for an unregistered id.
	ErrEntityUnknown = errors.New("index: entity not found")
)

// Index maps entity ids to binary hypervectors of a fixed bit width.
//
// All methods are safe for concurrent use. Writes are serialized against
// each other and never block reads; each write replaces the published
// snapshot in one atomic swap.
type Index struct {
	bits    int
	writeMu sync.Mutex
	view    atomic.Pointer[Snapshot]
}

// New creates an empty Index for hypervectors of the given bit width.
// All vectors stored in one index must come from the same projection
// (same bit width and same seed); the width is checked on every write,
// the seed discipline is the owning engine's responsibility.
func New(bits int) *Index {
	if bits <= 0 {
		panic("index: bits must be positive")
	}
	idx := &Index{bits: bits}
	idx.view.Store(&Snapshot{
		bits: bits,
		byID: map[string]int{},
	})
	return idx
}

// Bits returns the configured hypervector bit width.
func (idx *Index) Bits() int { return idx.bits }

// Len returns the number of entities in the current snapshot.
func (idx *Index) Len() int { return len(idx.view.Load().ids) }

// Snapshot returns the current immutable view. The returned snapshot is
// stable: later writes publish new snapshots and never mutate this one.
func (idx *Index) Snapshot() *Snapshot { return idx.view.Load() }

// Insert adds a new entity. Returns ErrEntityExists if the id is already
// registered and ErrDimensionMismatch if the vector width is wrong.
func (idx *Index) Insert(entityID string, v hvec.Vector) error {
	if err := idx.check(v); err != nil {
		return err
	}
	if !idx.writeMu.TryLock() {
		return ErrWriteConflict
	}
	defer idx.writeMu.Unlock()

	cur := idx.view.Load()
	if _, ok := cur.byID[entityID]; ok {
		return ErrEntityExists
	}
	next := cur.clone(1)
	next.byID[entityID] = len(next.ids)
	next.ids = append(next.ids, entityID)
	next.vecs = append(next.vecs, v)
	idx.view.Store(next)
	return nil
}

// Update atomically replaces an existing entity's hypervector.
// Returns ErrEntityUnknown if the id is not registered.
func (idx *Index) Update(entityID string, v hvec.Vector) error {
	if err := idx.check(v); err != nil {
		return err
	}
	if !idx.writeMu.TryLock() {
		return ErrWriteConflict
	}
	defer idx.writeMu.Unlock()

	cur := idx.view.Load()
	slot, ok := cur.byID[entityID]
	if !ok {
		return ErrEntityUnknown
	}
	next := cur.clone(0)
	next.vecs[slot] = v
	idx.view.Store(next)
	return nil
}

// Remove drops an entity. The removed flag reports whether the id existed.
func (idx *Index) Remove(entityID string) (removed bool, err error) {
	if !idx.writeMu.TryLock() {
		return false, ErrWriteConflict
	}
	defer idx.writeMu.Unlock()

	cur := idx.view.Load()
	slot, ok := cur.byID[entityID]
	if !ok {
		return false, nil
	}

	next := &Snapshot{
		bits: cur.bits,
		ids:  make([]string, 0, len(cur.ids)-1),
		vecs: make([]hvec.Vector, 0, len(cur.vecs)-1),
		byID: make(map[string]int, len(cur.byID)-1),
	}
	for i := range cur.ids {
		if i == slot {
			continue
		}
		next.byID[cur.ids[i]] = len(next.ids)
		next.ids = append(next.ids, cur.ids[i])
		next.vecs = append(next.vecs, cur.vecs[i])
	}
	idx.view.Store(next)
	return true, nil
}

func (idx *Index) check(v hvec.Vector) error {
	if v.Bits() != idx.bits {
		return ErrDimensionMismatch
	}
	return nil
}

// Snapshot is an immutable point-in-time view of the index: a contiguous
// arena of entity ids and their hypervectors plus an id-to-slot map.
type Snapshot struct {
	bits int
	ids  []string
	vecs []hvec.Vector
	byID map[string]int
}

// Bits returns the snapshot's hypervector bit width.
func (s *Snapshot) Bits() int { return s.bits }

// Len returns the number of entities in the snapshot.
func (s *Snapshot) Len() int { return len(s.ids) }

// Contains reports whether the snapshot holds the given entity.
func (s *Snapshot) Contains(entityID string) bool {
	_, ok := s.byID[entityID]
	return ok
}

// Vector returns the hypervector stored for an entity.
func (s *Snapshot) Vector(entityID string) (hvec.Vector, bool) {
	slot, ok := s.byID[entityID]
	if !ok {
		return hvec.Vector{}, false
	}
	return s.vecs[slot], true
}

// clone copies the snapshot with room for extra appended entries.
// Vectors are immutable, so only the slice headers and the map are copied.
func (s *Snapshot) clone(extra int) *Snapshot {
	next := &Snapshot{
		bits: s.bits,
		ids:  make([]string, len(s.ids), len(s.ids)+extra),
		vecs: make([]hvec.Vector, len(s.vecs), len(s.vecs)+extra),
		byID: make(map[string]int, len(s.byID)+extra),
	}
	copy(next.ids, s.ids)
	copy(next.vecs, s.vecs)
	for id, slot := range s.byID {
		next.byID[id] = slot
	}
	return next
}
