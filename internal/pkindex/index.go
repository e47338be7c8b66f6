// Package pkindex implements the build-time primary-key hash index
// of the graph store: a bucketed, linear-hashing-style table with
// chained overflow slots, mapping a node label's primary key (integer or string) to its
// dense NodeOffset, built once per node label during H's first scan
// and flushed to two parallel files.
package pkindex

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/overflow"
)

// SlotCapacity is the number of entries held directly in one slot
// before an overflow slot is chained on.
const SlotCapacity = 3

// LoadFactor is the primary-slot fill ratio BulkReserve sizes the
// table for; the table is not grown after that.
const LoadFactor = 0.8

type slot struct {
	mu       sync.Mutex
	entries  []entry
	nextOvfl int // -1 if none; index into overflowSlots
}

func newSlot() *slot {
	return &slot{entries: make([]entry, 0, SlotCapacity), nextOvfl: -1}
}

// Index is the build-time primary-key hash index for one node label.
type Index struct {
	level               uint
	levelHashMask       uint64
	higherLevelHashMask uint64
	nextSplitSlotID     uint64

	primary  []*slot
	overflow []*slot // overflow slots, allocated on demand
	ovflMu   sync.Mutex

	count atomic.Int64

	strOverflow *overflow.AppendFile
}

// New creates an empty index. Call BulkReserve before any concurrent
// Append; resizing is disallowed during parallel insert, so the
// caller must reserve capacity up front.
func New() *Index {
	return &Index{strOverflow: overflow.NewAppendFile()}
}

// BulkReserve pre-sizes the primary slot table for an expected n
// entries at the configured load factor.
func (idx *Index) BulkReserve(n int) {
	if n < 1 {
		n = 1
	}
	requiredSlots := uint64(ceilDiv(float64(n), float64(SlotCapacity)*LoadFactor))
	if requiredSlots < 1 {
		requiredSlots = 1
	}

	level := uint(0)
	for (uint64(1) << (level + 1)) < requiredSlots {
		level++
	}
	idx.level = level
	idx.levelHashMask = (uint64(1) << level) - 1
	idx.higherLevelHashMask = (uint64(1) << (level + 1)) - 1
	pow := uint64(1) << level
	if requiredSlots > pow {
		idx.nextSplitSlotID = requiredSlots - pow
	} else {
		idx.nextSplitSlotID = 0
	}

	total := pow
	if idx.nextSplitSlotID > 0 {
		total = requiredSlots
	}
	idx.primary = make([]*slot, total)
	for i := range idx.primary {
		idx.primary[i] = newSlot()
	}
}

func ceilDiv(a, b float64) uint64 {
	v := a / b
	u := uint64(v)
	if float64(u) < v {
		u++
	}
	return u
}

func (idx *Index) slotIDFor(h uint64) uint64 {
	slotID := h & idx.levelHashMask
	if slotID < idx.nextSplitSlotID {
		slotID = h & idx.higherLevelHashMask
	}
	return slotID
}

func toEntry(key Key, offset uint64, strOverflow *overflow.AppendFile) (entry, error) {
	switch k := key.(type) {
	case IntKey:
		return entry{isString: false, intKey: uint64(k), offset: offset}, nil
	case StringKey:
		is, err := strOverflow.AppendString([]byte(k))
		if err != nil {
			return entry{}, err
		}
		return entry{isString: true, strInfo: is, offset: offset}, nil
	default:
		return entry{}, loaderr.Newf(loaderr.Internal, "unsupported key type %T", key)
	}
}

func entryMatches(e entry, key Key) bool {
	k, ok := key.(IntKey)
	return ok && !e.isString && e.intKey == uint64(k)
}

// Append inserts (key, offset). Returns false (no error) on a
// duplicate key; the node builder turns that into a
// ConstraintViolation.
func (idx *Index) Append(key Key, offset uint64) (bool, error) {
	h := key.Hash()
	slotID := idx.slotIDFor(h)
	if slotID >= uint64(len(idx.primary)) {
		return false, loaderr.Newf(loaderr.Internal, "slot id %d out of range (table has %d slots)", slotID, len(idx.primary))
	}

	e, err := toEntry(key, offset, idx.strOverflow)
	if err != nil {
		return false, err
	}

	s := idx.primary[slotID]
	for {
		s.mu.Lock()
		if idx.duplicateInSlot(s, key, e) {
			s.mu.Unlock()
			return false, nil
		}
		if len(s.entries) < SlotCapacity {
			s.entries = append(s.entries, e)
			s.mu.Unlock()
			idx.count.Add(1)
			return true, nil
		}
		nextID := s.nextOvfl
		s.mu.Unlock()

		if nextID == -1 {
			newID, err := idx.allocOverflowSlot(slotID, s)
			if err != nil {
				return false, err
			}
			s = idx.overflow[newID]
			continue
		}
		s = idx.overflow[nextID]
	}
}

// duplicateInSlot checks whether key already exists in the *exact*
// long-string overflow representation (not just decoded inline bytes)
// when the entry is an overflow-form string.
func (idx *Index) duplicateInSlot(s *slot, key Key, candidate entry) bool {
	for _, existing := range s.entries {
		if existing.isString && candidate.isString {
			if idx.stringKeyEqual(existing.strInfo, key) {
				return true
			}
			continue
		}
		if entryMatches(existing, key) {
			return true
		}
	}
	return false
}

func (idx *Index) stringKeyEqual(stored overflow.InlineString, key Key) bool {
	sk, ok := key.(StringKey)
	if !ok {
		return false
	}
	raw := idx.strOverflow.ReadString(stored)
	return string(raw) == string(sk)
}

// allocOverflowSlot allocates a new overflow slot and chains it onto
// tail, under a single global overflow-allocation mutex, the one
// piece of this index that is NOT per-slot lock-free.
func (idx *Index) allocOverflowSlot(primarySlotID uint64, tail *slot) (int, error) {
	idx.ovflMu.Lock()
	defer idx.ovflMu.Unlock()

	// Re-check under the global lock: another goroutine may have
	// already chained an overflow slot onto tail while we waited.
	tail.mu.Lock()
	if tail.nextOvfl != -1 {
		id := tail.nextOvfl
		tail.mu.Unlock()
		return id, nil
	}
	ns := newSlot()
	idx.overflow = append(idx.overflow, ns)
	id := len(idx.overflow) - 1
	tail.nextOvfl = id
	tail.mu.Unlock()
	return id, nil
}

// Lookup returns the NodeOffset for key, or (0, false) if absent.
// Provided for the rel builders' endpoint resolution and for tests;
// the on-disk reader lives outside this module's scope.
func (idx *Index) Lookup(key Key) (uint64, bool) {
	h := key.Hash()
	slotID := idx.slotIDFor(h)
	if slotID >= uint64(len(idx.primary)) {
		return 0, false
	}
	s := idx.primary[slotID]
	for s != nil {
		s.mu.Lock()
		for _, e := range s.entries {
			if idx.entryEqualsKey(e, key) {
				off := e.offset
				s.mu.Unlock()
				return off, true
			}
		}
		next := s.nextOvfl
		s.mu.Unlock()
		if next == -1 {
			return 0, false
		}
		s = idx.overflow[next]
	}
	return 0, false
}

func (idx *Index) entryEqualsKey(e entry, key Key) bool {
	if _, ok := key.(StringKey); ok {
		return e.isString && idx.stringKeyEqual(e.strInfo, key)
	}
	return entryMatches(e, key)
}

// Count returns the number of successfully inserted entries.
func (idx *Index) Count() int64 { return idx.count.Load() }

// Flush writes the key pages and (for string keys) the overflow file.
// The on-disk layout is intentionally simple (this module has no
// reader component in scope): a header page, then one page per
// primary slot followed by one per overflow slot, each holding the
// slot's entry count, SlotCapacity fixed-width records and its
// overflow-chain link (see writeKeyPages).
func (idx *Index) Flush(ctx context.Context, keyPath, overflowPath string) error {
	if err := idx.strOverflow.Pages().Flush(ctx, overflowPath); err != nil {
		return loaderr.Wrap(loaderr.IO, err, "flush primary key overflow file")
	}
	if err := writeKeyPages(ctx, keyPath, idx); err != nil {
		return loaderr.Wrap(loaderr.IO, err, "flush primary key index")
	}
	return nil
}
