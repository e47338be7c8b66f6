package page

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
)

// MemoryTracker accounts estimated resident page bytes against a
// configured budget. *buffermon.Monitor implements it.
type MemoryTracker interface {
	// Reserve records n more estimated resident bytes and reports
	// whether the running total is still within budget.
	Reserve(n int64) bool
	// Release gives back a prior reservation.
	Release(n int64)
}

// Allocator decides how each new paged file is backed: Go-heap slices
// while the tracked resident bytes stay within budget, an mmap-backed
// scratch arena once a new file's estimated footprint would push past
// it. A nil *Allocator (or one with no tracker) always heap-allocates,
// so builders can thread one through unconditionally.
type Allocator struct {
	tracker    MemoryTracker
	scratchDir string
	seq        atomic.Int64
}

// NewAllocator creates an Allocator charging allocations to tracker
// and placing arena scratch files under scratchDir.
func NewAllocator(tracker MemoryTracker, scratchDir string) *Allocator {
	return &Allocator{tracker: tracker, scratchDir: scratchDir}
}

// NewFile allocates a paged file pre-sized to numPages pages. The
// estimated footprint is reserved with the tracker before choosing a
// backing; if the reservation reports the budget exceeded, the
// reservation is returned and the file is backed by a scratch-file
// mmap arena instead of the heap (arena pages are the kernel's to
// evict, not resident heap). If no arena is available on this
// platform, the file stays on the heap and the reservation stands, so
// the books keep reflecting what is actually resident.
func (a *Allocator) NewFile(bytesPerElement int, hasNullMask bool, numPages int) *File {
	if numPages < 1 {
		numPages = 1
	}
	if a == nil || a.tracker == nil {
		return a.heapFile(bytesPerElement, hasNullMask, numPages)
	}
	estimated := int64(numPages) * Size
	if a.tracker.Reserve(estimated) {
		return a.heapFile(bytesPerElement, hasNullMask, numPages)
	}
	a.tracker.Release(estimated)
	scratch := filepath.Join(a.scratchDir, fmt.Sprintf("scratch-%d.pages", a.seq.Add(1)))
	f, err := NewArenaBacked(bytesPerElement, hasNullMask, scratch, numPages)
	if err != nil {
		a.tracker.Reserve(estimated)
		return a.heapFile(bytesPerElement, hasNullMask, numPages)
	}
	return f
}

func (a *Allocator) heapFile(bytesPerElement int, hasNullMask bool, numPages int) *File {
	f := New(bytesPerElement, hasNullMask, 0)
	f.EnsurePages(numPages)
	return f
}

// ElementsPerPageFor reports how many fixed-width elements fit in one
// page under the given layout, without allocating a file. Builders use
// it to size list metadata before asking an Allocator for the backing
// pages.
func ElementsPerPageFor(bytesPerElement int, hasNullMask bool) int {
	epp, _ := computeLayout(bytesPerElement, hasNullMask)
	return epp
}
