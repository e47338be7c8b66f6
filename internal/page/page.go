// Package page implements the paged in-memory file: a growable
// sequence of fixed 4 KiB pages held in RAM during the build and
// flushed to disk as one contiguous file.
package page

import (
	"context"
	"sync"

	"github.com/colgraph/bulkload/internal/loaderr"
)

// Size is the fixed page size in bytes.
const Size = 4096

// Chunk is the number of consecutive node offsets whose small lists
// share a page run.
const Chunk = 512

// File is a paged, in-memory, append-only file. Pages are allocated
// with AddPage and addressed by their logical index thereafter.
// Concurrency: AddPage is mutex-serialized; Write to already-allocated
// pages requires no locking as long as concurrent writers touch
// disjoint byte ranges; callers are responsible for that disjointness
// (the list-metadata builder and the reverse-position reservoir are
// what make it hold).
type File struct {
	mu              sync.Mutex
	bytesPerElement int
	hasNullMask     bool
	elementsPerPage int
	nullMaskBytes   int
	pages           [][]byte
	arena           *MMapArena // non-nil when this file is arena-backed
}

// New creates a paged file for a given element width. When hasNullMask
// is true, elementsPerPage accounts for a trailing null-bitmap region
// (ceil(elementsPerPage/8) bytes) reserved at the end of every page.
func New(bytesPerElement int, hasNullMask bool, initialPages int) *File {
	f := &File{
		bytesPerElement: bytesPerElement,
		hasNullMask:     hasNullMask,
	}
	f.elementsPerPage, f.nullMaskBytes = computeLayout(bytesPerElement, hasNullMask)
	for i := 0; i < initialPages; i++ {
		f.AddPage(true)
	}
	return f
}

// NewArenaBacked is like New but backs pages with a memory-mapped
// scratch file instead of Go-heap slices, for builds constrained by
// --buffer-pool-size (see internal/buffermon). scratchPath identifies
// a private temp file that is removed when the caller later discards
// the arena (callers own the arena's lifetime via File.CloseArena).
func NewArenaBacked(bytesPerElement int, hasNullMask bool, scratchPath string, initialPages int) (*File, error) {
	if initialPages < 1 {
		initialPages = 1
	}
	arena, err := NewMMapArena(scratchPath, initialPages)
	if err != nil {
		return nil, err
	}
	f := &File{
		bytesPerElement: bytesPerElement,
		hasNullMask:     hasNullMask,
		arena:           arena,
	}
	f.elementsPerPage, f.nullMaskBytes = computeLayout(bytesPerElement, hasNullMask)
	for i := 0; i < initialPages; i++ {
		f.AddPage(true)
	}
	return f, nil
}

// CloseArena releases the backing mmap arena, if this file is
// arena-backed. A no-op for plain in-memory files.
func (f *File) CloseArena() error {
	if f.arena == nil {
		return nil
	}
	return f.arena.Close()
}

func computeLayout(bytesPerElement int, hasNullMask bool) (elementsPerPage, nullMaskBytes int) {
	if !hasNullMask {
		return Size / bytesPerElement, 0
	}
	// Solve for the largest n such that n*bytesPerElement + ceil(n/8) <= Size.
	n := Size / bytesPerElement
	for n > 0 {
		mask := (n + 7) / 8
		if n*bytesPerElement+mask <= Size {
			return n, mask
		}
		n--
	}
	return 0, 0
}

// ElementsPerPage returns the number of fixed-width elements that fit
// in one page under this file's layout.
func (f *File) ElementsPerPage() int { return f.elementsPerPage }

// NullMaskBytes returns the number of trailing null-bitmap bytes
// reserved per page (0 if this file has no null mask).
func (f *File) NullMaskBytes() int { return f.nullMaskBytes }

// NumPages returns the number of pages currently allocated.
func (f *File) NumPages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.arena != nil {
		return f.arena.NumPages()
	}
	return len(f.pages)
}

// AddPage allocates and returns the index of a new page. zero
// controls whether the new page's backing bytes are explicitly
// zeroed (Go slices from make are already zero-valued, so this is
// mostly documentation of intent at call sites).
func (f *File) AddPage(zero bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.arena != nil {
		idx, err := f.arena.AddPage()
		if err != nil {
			// Arena growth failure returns -1 rather than panicking;
			// a later Write to page -1 then fails Write's bounds
			// check.
			return -1
		}
		return idx
	}
	p := make([]byte, Size)
	f.pages = append(f.pages, p)
	return len(f.pages) - 1
}

// EnsurePages grows the file so that pages [0, n) all exist.
func (f *File) EnsurePages(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.arena != nil {
		for f.arena.NumPages() < n {
			f.arena.AddPage()
		}
		return
	}
	for len(f.pages) < n {
		f.pages = append(f.pages, make([]byte, Size))
	}
}

// Write copies data into page pageIdx starting at byteOffset. The
// caller must guarantee byteOffset+len(data) <= Size-nullMaskBytes;
// this is a plain memcpy into a disjoint range, not synchronized.
func (f *File) Write(pageIdx int, byteOffset int, data []byte) error {
	f.mu.Lock()
	p := f.pageUnlocked(pageIdx)
	f.mu.Unlock()
	if p == nil {
		return loaderr.Newf(loaderr.Internal, "page %d not allocated", pageIdx)
	}
	if byteOffset < 0 || byteOffset+len(data) > Size {
		return loaderr.Newf(loaderr.Internal, "write out of page bounds: page=%d off=%d len=%d", pageIdx, byteOffset, len(data))
	}
	copy(p[byteOffset:], data)
	return nil
}

// SetNullBit sets bit elemIdx (LSB-first) of pageIdx's trailing
// null-bitmap region.
func (f *File) SetNullBit(pageIdx int, elemIdx int) error {
	f.mu.Lock()
	p := f.pageUnlocked(pageIdx)
	f.mu.Unlock()
	if p == nil {
		return loaderr.Newf(loaderr.Internal, "page %d not allocated", pageIdx)
	}
	maskStart := Size - f.nullMaskBytes
	byteIdx := maskStart + elemIdx/8
	bit := byte(1) << uint(elemIdx%8)
	p[byteIdx] |= bit
	return nil
}

func (f *File) pageUnlocked(pageIdx int) []byte {
	if f.arena != nil {
		if pageIdx < 0 || pageIdx >= f.arena.NumPages() {
			return nil
		}
		return f.arena.Page(pageIdx)
	}
	if pageIdx < 0 || pageIdx >= len(f.pages) {
		return nil
	}
	return f.pages[pageIdx]
}

// Page returns the raw bytes for pageIdx (read-only use expected).
func (f *File) Page(pageIdx int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageUnlocked(pageIdx)
}

// Flush writes every page to path, in logical index order, starting
// at file offset 0. See flush_unix.go for the positioned-write
// implementation used to parallelize this across pages.
func (f *File) Flush(ctx context.Context, path string) error {
	pages := f.pages
	if f.arena != nil {
		pages = make([][]byte, f.arena.NumPages())
		for i := range pages {
			pages[i] = f.arena.Page(i)
		}
	}
	return flushPages(ctx, path, pages)
}
