//go:build unix

package page

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MMapArena is a growable, memory-mapped scratch-file backing for
// page storage, used in place of plain Go-heap page slices once a
// build's resident page bytes would exceed the configured buffer
// pool (see internal/buffermon). Capacity is grown geometrically as
// pages are added, and the backing file is a throwaway temp file,
// never the final column/list output (that is still produced by
// File.Flush's positioned writes to the real output path).
type MMapArena struct {
	file     *os.File
	data     []byte
	capacity int // in pages
	used     int // in pages
}

const arenaGrowthFactor = 2

// NewMMapArena creates a scratch-file-backed arena with room for at
// least initialCapacityPages pages.
func NewMMapArena(scratchPath string, initialCapacityPages int) (*MMapArena, error) {
	if initialCapacityPages < 1 {
		initialCapacityPages = 1
	}
	f, err := os.OpenFile(scratchPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("mmap arena: open scratch file: %w", err)
	}
	a := &MMapArena{file: f}
	if err := a.growTo(initialCapacityPages); err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func (a *MMapArena) growTo(capacityPages int) error {
	newSize := int64(capacityPages) * int64(Size)
	if a.data != nil {
		if err := unix.Munmap(a.data); err != nil {
			return fmt.Errorf("mmap arena: unmap for resize: %w", err)
		}
		a.data = nil
	}
	if err := a.file.Truncate(newSize); err != nil {
		return fmt.Errorf("mmap arena: truncate: %w", err)
	}
	data, err := unix.Mmap(int(a.file.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap arena: mmap: %w", err)
	}
	a.data = data
	a.capacity = capacityPages
	return nil
}

// AddPage grows the arena if needed, zeroes the page at logical index
// a.used and returns that index (the value before incrementing).
func (a *MMapArena) AddPage() (int, error) {
	if a.used >= a.capacity {
		if err := a.growTo(a.capacity * arenaGrowthFactor); err != nil {
			return 0, err
		}
	}
	idx := a.used
	a.used++
	clear(a.page(idx))
	return idx, nil
}

func (a *MMapArena) page(idx int) []byte {
	start := idx * Size
	return a.data[start : start+Size]
}

// Page returns the mapped bytes for page idx.
func (a *MMapArena) Page(idx int) []byte {
	return a.page(idx)
}

// NumPages returns the number of pages handed out so far.
func (a *MMapArena) NumPages() int { return a.used }

// Sync flushes dirty pages to the scratch file.
func (a *MMapArena) Sync() error {
	if a.data == nil {
		return nil
	}
	return unix.Msync(a.data, unix.MS_SYNC)
}

// Close unmaps and removes the scratch file.
func (a *MMapArena) Close() error {
	var err error
	if a.data != nil {
		if uerr := unix.Munmap(a.data); uerr != nil {
			err = fmt.Errorf("mmap arena: unmap: %w", uerr)
		}
		a.data = nil
	}
	path := a.file.Name()
	if cerr := a.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("mmap arena: close: %w", cerr)
	}
	os.Remove(path)
	return err
}
