//go:build !unix

package page

import "fmt"

// MMapArena is unavailable on non-unix targets; builds that request
// mmap-backed paging on such platforms fall back to in-memory slices.
type MMapArena struct{}

func NewMMapArena(scratchPath string, initialCapacityPages int) (*MMapArena, error) {
	return nil, fmt.Errorf("mmap arena: unsupported on this platform")
}

func (a *MMapArena) AddPage() (int, error) { return 0, fmt.Errorf("mmap arena: unsupported") }
func (a *MMapArena) Page(idx int) []byte   { return nil }
func (a *MMapArena) NumPages() int         { return 0 }
func (a *MMapArena) Sync() error           { return nil }
func (a *MMapArena) Close() error          { return nil }
