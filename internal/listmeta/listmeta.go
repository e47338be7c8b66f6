// Package listmeta implements the list metadata builder: a single
// sequential pass that assigns physical page indices to every chunk's
// small-list page run and every large list's dedicated page run, and
// the derived Locate function that turns (header, position) into a
// concrete (physical page, byte offset) address.
package listmeta

import (
	"context"
	"encoding/binary"

	"github.com/colgraph/bulkload/internal/listheader"
	"github.com/colgraph/bulkload/internal/page"
	"github.com/colgraph/bulkload/internal/types"
)

const chunkSize = 512

// Metadata is the per-direction, per-source-label page map produced
// by Build.
type Metadata struct {
	// ChunkPages[c] lists the physical pages backing chunk c's small
	// lists, in page-run order. A chunk with no small-list content at
	// all (pageId==0 && csrInPage==0 at the end of its walk) keeps a
	// nil entry.
	ChunkPages [][]uint32
	// LargeListPages[i][0] is list i's element count; LargeListPages[i][1:]
	// are its physical pages.
	LargeListPages [][]uint32
	NumPages       uint64
}

// Build runs the single sequential page-assignment pass over
// sizes/headers for one (direction, source-label) list structure.
func Build(sizes []uint64, headers []listheader.Header, elementsPerPage int) *Metadata {
	numChunks := (len(sizes) + chunkSize - 1) / chunkSize
	meta := &Metadata{
		ChunkPages:     make([][]uint32, numChunks),
		LargeListPages: nil,
	}

	var global uint64
	for c := 0; c < numChunks; c++ {
		start := c * chunkSize
		end := start + chunkSize
		if end > len(sizes) {
			end = len(sizes)
		}
		var pageID uint32
		var csrInPage uint64

		for n := start; n < end; n++ {
			h := headers[n]
			if h.Large() {
				idx := h.LargeIndex()
				numPages := ceilDiv(sizes[n], uint64(elementsPerPage))
				if int(idx) >= len(meta.LargeListPages) {
					grown := make([][]uint32, idx+1)
					copy(grown, meta.LargeListPages)
					meta.LargeListPages = grown
				}
				entry := make([]uint32, 1+numPages)
				entry[0] = uint32(sizes[n])
				for i := uint64(0); i < numPages; i++ {
					entry[1+i] = uint32(global + i)
				}
				meta.LargeListPages[idx] = entry
				global += numPages
				continue
			}

			// Same advance-before-placing rule as the header encoder: a
			// small list that would not fit in the current page starts on
			// the next one, leaving the tail of the current page unused.
			size := sizes[n]
			if size > 0 && csrInPage+size > uint64(elementsPerPage) {
				pageID++
				csrInPage = 0
			}
			csrInPage += size
		}

		if pageID != 0 || csrInPage != 0 {
			run := make([]uint32, pageID+1)
			for i := uint32(0); i <= pageID; i++ {
				run[i] = uint32(global) + i
			}
			meta.ChunkPages[c] = run
			global += uint64(pageID) + 1
		}
	}

	meta.NumPages = global
	return meta
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Locate resolves a logical (header, position-within-list) pair to a
// physical (page, byte-offset) address.
func Locate(h listheader.Header, pos uint64, n types.NodeOffset, elementsPerPage int, meta *Metadata, bytesPerElement int) (physicalPage uint32, offsetInPage int) {
	if h.Large() {
		pageInList := pos / uint64(elementsPerPage)
		physicalPage = meta.LargeListPages[h.LargeIndex()][1+pageInList]
		offsetInPage = int(pos%uint64(elementsPerPage)) * bytesPerElement
		return
	}
	absolute := h.CSR() + pos
	c := uint64(n) / chunkSize
	physicalPage = meta.ChunkPages[c][absolute/uint64(elementsPerPage)]
	offsetInPage = int(absolute%uint64(elementsPerPage)) * bytesPerElement
	return
}

// WriteMetadata flushes meta's chunk and large-list page maps to path
// as a flat little-endian record, in the fixed field order readers
// depend on: chunk count (u64), each chunk's page run as a nested u32
// list (len:u32 then payload), large-list count (u64), each large
// list's entry as a nested u32 list (element count followed by its
// page run), and finally the total page count (u64).
func WriteMetadata(ctx context.Context, path string, meta *Metadata) error {
	buf := make([]byte, 0, 16+len(meta.ChunkPages)*16)

	var u64 [8]byte
	appendU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(u64[:], v)
		buf = append(buf, u64[:]...)
	}
	appendU32 := func(v uint32) {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], v)
		buf = append(buf, b[:]...)
	}

	appendU64(uint64(len(meta.ChunkPages)))
	for _, run := range meta.ChunkPages {
		appendU32(uint32(len(run)))
		for _, p := range run {
			appendU32(p)
		}
	}
	appendU64(uint64(len(meta.LargeListPages)))
	for _, entry := range meta.LargeListPages {
		appendU32(uint32(len(entry)))
		for _, v := range entry {
			appendU32(v)
		}
	}
	appendU64(meta.NumPages)

	pf := page.New(1, false, 0)
	pf.EnsurePages((len(buf) + page.Size - 1) / page.Size)
	for off := 0; off < len(buf); off += page.Size {
		end := off + page.Size
		if end > len(buf) {
			end = len(buf)
		}
		if err := pf.Write(off/page.Size, 0, buf[off:end]); err != nil {
			return err
		}
	}
	return pf.Flush(ctx, path)
}
