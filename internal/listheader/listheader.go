// Package listheader implements the 32-bit per-node list header: for
// each node, a compact record of whether its list is "small" (packed
// into its 512-node chunk's shared page run) or "large" (gets a
// dedicated page list), and its in-chunk CSR offset or dense
// large-list index.
//
// The encoding is fixed as: 11-bit size field, 20-bit CSR offset
// field, 1-bit large flag at the MSB.
package listheader

import (
	"context"
	"encoding/binary"

	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/page"
)

// Header is the 32-bit little-endian list header.
type Header uint32

const (
	largeFlag    = 1 << 31
	csrShift     = 11
	csrMask      = 0xFFFFF // 20 bits
	smallSizeMax = 1 << 11 // size field is 11 bits: [0, 2048)
	largeIdxMask = 0x7FFFFFFF
)

func (h Header) Large() bool { return h&largeFlag != 0 }

// Size returns the small-list element count (meaningless if Large()).
func (h Header) Size() uint64 { return uint64(h) & 0x7FF }

// CSR returns the small-list in-chunk CSR offset (meaningless if Large()).
func (h Header) CSR() uint64 { return (uint64(h) >> csrShift) & csrMask }

// LargeIndex returns the dense large-list index (meaningless unless Large()).
func (h Header) LargeIndex() uint32 { return uint32(h) & largeIdxMask }

func smallHeader(csrOffset uint32, size uint64) Header {
	return Header((csrOffset&csrMask)<<csrShift | uint32(size&0x7FF))
}

func largeHeader(idx uint32) Header {
	return Header(largeFlag | (idx & largeIdxMask))
}

// Encode walks node offsets in chunks of page.Chunk (512), assigning
// each node either a small header (accumulating a per-chunk CSR
// offset) or a large header (dense, left-to-right large-list index).
// elementsPerPage is the per-page element capacity for the list's
// target data type; a node's list is "large" iff its
// size >= elementsPerPage.
func Encode(sizes []uint64, elementsPerPage int) ([]Header, error) {
	const chunkSize = 512
	headers := make([]Header, len(sizes))
	var largeListCounter uint32
	for chunkStart := 0; chunkStart < len(sizes); chunkStart += chunkSize {
		chunkEnd := chunkStart + chunkSize
		if chunkEnd > len(sizes) {
			chunkEnd = len(sizes)
		}
		var csrOffset uint32
		for n := chunkStart; n < chunkEnd; n++ {
			size := sizes[n]
			if size >= uint64(elementsPerPage) {
				headers[n] = largeHeader(largeListCounter)
				largeListCounter++
				continue
			}
			if size >= smallSizeMax {
				return nil, loaderr.Newf(loaderr.Internal,
					"list header size field overflow: node=%d size=%d would need classification as large (elementsPerPage=%d)", n, size, elementsPerPage)
			}
			// A small list never straddles a page: when it would not fit
			// in the current page, the CSR offset skips the page's tail
			// and the list starts on the next page. The metadata builder
			// walks chunks with the same rule, so header and page map
			// agree on every element address.
			inPage := csrOffset % uint32(elementsPerPage)
			if size > 0 && uint64(inPage)+size > uint64(elementsPerPage) {
				csrOffset += uint32(elementsPerPage) - inPage
			}
			if uint64(csrOffset)+size > 0xFFFFF {
				return nil, loaderr.Newf(loaderr.Internal,
					"list header CSR field overflow: chunk starting at %d exceeds 20-bit offset budget", chunkStart)
			}
			headers[n] = smallHeader(csrOffset, size)
			csrOffset += uint32(size)
		}
	}
	return headers, nil
}

// WriteHeaders flushes a node label or rel direction's header array as
// one little-endian uint32 per node, in offset order, to path.
func WriteHeaders(ctx context.Context, path string, headers []Header) error {
	pf := page.New(4, false, 0)
	epp := pf.ElementsPerPage()
	pf.EnsurePages((len(headers) + epp - 1) / epp)

	var buf [4]byte
	for i, h := range headers {
		binary.LittleEndian.PutUint32(buf[:], uint32(h))
		pageIdx := i / epp
		off := (i % epp) * 4
		if err := pf.Write(pageIdx, off, buf[:]); err != nil {
			return err
		}
	}
	return pf.Flush(ctx, path)
}
