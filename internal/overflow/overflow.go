// Package overflow implements the paged overflow-value area: an
// append-only region for variable-length values (strings longer than
// InlineString's 12-byte inline suffix, and list literals), addressed
// by 64-bit pointers packed as (pageIdx:48, offsetInPage:16).
package overflow

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/page"
)

// Pointer is a 64-bit (pageIdx:u48, offsetInPage:u16) overflow
// reference.
type Pointer uint64

func EncodePointer(pageIdx uint64, offsetInPage uint16) Pointer {
	return Pointer((pageIdx & 0xFFFFFFFFFFFF) | uint64(offsetInPage)<<48)
}

func (p Pointer) PageIdx() uint64      { return uint64(p) & 0xFFFFFFFFFFFF }
func (p Pointer) OffsetInPage() uint16 { return uint16(uint64(p) >> 48) }

// InlineString is the 16-byte compact string representation
// { len:u32, prefix:[4]byte, tail:u64 }. For len <= 12 the
// 12-byte suffix is carried inline across prefix+tail; otherwise tail
// holds an encoded Pointer into the overflow file.
type InlineString struct {
	Len    uint32
	Prefix [4]byte
	Tail   [8]byte // either 8 suffix bytes or an encoded Pointer
}

const inlineThreshold = 12

// NewInlineShort builds an InlineString for raw whose length is <= 12.
func NewInlineShort(raw []byte) InlineString {
	var is InlineString
	is.Len = uint32(len(raw))
	n := copy(is.Prefix[:], raw)
	copy(is.Tail[:], raw[n:])
	return is
}

func newInlineLong(raw []byte, ptr Pointer) InlineString {
	var is InlineString
	is.Len = uint32(len(raw))
	copy(is.Prefix[:], raw)
	binary.LittleEndian.PutUint64(is.Tail[:], uint64(ptr))
	return is
}

func (is InlineString) Pointer() Pointer {
	return Pointer(binary.LittleEndian.Uint64(is.Tail[:]))
}

// Encode serializes an InlineString to its 16-byte wire form.
func (is InlineString) Encode() [16]byte {
	var b [16]byte
	binary.LittleEndian.PutUint32(b[0:4], is.Len)
	copy(b[4:8], is.Prefix[:])
	copy(b[8:16], is.Tail[:])
	return b
}

func DecodeInlineString(b []byte) InlineString {
	var is InlineString
	is.Len = binary.LittleEndian.Uint32(b[0:4])
	copy(is.Prefix[:], b[4:8])
	copy(is.Tail[:], b[8:16])
	return is
}

// AppendFile is the append-mode overflow file, used by the
// primary-key index to spill long string keys: a single mutex
// serializes both the page cursor and the page append.
type AppendFile struct {
	mu           sync.Mutex
	pages        *page.File
	nextPageIdx  int
	nextOffset   int
}

func NewAppendFile() *AppendFile {
	f := &AppendFile{pages: page.New(1, false, 0)}
	f.nextPageIdx = f.pages.AddPage(true)
	return f
}

// AppendString stores raw and returns its InlineString representation.
func (a *AppendFile) AppendString(raw []byte) (InlineString, error) {
	if len(raw) > math.MaxUint32 {
		return InlineString{}, loaderr.Newf(loaderr.Fit, "string of length %d exceeds 2^32-1", len(raw))
	}
	if len(raw) <= inlineThreshold {
		return NewInlineShort(raw), nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.nextOffset+len(raw) > page.Size {
		a.nextPageIdx = a.pages.AddPage(true)
		a.nextOffset = 0
	}
	if err := a.pages.Write(a.nextPageIdx, a.nextOffset, raw); err != nil {
		return InlineString{}, err
	}
	ptr := EncodePointer(uint64(a.nextPageIdx), uint16(a.nextOffset))
	a.nextOffset += len(raw)
	return newInlineLong(raw, ptr), nil
}

// Pages exposes the backing paged file, e.g. for Flush.
func (a *AppendFile) Pages() *page.File { return a.pages }

// ReadString decodes an InlineString back into its raw bytes. There
// is no separate reader component in this module; tests use this to
// verify pointer correctness.
func (a *AppendFile) ReadString(is InlineString) []byte {
	if is.Len <= inlineThreshold {
		out := make([]byte, is.Len)
		n := copy(out, is.Prefix[:])
		copy(out[n:], is.Tail[:])
		return out
	}
	ptr := is.Pointer()
	p := a.pages.Page(int(ptr.PageIdx()))
	start := int(ptr.OffsetInPage())
	return p[start : start+int(is.Len)]
}

// Cursor tracks a single writer's current page position in a
// CursorFile.
type Cursor struct {
	PageIdx      int
	OffsetInPage int
	initialized  bool
}

// CursorFile is the per-writer-cursor overflow file used by property
// columns and lists: many callers, each owning a private Cursor; page
// allocation is the only thing that needs a shared lock.
type CursorFile struct {
	mu    sync.Mutex
	pages *page.File
}

func NewCursorFile() *CursorFile {
	return &CursorFile{pages: page.New(1, false, 0)}
}

func (c *CursorFile) Pages() *page.File { return c.pages }

// reserve ensures cur has room for n more bytes in its current page,
// allocating a fresh page under the shared mutex if not.
func (c *CursorFile) reserve(cur *Cursor, n int) error {
	if !cur.initialized || cur.OffsetInPage+n > page.Size {
		c.mu.Lock()
		cur.PageIdx = c.pages.AddPage(true)
		c.mu.Unlock()
		cur.OffsetInPage = 0
		cur.initialized = true
	}
	return nil
}

// CopyString copies raw into the cursor's page run and returns its
// InlineString representation.
func (c *CursorFile) CopyString(raw []byte, cur *Cursor) (InlineString, error) {
	if len(raw) > math.MaxUint32 {
		return InlineString{}, loaderr.Newf(loaderr.Fit, "string of length %d exceeds 2^32-1", len(raw))
	}
	if len(raw) <= inlineThreshold {
		return NewInlineShort(raw), nil
	}
	if err := c.reserve(cur, len(raw)); err != nil {
		return InlineString{}, err
	}
	if err := c.pages.Write(cur.PageIdx, cur.OffsetInPage, raw); err != nil {
		return InlineString{}, err
	}
	ptr := EncodePointer(uint64(cur.PageIdx), uint16(cur.OffsetInPage))
	cur.OffsetInPage += len(raw)
	return newInlineLong(raw, ptr), nil
}

// ListElem is one element of a ListLiteral: either a scalar's raw
// bytes (stored by CopyList as an InlineString), or a nested list.
type ListElem struct {
	Scalar []byte
	Nested *ListLiteral
}

// ListLiteral is a parsed list-typed property value awaiting layout
// in the overflow area.
type ListLiteral struct {
	Elems []ListElem
}

// CopyList lays out a list literal in the overflow area through cur:
// the element count (u32), then for each element in order either a
// nested list's own region followed by its 8-byte Pointer, or a
// scalar's 16-byte InlineString (preceded by the scalar's bytes when
// they are too long to inline). A record that does not fit in the
// current page starts a new one, so a list can span pages. Returns a
// Pointer to the element count.
func (c *CursorFile) CopyList(lit ListLiteral, cur *Cursor) (Pointer, error) {
	if err := c.reserve(cur, 4); err != nil {
		return 0, err
	}
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(lit.Elems)))
	if err := c.pages.Write(cur.PageIdx, cur.OffsetInPage, hdr[:]); err != nil {
		return 0, err
	}
	listPtr := EncodePointer(uint64(cur.PageIdx), uint16(cur.OffsetInPage))
	cur.OffsetInPage += 4

	for _, e := range lit.Elems {
		switch {
		case e.Nested != nil:
			nestedPtr, err := c.CopyList(*e.Nested, cur)
			if err != nil {
				return 0, err
			}
			if err := c.writeScalar(cur, uint64(nestedPtr)); err != nil {
				return 0, err
			}
		default:
			is, err := c.CopyString(e.Scalar, cur)
			if err != nil {
				return 0, err
			}
			enc := is.Encode()
			if err := c.reserve(cur, len(enc)); err != nil {
				return 0, err
			}
			if err := c.pages.Write(cur.PageIdx, cur.OffsetInPage, enc[:]); err != nil {
				return 0, err
			}
			cur.OffsetInPage += len(enc)
		}
	}
	return listPtr, nil
}

func (c *CursorFile) writeScalar(cur *Cursor, v uint64) error {
	if err := c.reserve(cur, 8); err != nil {
		return err
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	if err := c.pages.Write(cur.PageIdx, cur.OffsetInPage, b[:]); err != nil {
		return err
	}
	cur.OffsetInPage += 8
	return nil
}
