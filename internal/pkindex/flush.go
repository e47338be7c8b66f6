package pkindex

import (
	"context"
	"encoding/binary"

	"github.com/colgraph/bulkload/internal/page"
)

// recordSize is the on-disk width of one slot record: isString(1) +
// intKey(8) + InlineString(16) + offset(8), padded to a round 40
// bytes for alignment.
const recordSize = 40

// headerRecord carries the fields BulkReserve computed, so a reader
// can reconstruct slotIDFor without re-deriving it from entry count.
type headerRecord struct {
	level               uint64
	levelHashMask       uint64
	higherLevelHashMask uint64
	nextSplitSlotID     uint64
	numPrimarySlots     uint64
	numOverflowSlots    uint64
	slotCapacity        uint64
}

func (h headerRecord) encode() [page.Size]byte {
	var b [page.Size]byte
	binary.LittleEndian.PutUint64(b[0:8], h.level)
	binary.LittleEndian.PutUint64(b[8:16], h.levelHashMask)
	binary.LittleEndian.PutUint64(b[16:24], h.higherLevelHashMask)
	binary.LittleEndian.PutUint64(b[24:32], h.nextSplitSlotID)
	binary.LittleEndian.PutUint64(b[32:40], h.numPrimarySlots)
	binary.LittleEndian.PutUint64(b[40:48], h.numOverflowSlots)
	binary.LittleEndian.PutUint64(b[48:56], h.slotCapacity)
	return b
}

func encodeEntry(e entry) [recordSize]byte {
	var b [recordSize]byte
	if e.isString {
		b[0] = 1
	}
	binary.LittleEndian.PutUint64(b[1:9], e.intKey)
	enc := e.strInfo.Encode()
	copy(b[9:25], enc[:])
	binary.LittleEndian.PutUint64(b[25:33], e.offset)
	return b
}

func encodeSlot(s *slot) []byte {
	out := make([]byte, 0, 8+SlotCapacity*recordSize+8)
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(s.entries)))
	out = append(out, countBuf[:]...)
	for _, e := range s.entries {
		rec := encodeEntry(e)
		out = append(out, rec[:]...)
	}
	for i := len(s.entries); i < SlotCapacity; i++ {
		out = append(out, make([]byte, recordSize)...)
	}
	var nextBuf [8]byte
	next := int64(-1)
	if s.nextOvfl != -1 {
		next = int64(s.nextOvfl)
	}
	binary.LittleEndian.PutUint64(nextBuf[:], uint64(next))
	out = append(out, nextBuf[:]...)
	return out
}

// writeKeyPages lays out the header page followed by one page per
// primary slot and one page per overflow slot, in that order, and
// flushes the whole thing to keyPath.
func writeKeyPages(ctx context.Context, keyPath string, idx *Index) error {
	pf := page.New(1, false, 0)

	hdrPage := pf.AddPage(true)
	hdr := headerRecord{
		level:               uint64(idx.level),
		levelHashMask:       idx.levelHashMask,
		higherLevelHashMask: idx.higherLevelHashMask,
		nextSplitSlotID:     idx.nextSplitSlotID,
		numPrimarySlots:     uint64(len(idx.primary)),
		numOverflowSlots:    uint64(len(idx.overflow)),
		slotCapacity:        SlotCapacity,
	}
	encoded := hdr.encode()
	if err := pf.Write(hdrPage, 0, encoded[:]); err != nil {
		return err
	}

	for _, s := range idx.primary {
		p := pf.AddPage(true)
		rec := encodeSlot(s)
		if err := pf.Write(p, 0, rec); err != nil {
			return err
		}
	}
	for _, s := range idx.overflow {
		p := pf.AddPage(true)
		rec := encodeSlot(s)
		if err := pf.Write(p, 0, rec); err != nil {
			return err
		}
	}

	return pf.Flush(ctx, keyPath)
}
