// Package compress implements the per-direction edge compression
// scheme: choosing the smallest label/offset byte
// widths that fit a direction's observed label cardinality and
// maximum node offset, and encoding/decoding a (label, offset)
// neighbor identifier using those widths.
package compress

import (
	"encoding/binary"

	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/types"
)

// Scheme is the chosen byte widths for one direction of one
// relationship label.
type Scheme struct {
	LabelBytes  byte
	OffsetBytes byte
}

// RecordSize is the on-disk size, in bytes, of one compressed edge.
func (s Scheme) RecordSize() int {
	return int(s.LabelBytes) + int(s.OffsetBytes)
}

var validByteCounts = map[byte]bool{0: true, 1: true, 2: true, 4: true, 8: true}

// Choose picks the byte widths for one direction. targetLabels is the
// set of node labels legal on the side the scheme describes;
// maxOffsetPerLabel maps each of those labels to the maximum observed
// NodeOffset that will ever need encoding; totalNumLabels is the total
// number of distinct labels declared in the whole dataset (used to
// size the label-id field so any label in the graph, not just the
// target set, could in principle be referenced).
func Choose(targetLabels []types.LabelID, maxOffsetPerLabel map[types.LabelID]uint64, totalNumLabels uint32) (Scheme, error) {
	var labelBytes byte
	if len(targetLabels) == 1 {
		labelBytes = 0
	} else {
		labelBytes = smallestFit([]byte{1, 2, 4}, uint64(totalNumLabels)-1)
		if labelBytes == 0 {
			return Scheme{}, loaderr.Newf(loaderr.Fit, "no label byte width fits totalNumLabels=%d", totalNumLabels)
		}
	}

	var maxOffset uint64
	for _, lbl := range targetLabels {
		if v := maxOffsetPerLabel[lbl]; v > maxOffset {
			maxOffset = v
		}
	}
	offsetBytes := smallestFit([]byte{2, 4, 8}, maxOffset)
	if offsetBytes == 0 {
		return Scheme{}, loaderr.Newf(loaderr.Fit, "no offset byte width fits maxOffset=%d", maxOffset)
	}

	s := Scheme{LabelBytes: labelBytes, OffsetBytes: offsetBytes}
	if err := s.validate(); err != nil {
		return Scheme{}, err
	}
	return s, nil
}

func smallestFit(candidates []byte, maxValue uint64) byte {
	for _, b := range candidates {
		if fits(b, maxValue) {
			return b
		}
	}
	return 0
}

func fits(numBytes byte, maxValue uint64) bool {
	if numBytes >= 8 {
		return true
	}
	limit := (uint64(1) << (8 * numBytes)) - 1
	return limit >= maxValue
}

func (s Scheme) validate() error {
	if !validByteCounts[s.LabelBytes] || !validByteCounts[s.OffsetBytes] {
		return loaderr.Newf(loaderr.Fit, "invalid compression scheme byte widths (label=%d offset=%d)", s.LabelBytes, s.OffsetBytes)
	}
	return nil
}

// Encode writes a (label, offset) pair little-endian into dst, which
// must be at least s.RecordSize() bytes. Label is skipped entirely
// when s.LabelBytes == 0.
func (s Scheme) Encode(dst []byte, label types.LabelID, offset types.NodeOffset) error {
	if len(dst) < s.RecordSize() {
		return loaderr.Newf(loaderr.Internal, "encode buffer too small: need %d have %d", s.RecordSize(), len(dst))
	}
	off := 0
	switch s.LabelBytes {
	case 0:
	case 1:
		dst[0] = byte(label)
		off = 1
	case 2:
		binary.LittleEndian.PutUint16(dst, uint16(label))
		off = 2
	case 4:
		binary.LittleEndian.PutUint32(dst, uint32(label))
		off = 4
	default:
		return loaderr.Newf(loaderr.Fit, "unsupported label byte width %d", s.LabelBytes)
	}
	switch s.OffsetBytes {
	case 2:
		binary.LittleEndian.PutUint16(dst[off:], uint16(offset))
	case 4:
		binary.LittleEndian.PutUint32(dst[off:], uint32(offset))
	case 8:
		binary.LittleEndian.PutUint64(dst[off:], uint64(offset))
	default:
		return loaderr.Newf(loaderr.Fit, "unsupported offset byte width %d", s.OffsetBytes)
	}
	return nil
}

// Decode reverses Encode. If s.LabelBytes == 0, the returned label is
// always 0 and the caller must already know the single legal label
// for that side.
func (s Scheme) Decode(src []byte) (label types.LabelID, offset types.NodeOffset) {
	off := 0
	switch s.LabelBytes {
	case 1:
		label = types.LabelID(src[0])
		off = 1
	case 2:
		label = types.LabelID(binary.LittleEndian.Uint16(src))
		off = 2
	case 4:
		label = types.LabelID(binary.LittleEndian.Uint32(src))
		off = 4
	}
	switch s.OffsetBytes {
	case 2:
		offset = types.NodeOffset(binary.LittleEndian.Uint16(src[off:]))
	case 4:
		offset = types.NodeOffset(binary.LittleEndian.Uint32(src[off:]))
	case 8:
		offset = types.NodeOffset(binary.LittleEndian.Uint64(src[off:]))
	}
	return label, offset
}
