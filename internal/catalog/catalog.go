// Package catalog serializes the descriptor-derived schema (node/rel
// label tables, property definitions, primary-key types,
// multiplicities, allowed endpoint label sets) into catalog.bin, and a
// companion graph.bin carrying per-label/per-direction record counts.
// The serialization is deterministic: identical descriptors produce
// identical bytes.
//
// No reader exists in this module (the query engine lives elsewhere);
// encode/decode round-trip through this package's own Decode is how
// determinism and bijection are property-tested. Framing is
// length-prefixed fields written with encoding/binary in a fixed field
// order, one write call per field, no reflection-based marshaling.
package catalog

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/types"
)

// magic identifies a catalog.bin file; version allows a future,
// incompatible layout change to be detected rather than silently
// misread.
const (
	catalogMagic   uint32 = 0x47434154 // "GCAT"
	catalogVersion uint32 = 1
	statsMagic     uint32 = 0x47535441 // "GSTA"
	statsVersion   uint32 = 1
)

// EncodeCatalog serializes the node and rel label tables deterministically.
// Callers pass labels already in ascending-ID order (the order they
// were assigned at descriptor-read time); Encode does not re-sort them
// so two runs over the same descriptor produce byte-identical output.
func EncodeCatalog(nodeLabels []*types.NodeLabel, relLabels []*types.RelLabel) ([]byte, error) {
	var buf bytes.Buffer
	w := &writer{w: &buf}

	w.u32(catalogMagic)
	w.u32(catalogVersion)

	w.u64(uint64(len(nodeLabels)))
	for _, nl := range nodeLabels {
		w.u16(uint16(nl.ID))
		w.str(nl.Name)
		w.u8(byte(nl.IDType))
		w.u64(nl.NumNodes)
		w.u32(uint32(len(nl.StructuredProps)))
		for _, p := range nl.StructuredProps {
			w.propertyDef(p)
		}
		unstr := sortedUnstructured(nl.UnstructuredPropIDs)
		w.u32(uint32(len(unstr)))
		for _, u := range unstr {
			w.u32(u.id)
			w.str(u.name)
		}
	}

	w.u64(uint64(len(relLabels)))
	for _, rl := range relLabels {
		w.u16(uint16(rl.ID))
		w.str(rl.Name)
		w.u8(byte(rl.Multiplicity))
		w.labelIDs(rl.SrcLabels)
		w.labelIDs(rl.DstLabels)
		w.u32(uint32(len(rl.Props)))
		for _, p := range rl.Props {
			w.propertyDef(p)
		}
		for _, dir := range []types.Direction{types.FWD, types.BWD} {
			w.relCounts(rl.NumRelsPerDir[dir])
		}
	}

	if w.err != nil {
		return nil, w.err
	}
	return buf.Bytes(), nil
}

// WriteCatalog encodes and writes catalog.bin to path.
func WriteCatalog(path string, nodeLabels []*types.NodeLabel, relLabels []*types.RelLabel) error {
	b, err := EncodeCatalog(nodeLabels, relLabels)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("write %s", path))
	}
	return nil
}

// Stats is the per-label, per-direction record count summary written
// to graph.bin.
type Stats struct {
	NodeCounts map[types.LabelID]uint64
	// RelCounts[relID][FWD|BWD] sums NumRelsPerDir over every source
	// label, i.e. the total relationship record count for that label.
	RelCounts map[types.LabelID][2]uint64
}

// BuildStats derives a Stats summary from the fully populated label
// tables (after every node and rel builder's pass 1 has run).
func BuildStats(nodeLabels []*types.NodeLabel, relLabels []*types.RelLabel) *Stats {
	s := &Stats{
		NodeCounts: make(map[types.LabelID]uint64, len(nodeLabels)),
		RelCounts:  make(map[types.LabelID][2]uint64, len(relLabels)),
	}
	for _, nl := range nodeLabels {
		s.NodeCounts[nl.ID] = nl.NumNodes
	}
	for _, rl := range relLabels {
		var totals [2]uint64
		for dir := 0; dir < 2; dir++ {
			for _, c := range rl.NumRelsPerDir[dir] {
				totals[dir] += c
			}
		}
		s.RelCounts[rl.ID] = totals
	}
	return s
}

// EncodeStats serializes s deterministically (labels visited in
// ascending LabelID order).
func EncodeStats(s *Stats) ([]byte, error) {
	var buf bytes.Buffer
	w := &writer{w: &buf}

	w.u32(statsMagic)
	w.u32(statsVersion)

	nodeIDs := sortedLabelIDs(s.NodeCounts)
	w.u64(uint64(len(nodeIDs)))
	for _, id := range nodeIDs {
		w.u16(uint16(id))
		w.u64(s.NodeCounts[id])
	}

	relIDs := make([]types.LabelID, 0, len(s.RelCounts))
	for id := range s.RelCounts {
		relIDs = append(relIDs, id)
	}
	sort.Slice(relIDs, func(i, j int) bool { return relIDs[i] < relIDs[j] })
	w.u64(uint64(len(relIDs)))
	for _, id := range relIDs {
		totals := s.RelCounts[id]
		w.u16(uint16(id))
		w.u64(totals[0])
		w.u64(totals[1])
	}

	if w.err != nil {
		return nil, w.err
	}
	return buf.Bytes(), nil
}

// WriteStats encodes and writes graph.bin to path.
func WriteStats(path string, s *Stats) error {
	b, err := EncodeStats(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("write %s", path))
	}
	return nil
}

func sortedLabelIDs(m map[types.LabelID]uint64) []types.LabelID {
	ids := make([]types.LabelID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type unstructuredEntry struct {
	id   uint32
	name string
}

func sortedUnstructured(m map[string]uint32) []unstructuredEntry {
	out := make([]unstructuredEntry, 0, len(m))
	for name, id := range m {
		out = append(out, unstructuredEntry{id: id, name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// writer is a small little-endian field writer that sticks the first
// error it hits and ignores subsequent calls, so EncodeCatalog's body
// reads as a flat sequence of field writes instead of an if-err chain.
type writer struct {
	w   io.Writer
	err error
}

func (w *writer) raw(v any) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.w, binary.LittleEndian, v)
}

func (w *writer) u8(v byte)    { w.raw(v) }
func (w *writer) u16(v uint16) { w.raw(v) }
func (w *writer) u32(v uint32) { w.raw(v) }
func (w *writer) u64(v uint64) { w.raw(v) }

func (w *writer) str(s string) {
	w.u16(uint16(len(s)))
	if w.err != nil {
		return
	}
	_, w.err = io.WriteString(w.w, s)
}

func (w *writer) propertyDef(p types.PropertyDef) {
	w.u32(p.ID)
	w.u8(byte(p.Type))
	w.str(p.Name)
}

func (w *writer) labelIDs(ids []types.LabelID) {
	w.u32(uint32(len(ids)))
	for _, id := range ids {
		w.u16(uint16(id))
	}
}

func (w *writer) relCounts(counts map[types.LabelID]uint64) {
	ids := sortedLabelIDs(counts)
	w.u32(uint32(len(ids)))
	for _, id := range ids {
		w.u16(uint16(id))
		w.u64(counts[id])
	}
}
