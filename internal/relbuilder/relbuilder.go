// Package relbuilder implements the per-relationship-label builder:
// pass 1 counts list sizes per direction and fills
// single-multiplicity adjacency/property columns directly; pass 2
// decrements the reverse-position reservoirs and writes adjacency
// lists and rel-property lists; a final resort pass makes variable-
// length property overflow locality-friendly before flush.
package relbuilder

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/colgraph/bulkload/internal/compress"
	"github.com/colgraph/bulkload/internal/csvio"
	"github.com/colgraph/bulkload/internal/listheader"
	"github.com/colgraph/bulkload/internal/listmeta"
	"github.com/colgraph/bulkload/internal/listsize"
	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/overflow"
	"github.com/colgraph/bulkload/internal/page"
	"github.com/colgraph/bulkload/internal/pkindex"
	"github.com/colgraph/bulkload/internal/types"
	"github.com/colgraph/bulkload/internal/workerpool"
)

// idPropID is the property id reserved for the derived relationship
// id ("_id") every direction's property storage carries alongside the
// label's declared properties.
const idPropID uint32 = math.MaxUint32

// NodeLabelInfo is what a rel builder needs from a node label that
// may appear as one of its endpoints: the label's own metadata and
// the primary-key index its node builder already populated (node
// builders run to completion for every referenced label before any
// rel builder's Pass1 starts).
type NodeLabelInfo struct {
	Label *types.NodeLabel
	Index *pkindex.Index
}

// column is one single-multiplicity direction's per-property storage
// for one source label: a null-masked column plus an overflow cursor
// file for String values, mirroring internal/nodebuilder's column.
type column struct {
	prop types.PropertyDef
	file *page.File
	ovfl *overflow.CursorFile
}

// listLayout is a built (header, metadata) pair addressing one list
// structure, either an adjacency list or one property's list, for
// one (direction, source label). Two listLayouts for the same
// direction/label share the same underlying `sizes` (every property
// list has exactly as many elements per node as the adjacency list
// it rides along with) but can have different elementsPerPage, so
// each gets its own header/metadata build.
type listLayout struct {
	file    *page.File
	headers []listheader.Header
	meta    *listmeta.Metadata
}

func buildListLayout(alloc *page.Allocator, sizes []uint64, bytesPerElement int, nullMask bool) (*listLayout, error) {
	epp := page.ElementsPerPageFor(bytesPerElement, nullMask)
	headers, err := listheader.Encode(sizes, epp)
	if err != nil {
		return nil, err
	}
	meta := listmeta.Build(sizes, headers, epp)
	f := alloc.NewFile(bytesPerElement, nullMask, int(meta.NumPages))
	return &listLayout{file: f, headers: headers, meta: meta}, nil
}

func (l *listLayout) locate(n types.NodeOffset, pos uint64, bytesPerElement int) (pageIdx int, byteOff int) {
	p, off := listmeta.Locate(l.headers[n], pos, n, l.file.ElementsPerPage(), l.meta, bytesPerElement)
	return int(p), off
}

// sideState holds everything tracked for one traversal direction: its
// compression scheme, per-source-label adjacency storage (a dense
// column when the direction is single-multiplicity, a counter array
// plus list layout otherwise), and the mirrored per-property storage.
type sideState struct {
	dir    types.Direction
	scheme compress.Scheme
	single bool

	srcLabels []types.LabelID

	adjColumn  map[types.LabelID]*page.File
	adjWritten map[types.LabelID][]atomic.Bool

	adjCounters map[types.LabelID]*listsize.Counters
	adjSizes    map[types.LabelID][]uint64
	adjLayout   map[types.LabelID]*listLayout

	propColumn map[uint32]map[types.LabelID]*column
	propLayout map[uint32]map[types.LabelID]*listLayout
	propOvfl   map[uint32]map[types.LabelID]*overflow.CursorFile // multi side, String props only
}

// Builder is the per-relationship-label rel builder: Pass1,
// BuildListMetadata, Pass2, ResortOverflow, Flush, run in that order.
type Builder struct {
	Label  *types.RelLabel
	Blocks []csvio.Block
	Opts   csvio.Options
	// Alloc chooses each column/list file's backing against the
	// loader's memory budget; nil means plain heap pages.
	Alloc *page.Allocator

	nodeLabels     map[types.LabelID]*NodeLabelInfo
	labelIDByName  map[string]types.LabelID
	totalNumLabels uint32

	props []types.PropertyDef // declared properties plus the implicit _id, in storage order

	fwd *sideState
	bwd *sideState

	blockStart []uint64 // cumulative line count before block i, shared by both passes
	numLines   uint64

	resortRefs   []ovflRef
	resortRefsMu sync.Mutex
}

// ovflRef remembers one variable-length property write made into a
// multi-multiplicity direction's property list during Pass2, so
// ResortOverflow can revisit it.
type ovflRef struct {
	side    *sideState
	propID  uint32
	label   types.LabelID
	offset  types.NodeOffset
	pageIdx int
	byteOff int
}

// New creates a Builder for label over blocks. nodeLabels must
// already hold a fully populated (not necessarily flushed) index for
// every label referenced by label's SrcLabels/DstLabels.
func New(label *types.RelLabel, blocks []csvio.Block, opts csvio.Options, nodeLabels map[types.LabelID]*NodeLabelInfo, labelIDByName map[string]types.LabelID, totalNumLabels uint32) *Builder {
	b := &Builder{
		Label:          label,
		Blocks:         blocks,
		Opts:           opts,
		nodeLabels:     nodeLabels,
		labelIDByName:  labelIDByName,
		totalNumLabels: totalNumLabels,
	}
	b.props = append(append([]types.PropertyDef{}, label.Props...), types.PropertyDef{Name: "_id", ID: idPropID, Type: types.Int64})
	return b
}

func maxOffsetsFor(labels []types.LabelID, nodeLabels map[types.LabelID]*NodeLabelInfo) map[types.LabelID]uint64 {
	out := make(map[types.LabelID]uint64, len(labels))
	for _, l := range labels {
		n := nodeLabels[l].Label.NumNodes
		if n == 0 {
			out[l] = 0
			continue
		}
		out[l] = n - 1
	}
	return out
}

// init builds both sideStates' compression schemes and storage,
// lazily on first use so CountLines can run before any allocation
// that needs numLines.
func (b *Builder) init() error {
	if b.fwd != nil {
		return nil
	}
	fwdScheme, err := compress.Choose(b.Label.DstLabels, maxOffsetsFor(b.Label.DstLabels, b.nodeLabels), b.totalNumLabels)
	if err != nil {
		return err
	}
	bwdScheme, err := compress.Choose(b.Label.SrcLabels, maxOffsetsFor(b.Label.SrcLabels, b.nodeLabels), b.totalNumLabels)
	if err != nil {
		return err
	}

	b.fwd = b.newSide(types.FWD, fwdScheme, b.Label.SrcLabels)
	b.bwd = b.newSide(types.BWD, bwdScheme, b.Label.DstLabels)
	return nil
}

func (b *Builder) newSide(dir types.Direction, scheme compress.Scheme, srcLabels []types.LabelID) *sideState {
	s := &sideState{
		dir:         dir,
		scheme:      scheme,
		single:      b.Label.SingleMultiplicity(dir),
		srcLabels:   srcLabels,
		adjColumn:   map[types.LabelID]*page.File{},
		adjWritten:  map[types.LabelID][]atomic.Bool{},
		adjCounters: map[types.LabelID]*listsize.Counters{},
		adjSizes:    map[types.LabelID][]uint64{},
		adjLayout:   map[types.LabelID]*listLayout{},
		propColumn:  map[uint32]map[types.LabelID]*column{},
		propLayout:  map[uint32]map[types.LabelID]*listLayout{},
		propOvfl:    map[uint32]map[types.LabelID]*overflow.CursorFile{},
	}
	for _, prop := range b.props {
		s.propColumn[prop.ID] = map[types.LabelID]*column{}
		s.propLayout[prop.ID] = map[types.LabelID]*listLayout{}
		s.propOvfl[prop.ID] = map[types.LabelID]*overflow.CursorFile{}
	}

	for _, lbl := range srcLabels {
		numNodes := b.nodeLabels[lbl].Label.NumNodes
		if s.single {
			s.adjColumn[lbl] = b.Alloc.NewFile(scheme.RecordSize(), false, pagesNeeded(numNodes, page.Size/scheme.RecordSize()))
			s.adjWritten[lbl] = make([]atomic.Bool, numNodes)
			for _, prop := range b.props {
				epp := page.ElementsPerPageFor(prop.Type.FixedWidth(), true)
				f := b.Alloc.NewFile(prop.Type.FixedWidth(), true, pagesNeeded(numNodes, epp))
				col := &column{prop: prop, file: f}
				if prop.Type.IsVarLen() {
					col.ovfl = overflow.NewCursorFile()
				}
				s.propColumn[prop.ID][lbl] = col
			}
		} else {
			s.adjCounters[lbl] = listsize.New(numNodes)
		}
	}
	return s
}

func pagesNeeded(numElems uint64, elementsPerPage int) int {
	if elementsPerPage <= 0 {
		return 0
	}
	n := int((numElems + uint64(elementsPerPage) - 1) / uint64(elementsPerPage))
	if n < 1 {
		n = 1
	}
	return n
}

// CountLines counts each block's data-line count so both Pass1 and
// Pass2 assign identical block-relative relationship ids
// (blockStartRelID + lineIndexInBlock).
func (b *Builder) CountLines(ctx context.Context, pool *workerpool.Pool) error {
	counts := make([]uint64, len(b.Blocks))
	err := workerpool.RunPhase(pool, b.Blocks, func(ctx context.Context, blk csvio.Block) error {
		r, err := csvio.OpenBlock(blk, b.Opts)
		if err != nil {
			return err
		}
		defer r.Close()
		var n uint64
		for {
			_, ok := r.Next()
			if !ok {
				break
			}
			n++
		}
		counts[blk.Index] = n
		return r.Err()
	})
	if err != nil {
		return err
	}
	b.blockStart = make([]uint64, len(counts)+1)
	for i, c := range counts {
		b.blockStart[i+1] = b.blockStart[i] + c
	}
	b.numLines = b.blockStart[len(counts)]
	return b.init()
}

func (b *Builder) resolveLabel(name string, allowed []types.LabelID) (types.LabelID, error) {
	id, ok := b.labelIDByName[name]
	if !ok {
		return 0, loaderr.Newf(loaderr.SchemaError, "unknown node label %q", name)
	}
	for _, a := range allowed {
		if a == id {
			return id, nil
		}
	}
	return 0, loaderr.Newf(loaderr.SchemaError, "label %q is not a legal endpoint label here", name)
}

func (b *Builder) lookupOffset(lbl types.LabelID, rawKey string) (types.NodeOffset, error) {
	info := b.nodeLabels[lbl]
	key, err := parseKey(info.Label.IDType, rawKey)
	if err != nil {
		return 0, err
	}
	off, ok := info.Index.Lookup(key)
	if !ok {
		return 0, loaderr.Newf(loaderr.ConstraintViolation, "unknown primary key %q for label %q", rawKey, info.Label.Name)
	}
	return types.NodeOffset(off), nil
}

func parseKey(idType types.IDType, raw string) (pkindex.Key, error) {
	if idType == types.IDInt64 {
		v, err := csvio.ParseInt64(raw)
		if err != nil {
			return nil, err
		}
		return pkindex.IntKey(v), nil
	}
	return pkindex.StringKey(raw), nil
}

// Pass1 is the counting/column pass: it resolves endpoints, fills
// single-multiplicity adjacency columns directly (erroring on a
// double-write collision), count list sizes for multi-multiplicity
// directions, and write properties on whichever side(s) are
// currently single.
func (b *Builder) Pass1(ctx context.Context, pool *workerpool.Pool) error {
	if err := b.init(); err != nil {
		return err
	}
	err := workerpool.RunPhase(pool, b.Blocks, func(ctx context.Context, blk csvio.Block) error {
		r, err := csvio.OpenBlock(blk, b.Opts)
		if err != nil {
			return err
		}
		defer r.Close()

		fwdCur := newPropCursors(b.fwd, b.props)
		bwdCur := newPropCursors(b.bwd, b.props)

		lineIdx := uint64(0)
		for {
			line, ok := r.Next()
			if !ok {
				break
			}
			relID := b.blockStart[blk.Index] + lineIdx
			lineIdx++
			if err := b.pass1Line(line, relID, fwdCur, bwdCur); err != nil {
				if le, ok := err.(*loaderr.Error); ok {
					return le.At(blk.Path, blk.Index, int(lineIdx))
				}
				return err
			}
		}
		return r.Err()
	})
	if err != nil {
		return err
	}
	b.finalizeCounts()
	return nil
}

// finalizeCounts populates NumRelsPerDir[dir][sourceLabel] at the end
// of pass 1. For a single-multiplicity side, that's the number of
// offsets whose
// adjacency column entry was actually written (a label may have nodes
// with no outgoing edge under this rel label); for a multi-
// multiplicity side it's the sum of pass 1's list-size counters.
func (b *Builder) finalizeCounts() {
	sides := [2]*sideState{b.fwd, b.bwd}
	for dir := 0; dir < 2; dir++ {
		side := sides[dir]
		counts := make(map[types.LabelID]uint64, len(side.srcLabels))
		for _, lbl := range side.srcLabels {
			if side.single {
				var n uint64
				for i := range side.adjWritten[lbl] {
					if side.adjWritten[lbl][i].Load() {
						n++
					}
				}
				counts[lbl] = n
			} else {
				var n uint64
				for _, c := range side.adjCounters[lbl].Snapshot() {
					n += c
				}
				counts[lbl] = n
			}
		}
		b.Label.NumRelsPerDir[dir] = counts
	}
}

// propCursors holds one overflow.Cursor per (single-side) column
// needing one, reused across every line a block task processes so
// String values pack tightly within one worker's page run.
type propCursors map[uint32]*overflow.Cursor

func newPropCursors(side *sideState, props []types.PropertyDef) propCursors {
	if !side.single {
		return nil
	}
	cur := make(propCursors, len(props))
	for _, p := range props {
		if p.Type.IsVarLen() {
			cur[p.ID] = &overflow.Cursor{}
		}
	}
	return cur
}

func (b *Builder) pass1Line(line []byte, relID uint64, fwdCur, bwdCur propCursors) error {
	fields, err := csvio.SplitFields(line, b.Opts)
	if err != nil {
		return err
	}
	if len(fields) < 4 {
		return loaderr.Newf(loaderr.SchemaError, "rel line has %d fields, want at least 4", len(fields))
	}

	srcLabel, err := b.resolveLabel(fields[1], b.Label.SrcLabels)
	if err != nil {
		return err
	}
	dstLabel, err := b.resolveLabel(fields[3], b.Label.DstLabels)
	if err != nil {
		return err
	}
	srcOffset, err := b.lookupOffset(srcLabel, fields[0])
	if err != nil {
		return err
	}
	dstOffset, err := b.lookupOffset(dstLabel, fields[2])
	if err != nil {
		return err
	}

	propFields := fields[4:]

	if err := b.fwd.fillOrCount(srcLabel, srcOffset, dstLabel, dstOffset); err != nil {
		return err
	}
	if err := b.bwd.fillOrCount(dstLabel, dstOffset, srcLabel, srcOffset); err != nil {
		return err
	}

	if b.fwd.single {
		if err := b.writeSingleProps(b.fwd, srcLabel, srcOffset, propFields, relID, fwdCur); err != nil {
			return err
		}
	}
	if b.bwd.single {
		if err := b.writeSingleProps(b.bwd, dstLabel, dstOffset, propFields, relID, bwdCur); err != nil {
			return err
		}
	}
	return nil
}

// fillOrCount is one direction's pass-1 handling of one endpoint:
// write the neighbor directly if this side is single-multiplicity
// (erroring on a collision), else bump the per-node list-size counter.
func (s *sideState) fillOrCount(srcLabel types.LabelID, srcOffset types.NodeOffset, neighborLabel types.LabelID, neighborOffset types.NodeOffset) error {
	if s.single {
		written := s.adjWritten[srcLabel]
		if !written[srcOffset].CompareAndSwap(false, true) {
			return loaderr.Newf(loaderr.ConstraintViolation,
				"direction declared single-multiplicity but source offset %d already has an edge", srcOffset)
		}
		f := s.adjColumn[srcLabel]
		epp := f.ElementsPerPage()
		pageIdx := int(uint64(srcOffset) / uint64(epp))
		byteOff := int(uint64(srcOffset)%uint64(epp)) * s.scheme.RecordSize()
		buf := make([]byte, s.scheme.RecordSize())
		if err := s.scheme.Encode(buf, neighborLabel, neighborOffset); err != nil {
			return err
		}
		return f.Write(pageIdx, byteOff, buf)
	}
	s.adjCounters[srcLabel].Increment(srcOffset, 1)
	return nil
}

func (b *Builder) writeSingleProps(side *sideState, srcLabel types.LabelID, srcOffset types.NodeOffset, propFields []string, relID uint64, cur propCursors) error {
	for i, prop := range b.Label.Props {
		if i >= len(propFields) {
			break
		}
		if err := writeColumnProp(side.propColumn[prop.ID][srcLabel], srcOffset, propFields[i], cur[prop.ID]); err != nil {
			return err
		}
	}
	idCol := side.propColumn[idPropID][srcLabel]
	return writeColumnValueScalar(idCol.file, srcOffset, types.Int64, relID)
}

func writeColumnProp(col *column, offset types.NodeOffset, raw string, cur *overflow.Cursor) error {
	epp := col.file.ElementsPerPage()
	elemIdx := int(uint64(offset) % uint64(epp))
	pageIdx := int(uint64(offset) / uint64(epp))
	byteOff := elemIdx * col.prop.Type.FixedWidth()

	if csvio.IsNull(raw) {
		return col.file.SetNullBit(pageIdx, elemIdx)
	}
	return writeScalarRaw(col.file, pageIdx, byteOff, col.prop.Type, raw, col.ovfl, cur)
}

func writeColumnValueScalar(f *page.File, offset types.NodeOffset, dt types.DataType, v uint64) error {
	epp := f.ElementsPerPage()
	pageIdx := int(uint64(offset) / uint64(epp))
	byteOff := int(uint64(offset)%uint64(epp)) * dt.FixedWidth()
	return writeLE(f, pageIdx, byteOff, v, dt.FixedWidth())
}
