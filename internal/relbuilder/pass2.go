package relbuilder

import (
	"context"

	"github.com/colgraph/bulkload/internal/csvio"
	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/overflow"
	"github.com/colgraph/bulkload/internal/types"
	"github.com/colgraph/bulkload/internal/workerpool"
)

// BuildListMetadata is the between-passes step: for every
// (direction, source-label) that is not single-multiplicity, snapshot
// pass 1's counters and build list headers and page metadata for the
// adjacency list and every property list (including the implicit
// _id), each sized to its own element width.
func (b *Builder) BuildListMetadata(ctx context.Context) error {
	for _, side := range []*sideState{b.fwd, b.bwd} {
		if side.single {
			continue
		}
		for _, lbl := range side.srcLabels {
			sizes := side.adjCounters[lbl].Snapshot()
			side.adjSizes[lbl] = sizes

			adjLayout, err := buildListLayout(b.Alloc, sizes, side.scheme.RecordSize(), false)
			if err != nil {
				return err
			}
			side.adjLayout[lbl] = adjLayout

			for _, prop := range b.props {
				layout, err := buildListLayout(b.Alloc, sizes, prop.Type.FixedWidth(), true)
				if err != nil {
					return err
				}
				side.propLayout[prop.ID][lbl] = layout
				if prop.Type.IsVarLen() {
					side.propOvfl[prop.ID][lbl] = overflow.NewCursorFile()
				}
			}
		}
	}
	return nil
}

// Pass2 re-reads every block's lines (identical byte ranges to
// Pass1, so relationship ids line up
// again), and for every direction that is not single-multiplicity,
// reserve the line's reverse position and place the neighbor and
// every property at its located address.
func (b *Builder) Pass2(ctx context.Context, pool *workerpool.Pool) error {
	if b.fwd.single && b.bwd.single {
		return nil
	}
	return workerpool.RunPhase(pool, b.Blocks, func(ctx context.Context, blk csvio.Block) error {
		r, err := csvio.OpenBlock(blk, b.Opts)
		if err != nil {
			return err
		}
		defer r.Close()

		fwdCur := newListCursors(b.fwd, b.props)
		bwdCur := newListCursors(b.bwd, b.props)

		lineIdx := uint64(0)
		for {
			line, ok := r.Next()
			if !ok {
				break
			}
			relID := b.blockStart[blk.Index] + lineIdx
			lineIdx++
			if err := b.pass2Line(line, relID, fwdCur, bwdCur); err != nil {
				if le, ok := err.(*loaderr.Error); ok {
					return le.At(blk.Path, blk.Index, int(lineIdx))
				}
				return err
			}
		}
		return r.Err()
	})
}

// listCursors holds one overflow.Cursor per variable-length property
// for a non-single direction's pass-2 writes into its unsorted
// overflow file, reused across one block task's lines.
type listCursors map[uint32]*overflow.Cursor

func newListCursors(side *sideState, props []types.PropertyDef) listCursors {
	if side.single {
		return nil
	}
	cur := make(listCursors, len(props))
	for _, p := range props {
		if p.Type.IsVarLen() {
			cur[p.ID] = &overflow.Cursor{}
		}
	}
	return cur
}

func (b *Builder) pass2Line(line []byte, relID uint64, fwdCur, bwdCur listCursors) error {
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

	if !b.fwd.single {
		if err := b.placeInList(b.fwd, srcLabel, srcOffset, dstLabel, dstOffset, propFields, relID, fwdCur); err != nil {
			return err
		}
	}
	if !b.bwd.single {
		if err := b.placeInList(b.bwd, dstLabel, dstOffset, srcLabel, srcOffset, propFields, relID, bwdCur); err != nil {
			return err
		}
	}
	return nil
}

// placeInList is one non-single direction's pass-2 handling of one
// line: reserve the reverse position once (off the adjacency
// counters) and reuse it to place the neighbor and every property.
func (b *Builder) placeInList(side *sideState, srcLabel types.LabelID, srcOffset types.NodeOffset, neighborLabel types.LabelID, neighborOffset types.NodeOffset, propFields []string, relID uint64, cur listCursors) error {
	old := side.adjCounters[srcLabel].Decrement(srcOffset, 1)
	pos := old - 1

	adjLayout := side.adjLayout[srcLabel]
	pageIdx, byteOff := adjLayout.locate(srcOffset, pos, side.scheme.RecordSize())
	buf := make([]byte, side.scheme.RecordSize())
	if err := side.scheme.Encode(buf, neighborLabel, neighborOffset); err != nil {
		return err
	}
	if err := adjLayout.file.Write(pageIdx, byteOff, buf); err != nil {
		return err
	}

	for i, prop := range b.Label.Props {
		if i >= len(propFields) {
			break
		}
		if err := b.placePropInList(side, prop, srcLabel, srcOffset, pos, propFields[i], cur[prop.ID]); err != nil {
			return err
		}
	}
	return b.placeIDInList(side, srcLabel, srcOffset, pos, relID)
}

func (b *Builder) placePropInList(side *sideState, prop types.PropertyDef, srcLabel types.LabelID, srcOffset types.NodeOffset, pos uint64, raw string, cur *overflow.Cursor) error {
	layout := side.propLayout[prop.ID][srcLabel]
	pageIdx, byteOff := layout.locate(srcOffset, pos, prop.Type.FixedWidth())

	if csvio.IsNull(raw) {
		epp := layout.file.ElementsPerPage()
		elemIdx := byteOff / prop.Type.FixedWidth() % epp
		return layout.file.SetNullBit(pageIdx, elemIdx)
	}

	ovfl := side.propOvfl[prop.ID][srcLabel]
	if err := writeScalarRaw(layout.file, pageIdx, byteOff, prop.Type, raw, ovfl, cur); err != nil {
		return err
	}
	if prop.Type.IsVarLen() {
		b.recordOvflRef(side, prop.ID, srcLabel, srcOffset, pageIdx, byteOff)
	}
	return nil
}

func (b *Builder) placeIDInList(side *sideState, srcLabel types.LabelID, srcOffset types.NodeOffset, pos uint64, relID uint64) error {
	layout := side.propLayout[idPropID][srcLabel]
	pageIdx, byteOff := layout.locate(srcOffset, pos, 8)
	return writeLE(layout.file, pageIdx, byteOff, relID, 8)
}

func (b *Builder) recordOvflRef(side *sideState, propID uint32, label types.LabelID, offset types.NodeOffset, pageIdx, byteOff int) {
	b.resortRefsMu.Lock()
	b.resortRefs = append(b.resortRefs, ovflRef{side: side, propID: propID, label: label, offset: offset, pageIdx: pageIdx, byteOff: byteOff})
	b.resortRefsMu.Unlock()
}
