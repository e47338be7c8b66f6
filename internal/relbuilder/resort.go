package relbuilder

import (
	"context"
	"sort"

	"github.com/colgraph/bulkload/internal/overflow"
	"github.com/colgraph/bulkload/internal/types"
)

// resortBucket is the grain at which ResortOverflow groups variable-
// length property values before recopying them: values belonging to
// nodes in the same 256-node bucket are packed next to each other in
// the new overflow file, so a later scan over one bucket's property
// list touches far fewer distinct overflow pages than Pass2's
// scattered write order left behind.
const resortBucket = 256

// ResortOverflow is the final pre-flush step: every String-valued
// rel property written into a multi-multiplicity
// direction's list during Pass2 landed in CSV arrival order, which has
// no relationship to node offset locality. This walks every recorded
// reference once, grouped by (property, label, node bucket), and
// recopies each value into a fresh, locality-ordered CursorFile,
// rewriting the InlineString pointer left in the property list in
// place. Values that were small enough to be stored fully inline carry
// no overflow pointer and are left untouched.
func (b *Builder) ResortOverflow(ctx context.Context) error {
	if len(b.resortRefs) == 0 {
		return nil
	}

	refs := append([]ovflRef(nil), b.resortRefs...)
	sort.Slice(refs, func(i, j int) bool {
		a, c := refs[i], refs[j]
		if a.side != c.side {
			return a.side.dir < c.side.dir
		}
		if a.propID != c.propID {
			return a.propID < c.propID
		}
		if a.label != c.label {
			return a.label < c.label
		}
		ba, bc := uint64(a.offset)/resortBucket, uint64(c.offset)/resortBucket
		if ba != bc {
			return ba < bc
		}
		return a.offset < c.offset
	})

	type key struct {
		side   *sideState
		propID uint32
		label  types.LabelID
	}
	fresh := map[key]*overflow.CursorFile{}
	cursors := map[key]*overflow.Cursor{}

	for _, ref := range refs {
		k := key{ref.side, ref.propID, ref.label}
		nf, ok := fresh[k]
		if !ok {
			nf = overflow.NewCursorFile()
			fresh[k] = nf
			cursors[k] = &overflow.Cursor{}
		}

		layout := ref.side.propLayout[ref.propID][ref.label]
		old := layout.file.Page(ref.pageIdx)
		is := overflow.DecodeInlineString(old[ref.byteOff : ref.byteOff+16])
		if is.Len <= 12 {
			continue // stored fully inline, no overflow pointer to move
		}

		oldOvfl := ref.side.propOvfl[ref.propID][ref.label]
		raw := readOverflowString(oldOvfl, is)

		newIS, err := nf.CopyString(raw, cursors[k])
		if err != nil {
			return err
		}
		enc := newIS.Encode()
		if err := layout.file.Write(ref.pageIdx, ref.byteOff, enc[:]); err != nil {
			return err
		}
	}

	for k, nf := range fresh {
		k.side.propOvfl[k.propID][k.label] = nf
	}
	return nil
}

// readOverflowString reads back the raw bytes an earlier CopyString
// call placed in f at is's pointer.
func readOverflowString(f *overflow.CursorFile, is overflow.InlineString) []byte {
	ptr := is.Pointer()
	p := f.Pages().Page(int(ptr.PageIdx()))
	start := int(ptr.OffsetInPage())
	return p[start : start+int(is.Len)]
}
