// Package nodebuilder implements the per-node-label builder: it
// discovers unstructured property names, allocates
// structured-property columns and a primary-key index, populates both
// in a block-parallel pass, then sizes, lays out, and populates the
// label's unstructured-property list storage.
package nodebuilder

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/colgraph/bulkload/internal/csvio"
	"github.com/colgraph/bulkload/internal/layout"
	"github.com/colgraph/bulkload/internal/listheader"
	"github.com/colgraph/bulkload/internal/listmeta"
	"github.com/colgraph/bulkload/internal/listsize"
	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/overflow"
	"github.com/colgraph/bulkload/internal/page"
	"github.com/colgraph/bulkload/internal/pkindex"
	"github.com/colgraph/bulkload/internal/types"
	"github.com/colgraph/bulkload/internal/workerpool"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// unstrHeaderLen is the fixed (propertyKeyId:u32, dataTypeId:u8)
// prefix written before every unstructured property value.
const unstrHeaderLen = 5

// column is one structured property's on-disk storage, plus an
// overflow cursor file for the variable-length types.
type column struct {
	prop  types.PropertyDef
	file  *page.File
	ovfl  *overflow.CursorFile // non-nil only for String/List properties
}

// Builder is the per-node-label node builder. One Builder handles one
// label end to end: CountAndDiscover, InitStorage, Populate,
// BuildUnstructuredLists, PopulateUnstructuredLists, Flush.
type Builder struct {
	Label  *types.NodeLabel
	Blocks []csvio.Block
	Opts   csvio.Options
	// Alloc chooses each column/list file's backing against the
	// loader's memory budget; nil means plain heap pages.
	Alloc *page.Allocator

	blockStart []uint64 // cumulative line count before block i
	numNodes   uint64

	columns []*column
	colByID map[uint32]*column
	Index   *pkindex.Index

	hasUnstructured bool
	unstrCounters   *listsize.Counters
	unstrSizes      []uint64
	unstrHeaders    []listheader.Header
	unstrMeta       *listmeta.Metadata
	unstrPages      *page.File
	unstrOverflow   *overflow.AppendFile
}

// New creates a Builder for label over blocks, with the dataset's CSV
// dialect.
func New(label *types.NodeLabel, blocks []csvio.Block, opts csvio.Options) *Builder {
	return &Builder{Label: label, Blocks: blocks, Opts: opts, colByID: map[uint32]*column{}}
}

type blockCount struct {
	lines     uint64
	unstrKeys map[string]types.DataType
}

// CountAndDiscover counts data lines per block and unions every
// block's discovered unstructured property keys into the label's
// sorted unstructured-property list.
func (b *Builder) CountAndDiscover(ctx context.Context, pool *workerpool.Pool) error {
	results := make([]blockCount, len(b.Blocks))
	err := workerpool.RunPhase(pool, b.Blocks, func(ctx context.Context, blk csvio.Block) error {
		r, err := csvio.OpenBlock(blk, b.Opts)
		if err != nil {
			return err
		}
		defer r.Close()

		bc := blockCount{unstrKeys: map[string]types.DataType{}}
		numStructured := len(b.Label.StructuredProps)
		for {
			line, ok := r.Next()
			if !ok {
				break
			}
			bc.lines++
			fields, err := csvio.SplitFields(line, b.Opts)
			if err != nil {
				return err.(*loaderr.Error).At(blk.Path, blk.Index, int(bc.lines))
			}
			for _, tok := range fields[1+numStructured:] {
				if tok == "" {
					continue
				}
				ut, err := csvio.ParseUnstructuredToken(tok)
				if err != nil {
					return err.(*loaderr.Error).At(blk.Path, blk.Index, int(bc.lines))
				}
				if ut.Type == types.List {
					return loaderr.Newf(loaderr.SchemaError, "unstructured LIST property %q is not supported", ut.Key).
						At(blk.Path, blk.Index, int(bc.lines))
				}
				bc.unstrKeys[ut.Key] = ut.Type
			}
		}
		if err := r.Err(); err != nil {
			return err
		}
		results[blk.Index] = bc
		return nil
	})
	if err != nil {
		return err
	}

	b.blockStart = make([]uint64, len(results)+1)
	union := map[string]types.DataType{}
	for i, bc := range results {
		b.blockStart[i+1] = b.blockStart[i] + bc.lines
		for k, t := range bc.unstrKeys {
			union[k] = t
		}
	}
	b.numNodes = b.blockStart[len(results)]

	names := make([]string, 0, len(union))
	for k := range union {
		names = append(names, k)
	}
	sortUnicode(names)

	b.Label.UnstructuredPropIDs = make(map[string]uint32, len(names))
	for i, name := range names {
		b.Label.UnstructuredPropIDs[name] = uint32(i)
	}
	b.hasUnstructured = len(names) > 0
	b.Label.NumNodes = b.numNodes
	return nil
}

// sortUnicode sorts names by Unicode collation key rather than raw
// byte value, so multi-byte UTF-8 property names still sort
// deterministically.
func sortUnicode(names []string) {
	c := collate.New(language.Und)
	sort.Slice(names, func(i, j int) bool {
		return c.CompareString(names[i], names[j]) < 0
	})
}

// InitStorage allocates one column per structured property and a
// pre-sized primary-key index.
func (b *Builder) InitStorage(ctx context.Context) error {
	for _, prop := range b.Label.StructuredProps {
		epp := page.ElementsPerPageFor(prop.Type.FixedWidth(), true)
		f := b.Alloc.NewFile(prop.Type.FixedWidth(), true, pagesNeeded(b.numNodes, epp))
		col := &column{prop: prop, file: f}
		if prop.Type.IsVarLen() {
			col.ovfl = overflow.NewCursorFile()
		}
		b.columns = append(b.columns, col)
		b.colByID[prop.ID] = col
	}

	b.Index = pkindex.New()
	b.Index.BulkReserve(int(b.numNodes))

	if b.hasUnstructured {
		b.unstrCounters = listsize.New(b.numNodes)
		b.unstrOverflow = overflow.NewAppendFile()
	}
	return nil
}

func pagesNeeded(numElems uint64, elementsPerPage int) int {
	if elementsPerPage == 0 {
		return 0
	}
	n := int((numElems + uint64(elementsPerPage) - 1) / uint64(elementsPerPage))
	if n < 1 {
		n = 1
	}
	return n
}

// Populate runs parallel over blocks, writing structured values into
// columns, inserting primary keys into the index, and accumulating
// unstructured-list sizes.
func (b *Builder) Populate(ctx context.Context, pool *workerpool.Pool) error {
	return workerpool.RunPhase(pool, b.Blocks, func(ctx context.Context, blk csvio.Block) error {
		r, err := csvio.OpenBlock(blk, b.Opts)
		if err != nil {
			return err
		}
		defer r.Close()

		cur := make([]overflow.Cursor, len(b.columns))
		lineIdx := uint64(0)
		for {
			line, ok := r.Next()
			if !ok {
				break
			}
			offset := types.NodeOffset(b.blockStart[blk.Index] + lineIdx)
			lineIdx++
			if err := b.populateLine(line, offset, cur); err != nil {
				if le, ok := err.(*loaderr.Error); ok {
					return le.At(blk.Path, blk.Index, int(lineIdx))
				}
				return err
			}
		}
		return r.Err()
	})
}

func (b *Builder) populateLine(line []byte, offset types.NodeOffset, cur []overflow.Cursor) error {
	fields, err := csvio.SplitFields(line, b.Opts)
	if err != nil {
		return err
	}
	numStructured := len(b.Label.StructuredProps)
	if len(fields) < 1+numStructured {
		return loaderr.Newf(loaderr.SchemaError, "line has %d fields, want at least %d", len(fields), 1+numStructured)
	}

	key, err := b.parseKey(fields[0])
	if err != nil {
		return err
	}
	ok, err := b.Index.Append(key, uint64(offset))
	if err != nil {
		return err
	}
	if !ok {
		return loaderr.Newf(loaderr.ConstraintViolation, "duplicate primary key %v", fields[0])
	}

	for i, col := range b.columns {
		raw := fields[1+i]
		if err := writeColumnValue(col, offset, raw, &cur[i]); err != nil {
			return err
		}
	}

	if b.hasUnstructured {
		for _, tok := range fields[1+numStructured:] {
			if tok == "" {
				continue
			}
			ut, err := csvio.ParseUnstructuredToken(tok)
			if err != nil {
				return err
			}
			if _, known := b.Label.UnstructuredPropIDs[ut.Key]; !known {
				continue
			}
			b.unstrCounters.Increment(offset, uint64(unstrHeaderLen+ut.Type.FixedWidth()))
		}
	}
	return nil
}

func (b *Builder) parseKey(raw string) (pkindex.Key, error) {
	switch b.Label.IDType {
	case types.IDInt64:
		v, err := csvio.ParseInt64(raw)
		if err != nil {
			return nil, err
		}
		return pkindex.IntKey(v), nil
	default:
		return pkindex.StringKey(raw), nil
	}
}

func writeColumnValue(col *column, offset types.NodeOffset, raw string, cur *overflow.Cursor) error {
	epp := col.file.ElementsPerPage()
	pageIdx := int(uint64(offset) / uint64(epp))
	elemOff := int(uint64(offset)%uint64(epp)) * bytesPerElementOf(col)

	if csvio.IsNull(raw) {
		return col.file.SetNullBit(pageIdx, int(uint64(offset)%uint64(epp)))
	}

	switch col.prop.Type {
	case types.Int64, types.Timestamp:
		v, err := csvio.ParseInt64(raw)
		if err != nil {
			return err
		}
		return writeLE(col.file, pageIdx, elemOff, uint64(v), 8)
	case types.Double:
		v, err := csvio.ParseDouble(raw)
		if err != nil {
			return err
		}
		return writeLE(col.file, pageIdx, elemOff, math.Float64bits(v), 8)
	case types.Bool:
		v, err := csvio.ParseBool(raw)
		if err != nil {
			return err
		}
		b := byte(0)
		if v {
			b = 1
		}
		return col.file.Write(pageIdx, elemOff, []byte{b})
	case types.Date:
		v, err := csvio.ParseInt64(raw)
		if err != nil {
			return err
		}
		return writeLE(col.file, pageIdx, elemOff, uint64(uint32(v)), 4)
	case types.Interval:
		months, days, millis, err := csvio.ParseInterval(raw)
		if err != nil {
			return err
		}
		var buf [12]byte
		binary.LittleEndian.PutUint32(buf[0:4], months)
		binary.LittleEndian.PutUint32(buf[4:8], days)
		binary.LittleEndian.PutUint32(buf[8:12], millis)
		return col.file.Write(pageIdx, elemOff, buf[:])
	case types.String:
		is, err := col.ovfl.CopyString([]byte(raw), cur)
		if err != nil {
			return err
		}
		enc := is.Encode()
		return col.file.Write(pageIdx, elemOff, enc[:])
	default:
		return loaderr.Newf(loaderr.SchemaError, "unsupported structured property type %v", col.prop.Type)
	}
}

func bytesPerElementOf(col *column) int { return col.prop.Type.FixedWidth() }

func writeLE(f *page.File, pageIdx, off int, v uint64, width int) error {
	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return f.Write(pageIdx, off, buf)
}

// BuildUnstructuredLists sizes and lays out the unstructured-property
// list storage from the counters Populate accumulated.
func (b *Builder) BuildUnstructuredLists(ctx context.Context) error {
	if !b.hasUnstructured {
		return nil
	}
	b.unstrSizes = b.unstrCounters.Snapshot()
	headers, err := listheader.Encode(b.unstrSizes, page.Size)
	if err != nil {
		return err
	}
	b.unstrHeaders = headers
	b.unstrMeta = listmeta.Build(b.unstrSizes, headers, page.Size)

	b.unstrPages = b.Alloc.NewFile(1, false, int(b.unstrMeta.NumPages))
	return nil
}

// PopulateUnstructuredLists re-reads every block and places each
// unstructured value at its reverse-reserved list position.
func (b *Builder) PopulateUnstructuredLists(ctx context.Context, pool *workerpool.Pool) error {
	if !b.hasUnstructured {
		return nil
	}
	numStructured := len(b.Label.StructuredProps)
	return workerpool.RunPhase(pool, b.Blocks, func(ctx context.Context, blk csvio.Block) error {
		r, err := csvio.OpenBlock(blk, b.Opts)
		if err != nil {
			return err
		}
		defer r.Close()

		lineIdx := uint64(0)
		for {
			line, ok := r.Next()
			if !ok {
				break
			}
			offset := types.NodeOffset(b.blockStart[blk.Index] + lineIdx)
			lineIdx++
			fields, err := csvio.SplitFields(line, b.Opts)
			if err != nil {
				return err
			}
			for _, tok := range fields[1+numStructured:] {
				if tok == "" {
					continue
				}
				ut, err := csvio.ParseUnstructuredToken(tok)
				if err != nil {
					return err
				}
				propID, known := b.Label.UnstructuredPropIDs[ut.Key]
				if !known {
					continue
				}
				if err := b.writeUnstructuredValue(offset, propID, ut); err != nil {
					return err
				}
			}
		}
		return r.Err()
	})
}

func (b *Builder) writeUnstructuredValue(offset types.NodeOffset, propID uint32, ut csvio.UnstructuredToken) error {
	valueBytes, err := b.encodeUnstructuredScalar(ut)
	if err != nil {
		return err
	}

	record := make([]byte, unstrHeaderLen+len(valueBytes))
	binary.LittleEndian.PutUint32(record[0:4], propID)
	record[4] = byte(ut.Type)
	copy(record[unstrHeaderLen:], valueBytes)

	payloadSize := uint64(len(record))
	old := b.unstrCounters.Decrement(offset, payloadSize)
	startPos := old - payloadSize
	return b.writeUnstructuredBytes(offset, startPos, record)
}

// writeUnstructuredBytes places data at the list position startPos of
// offset's unstructured list, splitting the write wherever the list's
// page run crosses a page boundary (only possible for large lists;
// small lists fit one page whole).
func (b *Builder) writeUnstructuredBytes(offset types.NodeOffset, startPos uint64, data []byte) error {
	h := b.unstrHeaders[offset]
	pos := startPos
	for len(data) > 0 {
		pageIdx, byteOff := listmeta.Locate(h, pos, offset, page.Size, b.unstrMeta, 1)
		n := page.Size - byteOff
		if n > len(data) {
			n = len(data)
		}
		if err := b.unstrPages.Write(int(pageIdx), byteOff, data[:n]); err != nil {
			return err
		}
		pos += uint64(n)
		data = data[n:]
	}
	return nil
}

func (b *Builder) encodeUnstructuredScalar(ut csvio.UnstructuredToken) ([]byte, error) {
	switch ut.Type {
	case types.String:
		is, err := b.unstrOverflow.AppendString([]byte(ut.Value))
		if err != nil {
			return nil, err
		}
		enc := is.Encode()
		return enc[:], nil
	case types.Int64, types.Timestamp:
		v, err := csvio.ParseInt64(ut.Value)
		if err != nil {
			return nil, err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		return buf[:], nil
	case types.Double:
		v, err := csvio.ParseDouble(ut.Value)
		if err != nil {
			return nil, err
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		return buf[:], nil
	case types.Bool:
		v, err := csvio.ParseBool(ut.Value)
		if err != nil {
			return nil, err
		}
		if v {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case types.Date:
		v, err := csvio.ParseInt64(ut.Value)
		if err != nil {
			return nil, err
		}
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(v))
		return buf[:], nil
	case types.Interval:
		months, days, millis, err := csvio.ParseInterval(ut.Value)
		if err != nil {
			return nil, err
		}
		var buf [12]byte
		binary.LittleEndian.PutUint32(buf[0:4], months)
		binary.LittleEndian.PutUint32(buf[4:8], days)
		binary.LittleEndian.PutUint32(buf[8:12], millis)
		return buf[:], nil
	default:
		return nil, loaderr.Newf(loaderr.SchemaError, "unsupported unstructured property type %v", ut.Type)
	}
}

// Flush writes every structured column, the primary-key index, and
// (if present) the unstructured-list storage.
func (b *Builder) Flush(ctx context.Context, outDir string) error {
	var wg sync.WaitGroup
	errs := make([]error, len(b.columns)+2)

	for i, col := range b.columns {
		i, col := i, col
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = b.flushColumn(ctx, outDir, col)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[len(b.columns)] = b.Index.Flush(ctx, layout.NodePKIndex(outDir, b.Label.Name), layout.NodePKIndexOverflow(outDir, b.Label.Name))
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[len(b.columns)+1] = b.flushUnstructured(ctx, outDir)
	}()
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

func (b *Builder) flushColumn(ctx context.Context, outDir string, col *column) error {
	path := layout.NodeColumn(outDir, b.Label.Name, col.prop.Name)
	if err := col.file.Flush(ctx, path); err != nil {
		return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("flush column %s", path))
	}
	if col.ovfl != nil {
		ovflPath := layout.NodeColumnOverflow(outDir, b.Label.Name, col.prop.Name)
		if err := col.ovfl.Pages().Flush(ctx, ovflPath); err != nil {
			return loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("flush column overflow %s", ovflPath))
		}
	}
	return nil
}

func (b *Builder) flushUnstructured(ctx context.Context, outDir string) error {
	if !b.hasUnstructured {
		return nil
	}
	listsPath, headersPath, metaPath := layout.NodeUnstructuredLists(outDir, b.Label.Name)
	if err := b.unstrPages.Flush(ctx, listsPath); err != nil {
		return loaderr.Wrap(loaderr.IO, err, "flush unstructured lists")
	}
	if err := listheader.WriteHeaders(ctx, headersPath, b.unstrHeaders); err != nil {
		return loaderr.Wrap(loaderr.IO, err, "flush unstructured list headers")
	}
	if err := listmeta.WriteMetadata(ctx, metaPath, b.unstrMeta); err != nil {
		return loaderr.Wrap(loaderr.IO, err, "flush unstructured list metadata")
	}
	return nil
}
