package relbuilder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/colgraph/bulkload/internal/csvio"
	"github.com/colgraph/bulkload/internal/listmeta"
	"github.com/colgraph/bulkload/internal/loaderr"
	"github.com/colgraph/bulkload/internal/nodebuilder"
	"github.com/colgraph/bulkload/internal/overflow"
	"github.com/colgraph/bulkload/internal/pkindex"
	"github.com/colgraph/bulkload/internal/types"
	"github.com/colgraph/bulkload/internal/workerpool"
	"github.com/stretchr/testify/require"
)

const (
	personLabelID types.LabelID = 0
	cityLabelID   types.LabelID = 1
)

// buildNode runs the full node-builder pipeline for a tiny Int64-keyed
// label with no properties beyond its primary key, returning the
// populated builder (label.NumNodes set, Index populated).
func buildNode(t *testing.T, name string, csv string) *nodebuilder.Builder {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name+".csv")
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	blocks, err := csvio.PlanBlocks(path, csvio.DefaultBlockSize)
	require.NoError(t, err)

	label := &types.NodeLabel{Name: name, IDType: types.IDInt64}
	nb := nodebuilder.New(label, blocks, csvio.DefaultOptions())
	pool := workerpool.New(context.Background(), 4)
	defer pool.Close()

	require.NoError(t, nb.CountAndDiscover(context.Background(), pool))
	require.NoError(t, nb.InitStorage(context.Background()))
	require.NoError(t, nb.Populate(context.Background(), pool))
	require.NoError(t, nb.BuildUnstructuredLists(context.Background()))
	require.NoError(t, nb.PopulateUnstructuredLists(context.Background(), pool))
	return nb
}

func livesInLabel() *types.RelLabel {
	return &types.RelLabel{
		Name:         "LIVES_IN",
		Multiplicity: types.ManyOne,
		SrcLabels:    []types.LabelID{personLabelID},
		DstLabels:    []types.LabelID{cityLabelID},
		Props:        []types.PropertyDef{{Name: "year", ID: 0, Type: types.Int64}},
	}
}

func writeRelCSV(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "lives_in.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func newRelFixture(t *testing.T, csv string) (*Builder, *workerpool.Pool, *nodebuilder.Builder, *nodebuilder.Builder) {
	t.Helper()
	personNB := buildNode(t, "person", "id\n1\n2\n3\n")
	cityNB := buildNode(t, "city", "id\n10\n11\n")

	path := writeRelCSV(t, csv)
	blocks, err := csvio.PlanBlocks(path, csvio.DefaultBlockSize)
	require.NoError(t, err)

	nodeLabels := map[types.LabelID]*NodeLabelInfo{
		personLabelID: {Label: personNB.Label, Index: personNB.Index},
		cityLabelID:   {Label: cityNB.Label, Index: cityNB.Index},
	}
	labelIDByName := map[string]types.LabelID{"person": personLabelID, "city": cityLabelID}

	b := New(livesInLabel(), blocks, csvio.DefaultOptions(), nodeLabels, labelIDByName, 2)
	pool := workerpool.New(context.Background(), 4)
	return b, pool, personNB, cityNB
}

// TestManyOneSingleInFWDMultiInBWD checks that MANY_ONE writes a
// direct adjacency column (and direct property
// column) on the FWD side, and counts into a list on the BWD side.
func TestManyOneSingleInFWDMultiInBWD(t *testing.T) {
	csv := "src,srcLabel,dst,dstLabel,year\n" +
		"1,person,10,city,2020\n" +
		"2,person,10,city,2021\n" +
		"3,person,11,city,2022\n"

	b, pool, personNB, cityNB := newRelFixture(t, csv)
	defer pool.Close()
	ctx := context.Background()

	require.NoError(t, b.CountLines(ctx, pool))
	require.NoError(t, b.Pass1(ctx, pool))
	require.NoError(t, b.BuildListMetadata(ctx))
	require.NoError(t, b.Pass2(ctx, pool))
	require.NoError(t, b.ResortOverflow(ctx))

	require.True(t, b.fwd.single)
	require.False(t, b.bwd.single)

	// FWD: every person has exactly one city written directly.
	personOff1, ok := personNB.Index.Lookup(pkindex.IntKey(1))
	require.True(t, ok)
	col := b.fwd.adjColumn[personLabelID]
	epp := col.ElementsPerPage()
	recSize := b.fwd.scheme.RecordSize()
	pageIdx := int(personOff1 / uint64(epp))
	byteOff := int(personOff1%uint64(epp)) * recSize
	raw := col.Page(pageIdx)[byteOff : byteOff+recSize]
	_, dstOff := b.fwd.scheme.Decode(raw)

	cityOff10, ok := cityNB.Index.Lookup(pkindex.IntKey(10))
	require.True(t, ok)
	require.EqualValues(t, cityOff10, dstOff)

	// FWD property "year" also lands as a direct column value.
	yearCol := b.fwd.propColumn[0][personLabelID]
	yearEpp := yearCol.file.ElementsPerPage()
	yPage := int(personOff1 / uint64(yearEpp))
	yOff := int(personOff1%uint64(yearEpp)) * 8
	yearBytes := yearCol.file.Page(yPage)[yOff : yOff+8]
	require.EqualValues(t, 2020, le64(yearBytes))

	// BWD: city 10 has two incoming edges (from persons 1 and 2), city
	// 11 has one (from person 3).
	cityOff11, ok := cityNB.Index.Lookup(pkindex.IntKey(11))
	require.True(t, ok)
	require.Equal(t, uint64(2), b.bwd.adjSizes[cityLabelID][cityOff10])
	require.Equal(t, uint64(1), b.bwd.adjSizes[cityLabelID][cityOff11])

	layout := b.bwd.adjLayout[cityLabelID]
	header := layout.headers[cityOff10]
	var gotSrc []uint64
	for pos := uint64(0); pos < 2; pos++ {
		p, off := listmeta.Locate(header, pos, types.NodeOffset(cityOff10), layout.file.ElementsPerPage(), layout.meta, b.bwd.scheme.RecordSize())
		raw := layout.file.Page(int(p))[off : off+b.bwd.scheme.RecordSize()]
		_, srcOff := b.bwd.scheme.Decode(raw)
		gotSrc = append(gotSrc, uint64(srcOff))
	}
	personOff2, ok := personNB.Index.Lookup(pkindex.IntKey(2))
	require.True(t, ok)
	// One block, so pass 2 is sequential and the reverse-position
	// reservoir yields exactly the reverse of CSV order.
	require.Equal(t, []uint64{personOff2, personOff1}, gotSrc)

	require.NoError(t, b.Flush(ctx, t.TempDir()))
}

// TestManyOneCollisionIsFatal ensures a second edge for the same
// single-side node is reported as a fatal error rather than silently
// overwriting the first.
func TestManyOneCollisionIsFatal(t *testing.T) {
	csv := "src,srcLabel,dst,dstLabel,year\n" +
		"1,person,10,city,2020\n" +
		"1,person,11,city,2021\n"

	b, pool, _, _ := newRelFixture(t, csv)
	defer pool.Close()
	ctx := context.Background()

	require.NoError(t, b.CountLines(ctx, pool))
	err := b.Pass1(ctx, pool)
	require.Error(t, err)
}

// TestUnknownRelEndpointKeyIsFatal checks that a rel body
// referencing a primary key never inserted into the endpoint
// label's index fails pass 1 with a ConstraintViolation.
func TestUnknownRelEndpointKeyIsFatal(t *testing.T) {
	csv := "src,srcLabel,dst,dstLabel,year\n" +
		"99,person,10,city,2020\n"

	b, pool, _, _ := newRelFixture(t, csv)
	defer pool.Close()
	ctx := context.Background()

	require.NoError(t, b.CountLines(ctx, pool))
	err := b.Pass1(ctx, pool)
	require.Error(t, err)
	require.True(t, loaderr.Of(err, loaderr.ConstraintViolation), "got %v", err)
}

func manyManyNamedLabel() *types.RelLabel {
	return &types.RelLabel{
		Name:         "VISITED",
		Multiplicity: types.ManyMany,
		SrcLabels:    []types.LabelID{personLabelID},
		DstLabels:    []types.LabelID{cityLabelID},
		Props:        []types.PropertyDef{{Name: "name", ID: 0, Type: types.String}},
	}
}

// TestManyManyStringPropertyResort checks that after ResortOverflow,
// each source node's long string payloads sit
// contiguously in the ordered overflow file and every InlineString in
// the property list points into that file, not the pass-2 one.
func TestManyManyStringPropertyResort(t *testing.T) {
	csv := "src,srcLabel,dst,dstLabel,name\n" +
		"1,person,10,city,alpha-alpha-alpha-alpha\n" +
		"1,person,11,city,gamma-gamma-gamma-gamma\n" +
		"2,person,10,city,beta-beta-beta-beta\n"

	personNB := buildNode(t, "person", "id\n1\n2\n3\n")
	cityNB := buildNode(t, "city", "id\n10\n11\n")

	path := writeRelCSV(t, csv)
	blocks, err := csvio.PlanBlocks(path, csvio.DefaultBlockSize)
	require.NoError(t, err)

	nodeLabels := map[types.LabelID]*NodeLabelInfo{
		personLabelID: {Label: personNB.Label, Index: personNB.Index},
		cityLabelID:   {Label: cityNB.Label, Index: cityNB.Index},
	}
	labelIDByName := map[string]types.LabelID{"person": personLabelID, "city": cityLabelID}

	b := New(manyManyNamedLabel(), blocks, csvio.DefaultOptions(), nodeLabels, labelIDByName, 2)
	pool := workerpool.New(context.Background(), 4)
	defer pool.Close()
	ctx := context.Background()

	require.NoError(t, b.CountLines(ctx, pool))
	require.NoError(t, b.Pass1(ctx, pool))
	require.NoError(t, b.BuildListMetadata(ctx))
	require.NoError(t, b.Pass2(ctx, pool))
	require.NoError(t, b.ResortOverflow(ctx))

	personOff1, _ := personNB.Index.Lookup(pkindex.IntKey(1))
	personOff2, _ := personNB.Index.Lookup(pkindex.IntKey(2))

	layout := b.fwd.propLayout[0][personLabelID]
	ordered := b.fwd.propOvfl[0][personLabelID]

	readEntry := func(off uint64, pos uint64) (overflow.InlineString, []byte) {
		p, byteOff := layout.locate(types.NodeOffset(off), pos, 16)
		is := overflow.DecodeInlineString(layout.file.Page(p)[byteOff : byteOff+16])
		return is, readOverflowString(ordered, is)
	}

	// Person 1 wrote two edges in CSV order alpha, gamma; pass 2 placed
	// them in reverse, so position 0 holds gamma and position 1 alpha.
	isGamma, gotGamma := readEntry(personOff1, 0)
	isAlpha, gotAlpha := readEntry(personOff1, 1)
	require.Equal(t, "gamma-gamma-gamma-gamma", string(gotGamma))
	require.Equal(t, "alpha-alpha-alpha-alpha", string(gotAlpha))

	// Both payloads of person 1 are adjacent in the ordered overflow.
	require.Equal(t, isGamma.Pointer().PageIdx(), isAlpha.Pointer().PageIdx())
	lo := int(isGamma.Pointer().OffsetInPage())
	hi := int(isAlpha.Pointer().OffsetInPage())
	if lo > hi {
		lo, hi = hi, lo
	}
	require.Equal(t, lo+len(gotGamma), hi)

	_, gotBeta := readEntry(personOff2, 0)
	require.Equal(t, "beta-beta-beta-beta", string(gotBeta))
}

func le64(b []byte) int64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return int64(v)
}
