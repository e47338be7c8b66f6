package nodebuilder

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/colgraph/bulkload/internal/csvio"
	"github.com/colgraph/bulkload/internal/pkindex"
	"github.com/colgraph/bulkload/internal/types"
	"github.com/colgraph/bulkload/internal/workerpool"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "person.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func personLabel() *types.NodeLabel {
	return &types.NodeLabel{
		Name:   "Person",
		IDType: types.IDInt64,
		StructuredProps: []types.PropertyDef{
			{Name: "name", ID: 0, Type: types.String},
			{Name: "age", ID: 1, Type: types.Int64},
		},
	}
}

func runPipeline(t *testing.T, csv string) (*Builder, *workerpool.Pool) {
	t.Helper()
	path := writeCSV(t, csv)
	blocks, err := csvio.PlanBlocks(path, csvio.DefaultBlockSize)
	require.NoError(t, err)

	b := New(personLabel(), blocks, csvio.DefaultOptions())
	pool := workerpool.New(context.Background(), 4)

	require.NoError(t, b.CountAndDiscover(context.Background(), pool))
	require.NoError(t, b.InitStorage(context.Background()))
	require.NoError(t, b.Populate(context.Background(), pool))
	require.NoError(t, b.BuildUnstructuredLists(context.Background()))
	require.NoError(t, b.PopulateUnstructuredLists(context.Background(), pool))
	return b, pool
}

// TestMinimalIntegerKeyLabel exercises a single-block node label with
// no unstructured properties: every structured column value and every
// primary-key lookup must round-trip exactly.
func TestMinimalIntegerKeyLabel(t *testing.T) {
	csv := "id,name,age\n" +
		"1,Alice,30\n" +
		"2,Bob,41\n" +
		"3,Carol,\n"

	b, pool := runPipeline(t, csv)
	defer pool.Close()

	require.EqualValues(t, 3, b.Label.NumNodes)
	require.False(t, b.hasUnstructured)

	off1, ok := b.Index.Lookup(pkindex.IntKey(1))
	require.True(t, ok)
	off2, ok := b.Index.Lookup(pkindex.IntKey(2))
	require.True(t, ok)
	off3, ok := b.Index.Lookup(pkindex.IntKey(3))
	require.True(t, ok)
	require.ElementsMatch(t, []uint64{0, 1, 2}, []uint64{off1, off2, off3})

	ageCol := b.columns[1]
	epp := ageCol.file.ElementsPerPage()
	readAge := func(offset uint64) int64 {
		pageIdx := int(offset / uint64(epp))
		elemOff := int(offset%uint64(epp)) * 8
		page := ageCol.file.Page(pageIdx)
		return int64(binary.LittleEndian.Uint64(page[elemOff : elemOff+8]))
	}
	require.EqualValues(t, 30, readAge(off1))
	require.EqualValues(t, 41, readAge(off2))

	// Carol's age field was empty: the null bit must be set.
	nullMaskStart := 4096 - ageCol.file.NullMaskBytes()
	page := ageCol.file.Page(int(off3 / uint64(epp)))
	byteIdx := nullMaskStart + int(off3%uint64(epp))/8
	bit := byte(1) << uint(off3%8)
	require.NotZero(t, page[byteIdx]&bit)
}

// TestDuplicatePrimaryKeyIsFatal ensures Populate surfaces a
// ConstraintViolation the first time a repeated primary key appears.
func TestDuplicatePrimaryKeyIsFatal(t *testing.T) {
	csv := "id,name,age\n" +
		"1,Alice,30\n" +
		"1,Alicia,31\n"

	path := writeCSV(t, csv)
	blocks, err := csvio.PlanBlocks(path, csvio.DefaultBlockSize)
	require.NoError(t, err)

	b := New(personLabel(), blocks, csvio.DefaultOptions())
	pool := workerpool.New(context.Background(), 2)
	defer pool.Close()

	require.NoError(t, b.CountAndDiscover(context.Background(), pool))
	require.NoError(t, b.InitStorage(context.Background()))
	err = b.Populate(context.Background(), pool)
	require.Error(t, err)
}

// TestUnstructuredPropertiesRoundTrip covers the unstructured
// property path: discovery, list sizing, and the
// reverse-position reservoir that lays out each node's unstructured
// values without page-write races.
func TestUnstructuredPropertiesRoundTrip(t *testing.T) {
	csv := "id,name,age\n" +
		"1,Alice,30,city:STRING:Berlin,score:DOUBLE:9.5\n" +
		"2,Bob,41,city:STRING:Oslo\n" +
		"3,Carol,52,score:DOUBLE:7.25\n"

	b, pool := runPipeline(t, csv)
	defer pool.Close()

	require.True(t, b.hasUnstructured)
	require.Len(t, b.Label.UnstructuredPropIDs, 2)
	_, hasCity := b.Label.UnstructuredPropIDs["city"]
	_, hasScore := b.Label.UnstructuredPropIDs["score"]
	require.True(t, hasCity)
	require.True(t, hasScore)

	offAlice, _ := b.Index.Lookup(pkindex.IntKey(1))
	wantSize := uint64((unstrHeaderLen + types.String.FixedWidth()) + (unstrHeaderLen + types.Double.FixedWidth()))
	require.Equal(t, wantSize, b.unstrSizes[offAlice])

	offBob, _ := b.Index.Lookup(pkindex.IntKey(2))
	require.Equal(t, uint64(unstrHeaderLen+types.String.FixedWidth()), b.unstrSizes[offBob])
}
