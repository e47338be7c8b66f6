package csvio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitFieldsBasic(t *testing.T) {
	opts := DefaultOptions()
	fields, err := SplitFields([]byte(`10,1.5,"hello, world"`), opts)
	require.NoError(t, err)
	require.Equal(t, []string{"10", "1.5", "hello, world"}, fields)
}

func TestSplitFieldsListLiteralNotSplit(t *testing.T) {
	opts := DefaultOptions()
	fields, err := SplitFields([]byte(`10,[1,2,3],done`), opts)
	require.NoError(t, err)
	require.Equal(t, []string{"10", "[1,2,3]", "done"}, fields)
}

func TestSplitFieldsEscapedSeparator(t *testing.T) {
	opts := DefaultOptions()
	fields, err := SplitFields([]byte(`a\,b,c`), opts)
	require.NoError(t, err)
	require.Equal(t, []string{"a,b", "c"}, fields)
}

func TestParseUnstructuredToken(t *testing.T) {
	tok, err := ParseUnstructuredToken("color:STRING:blue")
	require.NoError(t, err)
	require.Equal(t, "color", tok.Key)
	require.Equal(t, "blue", tok.Value)
}

func TestParseListLiteralNested(t *testing.T) {
	elems, err := ParseListLiteral("[[1,2],[3]]", DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, []string{"[1,2]", "[3]"}, elems)
}

func TestPlanBlocksHeaderSkip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes.csv")
	content := "ID:INT64,value:DOUBLE\n10,1.5\n20,2.5\n30,3.5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	blocks, err := PlanBlocks(path, int64(len(content)))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.True(t, blocks[0].SkipHeader)

	r, err := OpenBlock(blocks[0], DefaultOptions())
	require.NoError(t, err)
	defer r.Close()

	var lines []string
	for {
		l, ok := r.Next()
		if !ok {
			break
		}
		lines = append(lines, string(l))
	}
	require.NoError(t, r.Err())
	require.Equal(t, []string{"10,1.5", "20,2.5", "30,3.5"}, lines)
}

func TestPlanBlocksSplitAtLineBoundary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodes.csv")
	content := "ID:INT64,value:DOUBLE\n10,1.5\n20,2.5\n30,3.5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	blocks, err := PlanBlocks(path, 10) // force multiple small blocks
	require.NoError(t, err)
	require.Greater(t, len(blocks), 1)

	var allLines []string
	for _, b := range blocks {
		r, err := OpenBlock(b, DefaultOptions())
		require.NoError(t, err)
		for {
			l, ok := r.Next()
			if !ok {
				break
			}
			allLines = append(allLines, string(l))
		}
		require.NoError(t, r.Err())
		r.Close()
	}
	require.Equal(t, []string{"10,1.5", "20,2.5", "30,3.5"}, allLines)
}
