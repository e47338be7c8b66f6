package overflow

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInlineShortRoundTrip(t *testing.T) {
	af := NewAppendFile()
	raw := []byte("hello")
	is, err := af.AppendString(raw)
	require.NoError(t, err)
	require.Equal(t, uint32(5), is.Len)
	require.Equal(t, raw, af.ReadString(is))
}

func TestOverflowPointerCorrectness(t *testing.T) {
	af := NewAppendFile()
	raw := bytes.Repeat([]byte("xy"), 100) // 200 bytes, forces overflow path
	is, err := af.AppendString(raw)
	require.NoError(t, err)
	require.Greater(t, int(is.Len), 12)

	ptr := is.Pointer()
	got := af.ReadString(is)
	require.Equal(t, raw, got)

	p := af.Pages().Page(int(ptr.PageIdx()))
	start := int(ptr.OffsetInPage())
	require.Equal(t, raw, p[start:start+len(raw)])
}

func TestAppendFilePageRollover(t *testing.T) {
	af := NewAppendFile()
	big := bytes.Repeat([]byte("a"), 4000)
	is1, err := af.AppendString(big)
	require.NoError(t, err)
	is2, err := af.AppendString(big)
	require.NoError(t, err)
	require.NotEqual(t, is1.Pointer().PageIdx(), is2.Pointer().PageIdx(), "second long string should roll to a new page")
}

func TestCursorFileCopyString(t *testing.T) {
	cf := NewCursorFile()
	var cur Cursor
	raw := bytes.Repeat([]byte("z"), 50)
	is, err := cf.CopyString(raw, &cur)
	require.NoError(t, err)
	ptr := is.Pointer()
	p := cf.Pages().Page(int(ptr.PageIdx()))
	start := int(ptr.OffsetInPage())
	require.Equal(t, raw, p[start:start+len(raw)])
}

func TestCursorFileCopyListFlatScalars(t *testing.T) {
	cf := NewCursorFile()
	var cur Cursor
	lit := ListLiteral{Elems: []ListElem{
		{Scalar: []byte("ab")},
		{Scalar: []byte("cdefghijklmnop")}, // > 12 bytes, forces overflow
	}}
	ptr, err := cf.CopyList(lit, &cur)
	require.NoError(t, err)
	require.GreaterOrEqual(t, ptr.PageIdx(), uint64(0))
}

func TestShortStringWithinLengthLimit(t *testing.T) {
	af := NewAppendFile()
	// The 2^32-1 length limit itself is not exercised (that would need
	// a 4 GiB buffer); this checks that a short string does not trip it.
	_, err := af.AppendString([]byte("short"))
	require.NoError(t, err)
}
