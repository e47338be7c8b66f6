//go:build unix

package page

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocatorOverBudgetFallsBackToArena(t *testing.T) {
	tr := &fakeTracker{within: false}
	a := NewAllocator(tr, t.TempDir())

	f := a.NewFile(8, false, 2)
	require.Equal(t, 2, f.NumPages())
	require.NotNil(t, f.arena, "over-budget file should be arena-backed")
	require.Equal(t, int64(0), tr.used, "arena pages are not charged as resident heap")

	// Arena-backed files still read and write like heap-backed ones.
	require.NoError(t, f.Write(0, 8, []byte{1, 2, 3}))
	require.Equal(t, []byte{1, 2, 3}, f.Page(0)[8:11])
	require.NoError(t, f.CloseArena())
}
