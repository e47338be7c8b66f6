package pkindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntKeyBijection(t *testing.T) {
	idx := New()
	idx.BulkReserve(1000)

	for i := 0; i < 1000; i++ {
		ok, err := idx.Append(IntKey(i), uint64(i))
		require.NoError(t, err)
		require.True(t, ok)
	}
	for i := 0; i < 1000; i++ {
		off, found := idx.Lookup(IntKey(i))
		require.True(t, found)
		require.Equal(t, uint64(i), off)
	}
	_, found := idx.Lookup(IntKey(1000))
	require.False(t, found)
}

func TestStringKeyBijectionShortAndLong(t *testing.T) {
	idx := New()
	idx.BulkReserve(200)

	keys := make([]string, 0, 200)
	for i := 0; i < 100; i++ {
		keys = append(keys, fmt.Sprintf("k%d", i)) // short, inline
	}
	for i := 0; i < 100; i++ {
		keys = append(keys, fmt.Sprintf("a-very-long-primary-key-value-number-%d-padding-out-past-twelve-bytes", i)) // long, overflow
	}

	for i, k := range keys {
		ok, err := idx.Append(StringKey(k), uint64(i))
		require.NoError(t, err)
		require.True(t, ok)
	}
	for i, k := range keys {
		off, found := idx.Lookup(StringKey(k))
		require.True(t, found)
		require.Equal(t, uint64(i), off)
	}
}

func TestDuplicateKeyRejected(t *testing.T) {
	idx := New()
	idx.BulkReserve(10)

	ok, err := idx.Append(IntKey(42), 0)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = idx.Append(IntKey(42), 1)
	require.NoError(t, err)
	require.False(t, ok, "duplicate int key must be rejected")

	ok, err = idx.Append(StringKey("dup"), 2)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = idx.Append(StringKey("dup"), 3)
	require.NoError(t, err)
	require.False(t, ok, "duplicate string key must be rejected")

	off, found := idx.Lookup(IntKey(42))
	require.True(t, found)
	require.Equal(t, uint64(0), off, "first insert wins, second is rejected not overwritten")
}

func TestConcurrentAppendNoLostEntries(t *testing.T) {
	const n = 5000
	idx := New()
	idx.BulkReserve(n)

	var wg sync.WaitGroup
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := idx.Append(IntKey(i), uint64(i))
			require.NoError(t, err)
			successes[i] = ok
		}(i)
	}
	wg.Wait()

	for i, ok := range successes {
		require.True(t, ok, "entry %d should have been inserted", i)
	}
	require.Equal(t, int64(n), idx.Count())

	for i := 0; i < n; i++ {
		off, found := idx.Lookup(IntKey(i))
		require.True(t, found)
		require.Equal(t, uint64(i), off)
	}
}

func TestConcurrentAppendSameKeyExactlyOneWinner(t *testing.T) {
	const attempts = 64
	idx := New()
	idx.BulkReserve(10)

	var wg sync.WaitGroup
	results := make([]bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := idx.Append(StringKey("contended"), uint64(i))
			require.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, ok := range results {
		if ok {
			winners++
		}
	}
	require.Equal(t, 1, winners, "exactly one concurrent append of the same key must win")
}

func TestFlushWritesKeyAndOverflowFiles(t *testing.T) {
	dir := t.TempDir()
	idx := New()
	idx.BulkReserve(50)

	for i := 0; i < 50; i++ {
		_, err := idx.Append(StringKey(fmt.Sprintf("padded-primary-key-%d", i)), uint64(i))
		require.NoError(t, err)
	}

	keyPath := filepath.Join(dir, "pk.idx")
	ovflPath := filepath.Join(dir, "pk.ovf")
	require.NoError(t, idx.Flush(context.Background(), keyPath, ovflPath))

	ki, err := os.Stat(keyPath)
	require.NoError(t, err)
	require.Greater(t, ki.Size(), int64(0))

	oi, err := os.Stat(ovflPath)
	require.NoError(t, err)
	require.Greater(t, oi.Size(), int64(0))
}
