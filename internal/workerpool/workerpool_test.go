package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunPhaseAllItemsProcessed(t *testing.T) {
	p := New(context.Background(), 4)
	defer p.Close()

	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}
	var sum atomic.Int64
	err := RunPhase(p, items, func(ctx context.Context, item int) error {
		sum.Add(int64(item))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(4950), sum.Load())
}

func TestRunPhaseStopsOnFirstError(t *testing.T) {
	p := New(context.Background(), 4)
	defer p.Close()

	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	var processed atomic.Int64
	err := RunPhase(p, items, func(ctx context.Context, item int) error {
		processed.Add(1)
		if item == 10 {
			return errors.New("boom")
		}
		return nil
	})
	require.Error(t, err)
	require.Equal(t, "boom", err.Error())
}

func TestPoolReusedAcrossPhases(t *testing.T) {
	p := New(context.Background(), 2)
	defer p.Close()

	err := RunPhase(p, []int{1, 2, 3}, func(ctx context.Context, item int) error { return nil })
	require.NoError(t, err)

	var seen atomic.Int64
	err = RunPhase(p, []int{4, 5, 6}, func(ctx context.Context, item int) error {
		seen.Add(1)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), seen.Load())
}
