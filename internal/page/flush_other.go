//go:build !unix

package page

import (
	"context"
	"fmt"
	"os"
)

// flushPages is the portable fallback for non-unix targets: os.File's
// WriteAt already performs a positioned write under the hood, it just
// doesn't let us name golang.org/x/sys/unix.Pwrite directly.
func flushPages(ctx context.Context, path string, pages [][]byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("flush %s: open: %w", path, err)
	}
	defer f.Close()

	for i, p := range pages {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := f.WriteAt(p, int64(i)*int64(Size)); err != nil {
			return fmt.Errorf("flush %s: write page %d: %w", path, i, err)
		}
	}
	return f.Sync()
}
