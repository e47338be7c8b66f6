//go:build unix

package page

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

// flushPages writes every page to path using positioned writes
// (unix.Pwrite), fanned out over a small worker pool. Because each
// page's file offset is known up front (pageIdx * Size), concurrent
// writers need no shared write cursor and no seek.
func flushPages(ctx context.Context, path string, pages [][]byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("flush %s: open: %w", path, err)
	}
	defer f.Close()

	fd := int(f.Fd())
	workers := runtime.NumCPU()
	if workers > len(pages) {
		workers = len(pages)
	}
	if workers < 1 {
		workers = 1
	}

	type job struct {
		idx  int
		data []byte
	}
	jobs := make(chan job)
	errs := make(chan error, workers)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				select {
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				default:
				}
				off := int64(j.idx) * int64(Size)
				if _, err := unix.Pwrite(fd, j.data, off); err != nil {
					errs <- fmt.Errorf("flush %s: pwrite page %d: %w", path, j.idx, err)
					return
				}
			}
		}()
	}

	go func() {
		for i, p := range pages {
			jobs <- job{idx: i, data: p}
		}
		close(jobs)
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return f.Sync()
}
