// Package csvio implements the byte-range block model and line
// tokenizer the node/rel builders read through: blocks are fixed-size
// byte ranges snapped to line boundaries so pass 1 and pass 2 of a rel
// builder see identical splits, and tokenization understands the
// separator/quote/escape/list-delimiter characters the input
// descriptor names.
package csvio

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/colgraph/bulkload/internal/loaderr"
)

// DefaultBlockSize is the default power-of-two block size.
const DefaultBlockSize = 256 * 1024

// Block is a fixed byte range of one CSV file, snapped to line
// boundaries.
type Block struct {
	Path  string
	Index int
	Start int64
	End   int64
	// SkipHeader is true only for block 0, whose first line is the
	// column-header line rather than data.
	SkipHeader bool
}

// PlanBlocks splits path into line-boundary-aligned blocks of
// approximately blockSize bytes each. Block 0 is always present (even
// for an empty body) so header skipping has somewhere to happen.
func PlanBlocks(path string, blockSize int64) ([]Block, error) {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("open %s", path))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("stat %s", path))
	}
	size := info.Size()

	if size == 0 {
		return []Block{{Path: path, Index: 0, Start: 0, End: 0, SkipHeader: true}}, nil
	}

	var blocks []Block
	var start int64
	idx := 0
	for start < size {
		nominalEnd := start + blockSize
		if nominalEnd > size {
			nominalEnd = size
		}
		end := nominalEnd
		if end < size {
			end, err = seekToLineBoundary(f, end, size)
			if err != nil {
				return nil, err
			}
		}
		if end <= start {
			end = size
		}
		blocks = append(blocks, Block{
			Path:       path,
			Index:      idx,
			Start:      start,
			End:        end,
			SkipHeader: idx == 0,
		})
		start = end
		idx++
	}
	return blocks, nil
}

// seekToLineBoundary returns the first offset >= from that is either a
// line start (immediately after a '\n') or the file's end.
func seekToLineBoundary(f *os.File, from, size int64) (int64, error) {
	const probe = 4096
	buf := make([]byte, probe)
	pos := from
	if from > 0 {
		// Start one byte early so a '\n' at from-1 yields from itself.
		pos = from - 1
	}
	for pos < size {
		n := probe
		if int64(n) > size-pos {
			n = int(size - pos)
		}
		read, err := f.ReadAt(buf[:n], pos)
		if err != nil && err != io.EOF {
			return 0, loaderr.Wrap(loaderr.IO, err, "scan for line boundary")
		}
		for i := 0; i < read; i++ {
			if buf[i] == '\n' {
				return pos + int64(i) + 1, nil
			}
		}
		pos += int64(read)
		if read == 0 {
			break
		}
	}
	return size, nil
}

// Reader tokenizes the lines within one Block according to the CSV
// dialect carried in Options.
type Reader struct {
	opts Options
	sc   *bufio.Scanner
	f    *os.File
}

// Options carries the descriptor's CSV dialect.
type Options struct {
	Separator byte
	Quote     byte
	Escape    byte
	ListBegin byte
	ListEnd   byte
}

// DefaultOptions returns the default CSV dialect.
func DefaultOptions() Options {
	return Options{Separator: ',', Quote: '"', Escape: '\\', ListBegin: '[', ListEnd: ']'}
}

// OpenBlock opens b for line-by-line reading, skipping its header line
// if marked.
func OpenBlock(b Block, opts Options) (*Reader, error) {
	f, err := os.Open(b.Path)
	if err != nil {
		return nil, loaderr.Wrap(loaderr.IO, err, fmt.Sprintf("open %s", b.Path))
	}
	section := io.NewSectionReader(f, b.Start, b.End-b.Start)
	sc := bufio.NewScanner(section)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	r := &Reader{opts: opts, sc: sc, f: f}
	if b.SkipHeader && b.End > b.Start {
		r.sc.Scan()
	}
	return r, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.f.Close() }

// Next returns the next non-comment, non-blank line's raw bytes, or
// (nil, false) at end of block.
func (r *Reader) Next() ([]byte, bool) {
	for r.sc.Scan() {
		line := r.sc.Bytes()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return out, true
	}
	return nil, false
}

// Err reports the first read error encountered, if any.
func (r *Reader) Err() error {
	if err := r.sc.Err(); err != nil {
		return loaderr.Wrap(loaderr.IO, err, "read csv block")
	}
	return nil
}
