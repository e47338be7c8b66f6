// Package listsize implements the per-node atomic list-size counters:
// a pass-1 increment-only counter array, reused in pass 2 as a
// reverse-position reservoir via fetch_sub semantics.
package listsize

import (
	"sync/atomic"

	"github.com/colgraph/bulkload/internal/types"
)

// Counters is a per-node-offset array of atomic uint64 counters.
type Counters struct {
	vals []atomic.Uint64
}

// New allocates a zeroed counter array for numNodes nodes.
func New(numNodes uint64) *Counters {
	return &Counters{vals: make([]atomic.Uint64, numNodes)}
}

// Increment performs a relaxed fetch_add(v), used in pass 1 to count
// list length.
func (c *Counters) Increment(n types.NodeOffset, v uint64) {
	c.vals[n].Add(v)
}

// Decrement performs a relaxed fetch_sub(v) and returns the
// pre-decrement value. Pass 2 reuses the same counters pass 1 left
// holding each node's final size: a writer's reserved, 0-based start
// position within the node's list is Decrement(n, v) - v, so the last
// writer to arrive (in CSV order) claims the lowest position and the
// first claims the highest, hence "reverse" reservoir. Distinctness
// falls out of fetch_sub alone; no separate reset step sits between
// the counting pass and this one.
func (c *Counters) Decrement(n types.NodeOffset, v uint64) uint64 {
	newVal := c.vals[n].Add(-v) // two's-complement subtraction, same as fetch_sub
	return newVal + v
}

// Snapshot copies out the current sizes, e.g. for feeding the list
// header/metadata builders after pass 1 completes.
func (c *Counters) Snapshot() []uint64 {
	out := make([]uint64, len(c.vals))
	for i := range c.vals {
		out[i] = c.vals[i].Load()
	}
	return out
}

// Reset zeroes every counter. Not part of the pass-1/pass-2 handoff
// for one list structure (pass 2 decrements directly off pass 1's
// totals); this is for a builder that reuses one Counters allocation
// across multiple, unrelated list structures (e.g. a rel builder
// moving on to the next direction).
func (c *Counters) Reset() {
	for i := range c.vals {
		c.vals[i].Store(0)
	}
}

// Len returns the number of nodes this counter array covers.
func (c *Counters) Len() int { return len(c.vals) }
