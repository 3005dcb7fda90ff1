package composite

import (
	"unsafe"

	"github.com/joshuapare/memtier/coalesce"
	"github.com/joshuapare/memtier/slab"
)

// Stats aggregates every tier.
type Stats struct {
	AllocCalls  int
	FreeCalls   int
	FailedAlloc int

	// OutstandingBytes is the usable size of every block handed out and not
	// yet freed. Slab blocks count their full class size.
	OutstandingBytes int

	OversizedNodes int
	OversizedBytes int

	Slabs    []slab.Stats
	Coalesce coalesce.Stats
}

// Stats walks every tier and returns a snapshot.
func (d *Dispatcher) Stats() Stats {
	s := Stats{
		AllocCalls:       d.stats.AllocCalls,
		FreeCalls:        d.stats.FreeCalls,
		FailedAlloc:      d.stats.FailedAlloc,
		OutstandingBytes: d.outstanding,
		OversizedNodes:   d.big.len,
		OversizedBytes:   d.big.bytes,
	}
	if !d.initDone {
		return s
	}
	s.Slabs = make([]slab.Stats, len(d.slabs))
	for i, sl := range d.slabs {
		s.Slabs[i] = sl.Stats()
	}
	s.Coalesce = d.coal.Stats()
	return s
}

// Slabs returns the slab ladder in ascending block size, for introspection.
func (d *Dispatcher) Slabs() []*slab.Allocator { return d.slabs }

// Coalescing returns the coalescing tier, for introspection.
func (d *Dispatcher) Coalescing() *coalesce.Allocator { return d.coal }

// Oversized calls fn for each live oversized allocation, newest first,
// stopping early if fn returns false.
func (d *Dispatcher) Oversized(fn func(p unsafe.Pointer, size int) bool) {
	d.big.each(fn)
}
