package coalesce

import (
	"unsafe"

	"github.com/joshuapare/memtier/internal/checked"
	"github.com/joshuapare/memtier/internal/logger"
)

// Stats summarizes an allocator's state. Byte counts are total block sizes,
// tags included.
type Stats struct {
	PageCapacity  int
	AllocCalls    int
	FreeCalls     int
	Grows         int
	SplitCount    int
	CoalesceLeft  int
	CoalesceRight int

	Pages           int
	FreeBlocks      int
	FreeBytes       int
	AllocatedBlocks int
	AllocatedBytes  int
}

// BlockInfo describes one block during WalkBlocks.
type BlockInfo struct {
	Addr      unsafe.Pointer // payload start
	Offset    int            // header offset within the page
	Size      int            // usable payload bytes
	Total     int            // header + payload + footer
	Allocated bool
}

// Stats walks every page and returns aggregate statistics.
func (a *Allocator) Stats() Stats {
	s := Stats{
		PageCapacity:  a.lay.capacity,
		AllocCalls:    a.stats.AllocCalls,
		FreeCalls:     a.stats.FreeCalls,
		Grows:         a.stats.Grows,
		SplitCount:    a.stats.SplitCount,
		CoalesceLeft:  a.stats.CoalesceLeft,
		CoalesceRight: a.stats.CoalesceRight,
	}
	for pg := a.head; pg != nil; pg = pg.next {
		s.Pages++
		a.walk(pg, func(_, size int, allocated bool) bool {
			if allocated {
				s.AllocatedBlocks++
				s.AllocatedBytes += size
			} else {
				s.FreeBlocks++
				s.FreeBytes += size
			}
			return true
		})
	}
	return s
}

// PageCount returns the number of pages in the chain.
func (a *Allocator) PageCount() int { return a.pages }

// WalkBlocks calls fn for each block of page i in address order, stopping
// early if fn returns false. It reports false when page i does not exist.
func (a *Allocator) WalkBlocks(i int, fn func(BlockInfo) bool) bool {
	pg := a.pageAt(i)
	if pg == nil {
		return false
	}
	a.walk(pg, func(off, size int, allocated bool) bool {
		return fn(BlockInfo{
			Addr:      pg.reg.Pointer(off + headerSize),
			Offset:    off,
			Size:      size - overhead,
			Total:     size,
			Allocated: allocated,
		})
	})
	return true
}

// BinCounts returns the number of free blocks in each bin of page i, or nil
// when page i does not exist.
func (a *Allocator) BinCounts(i int) []int {
	pg := a.pageAt(i)
	if pg == nil {
		return nil
	}
	counts := make([]int, a.lay.numBins)
	for b := range counts {
		counts[b] = a.binLen(pg, b)
	}
	return counts
}

// BinIndex returns the bin a free block of total bytes is filed under.
func (a *Allocator) BinIndex(total int) int { return a.lay.binIndex(total) }

func (a *Allocator) pageAt(i int) *page {
	if i < 0 {
		return nil
	}
	pg := a.head
	for ; pg != nil && i > 0; i-- {
		pg = pg.next
	}
	return pg
}

// walk visits the blocks of pg by following header sizes from the start of
// the block area.
func (a *Allocator) walk(pg *page, fn func(off, size int, allocated bool) bool) {
	r := pg.reg
	hi := a.lay.areaEnd()
	for off := a.lay.areaStart; off < hi; {
		size := sizeOf(r, off)
		if size < minBlock || size%alignment != 0 || off+size > hi {
			if a.checked {
				checked.Fail("coalesce.walk", checked.ErrCorrupt, r.Addr(off),
					"block size %d at offset %d", size, off)
			}
			logger.Warn("coalesce walk stopped at bad block", "offset", off, "size", size)
			return
		}
		if !fn(off, size, isAllocated(r, off)) {
			return
		}
		off += size
	}
}
