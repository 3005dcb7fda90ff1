package slab

import "unsafe"

// Stats summarizes an allocator's state.
type Stats struct {
	BlockSize  int
	AllocCalls int
	FreeCalls  int
	Grows      int // pages added after Init
	Pages      int
	Capacity   int // slots across all pages
	LiveBlocks int
	FreeBlocks int // free-list slots plus never-touched slots
}

// PageStats describes one page. For a consistent page,
// FreeListLen + (Capacity - HighWater) + Live == Capacity.
type PageStats struct {
	Capacity    int
	HighWater   int
	FreeListLen int
	Live        int
}

// Stats returns aggregate statistics. It walks every free list.
func (a *Allocator) Stats() Stats {
	s := Stats{
		BlockSize:  a.blockSize,
		AllocCalls: a.stats.AllocCalls,
		FreeCalls:  a.stats.FreeCalls,
		Grows:      a.stats.Grows,
	}
	for pg := a.head; pg != nil; pg = pg.next {
		ps := a.pageStats(pg)
		s.Pages++
		s.Capacity += ps.Capacity
		s.LiveBlocks += ps.Live
		s.FreeBlocks += ps.FreeListLen + ps.Capacity - ps.HighWater
	}
	return s
}

// PageCount returns the number of pages in the chain.
func (a *Allocator) PageCount() int { return a.pages }

// PageStats returns statistics for the i-th page in chain order.
func (a *Allocator) PageStats(i int) (PageStats, bool) {
	pg := a.pageAt(i)
	if pg == nil {
		return PageStats{}, false
	}
	return a.pageStats(pg), true
}

// LiveBlocks calls fn with the address of each live block of page i in
// address order, stopping early if fn returns false. It reports false when
// page i does not exist.
func (a *Allocator) LiveBlocks(i int, fn func(p unsafe.Pointer) bool) bool {
	pg := a.pageAt(i)
	if pg == nil {
		return false
	}
	hw := int(pg.reg.U32(hdrHighWater))
	free := make([]bool, hw)
	a.walkFree(pg, func(slot uint32) bool {
		free[slot] = true
		return true
	})
	for slot := range hw {
		if free[slot] {
			continue
		}
		if !fn(pg.reg.Pointer(a.slotOff(uint32(slot)))) {
			break
		}
	}
	return true
}

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

func (a *Allocator) pageStats(pg *page) PageStats {
	ps := PageStats{
		Capacity:  a.perPage,
		HighWater: int(pg.reg.U32(hdrHighWater)),
		Live:      int(pg.reg.U32(hdrLive)),
	}
	a.walkFree(pg, func(uint32) bool {
		ps.FreeListLen++
		return true
	})
	return ps
}
