package coalesce

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/memtier"
	"github.com/joshuapare/memtier/internal/checked"
	"github.com/joshuapare/memtier/internal/logger"
	"github.com/joshuapare/memtier/internal/osmem"
	"github.com/joshuapare/memtier/internal/region"
)

// Allocator serves variable-size requests up to its page capacity.
// The zero value is uninitialized; call Init (or use New) before Alloc.
type Allocator struct {
	lay     layout
	src     osmem.Source
	checked bool

	head  *page
	tail  *page
	pages int

	stats allocatorStats
}

// page is the Go-side descriptor of one OS region.
type page struct {
	reg  region.Region
	next *page
}

// allocatorStats holds internal allocator statistics.
type allocatorStats struct {
	AllocCalls    int // Total Alloc() calls
	FreeCalls     int // Total Free() calls
	Grows         int // Pages added after Init
	SplitCount    int // Blocks split on allocation
	CoalesceLeft  int // Merges with the preceding block
	CoalesceRight int // Merges with the following block
}

// New creates and initializes a coalescing allocator.
func New(cfg Config) (*Allocator, error) {
	a := &Allocator{}
	if err := a.Init(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// Init validates cfg and reserves the first page. Calling Init on an
// initialized allocator is a no-op.
func (a *Allocator) Init(cfg Config) error {
	if a.head != nil {
		return nil
	}
	if cfg.PageCapacity <= 0 || uint64(cfg.PageCapacity) > MaxPageCapacity {
		return fmt.Errorf("%w: page capacity %d", memtier.ErrBadConfig, cfg.PageCapacity)
	}
	src := cfg.Source
	if src == nil {
		src = osmem.System
	}

	a.lay = newLayout(align8(cfg.PageCapacity))
	a.src = src
	a.checked = cfg.Checked

	pg, err := a.newPage()
	if err != nil {
		*a = Allocator{}
		return err
	}
	a.head, a.tail = pg, pg
	return nil
}

// Initialized reports whether Init has succeeded and Destroy has not run since.
func (a *Allocator) Initialized() bool { return a.head != nil }

// PageCapacity returns the largest request this allocator serves.
func (a *Allocator) PageCapacity() int { return a.lay.capacity }

// Alloc returns size usable bytes, or nil if size exceeds the page capacity
// or a new page could not be reserved.
func (a *Allocator) Alloc(size int) unsafe.Pointer {
	p, _ := a.TryAlloc(size)
	return p
}

// TryAlloc is Alloc with the failure reason.
func (a *Allocator) TryAlloc(size int) (unsafe.Pointer, error) {
	if a.head == nil {
		return nil, memtier.ErrNotInitialized
	}
	if size <= 0 {
		return nil, memtier.ErrZeroSize
	}
	if size > a.lay.capacity {
		return nil, fmt.Errorf("%w: %d bytes > page capacity %d", memtier.ErrOversize, size, a.lay.capacity)
	}
	a.stats.AllocCalls++
	total := blockTotal(size)

	for pg := a.head; pg != nil; pg = pg.next {
		if off, ok := a.fit(pg, total); ok {
			return a.carve(pg, off, total), nil
		}
	}

	pg, err := a.newPage()
	if err != nil {
		return nil, err
	}
	a.tail.next = pg
	a.tail = pg
	a.stats.Grows++

	off, _ := a.fit(pg, total)
	return a.carve(pg, off, total), nil
}

// carve allocates total bytes from the front of the free block at off,
// returning the remainder to its bin when it can hold a block of its own.
func (a *Allocator) carve(pg *page, off, total int) unsafe.Pointer {
	r := pg.reg
	if a.checked {
		a.checkFreeBlock(pg, off, "coalesce.Alloc")
	}
	a.unlink(pg, off)

	size := sizeOf(r, off)
	if rem := size - total; rem >= minBlock {
		writeBlock(r, off+total, rem, false)
		if a.checked {
			r.PutU32(off+total+headerSize, freeMarker)
		}
		a.insert(pg, off+total)
		size = total
		a.stats.SplitCount++
	}

	writeBlock(r, off, size, true)
	if a.checked {
		r.PutU32(off+headerSize, 0)
	}
	return r.Pointer(off + headerSize)
}

// Free returns p's block to its page, merging it with free neighbours.
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	pg := a.find(p)
	if pg == nil {
		if a.checked {
			checked.Fail("coalesce.Free", checked.ErrForeignPointer, uintptr(p),
				"not inside any coalescing page")
		}
		return
	}

	r := pg.reg
	lo, hi := a.lay.areaStart, a.lay.areaEnd()
	pOff, _ := r.Offset(p)
	off := pOff - headerSize
	if a.checked {
		a.checkFreeable(pg, off, p)
	}
	size := sizeOf(r, off)

	left, right := -1, -1
	if off > lo {
		l := off - int(r.U32(off-footerSize+ftrSize))
		if a.checked {
			a.checkNeighbour(pg, l, off, "left")
		}
		if l >= lo && l < off && !isAllocated(r, l) {
			left = l
		}
	}
	if rt := off + size; rt < hi {
		if a.checked {
			a.checkNeighbour(pg, rt, hi, "right")
		}
		if !isAllocated(r, rt) {
			right = rt
		}
	}

	if a.checked {
		r.Fill(off+headerSize, min(size-overhead, poisonLimit), freePoison)
	}
	r.PutU32(off+blkFlags, 0)

	if left >= 0 {
		a.unlink(pg, left)
		size += off - left
		off = left
		a.stats.CoalesceLeft++
	}
	if right >= 0 {
		rsize := sizeOf(r, right)
		a.unlink(pg, right)
		size += rsize
		a.stats.CoalesceRight++
	}

	writeBlock(r, off, size, false)
	if a.checked {
		r.PutU32(off+headerSize, freeMarker)
	}
	a.insert(pg, off)
	a.stats.FreeCalls++
}

// Contains reports whether p lies inside the block area of one of this allocator's pages.
func (a *Allocator) Contains(p unsafe.Pointer) bool {
	return a.find(p) != nil
}

// UsableSize returns the payload capacity of the block whose payload starts
// at p. It may exceed the size originally requested.
func (a *Allocator) UsableSize(p unsafe.Pointer) (int, bool) {
	pg := a.find(p)
	if pg == nil {
		return 0, false
	}
	pOff, _ := pg.reg.Offset(p)
	off := pOff - headerSize
	if off < a.lay.areaStart {
		return 0, false
	}
	size := sizeOf(pg.reg, off)
	if size < minBlock || off+size > a.lay.areaEnd() {
		return 0, false
	}
	return size - overhead, true
}

// Destroy releases every page to the OS and returns the allocator to its
// uninitialized state. A checked allocator panics with ErrLeak, without
// releasing anything, unless every page is one free block spanning its area.
func (a *Allocator) Destroy() {
	if a.head == nil {
		return
	}

	if a.checked {
		i := 0
		for pg := a.head; pg != nil; pg = pg.next {
			r := pg.reg
			off := a.lay.areaStart
			if sizeOf(r, off) != a.lay.areaSize || isAllocated(r, off) {
				live := 0
				a.walk(pg, func(_, _ int, allocated bool) bool {
					if allocated {
						live++
					}
					return true
				})
				checked.Fail("coalesce.Destroy", checked.ErrLeak, r.Base(),
					"page %d has %d live blocks", i, live)
			}
			i++
		}
	}

	for pg := a.head; pg != nil; {
		next := pg.next
		if err := a.src.Release(pg.reg.Mem()); err != nil {
			logger.Warn("coalesce page release failed", "err", err)
		}
		pg.next = nil
		pg = next
	}
	logger.Debug("coalesce destroyed", "pages", a.pages, "page_capacity", a.lay.capacity)

	*a = Allocator{}
}

// newPage reserves a page and formats its block area as one free block.
func (a *Allocator) newPage() (*page, error) {
	size := a.lay.pageSize()
	mem, err := a.src.Reserve(size)
	if err != nil {
		logger.Warn("coalesce page reserve failed", "bytes", size, "err", err)
		return nil, fmt.Errorf("coalesce: %w", err)
	}

	pg := &page{reg: region.New(mem)}
	r := pg.reg
	r.PutU32(hdrMagic, pageMagic)
	r.PutU32(hdrNumBins, uint32(a.lay.numBins))
	for b := range a.lay.numBins {
		r.PutU32(a.lay.binOff(b), noBlock)
	}

	writeBlock(r, a.lay.areaStart, a.lay.areaSize, false)
	if a.checked {
		r.PutU32(a.lay.areaStart+headerSize, freeMarker)
	}
	a.insert(pg, a.lay.areaStart)
	a.pages++

	logger.Debug("coalesce page reserved", "bytes", size, "pages", a.pages)
	return pg, nil
}

// find returns the page whose block area contains p.
func (a *Allocator) find(p unsafe.Pointer) *page {
	lo, hi := a.lay.areaStart, a.lay.areaEnd()
	for pg := a.head; pg != nil; pg = pg.next {
		if pg.reg.Within(p, lo, hi) {
			return pg
		}
	}
	return nil
}

// checkFreeable validates a block about to be freed. The allocated flag is
// tested before the footer: a block absorbed by a left merge keeps its header
// but shares its footer with the merged block.
func (a *Allocator) checkFreeable(pg *page, off int, p unsafe.Pointer) {
	r := pg.reg
	lo, hi := a.lay.areaStart, a.lay.areaEnd()
	if off < lo || (off-lo)%alignment != 0 || off+minBlock > hi {
		checked.Fail("coalesce.Free", checked.ErrForeignPointer, uintptr(p),
			"not a block payload start")
	}
	if r.U32(off+blkMagic) != blockMagic || r.U32(off+blkMagic2) != blockMagic {
		checked.Fail("coalesce.Free", checked.ErrForeignPointer, uintptr(p),
			"no block header before pointer")
	}
	if !isAllocated(r, off) {
		checked.Fail("coalesce.Free", checked.ErrDoubleFree, uintptr(p),
			"block at offset %d is already free", off)
	}
	if !tagsIntact(r, off, lo, hi) {
		checked.Fail("coalesce.Free", checked.ErrCorrupt, uintptr(p),
			"header and footer of block at offset %d disagree", off)
	}
}

// checkNeighbour validates the block at off, which must end by end.
func (a *Allocator) checkNeighbour(pg *page, off, end int, side string) {
	r := pg.reg
	if !tagsIntact(r, off, a.lay.areaStart, end) {
		checked.Fail("coalesce.Free", checked.ErrCorrupt, r.Addr(off),
			"%s neighbour tags damaged", side)
	}
	if side == "left" && off+sizeOf(r, off) != end {
		checked.Fail("coalesce.Free", checked.ErrCorrupt, r.Addr(off),
			"left neighbour size %d does not reach offset %d", sizeOf(r, off), end)
	}
	if !isAllocated(r, off) && r.U32(off+headerSize) != freeMarker {
		checked.Fail("coalesce.Free", checked.ErrCorrupt, r.Addr(off+headerSize),
			"%s neighbour written after free", side)
	}
}

// checkFreeBlock validates a block taken from a bin.
func (a *Allocator) checkFreeBlock(pg *page, off int, op string) {
	r := pg.reg
	if !tagsIntact(r, off, a.lay.areaStart, a.lay.areaEnd()) || isAllocated(r, off) {
		checked.Fail(op, checked.ErrCorrupt, r.Addr(off), "bin entry is not a free block")
	}
	if r.U32(off+headerSize) != freeMarker {
		checked.Fail(op, checked.ErrCorrupt, r.Addr(off+headerSize), "free block written after free")
	}
}

// corruptList reports a bin list longer than the page could hold.
func (a *Allocator) corruptList(pg *page, b int) {
	if a.checked {
		checked.Fail("coalesce.bins", checked.ErrCorrupt, pg.reg.Base(), "bin %d does not terminate", b)
	}
	logger.Warn("coalesce bin does not terminate", "bin", b)
}
