package slab

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/memtier"
	"github.com/joshuapare/memtier/internal/buf"
	"github.com/joshuapare/memtier/internal/checked"
	"github.com/joshuapare/memtier/internal/logger"
	"github.com/joshuapare/memtier/internal/osmem"
	"github.com/joshuapare/memtier/internal/region"
)

const (
	// Page header field offsets.
	hdrMagic     = 0
	hdrHighWater = 4
	hdrFreeHead  = 8
	hdrLive      = 12

	pageHeaderSize = 16

	pageMagic  = 0xFEEDFACE
	freeMarker = 0xDEADBEEF
	freePoison = 0xDDDDDDDD

	// noSlot terminates a page's free list.
	noSlot = 0xFFFFFFFF

	minBlockSize = 8
	alignment    = 8
)

// Allocator hands out blocks of one fixed size.
// The zero value is uninitialized; call Init (or use New) before Alloc.
type Allocator struct {
	blockSize int
	perPage   int
	src       osmem.Source
	checked   bool

	head  *page
	tail  *page
	pages int

	stats allocatorStats
}

// page is the Go-side descriptor of one OS region. Integer header fields live
// inside the region; the chain link stays here because the collector does not
// scan OS memory.
type page struct {
	reg  region.Region
	next *page
}

// allocatorStats holds call counters.
type allocatorStats struct {
	AllocCalls int
	FreeCalls  int
	Grows      int
}

// New creates and initializes a slab allocator.
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

	if cfg.BlockSize <= 0 {
		return fmt.Errorf("%w: block size %d", memtier.ErrBadConfig, cfg.BlockSize)
	}
	blockSize, ok := buf.AlignUp(max(cfg.BlockSize, minBlockSize), alignment)
	if !ok {
		return fmt.Errorf("%w: block size %d", memtier.ErrBadConfig, cfg.BlockSize)
	}
	perPage := cfg.BlocksPerPage
	if perPage <= 0 {
		perPage = DefaultBlocksPerPage
	}
	if uint64(perPage) >= noSlot {
		return fmt.Errorf("%w: %d blocks per page", memtier.ErrBadConfig, perPage)
	}
	if _, ok := buf.MulOverflowSafe(blockSize, perPage); !ok {
		return fmt.Errorf("%w: %d x %d bytes overflows", memtier.ErrBadConfig, perPage, blockSize)
	}
	src := cfg.Source
	if src == nil {
		src = osmem.System
	}

	a.blockSize = blockSize
	a.perPage = perPage
	a.src = src
	a.checked = cfg.Checked

	pg, err := a.newPage()
	if err != nil {
		a.blockSize, a.perPage, a.src = 0, 0, nil
		return err
	}
	a.head, a.tail = pg, pg
	return nil
}

// Initialized reports whether Init has succeeded and Destroy has not run since.
func (a *Allocator) Initialized() bool { return a.head != nil }

// BlockSize returns the slot size served by this allocator.
func (a *Allocator) BlockSize() int { return a.blockSize }

// Alloc returns one block, or nil if size exceeds the block size or a new
// page could not be reserved.
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
	if size > a.blockSize {
		return nil, fmt.Errorf("%w: %d bytes > block size %d", memtier.ErrOversize, size, a.blockSize)
	}
	a.stats.AllocCalls++

	for pg := a.head; pg != nil; pg = pg.next {
		if slot, ok := a.take(pg); ok {
			return pg.reg.Pointer(a.slotOff(slot)), nil
		}
	}

	// Every page is full: grow the chain.
	pg, err := a.newPage()
	if err != nil {
		return nil, err
	}
	a.tail.next = pg
	a.tail = pg
	a.stats.Grows++

	slot, _ := a.take(pg)
	return pg.reg.Pointer(a.slotOff(slot)), nil
}

// Free returns p to its page's free list.
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	pg, off := a.find(p)
	if pg == nil {
		if a.checked {
			checked.Fail("slab.Free", checked.ErrForeignPointer, uintptr(p),
				"not inside any %d-byte slab page", a.blockSize)
		}
		return
	}

	slot := uint32(off / a.blockSize)
	if a.checked {
		if off%a.blockSize != 0 {
			checked.Fail("slab.Free", checked.ErrForeignPointer, uintptr(p),
				"offset %d is not a slot boundary", off)
		}
		if slot >= pg.reg.U32(hdrHighWater) {
			checked.Fail("slab.Free", checked.ErrForeignPointer, uintptr(p),
				"slot %d was never allocated", slot)
		}
		if a.onFreeList(pg, slot) {
			checked.Fail("slab.Free", checked.ErrDoubleFree, uintptr(p),
				"slot %d already on the free list", slot)
		}
	}

	so := a.slotOff(slot)
	if a.checked {
		pg.reg.Fill(so, a.blockSize, freePoison)
		pg.reg.PutU32(so+4, freeMarker)
	}
	pg.reg.PutU32(so, pg.reg.U32(hdrFreeHead))
	pg.reg.PutU32(hdrFreeHead, slot)
	pg.reg.PutU32(hdrLive, pg.reg.U32(hdrLive)-1)
	a.stats.FreeCalls++
}

// Contains reports whether p lies inside the slot area of one of this allocator's pages.
func (a *Allocator) Contains(p unsafe.Pointer) bool {
	pg, _ := a.find(p)
	return pg != nil
}

// Destroy releases every page to the OS and returns the allocator to its
// uninitialized state. A checked allocator panics with ErrLeak, without
// releasing anything, if any block is still live.
func (a *Allocator) Destroy() {
	if a.head == nil {
		return
	}

	if a.checked {
		i := 0
		for pg := a.head; pg != nil; pg = pg.next {
			ps := a.pageStats(pg)
			if free := ps.FreeListLen + ps.Capacity - ps.HighWater; free != ps.Capacity {
				checked.Fail("slab.Destroy", checked.ErrLeak, pg.reg.Base(),
					"page %d of %d-byte slab has %d live blocks", i, a.blockSize, ps.Capacity-free)
			}
			i++
		}
	}

	for pg := a.head; pg != nil; {
		next := pg.next
		if err := a.src.Release(pg.reg.Mem()); err != nil {
			logger.Warn("slab page release failed", "block_size", a.blockSize, "err", err)
		}
		pg.next = nil
		pg = next
	}
	logger.Debug("slab destroyed", "block_size", a.blockSize, "pages", a.pages)

	*a = Allocator{}
}

// newPage reserves and formats one page.
func (a *Allocator) newPage() (*page, error) {
	size := pageHeaderSize + a.blockSize*a.perPage
	mem, err := a.src.Reserve(size)
	if err != nil {
		logger.Warn("slab page reserve failed", "block_size", a.blockSize, "bytes", size, "err", err)
		return nil, fmt.Errorf("slab %d: %w", a.blockSize, err)
	}

	pg := &page{reg: region.New(mem)}
	pg.reg.PutU32(hdrMagic, pageMagic)
	pg.reg.PutU32(hdrHighWater, 0)
	pg.reg.PutU32(hdrFreeHead, noSlot)
	pg.reg.PutU32(hdrLive, 0)
	a.pages++

	logger.Debug("slab page reserved", "block_size", a.blockSize, "bytes", size, "pages", a.pages)
	return pg, nil
}

// take claims a slot from pg: bump first, then the free list.
func (a *Allocator) take(pg *page) (uint32, bool) {
	r := pg.reg
	if hw := r.U32(hdrHighWater); int(hw) < a.perPage {
		r.PutU32(hdrHighWater, hw+1)
		r.PutU32(hdrLive, r.U32(hdrLive)+1)
		return hw, true
	}

	slot := r.U32(hdrFreeHead)
	if slot == noSlot {
		return 0, false
	}
	so := a.slotOff(slot)
	r.PutU32(hdrFreeHead, r.U32(so))
	if a.checked {
		r.PutU32(so+4, 0)
	}
	r.PutU32(hdrLive, r.U32(hdrLive)+1)
	return slot, true
}

// find returns the page whose slot area contains p and p's offset from the first slot.
func (a *Allocator) find(p unsafe.Pointer) (*page, int) {
	end := pageHeaderSize + a.blockSize*a.perPage
	for pg := a.head; pg != nil; pg = pg.next {
		if pg.reg.Within(p, pageHeaderSize, end) {
			off, _ := pg.reg.Offset(p)
			return pg, off - pageHeaderSize
		}
	}
	return nil, 0
}

// onFreeList reports whether slot is currently free. The marker check rejects
// live slots cheaply; a marker hit is confirmed by walking the list, since a
// caller may have written the marker value into a live block.
func (a *Allocator) onFreeList(pg *page, slot uint32) bool {
	if pg.reg.U32(a.slotOff(slot)+4) != freeMarker {
		return false
	}
	found := false
	a.walkFree(pg, func(s uint32) bool {
		if s == slot {
			found = true
			return false
		}
		return true
	})
	return found
}

// walkFree visits pg's free list in list order, stopping when fn returns false.
// The walk is bounded by the page capacity so a corrupted link cannot loop forever.
func (a *Allocator) walkFree(pg *page, fn func(slot uint32) bool) {
	hw := pg.reg.U32(hdrHighWater)
	slot := pg.reg.U32(hdrFreeHead)
	for n := 0; slot != noSlot && n < a.perPage; n++ {
		if slot >= hw {
			if a.checked {
				checked.Fail("slab.walkFree", checked.ErrCorrupt, pg.reg.Addr(a.slotOff(slot)),
					"free list link %d beyond high-water mark %d", slot, hw)
			}
			return
		}
		if !fn(slot) {
			return
		}
		slot = pg.reg.U32(a.slotOff(slot))
	}
}

func (a *Allocator) slotOff(slot uint32) int {
	return pageHeaderSize + int(slot)*a.blockSize
}
