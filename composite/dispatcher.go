package composite

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/memtier"
	"github.com/joshuapare/memtier/coalesce"
	"github.com/joshuapare/memtier/internal/checked"
	"github.com/joshuapare/memtier/internal/logger"
	"github.com/joshuapare/memtier/internal/osmem"
	"github.com/joshuapare/memtier/internal/region"
	"github.com/joshuapare/memtier/slab"
)

// Dispatcher owns every tier and routes requests between them.
// The zero value is uninitialized; call Init (or use New) before Alloc.
type Dispatcher struct {
	slabs    []*slab.Allocator // ascending block size
	coal     *coalesce.Allocator
	big      bigList
	src      osmem.Source
	checked  bool
	cfg      Config
	initDone bool

	outstanding int
	stats       dispatcherStats
}

type dispatcherStats struct {
	AllocCalls  int
	FreeCalls   int
	FailedAlloc int
}

// New creates and initializes a Dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	d := &Dispatcher{}
	if err := d.Init(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

// Init builds the slab ladder and the coalescing allocator. Calling Init on
// an initialized Dispatcher is a no-op.
func (d *Dispatcher) Init(cfg Config) error {
	if d.initDone {
		return nil
	}
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	slabs := make([]*slab.Allocator, 0, len(cfg.SlabClasses))
	unwind := func() {
		for _, s := range slabs {
			s.Destroy()
		}
	}
	for _, size := range cfg.SlabClasses {
		s, err := slab.New(slab.Config{
			BlockSize:     size,
			BlocksPerPage: cfg.BlocksPerPage,
			Source:        cfg.Source,
			Checked:       cfg.Checked,
		})
		if err != nil {
			unwind()
			return fmt.Errorf("slab class %d: %w", size, err)
		}
		slabs = append(slabs, s)
	}

	coal, err := coalesce.New(coalesce.Config{
		PageCapacity: cfg.PageCapacity,
		Source:       cfg.Source,
		Checked:      cfg.Checked,
	})
	if err != nil {
		unwind()
		return err
	}

	*d = Dispatcher{
		slabs:    slabs,
		coal:     coal,
		src:      cfg.Source,
		checked:  cfg.Checked,
		cfg:      cfg,
		initDone: true,
	}
	logger.Debug("dispatcher initialized", "classes", cfg.SlabClasses, "page_capacity", coal.PageCapacity(),
		"checked", cfg.Checked)
	return nil
}

// Initialized reports whether Init has succeeded and Destroy has not run since.
func (d *Dispatcher) Initialized() bool { return d.initDone }

// Config returns the normalized configuration the Dispatcher was built with.
func (d *Dispatcher) Config() Config { return d.cfg }

// Alloc returns size usable bytes, or nil when size is not positive or the
// owning tier could not reserve memory.
func (d *Dispatcher) Alloc(size int) unsafe.Pointer {
	p, _ := d.TryAlloc(size)
	return p
}

// TryAlloc is Alloc with the failure reason.
func (d *Dispatcher) TryAlloc(size int) (unsafe.Pointer, error) {
	if !d.initDone {
		return nil, memtier.ErrNotInitialized
	}
	if size <= 0 {
		return nil, memtier.ErrZeroSize
	}
	d.stats.AllocCalls++

	var (
		p      unsafe.Pointer
		usable int
		err    error
	)
	switch {
	case size <= d.largestClass():
		s := d.classFor(size)
		p, err = s.TryAlloc(size)
		usable = s.BlockSize()
	case size <= d.coal.PageCapacity():
		p, err = d.coal.TryAlloc(size)
		if err == nil {
			usable, _ = d.coal.UsableSize(p)
		}
	default:
		p, err = d.big.alloc(d.src, size)
		usable = size
	}
	if err != nil {
		d.stats.FailedAlloc++
		return nil, err
	}
	d.outstanding += usable
	return p, nil
}

// Free releases p to whichever tier owns it. Slab classes are probed first in
// ladder order, then the coalescing allocator, then the oversized list.
func (d *Dispatcher) Free(p unsafe.Pointer) {
	if p == nil || !d.initDone {
		return
	}

	for _, s := range d.slabs {
		if s.Contains(p) {
			s.Free(p)
			d.freed(s.BlockSize())
			return
		}
	}
	if d.coal.Contains(p) {
		usable, _ := d.coal.UsableSize(p)
		d.coal.Free(p)
		d.freed(usable)
		return
	}
	if n := d.big.find(p); n != nil {
		size := n.size
		d.big.free(d.src, n, p, d.checked)
		d.freed(size)
		return
	}

	if d.checked {
		if d.big.recentlyFreed(p) {
			checked.Fail("composite.Free", checked.ErrDoubleFree, uintptr(p), "oversized region already released")
		}
		checked.Fail("composite.Free", checked.ErrForeignPointer, uintptr(p), "no tier owns this pointer")
	}
}

func (d *Dispatcher) freed(usable int) {
	d.outstanding -= usable
	d.stats.FreeCalls++
}

// Contains reports whether any tier owns p.
func (d *Dispatcher) Contains(p unsafe.Pointer) bool {
	_, ok := d.Locate(p)
	return ok
}

// AllocBytes is Alloc returning a slice of exactly size bytes over the block.
func (d *Dispatcher) AllocBytes(size int) []byte {
	return region.Bytes(d.Alloc(size), size)
}

// FreeBytes frees a slice obtained from AllocBytes.
func (d *Dispatcher) FreeBytes(b []byte) {
	d.Free(region.PointerOf(b))
}

// Destroy tears down every slab class, then the coalescing allocator, then
// any oversized regions. A checked Dispatcher panics with ErrLeak, before
// releasing anything, if any tier still holds a live allocation.
func (d *Dispatcher) Destroy() {
	if !d.initDone {
		return
	}

	if d.checked {
		d.checkLeaks()
	}

	for _, s := range d.slabs {
		s.Destroy()
	}
	d.coal.Destroy()
	if n := d.big.releaseAll(d.src); n > 0 {
		logger.Warn("dispatcher released leaked oversized regions", "count", n)
	}
	logger.Debug("dispatcher destroyed", "alloc_calls", d.stats.AllocCalls, "free_calls", d.stats.FreeCalls)

	*d = Dispatcher{}
}

// checkLeaks fails on the first tier with a live allocation.
func (d *Dispatcher) checkLeaks() {
	for _, s := range d.slabs {
		if st := s.Stats(); st.LiveBlocks > 0 {
			checked.Fail("composite.Destroy", checked.ErrLeak, 0,
				"%d live blocks in slab class %d", st.LiveBlocks, st.BlockSize)
		}
	}
	if st := d.coal.Stats(); st.AllocatedBlocks > 0 {
		checked.Fail("composite.Destroy", checked.ErrLeak, 0,
			"%d live blocks in coalescing tier", st.AllocatedBlocks)
	}
	if d.big.len > 0 {
		checked.Fail("composite.Destroy", checked.ErrLeak, d.big.head.reg.Addr(bigHeaderSize),
			"%d oversized allocations outstanding", d.big.len)
	}
}

func (d *Dispatcher) largestClass() int {
	return d.slabs[len(d.slabs)-1].BlockSize()
}

// classFor returns the smallest slab class whose block size is at least size.
func (d *Dispatcher) classFor(size int) *slab.Allocator {
	for _, s := range d.slabs {
		if s.BlockSize() >= size {
			return s
		}
	}
	return nil
}
