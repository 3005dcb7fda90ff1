package composite

import (
	"fmt"
	"unsafe"

	"github.com/joshuapare/memtier/internal/buf"
	"github.com/joshuapare/memtier/internal/checked"
	"github.com/joshuapare/memtier/internal/logger"
	"github.com/joshuapare/memtier/internal/osmem"
	"github.com/joshuapare/memtier/internal/region"
)

const (
	// Oversized header, written immediately before the payload.
	bigMagicOff  = 0
	bigSizeLoOff = 4
	bigSizeHiOff = 8
	bigMagic2Off = 12

	bigHeaderSize = 16
	bigMagic      = 0xFEEDFACE

	// recentFrees is how many released payload addresses are remembered
	// for double-free reports.
	recentFrees = 16
)

// bigNode tracks one oversized region. The region itself carries only integer
// fields; the list links stay on the Go heap.
type bigNode struct {
	reg  region.Region
	size int
	prev *bigNode
	next *bigNode
}

func (n *bigNode) payload() unsafe.Pointer { return n.reg.Pointer(bigHeaderSize) }

// bigList is the doubly linked list of live oversized allocations, newest first.
type bigList struct {
	head  *bigNode
	len   int
	bytes int

	// recent is a ring of payload addresses released by free.
	recent     [recentFrees]uintptr
	recentNext int
}

// alloc reserves a dedicated region for size bytes and links it at the head.
func (l *bigList) alloc(src osmem.Source, size int) (unsafe.Pointer, error) {
	total, ok := buf.AddOverflowSafe(size, bigHeaderSize)
	if !ok {
		return nil, fmt.Errorf("oversized %d bytes: size overflows", size)
	}
	mem, err := src.Reserve(total)
	if err != nil {
		logger.Warn("oversized reserve failed", "bytes", total, "err", err)
		return nil, fmt.Errorf("oversized %d bytes: %w", size, err)
	}

	n := &bigNode{reg: region.New(mem), size: size}
	r := n.reg
	r.PutU32(bigMagicOff, bigMagic)
	r.PutU32(bigSizeLoOff, uint32(uint64(size)))
	r.PutU32(bigSizeHiOff, uint32(uint64(size)>>32))
	r.PutU32(bigMagic2Off, bigMagic)

	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	l.len++
	l.bytes += size
	l.forget(uintptr(n.payload()))

	logger.Debug("oversized region reserved", "bytes", total, "live", l.len)
	return n.payload(), nil
}

// find returns the node whose region contains p.
func (l *bigList) find(p unsafe.Pointer) *bigNode {
	for n := l.head; n != nil; n = n.next {
		if _, ok := n.reg.Offset(p); ok {
			return n
		}
	}
	return nil
}

// free unlinks n and returns its region. p must lie inside n.
func (l *bigList) free(src osmem.Source, n *bigNode, p unsafe.Pointer, checkedMode bool) {
	if checkedMode {
		if p != n.payload() {
			checked.Fail("composite.Free", checked.ErrForeignPointer, uintptr(p),
				"inside an oversized region but not its payload start")
		}
		r := n.reg
		hdrSize := int(uint64(r.U32(bigSizeLoOff)) | uint64(r.U32(bigSizeHiOff))<<32)
		if r.U32(bigMagicOff) != bigMagic || r.U32(bigMagic2Off) != bigMagic || hdrSize != n.size {
			checked.Fail("composite.Free", checked.ErrCorrupt, uintptr(p), "oversized header overwritten")
		}
	}

	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	n.prev, n.next = nil, nil
	l.len--
	l.bytes -= n.size

	l.recent[l.recentNext] = uintptr(n.payload())
	l.recentNext = (l.recentNext + 1) % recentFrees

	if err := src.Release(n.reg.Mem()); err != nil {
		logger.Warn("oversized release failed", "bytes", n.reg.Len(), "err", err)
	}
}

// recentlyFreed reports whether p is the payload of a region free released
// within the last recentFrees calls, and not handed out again since.
func (l *bigList) recentlyFreed(p unsafe.Pointer) bool {
	addr := uintptr(p)
	for _, a := range l.recent {
		if a != 0 && a == addr {
			return true
		}
	}
	return false
}

// forget drops addr from the ring once the OS hands the address out again.
func (l *bigList) forget(addr uintptr) {
	for i, a := range l.recent {
		if a == addr {
			l.recent[i] = 0
		}
	}
}

// releaseAll returns every remaining region and reports how many there were.
func (l *bigList) releaseAll(src osmem.Source) int {
	count := 0
	for n := l.head; n != nil; {
		next := n.next
		if err := src.Release(n.reg.Mem()); err != nil {
			logger.Warn("oversized release failed", "bytes", n.reg.Len(), "err", err)
		}
		n.prev, n.next = nil, nil
		n = next
		count++
	}
	*l = bigList{}
	return count
}

// each visits the live oversized allocations, newest first.
func (l *bigList) each(fn func(p unsafe.Pointer, size int) bool) {
	for n := l.head; n != nil; n = n.next {
		if !fn(n.payload(), n.size) {
			return
		}
	}
}
