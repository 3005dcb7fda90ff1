package testutil

import (
	"fmt"
	"slices"
	"unsafe"

	"github.com/joshuapare/memtier/internal/region"
)

// Live tracks the byte ranges of simultaneously live allocations and rejects
// any new range that overlaps one already held. Each range is filled with a
// per-allocation pattern so later corruption by a neighbour is detectable.
type Live struct {
	starts []uintptr // sorted
	byAddr map[uintptr]Alloc
	serial uint8
	sample int
}

// Alloc is one tracked allocation.
type Alloc struct {
	Ptr    unsafe.Pointer
	Size   int
	Fill   byte
	Sample int // bytes stamped at each end; 0 stamps everything
}

// NewLive returns an empty tracker that stamps every byte.
func NewLive() *Live {
	return &Live{byAddr: make(map[uintptr]Alloc)}
}

// NewSampledLive returns a tracker that stamps only the first and last n
// bytes of each allocation, for workloads too large to touch in full.
func NewSampledLive(n int) *Live {
	return &Live{byAddr: make(map[uintptr]Alloc), sample: n}
}

// Add records p as holding size bytes and stamps its pattern.
// It returns an error naming the conflicting range on overlap.
func (l *Live) Add(p unsafe.Pointer, size int) error {
	if p == nil {
		return fmt.Errorf("nil allocation of %d bytes", size)
	}
	start := uintptr(p)
	end := start + uintptr(size)
	i, found := slices.BinarySearch(l.starts, start)
	if found {
		return fmt.Errorf("0x%x handed out twice", start)
	}
	if i > 0 {
		prev := l.byAddr[l.starts[i-1]]
		if prevEnd := uintptr(prev.Ptr) + uintptr(prev.Size); prevEnd > start {
			return fmt.Errorf("[0x%x,+%d) overlaps [0x%x,+%d)", start, size, uintptr(prev.Ptr), prev.Size)
		}
	}
	if i < len(l.starts) && l.starts[i] < end {
		next := l.byAddr[l.starts[i]]
		return fmt.Errorf("[0x%x,+%d) overlaps [0x%x,+%d)", start, size, uintptr(next.Ptr), next.Size)
	}

	l.serial++
	if l.serial == 0 {
		l.serial = 1
	}
	a := Alloc{Ptr: p, Size: size, Fill: l.serial, Sample: l.sample}
	stamp(a)
	l.starts = slices.Insert(l.starts, i, start)
	l.byAddr[start] = a
	return nil
}

// Remove forgets p after verifying its pattern survived. It returns the
// tracked allocation.
func (l *Live) Remove(p unsafe.Pointer) (Alloc, error) {
	start := uintptr(p)
	a, ok := l.byAddr[start]
	if !ok {
		return Alloc{}, fmt.Errorf("0x%x is not live", start)
	}
	if err := Verify(a); err != nil {
		return a, err
	}
	i, _ := slices.BinarySearch(l.starts, start)
	l.starts = slices.Delete(l.starts, i, i+1)
	delete(l.byAddr, start)
	return a, nil
}

// Len returns the number of live allocations.
func (l *Live) Len() int { return len(l.starts) }

// At returns the i-th live allocation in address order.
func (l *Live) At(i int) Alloc { return l.byAddr[l.starts[i]] }

// All returns the live allocations in address order.
func (l *Live) All() []Alloc {
	out := make([]Alloc, 0, len(l.starts))
	for _, s := range l.starts {
		out = append(out, l.byAddr[s])
	}
	return out
}

// VerifyAll checks every live allocation's pattern.
func (l *Live) VerifyAll() error {
	for _, s := range l.starts {
		if err := Verify(l.byAddr[s]); err != nil {
			return err
		}
	}
	return nil
}

// Verify reports whether a's bytes still carry its pattern.
func Verify(a Alloc) error {
	for _, span := range spans(a) {
		for i, v := range span.b {
			if v != a.Fill {
				return fmt.Errorf("allocation 0x%x+%d: byte %d is 0x%02x, want 0x%02x",
					uintptr(a.Ptr), a.Size, span.off+i, v, a.Fill)
			}
		}
	}
	return nil
}

func stamp(a Alloc) {
	for _, span := range spans(a) {
		for i := range span.b {
			span.b[i] = a.Fill
		}
	}
}

type span struct {
	off int
	b   []byte
}

// spans returns the stamped parts of a.
func spans(a Alloc) []span {
	b := region.Bytes(a.Ptr, a.Size)
	if a.Sample <= 0 || 2*a.Sample >= a.Size {
		return []span{{0, b}}
	}
	tail := a.Size - a.Sample
	return []span{{0, b[:a.Sample]}, {tail, b[tail:]}}
}
