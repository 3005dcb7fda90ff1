package main

import (
	"fmt"
	"math/rand"
	"slices"
	"unsafe"

	"github.com/joshuapare/memtier/composite"
	"github.com/joshuapare/memtier/internal/region"
)

// stampBytes is how many bytes at each end of a block carry its fill pattern.
const stampBytes = 16

type liveBlock struct {
	p    unsafe.Pointer
	size int
	fill byte
}

// workload drives a Dispatcher with seeded random requests and checks that
// live blocks never overlap and keep their contents.
type workload struct {
	d       *composite.Dispatcher
	rng     *rand.Rand
	minSize int
	maxSize int

	live   []liveBlock
	serial byte

	allocs int
	frees  int
}

func newWorkload(d *composite.Dispatcher, seed int64, minSize, maxSize int) *workload {
	return &workload{
		d:       d,
		rng:     rand.New(rand.NewSource(seed)),
		minSize: minSize,
		maxSize: maxSize,
	}
}

// allocN allocates n blocks of random size.
func (w *workload) allocN(n int) error {
	for i := range n {
		size := w.minSize + w.rng.Intn(w.maxSize-w.minSize+1)
		p := w.d.Alloc(size)
		if p == nil {
			return fmt.Errorf("allocation %d of %d bytes failed", i, size)
		}
		w.serial++
		if w.serial == 0 {
			w.serial = 1
		}
		b := liveBlock{p: p, size: size, fill: w.serial}
		stamp(b)
		w.live = append(w.live, b)
		w.allocs++
	}
	return nil
}

// freeRandom frees n randomly chosen live blocks.
func (w *workload) freeRandom(n int) error {
	n = min(n, len(w.live))
	w.rng.Shuffle(len(w.live), func(i, j int) { w.live[i], w.live[j] = w.live[j], w.live[i] })
	for _, b := range w.live[:n] {
		if err := w.free(b); err != nil {
			return err
		}
	}
	w.live = slices.Delete(w.live, 0, n)
	return nil
}

// freeAll frees every live block.
func (w *workload) freeAll() error {
	for _, b := range w.live {
		if err := w.free(b); err != nil {
			return err
		}
	}
	w.live = w.live[:0]
	return nil
}

func (w *workload) free(b liveBlock) error {
	if err := check(b); err != nil {
		return err
	}
	w.d.Free(b.p)
	w.frees++
	return nil
}

// verify checks every live block's pattern and that no two overlap.
func (w *workload) verify() error {
	sorted := slices.Clone(w.live)
	slices.SortFunc(sorted, func(a, b liveBlock) int {
		switch {
		case uintptr(a.p) < uintptr(b.p):
			return -1
		case uintptr(a.p) > uintptr(b.p):
			return 1
		}
		return 0
	})
	for i, b := range sorted {
		if err := check(b); err != nil {
			return err
		}
		if i == 0 {
			continue
		}
		prev := sorted[i-1]
		if uintptr(prev.p)+uintptr(prev.size) > uintptr(b.p) {
			return fmt.Errorf("overlap: 0x%x+%d and 0x%x+%d", uintptr(prev.p), prev.size, uintptr(b.p), b.size)
		}
	}
	return nil
}

func stamp(b liveBlock) {
	head, tail := ends(b)
	for i := range head {
		head[i] = b.fill
	}
	for i := range tail {
		tail[i] = b.fill
	}
}

func check(b liveBlock) error {
	head, tail := ends(b)
	for _, part := range [][]byte{head, tail} {
		for i, v := range part {
			if v != b.fill {
				return fmt.Errorf("block 0x%x+%d overwritten at byte %d of stamp", uintptr(b.p), b.size, i)
			}
		}
	}
	return nil
}

// ends returns the stamped head and tail of b; tail is empty for small blocks.
func ends(b liveBlock) ([]byte, []byte) {
	all := region.Bytes(b.p, b.size)
	if b.size <= 2*stampBytes {
		return all, nil
	}
	return all[:stampBytes], all[b.size-stampBytes:]
}
