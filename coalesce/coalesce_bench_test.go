package coalesce

import (
	"testing"
	"unsafe"

	"github.com/joshuapare/memtier/internal/testutil"
)

// BenchmarkCoalesce_RandomAllocFree keeps a window of live blocks of random
// sizes, freeing a random victim for every allocation.
func BenchmarkCoalesce_RandomAllocFree(b *testing.B) {
	a, err := New(Config{PageCapacity: DefaultPageCapacity})
	if err != nil {
		b.Fatal(err)
	}
	defer a.Destroy()

	rng := testutil.NewRand()
	window := make([]unsafe.Pointer, 512)
	sizes := make([]int, 4096)
	for i := range sizes {
		sizes[i] = testutil.RandSize(rng, 16, 64<<10)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := range b.N {
		slot := rng.Intn(len(window))
		if window[slot] != nil {
			a.Free(window[slot])
		}
		window[slot] = a.Alloc(sizes[i%len(sizes)])
		if window[slot] == nil {
			b.Fatal("alloc failed")
		}
	}

	b.StopTimer()
	for _, p := range window {
		a.Free(p)
	}
}

// BenchmarkCoalesce_AllocFree measures a split followed by a full merge.
func BenchmarkCoalesce_AllocFree(b *testing.B) {
	a, err := New(Config{PageCapacity: 1 << 20})
	if err != nil {
		b.Fatal(err)
	}
	defer a.Destroy()

	b.ResetTimer()
	b.ReportAllocs()

	for range b.N {
		p := a.Alloc(1024)
		a.Free(p)
	}
}

// BenchmarkGoHeap_Random is the runtime allocator baseline for
// BenchmarkCoalesce_RandomAllocFree.
func BenchmarkGoHeap_Random(b *testing.B) {
	rng := testutil.NewRand()
	window := make([][]byte, 512)
	sizes := make([]int, 4096)
	for i := range sizes {
		sizes[i] = testutil.RandSize(rng, 16, 64<<10)
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := range b.N {
		window[rng.Intn(len(window))] = make([]byte, sizes[i%len(sizes)])
	}
}
