package composite

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/memtier"
	"github.com/joshuapare/memtier/coalesce"
	"github.com/joshuapare/memtier/internal/checked"
	"github.com/joshuapare/memtier/internal/osmem"
	"github.com/joshuapare/memtier/internal/region"
	"github.com/joshuapare/memtier/internal/testutil"
)

// ============================================================================
// Test Helpers
// ============================================================================

const testPageCapacity = 64 << 10

func testConfig(src osmem.Source) Config {
	return Config{
		SlabClasses:   DefaultSlabClasses,
		BlocksPerPage: 64,
		PageCapacity:  testPageCapacity,
		Checked:       true,
		Source:        src,
	}
}

func newTestDispatcher(t testing.TB) (*Dispatcher, *osmem.Budget) {
	t.Helper()
	budget := osmem.NewBudget(nil, 0)
	d, err := New(testConfig(budget))
	require.NoError(t, err)
	return d, budget
}

// tierSizes has one request per tier.
var tierSizes = []struct {
	name string
	size int
}{
	{"slab", 40},
	{"coalesce", 5000},
	{"oversized", testPageCapacity + 1},
}

// ============================================================================
// Init / Destroy
// ============================================================================

func TestInitBuildsLadder(t *testing.T) {
	d, budget := newTestDispatcher(t)
	defer d.Destroy()

	require.Len(t, d.Slabs(), 6)
	for i, s := range d.Slabs() {
		assert.Equal(t, DefaultSlabClasses[i], s.BlockSize())
	}
	assert.Equal(t, testPageCapacity, d.Coalescing().PageCapacity())
	assert.Equal(t, 7, budget.Regions(), "one page per slab class plus one coalescing page")
}

func TestInitDefaultsUnsetFields(t *testing.T) {
	var d Dispatcher
	require.NoError(t, d.Init(Config{PageCapacity: testPageCapacity, BlocksPerPage: 8, Checked: true}))
	defer d.Destroy()

	cfg := d.Config()
	assert.Equal(t, DefaultSlabClasses, cfg.SlabClasses)
	assert.Equal(t, osmem.System, cfg.Source)
}

func TestInitRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"descending classes", Config{SlabClasses: []int{32, 16}}},
		{"duplicate classes", Config{SlabClasses: []int{16, 16}}},
		{"unaligned class", Config{SlabClasses: []int{12}}},
		{"negative class", Config{SlabClasses: []int{-8}}},
		{"class above page capacity", Config{SlabClasses: []int{16, 1024}, PageCapacity: 512}},
		{"unaligned page capacity", Config{PageCapacity: 1001}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Dispatcher
			require.ErrorIs(t, d.Init(tt.cfg), memtier.ErrBadConfig)
			assert.False(t, d.Initialized())
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	d, budget := newTestDispatcher(t)
	defer d.Destroy()

	require.NoError(t, d.Init(Config{SlabClasses: []int{8}}))
	assert.Len(t, d.Slabs(), 6)
	assert.Equal(t, 7, budget.Regions())
}

func TestInitUnwindsOnExhaustion(t *testing.T) {
	// Enough for every slab page but not the coalescing page.
	budget := osmem.NewBudget(nil, 70000)
	var d Dispatcher
	err := d.Init(testConfig(budget))
	require.ErrorIs(t, err, memtier.ErrExhausted)
	assert.False(t, d.Initialized())
	assert.Zero(t, budget.Regions(), "slab pages reserved before the failure are returned")
}

func TestReinitAfterDestroy(t *testing.T) {
	d, budget := newTestDispatcher(t)
	d.Free(d.Alloc(10))
	d.Destroy()
	assert.False(t, d.Initialized())
	assert.Zero(t, budget.Regions())

	require.NoError(t, d.Init(testConfig(budget)))
	defer d.Destroy()
	p := d.Alloc(10)
	require.NotNil(t, p)
	d.Free(p)
}

func TestDestroyWithLeakIsFatalForEveryTier(t *testing.T) {
	for _, tt := range tierSizes {
		t.Run(tt.name, func(t *testing.T) {
			d, budget := newTestDispatcher(t)

			p := d.Alloc(tt.size)
			require.NotNil(t, p)
			testutil.RequireViolation(t, checked.ErrLeak, func() { d.Destroy() })
			assert.True(t, d.Initialized(), "failed Destroy releases nothing")

			d.Free(p)
			assert.NotPanics(t, func() { d.Destroy() })
			assert.Zero(t, budget.Regions())
		})
	}
}

func TestUncheckedDestroyReleasesLeaks(t *testing.T) {
	budget := osmem.NewBudget(nil, 0)
	cfg := testConfig(budget)
	cfg.Checked = false
	d, err := New(cfg)
	require.NoError(t, err)

	for _, tt := range tierSizes {
		require.NotNil(t, d.Alloc(tt.size))
	}
	assert.NotPanics(t, func() { d.Destroy() })
	assert.Zero(t, budget.Regions())
}

// ============================================================================
// Routing
// ============================================================================

func TestRouting(t *testing.T) {
	d, _ := newTestDispatcher(t)
	defer d.Destroy()

	tests := []struct {
		size  int
		tier  Tier
		class int
	}{
		{1, TierSlab, 16},
		{16, TierSlab, 16},
		{17, TierSlab, 32},
		{100, TierSlab, 128},
		{512, TierSlab, 512},
		{513, TierCoalesce, 0},
		{testPageCapacity, TierCoalesce, 0},
		{testPageCapacity + 1, TierOversized, 0},
		{4 * testPageCapacity, TierOversized, 0},
	}
	var ptrs []unsafe.Pointer
	for _, tt := range tests {
		p := d.Alloc(tt.size)
		require.NotNil(t, p, "size %d", tt.size)
		ptrs = append(ptrs, p)

		loc, ok := d.Locate(p)
		require.True(t, ok, "size %d", tt.size)
		assert.Equal(t, tt.tier, loc.Tier, "size %d", tt.size)
		assert.Equal(t, tt.class, loc.ClassSize, "size %d", tt.size)
		assert.GreaterOrEqual(t, loc.Usable, tt.size)
		assert.True(t, d.Contains(p))
	}
	for _, p := range ptrs {
		d.Free(p)
	}
}

func TestRoutingAtConfiguredCapacity(t *testing.T) {
	cfg := testConfig(osmem.NewBudget(nil, 0))
	cfg.PageCapacity = 1000
	d, err := New(cfg)
	require.NoError(t, err)
	defer d.Destroy()

	require.Equal(t, d.Config().PageCapacity, d.Coalescing().PageCapacity())

	edge := d.Alloc(1000)
	over := d.Alloc(1001)
	require.NotNil(t, edge)
	require.NotNil(t, over)

	loc, _ := d.Locate(edge)
	assert.Equal(t, TierCoalesce, loc.Tier)
	loc, _ = d.Locate(over)
	assert.Equal(t, TierOversized, loc.Tier, "one byte past the page capacity goes to the OS")

	d.Free(edge)
	d.Free(over)
}

func TestAllocZeroSize(t *testing.T) {
	d, _ := newTestDispatcher(t)
	defer d.Destroy()

	_, err := d.TryAlloc(0)
	require.ErrorIs(t, err, memtier.ErrZeroSize)
	assert.Nil(t, d.Alloc(-1))
}

func TestAllocBeforeInit(t *testing.T) {
	var d Dispatcher
	_, err := d.TryAlloc(8)
	require.ErrorIs(t, err, memtier.ErrNotInitialized)
	d.Free(unsafe.Pointer(&d))
	_, ok := d.Locate(unsafe.Pointer(&d))
	assert.False(t, ok)
	assert.Zero(t, d.Stats().AllocCalls)
	d.Destroy()
}

func TestOversizedExhausted(t *testing.T) {
	d, budget := newTestDispatcher(t)
	defer d.Destroy()

	budget.Limit = budget.InUse() + 1000
	p, err := d.TryAlloc(testPageCapacity + 1)
	require.ErrorIs(t, err, memtier.ErrExhausted)
	assert.Nil(t, p)
	assert.Equal(t, 1, d.Stats().FailedAlloc)
	assert.Zero(t, d.Stats().OversizedNodes)
}

// ============================================================================
// Free
// ============================================================================

func TestRoundTripRestoresOutstanding(t *testing.T) {
	d, _ := newTestDispatcher(t)
	defer d.Destroy()

	keep := d.Alloc(300)
	baseline := d.Stats().OutstandingBytes
	require.Equal(t, 512, baseline)

	for _, size := range []int{1, 17, 512, 513, 7777, testPageCapacity, testPageCapacity + 1, 1 << 20} {
		p := d.Alloc(size)
		require.NotNil(t, p, "size %d", size)
		assert.Greater(t, d.Stats().OutstandingBytes, baseline, "size %d", size)
		d.Free(p)
		assert.Equal(t, baseline, d.Stats().OutstandingBytes, "size %d", size)
	}
	d.Free(keep)
	assert.Zero(t, d.Stats().OutstandingBytes)
}

func TestDoubleFreeIsFatalForEveryTier(t *testing.T) {
	for _, tt := range tierSizes {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestDispatcher(t)
			defer d.Destroy()

			live := testutil.NewLive()
			var keep []unsafe.Pointer
			for _, other := range tierSizes {
				p := d.Alloc(other.size)
				require.NoError(t, live.Add(p, other.size))
				keep = append(keep, p)
			}

			p := d.Alloc(tt.size)
			d.Free(p)
			before := d.Stats()

			testutil.RequireViolation(t, checked.ErrDoubleFree, func() { d.Free(p) })
			assert.Equal(t, before, d.Stats(), "violation must not change any tier")
			require.NoError(t, live.VerifyAll(), "other live allocations must be intact")

			for _, q := range keep {
				_, err := live.Remove(q)
				require.NoError(t, err)
				d.Free(q)
			}
		})
	}
}

func TestOversizedDoubleFreeWindow(t *testing.T) {
	d, _ := newTestDispatcher(t)
	defer d.Destroy()

	ptrs := make([]unsafe.Pointer, recentFrees+1)
	for i := range ptrs {
		ptrs[i] = d.Alloc(testPageCapacity + 1)
		require.NotNil(t, ptrs[i])
	}
	for _, p := range ptrs {
		d.Free(p)
	}

	last := ptrs[len(ptrs)-1]
	testutil.RequireViolation(t, checked.ErrDoubleFree, func() { d.Free(last) })

	// The oldest release has aged out of the window.
	testutil.RequireViolation(t, checked.ErrForeignPointer, func() { d.Free(ptrs[0]) })
}

func TestOversizedAddressReuse(t *testing.T) {
	d, _ := newTestDispatcher(t)
	defer d.Destroy()

	p := d.Alloc(testPageCapacity + 1)
	d.Free(p)

	// Whether or not the OS hands back the same address, the new allocation
	// frees cleanly and its own second free is a double free.
	q := d.Alloc(testPageCapacity + 1)
	require.NotNil(t, q)
	assert.NotPanics(t, func() { d.Free(q) })
	testutil.RequireViolation(t, checked.ErrDoubleFree, func() { d.Free(q) })
}

func TestForeignPointer(t *testing.T) {
	d, _ := newTestDispatcher(t)
	defer d.Destroy()

	local := make([]byte, 16)
	v := testutil.RequireViolation(t, checked.ErrForeignPointer, func() {
		d.Free(unsafe.Pointer(&local[0]))
	})
	assert.Equal(t, "composite.Free", v.Op)

	big := d.Alloc(testPageCapacity + 100)
	testutil.RequireViolation(t, checked.ErrForeignPointer, func() {
		d.Free(unsafe.Add(big, 64))
	})
	assert.Equal(t, 1, d.Stats().OversizedNodes)
	d.Free(big)
}

func TestForeignPointerUnchecked(t *testing.T) {
	cfg := testConfig(osmem.NewBudget(nil, 0))
	cfg.Checked = false
	d, err := New(cfg)
	require.NoError(t, err)
	defer d.Destroy()

	local := 0
	assert.NotPanics(t, func() { d.Free(unsafe.Pointer(&local)) })
}

func TestOversizedHeaderCorruption(t *testing.T) {
	d, _ := newTestDispatcher(t)
	defer d.Destroy()

	p := d.Alloc(testPageCapacity + 1)
	hdr := region.Bytes(unsafe.Add(p, -bigHeaderSize), bigHeaderSize)
	saved := hdr[0]
	hdr[0] = 0

	testutil.RequireViolation(t, checked.ErrCorrupt, func() { d.Free(p) })
	hdr[0] = saved
	d.Free(p)
}

func TestOversizedList(t *testing.T) {
	d, budget := newTestDispatcher(t)
	defer d.Destroy()

	base := budget.Regions()
	a := d.Alloc(testPageCapacity + 1)
	b := d.Alloc(testPageCapacity + 2)
	c := d.Alloc(testPageCapacity + 3)
	assert.Equal(t, base+3, budget.Regions())

	var order []int
	d.Oversized(func(_ unsafe.Pointer, size int) bool {
		order = append(order, size)
		return true
	})
	assert.Equal(t, []int{testPageCapacity + 3, testPageCapacity + 2, testPageCapacity + 1}, order, "newest first")

	d.Free(b) // middle
	d.Free(c) // head
	d.Free(a) // last
	assert.Equal(t, base, budget.Regions())
	assert.Zero(t, d.Stats().OversizedBytes)
}

func TestAllocBytes(t *testing.T) {
	d, _ := newTestDispatcher(t)
	defer d.Destroy()

	b := d.AllocBytes(1000)
	require.Len(t, b, 1000)
	copy(b, "memtier")
	loc, ok := d.Locate(region.PointerOf(b))
	require.True(t, ok)
	assert.Equal(t, TierCoalesce, loc.Tier)

	d.FreeBytes(b)
	assert.Zero(t, d.Stats().OutstandingBytes)
	d.FreeBytes(nil)
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "slab", TierSlab.String())
	assert.Equal(t, "coalesce", TierCoalesce.String())
	assert.Equal(t, "oversized", TierOversized.String())
	assert.Equal(t, "none", TierNone.String())
}

// ============================================================================
// Process-wide instance
// ============================================================================

func TestDefaultInitializesOnce(t *testing.T) {
	var wg sync.WaitGroup
	got := make([]*Dispatcher, 8)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = Default()
		}()
	}
	wg.Wait()

	for _, d := range got {
		assert.Same(t, got[0], d)
	}
	require.True(t, got[0].Initialized())

	p := Allocate(24)
	require.NotNil(t, p)
	loc, ok := Default().Locate(p)
	require.True(t, ok)
	assert.Equal(t, 32, loc.ClassSize)
	Deallocate(p, 24)
	_, ok = Default().Locate(nil)
	assert.False(t, ok)
}

// ============================================================================
// Stress
// ============================================================================

// TestStress allocates 1000 random sizes in [1, 1 MiB], frees a random half,
// allocates 1000 more, then frees everything and expects every page empty.
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress workload")
	}
	budget := osmem.NewBudget(nil, 0)
	cfg := testConfig(budget)
	cfg.PageCapacity = 4 << 20
	d, err := New(cfg)
	require.NoError(t, err)

	rng := testutil.NewRand()
	live := testutil.NewSampledLive(64)

	allocN := func(n int) {
		t.Helper()
		for i := range n {
			size := testutil.RandSize(rng, 1, 1<<20)
			p := d.Alloc(size)
			require.NotNil(t, p, "alloc %d of %d bytes", i, size)
			require.NoError(t, live.Add(p, size))
		}
	}
	free := func(al testutil.Alloc) {
		t.Helper()
		_, err := live.Remove(al.Ptr)
		require.NoError(t, err)
		d.Free(al.Ptr)
	}

	allocN(1000)
	all := live.All()
	for _, i := range rng.Perm(len(all))[:500] {
		free(all[i])
	}
	require.Equal(t, 500, live.Len())

	allocN(1000)
	require.NoError(t, live.VerifyAll())

	for _, al := range live.All() {
		free(al)
	}

	s := d.Stats()
	assert.Zero(t, s.OutstandingBytes)
	assert.Zero(t, s.OversizedNodes)
	for _, st := range s.Slabs {
		assert.Zero(t, st.LiveBlocks, "slab class %d", st.BlockSize)
	}
	coal := d.Coalescing()
	assert.Greater(t, coal.PageCount(), 1)
	for i := range coal.PageCount() {
		var blocks int
		coal.WalkBlocks(i, func(b coalesce.BlockInfo) bool {
			blocks++
			assert.False(t, b.Allocated, "page %d", i)
			assert.Equal(t, coal.PageCapacity(), b.Size, "page %d is not fully coalesced", i)
			return true
		})
		assert.Equal(t, 1, blocks, "page %d", i)
	}

	assert.NotPanics(t, func() { d.Destroy() })
	assert.Zero(t, budget.Regions())
}
