package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/joshuapare/memtier/coalesce"
	"github.com/joshuapare/memtier/composite"
)

type coalesceBlock = coalesce.BlockInfo

var (
	// Workload flags shared by layout and stats
	wlCount     int
	wlFreeRatio float64
	wlMaxSize   string
	wlSeed      int64

	layoutPage int
	layoutTier string
)

func addWorkloadFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&wlCount, "count", "n", 256, "Blocks to allocate before inspecting")
	cmd.Flags().Float64Var(&wlFreeRatio, "free-ratio", 0.5, "Fraction of blocks freed before inspecting")
	cmd.Flags().StringVar(&wlMaxSize, "max-size", "64KiB", "Largest request size")
	cmd.Flags().Int64Var(&wlSeed, "seed", 42, "Random seed")
}

func init() {
	cmd := newLayoutCmd()
	addWorkloadFlags(cmd)
	cmd.Flags().IntVar(&layoutPage, "page", 0, "Page index within the tier")
	cmd.Flags().StringVar(&layoutTier, "tier", "coalesce", "Tier to show: coalesce or slab")
	rootCmd.AddCommand(cmd)
}

func newLayoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "layout",
		Short: "Show the block layout of a page after a workload",
		Long: `The layout command runs a seeded workload, then walks one page in
address order. For the coalescing tier every block is listed with its offset,
size and state, followed by the free-list bin occupancy. For the slab tier each
class's page is summarized with its high-water mark, free list and live slots.

Example:
  memctl layout
  memctl layout --page 1 --count 1000 --free-ratio 0.3
  memctl layout --tier slab --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout(cmd.Flags())
		},
	}
}

type blockRow struct {
	Offset    int  `json:"offset"`
	Size      int  `json:"size"`
	Total     int  `json:"total"`
	Allocated bool `json:"allocated"`
}

type slabRow struct {
	Class       int `json:"class"`
	Capacity    int `json:"capacity"`
	HighWater   int `json:"high_water"`
	FreeListLen int `json:"free_list"`
	Live        int `json:"live"`
}

type layoutReport struct {
	Tier   string      `json:"tier"`
	Page   int         `json:"page"`
	Blocks []blockRow  `json:"blocks,omitempty"`
	Bins   map[int]int `json:"bins,omitempty"`
	Slabs  []slabRow   `json:"slabs,omitempty"`
}

func runLayout(flags *pflag.FlagSet) error {
	d, w, err := runWorkload(flags)
	if err != nil {
		return err
	}

	report := layoutReport{Tier: layoutTier, Page: layoutPage}
	switch layoutTier {
	case "coalesce":
		err = coalesceLayout(d, &report)
	case "slab":
		err = slabLayout(d, &report)
	default:
		err = fmt.Errorf("unknown tier %q (want coalesce or slab)", layoutTier)
	}
	if err != nil {
		return err
	}

	if jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printLayout(report)
	}
	return teardown(d, w)
}

func coalesceLayout(d *composite.Dispatcher, report *layoutReport) error {
	coal := d.Coalescing()
	ok := coal.WalkBlocks(layoutPage, func(b coalesceBlock) bool {
		report.Blocks = append(report.Blocks, blockRow{
			Offset:    b.Offset,
			Size:      b.Size,
			Total:     b.Total,
			Allocated: b.Allocated,
		})
		return true
	})
	if !ok {
		return fmt.Errorf("coalescing tier has %d pages, no page %d", coal.PageCount(), layoutPage)
	}
	report.Bins = make(map[int]int)
	for bin, n := range coal.BinCounts(layoutPage) {
		if n > 0 {
			report.Bins[bin] = n
		}
	}
	return nil
}

func slabLayout(d *composite.Dispatcher, report *layoutReport) error {
	for _, s := range d.Slabs() {
		ps, ok := s.PageStats(layoutPage)
		if !ok {
			printVerbose("slab class %d has no page %d\n", s.BlockSize(), layoutPage)
			continue
		}
		report.Slabs = append(report.Slabs, slabRow{
			Class:       s.BlockSize(),
			Capacity:    ps.Capacity,
			HighWater:   ps.HighWater,
			FreeListLen: ps.FreeListLen,
			Live:        ps.Live,
		})
	}
	if len(report.Slabs) == 0 {
		return fmt.Errorf("no slab class has page %d", layoutPage)
	}
	return nil
}

func printLayout(r layoutReport) {
	if r.Tier == "slab" {
		printInfo("Slab page %d\n", r.Page)
		printInfo("  %8s %8s %10s %9s %6s\n", "class", "capacity", "high-water", "free-list", "live")
		for _, s := range r.Slabs {
			printInfo("  %8d %8d %10d %9d %6d\n", s.Class, s.Capacity, s.HighWater, s.FreeListLen, s.Live)
		}
		return
	}

	printInfo("Coalescing page %d: %d blocks\n", r.Page, len(r.Blocks))
	printInfo("  %10s %12s  %s\n", "offset", "size", "state")
	for _, b := range r.Blocks {
		state := "free"
		if b.Allocated {
			state = "allocated"
		}
		printInfo("  %10d %12s  %s\n", b.Offset, humanize.IBytes(uint64(b.Size)), state)
	}
	printInfo("Bins:")
	for bin := range 64 {
		if n, ok := r.Bins[bin]; ok {
			printInfo(" [%d]=%d", bin, n)
		}
	}
	printInfo("\n")
}

// runWorkload builds a Dispatcher and leaves it holding the workload's
// surviving blocks.
func runWorkload(flags *pflag.FlagSet) (*composite.Dispatcher, *workload, error) {
	maxSize, err := humanize.ParseBytes(wlMaxSize)
	if err != nil || maxSize == 0 {
		return nil, nil, fmt.Errorf("invalid --max-size %q", wlMaxSize)
	}
	if wlFreeRatio < 0 || wlFreeRatio > 1 {
		return nil, nil, fmt.Errorf("--free-ratio must be within [0, 1]")
	}

	d, _, err := newDispatcher(flags)
	if err != nil {
		return nil, nil, err
	}
	w := newWorkload(d, wlSeed, 1, int(maxSize))
	if err := w.allocN(wlCount); err != nil {
		return nil, nil, err
	}
	if err := w.freeRandom(int(float64(wlCount) * wlFreeRatio)); err != nil {
		return nil, nil, err
	}
	if err := w.verify(); err != nil {
		return nil, nil, err
	}
	printVerbose("Workload: %d allocated, %d freed, %d live\n", w.allocs, w.frees, len(w.live))
	return d, w, nil
}

// teardown frees the workload's blocks and destroys d.
func teardown(d *composite.Dispatcher, w *workload) error {
	if err := w.freeAll(); err != nil {
		return err
	}
	return destroyChecked(d)
}
