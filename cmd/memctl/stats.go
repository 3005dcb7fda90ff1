package main

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/joshuapare/memtier/composite"
)

func init() {
	cmd := newStatsCmd()
	addWorkloadFlags(cmd)
	rootCmd.AddCommand(cmd)
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-tier statistics after a workload",
		Long: `The stats command runs a seeded workload and reports what each tier
holds: slab pages and live slots per class, coalescing pages with allocated
and free bytes, split and merge counts, and outstanding oversized regions.

Example:
  memctl stats
  memctl stats --count 2000 --max-size 1MiB
  memctl stats --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(cmd.Flags())
		},
	}
}

func runStats(flags *pflag.FlagSet) error {
	d, w, err := runWorkload(flags)
	if err != nil {
		return err
	}
	s := d.Stats()

	if jsonOut {
		if err := printJSON(s); err != nil {
			return err
		}
	} else {
		printStats(s)
	}
	return teardown(d, w)
}

func printStats(s composite.Stats) {
	printInfo("Dispatcher\n")
	printInfo("  alloc calls: %d  free calls: %d  failed: %d\n", s.AllocCalls, s.FreeCalls, s.FailedAlloc)
	printInfo("  outstanding: %s\n", humanize.IBytes(uint64(s.OutstandingBytes)))

	printInfo("Slab classes\n")
	printInfo("  %6s %6s %10s %10s %10s %10s\n", "class", "pages", "live", "capacity", "allocs", "frees")
	for _, st := range s.Slabs {
		printInfo("  %6d %6d %10s %10s %10s %10s\n", st.BlockSize, st.Pages,
			humanize.Comma(int64(st.LiveBlocks)), humanize.Comma(int64(st.Capacity)),
			humanize.Comma(int64(st.AllocCalls)), humanize.Comma(int64(st.FreeCalls)))
	}

	c := s.Coalesce
	printInfo("Coalescing tier (%s pages)\n", humanize.IBytes(uint64(c.PageCapacity)))
	printInfo("  pages: %d  grows: %d\n", c.Pages, c.Grows)
	printInfo("  allocated: %s in %d blocks\n", humanize.IBytes(uint64(c.AllocatedBytes)), c.AllocatedBlocks)
	printInfo("  free: %s in %d blocks\n", humanize.IBytes(uint64(c.FreeBytes)), c.FreeBlocks)
	printInfo("  splits: %d  merges: %d left, %d right\n", c.SplitCount, c.CoalesceLeft, c.CoalesceRight)

	printInfo("Oversized\n")
	printInfo("  regions: %d  bytes: %s\n", s.OversizedNodes, humanize.IBytes(uint64(s.OversizedBytes)))
}
