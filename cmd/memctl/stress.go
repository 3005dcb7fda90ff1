package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/joshuapare/memtier/composite"
	"github.com/joshuapare/memtier/internal/checked"
)

var (
	stressCount   int
	stressMaxSize string
	stressSeed    int64
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVarP(&stressCount, "count", "n", 1000, "Allocations per allocation phase")
	cmd.Flags().StringVar(&stressMaxSize, "max-size", "1MiB", "Largest request size")
	cmd.Flags().Int64Var(&stressSeed, "seed", 42, "Random seed")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Run the allocate/free stress scenario",
		Long: `The stress command allocates --count blocks of random size in
[1, --max-size], frees a random half, allocates --count more, then frees
everything. Every phase checks that no two live blocks overlap and that their
contents survived. At the end every slab page must be empty, every coalescing
page must be one free block, and no oversized region may remain.

Example:
  memctl stress
  memctl stress --count 5000 --max-size 64KiB --seed 7
  memctl stress --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd.Flags())
		},
	}
}

type stressReport struct {
	Count           int    `json:"count"`
	MaxSize         int    `json:"max_size"`
	Seed            int64  `json:"seed"`
	Allocs          int    `json:"allocs"`
	Frees           int    `json:"frees"`
	PeakOutstanding int    `json:"peak_outstanding_bytes"`
	CoalescePages   int    `json:"coalesce_pages"`
	SlabPages       int    `json:"slab_pages"`
	OversizedPeak   int    `json:"oversized_peak"`
	Passed          bool   `json:"passed"`
	Error           string `json:"error,omitempty"`
}

func runStress(flags *pflag.FlagSet) error {
	maxSize, err := humanize.ParseBytes(stressMaxSize)
	if err != nil || maxSize == 0 {
		return fmt.Errorf("invalid --max-size %q", stressMaxSize)
	}
	if stressCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}

	d, _, err := newDispatcher(flags)
	if err != nil {
		return err
	}

	report := stressReport{Count: stressCount, MaxSize: int(maxSize), Seed: stressSeed}
	w := newWorkload(d, stressSeed, 1, int(maxSize))

	var runErr error
	if v := checked.Recover(func() { runErr = stressPhases(d, w, &report) }); v != nil {
		runErr = v
	}
	if runErr == nil {
		runErr = destroyChecked(d)
	}
	report.Allocs, report.Frees = w.allocs, w.frees
	report.Passed = runErr == nil
	if runErr != nil {
		report.Error = runErr.Error()
	}

	if jsonOut {
		if err := printJSON(report); err != nil {
			return err
		}
		return runErr
	}

	printInfo("Stress: %d + %d allocations up to %s (seed %d)\n",
		report.Count, report.Count, humanize.IBytes(uint64(report.MaxSize)), report.Seed)
	printInfo("  allocs: %d  frees: %d\n", report.Allocs, report.Frees)
	printInfo("  peak outstanding: %s\n", humanize.IBytes(uint64(report.PeakOutstanding)))
	printInfo("  pages: %d slab, %d coalescing; oversized peak %d\n",
		report.SlabPages, report.CoalescePages, report.OversizedPeak)
	if runErr != nil {
		if errViolation(runErr) {
			return fmt.Errorf("stress failed with contract violation: %w", runErr)
		}
		return fmt.Errorf("stress failed: %w", runErr)
	}
	printInfo("PASS\n")
	return nil
}

func stressPhases(d *composite.Dispatcher, w *workload, report *stressReport) error {
	observe := func() {
		s := d.Stats()
		report.PeakOutstanding = max(report.PeakOutstanding, s.OutstandingBytes)
		report.OversizedPeak = max(report.OversizedPeak, s.OversizedNodes)
		report.CoalescePages = s.Coalesce.Pages
		report.SlabPages = 0
		for _, st := range s.Slabs {
			report.SlabPages += st.Pages
		}
	}

	steps := []struct {
		name string
		run  func() error
	}{
		{"allocate", func() error { return w.allocN(report.Count) }},
		{"free half", func() error { return w.freeRandom(report.Count / 2) }},
		{"allocate again", func() error { return w.allocN(report.Count) }},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		if err := w.verify(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		observe()
		printVerbose("  %-15s live=%d outstanding=%s\n", step.name, len(w.live),
			humanize.IBytes(uint64(d.Stats().OutstandingBytes)))
	}

	if err := w.freeAll(); err != nil {
		return fmt.Errorf("free all: %w", err)
	}
	return checkEmpty(d)
}

// checkEmpty reports any tier still holding memory.
func checkEmpty(d *composite.Dispatcher) error {
	s := d.Stats()
	if s.OutstandingBytes != 0 {
		return fmt.Errorf("%d bytes still outstanding", s.OutstandingBytes)
	}
	if s.OversizedNodes != 0 {
		return fmt.Errorf("%d oversized regions remain", s.OversizedNodes)
	}
	for _, st := range s.Slabs {
		if st.LiveBlocks != 0 {
			return fmt.Errorf("slab class %d has %d live blocks", st.BlockSize, st.LiveBlocks)
		}
	}
	coal := d.Coalescing()
	for i := range coal.PageCount() {
		blocks, whole := 0, false
		coal.WalkBlocks(i, func(b coalesceBlock) bool {
			blocks++
			whole = !b.Allocated && b.Size == coal.PageCapacity()
			return true
		})
		if blocks != 1 || !whole {
			return fmt.Errorf("coalescing page %d not fully coalesced (%d blocks)", i, blocks)
		}
	}
	return nil
}

// destroyChecked tears d down, turning a contract violation into an error.
func destroyChecked(d *composite.Dispatcher) error {
	if v := checked.Recover(d.Destroy); v != nil {
		return v
	}
	return nil
}

// errViolation reports whether err carries a contract violation.
func errViolation(err error) bool {
	var v *checked.Violation
	return errors.As(err, &v)
}
