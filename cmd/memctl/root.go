package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memtier/internal/logger"
)

var (
	// Global flags
	verbose    bool
	quiet      bool
	jsonOut    bool
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "memctl",
	Short: "Exercise and inspect the memtier allocator",
	Long: `memctl drives the three-tier memtier allocator (slab classes, a
coalescing tier and oversized OS regions) with seeded workloads and reports
what each tier holds: statistics, page layouts and contract checks.`,
	Version: "0.1.0",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel == "" {
			return nil
		}
		lvl, ok := logger.ParseLevel(logLevel)
		if !ok {
			return fmt.Errorf("unknown log level %q", logLevel)
		}
		logger.Init(logger.Options{Enabled: true, Level: lvl})
		return nil
	},
	SilenceUsage: true,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().
		BoolVarP(&quiet, "quiet", "q", false, "Suppress all output except errors")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", "", "YAML allocator configuration")
	rootCmd.PersistentFlags().
		StringVar(&logLevel, "log-level", "", "Enable allocator logging at debug, info, warn or error")
	addConfigFlags(rootCmd)
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Helper functions for output

// printInfo prints an info message if not in quiet mode
func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printVerbose prints a verbose message if verbose mode is enabled
func printVerbose(format string, args ...any) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stdout, format, args...)
	}
}

// printJSON outputs data as JSON
func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
