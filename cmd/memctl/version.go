package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build metadata, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type versionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Built   string `json:"built"`
}

// versionCmd prints the build metadata, as text or with --json.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		info := versionInfo{Version: version, Commit: commit, Built: date}
		if jsonOut {
			return printJSON(info)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "memctl %s\n", info.Version)
		fmt.Fprintf(out, "  commit: %s\n", info.Commit)
		fmt.Fprintf(out, "  built:  %s\n", info.Built)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
