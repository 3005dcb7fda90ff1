package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/joshuapare/memtier/composite"
)

var (
	flagPageCapacity  string
	flagBlocksPerPage int
	flagClasses       []int
	flagChecked       bool
)

func addConfigFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVar(&flagPageCapacity, "page-capacity", "", "Coalescing page capacity, e.g. 16MiB")
	pf.IntVar(&flagBlocksPerPage, "blocks-per-page", 0, "Slots per slab page")
	pf.IntSliceVar(&flagClasses, "classes", nil, "Slab classes in ascending order, e.g. 16,32,64")
	pf.BoolVar(&flagChecked, "checked", true, "Enable contract checks in every tier")
}

// loadConfig starts from the defaults, overlays the YAML file named by
// --config, then any config flag set on the command line.
//
// Example file:
//
//	slab_classes: [16, 32, 64, 128, 256, 512]
//	blocks_per_page: 4096
//	page_capacity: 16777216
//	checked: true
func loadConfig(flags *pflag.FlagSet) (composite.Config, error) {
	cfg := composite.DefaultConfig()
	cfg.Checked = true

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decodeConfig(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", configPath, err)
		}
		printVerbose("Loaded configuration from %s\n", configPath)
	}

	if flags.Changed("page-capacity") {
		n, err := humanize.ParseBytes(flagPageCapacity)
		if err != nil {
			return cfg, fmt.Errorf("invalid --page-capacity: %w", err)
		}
		cfg.PageCapacity = int(n)
	}
	if flags.Changed("blocks-per-page") {
		cfg.BlocksPerPage = flagBlocksPerPage
	}
	if flags.Changed("classes") {
		cfg.SlabClasses = flagClasses
	}
	if flags.Changed("checked") {
		cfg.Checked = flagChecked
	}
	return cfg, nil
}

// decodeConfig overlays YAML onto cfg, rejecting unknown keys.
func decodeConfig(data []byte, cfg *composite.Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// newDispatcher builds a Dispatcher from the effective configuration.
func newDispatcher(flags *pflag.FlagSet) (*composite.Dispatcher, composite.Config, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, cfg, err
	}
	d, err := composite.New(cfg)
	if err != nil {
		return nil, cfg, fmt.Errorf("failed to initialize allocator: %w", err)
	}
	cfg = d.Config()
	printVerbose("Allocator: classes %v, %d blocks per slab page, %s coalescing pages, checked=%v\n",
		cfg.SlabClasses, cfg.BlocksPerPage, humanize.IBytes(uint64(cfg.PageCapacity)), cfg.Checked)
	return d, cfg, nil
}
