package composite

import (
	"fmt"
	"slices"

	"github.com/joshuapare/memtier"
	"github.com/joshuapare/memtier/coalesce"
	"github.com/joshuapare/memtier/internal/checked"
	"github.com/joshuapare/memtier/internal/osmem"
	"github.com/joshuapare/memtier/slab"
)

// DefaultSlabClasses is the slab ladder used unless configured otherwise.
var DefaultSlabClasses = []int{16, 32, 64, 128, 256, 512}

// Config parameterizes a Dispatcher. The YAML tags let operators keep a
// configuration on disk.
type Config struct {
	// SlabClasses lists the slab block sizes, multiples of 8 in strictly
	// ascending order.
	SlabClasses []int `yaml:"slab_classes"`

	// BlocksPerPage is the slot count of every slab page.
	BlocksPerPage int `yaml:"blocks_per_page"`

	// PageCapacity is the largest request served by the coalescing tier, a
	// multiple of 8.
	PageCapacity int `yaml:"page_capacity"`

	// Checked enables contract-violation panics in every tier.
	Checked bool `yaml:"checked"`

	// Source supplies every tier's pages and oversized regions. Nil means osmem.System.
	Source osmem.Source `yaml:"-"`
}

// DefaultConfig returns the standard ladder with 16 MiB coalescing pages.
func DefaultConfig() Config {
	return Config{
		SlabClasses:   slices.Clone(DefaultSlabClasses),
		BlocksPerPage: slab.DefaultBlocksPerPage,
		PageCapacity:  coalesce.DefaultPageCapacity,
		Checked:       checked.Enabled,
	}
}

// normalize fills unset fields with defaults and validates the rest.
func (c Config) normalize() (Config, error) {
	if len(c.SlabClasses) == 0 {
		c.SlabClasses = slices.Clone(DefaultSlabClasses)
	}
	if c.BlocksPerPage <= 0 {
		c.BlocksPerPage = slab.DefaultBlocksPerPage
	}
	if c.PageCapacity <= 0 {
		c.PageCapacity = coalesce.DefaultPageCapacity
	}
	if c.Source == nil {
		c.Source = osmem.System
	}

	if c.PageCapacity%8 != 0 {
		return c, fmt.Errorf("%w: page capacity %d is not a multiple of 8", memtier.ErrBadConfig, c.PageCapacity)
	}
	for i, size := range c.SlabClasses {
		if size <= 0 || size%8 != 0 {
			return c, fmt.Errorf("%w: slab class %d is not a positive multiple of 8", memtier.ErrBadConfig, size)
		}
		if i > 0 && size <= c.SlabClasses[i-1] {
			return c, fmt.Errorf("%w: slab classes not strictly ascending at %d", memtier.ErrBadConfig, size)
		}
	}
	if largest := c.SlabClasses[len(c.SlabClasses)-1]; largest > c.PageCapacity {
		return c, fmt.Errorf("%w: largest slab class %d exceeds page capacity %d",
			memtier.ErrBadConfig, largest, c.PageCapacity)
	}
	return c, nil
}
