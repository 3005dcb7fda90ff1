package slab

import (
	"github.com/joshuapare/memtier/internal/checked"
	"github.com/joshuapare/memtier/internal/osmem"
)

// DefaultBlocksPerPage is the number of slots in each page unless configured otherwise.
const DefaultBlocksPerPage = 4096

// Config parameterizes a slab allocator.
type Config struct {
	// BlockSize is the slot size in bytes; rounded up to a multiple of 8.
	BlockSize int

	// BlocksPerPage is the number of slots reserved per OS page.
	BlocksPerPage int

	// Source supplies pages. Nil means osmem.System.
	Source osmem.Source

	// Checked enables markers, poisoning and contract-violation panics.
	Checked bool
}

// DefaultConfig returns the configuration used by the dispatcher ladder.
func DefaultConfig(blockSize int) Config {
	return Config{
		BlockSize:     blockSize,
		BlocksPerPage: DefaultBlocksPerPage,
		Source:        osmem.System,
		Checked:       checked.Enabled,
	}
}
