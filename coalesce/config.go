package coalesce

import (
	"github.com/joshuapare/memtier/internal/checked"
	"github.com/joshuapare/memtier/internal/osmem"
)

// DefaultPageCapacity is the largest single payload served by a default page (16 MiB).
const DefaultPageCapacity = 16 << 20

// MaxPageCapacity bounds PageCapacity so every in-page offset fits in 32 bits.
const MaxPageCapacity = 1 << 31

// Config parameterizes a coalescing allocator.
type Config struct {
	// PageCapacity is the largest payload one block can carry. Each page's
	// block area is PageCapacity plus one block header and footer.
	PageCapacity int

	// Source supplies pages. Nil means osmem.System.
	Source osmem.Source

	// Checked enables magic validation, free markers, poisoning and
	// contract-violation panics.
	Checked bool
}

// DefaultConfig returns a 16 MiB page configuration.
func DefaultConfig() Config {
	return Config{
		PageCapacity: DefaultPageCapacity,
		Source:       osmem.System,
		Checked:      checked.Enabled,
	}
}
