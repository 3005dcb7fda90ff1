package memtier

import (
	"errors"

	"github.com/joshuapare/memtier/internal/checked"
	"github.com/joshuapare/memtier/internal/osmem"
)

var (
	// ErrOversize indicates the request exceeds what the tier can serve.
	ErrOversize = errors.New("memtier: request exceeds tier capacity")

	// ErrZeroSize indicates a request for zero (or negative) bytes.
	ErrZeroSize = errors.New("memtier: request size must be positive")

	// ErrExhausted indicates the operating system declined to reserve a new page.
	ErrExhausted = osmem.ErrExhausted

	// ErrNotInitialized indicates use of an allocator before Init or after Destroy.
	ErrNotInitialized = errors.New("memtier: allocator not initialized")

	// ErrBadConfig indicates an invalid allocator configuration.
	ErrBadConfig = errors.New("memtier: invalid configuration")
)

// Contract violations raised (as *checked.Violation panics) by checked instances.
var (
	ErrDoubleFree     = checked.ErrDoubleFree
	ErrForeignPointer = checked.ErrForeignPointer
	ErrLeak           = checked.ErrLeak
	ErrCorrupt        = checked.ErrCorrupt
)
