package composite

import (
	"sync"
	"unsafe"

	"github.com/joshuapare/memtier/internal/logger"
)

var (
	defaultOnce sync.Once
	defaultD    Dispatcher
)

// Default returns the process-wide Dispatcher, initializing it with
// DefaultConfig on first use. Concurrent first calls are safe; everything
// after that is not synchronized.
func Default() *Dispatcher {
	defaultOnce.Do(func() {
		if err := defaultD.Init(DefaultConfig()); err != nil {
			logger.Error("default dispatcher init failed", "err", err)
		}
	})
	return &defaultD
}

// Allocate serves container code backed by the process-wide Dispatcher.
// It returns nil when n bytes cannot be provided.
func Allocate(n int) unsafe.Pointer {
	return Default().Alloc(n)
}

// Deallocate returns p to the process-wide Dispatcher. n is accepted for
// container compatibility; ownership is discovered from p alone.
func Deallocate(p unsafe.Pointer, n int) {
	_ = n
	Default().Free(p)
}
