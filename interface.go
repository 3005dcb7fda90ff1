package memtier

import "unsafe"

// Allocator is the operation surface shared by every tier and the dispatcher.
//
// Implementations:
//   - slab.Allocator: fixed block size
//   - coalesce.Allocator: variable size up to one page
//   - composite.Dispatcher: routes across all tiers
type Allocator interface {
	// Alloc returns size usable bytes, or nil when this allocator cannot
	// satisfy the request (too large, or the OS refused a new page).
	Alloc(size int) unsafe.Pointer

	// TryAlloc is Alloc with the failure reason.
	TryAlloc(size int) (unsafe.Pointer, error)

	// Free returns a pointer obtained from Alloc on the same instance.
	// Freeing anything else is a contract violation.
	Free(p unsafe.Pointer)

	// Contains reports whether p lies inside memory owned by this allocator.
	Contains(p unsafe.Pointer) bool

	// Destroy releases every page back to the OS.
	Destroy()
}
