// Package memtier is a three-tier general-purpose memory allocator operating on
// memory reserved directly from the operating system.
//
// # Overview
//
// Requests flow through a composite dispatcher to one of three tiers:
//
//   - slab: fixed block-size pools with bump allocation and an intrusive
//     free list, one instance per power-of-two class (16B to 512B by default)
//   - coalesce: a boundary-tag allocator that splits blocks on allocation and
//     merges neighbours on free, with free blocks binned by floor(log2(size))
//   - oversized: requests larger than a coalescing page go straight to the OS
//     and are tracked on their own list
//
// Free takes a bare pointer. The dispatcher discovers the owning tier by probing
// address ranges in a fixed order: slab classes, then the coalescing tier, then
// the oversized list.
//
// # Usage Example
//
//	d, err := composite.New(composite.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer d.Destroy()
//
//	p := d.Alloc(100) // served by the 128-byte slab class
//	if p == nil {
//	    return memtier.ErrExhausted
//	}
//	d.Free(p)
//
// # Checked Builds
//
// Every allocator takes a Checked flag (default on when built with
// -tags memcheck). Checked instances write boundary markers and poison, and
// panic with a *checked.Violation on double free, foreign pointers, corrupted
// metadata, or Destroy with live allocations. Unchecked instances trust the caller.
//
// # Thread Safety
//
// Allocator instances are not thread-safe. Callers must synchronize access
// externally, for example one instance per goroutine or a lock around the
// dispatcher.
package memtier
