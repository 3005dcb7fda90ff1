// Package composite routes allocation requests across a ladder of slab
// allocators, one coalescing allocator and a list of oversized regions taken
// straight from the operating system.
//
// # Routing
//
//	size <= largest slab class   smallest slab class that fits (ascending first-fit)
//	size <= page capacity        coalescing allocator
//	otherwise                    dedicated OS region with an oversized header
//
// # Ownership Discovery
//
// Free takes only a pointer. The owner is found by probing, in order, each
// slab class's Contains, then the coalescing allocator's, then the oversized
// list. The number of probes is fixed by the ladder length, so Free stays
// cheap without a global address index.
//
// # Process-Wide Instance
//
// Default returns a process-wide Dispatcher initialized exactly once. Only
// that first initialization is synchronized; Alloc and Free on the shared
// instance are not, and callers sharing it across goroutines must serialize
// access themselves.
package composite
