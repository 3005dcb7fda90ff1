// Package slab implements a fixed block-size allocator over OS-reserved pages.
//
// # Page Layout
//
// Each page is one private OS region:
//
//	+--------------------------------+-------------+-------------+-----+
//	| header (16 bytes)              | slot 0      | slot 1      | ... |
//	| magic | highWater | freeHead | live | BlockSize   | BlockSize   |     |
//	+--------------------------------+-------------+-------------+-----+
//
// Slots below highWater have been handed out at least once. A never-touched
// slot is claimed by advancing highWater (bump allocation); a freed slot is
// claimed by popping the page's free list.
//
// # Intrusive Free List
//
// A free slot's first four bytes are reinterpreted as the index of the next free
// slot in the same page (0xFFFFFFFF terminates the list). While a slot is free,
// no caller holds a reference to it, so the allocator has exclusive use of its
// bytes. Checked allocators also write a free marker into bytes 4..8 and poison
// the rest of the slot.
//
// For every page, at every point between calls:
//
//	freeListLen + (capacity - highWater) + live == capacity
//
// # Thread Safety
//
// Allocator instances are not thread-safe.
package slab
