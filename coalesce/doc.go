// Package coalesce implements a variable-size boundary-tag allocator over
// OS-reserved pages of one fixed capacity.
//
// # Page Layout
//
//	+----------------------------+---------+---------+-----+---------+
//	| page header                | block 0 | block 1 | ... | block n |
//	| magic | numBins | bins[]   |         |         |     |         |
//	+----------------------------+---------+---------+-----+---------+
//	                             |<------------ block area ---------->|
//
// Blocks tile the block area exactly. Each block carries a header and a
// footer around its payload:
//
//	header (24 bytes): magic | size | flags | prev | next | magic
//	footer (8 bytes):  size | magic
//
// size is the total block size including header and footer, always a multiple
// of 8. prev and next are page offsets of neighbouring free blocks in the same
// bin (0 terminates) and are only meaningful while the block is free.
//
// # Size-Class Bins
//
// Every page keeps numBins = floor(log2(blockArea)) + 1 doubly linked free
// lists. A free block of total size s lives in bin floor(log2(s)), so every
// block in bin b is at least 2^b bytes and the first non-empty bin above the
// request's own bin always satisfies it.
//
// A request scans its own bin first-fit, escalates to the head of the next
// non-empty bin, then tries the next page. When no page fits, a new page is
// reserved as one free block spanning its whole area.
//
// # Coalescing
//
// Free reads the left neighbour's size from the footer just before the block
// and the right neighbour's header just after it. Neighbours merge only when
// they are inside the same page and free; left merges first, then right, and
// the result goes back into the bin for its final size. Freeing every block of
// a page leaves exactly one free block spanning the block area.
//
// # Thread Safety
//
// Allocator instances are not thread-safe.
package coalesce
