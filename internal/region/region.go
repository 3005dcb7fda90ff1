// Package region overlays fixed-layout headers onto OS-reserved memory and
// converts between raw pointers and region offsets.
//
// It is the only package in memtier that performs address arithmetic. The
// allocators above it work purely in offsets and ask a Region to translate at
// the API boundary, so their algorithms can be tested without pointer juggling.
package region

import (
	"unsafe"

	"github.com/joshuapare/memtier/internal/buf"
)

// Region is one contiguous OS-reserved memory range.
// The zero value is an empty region that contains nothing.
type Region struct {
	mem []byte
}

// New wraps mem. The caller keeps ownership of the underlying reservation.
// Addresses are always derived from mem itself, so a Region stays consistent
// even over Go memory the runtime may move.
func New(mem []byte) Region {
	if len(mem) == 0 {
		return Region{}
	}
	return Region{mem: mem}
}

// Len returns the region length in bytes.
func (r Region) Len() int { return len(r.mem) }

// Base returns the address of the first byte.
func (r Region) Base() uintptr {
	if len(r.mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(r.mem)))
}

// Mem returns the backing memory, as originally reserved.
func (r Region) Mem() []byte { return r.mem }

// Offset translates p into an offset, reporting false when p lies outside the region.
func (r Region) Offset(p unsafe.Pointer) (int, bool) {
	if len(r.mem) == 0 {
		return 0, false
	}
	// No call may sit between the two conversions: a stack move would
	// update p and mem but not a uintptr already taken.
	base := uintptr(unsafe.Pointer(unsafe.SliceData(r.mem)))
	addr := uintptr(p)
	if addr < base || addr-base >= uintptr(len(r.mem)) {
		return 0, false
	}
	return int(addr - base), true
}

// Within reports whether p lies in the half-open offset window [lo, hi).
func (r Region) Within(p unsafe.Pointer, lo, hi int) bool {
	off, ok := r.Offset(p)
	return ok && off >= lo && off < hi
}

// Pointer returns the address of the byte at off.
func (r Region) Pointer(off int) unsafe.Pointer {
	return unsafe.Pointer(&r.mem[off])
}

// Addr returns the numeric address of the byte at off. off is not bounds
// checked, so violation reports may name addresses past the region.
func (r Region) Addr(off int) uintptr {
	return r.Base() + uintptr(off)
}

// U32 reads the little-endian uint32 field at off.
func (r Region) U32(off int) uint32 {
	return buf.U32LE(r.mem[off : off+4])
}

// PutU32 writes the little-endian uint32 field at off.
func (r Region) PutU32(off int, v uint32) {
	buf.PutU32LE(r.mem[off:off+4], v)
}

// Slice returns the n bytes starting at off, or nil when out of bounds.
func (r Region) Slice(off, n int) []byte {
	if !buf.Has(r.mem, off, n) {
		return nil
	}
	return r.mem[off : off+n : off+n]
}

// Fill repeats the 32-bit pattern v over the n bytes starting at off.
func (r Region) Fill(off, n int, v uint32) {
	buf.FillU32LE(r.Slice(off, n), v)
}

// Bytes views n bytes of foreign memory starting at p. It is used by callers that
// hold a pointer returned from an allocator and want a slice over it.
func Bytes(p unsafe.Pointer, n int) []byte {
	if p == nil || n <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(p), n)
}

// PointerOf returns the address of b's first element, or nil for an empty slice.
func PointerOf(b []byte) unsafe.Pointer {
	if cap(b) == 0 {
		return nil
	}
	return unsafe.Pointer(unsafe.SliceData(b))
}
