// Package buf contains bounds-checked size arithmetic and little-endian field
// helpers for header overlays.
package buf

import "encoding/binary"

// U32LE reads a little-endian uint32 from b. Returns 0 when b is too short.
func U32LE(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// PutU32LE writes v as a little-endian uint32 into b. No-op when b is too short.
func PutU32LE(b []byte, v uint32) {
	if len(b) < 4 {
		return
	}
	binary.LittleEndian.PutUint32(b, v)
}

// FillU32LE repeats the little-endian encoding of v across b.
// A trailing remainder shorter than 4 bytes is left untouched.
func FillU32LE(b []byte, v uint32) {
	for len(b) >= 4 {
		binary.LittleEndian.PutUint32(b, v)
		b = b[4:]
	}
}
