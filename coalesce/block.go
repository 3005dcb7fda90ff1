package coalesce

import (
	"math/bits"

	"github.com/joshuapare/memtier/internal/region"
)

const (
	// Page header field offsets.
	hdrMagic   = 0
	hdrNumBins = 4
	hdrBins    = 8

	// Block header field offsets.
	blkMagic  = 0
	blkSize   = 4
	blkFlags  = 8
	blkPrev   = 12
	blkNext   = 16
	blkMagic2 = 20

	// Block footer field offsets, relative to the footer start.
	ftrSize  = 0
	ftrMagic = 4

	headerSize = 24
	footerSize = 8
	overhead   = headerSize + footerSize

	// minBlock is the smallest block worth splitting off: header, one
	// 8-byte payload word, footer.
	minBlock = overhead + alignment

	alignment = 8

	pageMagic  = 0xFEEDFACE
	blockMagic = 0xFEEDFACE
	freeMarker = 0xDEADBEEF
	freePoison = 0xDDDDDDDD

	flagAllocated = 1

	// poisonLimit caps how much of a freed payload checked mode poisons.
	poisonLimit = 256

	// noBlock terminates a bin list. Offset 0 is the page magic, never a block.
	noBlock = 0
)

// layout holds the geometry shared by every page of one allocator.
type layout struct {
	capacity  int // largest payload
	numBins   int
	areaStart int // offset of the first block
	areaSize  int
}

func newLayout(capacity int) layout {
	areaSize := capacity + overhead
	numBins := bits.Len(uint(areaSize))
	areaStart := align8(hdrBins + 4*numBins)
	return layout{
		capacity:  capacity,
		numBins:   numBins,
		areaStart: areaStart,
		areaSize:  areaSize,
	}
}

func (l layout) pageSize() int { return l.areaStart + l.areaSize }
func (l layout) areaEnd() int  { return l.areaStart + l.areaSize }

// binIndex maps a total block size to its bin: floor(log2(total)), clamped
// to the top bin.
func (l layout) binIndex(total int) int {
	return min(bits.Len(uint(total))-1, l.numBins-1)
}

func (l layout) binOff(b int) int { return hdrBins + 4*b }

// blockTotal returns the total block size needed for a payload of size bytes.
func blockTotal(size int) int { return overhead + align8(size) }

func align8(n int) int { return (n + alignment - 1) &^ (alignment - 1) }

// block accessors. off is always the page offset of a block header.

func sizeOf(r region.Region, off int) int { return int(r.U32(off + blkSize)) }

func isAllocated(r region.Region, off int) bool {
	return r.U32(off+blkFlags)&flagAllocated != 0
}

func footerOff(off, size int) int { return off + size - footerSize }

// writeBlock stamps header and footer tags for a block of size bytes at off.
// The bin links are left for insert to set.
func writeBlock(r region.Region, off, size int, allocated bool) {
	var flags uint32
	if allocated {
		flags = flagAllocated
	}
	r.PutU32(off+blkMagic, blockMagic)
	r.PutU32(off+blkSize, uint32(size))
	r.PutU32(off+blkFlags, flags)
	r.PutU32(off+blkMagic2, blockMagic)
	f := footerOff(off, size)
	r.PutU32(f+ftrSize, uint32(size))
	r.PutU32(f+ftrMagic, blockMagic)
}

// tagsIntact reports whether the block at off has both header magics and a
// footer agreeing with its header size, all within [lo, hi).
func tagsIntact(r region.Region, off, lo, hi int) bool {
	if off < lo || off+minBlock > hi {
		return false
	}
	if r.U32(off+blkMagic) != blockMagic || r.U32(off+blkMagic2) != blockMagic {
		return false
	}
	size := sizeOf(r, off)
	if size < minBlock || size%alignment != 0 || off+size > hi {
		return false
	}
	f := footerOff(off, size)
	return int(r.U32(f+ftrSize)) == size && r.U32(f+ftrMagic) == blockMagic
}
