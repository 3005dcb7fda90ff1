package coalesce

// insert pushes the free block at off onto the head of the bin for its size.
func (a *Allocator) insert(pg *page, off int) {
	r := pg.reg
	bin := a.lay.binOff(a.lay.binIndex(sizeOf(r, off)))
	head := r.U32(bin)

	r.PutU32(off+blkPrev, noBlock)
	r.PutU32(off+blkNext, head)
	if head != noBlock {
		r.PutU32(int(head)+blkPrev, uint32(off))
	}
	r.PutU32(bin, uint32(off))
}

// unlink removes the free block at off from its bin.
func (a *Allocator) unlink(pg *page, off int) {
	r := pg.reg
	prev := r.U32(off + blkPrev)
	next := r.U32(off + blkNext)

	if prev != noBlock {
		r.PutU32(int(prev)+blkNext, next)
	} else {
		r.PutU32(a.lay.binOff(a.lay.binIndex(sizeOf(r, off))), next)
	}
	if next != noBlock {
		r.PutU32(int(next)+blkPrev, prev)
	}
	r.PutU32(off+blkPrev, noBlock)
	r.PutU32(off+blkNext, noBlock)
}

// fit finds a free block of at least total bytes in pg: first-fit within the
// request's own bin, then the head of the first non-empty higher bin.
func (a *Allocator) fit(pg *page, total int) (int, bool) {
	r := pg.reg
	b := a.lay.binIndex(total)

	n := 0
	for off := r.U32(a.lay.binOff(b)); off != noBlock; off = r.U32(int(off) + blkNext) {
		if sizeOf(r, int(off)) >= total {
			return int(off), true
		}
		if n++; n > a.maxBlocks() {
			a.corruptList(pg, b)
			break
		}
	}

	for b++; b < a.lay.numBins; b++ {
		if off := r.U32(a.lay.binOff(b)); off != noBlock {
			return int(off), true
		}
	}
	return 0, false
}

// binLen counts the blocks in bin b of pg.
func (a *Allocator) binLen(pg *page, b int) int {
	r := pg.reg
	n := 0
	for off := r.U32(a.lay.binOff(b)); off != noBlock; off = r.U32(int(off) + blkNext) {
		if n++; n > a.maxBlocks() {
			a.corruptList(pg, b)
			break
		}
	}
	return n
}

// maxBlocks bounds list walks so a corrupted link cannot loop forever.
func (a *Allocator) maxBlocks() int { return a.lay.areaSize / minBlock }
