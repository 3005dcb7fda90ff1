package composite

import "unsafe"

// Tier identifies which part of the Dispatcher owns an allocation.
type Tier int

const (
	TierNone Tier = iota
	TierSlab
	TierCoalesce
	TierOversized
)

func (t Tier) String() string {
	switch t {
	case TierSlab:
		return "slab"
	case TierCoalesce:
		return "coalesce"
	case TierOversized:
		return "oversized"
	default:
		return "none"
	}
}

// Location describes the owner of a pointer.
type Location struct {
	Tier Tier

	// ClassSize is the slab block size for TierSlab, otherwise 0.
	ClassSize int

	// Usable is the number of bytes the owning block can hold.
	Usable int
}

// Locate reports which tier owns p, probing in the same order as Free.
func (d *Dispatcher) Locate(p unsafe.Pointer) (Location, bool) {
	if p == nil || !d.initDone {
		return Location{}, false
	}
	for _, s := range d.slabs {
		if s.Contains(p) {
			return Location{Tier: TierSlab, ClassSize: s.BlockSize(), Usable: s.BlockSize()}, true
		}
	}
	if d.coal.Contains(p) {
		usable, _ := d.coal.UsableSize(p)
		return Location{Tier: TierCoalesce, Usable: usable}, true
	}
	if n := d.big.find(p); n != nil {
		return Location{Tier: TierOversized, Usable: n.size}, true
	}
	return Location{}, false
}
