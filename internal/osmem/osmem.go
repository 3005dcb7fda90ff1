// Package osmem reserves and releases private memory regions directly from the
// operating system. Regions are zeroed, readable and writable, and never
// overlap another live region.
package osmem

import (
	"errors"
	"fmt"
	"os"
)

// ErrExhausted indicates the operating system (or a Budget) refused a reservation.
var ErrExhausted = errors.New("osmem: reservation refused")

// Source hands out whole regions. Every region returned by Reserve must be
// given back to the same Source with Release, unmodified in length.
type Source interface {
	Reserve(size int) ([]byte, error)
	Release(b []byte) error
}

// System is the Source backed by the platform's virtual memory calls.
var System Source = systemSource{}

type systemSource struct{}

func (systemSource) Reserve(size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("osmem: invalid region size %d", size)
	}
	b, err := reserve(RoundUp(size))
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes: %v", ErrExhausted, size, err)
	}
	return b[:size], nil
}

func (systemSource) Release(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return release(b[:cap(b)])
}

// PageSize returns the granularity of OS reservations.
func PageSize() int {
	return os.Getpagesize()
}

// RoundUp rounds n up to a multiple of PageSize.
func RoundUp(n int) int {
	ps := PageSize()
	return (n + ps - 1) &^ (ps - 1)
}

// Budget wraps a Source with a byte limit and bookkeeping of live regions.
// A zero Limit means unlimited. Budget is not safe for concurrent use.
type Budget struct {
	Source Source
	Limit  int

	inUse    int
	regions  int
	reserved int
	released int
}

// NewBudget returns a Budget over src (System when nil) capped at limit bytes.
func NewBudget(src Source, limit int) *Budget {
	if src == nil {
		src = System
	}
	return &Budget{Source: src, Limit: limit}
}

// Reserve implements Source.
func (b *Budget) Reserve(size int) ([]byte, error) {
	if b.Limit > 0 && b.inUse+size > b.Limit {
		return nil, fmt.Errorf("%w: budget %d exceeded (in use %d, want %d)",
			ErrExhausted, b.Limit, b.inUse, size)
	}
	mem, err := b.Source.Reserve(size)
	if err != nil {
		return nil, err
	}
	b.inUse += len(mem)
	b.regions++
	b.reserved++
	return mem, nil
}

// Release implements Source.
func (b *Budget) Release(mem []byte) error {
	if err := b.Source.Release(mem); err != nil {
		return err
	}
	b.inUse -= len(mem)
	b.regions--
	b.released++
	return nil
}

// InUse returns the bytes currently reserved through b.
func (b *Budget) InUse() int { return b.inUse }

// Regions returns the number of regions reserved and not yet released.
func (b *Budget) Regions() int { return b.regions }

// Counts returns the total number of Reserve and Release calls that succeeded.
func (b *Budget) Counts() (reserved, released int) { return b.reserved, b.released }
