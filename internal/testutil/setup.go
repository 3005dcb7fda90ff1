// Package testutil holds helpers shared by the allocator test suites.
package testutil

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/joshuapare/memtier/internal/checked"
)

// Seed is the fixed seed for reproducible random workloads.
const Seed = 42

// NewRand returns a deterministic generator.
func NewRand() *rand.Rand {
	return rand.New(rand.NewSource(Seed))
}

// RequireViolation runs fn and fails the test unless it panics with a
// *checked.Violation wrapping want.
//
// Example:
//
//	testutil.RequireViolation(t, checked.ErrDoubleFree, func() { a.Free(p) })
func RequireViolation(t testing.TB, want error, fn func()) *checked.Violation {
	t.Helper()
	v := checked.Recover(fn)
	if v == nil {
		t.Fatalf("expected violation %v, got normal return", want)
		return nil
	}
	if !errors.Is(v, want) {
		t.Fatalf("expected violation %v, got %v", want, v)
	}
	return v
}

// RandSize returns a size in [lo, hi].
func RandSize(r *rand.Rand, lo, hi int) int {
	return lo + r.Intn(hi-lo+1)
}
