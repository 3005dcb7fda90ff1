package buf

import (
	"math"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow int.
func AddOverflowSafe(a, b int) (int, bool) {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return 0, false
	case b < 0 && a < math.MinInt-b:
		return 0, false
	default:
		return a + b, true
	}
}

// MulOverflowSafe multiplies two non-negative values, returning ok = false when
// the result would overflow int or either operand is negative.
// Used for blockSize * blockCount page sizing.
func MulOverflowSafe(a, b int) (int, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt/b {
		return 0, false
	}
	return a * b, true
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
// Returns ok = false for negative n or when rounding overflows.
func AlignUp(n, align int) (int, bool) {
	if n < 0 {
		return 0, false
	}
	sum, ok := AddOverflowSafe(n, align-1)
	if !ok {
		return 0, false
	}
	return sum &^ (align - 1), true
}

// Has reports whether b[off:off+n] is within bounds.
func Has(b []byte, off, n int) bool {
	if off < 0 || n < 0 || off > len(b) {
		return false
	}
	end, ok := AddOverflowSafe(off, n)
	return ok && end <= len(b)
}
