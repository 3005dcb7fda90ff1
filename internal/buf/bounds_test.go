package buf

import (
	"math"
	"testing"
)

func TestAddOverflowSafe(t *testing.T) {
	if sum, ok := AddOverflowSafe(10, 5); !ok || sum != 15 {
		t.Fatalf("AddOverflowSafe(10,5)=%d,%v want 15,true", sum, ok)
	}
	if _, ok := AddOverflowSafe(math.MaxInt, 1); ok {
		t.Fatalf("expected overflow when adding to MaxInt")
	}
	if _, ok := AddOverflowSafe(math.MinInt, -1); ok {
		t.Fatalf("expected underflow when subtracting from MinInt")
	}
}

func TestMulOverflowSafe(t *testing.T) {
	if got, ok := MulOverflowSafe(512, 4096); !ok || got != 512*4096 {
		t.Fatalf("MulOverflowSafe(512,4096)=%d,%v", got, ok)
	}
	if got, ok := MulOverflowSafe(0, math.MaxInt); !ok || got != 0 {
		t.Fatalf("MulOverflowSafe(0,MaxInt)=%d,%v want 0,true", got, ok)
	}
	if _, ok := MulOverflowSafe(math.MaxInt/2+1, 2); ok {
		t.Fatalf("expected overflow")
	}
	if _, ok := MulOverflowSafe(-1, 2); ok {
		t.Fatalf("negative operands must be rejected")
	}
}

func TestAlignUp(t *testing.T) {
	cases := []struct{ n, align, want int }{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{17, 8, 24},
		{4097, 4096, 8192},
	}
	for _, c := range cases {
		got, ok := AlignUp(c.n, c.align)
		if !ok || got != c.want {
			t.Fatalf("AlignUp(%d,%d)=%d,%v want %d", c.n, c.align, got, ok, c.want)
		}
	}
	if _, ok := AlignUp(math.MaxInt, 8); ok {
		t.Fatalf("expected overflow when aligning MaxInt")
	}
	if _, ok := AlignUp(-1, 8); ok {
		t.Fatalf("negative sizes must be rejected")
	}
}

func TestHas(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4}
	if Has(data, 2, 4) {
		t.Fatalf("Has should be false for out-of-bounds range")
	}
	if !Has(data, 2, 1) {
		t.Fatalf("Has should be true for valid range")
	}
	if !Has(data, 5, 0) {
		t.Fatalf("empty range at end is in bounds")
	}
	if Has(data, -1, 1) || Has(data, 1, -1) {
		t.Fatalf("negative offset or length must be rejected")
	}
}
