package fixedpoint

import (
	"math"
	"testing"
)

// --- MulDiv tests ---

func TestMulDiv_Basic(t *testing.T) {
	got, err := MulDiv(250000, 500, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 12500 {
		t.Errorf("expected 12500, got %d", got)
	}
}

func TestMulDiv_LargeOperandsNoWrap(t *testing.T) {
	// 2^32 * 2^32 overflows a plain uint64 product but the 128-bit
	// intermediate keeps the quotient exact.
	a := uint64(1) << 32
	got, err := MulDiv(a, a, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := uint64(1844674407370955) // floor(2^64 / 10^4)
	if got != want {
		t.Errorf("expected %d, got %d", want, got)
	}
}

func TestMulDiv_DivideByZero(t *testing.T) {
	if _, err := MulDiv(1, 1, 0); err != ErrDivideByZero {
		t.Errorf("expected ErrDivideByZero, got %v", err)
	}
}

func TestMulDiv_Overflow(t *testing.T) {
	if _, err := MulDiv(math.MaxUint64, math.MaxUint64, 1); err != ErrOverflow {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestMulDiv_MaxExact(t *testing.T) {
	got, err := MulDiv(math.MaxUint64, 10000, 10000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != math.MaxUint64 {
		t.Errorf("expected MaxUint64, got %d", got)
	}
}

// --- Difference helpers ---

func TestAbsDiff(t *testing.T) {
	tests := []struct {
		a, b, want uint64
	}{
		{260000, 250000, 10000},
		{250000, 260000, 10000},
		{5, 5, 0},
		{0, math.MaxUint64, math.MaxUint64},
	}
	for _, tt := range tests {
		if got := AbsDiff(tt.a, tt.b); got != tt.want {
			t.Errorf("AbsDiff(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSignedAbsDiff(t *testing.T) {
	tests := []struct {
		a    int64
		b    uint64
		want uint64
	}{
		{600, 100, 500},
		{100, 600, 500},
		{-300, 200, 500},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := SignedAbsDiff(tt.a, tt.b); got != tt.want {
			t.Errorf("SignedAbsDiff(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

// --- Display conversion ---

func TestMicrosToDecimal(t *testing.T) {
	if got := MicrosToDecimal(250000).String(); got != "0.25" {
		t.Errorf("expected 0.25, got %s", got)
	}
	if got := MicrosToDecimal(1000000).String(); got != "1" {
		t.Errorf("expected 1, got %s", got)
	}
}

func TestBpsToDecimal(t *testing.T) {
	if got := BpsToDecimal(10000).String(); got != "1" {
		t.Errorf("expected 1, got %s", got)
	}
	if got := BpsToDecimal(5000).String(); got != "0.5" {
		t.Errorf("expected 0.5, got %s", got)
	}
}
