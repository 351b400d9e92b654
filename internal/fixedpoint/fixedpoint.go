// Package fixedpoint provides the integer fixed-point arithmetic used by
// every engine. Ratios and thresholds are expressed in basis points
// (1/10000), prices in micro-units and funding rates in parts-per-million
// (1/1000000). All intermediate products go through 128-bit math so that
// a*b/c never silently wraps.
package fixedpoint

import (
	"errors"
	"math/bits"

	"github.com/shopspring/decimal"
)

// Fixed-point scales. These match the wire encoding exactly and must not
// change: downstream consumers compare stored values bit-for-bit.
const (
	BasisPoints      uint64 = 10000
	PricePrecision   uint64 = 1000000
	FundingPrecision uint64 = 1000000
)

var (
	// ErrDivideByZero is returned when a ratio denominator is zero.
	ErrDivideByZero = errors.New("fixedpoint: division by zero")

	// ErrOverflow is returned when a result does not fit in 64 bits.
	ErrOverflow = errors.New("fixedpoint: result overflows uint64")
)

// MulDiv computes a*b/den with a 128-bit intermediate product.
func MulDiv(a, b, den uint64) (uint64, error) {
	if den == 0 {
		return 0, ErrDivideByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= den {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, den)
	return q, nil
}

// AbsDiff returns |a - b| without wrapping.
func AbsDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// SignedAbsDiff returns |a - b| for a signed a against an unsigned b.
// b values above MaxInt64 never occur in practice (deltas are bounded by
// portfolio size), so the int64 conversion is safe.
func SignedAbsDiff(a int64, b uint64) uint64 {
	d := a - int64(b)
	if d < 0 {
		return uint64(-d)
	}
	return uint64(d)
}

// MicrosToDecimal converts a micro-unit price to its decimal display
// value (250000 → 0.25). Display only — core math never leaves uint64.
func MicrosToDecimal(micros uint64) decimal.Decimal {
	return decimal.NewFromUint64(micros).Shift(-6)
}

// BpsToDecimal converts a basis-point ratio to its decimal display value
// (10000 → 1).
func BpsToDecimal(bps uint64) decimal.Decimal {
	return decimal.NewFromUint64(bps).Shift(-4)
}
