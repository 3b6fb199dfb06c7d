/*
Package generic provides the domain-agnostic primitives of the leave engine.

PURPOSE:
  Leave balances are quantities of days computed over calendar periods.
  This package holds the pieces that know nothing about workers or leave
  types: decimal day helpers, calendar points, periods, date sets and the
  sentinel errors shared by every layer.

KEY CONCEPTS IN THIS FILE (types.go):
  - Day quantities: decimal.Decimal, never float64
  - Optional quantities: *decimal.Decimal where nil means "unlimited"
  - Helpers for the few operations the engine needs (ceil, floor at zero)

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal avoids floating-point drift in sums
  2. Explicit absence: an unlimited entitlement is nil, not a magic number
  3. Value semantics: helpers never mutate their inputs

USAGE:
  total := generic.Days(24)
  scaled := generic.CeilDiv(total.Mul(generic.Days(6)), generic.Days(12)) // 12

SEE ALSO:
  - time.go: TimePoint and holiday types
  - period.go: Calendar-year periods
  - dateset.go: Sets of calendar dates
  - errors.go: Sentinel errors
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// DAY QUANTITIES
// =============================================================================

// Days returns n days as a decimal.
func Days(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// DaysFromFloat returns a possibly fractional number of days (half days).
func DaysFromFloat(n float64) decimal.Decimal {
	return decimal.NewFromFloat(n)
}

// MustParseDecimal parses s, returning zero when s is not a number.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Ptr returns a pointer to a copy of d.
func Ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// CeilDiv returns ceil(a / b). b must not be zero.
func CeilDiv(a, b decimal.Decimal) decimal.Decimal {
	return a.Div(b).Ceil()
}

// NonNegative returns d, or zero when d is negative.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// MinOptional returns the smaller of a and b where nil means unbounded.
// The result is nil only when both are nil.
func MinOptional(a, b *decimal.Decimal) *decimal.Decimal {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return Ptr(*b)
	case b == nil:
		return Ptr(*a)
	case a.LessThan(*b):
		return Ptr(*a)
	default:
		return Ptr(*b)
	}
}

// EqualOptional compares two optional quantities by value.
func EqualOptional(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// FormatOptional renders an optional quantity, "unlimited" for nil.
func FormatOptional(d *decimal.Decimal) string {
	if d == nil {
		return "unlimited"
	}
	return d.String()
}
