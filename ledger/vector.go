/*
Package ledger provides the multi-asset debt ledger engine.

PURPOSE:
  Vendor accounts and B2B "neighbour shop" accounts record obligations that
  are denominated in up to three independent units at once: pure gold
  weight, silver weight and cash. Any obligation may be repaid over many
  settlement events, in any mix of units, at a conversion rate chosen at
  settlement time. This package holds the data model, the arithmetic and
  the pure calculations. It has no knowledge of HTTP or SQL.

KEY CONCEPTS IN THIS FILE (vector.go):
  - Vector: the triple {pureGold, silver, cash}
  - Dimension: names one component of a Vector
  - Tolerance: per-dimension rounding slack (grams vs rupees)

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64
  2. Value semantics: Vector methods never mutate the receiver
  3. Derived balances: nothing in this package caches a balance

SEE ALSO:
  - types.go: Account, Obligation, Settlement, Revision
  - outstanding.go: Outstanding Calculator
  - audit.go: audit trail replay
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DIMENSION
// =============================================================================

// Dimension names one component of the asset vector.
type Dimension string

const (
	DimGold   Dimension = "pureGold"
	DimSilver Dimension = "silver"
	DimCash   Dimension = "cash"
)

// Dimensions lists every dimension in a fixed order. Error reporting and
// iteration rely on this order being stable.
var Dimensions = []Dimension{DimGold, DimSilver, DimCash}

// IsMetal reports whether the dimension is a weight (grams).
func (d Dimension) IsMetal() bool { return d == DimGold || d == DimSilver }

// Places is the rounding precision for the dimension: milligrams for
// metal, paise for cash.
func (d Dimension) Places() int32 {
	if d.IsMetal() {
		return 3
	}
	return 2
}

// =============================================================================
// VECTOR
// =============================================================================

// Vector bundles pure gold (g), silver (g) and cash (₹).
type Vector struct {
	PureGold decimal.Decimal
	Silver   decimal.Decimal
	Cash     decimal.Decimal
}

// NewVector builds a vector from its three components.
func NewVector(gold, silver, cash decimal.Decimal) Vector {
	return Vector{PureGold: gold, Silver: silver, Cash: cash}
}

// MustParseVector builds a vector from decimal strings. Unparseable input
// becomes zero; use it for constants and tests.
func MustParseVector(gold, silver, cash string) Vector {
	return Vector{
		PureGold: MustParseDecimal(gold),
		Silver:   MustParseDecimal(silver),
		Cash:     MustParseDecimal(cash),
	}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Get returns one component.
func (v Vector) Get(d Dimension) decimal.Decimal {
	switch d {
	case DimGold:
		return v.PureGold
	case DimSilver:
		return v.Silver
	default:
		return v.Cash
	}
}

// With returns a copy with one component replaced.
func (v Vector) With(d Dimension, value decimal.Decimal) Vector {
	switch d {
	case DimGold:
		v.PureGold = value
	case DimSilver:
		v.Silver = value
	default:
		v.Cash = value
	}
	return v
}

func (v Vector) Add(o Vector) Vector {
	return Vector{PureGold: v.PureGold.Add(o.PureGold), Silver: v.Silver.Add(o.Silver), Cash: v.Cash.Add(o.Cash)}
}

func (v Vector) Sub(o Vector) Vector {
	return Vector{PureGold: v.PureGold.Sub(o.PureGold), Silver: v.Silver.Sub(o.Silver), Cash: v.Cash.Sub(o.Cash)}
}

func (v Vector) Neg() Vector {
	return Vector{PureGold: v.PureGold.Neg(), Silver: v.Silver.Neg(), Cash: v.Cash.Neg()}
}

// Scale multiplies every component by sign (+1 or -1).
func (v Vector) Scale(sign int) Vector {
	if sign < 0 {
		return v.Neg()
	}
	return v
}

// ClampZero raises every negative component to zero.
func (v Vector) ClampZero() Vector {
	return Vector{
		PureGold: decimal.Max(v.PureGold, decimal.Zero),
		Silver:   decimal.Max(v.Silver, decimal.Zero),
		Cash:     decimal.Max(v.Cash, decimal.Zero),
	}
}

// Round rounds each component to its dimension's precision.
func (v Vector) Round() Vector {
	return Vector{
		PureGold: v.PureGold.Round(DimGold.Places()),
		Silver:   v.Silver.Round(DimSilver.Places()),
		Cash:     v.Cash.Round(DimCash.Places()),
	}
}

func (v Vector) IsZero() bool {
	return v.PureGold.IsZero() && v.Silver.IsZero() && v.Cash.IsZero()
}

// FirstNegative returns the first dimension holding a negative value.
func (v Vector) FirstNegative() (Dimension, bool) {
	for _, d := range Dimensions {
		if v.Get(d).IsNegative() {
			return d, true
		}
	}
	return "", false
}

// Equal compares exactly, ignoring representation (9.16 == 9.160).
func (v Vector) Equal(o Vector) bool {
	return v.PureGold.Equal(o.PureGold) && v.Silver.Equal(o.Silver) && v.Cash.Equal(o.Cash)
}

func (v Vector) String() string {
	return fmt.Sprintf("{pureGold: %s g, silver: %s g, cash: %s}",
		v.PureGold.StringFixed(DimGold.Places()),
		v.Silver.StringFixed(DimSilver.Places()),
		v.Cash.StringFixed(DimCash.Places()))
}

// =============================================================================
// TOLERANCE
// =============================================================================

// Tolerance is the rounding slack per dimension. A remaining value at or
// below the tolerance counts as settled, and a payment may overshoot the
// outstanding value by at most the tolerance.
type Tolerance struct {
	Metal decimal.Decimal // grams, applies to gold and silver
	Cash  decimal.Decimal // rupees
}

// DefaultTolerance is 5 mg of metal and one rupee.
func DefaultTolerance() Tolerance {
	return Tolerance{
		Metal: decimal.New(5, -3),
		Cash:  decimal.NewFromInt(1),
	}
}

func (t Tolerance) For(d Dimension) decimal.Decimal {
	if d.IsMetal() {
		return t.Metal
	}
	return t.Cash
}

// Negligible reports whether every component of v is within tolerance of
// zero (in absolute value).
func (t Tolerance) Negligible(v Vector) bool {
	for _, d := range Dimensions {
		if v.Get(d).Abs().GreaterThan(t.For(d)) {
			return false
		}
	}
	return true
}

// Exceeds returns the first dimension where got is larger than limit by
// more than the tolerance.
func (t Tolerance) Exceeds(got, limit Vector) (Dimension, bool) {
	for _, d := range Dimensions {
		if got.Get(d).Sub(limit.Get(d)).GreaterThan(t.For(d)) {
			return d, true
		}
	}
	return "", false
}
