/*
purity.go - Gross weight to pure weight

PURPOSE:
  Derives an obligation's asset vector from what the counter clerk types:
  gross weight, a touch or wastage percentage, making charge and manual
  cash.

CALCULATION MODES:
  MULTIPLICATIVE (touch):   pure = gross × touch% / 100
  ADDITIVE       (wastage): pure = gross × (1 + wastage% / 100)

  10 g at 91.6 touch     → 9.160 g pure
  10 g with 8 % wastage  → 10.800 g pure

  Pure weight lands in pureGold or silver depending on MetalType. Cash is
  makingCharge + manualCash. Metal is rounded to milligrams and cash to
  paise, half away from zero.

SEE ALSO:
  - types.go: Obligation carries both Inputs and the computed Vector
*/
package ledger

import "github.com/shopspring/decimal"

type MetalType string

const (
	MetalNone   MetalType = ""
	MetalGold   MetalType = "GOLD"
	MetalSilver MetalType = "SILVER"
)

func (m MetalType) Valid() bool { return m == MetalNone || m == MetalGold || m == MetalSilver }

// Dimension maps a metal to its vector component.
func (m MetalType) Dimension() (Dimension, bool) {
	switch m {
	case MetalGold:
		return DimGold, true
	case MetalSilver:
		return DimSilver, true
	default:
		return "", false
	}
}

type CalcMode string

const (
	CalcMultiplicative CalcMode = "MULTIPLICATIVE"
	CalcAdditive       CalcMode = "ADDITIVE"
)

func (c CalcMode) Valid() bool { return c == CalcMultiplicative || c == CalcAdditive }

var hundred = decimal.NewFromInt(100)

// ObligationInputs are the raw figures an obligation is computed from.
type ObligationInputs struct {
	GrossWeight decimal.Decimal
	// Percent is the touch % in MULTIPLICATIVE mode, the wastage % in
	// ADDITIVE mode.
	Percent      decimal.Decimal
	CalcMode     CalcMode
	MakingCharge decimal.Decimal
	ManualCash   decimal.Decimal
	MetalType    MetalType
}

// PureWeight applies the calculation mode, rounded to milligrams.
func PureWeight(gross, percent decimal.Decimal, mode CalcMode) decimal.Decimal {
	var pure decimal.Decimal
	switch mode {
	case CalcAdditive:
		pure = gross.Mul(hundred.Add(percent)).Div(hundred)
	default:
		pure = gross.Mul(percent).Div(hundred)
	}
	return pure.Round(DimGold.Places())
}

// ComputeVector validates the inputs and derives the asset vector.
//
// Rejected with *ValidationError when:
//   - any input is negative
//   - the calculation mode or metal type is unknown
//   - a touch percentage is above 100
//   - gross weight is positive but no metal type is given
//   - gross weight is positive but pure weight comes out as zero
//     (no real value transferred)
//   - the resulting vector is all zero
func ComputeVector(in ObligationInputs) (Vector, error) {
	if !in.CalcMode.Valid() {
		return Vector{}, invalid("calcMode", "", "must be MULTIPLICATIVE or ADDITIVE")
	}
	if !in.MetalType.Valid() {
		return Vector{}, invalid("metalType", "", "must be GOLD or SILVER")
	}
	for _, f := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"grossWeight", in.GrossWeight},
		{"wastagePercent", in.Percent},
		{"makingCharge", in.MakingCharge},
		{"manualCash", in.ManualCash},
	} {
		if f.value.IsNegative() {
			return Vector{}, invalid(f.name, "", "must not be negative")
		}
	}
	if in.CalcMode == CalcMultiplicative && in.Percent.GreaterThan(hundred) {
		return Vector{}, invalid("wastagePercent", "", "touch cannot exceed 100")
	}

	var v Vector
	if in.GrossWeight.IsPositive() {
		dim, ok := in.MetalType.Dimension()
		if !ok {
			return Vector{}, invalid("metalType", "", "required when grossWeight is positive")
		}
		pure := PureWeight(in.GrossWeight, in.Percent, in.CalcMode)
		if !pure.IsPositive() {
			return Vector{}, invalid("grossWeight", dim, "pure weight after "+string(in.CalcMode)+" calculation is zero")
		}
		v = v.With(dim, pure)
	}
	v.Cash = in.MakingCharge.Add(in.ManualCash).Round(DimCash.Places())

	if v.IsZero() {
		return Vector{}, invalid("vector", "", "obligation transfers no value")
	}
	return v, nil
}
