package ledger

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT - What the caller tendered
// =============================================================================

// Payment is a settlement request before conversion.
type Payment struct {
	Mode SettlementMode
	Paid Vector
	// Rate is rupees per gram of the target metal. Required only when cash
	// has to stand in for metal.
	Rate decimal.NullDecimal
	// Metal is the bucket converted cash lands in. For obligation-bound
	// settlements it is the obligation's metal type.
	Metal MetalType
}

// Validate checks the payment in isolation: mode, signs, emptiness.
func (p Payment) Validate() error {
	if !p.Mode.Valid() {
		return invalid("mode", "", "must be METAL, CASH or BOTH")
	}
	if d, neg := p.Paid.FirstNegative(); neg {
		return invalid(PaymentField(d), d, "must not be negative")
	}
	if p.Paid.IsZero() {
		return invalid("payment", "", "settlement pays nothing")
	}
	switch p.Mode {
	case ModeMetal:
		if !p.Paid.Cash.IsZero() {
			return invalid("cashVal", DimCash, "METAL mode accepts no cash")
		}
	case ModeCash:
		if !p.Paid.PureGold.IsZero() {
			return invalid("goldVal", DimGold, "CASH mode accepts no metal")
		}
		if !p.Paid.Silver.IsZero() {
			return invalid("silverVal", DimSilver, "CASH mode accepts no metal")
		}
	}
	if p.Rate.Valid && !p.Rate.Decimal.IsPositive() {
		return invalid("metalRate", "", "must be positive")
	}
	if !p.Metal.Valid() {
		return invalid("metalType", "", "must be GOLD or SILVER")
	}
	return nil
}

// Apply turns a payment into the vector subtracted from outstanding.
//
// Paid metal applies to its own dimension. Paid cash first covers the
// outstanding cash; any excess beyond tolerance is converted to metal at
// the payment rate and lands in the payment's metal bucket. Conversion
// happens before the over-settlement check.
//
// Errors:
//   - *ValidationError when excess cash must be converted but no rate was
//     given (never an implicit zero conversion)
//   - *OverSettlementError when any applied dimension exceeds the
//     outstanding value by more than the tolerance
func (c Calculator) Apply(p Payment, outstanding Vector, scope OverSettlementScope) (Vector, error) {
	if err := p.Validate(); err != nil {
		return Vector{}, err
	}

	applied := Vector{PureGold: p.Paid.PureGold, Silver: p.Paid.Silver, Cash: p.Paid.Cash}
	excess := p.Paid.Cash.Sub(outstanding.Cash)

	if excess.GreaterThan(c.Tolerance.Cash) {
		dim, hasMetal := p.Metal.Dimension()
		if hasMetal && outstanding.Get(dim).GreaterThan(c.Tolerance.Metal) {
			if !p.Rate.Valid {
				return Vector{}, invalid("metalRate", dim, "cash exceeds outstanding cash and must convert to metal, but no rate was given")
			}
			converted := excess.Div(p.Rate.Decimal).Round(dim.Places())
			applied.Cash = outstanding.Cash
			applied = applied.With(dim, applied.Get(dim).Add(converted))
		}
	}

	if d, over := c.Tolerance.Exceeds(applied, outstanding); over {
		return Vector{}, &OverSettlementError{
			Dimension:   d,
			Scope:       scope,
			Outstanding: outstanding.Get(d),
			Attempted:   applied.Get(d),
			Tolerance:   c.Tolerance.For(d),
		}
	}
	return applied, nil
}

// CheckWithin rejects an applied vector that exceeds limit beyond
// tolerance. Used for the account-wide limit after Apply.
func (c Calculator) CheckWithin(applied, limit Vector, scope OverSettlementScope) error {
	if d, over := c.Tolerance.Exceeds(applied, limit.ClampZero()); over {
		return &OverSettlementError{
			Dimension:   d,
			Scope:       scope,
			Outstanding: limit.ClampZero().Get(d),
			Attempted:   applied.Get(d),
			Tolerance:   c.Tolerance.For(d),
		}
	}
	return nil
}

// ConversionMetal picks the bucket converted cash lands in for an
// account-level settlement. An explicit choice wins; otherwise the single
// metal with something outstanding is used. Ambiguity is a validation
// error rather than a guess.
func (c Calculator) ConversionMetal(requested MetalType, paidCash decimal.Decimal, outstanding Vector) (MetalType, error) {
	if requested != MetalNone {
		return requested, nil
	}
	if !paidCash.Sub(outstanding.Cash).GreaterThan(c.Tolerance.Cash) {
		return MetalNone, nil
	}
	gold := outstanding.PureGold.GreaterThan(c.Tolerance.Metal)
	silver := outstanding.Silver.GreaterThan(c.Tolerance.Metal)
	switch {
	case gold && silver:
		return MetalNone, invalid("metalType", "", "both gold and silver are outstanding; choose the metal cash converts to")
	case gold:
		return MetalGold, nil
	case silver:
		return MetalSilver, nil
	}
	return MetalNone, nil
}

// PaymentField is the request field carrying a paid dimension.
func PaymentField(d Dimension) string {
	switch d {
	case DimGold:
		return "goldVal"
	case DimSilver:
		return "silverVal"
	default:
		return "cashVal"
	}
}
