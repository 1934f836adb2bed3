/*
outstanding.go - Outstanding Calculator

PURPOSE:
  The single source of truth for "how much is still owed". Everything is
  derived on read from obligations and settlements. No balance field is
  stored anywhere that could get out of sync.

FORMULAS:
  outstanding(o)  = max(0, o.Vector - Σ applied(settlements on o))   per dimension
  settled?(o)     = every dimension of outstanding(o) <= tolerance
  net(account)    = Σ_o sign(o.dir) × (o.Vector - Σ applied on o)
                  - Σ_bulk sign(s.dir) × s.Applied

  sign(BORROW) = +1 (we owe), sign(LEND) = -1 (they owe).
  Reversed obligations contribute nothing.

SEE ALSO:
  - settle.go: how a payment becomes an Applied vector
  - audit.go: replays the same numbers entry by entry
*/
package ledger

// Calculator holds the tolerance every derived state depends on.
type Calculator struct {
	Tolerance Tolerance
}

func NewCalculator(tol Tolerance) Calculator {
	return Calculator{Tolerance: tol}
}

// SettledOn sums the applied vectors of every settlement (inverse ones
// included, which subtract) tied to the obligation.
func SettledOn(id ObligationID, settlements []Settlement) Vector {
	var sum Vector
	for _, s := range settlements {
		if s.ObligationID == id {
			sum = sum.Add(s.Applied)
		}
	}
	return sum
}

// ActiveSettlements returns the settlements on an obligation that have not
// been undone by an inverse settlement. Inverse settlements themselves are
// never active.
func ActiveSettlements(id ObligationID, settlements []Settlement) []Settlement {
	reversed := make(map[SettlementID]bool)
	for _, s := range settlements {
		if s.IsInverse() {
			reversed[s.ReversesID] = true
		}
	}
	var active []Settlement
	for _, s := range settlements {
		if s.ObligationID == id && !s.IsInverse() && !reversed[s.ID] {
			active = append(active, s)
		}
	}
	return active
}

// Outstanding returns the remaining unpaid vector, clamped at zero per
// dimension, and whether the obligation counts as settled.
func (c Calculator) Outstanding(o Obligation, settlements []Settlement) (Vector, bool) {
	remaining := o.Vector.Sub(SettledOn(o.ID, settlements)).ClampZero()
	return remaining, c.Tolerance.Negligible(remaining)
}

// State is OPEN, SETTLED or REVERSED.
func (c Calculator) State(o Obligation, settlements []Settlement) ObligationState {
	if o.Reversed {
		return StateReversed
	}
	if _, settled := c.Outstanding(o, settlements); settled {
		return StateSettled
	}
	return StateOpen
}

// ObligationView is an obligation with its derived figures.
type ObligationView struct {
	Obligation  Obligation
	Settled     Vector
	Outstanding Vector
	State       ObligationState
	Settlements []Settlement
}

func (c Calculator) View(o Obligation, settlements []Settlement) ObligationView {
	var own []Settlement
	for _, s := range settlements {
		if s.ObligationID == o.ID {
			own = append(own, s)
		}
	}
	outstanding, _ := c.Outstanding(o, settlements)
	if o.Reversed {
		outstanding = Vector{}
	}
	return ObligationView{
		Obligation:  o,
		Settled:     SettledOn(o.ID, settlements),
		Outstanding: outstanding,
		State:       c.State(o, settlements),
		Settlements: own,
	}
}

// DirectionOutstanding is what the account still owes (or is owed) in one
// direction, net of account-level settlements. It is not clamped: a small
// negative value within tolerance is legitimate rounding overshoot.
func (c Calculator) DirectionOutstanding(dir Direction, obligations []Obligation, settlements []Settlement) Vector {
	var sum Vector
	for _, o := range obligations {
		if o.Reversed || o.Direction != dir {
			continue
		}
		sum = sum.Add(o.Vector.Sub(SettledOn(o.ID, settlements)))
	}
	for _, s := range settlements {
		if s.IsAccountLevel() && s.Direction == dir {
			sum = sum.Sub(s.Applied)
		}
	}
	return sum
}

// NetBalance is the signed per-dimension balance of the account. Positive
// means the business owes the counterparty.
func (c Calculator) NetBalance(obligations []Obligation, settlements []Settlement) Vector {
	return c.DirectionOutstanding(Borrow, obligations, settlements).
		Sub(c.DirectionOutstanding(Lend, obligations, settlements))
}

// CheckCoverage verifies that account-level settlements in every direction
// are still covered by the obligations beneath them. It returns the first
// direction and dimension that went negative beyond tolerance.
func (c Calculator) CheckCoverage(obligations []Obligation, settlements []Settlement) (Direction, Dimension, bool) {
	for _, dir := range []Direction{Borrow, Lend} {
		avail := c.DirectionOutstanding(dir, obligations, settlements)
		for _, d := range Dimensions {
			if avail.Get(d).Neg().GreaterThan(c.Tolerance.For(d)) {
				return dir, d, false
			}
		}
	}
	return "", "", true
}
