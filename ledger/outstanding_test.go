package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ArasuRever/aurum-ledger/ledger"
)

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func calc() ledger.Calculator { return ledger.NewCalculator(ledger.DefaultTolerance()) }

func obligation(id string, dir ledger.Direction, v ledger.Vector, at time.Time) ledger.Obligation {
	return ledger.Obligation{
		ID:        ledger.ObligationID(id),
		AccountID: "acct-1",
		Direction: dir,
		Vector:    v,
		Version:   1,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func settlement(id, obligationID string, dir ledger.Direction, applied ledger.Vector, at time.Time) ledger.Settlement {
	return ledger.Settlement{
		ID:           ledger.SettlementID(id),
		AccountID:    "acct-1",
		ObligationID: ledger.ObligationID(obligationID),
		Direction:    dir,
		Mode:         ledger.ModeBoth,
		Paid:         applied,
		Applied:      applied,
		CreatedAt:    at,
	}
}

func inverse(id string, of ledger.Settlement, at time.Time) ledger.Settlement {
	inv := of
	inv.ID = ledger.SettlementID(id)
	inv.Paid = of.Paid.Neg()
	inv.Applied = of.Applied.Neg()
	inv.ReversesID = of.ID
	inv.CreatedAt = at
	return inv
}

// =============================================================================
// OUTSTANDING AND STATE
// =============================================================================

func TestOutstanding_PartialSettlement(t *testing.T) {
	// GIVEN: 9.160 g and 550.50 owed, 4 g paid
	o := obligation("o1", ledger.Borrow, vec("9.160", "0", "550.50"), t0)
	ss := []ledger.Settlement{settlement("s1", "o1", ledger.Borrow, vec("4", "0", "0"), t0.Add(time.Hour))}

	// WHEN: Outstanding is computed
	remaining, settled := calc().Outstanding(o, ss)

	// THEN: The rest is open
	assertVector(t, vec("5.160", "0", "550.50"), remaining)
	assert.False(t, settled)
	assert.Equal(t, ledger.StateOpen, calc().State(o, ss))
}

func TestOutstanding_SettledWithinTolerance(t *testing.T) {
	// GIVEN: Payments short by 2 mg and 50 paise
	o := obligation("o1", ledger.Borrow, vec("9.160", "0", "550.50"), t0)
	ss := []ledger.Settlement{settlement("s1", "o1", ledger.Borrow, vec("9.158", "0", "550"), t0)}

	// THEN: Rounding residue counts as settled
	remaining, settled := calc().Outstanding(o, ss)
	assertVector(t, vec("0.002", "0", "0.50"), remaining)
	assert.True(t, settled)
	assert.Equal(t, ledger.StateSettled, calc().State(o, ss))
}

func TestOutstanding_OvershootClampsToZero(t *testing.T) {
	o := obligation("o1", ledger.Lend, vec("0", "0", "1000"), t0)
	ss := []ledger.Settlement{settlement("s1", "o1", ledger.Lend, vec("0", "0", "1000.60"), t0)}

	remaining, settled := calc().Outstanding(o, ss)
	assertVector(t, vec("0", "0", "0"), remaining)
	assert.True(t, settled)
}

func TestOutstanding_InverseSettlementReopens(t *testing.T) {
	// GIVEN: A full settlement later reversed
	o := obligation("o1", ledger.Lend, vec("0", "0", "1000"), t0)
	s1 := settlement("s1", "o1", ledger.Lend, vec("0", "0", "1000"), t0.Add(time.Hour))
	ss := []ledger.Settlement{s1, inverse("s2", s1, t0.Add(2*time.Hour))}

	// THEN: Nothing counts as paid and nothing is active
	assertVector(t, vec("0", "0", "0"), ledger.SettledOn("o1", ss))
	assert.Empty(t, ledger.ActiveSettlements("o1", ss))
	assert.Equal(t, ledger.StateOpen, calc().State(o, ss))

	// AND: Before the reversal the settlement was active
	assert.Len(t, ledger.ActiveSettlements("o1", ss[:1]), 1)
}

func TestView_Reversed(t *testing.T) {
	o := obligation("o1", ledger.Borrow, vec("1", "0", "0"), t0)
	o.Reversed = true
	o.ReversedAt = t0.Add(time.Hour)

	view := calc().View(o, nil)
	assert.Equal(t, ledger.StateReversed, view.State)
	assertVector(t, ledger.Vector{}, view.Outstanding)
}

func TestView_OnlyOwnSettlements(t *testing.T) {
	o := obligation("o1", ledger.Borrow, vec("10", "0", "0"), t0)
	ss := []ledger.Settlement{
		settlement("s1", "o1", ledger.Borrow, vec("1", "0", "0"), t0),
		settlement("s2", "o2", ledger.Borrow, vec("2", "0", "0"), t0),
		settlement("s3", "", ledger.Borrow, vec("3", "0", "0"), t0),
	}

	view := calc().View(o, ss)
	assert.Len(t, view.Settlements, 1)
	assertVector(t, vec("1", "0", "0"), view.Settled)
	assertVector(t, vec("9", "0", "0"), view.Outstanding)
}

// =============================================================================
// ACCOUNT AGGREGATES
// =============================================================================

func TestNetBalance_SignsAndAccountLevel(t *testing.T) {
	// GIVEN: We borrowed gold and lent silver and cash, and collected some
	// silver against the account
	obligations := []ledger.Obligation{
		obligation("o1", ledger.Borrow, vec("9.160", "0", "550.50"), t0),
		obligation("o2", ledger.Lend, vec("0", "250", "15000"), t0),
	}
	reversed := obligation("o3", ledger.Lend, vec("5", "0", "0"), t0)
	reversed.Reversed = true
	obligations = append(obligations, reversed)

	ss := []ledger.Settlement{
		settlement("s1", "o1", ledger.Borrow, vec("4", "0", "0"), t0),
		settlement("s2", "", ledger.Lend, vec("0", "100", "0"), t0),
	}

	// THEN: Per-direction outstanding excludes the reversed obligation
	assertVector(t, vec("5.160", "0", "550.50"), calc().DirectionOutstanding(ledger.Borrow, obligations, ss))
	assertVector(t, vec("0", "150", "15000"), calc().DirectionOutstanding(ledger.Lend, obligations, ss))

	// AND: Net is borrow minus lend
	assertVector(t, vec("5.160", "-150", "-14449.50"), calc().NetBalance(obligations, ss))
}

func TestCheckCoverage(t *testing.T) {
	obligations := []ledger.Obligation{
		obligation("o1", ledger.Lend, vec("4", "0", "0"), t0),
		obligation("o2", ledger.Lend, vec("5", "0", "0"), t0),
	}
	ss := []ledger.Settlement{settlement("s1", "", ledger.Lend, vec("6", "0", "0"), t0)}

	// Covered while both obligations stand
	_, _, ok := calc().CheckCoverage(obligations, ss)
	assert.True(t, ok)

	// Dropping the 5 g obligation leaves 2 g of the bulk payment uncovered
	dir, dim, ok := calc().CheckCoverage(obligations[:1], ss)
	assert.False(t, ok)
	assert.Equal(t, ledger.Lend, dir)
	assert.Equal(t, ledger.DimGold, dim)
}
