package accounts_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArasuRever/aurum-ledger/accounts"
	"github.com/ArasuRever/aurum-ledger/ledger"
	"github.com/ArasuRever/aurum-ledger/ledger/store"
)

// =============================================================================
// ADD OBLIGATION TESTS
// =============================================================================

func TestAddObligation_ComputesVector(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *accounts.Service) {
		ctx := context.Background()
		acct := createAccount(t, svc, ledger.KindVendor, ledger.RestrictAny)

		// 10 g at 91.6 touch with making charge and manual cash
		o, err := svc.AddObligation(ctx, accounts.AddObligationRequest{
			AccountID: acct.ID,
			Direction: ledger.Borrow,
			ObligationInput: accounts.ObligationInput{
				Description:  "22k chain",
				GrossWeight:  d("10"),
				Percent:      d("91.6"),
				MakingCharge: d("450.50"),
				ManualCash:   d("100"),
				MetalType:    ledger.MetalGold,
			},
		})
		require.NoError(t, err)

		assertVector(t, ledger.MustParseVector("9.160", "0", "550.50"), o.Vector)
		assert.Equal(t, int64(1), o.Version)
		assert.Equal(t, ledger.CalcMultiplicative, o.Inputs.CalcMode, "account default applies")

		view, err := svc.GetObligation(ctx, o.ID)
		require.NoError(t, err)
		assertVector(t, o.Vector, view.Outstanding)
		assert.Equal(t, ledger.StateOpen, view.State)

		// 10 g silver with 8 % wastage
		o, err = svc.AddObligation(ctx, accounts.AddObligationRequest{
			AccountID: acct.ID,
			Direction: ledger.Lend,
			ObligationInput: accounts.ObligationInput{
				GrossWeight: d("10"),
				Percent:     d("8"),
				CalcMode:    ledger.CalcAdditive,
				MetalType:   ledger.MetalSilver,
			},
		})
		require.NoError(t, err)
		assertVector(t, ledger.MustParseVector("0", "10.800", "0"), o.Vector)
	})
}

func TestAddObligation_Rejected(t *testing.T) {
	svc := newService(t, store.NewMemory())
	ctx := context.Background()
	acct := createAccount(t, svc, ledger.KindVendor, ledger.RestrictGold)

	base := func() accounts.AddObligationRequest {
		return accounts.AddObligationRequest{
			AccountID: acct.ID,
			Direction: ledger.Borrow,
			ObligationInput: accounts.ObligationInput{
				GrossWeight: d("10"),
				Percent:     d("91.6"),
				MetalType:   ledger.MetalGold,
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(r *accounts.AddObligationRequest)
		field  string
	}{
		{"unknown direction", func(r *accounts.AddObligationRequest) { r.Direction = "GIFT" }, "direction"},
		{"negative gross", func(r *accounts.AddObligationRequest) { r.GrossWeight = d("-1") }, "grossWeight"},
		{"zero pure weight", func(r *accounts.AddObligationRequest) { r.Percent = d("0") }, "grossWeight"},
		{"touch above 100", func(r *accounts.AddObligationRequest) { r.Percent = d("100.5") }, "wastagePercent"},
		{"no metal type", func(r *accounts.AddObligationRequest) { r.MetalType = ledger.MetalNone }, "metalType"},
		{"silver on gold-only account", func(r *accounts.AddObligationRequest) { r.MetalType = ledger.MetalSilver }, "metalType"},
		{"nothing transferred", func(r *accounts.AddObligationRequest) { r.GrossWeight = d("0") }, "vector"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base()
			tt.mutate(&req)

			_, err := svc.AddObligation(ctx, req)

			var verr *ledger.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}

	views, err := svc.ListObligations(ctx, acct.ID, "")
	require.NoError(t, err)
	assert.Empty(t, views, "rejected obligations must not be stored")
}

func TestAddObligation_UnknownAccount(t *testing.T) {
	svc := newService(t, store.NewMemory())

	_, err := svc.AddObligation(context.Background(), accounts.AddObligationRequest{
		AccountID:       "nobody",
		Direction:       ledger.Borrow,
		ObligationInput: accounts.ObligationInput{ManualCash: d("100")},
	})
	assert.ErrorIs(t, err, ledger.ErrUnknownReference)
}

func TestAddObligation_DuplicateIdempotencyKey(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *accounts.Service) {
		// GIVEN: An obligation created with key "inv-1"
		// WHEN: The same request is retried
		// THEN: The retry is refused and only one obligation exists

		ctx := context.Background()
		acct := createAccount(t, svc, ledger.KindShop, ledger.RestrictAny)
		req := accounts.AddObligationRequest{
			AccountID:       acct.ID,
			Direction:       ledger.Lend,
			ObligationInput: accounts.ObligationInput{ManualCash: d("1000")},
			IdempotencyKey:  "inv-1",
		}

		_, err := svc.AddObligation(ctx, req)
		require.NoError(t, err)
		_, err = svc.AddObligation(ctx, req)
		assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

		views, err := svc.ListObligations(ctx, acct.ID, "")
		require.NoError(t, err)
		assert.Len(t, views, 1)
	})
}

// =============================================================================
// EDIT OBLIGATION TESTS
// =============================================================================

func goldEdit(id ledger.ObligationID, gross string) accounts.EditObligationRequest {
	return accounts.EditObligationRequest{
		ID: id,
		ObligationInput: accounts.ObligationInput{
			Description: "gold bars (corrected)",
			GrossWeight: d(gross),
			Percent:     d("91.6"),
			MetalType:   ledger.MetalGold,
		},
		Note: "weighing corrected",
	}
}

func TestEditObligation_WithoutSettlements(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *accounts.Service) {
		// GIVEN: 10 g at 91.6 with no settlements
		// WHEN: Gross weight is corrected to 12 g
		// THEN: Vector is recomputed, version bumps, the trail shows an ADJUSTED entry

		ctx := context.Background()
		acct := createAccount(t, svc, ledger.KindVendor, ledger.RestrictAny)
		o := addGold(t, svc, acct.ID, ledger.Borrow, "10", "91.6")

		req := goldEdit(o.ID, "12")
		req.Version = 1
		edited, err := svc.EditObligation(ctx, req)
		require.NoError(t, err)

		assertVector(t, ledger.MustParseVector("10.992", "0", "0"), edited.Vector)
		assert.Equal(t, int64(2), edited.Version)
		assert.Equal(t, "gold bars (corrected)", edited.Description)

		trail, err := svc.AuditTrail(ctx, acct.ID, ledger.Unbounded())
		require.NoError(t, err)
		require.Len(t, trail.Entries, 2)
		assert.Equal(t, ledger.EntryObligation, trail.Entries[0].Kind)
		assertVector(t, ledger.MustParseVector("9.160", "0", "0"), trail.Entries[0].Vector)
		assert.Equal(t, ledger.EntryAdjusted, trail.Entries[1].Kind)
		assertVector(t, ledger.MustParseVector("1.832", "0", "0"), trail.Entries[1].Vector)
		assertVector(t, edited.Vector, trail.Closing)

		bal, err := svc.NetBalance(ctx, acct.ID)
		require.NoError(t, err)
		assertVector(t, edited.Vector, bal.Net)
	})
}

func TestEditObligation_KeepsStoredCalcModeAndDescription(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *accounts.Service) {
		// GIVEN: An ADDITIVE obligation on an account defaulting to MULTIPLICATIVE
		ctx := context.Background()
		acct := createAccount(t, svc, ledger.KindShop, ledger.RestrictAny)
		require.Equal(t, ledger.CalcMultiplicative, acct.DefaultCalcMode)

		o, err := svc.AddObligation(ctx, accounts.AddObligationRequest{
			AccountID: acct.ID,
			Direction: ledger.Lend,
			ObligationInput: accounts.ObligationInput{
				Description: "bangles with wastage",
				GrossWeight: d("10"),
				Percent:     d("8"),
				CalcMode:    ledger.CalcAdditive,
				MetalType:   ledger.MetalGold,
			},
		})
		require.NoError(t, err)
		assertVector(t, ledger.MustParseVector("10.800", "0", "0"), o.Vector)

		// WHEN: Edited with the same figures and no calc mode or description
		edited, err := svc.EditObligation(ctx, accounts.EditObligationRequest{
			ID:      o.ID,
			Version: 1,
			ObligationInput: accounts.ObligationInput{
				GrossWeight:  d("10"),
				Percent:      d("8"),
				MakingCharge: d("250"),
				MetalType:    ledger.MetalGold,
			},
		})
		require.NoError(t, err)

		// THEN: The stored mode and description carry over
		assert.Equal(t, ledger.CalcAdditive, edited.Inputs.CalcMode)
		assert.Equal(t, "bangles with wastage", edited.Description)
		assertVector(t, ledger.MustParseVector("10.800", "0", "250"), edited.Vector)

		// AND: Leaving out the metal type keeps the gold bucket
		edited, err = svc.EditObligation(ctx, accounts.EditObligationRequest{
			ID: o.ID,
			ObligationInput: accounts.ObligationInput{
				GrossWeight: d("12"),
				Percent:     d("8"),
			},
		})
		require.NoError(t, err)
		assertVector(t, ledger.MustParseVector("12.960", "0", "0"), edited.Vector)
		assert.Equal(t, int64(3), edited.Version)
	})
}

func TestEditObligation_SwitchMetalBeforeSettlement(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *accounts.Service) {
		// GIVEN: 9.160 g gold borrowed, nothing settled
		ctx := context.Background()
		acct := createAccount(t, svc, ledger.KindVendor, ledger.RestrictAny)
		o := addGold(t, svc, acct.ID, ledger.Borrow, "10", "91.6")

		// WHEN: The clerk re-books it as silver
		req := goldEdit(o.ID, "10")
		req.MetalType = ledger.MetalSilver
		edited, err := svc.EditObligation(ctx, req)
		require.NoError(t, err)

		// THEN: The whole value moves to the silver bucket
		assertVector(t, ledger.MustParseVector("0", "9.160", "0"), edited.Vector)
		assert.True(t, edited.Vector.PureGold.IsZero())
		assert.Equal(t, ledger.MetalSilver, edited.Inputs.MetalType)

		bal, err := svc.NetBalance(ctx, acct.ID)
		require.NoError(t, err)
		assertVector(t, ledger.MustParseVector("0", "9.160", "0"), bal.Net)

		// AND: The trail shows gold out and silver in, and still replays
		trail, err := svc.AuditTrail(ctx, acct.ID, ledger.Unbounded())
		require.NoError(t, err)
		require.Len(t, trail.Entries, 2)
		assertVector(t, ledger.MustParseVector("-9.160", "9.160", "0"), trail.Entries[1].Vector)

		v, err := svc.Verify(ctx, acct.ID)
		require.NoError(t, err)
		assert.True(t, v.OK(), "trail must replay to the net balance: %v", v.Err)
	})
}

func TestEditObligation_StaleVersion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *accounts.Service) {
		ctx := context.Background()
		acct := createAccount(t, svc, ledger.KindVendor, ledger.RestrictAny)
		o := addGold(t, svc, acct.ID, ledger.Borrow, "10", "91.6")

		_, err := svc.EditObligation(ctx, goldEdit(o.ID, "11"))
		require.NoError(t, err)

		stale := goldEdit(o.ID, "12")
		stale.Version = 1
		_, err = svc.EditObligation(ctx, stale)

		var cm *ledger.ConcurrentModificationError
		require.ErrorAs(t, err, &cm)
		assert.Equal(t, int64(1), cm.Expected)
		assert.Equal(t, int64(2), cm.Actual)
		assert.True(t, ledger.IsRetryable(err))
	})
}

func TestEditObligation_WithSettlements(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *accounts.Service) {
		// GIVEN: 9.160 g obligation with 5 g settled
		ctx := context.Background()
		acct := createAccount(t, svc, ledger.KindVendor, ledger.RestrictAny)
		o := addGold(t, svc, acct.ID, ledger.Borrow, "10", "91.6")
		_, err := settleGold(ctx, svc, o.ID, "5")
		require.NoError(t, err)

		// WHEN: Edited without acknowledging the settlement
		// THEN: Blocked
		_, err = svc.EditObligation(ctx, goldEdit(o.ID, "6"))
		var hs *ledger.HasSettlementsError
		require.ErrorAs(t, err, &hs)
		assert.Equal(t, 1, hs.Count)
		assert.False(t, hs.AccountLevel)

		// WHEN: Acknowledged but shrinking below what was settled (5 g > 4.580 g)
		// THEN: Over-settlement on gold
		shrink := goldEdit(o.ID, "5")
		shrink.AcknowledgeSettlements = true
		_, err = svc.EditObligation(ctx, shrink)
		var over *ledger.OverSettlementError
		require.ErrorAs(t, err, &over)
		assert.Equal(t, ledger.DimGold, over.Dimension)

		// WHEN: Acknowledged but switching the metal bucket
		// THEN: Refused
		switchMetal := goldEdit(o.ID, "6")
		switchMetal.MetalType = ledger.MetalSilver
		switchMetal.AcknowledgeSettlements = true
		_, err = svc.EditObligation(ctx, switchMetal)
		var verr *ledger.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "metalType", verr.Field)

		// WHEN: Acknowledged and still covering the settled 5 g
		// THEN: Accepted, outstanding follows the new vector
		ok := goldEdit(o.ID, "6")
		ok.AcknowledgeSettlements = true
		edited, err := svc.EditObligation(ctx, ok)
		require.NoError(t, err)
		assertVector(t, ledger.MustParseVector("5.496", "0", "0"), edited.Vector)

		view, err := svc.GetObligation(ctx, o.ID)
		require.NoError(t, err)
		assertDecimal(t, "0.496", view.Outstanding.PureGold)

		v, err := svc.Verify(ctx, acct.ID)
		require.NoError(t, err)
		assert.True(t, v.OK(), "trail must replay to the net balance: %v", v.Err)
	})
}

func TestEditObligation_Reversed(t *testing.T) {
	svc := newService(t, store.NewMemory())
	ctx := context.Background()
	acct := createAccount(t, svc, ledger.KindVendor, ledger.RestrictAny)
	o := addGold(t, svc, acct.ID, ledger.Borrow, "10", "91.6")
	_, err := svc.ReverseObligation(ctx, accounts.ReverseObligationRequest{ID: o.ID})
	require.NoError(t, err)

	_, err = svc.EditObligation(ctx, goldEdit(o.ID, "12"))
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// REVERSE OBLIGATION TESTS
// =============================================================================

func TestReverseObligation_RemovesFromBalance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *accounts.Service) {
		// GIVEN: Two obligations, no settlements
		// WHEN: One is reversed
		// THEN: Net balance only reflects the other; the trail keeps both

		ctx := context.Background()
		acct := createAccount(t, svc, ledger.KindVendor, ledger.RestrictAny)
		keep := addGold(t, svc, acct.ID, ledger.Borrow, "10", "91.6")
		drop := addGold(t, svc, acct.ID, ledger.Borrow, "5", "100")

		reversed, err := svc.ReverseObligation(ctx, accounts.ReverseObligationRequest{ID: drop.ID, Version: 1, Note: "entered twice"})
		require.NoError(t, err)
		assert.True(t, reversed.Reversed)
		assert.Equal(t, int64(2), reversed.Version)

		bal, err := svc.NetBalance(ctx, acct.ID)
		require.NoError(t, err)
		assertVector(t, keep.Vector, bal.Net)

		view, err := svc.GetObligation(ctx, drop.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StateReversed, view.State)
		assert.True(t, view.Outstanding.IsZero())

		trail, err := svc.AuditTrail(ctx, acct.ID, ledger.Unbounded())
		require.NoError(t, err)
		require.Len(t, trail.Entries, 3)
		assert.Equal(t, ledger.EntryReversed, trail.Entries[2].Kind)
		assertVector(t, keep.Vector, trail.Closing)

		_, err = svc.ReverseObligation(ctx, accounts.ReverseObligationRequest{ID: drop.ID})
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})
}

func TestReverseObligation_BlockedBySettlements(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *accounts.Service) {
		// GIVEN: An obligation with one settlement
		// WHEN: Reversing it, then reversing the settlement first
		// THEN: Blocked until the settlement is undone

		ctx := context.Background()
		acct := createAccount(t, svc, ledger.KindVendor, ledger.RestrictAny)
		o := addGold(t, svc, acct.ID, ledger.Borrow, "10", "91.6")
		res, err := settleGold(ctx, svc, o.ID, "5")
		require.NoError(t, err)

		_, err = svc.ReverseObligation(ctx, accounts.ReverseObligationRequest{ID: o.ID})
		assert.ErrorIs(t, err, ledger.ErrObligationHasSettlements)

		_, err = svc.ReverseSettlement(ctx, accounts.ReverseSettlementRequest{ID: res.Settlement.ID})
		require.NoError(t, err)

		_, err = svc.ReverseObligation(ctx, accounts.ReverseObligationRequest{ID: o.ID})
		require.NoError(t, err)

		bal, err := svc.NetBalance(ctx, acct.ID)
		require.NoError(t, err)
		assert.True(t, bal.Net.IsZero())

		v, err := svc.Verify(ctx, acct.ID)
		require.NoError(t, err)
		assert.True(t, v.OK())
		assert.Equal(t, 4, v.Entries)
	})
}

func TestReverseObligation_AccountLevelCoverage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *accounts.Service) {
		// GIVEN: Two LEND obligations (5 g, 3 g) and a 6 g account-level collection
		// WHEN: Reversing the 5 g obligation
		// THEN: Refused, the 6 g collection would cover only 3 g

		ctx := context.Background()
		acct := createAccount(t, svc, ledger.KindShop, ledger.RestrictAny)
		five := addGold(t, svc, acct.ID, ledger.Lend, "5", "100")
		addGold(t, svc, acct.ID, ledger.Lend, "3", "100")

		_, err := svc.Settle(ctx, accounts.SettleRequest{
			AccountID: acct.ID, Direction: ledger.Lend, Mode: ledger.ModeMetal, Gold: d("6"),
		})
		require.NoError(t, err)

		_, err = svc.ReverseObligation(ctx, accounts.ReverseObligationRequest{ID: five.ID})
		var hs *ledger.HasSettlementsError
		require.ErrorAs(t, err, &hs)
		assert.True(t, hs.AccountLevel)
		assert.Equal(t, 1, hs.Count)
	})
}
