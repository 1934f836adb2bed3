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
// AUDIT TRAIL TESTS
// =============================================================================

func TestAuditTrail_RunningBalance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *accounts.Service) {
		// GIVEN: We borrow 9.160 g, lend 1000 cash, then repay 5 g
		// WHEN: The full trail is read
		// THEN: Entries are in time order and the running balance ends at the net balance

		ctx := context.Background()
		acct := createAccount(t, svc, ledger.KindVendor, ledger.RestrictAny)
		o := addGold(t, svc, acct.ID, ledger.Borrow, "10", "91.6")
		_, err := svc.AddObligation(ctx, accounts.AddObligationRequest{
			AccountID:       acct.ID,
			Direction:       ledger.Lend,
			ObligationInput: accounts.ObligationInput{Description: "advance", ManualCash: d("1000")},
		})
		require.NoError(t, err)
		_, err = settleGold(ctx, svc, o.ID, "5")
		require.NoError(t, err)

		trail, err := svc.AuditTrail(ctx, acct.ID, ledger.Unbounded())
		require.NoError(t, err)
		require.Len(t, trail.Entries, 3)

		kinds := []ledger.EntryKind{trail.Entries[0].Kind, trail.Entries[1].Kind, trail.Entries[2].Kind}
		assert.Equal(t, []ledger.EntryKind{ledger.EntryObligation, ledger.EntryObligation, ledger.EntrySettlement}, kinds)

		assertVector(t, ledger.MustParseVector("9.160", "0", "0"), trail.Entries[0].RunningBalance)
		assertVector(t, ledger.MustParseVector("9.160", "0", "-1000"), trail.Entries[1].RunningBalance)
		assertVector(t, ledger.MustParseVector("4.160", "0", "-1000"), trail.Entries[2].RunningBalance)
		assert.True(t, trail.Opening.IsZero())

		bal, err := svc.NetBalance(ctx, acct.ID)
		require.NoError(t, err)
		assertVector(t, bal.Net, trail.Closing)
		assertDecimal(t, "4.160", bal.Payable.PureGold)
		assertDecimal(t, "1000", bal.Receivable.Cash)
		assert.Equal(t, 2, bal.OpenObligations)
	})
}

func TestAuditTrail_PeriodFoldsEarlierEntries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *accounts.Service) {
		// GIVEN: Three obligations recorded one minute apart
		// WHEN: The trail is read from the second one onwards
		// THEN: The first folds into the opening balance

		ctx := context.Background()
		acct := createAccount(t, svc, ledger.KindVendor, ledger.RestrictAny)
		first := addGold(t, svc, acct.ID, ledger.Borrow, "1", "100")
		second := addGold(t, svc, acct.ID, ledger.Borrow, "2", "100")
		third := addGold(t, svc, acct.ID, ledger.Borrow, "3", "100")

		trail, err := svc.AuditTrail(ctx, acct.ID, ledger.Period{From: second.CreatedAt})
		require.NoError(t, err)
		assertVector(t, first.Vector, trail.Opening)
		require.Len(t, trail.Entries, 2)
		assertDecimal(t, "3", trail.Entries[0].RunningBalance.PureGold)
		assertDecimal(t, "6", trail.Closing.PureGold)

		// Inclusive bounds
		trail, err = svc.AuditTrail(ctx, acct.ID, ledger.Period{From: second.CreatedAt, To: second.CreatedAt})
		require.NoError(t, err)
		require.Len(t, trail.Entries, 1)
		assert.Equal(t, second.ID, trail.Entries[0].ObligationID)
		assertDecimal(t, "3", trail.Closing.PureGold)

		_, err = svc.AuditTrail(ctx, acct.ID, ledger.Period{From: third.CreatedAt, To: first.CreatedAt})
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})
}

func TestAuditTrail_UnknownAccount(t *testing.T) {
	svc := newService(t, store.NewMemory())

	_, err := svc.AuditTrail(context.Background(), "nobody", ledger.Unbounded())
	assert.ErrorIs(t, err, ledger.ErrUnknownReference)
}

// =============================================================================
// LISTING AND VERIFICATION TESTS
// =============================================================================

func TestListObligations_StateFilter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *accounts.Service) {
		ctx := context.Background()
		acct := createAccount(t, svc, ledger.KindVendor, ledger.RestrictAny)
		settled := addGold(t, svc, acct.ID, ledger.Borrow, "1", "100")
		open := addGold(t, svc, acct.ID, ledger.Borrow, "2", "100")
		_, err := settleGold(ctx, svc, settled.ID, "1")
		require.NoError(t, err)

		all, err := svc.ListObligations(ctx, acct.ID, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		views, err := svc.ListObligations(ctx, acct.ID, ledger.StateOpen)
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, open.ID, views[0].Obligation.ID)

		views, err = svc.ListObligations(ctx, acct.ID, ledger.StateSettled)
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, settled.ID, views[0].Obligation.ID)

		_, err = svc.ListObligations(ctx, acct.ID, "PAID")
		assert.ErrorIs(t, err, ledger.ErrValidation)
	})
}

func TestVerifyAll_EveryAccountReplays(t *testing.T) {
	forEachBackend(t, func(t *testing.T, svc *accounts.Service) {
		// GIVEN: Several accounts with edits, settlements and reversals
		// WHEN: Every account is verified
		// THEN: Each trail closes at its net balance

		ctx := context.Background()
		vendor := createAccount(t, svc, ledger.KindVendor, ledger.RestrictAny)
		shop := createAccount(t, svc, ledger.KindShop, ledger.RestrictAny)

		o := addGold(t, svc, vendor.ID, ledger.Borrow, "10", "91.6")
		_, err := svc.EditObligation(ctx, goldEdit(o.ID, "11"))
		require.NoError(t, err)
		res, err := settleGold(ctx, svc, o.ID, "3")
		require.NoError(t, err)
		_, err = svc.ReverseSettlement(ctx, accounts.ReverseSettlementRequest{ID: res.Settlement.ID})
		require.NoError(t, err)

		addGold(t, svc, shop.ID, ledger.Lend, "5", "100")
		_, err = svc.Settle(ctx, accounts.SettleRequest{
			AccountID: shop.ID, Direction: ledger.Lend, Mode: ledger.ModeMetal, Gold: d("2"),
		})
		require.NoError(t, err)

		results, err := svc.VerifyAll(ctx)
		require.NoError(t, err)
		require.Len(t, results, 2)
		for _, v := range results {
			assert.True(t, v.OK(), "account %s: %v", v.AccountID, v.Err)
			assertVector(t, v.NetBalance, v.Trail)
		}
	})
}
