/*
Package storetest is the behaviour suite every ledger.TxStore must pass.

USAGE:
  func TestSQLiteStore(t *testing.T) {
      storetest.Run(t, func(t *testing.T) ledger.TxStore {
          s, err := sqlite.New(":memory:")
          require.NoError(t, err)
          t.Cleanup(func() { s.Close() })
          return s
      })
  }
*/
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArasuRever/aurum-ledger/ledger"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) ledger.TxStore

var base = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

func Run(t *testing.T, newStore Factory) {
	t.Run("AccountRoundTrip", func(t *testing.T) { testAccountRoundTrip(t, newStore(t)) })
	t.Run("DuplicateAccount", func(t *testing.T) { testDuplicateAccount(t, newStore(t)) })
	t.Run("MissingRecordsAreNil", func(t *testing.T) { testMissingRecords(t, newStore(t)) })
	t.Run("ObligationRoundTrip", func(t *testing.T) { testObligationRoundTrip(t, newStore(t)) })
	t.Run("UpdateObligationVersion", func(t *testing.T) { testUpdateObligationVersion(t, newStore(t)) })
	t.Run("IdempotencyKey", func(t *testing.T) { testIdempotencyKey(t, newStore(t)) })
	t.Run("SettlementRoundTrip", func(t *testing.T) { testSettlementRoundTrip(t, newStore(t)) })
	t.Run("RevisionRoundTrip", func(t *testing.T) { testRevisionRoundTrip(t, newStore(t)) })
	t.Run("WithTxRollback", func(t *testing.T) { testWithTxRollback(t, newStore(t)) })
	t.Run("DeleteAccountCascades", func(t *testing.T) { testDeleteAccount(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

func Account(id string) ledger.Account {
	return ledger.Account{
		ID:              ledger.AccountID(id),
		Kind:            ledger.KindVendor,
		Name:            "Vendor " + id,
		Restriction:     ledger.RestrictAny,
		DefaultCalcMode: ledger.CalcMultiplicative,
		CreatedAt:       base,
	}
}

func Obligation(id, accountID string, at time.Time) ledger.Obligation {
	return ledger.Obligation{
		ID:          ledger.ObligationID(id),
		AccountID:   ledger.AccountID(accountID),
		Direction:   ledger.Borrow,
		Description: "22k bangles",
		Inputs: ledger.ObligationInputs{
			GrossWeight:  decimal.RequireFromString("10"),
			Percent:      decimal.RequireFromString("91.6"),
			CalcMode:     ledger.CalcMultiplicative,
			MakingCharge: decimal.RequireFromString("450.50"),
			ManualCash:   decimal.Zero,
			MetalType:    ledger.MetalGold,
		},
		Vector:    ledger.MustParseVector("9.160", "0", "450.50"),
		Version:   1,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func Settlement(id, accountID, obligationID string, at time.Time) ledger.Settlement {
	return ledger.Settlement{
		ID:           ledger.SettlementID(id),
		AccountID:    ledger.AccountID(accountID),
		ObligationID: ledger.ObligationID(obligationID),
		Direction:    ledger.Borrow,
		Mode:         ledger.ModeMetal,
		Paid:         ledger.MustParseVector("5", "0", "0"),
		Applied:      ledger.MustParseVector("5", "0", "0"),
		CreatedAt:    at,
	}
}

func assertVector(t *testing.T, want, got ledger.Vector) {
	t.Helper()
	assert.True(t, want.Equal(got), "want %s, got %s", want, got)
}

func mustSaveAccount(t *testing.T, s ledger.Store, id string) {
	t.Helper()
	require.NoError(t, s.SaveAccount(context.Background(), Account(id)))
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func testAccountRoundTrip(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	mustSaveAccount(t, s, "b")
	mustSaveAccount(t, s, "a")

	got, err := s.GetAccount(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.KindVendor, got.Kind)
	assert.Equal(t, ledger.RestrictAny, got.Restriction)
	assert.Equal(t, ledger.CalcMultiplicative, got.DefaultCalcMode)
	assert.True(t, base.Equal(got.CreatedAt))

	all, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ledger.AccountID("a"), all[0].ID, "ordered by name")
}

func testDuplicateAccount(t *testing.T, s ledger.TxStore) {
	mustSaveAccount(t, s, "a")
	err := s.SaveAccount(context.Background(), Account("a"))
	assert.ErrorIs(t, err, ledger.ErrAccountExists)
}

func testMissingRecords(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()

	a, err := s.GetAccount(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, a)

	o, err := s.GetObligation(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, o)

	st, err := s.GetSettlement(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, st)
}

// =============================================================================
// OBLIGATIONS
// =============================================================================

func testObligationRoundTrip(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	mustSaveAccount(t, s, "a")

	// Inserted out of order; loaded by CreatedAt.
	require.NoError(t, s.InsertObligation(ctx, Obligation("o2", "a", base.Add(time.Hour))))
	require.NoError(t, s.InsertObligation(ctx, Obligation("o1", "a", base)))

	got, err := s.GetObligation(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.Borrow, got.Direction)
	assert.Equal(t, "22k bangles", got.Description)
	assert.Equal(t, ledger.MetalGold, got.Inputs.MetalType)
	assert.True(t, got.Inputs.Percent.Equal(decimal.RequireFromString("91.6")))
	assert.True(t, got.Inputs.MakingCharge.Equal(decimal.RequireFromString("450.5")))
	assertVector(t, ledger.MustParseVector("9.16", "0", "450.5"), got.Vector)
	assert.Equal(t, int64(1), got.Version)
	assert.False(t, got.Reversed)
	assert.True(t, got.ReversedAt.IsZero())

	all, err := s.LoadObligations(ctx, "a")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, ledger.ObligationID("o1"), all[0].ID)
	assert.Equal(t, ledger.ObligationID("o2"), all[1].ID)
}

func testUpdateObligationVersion(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	mustSaveAccount(t, s, "a")
	o := Obligation("o1", "a", base)
	require.NoError(t, s.InsertObligation(ctx, o))

	// GIVEN: a reversal written at version 1
	o.Version = 2
	o.Reversed = true
	o.ReversedAt = base.Add(time.Hour)
	o.ReversalNote = "entered twice"
	require.NoError(t, s.UpdateObligation(ctx, o, 1))

	got, err := s.GetObligation(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.Reversed)
	assert.True(t, base.Add(time.Hour).Equal(got.ReversedAt))
	assert.Equal(t, "entered twice", got.ReversalNote)

	// WHEN: a second writer still holds version 1
	o.Version = 2
	err = s.UpdateObligation(ctx, o, 1)

	// THEN: the update is refused with both versions reported
	var conflict *ledger.ConcurrentModificationError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(1), conflict.Expected)
	assert.Equal(t, int64(2), conflict.Actual)
	assert.True(t, ledger.IsRetryable(err))
}

func testIdempotencyKey(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	mustSaveAccount(t, s, "a")

	o := Obligation("o1", "a", base)
	o.IdempotencyKey = "req-1"
	require.NoError(t, s.InsertObligation(ctx, o))

	exists, err := s.IdempotencyKeyExists(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, exists)

	dup := Obligation("o2", "a", base)
	dup.IdempotencyKey = "req-1"
	assert.ErrorIs(t, s.InsertObligation(ctx, dup), ledger.ErrDuplicateIdempotencyKey)

	st := Settlement("s1", "a", "o1", base)
	st.IdempotencyKey = "req-2"
	require.NoError(t, s.AppendSettlement(ctx, st))
	exists, err = s.IdempotencyKeyExists(ctx, "req-2")
	require.NoError(t, err)
	assert.True(t, exists)

	st2 := Settlement("s2", "a", "o1", base)
	st2.IdempotencyKey = "req-2"
	assert.ErrorIs(t, s.AppendSettlement(ctx, st2), ledger.ErrDuplicateIdempotencyKey)

	exists, err = s.IdempotencyKeyExists(ctx, "req-3")
	require.NoError(t, err)
	assert.False(t, exists)
}

// =============================================================================
// SETTLEMENTS AND REVISIONS
// =============================================================================

func testSettlementRoundTrip(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	mustSaveAccount(t, s, "a")
	require.NoError(t, s.InsertObligation(ctx, Obligation("o1", "a", base)))

	mixed := Settlement("s1", "a", "o1", base.Add(time.Minute))
	mixed.Mode = ledger.ModeBoth
	mixed.Paid = ledger.MustParseVector("1", "0", "5450.50")
	mixed.Applied = ledger.MustParseVector("1.5", "0", "450.50")
	mixed.Rate = decimal.NewNullDecimal(decimal.RequireFromString("10000"))
	mixed.ConversionMetal = ledger.MetalGold
	mixed.Note = "part payment"
	require.NoError(t, s.AppendSettlement(ctx, mixed))

	bulk := Settlement("s2", "a", "", base.Add(2*time.Minute))
	bulk.Mode = ledger.ModeCash
	bulk.Paid = ledger.MustParseVector("0", "0", "100")
	bulk.Applied = bulk.Paid
	require.NoError(t, s.AppendSettlement(ctx, bulk))

	inverse := Settlement("s3", "a", "o1", base.Add(3*time.Minute))
	inverse.Mode = ledger.ModeBoth
	inverse.Paid = mixed.Paid.Neg()
	inverse.Applied = mixed.Applied.Neg()
	inverse.ReversesID = "s1"
	require.NoError(t, s.AppendSettlement(ctx, inverse))

	got, err := s.GetSettlement(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.ModeBoth, got.Mode)
	assertVector(t, mixed.Paid, got.Paid)
	assertVector(t, mixed.Applied, got.Applied)
	require.True(t, got.Rate.Valid)
	assert.True(t, got.Rate.Decimal.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, ledger.MetalGold, got.ConversionMetal)
	assert.Equal(t, "part payment", got.Note)
	assert.False(t, got.IsAccountLevel())

	all, err := s.LoadSettlements(ctx, "a")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ledger.SettlementID("s1"), all[0].ID)
	assert.True(t, all[1].IsAccountLevel())
	assert.False(t, all[1].Rate.Valid)
	assert.True(t, all[2].IsInverse())
	assert.Equal(t, ledger.SettlementID("s1"), all[2].ReversesID)
	assertVector(t, mixed.Applied.Neg(), all[2].Applied)
}

func testRevisionRoundTrip(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	mustSaveAccount(t, s, "a")
	require.NoError(t, s.InsertObligation(ctx, Obligation("o1", "a", base)))

	rev := ledger.Revision{
		ID:           "r1",
		ObligationID: "o1",
		AccountID:    "a",
		Direction:    ledger.Borrow,
		Before:       ledger.MustParseVector("9.160", "0", "450.50"),
		After:        ledger.MustParseVector("9.200", "0", "450.50"),
		Note:         "reweighed",
		At:           base.Add(time.Hour),
	}
	require.NoError(t, s.AppendRevision(ctx, rev))

	revs, err := s.LoadRevisions(ctx, "a")
	require.NoError(t, err)
	require.Len(t, revs, 1)
	assertVector(t, rev.Before, revs[0].Before)
	assertVector(t, rev.After, revs[0].After)
	assert.Equal(t, "reweighed", revs[0].Note)
	assert.True(t, rev.At.Equal(revs[0].At))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func testWithTxRollback(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	mustSaveAccount(t, s, "a")
	boom := errors.New("boom")

	// GIVEN: a transaction that writes an obligation and a settlement, then fails
	err := s.WithTx(ctx, func(tx ledger.Store) error {
		require.NoError(t, tx.LockAccount(ctx, "a"))
		o := Obligation("o1", "a", base)
		o.IdempotencyKey = "req-1"
		require.NoError(t, tx.InsertObligation(ctx, o))
		require.NoError(t, tx.AppendSettlement(ctx, Settlement("s1", "a", "o1", base)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// THEN: nothing was written, and the idempotency key is free again
	snap, err := readSnapshot(ctx, s, "a")
	require.NoError(t, err)
	assert.Empty(t, snap.Obligations)
	assert.Empty(t, snap.Settlements)
	exists, err := s.IdempotencyKeyExists(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, exists)

	// WHEN: the same writes succeed
	err = s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.InsertObligation(ctx, Obligation("o1", "a", base)); err != nil {
			return err
		}
		return tx.AppendSettlement(ctx, Settlement("s1", "a", "o1", base))
	})
	require.NoError(t, err)

	snap, err = readSnapshot(ctx, s, "a")
	require.NoError(t, err)
	assert.Len(t, snap.Obligations, 1)
	assert.Len(t, snap.Settlements, 1)
}

func testDeleteAccount(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	mustSaveAccount(t, s, "a")
	mustSaveAccount(t, s, "b")

	o := Obligation("o1", "a", base)
	o.IdempotencyKey = "req-1"
	require.NoError(t, s.InsertObligation(ctx, o))
	require.NoError(t, s.InsertObligation(ctx, Obligation("o2", "b", base)))
	require.NoError(t, s.AppendSettlement(ctx, Settlement("s1", "a", "o1", base)))
	inverse := Settlement("s2", "a", "o1", base.Add(time.Minute))
	inverse.Applied = inverse.Applied.Neg()
	inverse.ReversesID = "s1"
	require.NoError(t, s.AppendSettlement(ctx, inverse))
	require.NoError(t, s.AppendRevision(ctx, ledger.Revision{
		ID: "r1", ObligationID: "o1", AccountID: "a", Direction: ledger.Borrow, At: base,
	}))

	require.NoError(t, s.DeleteAccount(ctx, "a"))

	acct, err := s.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, acct)
	obls, err := s.LoadObligations(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, obls)
	setts, err := s.LoadSettlements(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, setts)
	revs, err := s.LoadRevisions(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, revs)

	other, err := s.LoadObligations(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, other, 1, "other accounts untouched")
}

func readSnapshot(ctx context.Context, s ledger.TxStore, id ledger.AccountID) (*ledger.Snapshot, error) {
	var snap *ledger.Snapshot
	err := s.ReadTx(ctx, func(tx ledger.Store) error {
		var err error
		snap, err = ledger.LoadSnapshot(ctx, tx, id)
		return err
	})
	return snap, err
}
