package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/ArasuRever/aurum-ledger/ledger"
)

// =============================================================================
// OBLIGATION VIEWS
// =============================================================================

// GetObligation returns the obligation with its outstanding vector, state
// and settlements.
func (s *Service) GetObligation(ctx context.Context, id ledger.ObligationID) (ledger.ObligationView, error) {
	var view ledger.ObligationView
	err := s.view(ctx, func(ctx context.Context, tx ledger.Store) error {
		o, err := tx.GetObligation(ctx, id)
		if err != nil {
			return fmt.Errorf("get obligation: %w", err)
		}
		if o == nil {
			return &ledger.UnknownReferenceError{Kind: "obligation", ID: string(id)}
		}
		setts, err := tx.LoadSettlements(ctx, o.AccountID)
		if err != nil {
			return fmt.Errorf("load settlements: %w", err)
		}
		view = s.calc.View(*o, setts)
		return nil
	})
	return view, err
}

// ListObligations returns every obligation on the account with derived
// figures. A non-empty state keeps only obligations in that state.
func (s *Service) ListObligations(ctx context.Context, accountID ledger.AccountID, state ledger.ObligationState) ([]ledger.ObligationView, error) {
	switch state {
	case "", ledger.StateOpen, ledger.StateSettled, ledger.StateReversed:
	default:
		return nil, &ledger.ValidationError{Field: "state", Reason: "must be OPEN, SETTLED or REVERSED"}
	}

	views := []ledger.ObligationView{}
	err := s.view(ctx, func(ctx context.Context, tx ledger.Store) error {
		snap, err := loadSnapshot(ctx, tx, accountID)
		if err != nil {
			return err
		}
		for _, o := range snap.Obligations {
			v := s.calc.View(o, snap.Settlements)
			if state == "" || v.State == state {
				views = append(views, v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// =============================================================================
// BALANCE
// =============================================================================

// Balance is an account's position, derived on every read.
type Balance struct {
	AccountID ledger.AccountID
	// Net is positive where the business owes the counterparty.
	Net ledger.Vector
	// Payable is what we still owe on BORROW obligations, Receivable what
	// the counterparty still owes on LEND obligations.
	Payable         ledger.Vector
	Receivable      ledger.Vector
	OpenObligations int
}

func (s *Service) NetBalance(ctx context.Context, accountID ledger.AccountID) (Balance, error) {
	var bal Balance
	err := s.view(ctx, func(ctx context.Context, tx ledger.Store) error {
		snap, err := loadSnapshot(ctx, tx, accountID)
		if err != nil {
			return err
		}
		bal = s.balance(snap)
		return nil
	})
	return bal, err
}

func (s *Service) balance(snap *ledger.Snapshot) Balance {
	bal := Balance{
		AccountID:  snap.Account.ID,
		Net:        s.calc.NetBalance(snap.Obligations, snap.Settlements),
		Payable:    s.calc.DirectionOutstanding(ledger.Borrow, snap.Obligations, snap.Settlements).ClampZero(),
		Receivable: s.calc.DirectionOutstanding(ledger.Lend, snap.Obligations, snap.Settlements).ClampZero(),
	}
	for _, o := range snap.Obligations {
		if s.calc.State(o, snap.Settlements) == ledger.StateOpen {
			bal.OpenObligations++
		}
	}
	return bal
}

// =============================================================================
// AUDIT TRAIL
// =============================================================================

// AuditTrail returns the account's entries within period with running
// balances. Earlier entries fold into the opening balance.
func (s *Service) AuditTrail(ctx context.Context, accountID ledger.AccountID, period ledger.Period) (ledger.AuditTrail, error) {
	if err := period.Validate(); err != nil {
		return ledger.AuditTrail{}, err
	}
	var trail ledger.AuditTrail
	err := s.view(ctx, func(ctx context.Context, tx ledger.Store) error {
		snap, err := loadSnapshot(ctx, tx, accountID)
		if err != nil {
			return err
		}
		trail = ledger.BuildAuditTrail(accountID, snap.Obligations, snap.Revisions, snap.Settlements, period)
		return nil
	})
	return trail, err
}

// =============================================================================
// VERIFICATION
// =============================================================================

// Verification is the outcome of replaying one account.
type Verification struct {
	AccountID  ledger.AccountID
	Trail      ledger.Vector
	NetBalance ledger.Vector
	Entries    int
	// Err is a *ledger.TrailMismatchError when the replay disagrees.
	Err error
}

func (v Verification) OK() bool { return v.Err == nil }

// Verify replays the full trail of one account and compares its closing
// balance with the net balance, both from the same snapshot.
func (s *Service) Verify(ctx context.Context, accountID ledger.AccountID) (Verification, error) {
	var out Verification
	err := s.view(ctx, func(ctx context.Context, tx ledger.Store) error {
		snap, err := loadSnapshot(ctx, tx, accountID)
		if err != nil {
			return err
		}
		out = s.verify(snap)
		return nil
	})
	if err != nil {
		return Verification{}, err
	}
	if !out.OK() {
		s.log.WithContext(ctx).Errorw("audit trail mismatch", "account_id", accountID, "error", out.Err)
	}
	return out, nil
}

func (s *Service) verify(snap *ledger.Snapshot) Verification {
	trail := ledger.BuildAuditTrail(snap.Account.ID, snap.Obligations, snap.Revisions, snap.Settlements, ledger.Unbounded())
	net := s.calc.NetBalance(snap.Obligations, snap.Settlements)
	return Verification{
		AccountID:  snap.Account.ID,
		Trail:      trail.Closing,
		NetBalance: net,
		Entries:    len(trail.Entries),
		Err:        ledger.VerifyTrail(trail, net),
	}
}

// VerifyAll verifies every account. Each account is read in its own
// snapshot. Accounts deleted while the sweep runs are skipped.
func (s *Service) VerifyAll(ctx context.Context) ([]Verification, error) {
	accts, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Verification, 0, len(accts))
	for _, a := range accts {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		v, err := s.Verify(ctx, a.ID)
		if errors.Is(err, ledger.ErrUnknownReference) {
			continue
		}
		if err != nil {
			return results, fmt.Errorf("verify account %s: %w", a.ID, err)
		}
		results = append(results, v)
	}
	return results, nil
}
