package accounts

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ArasuRever/aurum-ledger/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

// SettleRequest pays against one obligation, or against an account as a
// whole when ObligationID is empty.
type SettleRequest struct {
	// AccountID is required for an account-level settlement. For an
	// obligation-bound one it is optional but must match the owner.
	AccountID    ledger.AccountID
	ObligationID ledger.ObligationID
	// Direction picks which side of an account is settled. Account-level
	// only; obligation-bound settlements take the obligation's direction.
	Direction ledger.Direction

	Mode   ledger.SettlementMode
	Gold   decimal.Decimal
	Silver decimal.Decimal
	Cash   decimal.Decimal
	Rate   decimal.NullDecimal
	// MetalType is where converted cash lands for an account-level
	// settlement. Empty picks the one metal still outstanding.
	MetalType ledger.MetalType

	Note           string
	IdempotencyKey string
}

func (r SettleRequest) paid() ledger.Vector {
	return ledger.NewVector(r.Gold, r.Silver, r.Cash)
}

// SettleResult carries the recomputed remaining vector, so callers never
// derive it themselves. Remaining is the obligation's outstanding vector,
// or the direction's outstanding vector for an account-level settlement.
type SettleResult struct {
	Settlement ledger.Settlement
	Remaining  ledger.Vector
	State      ledger.ObligationState // empty for account-level
}

type ReverseSettlementRequest struct {
	ID             ledger.SettlementID
	Note           string
	IdempotencyKey string
}

// TransferRequest settles against a source and books the same value as a
// new obligation on a destination account, atomically.
type TransferRequest struct {
	From SettleRequest
	To   AddObligationRequest
	// IdempotencyKey, when set, is applied to both halves as
	// "<key>:settle" and "<key>:obligation".
	IdempotencyKey string
}

type TransferResult struct {
	Settlement SettleResult
	Obligation ledger.Obligation
}

// =============================================================================
// SETTLE
// =============================================================================

// Settle records a payment. Nothing is written unless the whole payment
// fits: the applied vector must stay within the obligation's outstanding
// value and within the direction's aggregate outstanding value.
func (s *Service) Settle(ctx context.Context, req SettleRequest) (SettleResult, error) {
	accountID, err := s.settlementAccount(ctx, req)
	if err != nil {
		return SettleResult{}, err
	}

	var res SettleResult
	err = s.mutate(ctx, "settle", []ledger.AccountID{accountID}, func(ctx context.Context, tx ledger.Store) error {
		var err error
		res, err = s.settleTx(ctx, tx, accountID, req)
		return err
	})
	if err != nil {
		return SettleResult{}, err
	}

	st := res.Settlement
	s.log.WithContext(ctx).Infow("settlement recorded",
		"account_id", st.AccountID, "obligation_id", st.ObligationID, "settlement_id", st.ID,
		"mode", st.Mode, "applied", st.Applied.String(), "remaining", res.Remaining.String())
	return res, nil
}

// settlementAccount resolves the account a settlement locks.
func (s *Service) settlementAccount(ctx context.Context, req SettleRequest) (ledger.AccountID, error) {
	if req.ObligationID == "" {
		if req.AccountID == "" {
			return "", &ledger.ValidationError{Field: "accountId", Reason: "obligationId or accountId is required"}
		}
		return req.AccountID, nil
	}
	owner, err := s.obligationAccount(ctx, req.ObligationID)
	if err != nil {
		return "", err
	}
	if req.AccountID != "" && req.AccountID != owner {
		return "", &ledger.ValidationError{Field: "accountId", Reason: "obligation belongs to account " + string(owner)}
	}
	return owner, nil
}

func (s *Service) settleTx(ctx context.Context, tx ledger.Store, accountID ledger.AccountID, req SettleRequest) (SettleResult, error) {
	snap, err := loadSnapshot(ctx, tx, accountID)
	if err != nil {
		return SettleResult{}, err
	}
	if err := checkIdempotencyKey(ctx, tx, req.IdempotencyKey); err != nil {
		return SettleResult{}, err
	}

	paid := req.paid()
	if err := checkPaidDimensions(snap.Account, paid, nil); err != nil {
		return SettleResult{}, err
	}

	var (
		dir     ledger.Direction
		payment ledger.Payment
		applied ledger.Vector
	)
	if req.ObligationID != "" {
		o, ok := snap.Obligation(req.ObligationID)
		if !ok {
			return SettleResult{}, &ledger.UnknownReferenceError{Kind: "obligation", ID: string(req.ObligationID)}
		}
		if o.Reversed {
			return SettleResult{}, &ledger.ValidationError{Field: "obligationId", Reason: "obligation is reversed"}
		}
		dir = o.Direction
		payment = ledger.Payment{Mode: req.Mode, Paid: paid, Rate: req.Rate, Metal: o.Inputs.MetalType}
		if err := payment.Validate(); err != nil {
			return SettleResult{}, err
		}
		if err := checkPaidDimensions(snap.Account, paid, &o); err != nil {
			return SettleResult{}, err
		}

		outstanding, settled := s.calc.Outstanding(o, snap.Settlements)
		if settled {
			d := firstPaid(paid)
			return SettleResult{}, &ledger.OverSettlementError{
				Dimension:   d,
				Scope:       ledger.ScopeObligation,
				Outstanding: decimal.Zero,
				Attempted:   paid.Get(d),
				Tolerance:   s.calc.Tolerance.For(d),
			}
		}
		if applied, err = s.calc.Apply(payment, outstanding, ledger.ScopeObligation); err != nil {
			return SettleResult{}, err
		}
		limit := s.calc.DirectionOutstanding(dir, snap.Obligations, snap.Settlements)
		if err := s.calc.CheckWithin(applied, limit, ledger.ScopeAccount); err != nil {
			return SettleResult{}, err
		}
	} else {
		dir = req.Direction
		if !dir.Valid() {
			return SettleResult{}, &ledger.ValidationError{Field: "direction", Reason: "account-level settlement needs BORROW or LEND"}
		}
		limit := s.calc.DirectionOutstanding(dir, snap.Obligations, snap.Settlements).ClampZero()
		metal, err := s.calc.ConversionMetal(req.MetalType, paid.Cash, limit)
		if err != nil {
			return SettleResult{}, err
		}
		if d, ok := metal.Dimension(); ok && !snap.Account.Allows(d) {
			return SettleResult{}, &ledger.ValidationError{Field: "metalType", Dimension: d, Reason: "account is restricted to " + string(snap.Account.Restriction)}
		}
		payment = ledger.Payment{Mode: req.Mode, Paid: paid, Rate: req.Rate, Metal: metal}
		if applied, err = s.calc.Apply(payment, limit, ledger.ScopeAccount); err != nil {
			return SettleResult{}, err
		}
	}

	st := ledger.Settlement{
		ID:             ledger.SettlementID(s.newID()),
		AccountID:      accountID,
		ObligationID:   req.ObligationID,
		Direction:      dir,
		Mode:           req.Mode,
		Paid:           paid,
		Applied:        applied,
		Rate:           req.Rate,
		Note:           req.Note,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      s.timestamp(),
	}
	if !applied.Cash.Equal(paid.Cash) {
		st.ConversionMetal = payment.Metal
	}
	if err := tx.AppendSettlement(ctx, st); err != nil {
		return SettleResult{}, err
	}

	settlements := append(snap.Settlements, st)
	res := SettleResult{Settlement: st}
	if o, ok := snap.Obligation(req.ObligationID); ok {
		res.Remaining, _ = s.calc.Outstanding(o, settlements)
		res.State = s.calc.State(o, settlements)
	} else {
		res.Remaining = s.calc.DirectionOutstanding(dir, snap.Obligations, settlements).ClampZero()
	}
	return res, nil
}

// checkPaidDimensions rejects metal the account cannot carry, and, for an
// obligation-bound payment, metal in a dimension the obligation does not
// hold.
func checkPaidDimensions(acct ledger.Account, paid ledger.Vector, o *ledger.Obligation) error {
	for _, d := range []ledger.Dimension{ledger.DimGold, ledger.DimSilver} {
		if paid.Get(d).IsZero() {
			continue
		}
		if !acct.Allows(d) {
			return &ledger.ValidationError{Field: ledger.PaymentField(d), Dimension: d,
				Reason: "account is restricted to " + string(acct.Restriction)}
		}
		if o == nil {
			continue
		}
		if od, ok := o.MetalDimension(); !ok || od != d {
			return &ledger.ValidationError{Field: ledger.PaymentField(d), Dimension: d,
				Reason: "obligation " + string(o.ID) + " carries no " + string(d)}
		}
	}
	return nil
}

func firstPaid(paid ledger.Vector) ledger.Dimension {
	for _, d := range ledger.Dimensions {
		if !paid.Get(d).IsZero() {
			return d
		}
	}
	return ledger.DimCash
}

// =============================================================================
// REVERSE SETTLEMENT
// =============================================================================

// ReverseSettlement appends an inverse settlement that cancels the
// original. A settlement can be reversed once; inverse settlements cannot
// be reversed at all.
func (s *Service) ReverseSettlement(ctx context.Context, req ReverseSettlementRequest) (ledger.Settlement, error) {
	orig, err := s.GetSettlement(ctx, req.ID)
	if err != nil {
		return ledger.Settlement{}, err
	}

	var inverse ledger.Settlement
	err = s.mutate(ctx, "reverse_settlement", []ledger.AccountID{orig.AccountID}, func(ctx context.Context, tx ledger.Store) error {
		snap, err := loadSnapshot(ctx, tx, orig.AccountID)
		if err != nil {
			return err
		}
		var target *ledger.Settlement
		for i := range snap.Settlements {
			st := &snap.Settlements[i]
			if st.ReversesID == req.ID {
				return &ledger.ValidationError{Field: "id", Reason: "settlement already reversed by " + string(st.ID)}
			}
			if st.ID == req.ID {
				target = st
			}
		}
		if target == nil {
			return &ledger.UnknownReferenceError{Kind: "settlement", ID: string(req.ID)}
		}
		if target.IsInverse() {
			return &ledger.ValidationError{Field: "id", Reason: "an inverse settlement cannot be reversed"}
		}
		if err := checkIdempotencyKey(ctx, tx, req.IdempotencyKey); err != nil {
			return err
		}

		inverse = ledger.Settlement{
			ID:              ledger.SettlementID(s.newID()),
			AccountID:       target.AccountID,
			ObligationID:    target.ObligationID,
			Direction:       target.Direction,
			Mode:            target.Mode,
			Paid:            target.Paid.Neg(),
			Applied:         target.Applied.Neg(),
			Rate:            target.Rate,
			ConversionMetal: target.ConversionMetal,
			ReversesID:      target.ID,
			Note:            req.Note,
			IdempotencyKey:  req.IdempotencyKey,
			CreatedAt:       s.timestamp(),
		}
		return tx.AppendSettlement(ctx, inverse)
	})
	if err != nil {
		return ledger.Settlement{}, err
	}

	s.log.WithContext(ctx).Infow("settlement reversed",
		"account_id", inverse.AccountID, "settlement_id", inverse.ReversesID,
		"inverse_id", inverse.ID, "applied", inverse.Applied.String())
	return inverse, nil
}

func (s *Service) GetSettlement(ctx context.Context, id ledger.SettlementID) (ledger.Settlement, error) {
	st, err := s.store.GetSettlement(ctx, id)
	if err != nil {
		return ledger.Settlement{}, fmt.Errorf("get settlement: %w", err)
	}
	if st == nil {
		return ledger.Settlement{}, &ledger.UnknownReferenceError{Kind: "settlement", ID: string(id)}
	}
	return *st, nil
}

// =============================================================================
// TRANSFER
// =============================================================================

// Transfer applies both halves in one store transaction: either the source
// is settled and the destination obligation exists, or neither happened.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (TransferResult, error) {
	from, err := s.settlementAccount(ctx, req.From)
	if err != nil {
		return TransferResult{}, err
	}
	if req.To.AccountID == "" {
		return TransferResult{}, &ledger.ValidationError{Field: "to.accountId", Reason: "required"}
	}
	if req.To.AccountID == from {
		return TransferResult{}, &ledger.ValidationError{Field: "to.accountId", Reason: "source and destination are the same account"}
	}
	if req.IdempotencyKey != "" {
		req.From.IdempotencyKey = req.IdempotencyKey + ":settle"
		req.To.IdempotencyKey = req.IdempotencyKey + ":obligation"
	}

	var res TransferResult
	err = s.mutate(ctx, "transfer", []ledger.AccountID{from, req.To.AccountID}, func(ctx context.Context, tx ledger.Store) error {
		var err error
		if res.Settlement, err = s.settleTx(ctx, tx, from, req.From); err != nil {
			return fmt.Errorf("settle source: %w", err)
		}
		if res.Obligation, err = s.addObligationTx(ctx, tx, req.To); err != nil {
			return fmt.Errorf("credit destination: %w", err)
		}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}

	s.log.WithContext(ctx).Infow("transfer applied",
		"from_account", from, "settlement_id", res.Settlement.Settlement.ID,
		"to_account", res.Obligation.AccountID, "obligation_id", res.Obligation.ID,
		"applied", res.Settlement.Settlement.Applied.String(), "credited", res.Obligation.Vector.String())
	return res, nil
}
