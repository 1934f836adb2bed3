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

// ObligationInput is what the counter clerk enters.
type ObligationInput struct {
	Description  string
	GrossWeight  decimal.Decimal
	Percent      decimal.Decimal
	CalcMode     ledger.CalcMode // empty: the account default on add, the stored mode on edit
	MakingCharge decimal.Decimal
	ManualCash   decimal.Decimal
	MetalType    ledger.MetalType
}

func (in ObligationInput) inputs(acct ledger.Account) ledger.ObligationInputs {
	mode := in.CalcMode
	if mode == "" {
		mode = acct.DefaultCalcMode
	}
	return ledger.ObligationInputs{
		GrossWeight:  in.GrossWeight,
		Percent:      in.Percent,
		CalcMode:     mode,
		MakingCharge: in.MakingCharge,
		ManualCash:   in.ManualCash,
		MetalType:    in.MetalType,
	}
}

type AddObligationRequest struct {
	AccountID ledger.AccountID
	Direction ledger.Direction
	ObligationInput
	IdempotencyKey string
}

type EditObligationRequest struct {
	ID ledger.ObligationID
	// Version, when non-zero, must match the stored version.
	Version int64
	ObligationInput
	// AcknowledgeSettlements allows editing an obligation that already has
	// settlements, provided the new vector still covers what was settled.
	AcknowledgeSettlements bool
	Note                   string
}

// keepStored fills the fields an edit left empty from the stored obligation.
// An empty description or calc mode never means "clear it".
func (req EditObligationRequest) keepStored(o ledger.Obligation) ObligationInput {
	in := req.ObligationInput
	if in.Description == "" {
		in.Description = o.Description
	}
	if in.CalcMode == "" {
		in.CalcMode = o.Inputs.CalcMode
	}
	if in.MetalType == ledger.MetalNone && in.GrossWeight.IsPositive() {
		in.MetalType = o.Inputs.MetalType
	}
	return in
}

type ReverseObligationRequest struct {
	ID      ledger.ObligationID
	Version int64
	Note    string
}

// =============================================================================
// ADD
// =============================================================================

// AddObligation records a new borrow or lend event. The asset vector is
// computed from the inputs; the caller never supplies it.
func (s *Service) AddObligation(ctx context.Context, req AddObligationRequest) (ledger.Obligation, error) {
	var created ledger.Obligation
	err := s.mutate(ctx, "add_obligation", []ledger.AccountID{req.AccountID}, func(ctx context.Context, tx ledger.Store) error {
		var err error
		created, err = s.addObligationTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return ledger.Obligation{}, err
	}

	s.log.WithContext(ctx).Infow("obligation added",
		"account_id", created.AccountID, "obligation_id", created.ID,
		"direction", created.Direction, "vector", created.Vector.String())
	return created, nil
}

func (s *Service) addObligationTx(ctx context.Context, tx ledger.Store, req AddObligationRequest) (ledger.Obligation, error) {
	acct, err := tx.GetAccount(ctx, req.AccountID)
	if err != nil {
		return ledger.Obligation{}, fmt.Errorf("get account: %w", err)
	}
	if acct == nil {
		return ledger.Obligation{}, &ledger.UnknownReferenceError{Kind: "account", ID: string(req.AccountID)}
	}
	if !req.Direction.Valid() {
		return ledger.Obligation{}, &ledger.ValidationError{Field: "direction", Reason: "must be BORROW or LEND"}
	}

	inputs := req.inputs(*acct)
	vector, err := ledger.ComputeVector(inputs)
	if err != nil {
		return ledger.Obligation{}, err
	}
	if err := acct.CheckVector(vector, "metalType"); err != nil {
		return ledger.Obligation{}, err
	}
	if err := checkIdempotencyKey(ctx, tx, req.IdempotencyKey); err != nil {
		return ledger.Obligation{}, err
	}

	now := s.timestamp()
	o := ledger.Obligation{
		ID:             ledger.ObligationID(s.newID()),
		AccountID:      acct.ID,
		Direction:      req.Direction,
		Description:    req.Description,
		Inputs:         inputs,
		Vector:         vector,
		Version:        1,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.InsertObligation(ctx, o); err != nil {
		return ledger.Obligation{}, err
	}
	return o, nil
}

// =============================================================================
// EDIT
// =============================================================================

// EditObligation recomputes an obligation from new inputs and logs the
// change as a Revision.
//
// An obligation with settlements cannot be edited unless the caller
// acknowledges them. Even then the new vector must still cover everything
// already settled, and the metal type cannot change.
func (s *Service) EditObligation(ctx context.Context, req EditObligationRequest) (ledger.Obligation, error) {
	accountID, err := s.obligationAccount(ctx, req.ID)
	if err != nil {
		return ledger.Obligation{}, err
	}

	var (
		updated ledger.Obligation
		rev     ledger.Revision
	)
	err = s.mutate(ctx, "edit_obligation", []ledger.AccountID{accountID}, func(ctx context.Context, tx ledger.Store) error {
		snap, err := loadSnapshot(ctx, tx, accountID)
		if err != nil {
			return err
		}
		o, ok := snap.Obligation(req.ID)
		if !ok {
			return &ledger.UnknownReferenceError{Kind: "obligation", ID: string(req.ID)}
		}
		if err := checkVersion(o, req.Version); err != nil {
			return err
		}
		if o.Reversed {
			return &ledger.ValidationError{Field: "id", Reason: "obligation is reversed"}
		}

		in := req.keepStored(o)
		inputs := in.inputs(snap.Account)
		vector, err := ledger.ComputeVector(inputs)
		if err != nil {
			return err
		}
		if err := snap.Account.CheckVector(vector, "metalType"); err != nil {
			return err
		}

		if active := ledger.ActiveSettlements(o.ID, snap.Settlements); len(active) > 0 {
			if !req.AcknowledgeSettlements {
				return &ledger.HasSettlementsError{ObligationID: o.ID, Operation: "edit", Count: len(active)}
			}
			if inputs.MetalType != o.Inputs.MetalType && o.Inputs.MetalType != ledger.MetalNone {
				return &ledger.ValidationError{Field: "metalType", Reason: "metal type cannot change once settled against"}
			}
			settled := ledger.SettledOn(o.ID, snap.Settlements)
			if d, over := s.calc.Tolerance.Exceeds(settled, vector); over {
				return &ledger.OverSettlementError{
					Dimension:   d,
					Scope:       ledger.ScopeObligation,
					Outstanding: vector.Get(d),
					Attempted:   settled.Get(d),
					Tolerance:   s.calc.Tolerance.For(d),
				}
			}
		}

		now := s.timestamp()
		updated = o
		updated.Description = in.Description
		updated.Inputs = inputs
		updated.Vector = vector
		updated.Version = o.Version + 1
		updated.UpdatedAt = now

		if err := s.checkCoverage(snap, o.ID, &updated, "edit"); err != nil {
			return err
		}

		rev = ledger.Revision{
			ID:           ledger.RevisionID(s.newID()),
			ObligationID: o.ID,
			AccountID:    o.AccountID,
			Direction:    o.Direction,
			Before:       o.Vector,
			After:        vector,
			Note:         req.Note,
			At:           now,
		}
		if err := tx.UpdateObligation(ctx, updated, o.Version); err != nil {
			return err
		}
		return tx.AppendRevision(ctx, rev)
	})
	if err != nil {
		return ledger.Obligation{}, err
	}

	s.log.WithContext(ctx).Infow("obligation edited",
		"account_id", updated.AccountID, "obligation_id", updated.ID, "version", updated.Version,
		"before", rev.Before.String(), "after", rev.After.String())
	return updated, nil
}

// =============================================================================
// REVERSE
// =============================================================================

// ReverseObligation soft-reverses an obligation: it stays in the trail
// with a REVERSED entry and stops counting toward the balance. Allowed only
// when every settlement on it has itself been reversed.
func (s *Service) ReverseObligation(ctx context.Context, req ReverseObligationRequest) (ledger.Obligation, error) {
	accountID, err := s.obligationAccount(ctx, req.ID)
	if err != nil {
		return ledger.Obligation{}, err
	}

	var reversed ledger.Obligation
	err = s.mutate(ctx, "reverse_obligation", []ledger.AccountID{accountID}, func(ctx context.Context, tx ledger.Store) error {
		snap, err := loadSnapshot(ctx, tx, accountID)
		if err != nil {
			return err
		}
		o, ok := snap.Obligation(req.ID)
		if !ok {
			return &ledger.UnknownReferenceError{Kind: "obligation", ID: string(req.ID)}
		}
		if err := checkVersion(o, req.Version); err != nil {
			return err
		}
		if o.Reversed {
			return &ledger.ValidationError{Field: "id", Reason: "obligation is already reversed"}
		}
		if active := ledger.ActiveSettlements(o.ID, snap.Settlements); len(active) > 0 {
			return &ledger.HasSettlementsError{ObligationID: o.ID, Operation: "reverse", Count: len(active)}
		}

		now := s.timestamp()
		reversed = o
		reversed.Reversed = true
		reversed.ReversedAt = now
		reversed.ReversalNote = req.Note
		reversed.Version = o.Version + 1
		reversed.UpdatedAt = now

		if err := s.checkCoverage(snap, o.ID, &reversed, "reverse"); err != nil {
			return err
		}
		return tx.UpdateObligation(ctx, reversed, o.Version)
	})
	if err != nil {
		return ledger.Obligation{}, err
	}

	s.log.WithContext(ctx).Infow("obligation reversed",
		"account_id", reversed.AccountID, "obligation_id", reversed.ID, "vector", reversed.Vector.String())
	return reversed, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func checkVersion(o ledger.Obligation, expected int64) error {
	if expected != 0 && expected != o.Version {
		return &ledger.ConcurrentModificationError{
			Entity:   "obligation",
			ID:       string(o.ID),
			Expected: expected,
			Actual:   o.Version,
		}
	}
	return nil
}

// checkCoverage verifies that account-level settlements stay covered once
// the obligation id is replaced by replacement.
func (s *Service) checkCoverage(snap *ledger.Snapshot, id ledger.ObligationID, replacement *ledger.Obligation, op string) error {
	obls := make([]ledger.Obligation, 0, len(snap.Obligations))
	for _, o := range snap.Obligations {
		if o.ID == id {
			o = *replacement
		}
		obls = append(obls, o)
	}
	dir, _, ok := s.calc.CheckCoverage(obls, snap.Settlements)
	if ok {
		return nil
	}
	count := 0
	for _, st := range snap.Settlements {
		if st.IsAccountLevel() && st.Direction == dir && !st.IsInverse() {
			count++
		}
	}
	return &ledger.HasSettlementsError{ObligationID: id, Operation: op, Count: count, AccountLevel: true}
}
