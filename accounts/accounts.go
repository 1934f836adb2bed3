package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/ArasuRever/aurum-ledger/ledger"
)

// =============================================================================
// ACCOUNT MANAGEMENT
// =============================================================================

type CreateAccountRequest struct {
	// ID is optional; a UUIDv7 is assigned when empty.
	ID              ledger.AccountID
	Kind            ledger.AccountKind
	Name            string
	Restriction     ledger.MetalRestriction
	DefaultCalcMode ledger.CalcMode
}

func (r *CreateAccountRequest) normalize() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Restriction == "" {
		r.Restriction = ledger.RestrictAny
	}
	if r.DefaultCalcMode == "" {
		r.DefaultCalcMode = ledger.CalcMultiplicative
	}
	switch {
	case !r.Kind.Valid():
		return &ledger.ValidationError{Field: "kind", Reason: "must be VENDOR or SHOP"}
	case r.Name == "":
		return &ledger.ValidationError{Field: "name", Reason: "required"}
	case !r.Restriction.Valid():
		return &ledger.ValidationError{Field: "metalRestriction", Reason: "must be ANY, GOLD or SILVER"}
	case !r.DefaultCalcMode.Valid():
		return &ledger.ValidationError{Field: "calcMode", Reason: "must be MULTIPLICATIVE or ADDITIVE"}
	}
	return nil
}

func (s *Service) CreateAccount(ctx context.Context, req CreateAccountRequest) (ledger.Account, error) {
	if err := req.normalize(); err != nil {
		return ledger.Account{}, err
	}
	if req.ID == "" {
		req.ID = ledger.AccountID(s.newID())
	}

	acct := ledger.Account{
		ID:              req.ID,
		Kind:            req.Kind,
		Name:            req.Name,
		Restriction:     req.Restriction,
		DefaultCalcMode: req.DefaultCalcMode,
		CreatedAt:       s.timestamp(),
	}
	err := s.store.WithTx(ctx, func(tx ledger.Store) error {
		return tx.SaveAccount(ctx, acct)
	})
	if err != nil {
		return ledger.Account{}, fmt.Errorf("create account %s: %w", acct.ID, err)
	}

	s.log.WithContext(ctx).Infow("account created",
		"account_id", acct.ID, "kind", acct.Kind, "restriction", acct.Restriction)
	return acct, nil
}

func (s *Service) GetAccount(ctx context.Context, id ledger.AccountID) (ledger.Account, error) {
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("get account: %w", err)
	}
	if acct == nil {
		return ledger.Account{}, &ledger.UnknownReferenceError{Kind: "account", ID: string(id)}
	}
	return *acct, nil
}

func (s *Service) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// DeleteAccount removes an account. An account with obligations is only
// removed when cascade is set, and then its whole history goes with it.
func (s *Service) DeleteAccount(ctx context.Context, id ledger.AccountID, cascade bool) error {
	var removed int
	err := s.mutate(ctx, "delete_account", []ledger.AccountID{id}, func(ctx context.Context, tx ledger.Store) error {
		acct, err := tx.GetAccount(ctx, id)
		if err != nil {
			return fmt.Errorf("get account: %w", err)
		}
		if acct == nil {
			return &ledger.UnknownReferenceError{Kind: "account", ID: string(id)}
		}
		obls, err := tx.LoadObligations(ctx, id)
		if err != nil {
			return fmt.Errorf("load obligations: %w", err)
		}
		if len(obls) > 0 && !cascade {
			return fmt.Errorf("account %s has %d obligation(s): %w", id, len(obls), ledger.ErrAccountHasObligations)
		}
		removed = len(obls)
		return tx.DeleteAccount(ctx, id)
	})
	if err != nil {
		return err
	}
	s.log.WithContext(ctx).Infow("account deleted", "account_id", id, "obligations", removed)
	return nil
}
