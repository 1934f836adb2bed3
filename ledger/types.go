package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type ObligationID string
type SettlementID string
type RevisionID string

// =============================================================================
// ACCOUNT - Vendor or B2B shop
// =============================================================================

type AccountKind string

const (
	KindVendor AccountKind = "VENDOR"
	KindShop   AccountKind = "SHOP"
)

func (k AccountKind) Valid() bool { return k == KindVendor || k == KindShop }

// MetalRestriction limits which metal dimension an account may carry.
// Cash is always allowed.
type MetalRestriction string

const (
	RestrictAny    MetalRestriction = "ANY"
	RestrictGold   MetalRestriction = "GOLD"
	RestrictSilver MetalRestriction = "SILVER"
)

func (r MetalRestriction) Valid() bool {
	return r == RestrictAny || r == RestrictGold || r == RestrictSilver
}

// Account is owned by the account-management collaborator. The ledger
// only reads it, except for create/delete.
type Account struct {
	ID              AccountID
	Kind            AccountKind
	Name            string
	Restriction     MetalRestriction
	DefaultCalcMode CalcMode
	CreatedAt       time.Time
}

// Allows reports whether the account may carry a value in the dimension.
func (a Account) Allows(d Dimension) bool {
	switch d {
	case DimGold:
		return a.Restriction != RestrictSilver
	case DimSilver:
		return a.Restriction != RestrictGold
	default:
		return true
	}
}

// CheckVector rejects a vector with a value in a dimension the account
// cannot carry (a gold-only vendor cannot hold a silver obligation).
func (a Account) CheckVector(v Vector, field string) error {
	for _, d := range Dimensions {
		if !v.Get(d).IsZero() && !a.Allows(d) {
			return invalid(field, d, "account "+string(a.ID)+" is restricted to "+string(a.Restriction))
		}
	}
	return nil
}

// =============================================================================
// OBLIGATION - One borrow/lend event
// =============================================================================

// Direction of an obligation, seen from the business.
//
//	BORROW: we received value and owe the counterparty (net balance +)
//	LEND:   we gave value and the counterparty owes us (net balance -)
type Direction string

const (
	Borrow Direction = "BORROW"
	Lend   Direction = "LEND"
)

func (d Direction) Valid() bool { return d == Borrow || d == Lend }

// Sign is the direction's contribution sign to the account net balance.
func (d Direction) Sign() int {
	if d == Lend {
		return -1
	}
	return 1
}

type ObligationState string

const (
	StateOpen     ObligationState = "OPEN"
	StateSettled  ObligationState = "SETTLED"
	StateReversed ObligationState = "REVERSED"
)

// Obligation is immutable once settled against. Unsettled obligations may
// be edited (every edit is logged as a Revision) or reversed (soft).
type Obligation struct {
	ID          ObligationID
	AccountID   AccountID
	Direction   Direction
	Description string
	Inputs      ObligationInputs
	Vector      Vector

	// Version increments on every edit or reversal (optimistic locking).
	Version        int64
	IdempotencyKey string

	CreatedAt time.Time
	UpdatedAt time.Time

	Reversed     bool
	ReversedAt   time.Time
	ReversalNote string
}

// MetalDimension is where this obligation's pure weight lives, if any.
func (o Obligation) MetalDimension() (Dimension, bool) {
	return o.Inputs.MetalType.Dimension()
}

// =============================================================================
// REVISION - One edit of an unsettled obligation
// =============================================================================

// Revision records an edit. The audit trail replays After-Before as an
// ADJUSTED entry, so edits never silently rewrite history.
type Revision struct {
	ID           RevisionID
	ObligationID ObligationID
	AccountID    AccountID
	Direction    Direction
	Before       Vector
	After        Vector
	Note         string
	At           time.Time
}

// =============================================================================
// SETTLEMENT - Payment against an obligation or an account
// =============================================================================

type SettlementMode string

const (
	ModeMetal SettlementMode = "METAL"
	ModeCash  SettlementMode = "CASH"
	ModeBoth  SettlementMode = "BOTH"
)

func (m SettlementMode) Valid() bool { return m == ModeMetal || m == ModeCash || m == ModeBoth }

// Settlement is append-only. It is undone by an inverse settlement
// (ReversesID set, negative Applied), never by deletion.
type Settlement struct {
	ID        SettlementID
	AccountID AccountID
	// ObligationID is empty for an account-level ("bulk") settlement.
	ObligationID ObligationID
	// Direction of the obligations being settled. For obligation-bound
	// settlements it copies the obligation's direction.
	Direction Direction

	Mode SettlementMode
	// Paid is what was tendered; Applied is what was subtracted from the
	// outstanding vector after cash-to-metal conversion.
	Paid            Vector
	Applied         Vector
	Rate            decimal.NullDecimal
	ConversionMetal MetalType

	ReversesID     SettlementID
	Note           string
	IdempotencyKey string
	CreatedAt      time.Time
}

func (s Settlement) IsAccountLevel() bool { return s.ObligationID == "" }

func (s Settlement) IsInverse() bool { return s.ReversesID != "" }
