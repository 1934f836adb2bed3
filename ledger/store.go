/*
store.go - Persistence interface for accounts, obligations and settlements

PURPOSE:
  Defines the interface between the ledger service and the database.
  Implementations can use SQLite, PostgreSQL, or in-memory storage.

APPEND-ONLY CONTRACT:
  Settlements and revisions are append-only: there is no Update or Delete
  for them. Obligations have exactly one mutation, UpdateObligation, which
  is guarded by an optimistic version and always paired with an appended
  Revision (edit) or a soft reversal flag. The only physical deletion is
  DeleteAccount, which removes an account together with its history.

IDEMPOTENCY:
  Obligations and settlements may carry an idempotency key. Inserting a
  second record with the same key fails with ErrDuplicateIdempotencyKey and
  nothing is written.

NOT FOUND:
  Get* methods return (nil, nil) when the record does not exist. The
  service turns that into an UnknownReferenceError.

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and demos
  - store/sqlite/sqlite.go: SQLite
  - store/postgres/postgres.go: PostgreSQL

SEE ALSO:
  - accounts/service.go: the only caller
*/
package ledger

import "context"

// =============================================================================
// STORE - Interface for ledger persistence
// =============================================================================

type Store interface {
	// SaveAccount inserts a new account. ErrAccountExists on a duplicate id.
	SaveAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	// DeleteAccount removes the account, its obligations, revisions and
	// settlements. The caller decides whether that is allowed.
	DeleteAccount(ctx context.Context, id AccountID) error
	// LockAccount serializes writers on one account for the rest of the
	// enclosing transaction. Stores whose WithTx is already exclusive may
	// implement it as a no-op.
	LockAccount(ctx context.Context, id AccountID) error

	InsertObligation(ctx context.Context, o Obligation) error
	// UpdateObligation replaces the stored obligation if its version still
	// equals expectedVersion. Otherwise *ConcurrentModificationError.
	UpdateObligation(ctx context.Context, o Obligation, expectedVersion int64) error
	GetObligation(ctx context.Context, id ObligationID) (*Obligation, error)
	// LoadObligations returns the account's obligations, reversed ones
	// included, ordered by CreatedAt then ID.
	LoadObligations(ctx context.Context, accountID AccountID) ([]Obligation, error)

	AppendRevision(ctx context.Context, r Revision) error
	LoadRevisions(ctx context.Context, accountID AccountID) ([]Revision, error)

	AppendSettlement(ctx context.Context, s Settlement) error
	GetSettlement(ctx context.Context, id SettlementID) (*Settlement, error)
	// LoadSettlements returns every settlement on the account, inverse
	// settlements included, ordered by CreatedAt then ID.
	LoadSettlements(ctx context.Context, accountID AccountID) ([]Settlement, error)

	// IdempotencyKeyExists checks obligations and settlements alike.
	IdempotencyKeyExists(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a read-write transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// ReadTx executes fn against one consistent snapshot. Writes through
	// the Store passed to fn are not allowed.
	ReadTx(ctx context.Context, fn func(Store) error) error

	// Ping reports whether the backing database is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Snapshot is everything recorded on one account, read in one transaction.
type Snapshot struct {
	Account     Account
	Obligations []Obligation
	Revisions   []Revision
	Settlements []Settlement
}

// LoadSnapshot reads an account and its full history through s. It
// returns *UnknownReferenceError if the account does not exist.
func LoadSnapshot(ctx context.Context, s Store, id AccountID) (*Snapshot, error) {
	acct, err := s.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, &UnknownReferenceError{Kind: "account", ID: string(id)}
	}
	obls, err := s.LoadObligations(ctx, id)
	if err != nil {
		return nil, err
	}
	revs, err := s.LoadRevisions(ctx, id)
	if err != nil {
		return nil, err
	}
	setts, err := s.LoadSettlements(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Account: *acct, Obligations: obls, Revisions: revs, Settlements: setts}, nil
}

// Obligation finds an obligation in the snapshot by id.
func (s *Snapshot) Obligation(id ObligationID) (Obligation, bool) {
	for _, o := range s.Obligations {
		if o.ID == id {
			return o, true
		}
	}
	return Obligation{}, false
}
