/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists accounts, obligations, revisions and settlements. In production
  the same patterns apply to PostgreSQL (see store/postgres), only minor
  SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE on settlements or obligation_revisions
  - Obligations are updated only through a version-guarded UPDATE
  - A settlement can be reversed once (unique index on reverses_id)
  - The only DELETE statements belong to DeleteAccount

KEY TABLES:
  accounts:             Vendors and B2B shops
  obligations:          Borrow/lend events with inputs and computed vector
  obligation_revisions: One row per edit (before/after vectors)
  settlements:          Payments and inverse settlements

DECIMALS AND TIME:
  Every decimal is stored as TEXT and parsed back with shopspring/decimal,
  so nothing ever passes through float64. Timestamps are stored as fixed
  width UTC strings, which makes ORDER BY on them chronological.

CONCURRENCY:
  Uses sync.RWMutex: WithTx is exclusive, ReadTx is shared. That already
  serializes writers across all accounts, so LockAccount is a no-op.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/ArasuRever/aurum-ledger/ledger"
)

// timeFormat is fixed width so that string order equals time order.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Store implements ledger.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ ledger.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		restriction TEXT NOT NULL,
		default_calc_mode TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS obligations (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		direction TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		gross_weight TEXT NOT NULL,
		percent TEXT NOT NULL,
		calc_mode TEXT NOT NULL,
		making_charge TEXT NOT NULL,
		manual_cash TEXT NOT NULL,
		metal_type TEXT NOT NULL DEFAULT '',
		pure_gold TEXT NOT NULL,
		silver TEXT NOT NULL,
		cash TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		reversed INTEGER NOT NULL DEFAULT 0,
		reversed_at TEXT,
		reversal_note TEXT
	);

	-- Hot path: everything on one account, in creation order
	CREATE INDEX IF NOT EXISTS idx_obligations_account
		ON obligations(account_id, created_at, id);

	CREATE TABLE IF NOT EXISTS obligation_revisions (
		id TEXT PRIMARY KEY,
		obligation_id TEXT NOT NULL REFERENCES obligations(id),
		account_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		before_gold TEXT NOT NULL,
		before_silver TEXT NOT NULL,
		before_cash TEXT NOT NULL,
		after_gold TEXT NOT NULL,
		after_silver TEXT NOT NULL,
		after_cash TEXT NOT NULL,
		note TEXT,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_revisions_account
		ON obligation_revisions(account_id, at);

	CREATE TABLE IF NOT EXISTS settlements (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		obligation_id TEXT REFERENCES obligations(id),
		direction TEXT NOT NULL,
		mode TEXT NOT NULL,
		paid_gold TEXT NOT NULL,
		paid_silver TEXT NOT NULL,
		paid_cash TEXT NOT NULL,
		applied_gold TEXT NOT NULL,
		applied_silver TEXT NOT NULL,
		applied_cash TEXT NOT NULL,
		rate TEXT,
		conversion_metal TEXT NOT NULL DEFAULT '',
		reverses_id TEXT REFERENCES settlements(id),
		note TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_settlements_account
		ON settlements(account_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_settlements_obligation
		ON settlements(obligation_id) WHERE obligation_id IS NOT NULL;

	-- A settlement is reversed at most once
	CREATE UNIQUE INDEX IF NOT EXISTS idx_settlements_reverses
		ON settlements(reverses_id) WHERE reverses_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// ReadTx runs fn inside a transaction that is always rolled back.
func (s *Store) ReadTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	return fn(&txStore{q: sqlTx, readOnly: true})
}

// Outside a transaction each call is its own unit of work.

func (s *Store) write(fn func(ts *txStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&txStore{q: s.db})
}

func (s *Store) read(fn func(ts *txStore) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&txStore{q: s.db, readOnly: true})
}

func (s *Store) SaveAccount(ctx context.Context, a ledger.Account) error {
	return s.write(func(ts *txStore) error { return ts.SaveAccount(ctx, a) })
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (a *ledger.Account, err error) {
	err = s.read(func(ts *txStore) error { a, err = ts.GetAccount(ctx, id); return err })
	return a, err
}

func (s *Store) ListAccounts(ctx context.Context) (as []ledger.Account, err error) {
	err = s.read(func(ts *txStore) error { as, err = ts.ListAccounts(ctx); return err })
	return as, err
}

// DeleteAccount runs its deletes in one transaction.
func (s *Store) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	return s.WithTx(ctx, func(st ledger.Store) error { return st.DeleteAccount(ctx, id) })
}

func (s *Store) LockAccount(context.Context, ledger.AccountID) error { return nil }

func (s *Store) InsertObligation(ctx context.Context, o ledger.Obligation) error {
	return s.write(func(ts *txStore) error { return ts.InsertObligation(ctx, o) })
}

func (s *Store) UpdateObligation(ctx context.Context, o ledger.Obligation, expectedVersion int64) error {
	return s.write(func(ts *txStore) error { return ts.UpdateObligation(ctx, o, expectedVersion) })
}

func (s *Store) GetObligation(ctx context.Context, id ledger.ObligationID) (o *ledger.Obligation, err error) {
	err = s.read(func(ts *txStore) error { o, err = ts.GetObligation(ctx, id); return err })
	return o, err
}

func (s *Store) LoadObligations(ctx context.Context, id ledger.AccountID) (obls []ledger.Obligation, err error) {
	err = s.read(func(ts *txStore) error { obls, err = ts.LoadObligations(ctx, id); return err })
	return obls, err
}

func (s *Store) AppendRevision(ctx context.Context, r ledger.Revision) error {
	return s.write(func(ts *txStore) error { return ts.AppendRevision(ctx, r) })
}

func (s *Store) LoadRevisions(ctx context.Context, id ledger.AccountID) (revs []ledger.Revision, err error) {
	err = s.read(func(ts *txStore) error { revs, err = ts.LoadRevisions(ctx, id); return err })
	return revs, err
}

func (s *Store) AppendSettlement(ctx context.Context, st ledger.Settlement) error {
	return s.write(func(ts *txStore) error { return ts.AppendSettlement(ctx, st) })
}

func (s *Store) GetSettlement(ctx context.Context, id ledger.SettlementID) (st *ledger.Settlement, err error) {
	err = s.read(func(ts *txStore) error { st, err = ts.GetSettlement(ctx, id); return err })
	return st, err
}

func (s *Store) LoadSettlements(ctx context.Context, id ledger.AccountID) (setts []ledger.Settlement, err error) {
	err = s.read(func(ts *txStore) error { setts, err = ts.LoadSettlements(ctx, id); return err })
	return setts, err
}

func (s *Store) IdempotencyKeyExists(ctx context.Context, key string) (ok bool, err error) {
	err = s.read(func(ts *txStore) error { ok, err = ts.IdempotencyKeyExists(ctx, key); return err })
	return ok, err
}

// =============================================================================
// TX STORE - ledger.Store over a *sql.Tx or the pool
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txStore struct {
	q        querier
	readOnly bool
}

var errReadOnly = errors.New("sqlite: write inside read-only transaction")

func (ts *txStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if ts.readOnly {
		return nil, errReadOnly
	}
	return ts.q.ExecContext(ctx, query, args...)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func (ts *txStore) SaveAccount(ctx context.Context, a ledger.Account) error {
	_, err := ts.exec(ctx, `
		INSERT INTO accounts (id, kind, name, restriction, default_calc_mode, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, a.ID, a.Kind, a.Name, a.Restriction, a.DefaultCalcMode, formatTime(a.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrAccountExists
		}
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

const accountColumns = `id, kind, name, restriction, default_calc_mode, created_at`

func (ts *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	row := ts.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (ts *txStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := ts.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	accounts := []ledger.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (ts *txStore) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	// Children first: inverse settlements reference their originals.
	for _, q := range []string{
		`DELETE FROM settlements WHERE account_id = ? AND reverses_id IS NOT NULL`,
		`DELETE FROM settlements WHERE account_id = ?`,
		`DELETE FROM obligation_revisions WHERE account_id = ?`,
		`DELETE FROM obligations WHERE account_id = ?`,
		`DELETE FROM accounts WHERE id = ?`,
	} {
		if _, err := ts.exec(ctx, q, id); err != nil {
			return fmt.Errorf("failed to delete account: %w", err)
		}
	}
	return nil
}

func (ts *txStore) LockAccount(context.Context, ledger.AccountID) error { return nil }

// =============================================================================
// OBLIGATIONS
// =============================================================================

const obligationColumns = `id, account_id, direction, description,
	gross_weight, percent, calc_mode, making_charge, manual_cash, metal_type,
	pure_gold, silver, cash, version, idempotency_key, created_at, updated_at,
	reversed, reversed_at, reversal_note`

func (ts *txStore) InsertObligation(ctx context.Context, o ledger.Obligation) error {
	_, err := ts.exec(ctx, `
		INSERT INTO obligations (`+obligationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		o.ID, o.AccountID, o.Direction, o.Description,
		o.Inputs.GrossWeight.String(), o.Inputs.Percent.String(), o.Inputs.CalcMode,
		o.Inputs.MakingCharge.String(), o.Inputs.ManualCash.String(), o.Inputs.MetalType,
		o.Vector.PureGold.String(), o.Vector.Silver.String(), o.Vector.Cash.String(),
		o.Version, nullString(o.IdempotencyKey),
		formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
		o.Reversed, nullTime(o.ReversedAt), nullString(o.ReversalNote),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to insert obligation: %w", err)
	}
	return nil
}

func (ts *txStore) UpdateObligation(ctx context.Context, o ledger.Obligation, expectedVersion int64) error {
	res, err := ts.exec(ctx, `
		UPDATE obligations SET
			direction = ?, description = ?,
			gross_weight = ?, percent = ?, calc_mode = ?, making_charge = ?, manual_cash = ?, metal_type = ?,
			pure_gold = ?, silver = ?, cash = ?,
			version = ?, updated_at = ?,
			reversed = ?, reversed_at = ?, reversal_note = ?
		WHERE id = ? AND version = ?
	`,
		o.Direction, o.Description,
		o.Inputs.GrossWeight.String(), o.Inputs.Percent.String(), o.Inputs.CalcMode,
		o.Inputs.MakingCharge.String(), o.Inputs.ManualCash.String(), o.Inputs.MetalType,
		o.Vector.PureGold.String(), o.Vector.Silver.String(), o.Vector.Cash.String(),
		o.Version, formatTime(o.UpdatedAt),
		o.Reversed, nullTime(o.ReversedAt), nullString(o.ReversalNote),
		o.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update obligation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update obligation: %w", err)
	}
	if n == 1 {
		return nil
	}

	current, err := ts.GetObligation(ctx, o.ID)
	if err != nil {
		return err
	}
	if current == nil {
		return &ledger.UnknownReferenceError{Kind: "obligation", ID: string(o.ID)}
	}
	return &ledger.ConcurrentModificationError{
		Entity:   "obligation",
		ID:       string(o.ID),
		Expected: expectedVersion,
		Actual:   current.Version,
	}
}

func (ts *txStore) GetObligation(ctx context.Context, id ledger.ObligationID) (*ledger.Obligation, error) {
	row := ts.q.QueryRowContext(ctx, `SELECT `+obligationColumns+` FROM obligations WHERE id = ?`, id)
	o, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (ts *txStore) LoadObligations(ctx context.Context, id ledger.AccountID) ([]ledger.Obligation, error) {
	rows, err := ts.q.QueryContext(ctx, `
		SELECT `+obligationColumns+` FROM obligations
		WHERE account_id = ?
		ORDER BY created_at ASC, id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query obligations: %w", err)
	}
	defer rows.Close()

	var obligations []ledger.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		obligations = append(obligations, o)
	}
	return obligations, rows.Err()
}

// =============================================================================
// REVISIONS
// =============================================================================

func (ts *txStore) AppendRevision(ctx context.Context, r ledger.Revision) error {
	_, err := ts.exec(ctx, `
		INSERT INTO obligation_revisions
		(id, obligation_id, account_id, direction,
		 before_gold, before_silver, before_cash, after_gold, after_silver, after_cash, note, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.ObligationID, r.AccountID, r.Direction,
		r.Before.PureGold.String(), r.Before.Silver.String(), r.Before.Cash.String(),
		r.After.PureGold.String(), r.After.Silver.String(), r.After.Cash.String(),
		nullString(r.Note), formatTime(r.At),
	)
	if err != nil {
		return fmt.Errorf("failed to append revision: %w", err)
	}
	return nil
}

func (ts *txStore) LoadRevisions(ctx context.Context, id ledger.AccountID) ([]ledger.Revision, error) {
	rows, err := ts.q.QueryContext(ctx, `
		SELECT id, obligation_id, account_id, direction,
		       before_gold, before_silver, before_cash, after_gold, after_silver, after_cash, note, at
		FROM obligation_revisions
		WHERE account_id = ?
		ORDER BY at ASC, id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions: %w", err)
	}
	defer rows.Close()

	var revisions []ledger.Revision
	for rows.Next() {
		var (
			r                          ledger.Revision
			bg, bs, bc, ag, as, ac, at string
			note                       sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.ObligationID, &r.AccountID, &r.Direction,
			&bg, &bs, &bc, &ag, &as, &ac, &note, &at); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		var d decoder
		r.Before = d.vector(bg, bs, bc)
		r.After = d.vector(ag, as, ac)
		r.At = d.time(at)
		r.Note = note.String
		if d.err != nil {
			return nil, fmt.Errorf("revision %s: %w", r.ID, d.err)
		}
		revisions = append(revisions, r)
	}
	return revisions, rows.Err()
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

const settlementColumns = `id, account_id, obligation_id, direction, mode,
	paid_gold, paid_silver, paid_cash, applied_gold, applied_silver, applied_cash,
	rate, conversion_metal, reverses_id, note, idempotency_key, created_at`

func (ts *txStore) AppendSettlement(ctx context.Context, s ledger.Settlement) error {
	var rate sql.NullString
	if s.Rate.Valid {
		rate = sql.NullString{String: s.Rate.Decimal.String(), Valid: true}
	}
	_, err := ts.exec(ctx, `
		INSERT INTO settlements (`+settlementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		s.ID, s.AccountID, nullString(string(s.ObligationID)), s.Direction, s.Mode,
		s.Paid.PureGold.String(), s.Paid.Silver.String(), s.Paid.Cash.String(),
		s.Applied.PureGold.String(), s.Applied.Silver.String(), s.Applied.Cash.String(),
		rate, s.ConversionMetal, nullString(string(s.ReversesID)),
		nullString(s.Note), nullString(s.IdempotencyKey), formatTime(s.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "reverses_id") {
				return fmt.Errorf("settlement %s already reversed: %w", s.ReversesID, ledger.ErrValidation)
			}
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("failed to append settlement: %w", err)
	}
	return nil
}

func (ts *txStore) GetSettlement(ctx context.Context, id ledger.SettlementID) (*ledger.Settlement, error) {
	row := ts.q.QueryRowContext(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = ?`, id)
	s, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (ts *txStore) LoadSettlements(ctx context.Context, id ledger.AccountID) ([]ledger.Settlement, error) {
	rows, err := ts.q.QueryContext(ctx, `
		SELECT `+settlementColumns+` FROM settlements
		WHERE account_id = ?
		ORDER BY created_at ASC, id ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var settlements []ledger.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, s)
	}
	return settlements, rows.Err()
}

func (ts *txStore) IdempotencyKeyExists(ctx context.Context, key string) (bool, error) {
	var count int
	err := ts.q.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM obligations WHERE idempotency_key = ?)
		     + (SELECT COUNT(*) FROM settlements WHERE idempotency_key = ?)
	`, key, key).Scan(&count)
	return count > 0, err
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (ledger.Account, error) {
	var (
		a         ledger.Account
		createdAt string
	)
	if err := row.Scan(&a.ID, &a.Kind, &a.Name, &a.Restriction, &a.DefaultCalcMode, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan account: %w", err)
	}
	var d decoder
	a.CreatedAt = d.time(createdAt)
	return a, d.err
}

func scanObligation(row scanner) (ledger.Obligation, error) {
	var (
		o                                      ledger.Obligation
		gross, percent, making, manual         string
		gold, silver, cash                     string
		idempotencyKey, reversedAt, reversNote sql.NullString
		createdAt, updatedAt                   string
	)
	err := row.Scan(
		&o.ID, &o.AccountID, &o.Direction, &o.Description,
		&gross, &percent, &o.Inputs.CalcMode, &making, &manual, &o.Inputs.MetalType,
		&gold, &silver, &cash, &o.Version, &idempotencyKey, &createdAt, &updatedAt,
		&o.Reversed, &reversedAt, &reversNote,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return o, err
		}
		return o, fmt.Errorf("failed to scan obligation: %w", err)
	}

	var d decoder
	o.Inputs.GrossWeight = d.dec(gross)
	o.Inputs.Percent = d.dec(percent)
	o.Inputs.MakingCharge = d.dec(making)
	o.Inputs.ManualCash = d.dec(manual)
	o.Vector = d.vector(gold, silver, cash)
	o.IdempotencyKey = idempotencyKey.String
	o.CreatedAt = d.time(createdAt)
	o.UpdatedAt = d.time(updatedAt)
	if reversedAt.Valid {
		o.ReversedAt = d.time(reversedAt.String)
	}
	o.ReversalNote = reversNote.String
	if d.err != nil {
		return o, fmt.Errorf("obligation %s: %w", o.ID, d.err)
	}
	return o, nil
}

func scanSettlement(row scanner) (ledger.Settlement, error) {
	var (
		s                                 ledger.Settlement
		obligationID, reversesID          sql.NullString
		pg, ps, pc, ag, as, ac, createdAt string
		rate, note, idempotencyKey        sql.NullString
	)
	err := row.Scan(
		&s.ID, &s.AccountID, &obligationID, &s.Direction, &s.Mode,
		&pg, &ps, &pc, &ag, &as, &ac,
		&rate, &s.ConversionMetal, &reversesID, &note, &idempotencyKey, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return s, err
		}
		return s, fmt.Errorf("failed to scan settlement: %w", err)
	}

	var d decoder
	s.ObligationID = ledger.ObligationID(obligationID.String)
	s.ReversesID = ledger.SettlementID(reversesID.String)
	s.Paid = d.vector(pg, ps, pc)
	s.Applied = d.vector(ag, as, ac)
	if rate.Valid {
		s.Rate = decimal.NewNullDecimal(d.dec(rate.String))
	}
	s.Note = note.String
	s.IdempotencyKey = idempotencyKey.String
	s.CreatedAt = d.time(createdAt)
	if d.err != nil {
		return s, fmt.Errorf("settlement %s: %w", s.ID, d.err)
	}
	return s, nil
}

// decoder parses TEXT columns and keeps the first error.
type decoder struct {
	err error
}

func (d *decoder) dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil && d.err == nil {
		d.err = err
	}
	return v
}

func (d *decoder) vector(gold, silver, cash string) ledger.Vector {
	return ledger.Vector{PureGold: d.dec(gold), Silver: d.dec(silver), Cash: d.dec(cash)}
}

func (d *decoder) time(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil && d.err == nil {
		d.err = err
	}
	return t
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
