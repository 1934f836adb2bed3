/*
postgres.go - PostgreSQL ledger.TxStore

PURPOSE:
  Same contract as store/sqlite, for deployments where several server
  instances share one database. Queries are built with squirrel
  (Dollar placeholders) and scanned with pgxscan into row structs.

CONCURRENCY:
  WithTx runs at READ COMMITTED. LockAccount takes SELECT ... FOR UPDATE on
  the account row, so two writers on the same account queue on the row
  lock while writers on different accounts proceed in parallel.
  ReadTx runs READ ONLY at REPEATABLE READ: one snapshot for the whole
  read.

TRACING:
  Every transaction is wrapped in an OpenTelemetry span.

SEE ALSO:
  - store/sqlite/sqlite.go: schema and semantics this mirrors
  - pool.go: pool configuration and schema
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ArasuRever/aurum-ledger/ledger"
)

var tracer = otel.Tracer("aurum-ledger/postgres")

const (
	pgUniqueViolation = "23505"
	reversesIndex     = "idx_settlements_reverses"
)

// Store implements ledger.TxStore on a pgx pool.
type Store struct {
	pool             *pgxpool.Pool
	statementTimeout time.Duration
}

var _ ledger.TxStore = (*Store)(nil)

// New connects, pings and migrates.
func New(ctx context.Context, cfg PoolConfig) (*Store, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, statementTimeout: cfg.StatementTimeout}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.run(ctx, "ledger.write", pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}, fn)
}

func (s *Store) ReadTx(ctx context.Context, fn func(ledger.Store) error) error {
	return s.run(ctx, "ledger.read", pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, fn)
}

func (s *Store) run(ctx context.Context, name string, opts pgx.TxOptions, fn func(ledger.Store) error) (err error) {
	ctx, span := tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("tx.isolation", string(opts.IsoLevel)),
			attribute.String("tx.access", string(opts.AccessMode)),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if s.statementTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = '%dms'", s.statementTimeout.Milliseconds())); err != nil {
			_ = tx.Rollback(context.Background())
			return fmt.Errorf("set statement_timeout: %w", err)
		}
	}

	if err := fn(&txStore{q: tx}); err != nil {
		// Background context so the rollback completes even if ctx is done.
		_ = tx.Rollback(context.Background())
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Outside a transaction each call runs on the pool directly.

func (s *Store) direct() *txStore { return &txStore{q: s.pool} }

func (s *Store) SaveAccount(ctx context.Context, a ledger.Account) error {
	return s.direct().SaveAccount(ctx, a)
}

func (s *Store) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	return s.direct().GetAccount(ctx, id)
}

func (s *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	return s.direct().ListAccounts(ctx)
}

func (s *Store) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	return s.WithTx(ctx, func(tx ledger.Store) error { return tx.DeleteAccount(ctx, id) })
}

// LockAccount outside a transaction would release immediately.
func (s *Store) LockAccount(context.Context, ledger.AccountID) error { return nil }

func (s *Store) InsertObligation(ctx context.Context, o ledger.Obligation) error {
	return s.direct().InsertObligation(ctx, o)
}

func (s *Store) UpdateObligation(ctx context.Context, o ledger.Obligation, expectedVersion int64) error {
	return s.direct().UpdateObligation(ctx, o, expectedVersion)
}

func (s *Store) GetObligation(ctx context.Context, id ledger.ObligationID) (*ledger.Obligation, error) {
	return s.direct().GetObligation(ctx, id)
}

func (s *Store) LoadObligations(ctx context.Context, id ledger.AccountID) ([]ledger.Obligation, error) {
	return s.direct().LoadObligations(ctx, id)
}

func (s *Store) AppendRevision(ctx context.Context, r ledger.Revision) error {
	return s.direct().AppendRevision(ctx, r)
}

func (s *Store) LoadRevisions(ctx context.Context, id ledger.AccountID) ([]ledger.Revision, error) {
	return s.direct().LoadRevisions(ctx, id)
}

func (s *Store) AppendSettlement(ctx context.Context, st ledger.Settlement) error {
	return s.direct().AppendSettlement(ctx, st)
}

func (s *Store) GetSettlement(ctx context.Context, id ledger.SettlementID) (*ledger.Settlement, error) {
	return s.direct().GetSettlement(ctx, id)
}

func (s *Store) LoadSettlements(ctx context.Context, id ledger.AccountID) ([]ledger.Settlement, error) {
	return s.direct().LoadSettlements(ctx, id)
}

func (s *Store) IdempotencyKeyExists(ctx context.Context, key string) (bool, error) {
	return s.direct().IdempotencyKeyExists(ctx, key)
}

// =============================================================================
// TX STORE
// =============================================================================

// Querier is satisfied by both pgx.Tx and *pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txStore struct {
	q Querier
}

func (ts *txStore) exec(ctx context.Context, b squirrel.Sqlizer) (pgconn.CommandTag, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("build query: %w", err)
	}
	return ts.q.Exec(ctx, sql, args...)
}

func (ts *txStore) selectRows(ctx context.Context, dst any, b squirrel.Sqlizer) error {
	sql, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	return pgxscan.Select(ctx, ts.q, dst, sql, args...)
}

// getRow returns (false, nil) when no row matched.
func (ts *txStore) getRow(ctx context.Context, dst any, b squirrel.Sqlizer) (bool, error) {
	sql, args, err := b.ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Get(ctx, ts.q, dst, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (ts *txStore) SaveAccount(ctx context.Context, a ledger.Account) error {
	if _, err := ts.exec(ctx, insertAccountQuery(a)); err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrAccountExists
		}
		return fmt.Errorf("save account: %w", err)
	}
	return nil
}

func (ts *txStore) GetAccount(ctx context.Context, id ledger.AccountID) (*ledger.Account, error) {
	var row accountRow
	found, err := ts.getRow(ctx, &row, selectAccounts().Where(squirrel.Eq{"id": string(id)}))
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if !found {
		return nil, nil
	}
	a := row.toDomain()
	return &a, nil
}

func (ts *txStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	var rows []accountRow
	if err := ts.selectRows(ctx, &rows, selectAccounts().OrderBy("name", "id")); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	accounts := make([]ledger.Account, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.toDomain())
	}
	return accounts, nil
}

func (ts *txStore) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	for _, q := range deleteAccountQueries(id) {
		if _, err := ts.exec(ctx, q); err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
	}
	return nil
}

func (ts *txStore) LockAccount(ctx context.Context, id ledger.AccountID) error {
	var locked string
	found, err := ts.getRow(ctx, &locked, lockAccountQuery(id))
	if err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	if !found {
		return &ledger.UnknownReferenceError{Kind: "account", ID: string(id)}
	}
	return nil
}

func (ts *txStore) InsertObligation(ctx context.Context, o ledger.Obligation) error {
	if _, err := ts.exec(ctx, insertObligationQuery(o)); err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("insert obligation: %w", err)
	}
	return nil
}

func (ts *txStore) UpdateObligation(ctx context.Context, o ledger.Obligation, expectedVersion int64) error {
	tag, err := ts.exec(ctx, updateObligationQuery(o, expectedVersion))
	if err != nil {
		return fmt.Errorf("update obligation: %w", err)
	}
	if tag.RowsAffected() == 1 {
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
	var row obligationRow
	found, err := ts.getRow(ctx, &row, selectObligations().Where(squirrel.Eq{"id": string(id)}))
	if err != nil {
		return nil, fmt.Errorf("get obligation: %w", err)
	}
	if !found {
		return nil, nil
	}
	o, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (ts *txStore) LoadObligations(ctx context.Context, id ledger.AccountID) ([]ledger.Obligation, error) {
	var rows []obligationRow
	q := selectObligations().Where(squirrel.Eq{"account_id": string(id)}).OrderBy("created_at", "id")
	if err := ts.selectRows(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("load obligations: %w", err)
	}
	result := make([]ledger.Obligation, 0, len(rows))
	for _, r := range rows {
		o, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, nil
}

func (ts *txStore) AppendRevision(ctx context.Context, r ledger.Revision) error {
	if _, err := ts.exec(ctx, insertRevisionQuery(r)); err != nil {
		return fmt.Errorf("append revision: %w", err)
	}
	return nil
}

func (ts *txStore) LoadRevisions(ctx context.Context, id ledger.AccountID) ([]ledger.Revision, error) {
	var rows []revisionRow
	q := selectRevisions().Where(squirrel.Eq{"account_id": string(id)}).OrderBy("at", "id")
	if err := ts.selectRows(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("load revisions: %w", err)
	}
	result := make([]ledger.Revision, 0, len(rows))
	for _, r := range rows {
		rev, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, rev)
	}
	return result, nil
}

func (ts *txStore) AppendSettlement(ctx context.Context, s ledger.Settlement) error {
	if _, err := ts.exec(ctx, insertSettlementQuery(s)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			if pgErr.ConstraintName == reversesIndex {
				return fmt.Errorf("settlement %s already reversed: %w", s.ReversesID, ledger.ErrValidation)
			}
			return ledger.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("append settlement: %w", err)
	}
	return nil
}

func (ts *txStore) GetSettlement(ctx context.Context, id ledger.SettlementID) (*ledger.Settlement, error) {
	var row settlementRow
	found, err := ts.getRow(ctx, &row, selectSettlements().Where(squirrel.Eq{"id": string(id)}))
	if err != nil {
		return nil, fmt.Errorf("get settlement: %w", err)
	}
	if !found {
		return nil, nil
	}
	s, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (ts *txStore) LoadSettlements(ctx context.Context, id ledger.AccountID) ([]ledger.Settlement, error) {
	var rows []settlementRow
	q := selectSettlements().Where(squirrel.Eq{"account_id": string(id)}).OrderBy("created_at", "id")
	if err := ts.selectRows(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("load settlements: %w", err)
	}
	result := make([]ledger.Settlement, 0, len(rows))
	for _, r := range rows {
		s, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, nil
}

func (ts *txStore) IdempotencyKeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	sql, args, err := idempotencyExistsQuery(key).ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}
	if err := ts.q.QueryRow(ctx, sql, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("idempotency lookup: %w", err)
	}
	return exists, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
