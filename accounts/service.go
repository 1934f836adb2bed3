/*
Package accounts is the Account Ledger Service: the single entry point for
everything that reads or writes a vendor or shop account.

PURPOSE:
  Wraps the pure calculations of package ledger with persistence,
  validation, concurrency control, logging and tracing.

SINGLE WRITER PER ACCOUNT:
  Every mutation runs as

    stripe lock(account) → store.WithTx → tx.LockAccount(account) → read
    snapshot → validate → write

  The in-process stripe lock serializes writers inside one server; the
  store lock (SELECT ... FOR UPDATE on postgres) serializes writers across
  servers. Two concurrent settlements therefore never read the same
  outstanding vector. Cross-account operations lock both accounts in id
  order, so two opposite transfers cannot deadlock.

CONSISTENT READS:
  Read operations run in store.ReadTx, one snapshot per call.

SEE ALSO:
  - obligations.go, settlements.go: mutations
  - queries.go: views, balances, audit trail
*/
package accounts

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ArasuRever/aurum-ledger/ledger"
	"github.com/ArasuRever/aurum-ledger/logger"
)

var tracer = otel.Tracer("aurum-ledger/accounts")

// Service is safe for concurrent use.
type Service struct {
	store ledger.TxStore
	calc  ledger.Calculator
	log   *logger.Logger
	now   func() time.Time
	newID ledger.IDGenerator
	locks *lockTable
}

type Option func(*Service)

func WithTolerance(tol ledger.Tolerance) Option {
	return func(s *Service) { s.calc = ledger.NewCalculator(tol) }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l.WithComponent("accounts") }
}

// WithClock replaces time.Now. Timestamps are stored at microsecond
// precision whatever the clock returns.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(gen ledger.IDGenerator) Option {
	return func(s *Service) { s.newID = gen }
}

func New(store ledger.TxStore, opts ...Option) *Service {
	s := &Service{
		store: store,
		calc:  ledger.NewCalculator(ledger.DefaultTolerance()),
		log:   logger.Default().WithComponent("accounts"),
		now:   time.Now,
		newID: ledger.NewID,
		locks: newLockTable(64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tolerance is the rounding slack the service applies.
func (s *Service) Tolerance() ledger.Tolerance { return s.calc.Tolerance }

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error { return s.store.Ping(ctx) }

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// =============================================================================
// TRANSACTION HELPERS
// =============================================================================

// mutate runs fn as one atomic write holding every listed account lock.
func (s *Service) mutate(ctx context.Context, op string, ids []ledger.AccountID, fn func(ctx context.Context, tx ledger.Store) error) error {
	ctx, span := tracer.Start(ctx, "accounts."+op, trace.WithAttributes(accountAttrs(ids)...))
	defer span.End()

	ids = sortedUnique(ids)
	unlock := s.locks.lock(ids)
	defer unlock()

	err := s.store.WithTx(ctx, func(tx ledger.Store) error {
		for _, id := range ids {
			if err := tx.LockAccount(ctx, id); err != nil {
				return err
			}
		}
		return fn(ctx, tx)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ledger.Code(err))
		s.logRejected(ctx, op, ids, err)
	}
	return err
}

// view runs fn against one consistent snapshot.
func (s *Service) view(ctx context.Context, fn func(ctx context.Context, tx ledger.Store) error) error {
	return s.store.ReadTx(ctx, func(tx ledger.Store) error { return fn(ctx, tx) })
}

func (s *Service) logRejected(ctx context.Context, op string, ids []ledger.AccountID, err error) {
	log := s.log.WithContext(ctx).With("op", op, "accounts", ids, "code", ledger.Code(err))
	if dim, ok := ledger.DimensionOf(err); ok {
		log = log.With("dimension", dim)
	}
	if ledger.IsClientError(err) || ledger.IsNotFound(err) || ledger.IsRetryable(err) {
		log.Warnw("mutation rejected", "error", err)
		return
	}
	log.Errorw("mutation failed", "error", err)
}

func checkIdempotencyKey(ctx context.Context, tx ledger.Store, key string) error {
	if key == "" {
		return nil
	}
	exists, err := tx.IdempotencyKeyExists(ctx, key)
	if err != nil {
		return fmt.Errorf("check idempotency key: %w", err)
	}
	if exists {
		return fmt.Errorf("key %q: %w", key, ledger.ErrDuplicateIdempotencyKey)
	}
	return nil
}

func loadSnapshot(ctx context.Context, tx ledger.Store, id ledger.AccountID) (*ledger.Snapshot, error) {
	snap, err := ledger.LoadSnapshot(ctx, tx, id)
	if err != nil && !ledger.IsNotFound(err) {
		return nil, fmt.Errorf("load account %s: %w", id, err)
	}
	return snap, err
}

// obligationAccount resolves which account an obligation belongs to, so
// the right lock can be taken before the write transaction starts. The
// owning account of an obligation never changes.
func (s *Service) obligationAccount(ctx context.Context, id ledger.ObligationID) (ledger.AccountID, error) {
	o, err := s.store.GetObligation(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get obligation: %w", err)
	}
	if o == nil {
		return "", &ledger.UnknownReferenceError{Kind: "obligation", ID: string(id)}
	}
	return o.AccountID, nil
}

func accountAttrs(ids []ledger.AccountID) []attribute.KeyValue {
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = string(id)
	}
	return []attribute.KeyValue{attribute.StringSlice("ledger.accounts", strs)}
}

func sortedUnique(ids []ledger.AccountID) []ledger.AccountID {
	out := make([]ledger.AccountID, 0, len(ids))
	seen := make(map[ledger.AccountID]bool, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// LOCK TABLE - Striped per-account mutexes
// =============================================================================

type lockTable struct {
	stripes []sync.Mutex
}

func newLockTable(n int) *lockTable {
	return &lockTable{stripes: make([]sync.Mutex, n)}
}

func (t *lockTable) stripe(id ledger.AccountID) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % uint32(len(t.stripes)))
}

// lock takes the stripes for ids in ascending stripe order and returns the
// release function. Two ids on the same stripe share one lock.
func (t *lockTable) lock(ids []ledger.AccountID) func() {
	idx := make([]int, 0, len(ids))
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if i := t.stripe(id); !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		t.stripes[i].Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			t.stripes[idx[j]].Unlock()
		}
	}
}
