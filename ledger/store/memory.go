// Package store provides the in-memory ledger.TxStore.
package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ArasuRever/aurum-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	state       *memoryState
	idempotency map[string]bool
}

type memoryState struct {
	accounts    map[ledger.AccountID]ledger.Account
	obligations map[ledger.ObligationID]ledger.Obligation
	revisions   []ledger.Revision
	settlements []ledger.Settlement
}

func newMemoryState() *memoryState {
	return &memoryState{
		accounts:    make(map[ledger.AccountID]ledger.Account),
		obligations: make(map[ledger.ObligationID]ledger.Obligation),
	}
}

var _ ledger.TxStore = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{state: newMemoryState(), idempotency: make(map[string]bool)}
}

// Every Store method on Memory takes the lock and delegates to an
// unlocked view. Inside WithTx/ReadTx the caller gets the view directly.

func (m *Memory) write(fn func(v *memoryView) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memoryView{parent: m})
}

func (m *Memory) read(fn func(v *memoryView) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryView{parent: m, readOnly: true})
}

func (m *Memory) SaveAccount(ctx context.Context, a ledger.Account) error {
	return m.write(func(v *memoryView) error { return v.SaveAccount(ctx, a) })
}

func (m *Memory) GetAccount(ctx context.Context, id ledger.AccountID) (a *ledger.Account, err error) {
	err = m.read(func(v *memoryView) error { a, err = v.GetAccount(ctx, id); return err })
	return a, err
}

func (m *Memory) ListAccounts(ctx context.Context) (as []ledger.Account, err error) {
	err = m.read(func(v *memoryView) error { as, err = v.ListAccounts(ctx); return err })
	return as, err
}

func (m *Memory) DeleteAccount(ctx context.Context, id ledger.AccountID) error {
	return m.write(func(v *memoryView) error { return v.DeleteAccount(ctx, id) })
}

func (m *Memory) LockAccount(context.Context, ledger.AccountID) error { return nil }

func (m *Memory) InsertObligation(ctx context.Context, o ledger.Obligation) error {
	return m.write(func(v *memoryView) error { return v.InsertObligation(ctx, o) })
}

func (m *Memory) UpdateObligation(ctx context.Context, o ledger.Obligation, expectedVersion int64) error {
	return m.write(func(v *memoryView) error { return v.UpdateObligation(ctx, o, expectedVersion) })
}

func (m *Memory) GetObligation(ctx context.Context, id ledger.ObligationID) (o *ledger.Obligation, err error) {
	err = m.read(func(v *memoryView) error { o, err = v.GetObligation(ctx, id); return err })
	return o, err
}

func (m *Memory) LoadObligations(ctx context.Context, id ledger.AccountID) (obls []ledger.Obligation, err error) {
	err = m.read(func(v *memoryView) error { obls, err = v.LoadObligations(ctx, id); return err })
	return obls, err
}

func (m *Memory) AppendRevision(ctx context.Context, r ledger.Revision) error {
	return m.write(func(v *memoryView) error { return v.AppendRevision(ctx, r) })
}

func (m *Memory) LoadRevisions(ctx context.Context, id ledger.AccountID) (rs []ledger.Revision, err error) {
	err = m.read(func(v *memoryView) error { rs, err = v.LoadRevisions(ctx, id); return err })
	return rs, err
}

func (m *Memory) AppendSettlement(ctx context.Context, s ledger.Settlement) error {
	return m.write(func(v *memoryView) error { return v.AppendSettlement(ctx, s) })
}

func (m *Memory) GetSettlement(ctx context.Context, id ledger.SettlementID) (s *ledger.Settlement, err error) {
	err = m.read(func(v *memoryView) error { s, err = v.GetSettlement(ctx, id); return err })
	return s, err
}

func (m *Memory) LoadSettlements(ctx context.Context, id ledger.AccountID) (ss []ledger.Settlement, err error) {
	err = m.read(func(v *memoryView) error { ss, err = v.LoadSettlements(ctx, id); return err })
	return ss, err
}

func (m *Memory) IdempotencyKeyExists(ctx context.Context, key string) (ok bool, err error) {
	err = m.read(func(v *memoryView) error { ok, err = v.IdempotencyKeyExists(ctx, key); return err })
	return ok, err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Writers are fully serialized, so LockAccount has nothing left to do.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memoryView{parent: m}); err != nil {
		m.state, m.idempotency = snap.state, snap.idempotency
		return err
	}
	return nil
}

// ReadTx holds the read lock for the duration of fn.
func (m *Memory) ReadTx(ctx context.Context, fn func(ledger.Store) error) error {
	return m.read(func(v *memoryView) error { return fn(v) })
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

type memorySnapshot struct {
	state       *memoryState
	idempotency map[string]bool
}

func (m *Memory) snapshot() memorySnapshot {
	s := newMemoryState()
	for k, v := range m.state.accounts {
		s.accounts[k] = v
	}
	for k, v := range m.state.obligations {
		s.obligations[k] = v
	}
	s.revisions = append([]ledger.Revision{}, m.state.revisions...)
	s.settlements = append([]ledger.Settlement{}, m.state.settlements...)
	idem := make(map[string]bool, len(m.idempotency))
	for k, v := range m.idempotency {
		idem[k] = v
	}
	return memorySnapshot{state: s, idempotency: idem}
}

// =============================================================================
// VIEW - Unlocked operations, caller holds the lock
// =============================================================================

type memoryView struct {
	parent   *Memory
	readOnly bool
}

func (v *memoryView) checkWritable() error {
	if v.readOnly {
		return errReadOnly
	}
	return nil
}

var errReadOnly = errors.New("memory store: write inside read-only transaction")

func (v *memoryView) SaveAccount(_ context.Context, a ledger.Account) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	st := v.parent.state
	if _, exists := st.accounts[a.ID]; exists {
		return ledger.ErrAccountExists
	}
	st.accounts[a.ID] = a
	return nil
}

func (v *memoryView) GetAccount(_ context.Context, id ledger.AccountID) (*ledger.Account, error) {
	a, ok := v.parent.state.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (v *memoryView) ListAccounts(context.Context) ([]ledger.Account, error) {
	result := make([]ledger.Account, 0, len(v.parent.state.accounts))
	for _, a := range v.parent.state.accounts {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (v *memoryView) DeleteAccount(_ context.Context, id ledger.AccountID) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	st := v.parent.state
	delete(st.accounts, id)
	for oid, o := range st.obligations {
		if o.AccountID == id {
			if o.IdempotencyKey != "" {
				delete(v.parent.idempotency, o.IdempotencyKey)
			}
			delete(st.obligations, oid)
		}
	}
	revs := st.revisions[:0:0]
	for _, r := range st.revisions {
		if r.AccountID != id {
			revs = append(revs, r)
		}
	}
	st.revisions = revs
	setts := st.settlements[:0:0]
	for _, s := range st.settlements {
		if s.AccountID != id {
			setts = append(setts, s)
		} else if s.IdempotencyKey != "" {
			delete(v.parent.idempotency, s.IdempotencyKey)
		}
	}
	st.settlements = setts
	return nil
}

func (v *memoryView) LockAccount(context.Context, ledger.AccountID) error { return nil }

func (v *memoryView) InsertObligation(_ context.Context, o ledger.Obligation) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	if err := v.claimKey(o.IdempotencyKey); err != nil {
		return err
	}
	v.parent.state.obligations[o.ID] = o
	return nil
}

func (v *memoryView) UpdateObligation(_ context.Context, o ledger.Obligation, expectedVersion int64) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	current, ok := v.parent.state.obligations[o.ID]
	if !ok {
		return &ledger.UnknownReferenceError{Kind: "obligation", ID: string(o.ID)}
	}
	if current.Version != expectedVersion {
		return &ledger.ConcurrentModificationError{
			Entity:   "obligation",
			ID:       string(o.ID),
			Expected: expectedVersion,
			Actual:   current.Version,
		}
	}
	v.parent.state.obligations[o.ID] = o
	return nil
}

func (v *memoryView) GetObligation(_ context.Context, id ledger.ObligationID) (*ledger.Obligation, error) {
	o, ok := v.parent.state.obligations[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (v *memoryView) LoadObligations(_ context.Context, id ledger.AccountID) ([]ledger.Obligation, error) {
	var result []ledger.Obligation
	for _, o := range v.parent.state.obligations {
		if o.AccountID == id {
			result = append(result, o)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (v *memoryView) AppendRevision(_ context.Context, r ledger.Revision) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	v.parent.state.revisions = append(v.parent.state.revisions, r)
	return nil
}

func (v *memoryView) LoadRevisions(_ context.Context, id ledger.AccountID) ([]ledger.Revision, error) {
	var result []ledger.Revision
	for _, r := range v.parent.state.revisions {
		if r.AccountID == id {
			result = append(result, r)
		}
	}
	return result, nil
}

func (v *memoryView) AppendSettlement(_ context.Context, s ledger.Settlement) error {
	if err := v.checkWritable(); err != nil {
		return err
	}
	if err := v.claimKey(s.IdempotencyKey); err != nil {
		return err
	}
	v.parent.state.settlements = append(v.parent.state.settlements, s)
	return nil
}

func (v *memoryView) GetSettlement(_ context.Context, id ledger.SettlementID) (*ledger.Settlement, error) {
	for _, s := range v.parent.state.settlements {
		if s.ID == id {
			return &s, nil
		}
	}
	return nil, nil
}

func (v *memoryView) LoadSettlements(_ context.Context, id ledger.AccountID) ([]ledger.Settlement, error) {
	var result []ledger.Settlement
	for _, s := range v.parent.state.settlements {
		if s.AccountID == id {
			result = append(result, s)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (v *memoryView) IdempotencyKeyExists(_ context.Context, key string) (bool, error) {
	return v.parent.idempotency[key], nil
}

func (v *memoryView) claimKey(key string) error {
	if key == "" {
		return nil
	}
	if v.parent.idempotency[key] {
		return ledger.ErrDuplicateIdempotencyKey
	}
	v.parent.idempotency[key] = true
	return nil
}
