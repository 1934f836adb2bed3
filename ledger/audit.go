/*
audit.go - Combined audit trail and replay consistency check

PURPOSE:
  Merges obligations, edits and settlements of one account into a single
  time-ordered sequence and computes a running per-dimension balance left
  to right. The running balance at the end of the full trail must equal
  the independently computed NetBalance; VerifyTrail enforces this.

ENTRY KINDS:
  OBLIGATION  original vector as first recorded          effect  sign × v
  ADJUSTED    an edit, vector = after - before          effect  sign × Δ
  SETTLEMENT  applied vector of a payment               effect -sign × v
  REVERSED    obligation reversal (vector = obligation)  effect -sign × v
              or inverse settlement (vector negative)   effect -sign × v

  The ledger is append-only from the trail's point of view: a reversed
  obligation keeps its OBLIGATION entry and gains a REVERSED entry, so the
  trail stays replayable.

ORDERING:
  timestamp, then kind (OBLIGATION, ADJUSTED, SETTLEMENT, REVERSED), then
  id. Entries before the period fold into the opening balance.

SEE ALSO:
  - outstanding.go: NetBalance, the other side of the check
*/
package ledger

import (
	"sort"
	"time"
)

type EntryKind string

const (
	EntryObligation EntryKind = "OBLIGATION"
	EntryAdjusted   EntryKind = "ADJUSTED"
	EntrySettlement EntryKind = "SETTLEMENT"
	EntryReversed   EntryKind = "REVERSED"
)

var kindOrder = map[EntryKind]int{
	EntryObligation: 0,
	EntryAdjusted:   1,
	EntrySettlement: 2,
	EntryReversed:   3,
}

// AuditEntry is one line of the trail.
type AuditEntry struct {
	Kind         EntryKind
	At           time.Time
	AccountID    AccountID
	ObligationID ObligationID
	SettlementID SettlementID
	RevisionID   RevisionID
	Direction    Direction
	Description  string

	// Vector is the affected asset vector as recorded.
	Vector Vector
	// Effect is the signed contribution to the account net balance.
	Effect         Vector
	RunningBalance Vector
}

func (e AuditEntry) refID() string {
	switch {
	case e.SettlementID != "":
		return string(e.SettlementID)
	case e.RevisionID != "":
		return string(e.RevisionID)
	default:
		return string(e.ObligationID)
	}
}

type AuditTrail struct {
	AccountID AccountID
	Period    Period
	Opening   Vector
	Entries   []AuditEntry
	Closing   Vector
}

// BuildAuditTrail assembles and replays the trail for one account. The
// inputs must all belong to the account and come from one consistent
// snapshot.
func BuildAuditTrail(accountID AccountID, obligations []Obligation, revisions []Revision, settlements []Settlement, period Period) AuditTrail {
	entries := collectEntries(accountID, obligations, revisions, settlements)
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		if kindOrder[a.Kind] != kindOrder[b.Kind] {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		return a.refID() < b.refID()
	})

	trail := AuditTrail{AccountID: accountID, Period: period, Entries: []AuditEntry{}}
	running := Vector{}
	for _, e := range entries {
		if period.IsBefore(e.At) {
			trail.Opening = trail.Opening.Add(e.Effect)
			running = trail.Opening
			continue
		}
		if !period.Contains(e.At) {
			continue
		}
		running = running.Add(e.Effect)
		e.RunningBalance = running
		trail.Entries = append(trail.Entries, e)
	}
	trail.Closing = running
	return trail
}

func collectEntries(accountID AccountID, obligations []Obligation, revisions []Revision, settlements []Settlement) []AuditEntry {
	// The first revision's Before is the vector as originally recorded.
	initial := make(map[ObligationID]Vector)
	firstAt := make(map[ObligationID]time.Time)
	for _, r := range revisions {
		if at, seen := firstAt[r.ObligationID]; !seen || r.At.Before(at) {
			firstAt[r.ObligationID] = r.At
			initial[r.ObligationID] = r.Before
		}
	}

	var entries []AuditEntry
	for _, o := range obligations {
		sign := o.Direction.Sign()
		v := o.Vector
		if first, ok := initial[o.ID]; ok {
			v = first
		}
		entries = append(entries, AuditEntry{
			Kind:         EntryObligation,
			At:           o.CreatedAt,
			AccountID:    accountID,
			ObligationID: o.ID,
			Direction:    o.Direction,
			Description:  o.Description,
			Vector:       v,
			Effect:       v.Scale(sign),
		})
		if o.Reversed {
			entries = append(entries, AuditEntry{
				Kind:         EntryReversed,
				At:           o.ReversedAt,
				AccountID:    accountID,
				ObligationID: o.ID,
				Direction:    o.Direction,
				Description:  o.ReversalNote,
				Vector:       o.Vector,
				Effect:       o.Vector.Scale(-sign),
			})
		}
	}

	for _, r := range revisions {
		delta := r.After.Sub(r.Before)
		entries = append(entries, AuditEntry{
			Kind:         EntryAdjusted,
			At:           r.At,
			AccountID:    accountID,
			ObligationID: r.ObligationID,
			RevisionID:   r.ID,
			Direction:    r.Direction,
			Description:  r.Note,
			Vector:       delta,
			Effect:       delta.Scale(r.Direction.Sign()),
		})
	}

	for _, s := range settlements {
		kind := EntrySettlement
		if s.IsInverse() {
			kind = EntryReversed
		}
		entries = append(entries, AuditEntry{
			Kind:         kind,
			At:           s.CreatedAt,
			AccountID:    accountID,
			ObligationID: s.ObligationID,
			SettlementID: s.ID,
			Direction:    s.Direction,
			Description:  s.Note,
			Vector:       s.Applied,
			Effect:       s.Applied.Scale(-s.Direction.Sign()),
		})
	}
	return entries
}

// VerifyTrail compares the closing balance of a full-range trail with the
// net balance. Both are exact decimal sums over the same records, so any
// difference at all is a defect.
func VerifyTrail(trail AuditTrail, net Vector) error {
	for _, d := range Dimensions {
		if !trail.Closing.Get(d).Equal(net.Get(d)) {
			return &TrailMismatchError{
				AccountID:  trail.AccountID,
				Dimension:  d,
				Trail:      trail.Closing.Get(d),
				NetBalance: net.Get(d),
			}
		}
	}
	return nil
}
