package postgres

import (
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"github.com/ArasuRever/aurum-ledger/ledger"
)

// builder renders $1, $2 placeholders.
var builder = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// =============================================================================
// ROWS - Decimals travel as TEXT, converted at the edge
// =============================================================================

type accountRow struct {
	ID              string    `db:"id"`
	Kind            string    `db:"kind"`
	Name            string    `db:"name"`
	Restriction     string    `db:"restriction"`
	DefaultCalcMode string    `db:"default_calc_mode"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r accountRow) toDomain() ledger.Account {
	return ledger.Account{
		ID:              ledger.AccountID(r.ID),
		Kind:            ledger.AccountKind(r.Kind),
		Name:            r.Name,
		Restriction:     ledger.MetalRestriction(r.Restriction),
		DefaultCalcMode: ledger.CalcMode(r.DefaultCalcMode),
		CreatedAt:       r.CreatedAt.UTC(),
	}
}

var accountColumns = []string{"id", "kind", "name", "restriction", "default_calc_mode", "created_at"}

type obligationRow struct {
	ID             string     `db:"id"`
	AccountID      string     `db:"account_id"`
	Direction      string     `db:"direction"`
	Description    string     `db:"description"`
	GrossWeight    string     `db:"gross_weight"`
	Percent        string     `db:"percent"`
	CalcMode       string     `db:"calc_mode"`
	MakingCharge   string     `db:"making_charge"`
	ManualCash     string     `db:"manual_cash"`
	MetalType      string     `db:"metal_type"`
	PureGold       string     `db:"pure_gold"`
	Silver         string     `db:"silver"`
	Cash           string     `db:"cash"`
	Version        int64      `db:"version"`
	IdempotencyKey *string    `db:"idempotency_key"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
	Reversed       bool       `db:"reversed"`
	ReversedAt     *time.Time `db:"reversed_at"`
	ReversalNote   *string    `db:"reversal_note"`
}

var obligationColumns = []string{
	"id", "account_id", "direction", "description",
	"gross_weight", "percent", "calc_mode", "making_charge", "manual_cash", "metal_type",
	"pure_gold", "silver", "cash", "version", "idempotency_key", "created_at", "updated_at",
	"reversed", "reversed_at", "reversal_note",
}

func (r obligationRow) toDomain() (ledger.Obligation, error) {
	var d decoder
	o := ledger.Obligation{
		ID:          ledger.ObligationID(r.ID),
		AccountID:   ledger.AccountID(r.AccountID),
		Direction:   ledger.Direction(r.Direction),
		Description: r.Description,
		Inputs: ledger.ObligationInputs{
			GrossWeight:  d.dec(r.GrossWeight),
			Percent:      d.dec(r.Percent),
			CalcMode:     ledger.CalcMode(r.CalcMode),
			MakingCharge: d.dec(r.MakingCharge),
			ManualCash:   d.dec(r.ManualCash),
			MetalType:    ledger.MetalType(r.MetalType),
		},
		Vector:         d.vector(r.PureGold, r.Silver, r.Cash),
		Version:        r.Version,
		IdempotencyKey: deref(r.IdempotencyKey),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
		Reversed:       r.Reversed,
		ReversalNote:   deref(r.ReversalNote),
	}
	if r.ReversedAt != nil {
		o.ReversedAt = r.ReversedAt.UTC()
	}
	if d.err != nil {
		return o, fmt.Errorf("obligation %s: %w", r.ID, d.err)
	}
	return o, nil
}

type revisionRow struct {
	ID           string    `db:"id"`
	ObligationID string    `db:"obligation_id"`
	AccountID    string    `db:"account_id"`
	Direction    string    `db:"direction"`
	BeforeGold   string    `db:"before_gold"`
	BeforeSilver string    `db:"before_silver"`
	BeforeCash   string    `db:"before_cash"`
	AfterGold    string    `db:"after_gold"`
	AfterSilver  string    `db:"after_silver"`
	AfterCash    string    `db:"after_cash"`
	Note         *string   `db:"note"`
	At           time.Time `db:"at"`
}

var revisionColumns = []string{
	"id", "obligation_id", "account_id", "direction",
	"before_gold", "before_silver", "before_cash", "after_gold", "after_silver", "after_cash",
	"note", "at",
}

func (r revisionRow) toDomain() (ledger.Revision, error) {
	var d decoder
	rev := ledger.Revision{
		ID:           ledger.RevisionID(r.ID),
		ObligationID: ledger.ObligationID(r.ObligationID),
		AccountID:    ledger.AccountID(r.AccountID),
		Direction:    ledger.Direction(r.Direction),
		Before:       d.vector(r.BeforeGold, r.BeforeSilver, r.BeforeCash),
		After:        d.vector(r.AfterGold, r.AfterSilver, r.AfterCash),
		Note:         deref(r.Note),
		At:           r.At.UTC(),
	}
	if d.err != nil {
		return rev, fmt.Errorf("revision %s: %w", r.ID, d.err)
	}
	return rev, nil
}

type settlementRow struct {
	ID              string    `db:"id"`
	AccountID       string    `db:"account_id"`
	ObligationID    *string   `db:"obligation_id"`
	Direction       string    `db:"direction"`
	Mode            string    `db:"mode"`
	PaidGold        string    `db:"paid_gold"`
	PaidSilver      string    `db:"paid_silver"`
	PaidCash        string    `db:"paid_cash"`
	AppliedGold     string    `db:"applied_gold"`
	AppliedSilver   string    `db:"applied_silver"`
	AppliedCash     string    `db:"applied_cash"`
	Rate            *string   `db:"rate"`
	ConversionMetal string    `db:"conversion_metal"`
	ReversesID      *string   `db:"reverses_id"`
	Note            *string   `db:"note"`
	IdempotencyKey  *string   `db:"idempotency_key"`
	CreatedAt       time.Time `db:"created_at"`
}

var settlementColumns = []string{
	"id", "account_id", "obligation_id", "direction", "mode",
	"paid_gold", "paid_silver", "paid_cash", "applied_gold", "applied_silver", "applied_cash",
	"rate", "conversion_metal", "reverses_id", "note", "idempotency_key", "created_at",
}

func (r settlementRow) toDomain() (ledger.Settlement, error) {
	var d decoder
	s := ledger.Settlement{
		ID:              ledger.SettlementID(r.ID),
		AccountID:       ledger.AccountID(r.AccountID),
		ObligationID:    ledger.ObligationID(deref(r.ObligationID)),
		Direction:       ledger.Direction(r.Direction),
		Mode:            ledger.SettlementMode(r.Mode),
		Paid:            d.vector(r.PaidGold, r.PaidSilver, r.PaidCash),
		Applied:         d.vector(r.AppliedGold, r.AppliedSilver, r.AppliedCash),
		ConversionMetal: ledger.MetalType(r.ConversionMetal),
		ReversesID:      ledger.SettlementID(deref(r.ReversesID)),
		Note:            deref(r.Note),
		IdempotencyKey:  deref(r.IdempotencyKey),
		CreatedAt:       r.CreatedAt.UTC(),
	}
	if r.Rate != nil {
		s.Rate = decimal.NewNullDecimal(d.dec(*r.Rate))
	}
	if d.err != nil {
		return s, fmt.Errorf("settlement %s: %w", r.ID, d.err)
	}
	return s, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func selectAccounts() squirrel.SelectBuilder {
	return builder.Select(accountColumns...).From("accounts")
}

func insertAccountQuery(a ledger.Account) squirrel.InsertBuilder {
	return builder.Insert("accounts").Columns(accountColumns...).Values(
		string(a.ID), string(a.Kind), a.Name, string(a.Restriction), string(a.DefaultCalcMode), a.CreatedAt.UTC(),
	)
}

func lockAccountQuery(id ledger.AccountID) squirrel.SelectBuilder {
	return builder.Select("id").From("accounts").Where(squirrel.Eq{"id": string(id)}).Suffix("FOR UPDATE")
}

// deleteAccountQueries removes children before parents; inverse
// settlements reference the settlements they undo.
func deleteAccountQueries(id ledger.AccountID) []squirrel.Sqlizer {
	acct := string(id)
	return []squirrel.Sqlizer{
		builder.Delete("settlements").Where(squirrel.Eq{"account_id": acct}).Where(squirrel.NotEq{"reverses_id": nil}),
		builder.Delete("settlements").Where(squirrel.Eq{"account_id": acct}),
		builder.Delete("obligation_revisions").Where(squirrel.Eq{"account_id": acct}),
		builder.Delete("obligations").Where(squirrel.Eq{"account_id": acct}),
		builder.Delete("accounts").Where(squirrel.Eq{"id": acct}),
	}
}

func selectObligations() squirrel.SelectBuilder {
	return builder.Select(obligationColumns...).From("obligations")
}

func insertObligationQuery(o ledger.Obligation) squirrel.InsertBuilder {
	return builder.Insert("obligations").Columns(obligationColumns...).Values(
		string(o.ID), string(o.AccountID), string(o.Direction), o.Description,
		o.Inputs.GrossWeight.String(), o.Inputs.Percent.String(), string(o.Inputs.CalcMode),
		o.Inputs.MakingCharge.String(), o.Inputs.ManualCash.String(), string(o.Inputs.MetalType),
		o.Vector.PureGold.String(), o.Vector.Silver.String(), o.Vector.Cash.String(),
		o.Version, nullable(o.IdempotencyKey), o.CreatedAt.UTC(), o.UpdatedAt.UTC(),
		o.Reversed, nullableTime(o.ReversedAt), nullable(o.ReversalNote),
	)
}

func updateObligationQuery(o ledger.Obligation, expectedVersion int64) squirrel.UpdateBuilder {
	return builder.Update("obligations").SetMap(map[string]any{
		"direction":     string(o.Direction),
		"description":   o.Description,
		"gross_weight":  o.Inputs.GrossWeight.String(),
		"percent":       o.Inputs.Percent.String(),
		"calc_mode":     string(o.Inputs.CalcMode),
		"making_charge": o.Inputs.MakingCharge.String(),
		"manual_cash":   o.Inputs.ManualCash.String(),
		"metal_type":    string(o.Inputs.MetalType),
		"pure_gold":     o.Vector.PureGold.String(),
		"silver":        o.Vector.Silver.String(),
		"cash":          o.Vector.Cash.String(),
		"version":       o.Version,
		"updated_at":    o.UpdatedAt.UTC(),
		"reversed":      o.Reversed,
		"reversed_at":   nullableTime(o.ReversedAt),
		"reversal_note": nullable(o.ReversalNote),
	}).Where(squirrel.Eq{"id": string(o.ID), "version": expectedVersion})
}

func selectRevisions() squirrel.SelectBuilder {
	return builder.Select(revisionColumns...).From("obligation_revisions")
}

func insertRevisionQuery(r ledger.Revision) squirrel.InsertBuilder {
	return builder.Insert("obligation_revisions").Columns(revisionColumns...).Values(
		string(r.ID), string(r.ObligationID), string(r.AccountID), string(r.Direction),
		r.Before.PureGold.String(), r.Before.Silver.String(), r.Before.Cash.String(),
		r.After.PureGold.String(), r.After.Silver.String(), r.After.Cash.String(),
		nullable(r.Note), r.At.UTC(),
	)
}

func selectSettlements() squirrel.SelectBuilder {
	return builder.Select(settlementColumns...).From("settlements")
}

func insertSettlementQuery(s ledger.Settlement) squirrel.InsertBuilder {
	var rate any
	if s.Rate.Valid {
		rate = s.Rate.Decimal.String()
	}
	return builder.Insert("settlements").Columns(settlementColumns...).Values(
		string(s.ID), string(s.AccountID), nullable(string(s.ObligationID)), string(s.Direction), string(s.Mode),
		s.Paid.PureGold.String(), s.Paid.Silver.String(), s.Paid.Cash.String(),
		s.Applied.PureGold.String(), s.Applied.Silver.String(), s.Applied.Cash.String(),
		rate, string(s.ConversionMetal), nullable(string(s.ReversesID)),
		nullable(s.Note), nullable(s.IdempotencyKey), s.CreatedAt.UTC(),
	)
}

func idempotencyExistsQuery(key string) squirrel.SelectBuilder {
	return builder.Select().Column(squirrel.Expr(
		"EXISTS (SELECT 1 FROM obligations WHERE idempotency_key = ?) OR EXISTS (SELECT 1 FROM settlements WHERE idempotency_key = ?)",
		key, key,
	))
}

// =============================================================================
// HELPERS
// =============================================================================

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

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
