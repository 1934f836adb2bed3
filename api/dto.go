/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

NUMBERS:
  Requests accept decimals as JSON numbers or strings ("9.160").
  Responses always carry decimals as strings at the dimension's precision
  (3 places for metal, 2 for cash) so clients never see float rounding.

VALIDATION:
  Shape is checked against the JSON schemas in schemas.go before a body is
  decoded. Business rules are checked by the accounts service.

SEE ALSO:
  - handlers.go: Uses these types
  - schemas.go: Request schemas
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ArasuRever/aurum-ledger/accounts"
	"github.com/ArasuRever/aurum-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type CreateAccountRequest struct {
	ID               string `json:"id"`
	Kind             string `json:"kind"`
	Name             string `json:"name"`
	MetalRestriction string `json:"metalRestriction"`
	DefaultCalcMode  string `json:"defaultCalcMode"`
}

// ObligationRequest creates an obligation. wastagePercent is the touch
// percentage in MULTIPLICATIVE mode.
type ObligationRequest struct {
	AccountID      string          `json:"accountId"`
	Direction      string          `json:"direction"`
	Description    string          `json:"description"`
	GrossWeight    decimal.Decimal `json:"grossWeight"`
	WastagePercent decimal.Decimal `json:"wastagePercent"`
	CalcMode       string          `json:"calcMode"`
	MakingCharge   decimal.Decimal `json:"makingCharge"`
	ManualCash     decimal.Decimal `json:"manualCash"`
	MetalType      string          `json:"metalType"`
}

func (r ObligationRequest) input() accounts.ObligationInput {
	return accounts.ObligationInput{
		Description:  r.Description,
		GrossWeight:  r.GrossWeight,
		Percent:      r.WastagePercent,
		CalcMode:     ledger.CalcMode(r.CalcMode),
		MakingCharge: r.MakingCharge,
		ManualCash:   r.ManualCash,
		MetalType:    ledger.MetalType(r.MetalType),
	}
}

func (r ObligationRequest) toService(key string) accounts.AddObligationRequest {
	return accounts.AddObligationRequest{
		AccountID:       ledger.AccountID(r.AccountID),
		Direction:       ledger.Direction(r.Direction),
		ObligationInput: r.input(),
		IdempotencyKey:  key,
	}
}

type EditObligationRequest struct {
	ObligationRequest
	Version                int64  `json:"version"`
	AcknowledgeSettlements bool   `json:"acknowledgeSettlements"`
	Note                   string `json:"note"`
}

type SettlementRequest struct {
	ObligationID string              `json:"obligationId"`
	AccountID    string              `json:"accountId"`
	Direction    string              `json:"direction"`
	Mode         string              `json:"mode"`
	GoldVal      decimal.Decimal     `json:"goldVal"`
	SilverVal    decimal.Decimal     `json:"silverVal"`
	CashVal      decimal.Decimal     `json:"cashVal"`
	MetalRate    decimal.NullDecimal `json:"metalRate"`
	MetalType    string              `json:"metalType"`
	Note         string              `json:"note"`
}

func (r SettlementRequest) toService(key string) accounts.SettleRequest {
	return accounts.SettleRequest{
		AccountID:      ledger.AccountID(r.AccountID),
		ObligationID:   ledger.ObligationID(r.ObligationID),
		Direction:      ledger.Direction(r.Direction),
		Mode:           ledger.SettlementMode(r.Mode),
		Gold:           r.GoldVal,
		Silver:         r.SilverVal,
		Cash:           r.CashVal,
		Rate:           r.MetalRate,
		MetalType:      ledger.MetalType(r.MetalType),
		Note:           r.Note,
		IdempotencyKey: key,
	}
}

type ReversalRequest struct {
	Version int64  `json:"version"`
	Note    string `json:"note"`
}

type TransferRequest struct {
	From SettlementRequest `json:"from"`
	To   ObligationRequest `json:"to"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

type AccountDTO struct {
	ID               string `json:"id"`
	Kind             string `json:"kind"`
	Name             string `json:"name"`
	MetalRestriction string `json:"metalRestriction"`
	DefaultCalcMode  string `json:"defaultCalcMode"`
	CreatedAt        string `json:"createdAt"`
}

// VectorDTO is the asset vector at display precision.
type VectorDTO struct {
	PureGold string `json:"pureGold"`
	Silver   string `json:"silver"`
	Cash     string `json:"cash"`
}

type InputsDTO struct {
	GrossWeight    string `json:"grossWeight"`
	WastagePercent string `json:"wastagePercent"`
	CalcMode       string `json:"calcMode"`
	MakingCharge   string `json:"makingCharge"`
	ManualCash     string `json:"manualCash"`
	MetalType      string `json:"metalType,omitempty"`
}

type ObligationDTO struct {
	ID string `json:"id"`
	// ObligationID repeats ID under the name settlement and transfer
	// requests use.
	ObligationID string    `json:"obligationId"`
	AccountID    string    `json:"accountId"`
	Direction    string    `json:"direction"`
	Description  string    `json:"description"`
	Inputs       InputsDTO `json:"inputs"`
	Vector       VectorDTO `json:"vector"`
	Settled      VectorDTO `json:"settled"`
	Outstanding  VectorDTO `json:"outstanding"`
	State        string    `json:"state"`
	Version      int64     `json:"version"`
	CreatedAt    string    `json:"createdAt"`
	UpdatedAt    string    `json:"updatedAt"`

	ReversedAt   string `json:"reversedAt,omitempty"`
	ReversalNote string `json:"reversalNote,omitempty"`

	Settlements []SettlementDTO `json:"settlements,omitempty"`
}

type SettlementDTO struct {
	ID              string    `json:"id"`
	AccountID       string    `json:"accountId"`
	ObligationID    string    `json:"obligationId,omitempty"`
	Direction       string    `json:"direction"`
	Mode            string    `json:"mode"`
	Paid            VectorDTO `json:"paid"`
	Applied         VectorDTO `json:"applied"`
	MetalRate       string    `json:"metalRate,omitempty"`
	ConversionMetal string    `json:"conversionMetal,omitempty"`
	ReversesID      string    `json:"reversesId,omitempty"`
	Note            string    `json:"note,omitempty"`
	CreatedAt       string    `json:"createdAt"`
}

// SettleResponse answers POST /settlements with the fresh remaining vector.
type SettleResponse struct {
	SettlementID string        `json:"settlementId"`
	Remaining    VectorDTO     `json:"remaining"`
	State        string        `json:"state,omitempty"`
	Settlement   SettlementDTO `json:"settlement"`
}

type TransferDTO struct {
	Settlement SettleResponse `json:"settlement"`
	Obligation ObligationDTO  `json:"obligation"`
}

// BalanceDTO flattens the net vector to the top level so that
// {pureGold, silver, cash} reads as the balance itself.
type BalanceDTO struct {
	AccountID string `json:"accountId"`
	VectorDTO
	Payable         VectorDTO `json:"payable"`
	Receivable      VectorDTO `json:"receivable"`
	OpenObligations int       `json:"openObligations"`
}

type AuditEntryDTO struct {
	Kind           string    `json:"kind"`
	Timestamp      string    `json:"timestamp"`
	ObligationID   string    `json:"obligationId,omitempty"`
	SettlementID   string    `json:"settlementId,omitempty"`
	RevisionID     string    `json:"revisionId,omitempty"`
	Direction      string    `json:"direction"`
	Description    string    `json:"description,omitempty"`
	Vector         VectorDTO `json:"vector"`
	Effect         VectorDTO `json:"effect"`
	RunningBalance VectorDTO `json:"runningBalance"`
}

type LedgerDTO struct {
	AccountID string          `json:"accountId"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Opening   VectorDTO       `json:"opening"`
	Entries   []AuditEntryDTO `json:"entries"`
	Closing   VectorDTO       `json:"closing"`
}

type VerificationDTO struct {
	AccountID  string    `json:"accountId"`
	OK         bool      `json:"ok"`
	Trail      VectorDTO `json:"trail"`
	NetBalance VectorDTO `json:"netBalance"`
	Entries    int       `json:"entries"`
	Error      string    `json:"error,omitempty"`
	Dimension  string    `json:"dimension,omitempty"`
}

type VerificationRunDTO struct {
	ID         string            `json:"id"`
	StartedAt  string            `json:"startedAt"`
	FinishedAt string            `json:"finishedAt"`
	Accounts   int               `json:"accounts"`
	Mismatches []VerificationDTO `json:"mismatches"`
	Error      string            `json:"error,omitempty"`
}

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toVectorDTO(v ledger.Vector) VectorDTO {
	return VectorDTO{
		PureGold: v.PureGold.StringFixed(ledger.DimGold.Places()),
		Silver:   v.Silver.StringFixed(ledger.DimSilver.Places()),
		Cash:     v.Cash.StringFixed(ledger.DimCash.Places()),
	}
}

func toAccountDTO(a ledger.Account) AccountDTO {
	return AccountDTO{
		ID:               string(a.ID),
		Kind:             string(a.Kind),
		Name:             a.Name,
		MetalRestriction: string(a.Restriction),
		DefaultCalcMode:  string(a.DefaultCalcMode),
		CreatedAt:        formatTime(a.CreatedAt),
	}
}

func toObligationDTO(v ledger.ObligationView) ObligationDTO {
	o := v.Obligation
	dto := ObligationDTO{
		ID:           string(o.ID),
		ObligationID: string(o.ID),
		AccountID:    string(o.AccountID),
		Direction:    string(o.Direction),
		Description:  o.Description,
		Inputs: InputsDTO{
			GrossWeight:    o.Inputs.GrossWeight.StringFixed(3),
			WastagePercent: o.Inputs.Percent.String(),
			CalcMode:       string(o.Inputs.CalcMode),
			MakingCharge:   o.Inputs.MakingCharge.StringFixed(2),
			ManualCash:     o.Inputs.ManualCash.StringFixed(2),
			MetalType:      string(o.Inputs.MetalType),
		},
		Vector:       toVectorDTO(o.Vector),
		Settled:      toVectorDTO(v.Settled),
		Outstanding:  toVectorDTO(v.Outstanding),
		State:        string(v.State),
		Version:      o.Version,
		CreatedAt:    formatTime(o.CreatedAt),
		UpdatedAt:    formatTime(o.UpdatedAt),
		ReversalNote: o.ReversalNote,
	}
	if o.Reversed {
		dto.ReversedAt = formatTime(o.ReversedAt)
	}
	for _, s := range v.Settlements {
		dto.Settlements = append(dto.Settlements, toSettlementDTO(s))
	}
	return dto
}

func toSettlementDTO(s ledger.Settlement) SettlementDTO {
	dto := SettlementDTO{
		ID:              string(s.ID),
		AccountID:       string(s.AccountID),
		ObligationID:    string(s.ObligationID),
		Direction:       string(s.Direction),
		Mode:            string(s.Mode),
		Paid:            toVectorDTO(s.Paid),
		Applied:         toVectorDTO(s.Applied),
		ConversionMetal: string(s.ConversionMetal),
		ReversesID:      string(s.ReversesID),
		Note:            s.Note,
		CreatedAt:       formatTime(s.CreatedAt),
	}
	if s.Rate.Valid {
		dto.MetalRate = s.Rate.Decimal.StringFixed(2)
	}
	return dto
}

func toSettleResponse(res accounts.SettleResult) SettleResponse {
	return SettleResponse{
		SettlementID: string(res.Settlement.ID),
		Remaining:    toVectorDTO(res.Remaining),
		State:        string(res.State),
		Settlement:   toSettlementDTO(res.Settlement),
	}
}

func toBalanceDTO(b accounts.Balance) BalanceDTO {
	return BalanceDTO{
		AccountID:       string(b.AccountID),
		VectorDTO:       toVectorDTO(b.Net),
		Payable:         toVectorDTO(b.Payable),
		Receivable:      toVectorDTO(b.Receivable),
		OpenObligations: b.OpenObligations,
	}
}

func toLedgerDTO(t ledger.AuditTrail) LedgerDTO {
	dto := LedgerDTO{
		AccountID: string(t.AccountID),
		From:      formatTime(t.Period.From),
		To:        formatTime(t.Period.To),
		Opening:   toVectorDTO(t.Opening),
		Entries:   make([]AuditEntryDTO, len(t.Entries)),
		Closing:   toVectorDTO(t.Closing),
	}
	for i, e := range t.Entries {
		dto.Entries[i] = AuditEntryDTO{
			Kind:           string(e.Kind),
			Timestamp:      formatTime(e.At),
			ObligationID:   string(e.ObligationID),
			SettlementID:   string(e.SettlementID),
			RevisionID:     string(e.RevisionID),
			Direction:      string(e.Direction),
			Description:    e.Description,
			Vector:         toVectorDTO(e.Vector),
			Effect:         toVectorDTO(e.Effect),
			RunningBalance: toVectorDTO(e.RunningBalance),
		}
	}
	return dto
}

func toVerificationDTO(v accounts.Verification) VerificationDTO {
	dto := VerificationDTO{
		AccountID:  string(v.AccountID),
		OK:         v.OK(),
		Trail:      toVectorDTO(v.Trail),
		NetBalance: toVectorDTO(v.NetBalance),
		Entries:    v.Entries,
	}
	if v.Err != nil {
		dto.Error = v.Err.Error()
		if d, ok := ledger.DimensionOf(v.Err); ok {
			dto.Dimension = string(d)
		}
	}
	return dto
}
