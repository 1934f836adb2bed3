/*
handlers.go - HTTP API handlers for the account ledger

PURPOSE:
  Exposes the Account Ledger Service via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the service.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                     List accounts
    POST   /api/accounts                     Create account
    GET    /api/accounts/{id}                Get account
    DELETE /api/accounts/{id}?cascade=true   Delete account
    GET    /api/accounts/{id}/balance        Net balance {pureGold, silver, cash}
    GET    /api/accounts/{id}/ledger         Audit trail (?from=&to=)
    GET    /api/accounts/{id}/obligations    Obligations (?state=OPEN|SETTLED|REVERSED)
    GET    /api/accounts/{id}/verify         Replay trail against net balance

  Obligations:
    POST   /api/obligations                  Record borrow/lend
    GET    /api/obligations/{id}             Obligation with outstanding and settlements
    PUT    /api/obligations/{id}             Edit (409 once settled against)
    DELETE /api/obligations/{id}             Soft reversal (409 once settled against)

  Settlements:
    POST   /api/settlements                  Settle obligation or account
    GET    /api/settlements/{id}             Get settlement
    POST   /api/settlements/{id}/reverse     Append inverse settlement

  Transfers:
    POST   /api/transfers                    Settle source + credit destination, atomically

IDEMPOTENCY:
  POST /obligations, /settlements, /settlements/{id}/reverse and /transfers
  honour an Idempotency-Key header. A reused key answers 409
  DUPLICATE_REQUEST and writes nothing.

ERROR HANDLING:
  Every error body is {code, message, details}; see errors.go.

SEE ALSO:
  - dto.go: Request/response data structures
  - schemas.go: Request body schemas
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/xeipuuv/gojsonschema"

	"github.com/ArasuRever/aurum-ledger/accounts"
	"github.com/ArasuRever/aurum-ledger/ledger"
	"github.com/ArasuRever/aurum-ledger/logger"
)

// HeaderIdempotencyKey carries the client's retry key.
const HeaderIdempotencyKey = "Idempotency-Key"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *accounts.Service
	// Verifier is optional; without it the verification-run endpoints
	// answer 404.
	Verifier *BalanceVerifier

	log *logger.Logger

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(svc *accounts.Service, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{Service: svc, log: log.WithComponent("api")}
}

// decode validates the body against schema and unmarshals it into dst.
func decode(r *http.Request, schema *gojsonschema.Schema, dst any) error {
	body, err := readBody(r, schema)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return badRequest("body", err.Error())
	}
	return nil
}

func idempotencyKey(r *http.Request) string {
	return r.Header.Get(HeaderIdempotencyKey)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.Service.ListAccounts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]AccountDTO, len(accts))
	for i, a := range accts {
		dtos[i] = toAccountDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := decode(r, createAccountSchema, &req); err != nil {
		writeError(w, r, err)
		return
	}

	acct, err := h.Service.CreateAccount(r.Context(), accounts.CreateAccountRequest{
		ID:              ledger.AccountID(req.ID),
		Kind:            ledger.AccountKind(req.Kind),
		Name:            req.Name,
		Restriction:     ledger.MetalRestriction(req.MetalRestriction),
		DefaultCalcMode: ledger.CalcMode(req.DefaultCalcMode),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountDTO(acct))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := h.Service.GetAccount(r.Context(), accountParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acct))
}

// DeleteAccount removes an account. Without ?cascade=true an account with
// obligations answers 409.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	cascade, err := boolQuery(r, "cascade")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Service.DeleteAccount(r.Context(), accountParam(r), cascade); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.Service.NetBalance(r.Context(), accountParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(bal))
}

// GetLedger returns the audit trail. from and to accept RFC 3339 or
// YYYY-MM-DD; a bare date for "to" covers the whole day.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period, err := ledger.ParsePeriod(q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	trail, err := h.Service.AuditTrail(r.Context(), accountParam(r), period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLedgerDTO(trail))
}

func (h *Handler) ListAccountObligations(w http.ResponseWriter, r *http.Request) {
	state := ledger.ObligationState(r.URL.Query().Get("state"))
	views, err := h.Service.ListObligations(r.Context(), accountParam(r), state)
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]ObligationDTO, len(views))
	for i, v := range views {
		dtos[i] = toObligationDTO(v)
		dtos[i].Settlements = nil
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VerifyAccount replays the trail on demand. A mismatch is still 200; the
// body says ok=false and which dimension disagreed.
func (h *Handler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	v, err := h.Service.Verify(r.Context(), accountParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toVerificationDTO(v))
}

// =============================================================================
// OBLIGATION HANDLERS
// =============================================================================

func (h *Handler) CreateObligation(w http.ResponseWriter, r *http.Request) {
	var req ObligationRequest
	if err := decode(r, obligationSchema, &req); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.Service.AddObligation(r.Context(), req.toService(idempotencyKey(r)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeObligation(w, r, http.StatusCreated, o.ID)
}

func (h *Handler) GetObligation(w http.ResponseWriter, r *http.Request) {
	h.writeObligation(w, r, http.StatusOK, ledger.ObligationID(chi.URLParam(r, "id")))
}

func (h *Handler) EditObligation(w http.ResponseWriter, r *http.Request) {
	var req EditObligationRequest
	if err := decode(r, editObligationSchema, &req); err != nil {
		writeError(w, r, err)
		return
	}

	id := ledger.ObligationID(chi.URLParam(r, "id"))
	_, err := h.Service.EditObligation(r.Context(), accounts.EditObligationRequest{
		ID:                     id,
		Version:                req.Version,
		ObligationInput:        req.input(),
		AcknowledgeSettlements: req.AcknowledgeSettlements,
		Note:                   req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeObligation(w, r, http.StatusOK, id)
}

// ReverseObligation is DELETE /obligations/{id}: a soft reversal, never a
// physical delete. version and note may come in the body or the query.
func (h *Handler) ReverseObligation(w http.ResponseWriter, r *http.Request) {
	var req ReversalRequest
	if err := decode(r, reversalSchema, &req); err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	if v := q.Get("version"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, r, badRequest("version", "must be a non-negative integer"))
			return
		}
		req.Version = n
	}
	if note := q.Get("note"); note != "" {
		req.Note = note
	}

	id := ledger.ObligationID(chi.URLParam(r, "id"))
	_, err := h.Service.ReverseObligation(r.Context(), accounts.ReverseObligationRequest{
		ID:      id,
		Version: req.Version,
		Note:    req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeObligation(w, r, http.StatusOK, id)
}

// writeObligation answers with the freshly recomputed view.
func (h *Handler) writeObligation(w http.ResponseWriter, r *http.Request, status int, id ledger.ObligationID) {
	view, err := h.Service.GetObligation(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, toObligationDTO(view))
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

func (h *Handler) CreateSettlement(w http.ResponseWriter, r *http.Request) {
	var req SettlementRequest
	if err := decode(r, settlementSchema, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.Service.Settle(r.Context(), req.toService(idempotencyKey(r)))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSettleResponse(res))
}

func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	st, err := h.Service.GetSettlement(r.Context(), ledger.SettlementID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(st))
}

func (h *Handler) ReverseSettlement(w http.ResponseWriter, r *http.Request) {
	var req ReversalRequest
	if err := decode(r, reversalSchema, &req); err != nil {
		writeError(w, r, err)
		return
	}

	inverse, err := h.Service.ReverseSettlement(r.Context(), accounts.ReverseSettlementRequest{
		ID:             ledger.SettlementID(chi.URLParam(r, "id")),
		Note:           req.Note,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSettlementDTO(inverse))
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := decode(r, transferSchema, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.Service.Transfer(r.Context(), accounts.TransferRequest{
		From:           req.From.toService(""),
		To:             req.To.toService(""),
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	view, err := h.Service.GetObligation(r.Context(), res.Obligation.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, TransferDTO{
		Settlement: toSettleResponse(res.Settlement),
		Obligation: toObligationDTO(view),
	})
}

// =============================================================================
// HEALTH AND VERIFICATION
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Ping(r.Context()); err != nil {
		h.log.WithContext(r.Context()).Errorw("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListVerificationRuns returns the most recent background sweeps.
func (h *Handler) ListVerificationRuns(w http.ResponseWriter, r *http.Request) {
	if h.Verifier == nil {
		writeError(w, r, &ledger.UnknownReferenceError{Kind: "verifier", ID: "balance"})
		return
	}
	runs := h.Verifier.Runs()
	dtos := make([]VerificationRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = run.dto()
	}
	writeJSON(w, http.StatusOK, dtos)
}

// TriggerVerification runs a sweep now and returns its result.
func (h *Handler) TriggerVerification(w http.ResponseWriter, r *http.Request) {
	if h.Verifier == nil {
		writeError(w, r, &ledger.UnknownReferenceError{Kind: "verifier", ID: "balance"})
		return
	}
	run := h.Verifier.RunNow(r.Context())
	writeJSON(w, http.StatusOK, run.dto())
}

// =============================================================================
// HELPERS
// =============================================================================

func accountParam(r *http.Request) ledger.AccountID {
	return ledger.AccountID(chi.URLParam(r, "id"))
}

func boolQuery(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest(name, "must be true or false")
	}
	return b, nil
}
