/*
handlers_test.go - HTTP tests for the account ledger API

Tests for:
- Request validation and the {code, message, details} error body
- Obligation lifecycle: create, settle, edit, reverse
- Settlement reversal, idempotency keys, transfers
- Balance, ledger and verification endpoints
*/
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArasuRever/aurum-ledger/accounts"
	"github.com/ArasuRever/aurum-ledger/ledger/store"
	"github.com/ArasuRever/aurum-ledger/logger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type apiTest struct {
	t      *testing.T
	h      *Handler
	router http.Handler
}

func newAPITest(t *testing.T) *apiTest {
	t.Helper()
	svc := accounts.New(store.NewMemory(), accounts.WithLogger(logger.Nop()))
	h := NewHandler(svc, logger.Nop())
	return &apiTest{t: t, h: h, router: NewRouter(h, nil)}
}

// do sends body as JSON; a string body is sent verbatim. header is a list
// of name/value pairs.
func (a *apiTest) do(method, path string, body any, header ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(a.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeAs[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func requireStatus(t *testing.T, want int, rec *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, want, rec.Code, rec.Body.String())
}

func requireError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	requireStatus(t, status, rec)
	resp := decodeAs[ErrorResponse](t, rec)
	assert.Equal(t, code, resp.Code)
	assert.NotEmpty(t, resp.Message)
	return resp
}

func (a *apiTest) createAccount(id, kind, restriction string) AccountDTO {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/accounts", map[string]string{
		"id": id, "kind": kind, "name": "Account " + id, "metalRestriction": restriction,
	})
	requireStatus(a.t, http.StatusCreated, rec)
	return decodeAs[AccountDTO](a.t, rec)
}

// goldBorrow is 10 g at 91.6 touch plus 550.50 making: 9.160 g pure.
func (a *apiTest) goldBorrow(accountID string) ObligationDTO {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/obligations", map[string]any{
		"accountId":      accountID,
		"direction":      "BORROW",
		"description":    "22k chain",
		"grossWeight":    "10",
		"wastagePercent": "91.6",
		"makingCharge":   "550.50",
		"metalType":      "GOLD",
	})
	requireStatus(a.t, http.StatusCreated, rec)
	return decodeAs[ObligationDTO](a.t, rec)
}

func (a *apiTest) settleGold(obligationID, grams string) *httptest.ResponseRecorder {
	a.t.Helper()
	return a.do(http.MethodPost, "/api/settlements", map[string]any{
		"obligationId": obligationID, "mode": "METAL", "goldVal": grams,
	})
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestCreateAccount(t *testing.T) {
	// GIVEN: An empty ledger
	a := newAPITest(t)

	// WHEN: A vendor is created without restriction or calc mode
	acct := a.createAccount("vendor-1", "VENDOR", "")

	// THEN: Defaults are filled in
	assert.Equal(t, "vendor-1", acct.ID)
	assert.Equal(t, "ANY", acct.MetalRestriction)
	assert.Equal(t, "MULTIPLICATIVE", acct.DefaultCalcMode)
	assert.NotEmpty(t, acct.CreatedAt)

	// AND: The same id again is a conflict
	rec := a.do(http.MethodPost, "/api/accounts", map[string]string{"id": "vendor-1", "kind": "VENDOR", "name": "Again"})
	requireError(t, rec, http.StatusConflict, "ACCOUNT_EXISTS")

	// AND: It is listed and readable
	list := decodeAs[[]AccountDTO](t, a.do(http.MethodGet, "/api/accounts", nil))
	require.Len(t, list, 1)
	requireStatus(t, http.StatusOK, a.do(http.MethodGet, "/api/accounts/vendor-1", nil))
}

func TestCreateAccount_SchemaRejections(t *testing.T) {
	a := newAPITest(t)

	tests := []struct {
		name  string
		body  any
		field string
	}{
		{"missing kind", map[string]string{"name": "x"}, "kind"},
		{"unknown kind", map[string]string{"kind": "BANK", "name": "x"}, "kind"},
		{"empty name", map[string]string{"kind": "SHOP", "name": ""}, "name"},
		{"bad restriction", map[string]string{"kind": "SHOP", "name": "x", "metalRestriction": "PLATINUM"}, "metalRestriction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := requireError(t, a.do(http.MethodPost, "/api/accounts", tt.body), http.StatusBadRequest, "VALIDATION_ERROR")
			assert.Equal(t, tt.field, resp.Details["field"])
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		requireError(t, a.do(http.MethodPost, "/api/accounts", `{"kind":`), http.StatusBadRequest, "VALIDATION_ERROR")
	})
}

func TestUnknownAccount(t *testing.T) {
	a := newAPITest(t)

	for _, path := range []string{
		"/api/accounts/ghost",
		"/api/accounts/ghost/balance",
		"/api/accounts/ghost/ledger",
		"/api/accounts/ghost/verify",
	} {
		resp := requireError(t, a.do(http.MethodGet, path, nil), http.StatusNotFound, "UNKNOWN_REFERENCE")
		assert.Equal(t, "account", resp.Details["kind"], path)
	}
}

func TestDeleteAccount(t *testing.T) {
	// GIVEN: An account with one obligation
	a := newAPITest(t)
	a.createAccount("vendor-1", "VENDOR", "GOLD")
	a.goldBorrow("vendor-1")

	// WHEN: Deleted without cascade
	// THEN: 409, the obligation protects it
	requireError(t, a.do(http.MethodDelete, "/api/accounts/vendor-1", nil), http.StatusConflict, "ACCOUNT_HAS_OBLIGATIONS")

	// AND: A malformed cascade flag is rejected
	requireError(t, a.do(http.MethodDelete, "/api/accounts/vendor-1?cascade=maybe", nil), http.StatusBadRequest, "VALIDATION_ERROR")

	// WHEN: Deleted with cascade
	rec := a.do(http.MethodDelete, "/api/accounts/vendor-1?cascade=true", nil)

	// THEN: It is gone
	requireStatus(t, http.StatusNoContent, rec)
	requireStatus(t, http.StatusNotFound, a.do(http.MethodGet, "/api/accounts/vendor-1", nil))
}

// =============================================================================
// OBLIGATIONS AND SETTLEMENTS
// =============================================================================

func TestObligationLifecycle(t *testing.T) {
	// GIVEN: A gold vendor with a 9.160 g borrow
	a := newAPITest(t)
	a.createAccount("vendor-1", "VENDOR", "GOLD")
	o := a.goldBorrow("vendor-1")

	assert.Equal(t, VectorDTO{PureGold: "9.160", Silver: "0.000", Cash: "550.50"}, o.Vector)
	assert.Equal(t, o.Vector, o.Outstanding)
	assert.Equal(t, "OPEN", o.State)
	assert.Equal(t, int64(1), o.Version)
	assert.Equal(t, o.ID, o.ObligationID)

	// WHEN: 4 g of gold is returned
	rec := a.settleGold(o.ID, "4")

	// THEN: 5.160 g remain
	requireStatus(t, http.StatusCreated, rec)
	res := decodeAs[SettleResponse](t, rec)
	assert.NotEmpty(t, res.SettlementID)
	assert.Equal(t, "5.160", res.Remaining.PureGold)
	assert.Equal(t, "OPEN", res.State)

	// AND: The obligation view lists the settlement
	view := decodeAs[ObligationDTO](t, a.do(http.MethodGet, "/api/obligations/"+o.ID, nil))
	assert.Equal(t, "4.000", view.Settled.PureGold)
	require.Len(t, view.Settlements, 1)
	assert.Equal(t, res.SettlementID, view.Settlements[0].ID)

	// WHEN: More gold than is outstanding is returned
	rec = a.settleGold(o.ID, "6")

	// THEN: 422 naming the dimension and the obligation scope
	resp := requireError(t, rec, http.StatusUnprocessableEntity, "OVER_SETTLEMENT")
	assert.Equal(t, "pureGold", resp.Details["dimension"])
	assert.Equal(t, "obligation", resp.Details["scope"])
	assert.Equal(t, "6", resp.Details["attempted"])

	// WHEN: The rest is paid in metal and cash
	rec = a.do(http.MethodPost, "/api/settlements", map[string]any{
		"obligationId": o.ID, "mode": "BOTH", "goldVal": "5.160", "cashVal": "550.50",
	})

	// THEN: The obligation is settled
	requireStatus(t, http.StatusCreated, rec)
	assert.Equal(t, "SETTLED", decodeAs[SettleResponse](t, rec).State)

	settled := decodeAs[[]ObligationDTO](t, a.do(http.MethodGet, "/api/accounts/vendor-1/obligations?state=SETTLED", nil))
	require.Len(t, settled, 1)
	assert.Nil(t, settled[0].Settlements)
	requireError(t, a.do(http.MethodGet, "/api/accounts/vendor-1/obligations?state=CLOSED", nil),
		http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestCreateObligation_Rejections(t *testing.T) {
	a := newAPITest(t)
	a.createAccount("vendor-1", "VENDOR", "GOLD")

	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
		field  string
	}{
		{
			name:   "missing direction",
			body:   map[string]any{"accountId": "vendor-1", "grossWeight": "1", "metalType": "GOLD"},
			status: http.StatusBadRequest, code: "VALIDATION_ERROR", field: "direction",
		},
		{
			name:   "weight not a number",
			body:   map[string]any{"accountId": "vendor-1", "direction": "BORROW", "grossWeight": "ten", "metalType": "GOLD"},
			status: http.StatusBadRequest, code: "VALIDATION_ERROR", field: "grossWeight",
		},
		{
			name:   "silver on gold-only account",
			body:   map[string]any{"accountId": "vendor-1", "direction": "BORROW", "grossWeight": "10", "wastagePercent": "92.5", "metalType": "SILVER"},
			status: http.StatusBadRequest, code: "VALIDATION_ERROR", field: "metalType",
		},
		{
			name:   "all zero",
			body:   map[string]any{"accountId": "vendor-1", "direction": "LEND"},
			status: http.StatusBadRequest, code: "VALIDATION_ERROR",
		},
		{
			name:   "unknown account",
			body:   map[string]any{"accountId": "ghost", "direction": "LEND", "manualCash": "100"},
			status: http.StatusNotFound, code: "UNKNOWN_REFERENCE",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := requireError(t, a.do(http.MethodPost, "/api/obligations", tt.body), tt.status, tt.code)
			if tt.field != "" {
				assert.Equal(t, tt.field, resp.Details["field"])
			}
		})
	}
}

func TestSettlement_MissingRate(t *testing.T) {
	// GIVEN: 9.160 g and 550.50 cash outstanding
	a := newAPITest(t)
	a.createAccount("vendor-1", "VENDOR", "GOLD")
	o := a.goldBorrow("vendor-1")

	// WHEN: More cash than the cash bucket arrives without a rate
	rec := a.do(http.MethodPost, "/api/settlements", map[string]any{
		"obligationId": o.ID, "mode": "CASH", "cashVal": "1000",
	})

	// THEN: The rate is demanded
	resp := requireError(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
	assert.Equal(t, "metalRate", resp.Details["field"])

	// WHEN: The rate is supplied
	rec = a.do(http.MethodPost, "/api/settlements", map[string]any{
		"obligationId": o.ID, "mode": "CASH", "cashVal": "1000", "metalRate": "4495",
	})

	// THEN: Cash clears first, the excess 449.50 buys 0.100 g
	requireStatus(t, http.StatusCreated, rec)
	res := decodeAs[SettleResponse](t, rec)
	assert.Equal(t, "0.00", res.Remaining.Cash)
	assert.Equal(t, "9.060", res.Remaining.PureGold)
	assert.Equal(t, "GOLD", res.Settlement.ConversionMetal)
}

func TestSettlement_Rejections(t *testing.T) {
	a := newAPITest(t)
	a.createAccount("vendor-1", "VENDOR", "GOLD")
	o := a.goldBorrow("vendor-1")

	t.Run("neither obligation nor account", func(t *testing.T) {
		requireError(t, a.do(http.MethodPost, "/api/settlements", map[string]any{"mode": "METAL", "goldVal": "1"}),
			http.StatusBadRequest, "VALIDATION_ERROR")
	})
	t.Run("unknown mode", func(t *testing.T) {
		resp := requireError(t, a.do(http.MethodPost, "/api/settlements", map[string]any{
			"obligationId": o.ID, "mode": "BARTER", "goldVal": "1",
		}), http.StatusBadRequest, "VALIDATION_ERROR")
		assert.Equal(t, "mode", resp.Details["field"])
	})
	t.Run("silver against gold obligation", func(t *testing.T) {
		resp := requireError(t, a.do(http.MethodPost, "/api/settlements", map[string]any{
			"obligationId": o.ID, "mode": "METAL", "silverVal": "1",
		}), http.StatusBadRequest, "VALIDATION_ERROR")
		assert.Equal(t, "silverVal", resp.Details["field"])
		assert.Equal(t, "silver", resp.Details["dimension"])
	})
	t.Run("unknown obligation", func(t *testing.T) {
		requireError(t, a.settleGold("ghost", "1"), http.StatusNotFound, "UNKNOWN_REFERENCE")
	})
	t.Run("unknown settlement", func(t *testing.T) {
		requireError(t, a.do(http.MethodGet, "/api/settlements/ghost", nil), http.StatusNotFound, "UNKNOWN_REFERENCE")
	})
}

func TestIdempotencyKey(t *testing.T) {
	// GIVEN: A settlement sent with an idempotency key
	a := newAPITest(t)
	a.createAccount("vendor-1", "VENDOR", "GOLD")
	o := a.goldBorrow("vendor-1")
	body := map[string]any{"obligationId": o.ID, "mode": "METAL", "goldVal": "1"}

	requireStatus(t, http.StatusCreated, a.do(http.MethodPost, "/api/settlements", body, HeaderIdempotencyKey, "pay-1"))

	// WHEN: The client retries with the same key
	rec := a.do(http.MethodPost, "/api/settlements", body, HeaderIdempotencyKey, "pay-1")

	// THEN: 409 and nothing more is applied
	requireError(t, rec, http.StatusConflict, "DUPLICATE_REQUEST")
	view := decodeAs[ObligationDTO](t, a.do(http.MethodGet, "/api/obligations/"+o.ID, nil))
	assert.Equal(t, "8.160", view.Outstanding.PureGold)
}

func TestEditObligation(t *testing.T) {
	// GIVEN: A 9.160 g borrow
	a := newAPITest(t)
	a.createAccount("vendor-1", "VENDOR", "GOLD")
	o := a.goldBorrow("vendor-1")
	edit := func(body map[string]any) *httptest.ResponseRecorder {
		body["grossWeight"] = "12"
		body["wastagePercent"] = "91.6"
		body["metalType"] = "GOLD"
		return a.do(http.MethodPut, "/api/obligations/"+o.ID, body)
	}

	// WHEN: The weight is corrected before any payment
	rec := edit(map[string]any{"version": 1, "note": "reweighed"})

	// THEN: The vector is recomputed and the version bumped
	requireStatus(t, http.StatusOK, rec)
	edited := decodeAs[ObligationDTO](t, rec)
	assert.Equal(t, "10.992", edited.Vector.PureGold)
	assert.Equal(t, "0.00", edited.Vector.Cash)
	assert.Equal(t, int64(2), edited.Version)

	// AND: Fields the body left out keep their stored values
	assert.Equal(t, "22k chain", edited.Description)
	assert.Equal(t, "MULTIPLICATIVE", edited.Inputs.CalcMode)

	// WHEN: A stale version is sent
	// THEN: 409 concurrent modification
	resp := requireError(t, edit(map[string]any{"version": 1}), http.StatusConflict, "CONCURRENT_MODIFICATION")
	assert.Equal(t, float64(2), resp.Details["actualVersion"])

	// WHEN: A settlement exists and the edit is not acknowledged
	requireStatus(t, http.StatusCreated, a.settleGold(o.ID, "2"))

	// THEN: 409 obligation has settlements
	resp = requireError(t, edit(map[string]any{"version": 2}), http.StatusConflict, "OBLIGATION_HAS_SETTLEMENTS")
	assert.Equal(t, "edit", resp.Details["operation"])

	// WHEN: The edit acknowledges the settlement
	rec = edit(map[string]any{"version": 2, "acknowledgeSettlements": true})

	// THEN: It goes through against the settled amount
	requireStatus(t, http.StatusOK, rec)
	assert.Equal(t, "8.992", decodeAs[ObligationDTO](t, rec).Outstanding.PureGold)
}

func TestReverseObligation(t *testing.T) {
	// GIVEN: Two borrows, one with a settlement
	a := newAPITest(t)
	a.createAccount("vendor-1", "VENDOR", "GOLD")
	clean := a.goldBorrow("vendor-1")
	paid := a.goldBorrow("vendor-1")
	requireStatus(t, http.StatusCreated, a.settleGold(paid.ID, "1"))

	// WHEN: The one with a settlement is reversed
	// THEN: 409
	requireError(t, a.do(http.MethodDelete, "/api/obligations/"+paid.ID, nil), http.StatusConflict, "OBLIGATION_HAS_SETTLEMENTS")

	// WHEN: The clean one is reversed with a note in the query
	rec := a.do(http.MethodDelete, "/api/obligations/"+clean.ID+"?version=1&note=duplicate+entry", nil)

	// THEN: It stays readable, marked REVERSED
	requireStatus(t, http.StatusOK, rec)
	reversed := decodeAs[ObligationDTO](t, rec)
	assert.Equal(t, "REVERSED", reversed.State)
	assert.Equal(t, "duplicate entry", reversed.ReversalNote)
	assert.NotEmpty(t, reversed.ReversedAt)

	// AND: Only the settled one counts toward the balance
	bal := decodeAs[BalanceDTO](t, a.do(http.MethodGet, "/api/accounts/vendor-1/balance", nil))
	assert.Equal(t, "8.160", bal.PureGold)
	assert.Equal(t, 1, bal.OpenObligations)

	// AND: A bad version query is rejected
	requireError(t, a.do(http.MethodDelete, "/api/obligations/"+paid.ID+"?version=x", nil), http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestReverseSettlement(t *testing.T) {
	// GIVEN: A fully settled obligation
	a := newAPITest(t)
	a.createAccount("shop-1", "SHOP", "")
	rec := a.do(http.MethodPost, "/api/obligations", map[string]any{
		"accountId": "shop-1", "direction": "LEND", "manualCash": "1000",
	})
	requireStatus(t, http.StatusCreated, rec)
	o := decodeAs[ObligationDTO](t, rec)

	rec = a.do(http.MethodPost, "/api/settlements", map[string]any{"obligationId": o.ID, "mode": "CASH", "cashVal": "1000"})
	requireStatus(t, http.StatusCreated, rec)
	st := decodeAs[SettleResponse](t, rec)
	assert.Equal(t, "SETTLED", st.State)

	// WHEN: The settlement is reversed
	rec = a.do(http.MethodPost, "/api/settlements/"+st.SettlementID+"/reverse", map[string]string{"note": "bounced cheque"})

	// THEN: An inverse entry is created and the obligation reopens
	requireStatus(t, http.StatusCreated, rec)
	inverse := decodeAs[SettlementDTO](t, rec)
	assert.Equal(t, st.SettlementID, inverse.ReversesID)
	assert.Equal(t, "-1000.00", inverse.Applied.Cash)

	view := decodeAs[ObligationDTO](t, a.do(http.MethodGet, "/api/obligations/"+o.ID, nil))
	assert.Equal(t, "OPEN", view.State)
	assert.Equal(t, "1000.00", view.Outstanding.Cash)

	// AND: It cannot be reversed twice
	requireError(t, a.do(http.MethodPost, "/api/settlements/"+st.SettlementID+"/reverse", nil), http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestAccountLevelSettlement(t *testing.T) {
	// GIVEN: Two gold lends to a shop, 4 g and 5 g pure
	a := newAPITest(t)
	a.createAccount("shop-1", "SHOP", "")
	for _, gross := range []string{"4", "5"} {
		requireStatus(t, http.StatusCreated, a.do(http.MethodPost, "/api/obligations", map[string]any{
			"accountId": "shop-1", "direction": "LEND", "grossWeight": gross, "wastagePercent": "100", "metalType": "GOLD",
		}))
	}

	// WHEN: 6 g is collected against the account
	rec := a.do(http.MethodPost, "/api/settlements", map[string]any{
		"accountId": "shop-1", "direction": "LEND", "mode": "METAL", "goldVal": "6",
	})

	// THEN: 3 g remain across the account
	requireStatus(t, http.StatusCreated, rec)
	res := decodeAs[SettleResponse](t, rec)
	assert.Equal(t, "3.000", res.Remaining.PureGold)
	assert.Empty(t, res.Settlement.ObligationID)

	// WHEN: 4 g more is collected
	rec = a.do(http.MethodPost, "/api/settlements", map[string]any{
		"accountId": "shop-1", "direction": "LEND", "mode": "METAL", "goldVal": "4",
	})

	// THEN: Over-settlement at account scope
	resp := requireError(t, rec, http.StatusUnprocessableEntity, "OVER_SETTLEMENT")
	assert.Equal(t, "account", resp.Details["scope"])
}

func TestTransfer(t *testing.T) {
	// GIVEN: A shop owing 10 g and a refinery
	a := newAPITest(t)
	a.createAccount("shop-1", "SHOP", "")
	a.createAccount("refinery-1", "VENDOR", "GOLD")
	rec := a.do(http.MethodPost, "/api/obligations", map[string]any{
		"accountId": "shop-1", "direction": "LEND", "grossWeight": "10", "wastagePercent": "100", "metalType": "GOLD",
	})
	requireStatus(t, http.StatusCreated, rec)
	owed := decodeAs[ObligationDTO](t, rec)

	// WHEN: 4 g of the shop's debt is sent to the refinery
	rec = a.do(http.MethodPost, "/api/transfers", map[string]any{
		"from": map[string]any{"obligationId": owed.ID, "mode": "METAL", "goldVal": "4"},
		"to": map[string]any{
			"accountId": "refinery-1", "direction": "LEND", "grossWeight": "4", "wastagePercent": "100", "metalType": "GOLD",
		},
	})

	// THEN: Both halves are recorded
	requireStatus(t, http.StatusCreated, rec)
	tr := decodeAs[TransferDTO](t, rec)
	assert.Equal(t, "6.000", tr.Settlement.Remaining.PureGold)
	assert.Equal(t, "refinery-1", tr.Obligation.AccountID)
	assert.Equal(t, "4.000", tr.Obligation.Vector.PureGold)

	shop := decodeAs[BalanceDTO](t, a.do(http.MethodGet, "/api/accounts/shop-1/balance", nil))
	refinery := decodeAs[BalanceDTO](t, a.do(http.MethodGet, "/api/accounts/refinery-1/balance", nil))
	assert.Equal(t, "-6.000", shop.PureGold)
	assert.Equal(t, "-4.000", refinery.PureGold)

	// WHEN: The destination cannot take the metal
	rec = a.do(http.MethodPost, "/api/transfers", map[string]any{
		"from": map[string]any{"obligationId": owed.ID, "mode": "METAL", "goldVal": "1"},
		"to":   map[string]any{"accountId": "refinery-1", "direction": "LEND", "grossWeight": "1", "metalType": "SILVER"},
	})

	// THEN: Nothing is written on either side
	requireStatus(t, http.StatusBadRequest, rec)
	view := decodeAs[ObligationDTO](t, a.do(http.MethodGet, "/api/obligations/"+owed.ID, nil))
	assert.Equal(t, "6.000", view.Outstanding.PureGold)
}

// =============================================================================
// LEDGER, VERIFICATION, HEALTH
// =============================================================================

func TestLedgerAndVerify(t *testing.T) {
	// GIVEN: A borrow with one settlement
	a := newAPITest(t)
	a.createAccount("vendor-1", "VENDOR", "GOLD")
	o := a.goldBorrow("vendor-1")
	requireStatus(t, http.StatusCreated, a.settleGold(o.ID, "4"))

	// WHEN: The ledger is read
	rec := a.do(http.MethodGet, "/api/accounts/vendor-1/ledger", nil)

	// THEN: Two entries with running balances ending at the net balance
	requireStatus(t, http.StatusOK, rec)
	trail := decodeAs[LedgerDTO](t, rec)
	require.Len(t, trail.Entries, 2)
	assert.Equal(t, "9.160", trail.Entries[0].RunningBalance.PureGold)
	assert.Equal(t, "5.160", trail.Entries[1].RunningBalance.PureGold)
	assert.Equal(t, trail.Entries[1].RunningBalance, trail.Closing)

	bal := decodeAs[BalanceDTO](t, a.do(http.MethodGet, "/api/accounts/vendor-1/balance", nil))
	assert.Equal(t, trail.Closing, bal.VectorDTO)

	// AND: Verification agrees
	v := decodeAs[VerificationDTO](t, a.do(http.MethodGet, "/api/accounts/vendor-1/verify", nil))
	assert.True(t, v.OK)
	assert.Equal(t, 2, v.Entries)

	// AND: An unparseable period is rejected
	requireError(t, a.do(http.MethodGet, "/api/accounts/vendor-1/ledger?from=yesterday", nil), http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestHealth(t *testing.T) {
	a := newAPITest(t)
	rec := a.do(http.MethodGet, "/api/health", nil)
	requireStatus(t, http.StatusOK, rec)
	assert.Equal(t, "ok", decodeAs[map[string]string](t, rec)["status"])
}

func TestVerificationRuns(t *testing.T) {
	// GIVEN: No verifier wired
	a := newAPITest(t)

	// THEN: The run endpoints are not found
	requireError(t, a.do(http.MethodGet, "/api/verification/runs", nil), http.StatusNotFound, "UNKNOWN_REFERENCE")

	// WHEN: A verifier is attached and triggered
	a.createAccount("vendor-1", "VENDOR", "GOLD")
	a.goldBorrow("vendor-1")
	a.h.Verifier = NewBalanceVerifier(a.h.Service, 0, logger.Nop())
	rec := a.do(http.MethodPost, "/api/verification/run", nil)

	// THEN: The run covers the account and finds nothing wrong
	requireStatus(t, http.StatusOK, rec)
	run := decodeAs[VerificationRunDTO](t, rec)
	assert.Equal(t, 1, run.Accounts)
	assert.Empty(t, run.Mismatches)

	runs := decodeAs[[]VerificationRunDTO](t, a.do(http.MethodGet, "/api/verification/runs", nil))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}
