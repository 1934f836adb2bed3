package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ArasuRever/aurum-ledger/ledger"
	"github.com/ArasuRever/aurum-ledger/logger"
)

// statusFor maps ledger error codes to HTTP status.
var statusFor = map[string]int{
	"VALIDATION_ERROR":           http.StatusBadRequest,
	"UNKNOWN_REFERENCE":          http.StatusNotFound,
	"OVER_SETTLEMENT":            http.StatusUnprocessableEntity,
	"OBLIGATION_HAS_SETTLEMENTS": http.StatusConflict,
	"CONCURRENT_MODIFICATION":    http.StatusConflict,
	"DUPLICATE_REQUEST":          http.StatusConflict,
	"ACCOUNT_HAS_OBLIGATIONS":    http.StatusConflict,
	"ACCOUNT_EXISTS":             http.StatusConflict,
	"INTERNAL_ERROR":             http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError reports err as {code, message, details}. Whenever a dimension
// failed, details.dimension names it. Internal errors are logged and
// hidden from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := ledger.Code(err)
	status, ok := statusFor[code]
	if !ok {
		status = http.StatusInternalServerError
	}

	resp := ErrorResponse{Code: code, Message: err.Error(), Details: errorDetails(err)}
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).Errorw("request failed", "error", err, "path", r.URL.Path)
		resp.Message = "internal server error"
		resp.Details = map[string]any{"request_id": middleware.GetReqID(r.Context())}
	}
	writeJSON(w, status, resp)
}

func errorDetails(err error) map[string]any {
	details := map[string]any{}
	if d, ok := ledger.DimensionOf(err); ok {
		details["dimension"] = string(d)
	}

	var (
		verr  *ledger.ValidationError
		over  *ledger.OverSettlementError
		has   *ledger.HasSettlementsError
		cm    *ledger.ConcurrentModificationError
		unk   *ledger.UnknownReferenceError
		trail *ledger.TrailMismatchError
	)
	switch {
	case errors.As(err, &verr):
		details["field"] = verr.Field
		details["reason"] = verr.Reason
	case errors.As(err, &over):
		details["scope"] = string(over.Scope)
		details["outstanding"] = over.Outstanding.String()
		details["attempted"] = over.Attempted.String()
		details["tolerance"] = over.Tolerance.String()
	case errors.As(err, &has):
		details["obligationId"] = string(has.ObligationID)
		details["operation"] = has.Operation
		details["settlements"] = has.Count
		details["accountLevel"] = has.AccountLevel
	case errors.As(err, &cm):
		details["entity"] = cm.Entity
		details["id"] = cm.ID
		details["expectedVersion"] = cm.Expected
		details["actualVersion"] = cm.Actual
	case errors.As(err, &unk):
		details["kind"] = unk.Kind
		details["id"] = unk.ID
	case errors.As(err, &trail):
		details["trail"] = trail.Trail.String()
		details["netBalance"] = trail.NetBalance.String()
	}

	if len(details) == 0 {
		return nil
	}
	return details
}

// badRequest wraps a transport-level problem (unreadable JSON, bad query
// parameter) as a validation error.
func badRequest(field, reason string) error {
	return &ledger.ValidationError{Field: field, Reason: reason}
}
