package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"dataspace/core/runtime"
	"dataspace/native/accounts"
	"dataspace/native/bank"
	"dataspace/native/common"
	"dataspace/native/content"
	"dataspace/native/escrow"
	"dataspace/native/orderbook"
	"dataspace/native/registry"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// statusFor classifies domain errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, escrow.ErrUnauthorized),
		errors.Is(err, escrow.ErrNotPurchased),
		errors.Is(err, accounts.ErrWrongRole):
		return http.StatusForbidden, "unauthorized"
	case escrow.IsNotFound(err),
		errors.Is(err, registry.ErrNotFound),
		errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, bank.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "insufficient_funds"
	case errors.Is(err, escrow.ErrDealActive),
		errors.Is(err, escrow.ErrDealSettled),
		errors.Is(err, registry.ErrAlreadyUploaded),
		errors.Is(err, accounts.ErrAlreadyRegistered):
		return http.StatusConflict, "conflict"
	case errors.Is(err, orderbook.ErrInvalidPrice),
		errors.Is(err, bank.ErrNegativeAmount),
		errors.Is(err, runtime.ErrPayloadTooLarge),
		errors.Is(err, accounts.ErrInvalidName),
		errors.Is(err, accounts.ErrInvalidKind):
		return http.StatusBadRequest, "invalid"
	case errors.Is(err, common.ErrQuotaRequestsExceeded),
		errors.Is(err, common.ErrQuotaBytesExceeded):
		return http.StatusTooManyRequests, "quota_exceeded"
	case errors.Is(err, common.ErrModulePaused):
		return http.StatusServiceUnavailable, "paused"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: codeFor(status)})
}

func codeFor(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusBadRequest:
		return "invalid"
	default:
		return "error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
