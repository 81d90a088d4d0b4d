package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	nativecommon "github.com/BendDAO/bend-lending-protocol-sub001/native/common"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/lending"
	"github.com/BendDAO/bend-lending-protocol-sub001/native/oracle"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// toStatus maps pool and oracle failures to an HTTP status. The error kind
// travels in the body so clients can tell a retryable rejection from a
// configuration mistake.
func toStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, lending.ErrLoanNotFound),
		errors.Is(err, lending.ErrStaleConfiguration),
		errors.Is(err, lending.ErrNftNotConfigured),
		errors.Is(err, oracle.ErrUnknownAsset),
		errors.Is(err, oracle.ErrUnknownLevel):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrUnauthorized), errors.Is(err, oracle.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, lending.ErrProtocolPaused), errors.Is(err, oracle.ErrAssetPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, lending.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaValueCapExceeded),
		errors.Is(err, nativecommon.ErrQuotaCounterOverflow):
		return http.StatusTooManyRequests
	case errors.Is(err, oracle.ErrStaleTimestamp),
		errors.Is(err, oracle.ErrPriceDeviation),
		errors.Is(err, oracle.ErrLevelNotSettable),
		errors.Is(err, oracle.ErrInvalidPrice):
		return http.StatusUnprocessableEntity
	}
	switch lending.KindOf(err) {
	case lending.KindConfiguration:
		return http.StatusBadRequest
	case lending.KindEconomic:
		return http.StatusUnprocessableEntity
	case lending.KindOracle:
		return http.StatusServiceUnavailable
	case lending.KindInvariant:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := toStatus(err)
	body := errorResponse{Error: strings.TrimSpace(err.Error())}
	if kind := lending.KindOf(err); kind != lending.KindUnknown {
		body.Kind = string(kind)
	}
	if status == http.StatusInternalServerError {
		body = errorResponse{Error: "internal error"}
	}
	writeJSONStatus(w, status, body)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONStatus(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONStatus(w, http.StatusOK, payload)
}

func writeJSONStatus(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
