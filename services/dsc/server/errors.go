package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	nativecommon "dscengine/native/common"
	"dscengine/native/dsc"
)

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error        string      `json:"error"`
	Reason       string      `json:"reason"`
	HealthFactor *healthView `json:"healthFactor,omitempty"`
}

// toStatus maps engine errors onto an HTTP status and a client safe message.
func toStatus(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request cancelled"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, "operation paused"
	case errors.Is(err, nativecommon.ErrReentrantCall):
		return http.StatusConflict, "engine busy"
	case errors.Is(err, dsc.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid amount"
	case errors.Is(err, dsc.ErrAssetNotAllowed):
		return http.StatusBadRequest, "asset not allowed"
	case errors.Is(err, dsc.ErrOverflow):
		return http.StatusBadRequest, "amount out of range"
	case errors.Is(err, dsc.ErrHealthFactorBroken):
		return http.StatusUnprocessableEntity, "health factor broken"
	case errors.Is(err, dsc.ErrHealthFactorOK):
		return http.StatusUnprocessableEntity, "health factor is ok"
	case errors.Is(err, dsc.ErrHealthFactorNotImproved):
		return http.StatusUnprocessableEntity, "health factor not improved"
	case errors.Is(err, dsc.ErrInsufficientCollateral):
		return http.StatusUnprocessableEntity, "insufficient collateral"
	case errors.Is(err, dsc.ErrInsufficientDebt):
		return http.StatusUnprocessableEntity, "insufficient debt"
	case errors.Is(err, dsc.ErrTransferFailed):
		return http.StatusConflict, "transfer failed"
	case errors.Is(err, dsc.ErrMintFailed):
		return http.StatusConflict, "mint failed"
	case errors.Is(err, dsc.ErrStalePrice):
		return http.StatusServiceUnavailable, "stale price"
	case errors.Is(err, dsc.ErrInvalidPrice):
		return http.StatusServiceUnavailable, "invalid price"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func reasonOf(err error) string {
	if errors.Is(err, errBadRequest) {
		return "bad_request"
	}
	return dsc.ErrorReason(err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message, reason string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: message, Reason: reason})
}
