// Package api exposes the HTTP surface of the saga services over gorilla/mux:
// orders, warehouse catalog and stock operations, the flash-sale hot path and
// the circuit-breaker status endpoint. Domain errors are translated into the
// HTTP codes the clients are contracted to see.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/mkarasev/oms-saga/internal/domain"
	"github.com/mkarasev/oms-saga/internal/httpclient"
)

// headerUserID несёт идентификатор пользователя, проставленный шлюзом после
// проверки bearer-токена.
const headerUserID = "X-User-ID"

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: message, Code: code})
}

// writeDomainError сводит доменные ошибки к контрактным HTTP-кодам.
func writeDomainError(w http.ResponseWriter, logger *log.Entry, err error) {
	switch {
	case errors.Is(err, httpclient.ErrCircuitOpen):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, "CIRCUIT_OPEN", "dependency unavailable, retry later")
	case errors.Is(err, httpclient.ErrTimeout):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "TIMEOUT", "dependency timed out, retry later")
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "ORDER_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrProductNotFound):
		writeError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrInventoryRecordNotFound):
		writeError(w, http.StatusNotFound, "INVENTORY_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrInsufficientStock):
		writeError(w, http.StatusConflict, "INSUFFICIENT_STOCK", err.Error())
	case errors.Is(err, domain.ErrCannotRelease):
		writeError(w, http.StatusConflict, "CANNOT_RELEASE", err.Error())
	case errors.Is(err, domain.ErrInventoryRecordExists):
		writeError(w, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, domain.ErrSeckillOutOfStock):
		writeError(w, http.StatusConflict, "OUT_OF_STOCK", err.Error())
	case errors.Is(err, domain.ErrSeckillAlreadyPurchased):
		writeError(w, http.StatusConflict, "ALREADY_PURCHASED", err.Error())
	case errors.Is(err, domain.ErrSeckillNotActive):
		writeError(w, http.StatusConflict, "NOT_ACTIVE", err.Error())
	case errors.Is(err, domain.ErrSeckillCampaignNotFound):
		writeError(w, http.StatusNotFound, "CAMPAIGN_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrSeckillRateLimited):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", err.Error())
	case errors.Is(err, domain.ErrCustomerRequired),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrItemPriceInvalid),
		errors.Is(err, domain.ErrProductIDRequired),
		errors.Is(err, domain.ErrProductNameRequired),
		errors.Is(err, domain.ErrReservationQtyInvalid),
		errors.Is(err, domain.ErrSeckillWindowInvalid):
		writeError(w, http.StatusBadRequest, "VALIDATION", err.Error())
	default:
		logger.WithError(err).Error("unhandled error on http surface")
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

// requireUser достаёт X-User-ID или отвечает 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing "+headerUserID+" header")
		return "", false
	}
	return userID, true
}
