package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"bankledger/internal/middleware"
	"bankledger/internal/money"
	"bankledger/internal/recurrence"
	"bankledger/internal/services"
	"bankledger/internal/validator"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// errorStatuses is checked in order; the first match wins.
var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{services.ErrUnauthorizedPool, http.StatusForbidden, "pool_access_denied"},
	{services.ErrAccountNotFound, http.StatusNotFound, "account_not_found"},
	{services.ErrPoolNotFound, http.StatusNotFound, "pool_not_found"},
	{services.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
	{services.ErrRequestNotFound, http.StatusNotFound, "money_request_not_found"},
	{services.ErrAutomationNotFound, http.StatusNotFound, "automation_not_found"},
	{services.ErrRecipientNotFound, http.StatusNotFound, "recipient_not_found"},
	{services.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{services.ErrNotFound, http.StatusNotFound, "not_found"},
	{services.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{services.ErrPoolLocked, http.StatusUnprocessableEntity, "pool_locked"},
	{services.ErrAccountInactive, http.StatusUnprocessableEntity, "account_inactive"},
	{services.ErrRequestExpired, http.StatusGone, "money_request_expired"},
	{services.ErrRequestAlreadyProcessed, http.StatusConflict, "money_request_already_processed"},
	{services.ErrAccountExists, http.StatusConflict, "account_exists"},
	{services.ErrUserExists, http.StatusConflict, "user_exists"},
	{services.ErrDuplicateReference, http.StatusConflict, "duplicate_reference"},
	{services.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{money.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{money.ErrTooManyDecimals, http.StatusBadRequest, "invalid_amount"},
	{services.ErrSamePool, http.StatusBadRequest, "same_pool"},
	{services.ErrInvalidDestination, http.StatusBadRequest, "invalid_destination"},
	{services.ErrInvalidSchedule, http.StatusBadRequest, "invalid_schedule"},
	{recurrence.ErrInvalidRule, http.StatusBadRequest, "invalid_schedule"},
	{recurrence.ErrInvalidTime, http.StatusBadRequest, "invalid_schedule"},
	{services.ErrInvalidTargets, http.StatusBadRequest, "invalid_targets"},
	{services.ErrSelfRequest, http.StatusBadRequest, "self_request"},
	{validator.ErrInvalidPhone, http.StatusBadRequest, "invalid_phone"},
	{validator.ErrInvalidAccountKind, http.StatusBadRequest, "invalid_account_kind"},
	{validator.ErrInvalidAccountNumber, http.StatusBadRequest, "invalid_account_number"},
	{validator.ErrInvalidName, http.StatusBadRequest, "invalid_name"},
}

// respondServiceError maps core errors to statuses. Anything unmapped,
// integrity faults included, is a 500 and gets logged.
func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, entry := range errorStatuses {
		if errors.Is(err, entry.err) {
			respondError(w, entry.status, entry.code)
			return
		}
	}
	h.logger.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	respondError(w, http.StatusInternalServerError, "internal_error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid payload")
		return false
	}
	return true
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized")
	}
	return userID, ok
}

func pageParams(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}
