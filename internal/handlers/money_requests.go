package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"bankledger/internal/models"
	"bankledger/internal/money"
	"bankledger/internal/services"
	"bankledger/internal/validator"
)

// moneyRequestView reports pending requests past their deadline as expired.
type moneyRequestView struct {
	models.MoneyRequest
	Status        models.MoneyRequestStatus `json:"status"`
	AmountDisplay string                    `json:"amount_display"`
}

func newMoneyRequestView(req models.MoneyRequest, now time.Time) moneyRequestView {
	return moneyRequestView{
		MoneyRequest:  req,
		Status:        req.DisplayStatus(now),
		AmountDisplay: money.Display(req.Amount),
	}
}

type createMoneyRequestRequest struct {
	RequesterKind string `json:"requester_kind"`
	PayerPhone    string `json:"payer_phone"`
	PayerKind     string `json:"payer_kind"`
	Amount        string `json:"amount"`
	Note          string `json:"note"`
}

func (h *Handler) CreateMoneyRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createMoneyRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	requesterKind, err := validator.ParseAccountKind(req.RequesterKind)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	payerKind := models.AccountPersonal
	if strings.TrimSpace(req.PayerKind) != "" {
		if payerKind, err = validator.ParseAccountKind(req.PayerKind); err != nil {
			h.respondServiceError(w, r, err)
			return
		}
	}
	amount, err := parseAmountMinor(req.Amount)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	created, err := h.svc.Requests.Create(r.Context(), services.CreateMoneyRequestInput{
		RequesterID:   userID,
		RequesterKind: requesterKind,
		PayerPhone:    req.PayerPhone,
		PayerKind:     payerKind,
		Amount:        amount,
		Note:          strings.TrimSpace(req.Note),
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newMoneyRequestView(created, time.Now()))
}

func (h *Handler) ListMoneyRequests(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	requests, err := h.svc.Requests.List(r.Context(), userID, limit, offset)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	now := time.Now()
	views := make([]moneyRequestView, 0, len(requests))
	for _, req := range requests {
		views = append(views, newMoneyRequestView(req, now))
	}
	respondJSON(w, http.StatusOK, map[string]any{"money_requests": views})
}

type acceptMoneyRequestRequest struct {
	PayerPoolID string `json:"payer_pool_id"`
}

func (h *Handler) AcceptMoneyRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req acceptMoneyRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	payment, err := h.svc.Requests.Accept(r.Context(), chi.URLParam(r, "id"), userID, strings.TrimSpace(req.PayerPoolID))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newPaymentView(payment))
}

type rejectMoneyRequestRequest struct {
	Reason *string `json:"reason,omitempty"`
}

func (h *Handler) RejectMoneyRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req rejectMoneyRequestRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.Requests.Reject(r.Context(), chi.URLParam(r, "id"), userID, req.Reason); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CancelMoneyRequest(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.Requests.Cancel(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
