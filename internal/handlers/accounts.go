package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"bankledger/internal/validator"
)

type registerRequest struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
}

func (h *Handler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	user, err := h.svc.Accounts.RegisterUser(r.Context(), req.FullName, req.Phone)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

type openAccountRequest struct {
	Kind        string `json:"kind"`
	AccountName string `json:"account_name"`
}

func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req openAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind, err := validator.ParseAccountKind(req.Kind)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	account, err := h.svc.Accounts.OpenAccount(r.Context(), userID, kind, req.AccountName)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, account)
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	accounts, err := h.svc.Accounts.ListAccounts(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (h *Handler) DeactivateAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.Accounts.Deactivate(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListPools(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	pools, err := h.svc.Queries.GetPoolsForAccount(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"pools": pools})
}

type createPoolRequest struct {
	Name             string `json:"name"`
	TargetPercentage string `json:"target_percentage"`
}

func (h *Handler) CreatePool(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createPoolRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	target := decimal.Zero
	if raw := strings.TrimSpace(req.TargetPercentage); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_targets")
			return
		}
		target = parsed
	}
	pool, err := h.svc.Accounts.CreatePool(r.Context(), userID, chi.URLParam(r, "id"), req.Name, target)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, pool)
}

func (h *Handler) LockPool(w http.ResponseWriter, r *http.Request) {
	h.setPoolLocked(w, r, true)
}

func (h *Handler) UnlockPool(w http.ResponseWriter, r *http.Request) {
	h.setPoolLocked(w, r, false)
}

func (h *Handler) setPoolLocked(w http.ResponseWriter, r *http.Request, locked bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.svc.Accounts.SetPoolLocked(r.Context(), userID, chi.URLParam(r, "id"), locked); err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Redistribute(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	payments, err := h.svc.Accounts.Redistribute(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	views := make([]paymentView, 0, len(payments))
	for _, payment := range payments {
		views = append(views, newPaymentView(payment))
	}
	respondJSON(w, http.StatusOK, map[string]any{"payments": views})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, offset := pageParams(r)
	entries, err := h.svc.Queries.GetTransactionsForAccount(r.Context(), userID, chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"transactions": entries})
}

// SelfCheck reports accounts whose cached balance differs from the sum of
// their pools.
func (h *Handler) SelfCheck(w http.ResponseWriter, r *http.Request) {
	mismatches, err := h.svc.Accounts.CheckIntegrity(r.Context())
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":         len(mismatches) == 0,
		"mismatches": mismatches,
	})
}
