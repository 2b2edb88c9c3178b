package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"bankledger/internal/models"
	"bankledger/internal/money"
	"bankledger/internal/services"
)

type transferRequest struct {
	SourcePoolID string `json:"source_pool_id"`
	Narration    string `json:"narration"`
	amountInput
	target
}

// paymentView adds the naira rendering of the amount for clients that
// display it directly.
type paymentView struct {
	models.Payment
	AmountDisplay string `json:"amount_display"`
}

func newPaymentView(payment models.Payment) paymentView {
	return paymentView{Payment: payment, AmountDisplay: money.Display(payment.Amount)}
}

func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := req.amountInput.parse()
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	dest, recipient, external := req.target.parse()
	payment, err := h.svc.Transfers.InitiateTransfer(r.Context(), services.TransferRequest{
		InitiatorID:  userID,
		SourcePoolID: strings.TrimSpace(req.SourcePoolID),
		Destination:  dest,
		Recipient:    recipient,
		External:     external,
		Amount:       amount,
		Kind:         models.PaymentTransfer,
		Narration:    strings.TrimSpace(req.Narration),
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newPaymentView(payment))
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	payment, err := h.svc.Queries.GetPaymentByReference(r.Context(), userID, chi.URLParam(r, "reference"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newPaymentView(payment))
}
