package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"bankledger/internal/models"
	"bankledger/internal/services"
)

type automationView struct {
	models.Automation
	Amount     string        `json:"amount,omitempty"`
	Percentage string        `json:"percentage,omitempty"`
	Schedule   scheduleInput `json:"schedule"`
}

func newAutomationView(a models.Automation) automationView {
	view := automationView{Automation: a, Schedule: scheduleView(a.Rule)}
	if a.Amount.IsPercentage() {
		view.Percentage = a.Amount.Percentage.Decimal.String()
	} else {
		view.Amount = a.Amount.String()
	}
	return view
}

type createAutomationRequest struct {
	Name         string        `json:"name"`
	Type         string        `json:"type"`
	SourcePoolID string        `json:"source_pool_id"`
	Schedule     scheduleInput `json:"schedule"`
	amountInput
	target
}

func (h *Handler) CreateAutomation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req createAutomationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	kind := models.AutomationType(strings.TrimSpace(req.Type))
	if kind != models.AutomationPoolTransfer && kind != models.AutomationBankTransfer {
		respondError(w, http.StatusBadRequest, "invalid_automation_type")
		return
	}
	amount, err := req.amountInput.parse()
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	rule, err := req.Schedule.parse()
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	dest, recipient, external := req.target.parse()
	created, err := h.svc.Automations.Create(r.Context(), services.CreateAutomationInput{
		OwnerID:      userID,
		Name:         req.Name,
		Type:         kind,
		SourcePoolID: strings.TrimSpace(req.SourcePoolID),
		Destination:  dest,
		Recipient:    recipient,
		External:     external,
		Amount:       amount,
		Rule:         rule,
	})
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newAutomationView(created))
}

func (h *Handler) ListAutomations(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	automations, err := h.svc.Automations.List(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	views := make([]automationView, 0, len(automations))
	for _, a := range automations {
		views = append(views, newAutomationView(a))
	}
	respondJSON(w, http.StatusOK, map[string]any{"automations": views})
}

func (h *Handler) GetAutomation(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	automation, err := h.svc.Automations.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newAutomationView(automation))
}

func (h *Handler) UpdateAutomationSchedule(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req scheduleInput
	if !decodeJSON(w, r, &req) {
		return
	}
	rule, err := req.parse()
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	updated, err := h.svc.Automations.UpdateSchedule(r.Context(), userID, chi.URLParam(r, "id"), rule)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newAutomationView(updated))
}

func (h *Handler) PauseAutomation(w http.ResponseWriter, r *http.Request) {
	h.setAutomationActive(w, r, false)
}

func (h *Handler) ResumeAutomation(w http.ResponseWriter, r *http.Request) {
	h.setAutomationActive(w, r, true)
}

func (h *Handler) setAutomationActive(w http.ResponseWriter, r *http.Request, active bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	updated, err := h.svc.Automations.SetActive(r.Context(), userID, chi.URLParam(r, "id"), active)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newAutomationView(updated))
}
