package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"bankledger/internal/config"
	"bankledger/internal/logging"
	"bankledger/internal/middleware"
	"bankledger/internal/websocket"
)

type Handler struct {
	cfg    config.Config
	logger *zap.Logger
	svc    Services
	hub    *websocket.Hub
}

func New(cfg config.Config, logger *zap.Logger, svc Services, hub *websocket.Hub) *Handler {
	return &Handler{
		cfg:    cfg,
		logger: logging.OrNop(logger),
		svc:    svc,
		hub:    hub,
	}
}

func (h *Handler) allowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(h.cfg.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.RequestLogger(h.logger))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Post("/users", h.RegisterUser)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))

		r.Get("/accounts", h.ListAccounts)
		r.Post("/accounts", h.OpenAccount)
		r.Get("/accounts/self-check", h.SelfCheck)
		r.Post("/accounts/{id}/deactivate", h.DeactivateAccount)
		r.Get("/accounts/{id}/pools", h.ListPools)
		r.Post("/accounts/{id}/pools", h.CreatePool)
		r.Post("/accounts/{id}/redistribute", h.Redistribute)
		r.Get("/accounts/{id}/transactions", h.ListTransactions)
		r.Post("/pools/{id}/lock", h.LockPool)
		r.Post("/pools/{id}/unlock", h.UnlockPool)

		r.Post("/transfers", h.Transfer)
		r.Get("/payments/{reference}", h.GetPayment)

		r.Route("/money-requests", func(r chi.Router) {
			r.Get("/", h.ListMoneyRequests)
			r.Post("/", h.CreateMoneyRequest)
			r.Post("/{id}/accept", h.AcceptMoneyRequest)
			r.Post("/{id}/reject", h.RejectMoneyRequest)
			r.Post("/{id}/cancel", h.CancelMoneyRequest)
		})

		r.Route("/automations", func(r chi.Router) {
			r.Get("/", h.ListAutomations)
			r.Post("/", h.CreateAutomation)
			r.Get("/{id}", h.GetAutomation)
			r.Put("/{id}/schedule", h.UpdateAutomationSchedule)
			r.Post("/{id}/pause", h.PauseAutomation)
			r.Post("/{id}/resume", h.ResumeAutomation)
		})

		r.Get("/ws/notifications", h.Notifications)
	})
	return router
}

func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	websocket.ServeWS(w, r, h.hub, websocket.Upgrader(h.allowedOrigins()), userID)
}
