package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"bankledger/internal/db"
	"bankledger/internal/models"
	"bankledger/internal/money"
)

const DefaultMoneyRequestTTL = 48 * time.Hour

type MoneyRequestService struct {
	txRunner  db.TxRunner
	stores    Stores
	transfers *TransferService
	events    events
	clock     Clock
	waker     Waker
	ttl       time.Duration
}

func NewMoneyRequestService(txRunner db.TxRunner, stores Stores, transfers *TransferService, clock Clock, waker Waker, ttl time.Duration) *MoneyRequestService {
	if clock == nil {
		clock = SystemClock{}
	}
	if waker == nil {
		waker = noopWaker{}
	}
	if ttl <= 0 {
		ttl = DefaultMoneyRequestTTL
	}
	return &MoneyRequestService{
		txRunner:  txRunner,
		stores:    stores,
		transfers: transfers,
		events:    events{outbox: stores.Outbox, clock: clock},
		clock:     clock,
		waker:     waker,
		ttl:       ttl,
	}
}

type CreateMoneyRequestInput struct {
	RequesterID   string
	RequesterKind models.AccountKind
	PayerPhone    string
	PayerKind     models.AccountKind
	Amount        int64
	Note          string
}

func (s *MoneyRequestService) Create(ctx context.Context, in CreateMoneyRequestInput) (models.MoneyRequest, error) {
	if in.Amount <= 0 {
		return models.MoneyRequest{}, ErrInvalidAmount
	}
	if !in.RequesterKind.Valid() {
		return models.MoneyRequest{}, ErrInvalidDestination
	}
	payerAccount, err := s.transfers.ResolveRecipientAccount(ctx, in.PayerPhone, in.PayerKind)
	if err != nil {
		return models.MoneyRequest{}, err
	}
	if payerAccount.UserID == in.RequesterID {
		return models.MoneyRequest{}, ErrSelfRequest
	}
	if _, err := s.stores.Accounts.GetByUserAndKind(ctx, in.RequesterID, in.RequesterKind); err != nil {
		return models.MoneyRequest{}, orNotFound(err, ErrAccountNotFound)
	}

	now := s.clock.Now()
	req := models.MoneyRequest{
		ID:            uuid.NewString(),
		RequesterID:   in.RequesterID,
		RequesterKind: in.RequesterKind,
		PayerID:       payerAccount.UserID,
		PayerKind:     in.PayerKind,
		Amount:        in.Amount,
		Note:          strings.TrimSpace(in.Note),
		Status:        models.RequestPending,
		ExpiresAt:     now.Add(s.ttl),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.stores.MoneyRequests.Create(ctx, tx, req); err != nil {
			return err
		}
		text := fmt.Sprintf("You have a new money request for %s", money.Display(req.Amount))
		if err := s.events.notify(ctx, tx, req.PayerID, models.NotifyMoneyRequestReceived, text, req.ID, requestMetadata(req)); err != nil {
			return err
		}
		return s.invalidateParties(ctx, tx, req)
	})
	if err != nil {
		return models.MoneyRequest{}, err
	}
	s.waker.Wake()
	return req, nil
}

// Accept pays the request from payerPoolID and marks it accepted in the same
// transaction. A failed transfer leaves the request pending.
func (s *MoneyRequestService) Accept(ctx context.Context, requestID, payerID, payerPoolID string) (models.Payment, error) {
	var payment models.Payment
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		req, err := s.lockActionable(ctx, tx, requestID, func(r models.MoneyRequest) bool { return r.PayerID == payerID })
		if err != nil {
			return err
		}
		requesterAccount, err := s.stores.Accounts.GetByUserAndKind(ctx, req.RequesterID, req.RequesterKind)
		if err != nil {
			return orNotFound(err, ErrAccountNotFound)
		}
		narration := req.Note
		if narration == "" {
			narration = "Money request"
		}
		payment, err = s.transfers.ExecuteTx(ctx, tx, TransferRequest{
			InitiatorID:  payerID,
			SourcePoolID: payerPoolID,
			Destination:  models.ToAccount(requesterAccount.ID),
			Amount:       money.Absolute(req.Amount),
			Kind:         models.PaymentMoneyRequest,
			Narration:    narration,
		})
		if err != nil {
			return err
		}
		if err := s.stores.MoneyRequests.Resolve(ctx, tx, req.ID, models.RequestAccepted, nil, &payment.ID); err != nil {
			return orNotFound(err, ErrRequestAlreadyProcessed)
		}
		text := fmt.Sprintf("Money request for %s was accepted. Ref: %s", money.Display(req.Amount), payment.Reference)
		for _, userID := range []string{req.RequesterID, req.PayerID} {
			if err := s.events.notify(ctx, tx, userID, models.NotifyMoneyRequestAccepted, text, req.ID, requestMetadata(req)); err != nil {
				return err
			}
		}
		return s.invalidateParties(ctx, tx, req)
	})
	if err != nil {
		return models.Payment{}, err
	}
	s.waker.Wake()
	return payment, nil
}

func (s *MoneyRequestService) Reject(ctx context.Context, requestID, payerID string, reason *string) error {
	if reason != nil {
		trimmed := strings.TrimSpace(*reason)
		reason = &trimmed
		if trimmed == "" {
			reason = nil
		}
	}
	return s.resolve(ctx, requestID, models.RequestRejected, reason,
		func(r models.MoneyRequest) bool { return r.PayerID == payerID },
		func(r models.MoneyRequest) (string, models.NotificationType, string) {
			text := fmt.Sprintf("Your money request for %s was rejected", money.Display(r.Amount))
			if reason != nil {
				text += ": " + *reason
			}
			return r.RequesterID, models.NotifyMoneyRequestRejected, text
		})
}

func (s *MoneyRequestService) Cancel(ctx context.Context, requestID, requesterID string) error {
	return s.resolve(ctx, requestID, models.RequestCancelled, nil,
		func(r models.MoneyRequest) bool { return r.RequesterID == requesterID },
		func(r models.MoneyRequest) (string, models.NotificationType, string) {
			return r.PayerID, models.NotifyMoneyRequestCancelled, fmt.Sprintf("A money request for %s was cancelled", money.Display(r.Amount))
		})
}

// List returns requests the user sent or received, newest first, with
// expired pending requests reported as expired.
func (s *MoneyRequestService) List(ctx context.Context, userID string, limit, offset int) ([]models.MoneyRequest, error) {
	limit, offset = page(limit, offset)
	requests, err := s.stores.MoneyRequests.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	for i := range requests {
		requests[i].Status = requests[i].DisplayStatus(now)
	}
	return requests, nil
}

type noticeFunc func(models.MoneyRequest) (userID string, kind models.NotificationType, text string)

func (s *MoneyRequestService) resolve(ctx context.Context, requestID string, status models.MoneyRequestStatus, reason *string, party func(models.MoneyRequest) bool, notice noticeFunc) error {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		req, err := s.lockActionable(ctx, tx, requestID, party)
		if err != nil {
			return err
		}
		if err := s.stores.MoneyRequests.Resolve(ctx, tx, req.ID, status, reason, nil); err != nil {
			return orNotFound(err, ErrRequestAlreadyProcessed)
		}
		userID, kind, text := notice(req)
		if err := s.events.notify(ctx, tx, userID, kind, text, req.ID, requestMetadata(req)); err != nil {
			return err
		}
		return s.invalidateParties(ctx, tx, req)
	})
	if err != nil {
		return err
	}
	s.waker.Wake()
	return nil
}

// lockActionable loads the request for update and checks it is still
// pending and unexpired. Requests the caller is not party to are reported
// as missing.
func (s *MoneyRequestService) lockActionable(ctx context.Context, tx *sqlx.Tx, requestID string, party func(models.MoneyRequest) bool) (models.MoneyRequest, error) {
	req, err := s.stores.MoneyRequests.GetForUpdate(ctx, tx, requestID)
	if err != nil {
		return models.MoneyRequest{}, orNotFound(err, ErrRequestNotFound)
	}
	if !party(req) {
		return models.MoneyRequest{}, ErrRequestNotFound
	}
	if req.Status.Terminal() {
		return models.MoneyRequest{}, ErrRequestAlreadyProcessed
	}
	if !req.Actionable(s.clock.Now()) {
		return models.MoneyRequest{}, ErrRequestExpired
	}
	return req, nil
}

func (s *MoneyRequestService) invalidateParties(ctx context.Context, tx *sqlx.Tx, req models.MoneyRequest) error {
	for _, userID := range []string{req.RequesterID, req.PayerID} {
		if err := s.events.invalidate(ctx, tx, userID, models.CacheMoneyRequest); err != nil {
			return err
		}
	}
	return nil
}

func requestMetadata(req models.MoneyRequest) map[string]string {
	return map[string]string{
		"request_id": req.ID,
		"amount":     money.FormatMinor(req.Amount),
	}
}

func page(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
