package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"bankledger/internal/db"
	"bankledger/internal/logging"
	"bankledger/internal/models"
	"bankledger/internal/money"
	"bankledger/internal/recurrence"
	"bankledger/internal/store"
)

const defaultDueBatch = 100

type AutomationService struct {
	txRunner  db.TxRunner
	stores    Stores
	transfers *TransferService
	events    events
	clock     Clock
	waker     Waker
	logger    *zap.Logger
	batchSize int
}

func NewAutomationService(txRunner db.TxRunner, stores Stores, transfers *TransferService, clock Clock, waker Waker, logger *zap.Logger) *AutomationService {
	if clock == nil {
		clock = SystemClock{}
	}
	if waker == nil {
		waker = noopWaker{}
	}
	return &AutomationService{
		txRunner:  txRunner,
		stores:    stores,
		transfers: transfers,
		events:    events{outbox: stores.Outbox, clock: clock},
		clock:     clock,
		waker:     waker,
		logger:    logging.OrNop(logger),
		batchSize: defaultDueBatch,
	}
}

type CreateAutomationInput struct {
	OwnerID      string
	Name         string
	Type         models.AutomationType
	SourcePoolID string
	Destination  models.Destination
	Recipient    *RecipientRef
	External     *ExternalRef
	Amount       money.Amount
	Rule         recurrence.Rule
}

func (s *AutomationService) Create(ctx context.Context, in CreateAutomationInput) (models.Automation, error) {
	if err := in.Amount.Validate(); err != nil {
		return models.Automation{}, ErrInvalidAmount
	}
	if in.Rule.IsZero() {
		return models.Automation{}, ErrInvalidSchedule
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = string(in.Type)
	}
	if _, err := s.ownedPool(ctx, in.OwnerID, in.SourcePoolID); err != nil {
		return models.Automation{}, err
	}

	now := s.clock.Now()
	automation := models.Automation{
		ID:         uuid.NewString(),
		OwnerID:    in.OwnerID,
		Name:       name,
		Type:       in.Type,
		SourcePool: in.SourcePoolID,
		Amount:     in.Amount,
		Rule:       in.Rule,
		IsActive:   true,
		NextRun:    in.Rule.Next(now),
		CreatedAt:  now,
	}
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		dest, err := s.resolveDestination(ctx, tx, in)
		if err != nil {
			return err
		}
		automation.Destination = dest
		if err := s.stores.Automations.Create(ctx, tx, automation); err != nil {
			return err
		}
		return s.events.invalidate(ctx, tx, in.OwnerID, models.CacheAutomation)
	})
	if err != nil {
		return models.Automation{}, err
	}
	s.waker.Wake()
	return automation, nil
}

// resolveDestination checks the destination matches the automation type.
// Pool transfers stay inside the owner's pools; bank transfers go to an
// internal account or an external one.
func (s *AutomationService) resolveDestination(ctx context.Context, tx *sqlx.Tx, in CreateAutomationInput) (models.Destination, error) {
	switch in.Type {
	case models.AutomationPoolTransfer:
		if in.Recipient != nil || in.External != nil || in.Destination.Kind != models.DestinationPool {
			return models.Destination{}, ErrInvalidDestination
		}
		if in.Destination.ID == in.SourcePoolID {
			return models.Destination{}, ErrSamePool
		}
		if _, err := s.ownedPool(ctx, in.OwnerID, in.Destination.ID); err != nil {
			return models.Destination{}, err
		}
		return in.Destination, nil
	case models.AutomationBankTransfer:
		switch {
		case in.Recipient != nil && in.External == nil && in.Destination == (models.Destination{}):
			account, err := s.transfers.ResolveRecipientAccount(ctx, in.Recipient.Phone, in.Recipient.Kind)
			if err != nil {
				return models.Destination{}, err
			}
			return models.ToAccount(account.ID), nil
		case in.External != nil && in.Recipient == nil && in.Destination == (models.Destination{}):
			ext, err := s.transfers.FindOrCreateExternal(ctx, tx, *in.External)
			if err != nil {
				return models.Destination{}, err
			}
			return models.ToExternal(ext.ID), nil
		case in.Recipient == nil && in.External == nil && in.Destination.Kind == models.DestinationAccount:
			if _, err := s.stores.Accounts.GetByID(ctx, in.Destination.ID); err != nil {
				return models.Destination{}, orNotFound(err, ErrRecipientNotFound)
			}
			return in.Destination, nil
		}
	}
	return models.Destination{}, ErrInvalidDestination
}

func (s *AutomationService) ownedPool(ctx context.Context, ownerID, poolID string) (models.Pool, error) {
	pool, err := s.stores.Pools.GetByID(ctx, poolID)
	if err != nil {
		return models.Pool{}, orNotFound(err, ErrPoolNotFound)
	}
	account, err := s.stores.Accounts.GetByID(ctx, pool.AccountID)
	if err != nil {
		return models.Pool{}, orNotFound(err, ErrAccountNotFound)
	}
	if account.UserID != ownerID {
		return models.Pool{}, ErrUnauthorizedPool
	}
	return pool, nil
}

// UpdateSchedule replaces the recurrence rule and recomputes next_run from
// now.
func (s *AutomationService) UpdateSchedule(ctx context.Context, ownerID, automationID string, rule recurrence.Rule) (models.Automation, error) {
	if rule.IsZero() {
		return models.Automation{}, ErrInvalidSchedule
	}
	var updated models.Automation
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		automation, err := s.ownedForUpdate(ctx, tx, ownerID, automationID)
		if err != nil {
			return err
		}
		automation.Rule = rule
		automation.NextRun = rule.Next(s.clock.Now())
		if err := s.stores.Automations.UpdateSchedule(ctx, tx, automation.ID, rule, automation.NextRun); err != nil {
			return err
		}
		updated = automation
		return s.events.invalidate(ctx, tx, ownerID, models.CacheAutomation)
	})
	if err != nil {
		return models.Automation{}, err
	}
	s.waker.Wake()
	return updated, nil
}

// SetActive pauses or resumes an automation. Resuming schedules the next
// run from now so missed cycles are not replayed.
func (s *AutomationService) SetActive(ctx context.Context, ownerID, automationID string, active bool) (models.Automation, error) {
	var updated models.Automation
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		automation, err := s.ownedForUpdate(ctx, tx, ownerID, automationID)
		if err != nil {
			return err
		}
		if active && !automation.IsActive {
			automation.NextRun = automation.Rule.Next(s.clock.Now())
		}
		automation.IsActive = active
		if err := s.stores.Automations.SetActive(ctx, tx, automation.ID, active, automation.NextRun); err != nil {
			return err
		}
		updated = automation
		return s.events.invalidate(ctx, tx, ownerID, models.CacheAutomation)
	})
	if err != nil {
		return models.Automation{}, err
	}
	s.waker.Wake()
	return updated, nil
}

func (s *AutomationService) List(ctx context.Context, ownerID string) ([]models.Automation, error) {
	return s.stores.Automations.ListByOwner(ctx, ownerID)
}

func (s *AutomationService) Get(ctx context.Context, ownerID, automationID string) (models.Automation, error) {
	automation, err := s.stores.Automations.GetByID(ctx, automationID)
	if err != nil {
		return models.Automation{}, orNotFound(err, ErrAutomationNotFound)
	}
	if automation.OwnerID != ownerID {
		return models.Automation{}, ErrAutomationNotFound
	}
	return automation, nil
}

func (s *AutomationService) ownedForUpdate(ctx context.Context, tx *sqlx.Tx, ownerID, automationID string) (models.Automation, error) {
	automation, err := s.stores.Automations.GetForUpdate(ctx, tx, automationID)
	if err != nil {
		return models.Automation{}, orNotFound(err, ErrAutomationNotFound)
	}
	if automation.OwnerID != ownerID {
		return models.Automation{}, ErrAutomationNotFound
	}
	return automation, nil
}

// RunSummary counts the outcomes of one RunDue pass.
type RunSummary struct {
	Due      int
	Executed int
	Skipped  int
	Failed   int
}

type runOutcome int

const (
	runExecuted runOutcome = iota
	runSkipped
	runFailed
)

// RunDue executes every active automation whose next_run is at or before
// now, one at a time, each in its own transaction. Due rows are paged in
// (next_run, id) order so automations that stay due after a skipped cycle
// cannot crowd out the rest. Failures are logged and counted; only a
// failure to list due automations is returned. Once ctx is cancelled no
// further automation is started, but the one in flight runs to completion.
func (s *AutomationService) RunDue(ctx context.Context, now time.Time) (RunSummary, error) {
	var (
		summary RunSummary
		cursor  store.DueRef
	)
	work := context.WithoutCancel(ctx)
	for ctx.Err() == nil {
		page, err := s.stores.Automations.ListDue(ctx, now, cursor, s.batchSize)
		if err != nil {
			return summary, fmt.Errorf("list due automations: %w", err)
		}
		summary.Due += len(page)
		for _, ref := range page {
			if ctx.Err() != nil {
				break
			}
			switch s.runOne(work, ref.ID, now) {
			case runExecuted:
				summary.Executed++
			case runSkipped:
				summary.Skipped++
			default:
				summary.Failed++
			}
		}
		if len(page) < s.batchSize {
			break
		}
		cursor = page[len(page)-1]
	}
	if ctx.Err() != nil {
		s.logger.Info("automation run interrupted", zap.Int("due", summary.Due), zap.Int("handled", summary.handled()))
	}
	if summary.Executed > 0 {
		s.waker.Wake()
	}
	return summary, nil
}

func (r RunSummary) handled() int {
	return r.Executed + r.Skipped + r.Failed
}

func (s *AutomationService) runOne(ctx context.Context, automationID string, now time.Time) (outcome runOutcome) {
	logger := s.logger.With(zap.String("automation_id", automationID))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("automation panicked", zap.Any("panic", r))
			outcome = runFailed
		}
	}()

	var (
		claimed bool
		payment models.Payment
	)
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		claimed = false
		automation, err := s.stores.Automations.ClaimDue(ctx, tx, automationID, now)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		claimed = true
		payment, err = s.transfers.ExecuteTx(ctx, tx, TransferRequest{
			InitiatorID:  automation.OwnerID,
			SourcePoolID: automation.SourcePool,
			Destination:  automation.Destination,
			Amount:       automation.Amount,
			Kind:         automation.Type.PaymentKind(),
			Narration:    automation.Name,
		})
		if err != nil {
			return err
		}
		if err := s.stores.Automations.MarkRun(ctx, tx, automation.ID, now, automation.Rule.Next(now)); err != nil {
			return err
		}
		text := fmt.Sprintf("Automation %q moved %s. Ref: %s", automation.Name, money.Display(payment.Amount), payment.Reference)
		metadata := map[string]string{"automation_id": automation.ID, "payment_id": payment.ID, "reference": payment.Reference}
		if err := s.events.notify(ctx, tx, automation.OwnerID, models.NotifyAutomationExecuted, text, automation.ID, metadata); err != nil {
			return err
		}
		return s.events.invalidate(ctx, tx, automation.OwnerID, models.CacheAutomation)
	})

	switch {
	case err == nil && !claimed:
		logger.Debug("automation no longer due")
		return runSkipped
	case err == nil:
		logger.Info("automation executed", zap.String("reference", payment.Reference), zap.Int64("amount", payment.Amount))
		return runExecuted
	case errors.Is(err, ErrInsufficientFunds):
		logger.Info("automation skipped", zap.Error(err))
		return runSkipped
	case permanentFailure(err):
		logger.Warn("automation failed, advancing schedule", zap.Error(err))
		s.advance(ctx, logger, automationID, now)
		return runFailed
	default:
		logger.Error("automation failed", zap.Error(err))
		return runFailed
	}
}

// advance moves next_run past a cycle that can never succeed as configured.
func (s *AutomationService) advance(ctx context.Context, logger *zap.Logger, automationID string, now time.Time) {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		automation, err := s.stores.Automations.ClaimDue(ctx, tx, automationID, now)
		if err != nil {
			return err
		}
		return s.stores.Automations.SetNextRun(ctx, tx, automation.ID, automation.Rule.Next(now))
	})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		logger.Error("advance automation schedule", zap.Error(err))
	}
}

func permanentFailure(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrPoolLocked, ErrAccountInactive, ErrInvalidDestination,
		ErrUnauthorizedPool, ErrInvalidAmount, ErrSamePool,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
