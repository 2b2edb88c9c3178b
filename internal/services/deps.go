package services

import (
	"context"
	"time"

	"bankledger/internal/models"
	"bankledger/internal/recurrence"
	"bankledger/internal/store"
)

type UserStore interface {
	Create(ctx context.Context, tx store.Execer, user models.User) error
	GetByID(ctx context.Context, userID string) (models.User, error)
	GetByPhone(ctx context.Context, phone string) (models.User, error)
}

type AccountStore interface {
	Create(ctx context.Context, tx store.Getter, account models.Account) (bool, error)
	GetByID(ctx context.Context, accountID string) (models.Account, error)
	GetByUserAndKind(ctx context.Context, userID string, kind models.AccountKind) (models.Account, error)
	ListByUser(ctx context.Context, userID string) ([]models.Account, error)
	GetForUpdate(ctx context.Context, tx store.Getter, accountID string) (models.Account, error)
	AdjustBalance(ctx context.Context, tx store.Execer, accountID string, delta int64) error
	SetActive(ctx context.Context, tx store.Execer, accountID string, active bool) error
	ListBalanceMismatches(ctx context.Context) ([]models.BalanceMismatch, error)
}

type PoolStore interface {
	Create(ctx context.Context, tx store.Execer, pool models.Pool) error
	GetByID(ctx context.Context, poolID string) (models.Pool, error)
	ListByAccount(ctx context.Context, accountID string) ([]models.Pool, error)
	GetCreditPoolID(ctx context.Context, tx store.Getter, accountID string) (string, error)
	GetForUpdate(ctx context.Context, tx store.Getter, poolID string) (models.Pool, error)
	ListByAccountForUpdate(ctx context.Context, tx store.Selecter, accountID string) ([]models.Pool, error)
	AdjustBalance(ctx context.Context, tx store.Execer, poolID string, delta int64) error
	SetLocked(ctx context.Context, tx store.Execer, poolID string, locked bool) error
}

type ExternalAccountStore interface {
	FindOrCreate(ctx context.Context, tx store.Getter, id, accountNumber, bankName, accountName string) (models.ExternalAccount, error)
	GetByID(ctx context.Context, tx store.Getter, externalID string) (models.ExternalAccount, error)
}

type PaymentStore interface {
	Create(ctx context.Context, tx store.Getter, payment models.Payment) (bool, error)
	MarkCompleted(ctx context.Context, tx store.Execer, paymentID string, at time.Time) error
	GetByReference(ctx context.Context, reference string) (models.Payment, error)
}

type TransactionStore interface {
	InsertEntries(ctx context.Context, tx store.Execer, entries []models.Transaction) error
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error)
}

type MoneyRequestStore interface {
	Create(ctx context.Context, tx store.Execer, req models.MoneyRequest) error
	GetForUpdate(ctx context.Context, tx store.Getter, requestID string) (models.MoneyRequest, error)
	Resolve(ctx context.Context, tx store.Execer, requestID string, status models.MoneyRequestStatus, reason, paymentID *string) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.MoneyRequest, error)
}

type AutomationStore interface {
	Create(ctx context.Context, tx store.Execer, automation models.Automation) error
	GetByID(ctx context.Context, automationID string) (models.Automation, error)
	GetForUpdate(ctx context.Context, tx store.Getter, automationID string) (models.Automation, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Automation, error)
	ListDue(ctx context.Context, now time.Time, after store.DueRef, limit int) ([]store.DueRef, error)
	ClaimDue(ctx context.Context, tx store.Getter, automationID string, now time.Time) (models.Automation, error)
	MarkRun(ctx context.Context, tx store.Execer, automationID string, lastRun, nextRun time.Time) error
	SetNextRun(ctx context.Context, tx store.Execer, automationID string, nextRun time.Time) error
	UpdateSchedule(ctx context.Context, tx store.Execer, automationID string, rule recurrence.Rule, nextRun time.Time) error
	SetActive(ctx context.Context, tx store.Execer, automationID string, active bool, nextRun time.Time) error
}

type OutboxStore interface {
	Enqueue(ctx context.Context, tx store.Execer, topic models.OutboxTopic, payload []byte) error
}

// Stores groups the ledger store handles shared by the services.
type Stores struct {
	Users         UserStore
	Accounts      AccountStore
	Pools         PoolStore
	Externals     ExternalAccountStore
	Payments      PaymentStore
	Transactions  TransactionStore
	MoneyRequests MoneyRequestStore
	Automations   AutomationStore
	Outbox        OutboxStore
}
