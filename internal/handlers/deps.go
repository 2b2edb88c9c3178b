package handlers

import (
	"context"

	"github.com/shopspring/decimal"

	"bankledger/internal/models"
	"bankledger/internal/recurrence"
	"bankledger/internal/services"
)

type AccountService interface {
	RegisterUser(ctx context.Context, fullName, phone string) (models.User, error)
	OpenAccount(ctx context.Context, userID string, kind models.AccountKind, accountName string) (models.Account, error)
	Deactivate(ctx context.Context, userID, accountID string) error
	ListAccounts(ctx context.Context, userID string) ([]models.Account, error)
	CreatePool(ctx context.Context, userID, accountID, name string, target decimal.Decimal) (models.Pool, error)
	SetPoolLocked(ctx context.Context, userID, poolID string, locked bool) error
	Redistribute(ctx context.Context, userID, accountID string) ([]models.Payment, error)
	CheckIntegrity(ctx context.Context) ([]models.BalanceMismatch, error)
}

type TransferService interface {
	InitiateTransfer(ctx context.Context, req services.TransferRequest) (models.Payment, error)
}

type MoneyRequestService interface {
	Create(ctx context.Context, in services.CreateMoneyRequestInput) (models.MoneyRequest, error)
	Accept(ctx context.Context, requestID, payerID, payerPoolID string) (models.Payment, error)
	Reject(ctx context.Context, requestID, payerID string, reason *string) error
	Cancel(ctx context.Context, requestID, requesterID string) error
	List(ctx context.Context, userID string, limit, offset int) ([]models.MoneyRequest, error)
}

type AutomationService interface {
	Create(ctx context.Context, in services.CreateAutomationInput) (models.Automation, error)
	UpdateSchedule(ctx context.Context, ownerID, automationID string, rule recurrence.Rule) (models.Automation, error)
	SetActive(ctx context.Context, ownerID, automationID string, active bool) (models.Automation, error)
	List(ctx context.Context, ownerID string) ([]models.Automation, error)
	Get(ctx context.Context, ownerID, automationID string) (models.Automation, error)
}

type QueryService interface {
	GetPoolsForAccount(ctx context.Context, userID, accountID string) ([]models.Pool, error)
	GetTransactionsForAccount(ctx context.Context, userID, accountID string, limit, offset int) ([]models.Transaction, error)
	GetPaymentByReference(ctx context.Context, userID, reference string) (models.Payment, error)
}

// Services are the core operations the HTTP adapter exposes.
type Services struct {
	Accounts    AccountService
	Transfers   TransferService
	Requests    MoneyRequestService
	Automations AutomationService
	Queries     QueryService
}
