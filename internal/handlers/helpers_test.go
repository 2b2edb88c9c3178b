package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"bankledger/internal/auth"
	"bankledger/internal/config"
	"bankledger/internal/models"
	"bankledger/internal/recurrence"
	"bankledger/internal/services"
	"bankledger/internal/websocket"
)

const testSecret = "secret"

type stubAccountService struct {
	registerFn       func(ctx context.Context, fullName, phone string) (models.User, error)
	openFn           func(ctx context.Context, userID string, kind models.AccountKind, accountName string) (models.Account, error)
	deactivateFn     func(ctx context.Context, userID, accountID string) error
	listFn           func(ctx context.Context, userID string) ([]models.Account, error)
	createPoolFn     func(ctx context.Context, userID, accountID, name string, target decimal.Decimal) (models.Pool, error)
	setPoolLockedFn  func(ctx context.Context, userID, poolID string, locked bool) error
	redistributeFn   func(ctx context.Context, userID, accountID string) ([]models.Payment, error)
	checkIntegrityFn func(ctx context.Context) ([]models.BalanceMismatch, error)
}

func (s stubAccountService) RegisterUser(ctx context.Context, fullName, phone string) (models.User, error) {
	if s.registerFn == nil {
		return models.User{}, nil
	}
	return s.registerFn(ctx, fullName, phone)
}

func (s stubAccountService) OpenAccount(ctx context.Context, userID string, kind models.AccountKind, accountName string) (models.Account, error) {
	if s.openFn == nil {
		return models.Account{}, nil
	}
	return s.openFn(ctx, userID, kind, accountName)
}

func (s stubAccountService) Deactivate(ctx context.Context, userID, accountID string) error {
	if s.deactivateFn == nil {
		return nil
	}
	return s.deactivateFn(ctx, userID, accountID)
}

func (s stubAccountService) ListAccounts(ctx context.Context, userID string) ([]models.Account, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, userID)
}

func (s stubAccountService) CreatePool(ctx context.Context, userID, accountID, name string, target decimal.Decimal) (models.Pool, error) {
	if s.createPoolFn == nil {
		return models.Pool{}, nil
	}
	return s.createPoolFn(ctx, userID, accountID, name, target)
}

func (s stubAccountService) SetPoolLocked(ctx context.Context, userID, poolID string, locked bool) error {
	if s.setPoolLockedFn == nil {
		return nil
	}
	return s.setPoolLockedFn(ctx, userID, poolID, locked)
}

func (s stubAccountService) Redistribute(ctx context.Context, userID, accountID string) ([]models.Payment, error) {
	if s.redistributeFn == nil {
		return nil, nil
	}
	return s.redistributeFn(ctx, userID, accountID)
}

func (s stubAccountService) CheckIntegrity(ctx context.Context) ([]models.BalanceMismatch, error) {
	if s.checkIntegrityFn == nil {
		return nil, nil
	}
	return s.checkIntegrityFn(ctx)
}

type stubTransferService struct {
	initiateFn func(ctx context.Context, req services.TransferRequest) (models.Payment, error)
}

func (s stubTransferService) InitiateTransfer(ctx context.Context, req services.TransferRequest) (models.Payment, error) {
	if s.initiateFn == nil {
		return models.Payment{}, nil
	}
	return s.initiateFn(ctx, req)
}

type stubMoneyRequestService struct {
	createFn func(ctx context.Context, in services.CreateMoneyRequestInput) (models.MoneyRequest, error)
	acceptFn func(ctx context.Context, requestID, payerID, payerPoolID string) (models.Payment, error)
	rejectFn func(ctx context.Context, requestID, payerID string, reason *string) error
	cancelFn func(ctx context.Context, requestID, requesterID string) error
	listFn   func(ctx context.Context, userID string, limit, offset int) ([]models.MoneyRequest, error)
}

func (s stubMoneyRequestService) Create(ctx context.Context, in services.CreateMoneyRequestInput) (models.MoneyRequest, error) {
	if s.createFn == nil {
		return models.MoneyRequest{}, nil
	}
	return s.createFn(ctx, in)
}

func (s stubMoneyRequestService) Accept(ctx context.Context, requestID, payerID, payerPoolID string) (models.Payment, error) {
	if s.acceptFn == nil {
		return models.Payment{}, nil
	}
	return s.acceptFn(ctx, requestID, payerID, payerPoolID)
}

func (s stubMoneyRequestService) Reject(ctx context.Context, requestID, payerID string, reason *string) error {
	if s.rejectFn == nil {
		return nil
	}
	return s.rejectFn(ctx, requestID, payerID, reason)
}

func (s stubMoneyRequestService) Cancel(ctx context.Context, requestID, requesterID string) error {
	if s.cancelFn == nil {
		return nil
	}
	return s.cancelFn(ctx, requestID, requesterID)
}

func (s stubMoneyRequestService) List(ctx context.Context, userID string, limit, offset int) ([]models.MoneyRequest, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, userID, limit, offset)
}

type stubAutomationService struct {
	createFn         func(ctx context.Context, in services.CreateAutomationInput) (models.Automation, error)
	updateScheduleFn func(ctx context.Context, ownerID, automationID string, rule recurrence.Rule) (models.Automation, error)
	setActiveFn      func(ctx context.Context, ownerID, automationID string, active bool) (models.Automation, error)
	listFn           func(ctx context.Context, ownerID string) ([]models.Automation, error)
	getFn            func(ctx context.Context, ownerID, automationID string) (models.Automation, error)
}

func (s stubAutomationService) Create(ctx context.Context, in services.CreateAutomationInput) (models.Automation, error) {
	if s.createFn == nil {
		return models.Automation{}, nil
	}
	return s.createFn(ctx, in)
}

func (s stubAutomationService) UpdateSchedule(ctx context.Context, ownerID, automationID string, rule recurrence.Rule) (models.Automation, error) {
	if s.updateScheduleFn == nil {
		return models.Automation{}, nil
	}
	return s.updateScheduleFn(ctx, ownerID, automationID, rule)
}

func (s stubAutomationService) SetActive(ctx context.Context, ownerID, automationID string, active bool) (models.Automation, error) {
	if s.setActiveFn == nil {
		return models.Automation{}, nil
	}
	return s.setActiveFn(ctx, ownerID, automationID, active)
}

func (s stubAutomationService) List(ctx context.Context, ownerID string) ([]models.Automation, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, ownerID)
}

func (s stubAutomationService) Get(ctx context.Context, ownerID, automationID string) (models.Automation, error) {
	if s.getFn == nil {
		return models.Automation{}, nil
	}
	return s.getFn(ctx, ownerID, automationID)
}

type stubQueryService struct {
	poolsFn        func(ctx context.Context, userID, accountID string) ([]models.Pool, error)
	transactionsFn func(ctx context.Context, userID, accountID string, limit, offset int) ([]models.Transaction, error)
	paymentFn      func(ctx context.Context, userID, reference string) (models.Payment, error)
}

func (s stubQueryService) GetPoolsForAccount(ctx context.Context, userID, accountID string) ([]models.Pool, error) {
	if s.poolsFn == nil {
		return nil, nil
	}
	return s.poolsFn(ctx, userID, accountID)
}

func (s stubQueryService) GetTransactionsForAccount(ctx context.Context, userID, accountID string, limit, offset int) ([]models.Transaction, error) {
	if s.transactionsFn == nil {
		return nil, nil
	}
	return s.transactionsFn(ctx, userID, accountID, limit, offset)
}

func (s stubQueryService) GetPaymentByReference(ctx context.Context, userID, reference string) (models.Payment, error) {
	if s.paymentFn == nil {
		return models.Payment{}, nil
	}
	return s.paymentFn(ctx, userID, reference)
}

// newTestRouter fills unset services with zero stubs and serves the full
// route table.
func newTestRouter(svc Services) http.Handler {
	if svc.Accounts == nil {
		svc.Accounts = stubAccountService{}
	}
	if svc.Transfers == nil {
		svc.Transfers = stubTransferService{}
	}
	if svc.Requests == nil {
		svc.Requests = stubMoneyRequestService{}
	}
	if svc.Automations == nil {
		svc.Automations = stubAutomationService{}
	}
	if svc.Queries == nil {
		svc.Queries = stubQueryService{}
	}
	cfg := config.Config{JWTSecret: testSecret, AllowedOrigins: "http://localhost:3000"}
	return New(cfg, nil, svc, websocket.NewHub()).Routes()
}

// do sends body as JSON on behalf of userID. An empty userID sends no token.
func do(t *testing.T, router http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := auth.GenerateToken(testSecret, userID, time.Minute)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&payload))
	return payload
}
