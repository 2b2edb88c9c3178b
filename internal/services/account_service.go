package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"bankledger/internal/db"
	"bankledger/internal/models"
	"bankledger/internal/money"
	"bankledger/internal/validator"
)

const (
	BankName              = "BAM Bank"
	CreditPoolName        = "Main"
	accountNumberDraws    = 5
	accountKindConstraint = "accounts_user_id_kind_key"
	userPhoneConstraint   = "users_phone_key"
)

var hundredPercent = decimal.NewFromInt(100)

// OpeningBalances are credited to new accounts at creation, in kobo.
type OpeningBalances struct {
	Personal int64
	Business int64
}

func (o OpeningBalances) For(kind models.AccountKind) int64 {
	if kind == models.AccountBusiness {
		return o.Business
	}
	return o.Personal
}

type AccountService struct {
	txRunner         db.TxRunner
	stores           Stores
	transfers        *TransferService
	events           events
	clock            Clock
	waker            Waker
	opening          OpeningBalances
	newAccountNumber func() string
}

func NewAccountService(txRunner db.TxRunner, stores Stores, transfers *TransferService, clock Clock, waker Waker, opening OpeningBalances) *AccountService {
	if clock == nil {
		clock = SystemClock{}
	}
	if waker == nil {
		waker = noopWaker{}
	}
	return &AccountService{
		txRunner:         txRunner,
		stores:           stores,
		transfers:        transfers,
		events:           events{outbox: stores.Outbox, clock: clock},
		clock:            clock,
		waker:            waker,
		opening:          opening,
		newAccountNumber: randomAccountNumber,
	}
}

func (s *AccountService) RegisterUser(ctx context.Context, fullName, phone string) (models.User, error) {
	name := strings.TrimSpace(fullName)
	if err := validator.ValidateName(name); err != nil {
		return models.User{}, err
	}
	canonical, err := validator.CanonicalPhone(phone)
	if err != nil {
		return models.User{}, err
	}
	user := models.User{ID: uuid.NewString(), FullName: name, Phone: canonical, CreatedAt: s.clock.Now()}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		return s.stores.Users.Create(ctx, tx, user)
	})
	if db.IsUniqueViolation(err, userPhoneConstraint) {
		return models.User{}, ErrUserExists
	}
	if err != nil {
		return models.User{}, err
	}
	return user, nil
}

// OpenAccount creates the user's account of the given kind together with
// its credit pool. Personal account numbers are the phone's last ten
// digits; business numbers are drawn at random until one is free.
func (s *AccountService) OpenAccount(ctx context.Context, userID string, kind models.AccountKind, accountName string) (models.Account, error) {
	if !kind.Valid() {
		return models.Account{}, validator.ErrInvalidAccountKind
	}
	user, err := s.stores.Users.GetByID(ctx, userID)
	if err != nil {
		return models.Account{}, orNotFound(err, ErrUserNotFound)
	}
	name := strings.TrimSpace(accountName)
	if name == "" {
		name = user.FullName
	}
	if err := validator.ValidateName(name); err != nil {
		return models.Account{}, err
	}

	opening := s.opening.For(kind)
	now := s.clock.Now()
	account := models.Account{
		ID:          uuid.NewString(),
		UserID:      user.ID,
		Kind:        kind,
		AccountName: name,
		BankName:    BankName,
		Balance:     opening,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.insertAccount(ctx, tx, &account, user); err != nil {
			return err
		}
		if err := s.stores.Pools.Create(ctx, tx, models.Pool{
			ID:               uuid.NewString(),
			AccountID:        account.ID,
			Name:             CreditPoolName,
			TargetPercentage: decimal.Zero,
			Balance:          opening,
			IsCreditPool:     true,
			CreatedAt:        now,
			UpdatedAt:        now,
		}); err != nil {
			return err
		}
		return s.events.invalidate(ctx, tx, user.ID, models.CacheAccount, models.CachePool)
	})
	if db.IsUniqueViolation(err, accountKindConstraint) {
		return models.Account{}, ErrAccountExists
	}
	if err != nil {
		return models.Account{}, err
	}
	s.waker.Wake()
	return account, nil
}

func (s *AccountService) insertAccount(ctx context.Context, tx *sqlx.Tx, account *models.Account, user models.User) error {
	if account.Kind == models.AccountPersonal {
		digits, err := validator.PhoneDigits(user.Phone)
		if err != nil {
			return err
		}
		account.AccountNumber = digits
		inserted, err := s.stores.Accounts.Create(ctx, tx, *account)
		if err != nil {
			return err
		}
		if !inserted {
			return ErrAccountExists
		}
		return nil
	}
	for draw := 0; draw < accountNumberDraws; draw++ {
		account.AccountNumber = s.newAccountNumber()
		inserted, err := s.stores.Accounts.Create(ctx, tx, *account)
		if err != nil {
			return err
		}
		if inserted {
			return nil
		}
	}
	return fmt.Errorf("no free account number after %d draws", accountNumberDraws)
}

// Deactivate stops the account from sending or receiving money.
func (s *AccountService) Deactivate(ctx context.Context, userID, accountID string) error {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		account, err := s.stores.Accounts.GetForUpdate(ctx, tx, accountID)
		if err != nil {
			return orNotFound(err, ErrAccountNotFound)
		}
		if account.UserID != userID {
			return ErrAccountNotFound
		}
		if err := s.stores.Accounts.SetActive(ctx, tx, account.ID, false); err != nil {
			return orNotFound(err, ErrAccountNotFound)
		}
		return s.events.invalidate(ctx, tx, userID, models.CacheAccount)
	})
	if err != nil {
		return err
	}
	s.waker.Wake()
	return nil
}

func (s *AccountService) ListAccounts(ctx context.Context, userID string) ([]models.Account, error) {
	return s.stores.Accounts.ListByUser(ctx, userID)
}

func (s *AccountService) CreatePool(ctx context.Context, userID, accountID, name string, target decimal.Decimal) (models.Pool, error) {
	name = strings.TrimSpace(name)
	if err := validator.ValidateName(name); err != nil {
		return models.Pool{}, err
	}
	if target.IsNegative() || target.GreaterThan(hundredPercent) {
		return models.Pool{}, ErrInvalidTargets
	}
	account, err := s.ownedAccount(ctx, userID, accountID)
	if err != nil {
		return models.Pool{}, err
	}
	now := s.clock.Now()
	pool := models.Pool{
		ID:               uuid.NewString(),
		AccountID:        account.ID,
		Name:             name,
		TargetPercentage: target,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.stores.Pools.Create(ctx, tx, pool); err != nil {
			return err
		}
		return s.events.invalidate(ctx, tx, userID, models.CachePool)
	})
	if err != nil {
		return models.Pool{}, err
	}
	s.waker.Wake()
	return pool, nil
}

// SetPoolLocked toggles whether a pool may send money and take part in
// redistribution.
func (s *AccountService) SetPoolLocked(ctx context.Context, userID, poolID string, locked bool) error {
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		pool, err := s.stores.Pools.GetForUpdate(ctx, tx, poolID)
		if err != nil {
			return orNotFound(err, ErrPoolNotFound)
		}
		if _, err := s.ownedAccount(ctx, userID, pool.AccountID); err != nil {
			return ErrUnauthorizedPool
		}
		if err := s.stores.Pools.SetLocked(ctx, tx, pool.ID, locked); err != nil {
			return orNotFound(err, ErrPoolNotFound)
		}
		return s.events.invalidate(ctx, tx, userID, models.CachePool)
	})
	if err != nil {
		return err
	}
	s.waker.Wake()
	return nil
}

// Redistribute splits the credit pool's balance across the account's
// unlocked pools by their target percentages. Amounts round down and the
// remainder stays in the credit pool.
func (s *AccountService) Redistribute(ctx context.Context, userID, accountID string) ([]models.Payment, error) {
	if _, err := s.ownedAccount(ctx, userID, accountID); err != nil {
		return nil, err
	}
	var payments []models.Payment
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		payments = nil
		pools, err := s.stores.Pools.ListByAccountForUpdate(ctx, tx, accountID)
		if err != nil {
			return err
		}
		var credit *models.Pool
		var targets []models.Pool
		total := decimal.Zero
		for i := range pools {
			switch {
			case pools[i].IsCreditPool:
				credit = &pools[i]
			case !pools[i].IsLocked && pools[i].TargetPercentage.IsPositive():
				targets = append(targets, pools[i])
				total = total.Add(pools[i].TargetPercentage)
			}
		}
		if credit == nil {
			return ErrCreditPoolMissing
		}
		if total.GreaterThan(hundredPercent) {
			return ErrInvalidTargets
		}
		base := credit.Balance
		for _, target := range targets {
			amount := money.Percent(target.TargetPercentage).Resolve(base)
			if amount <= 0 {
				continue
			}
			payment, err := s.transfers.ExecuteTx(ctx, tx, TransferRequest{
				InitiatorID:  userID,
				SourcePoolID: credit.ID,
				Destination:  models.ToPool(target.ID),
				Amount:       money.Absolute(amount),
				Kind:         models.PaymentTransfer,
				Narration:    "Redistribution to " + target.Name,
			})
			if err != nil {
				return fmt.Errorf("redistribute to pool %s: %w", target.ID, err)
			}
			payments = append(payments, payment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.waker.Wake()
	return payments, nil
}

// CheckIntegrity lists accounts whose balance differs from their pool sum.
func (s *AccountService) CheckIntegrity(ctx context.Context) ([]models.BalanceMismatch, error) {
	return s.stores.Accounts.ListBalanceMismatches(ctx)
}

func (s *AccountService) ownedAccount(ctx context.Context, userID, accountID string) (models.Account, error) {
	account, err := s.stores.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return models.Account{}, orNotFound(err, ErrAccountNotFound)
	}
	if account.UserID != userID {
		return models.Account{}, ErrAccountNotFound
	}
	return account, nil
}

func randomAccountNumber() string {
	return fmt.Sprintf("%010d", 1_000_000_000+rand.Int64N(9_000_000_000))
}
