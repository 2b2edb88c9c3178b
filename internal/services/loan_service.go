package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"bankledger/internal/db"
	"bankledger/internal/models"
	"bankledger/internal/money"
)

// LoanService pays approved loans out of the operator's lending pool into
// the borrower's credit pool.
type LoanService struct {
	txRunner      db.TxRunner
	stores        Stores
	transfers     *TransferService
	events        events
	waker         Waker
	lendingPoolID string
}

func NewLoanService(txRunner db.TxRunner, stores Stores, transfers *TransferService, clock Clock, waker Waker, lendingPoolID string) *LoanService {
	if clock == nil {
		clock = SystemClock{}
	}
	if waker == nil {
		waker = noopWaker{}
	}
	return &LoanService{
		txRunner:      txRunner,
		stores:        stores,
		transfers:     transfers,
		events:        events{outbox: stores.Outbox, clock: clock},
		waker:         waker,
		lendingPoolID: strings.TrimSpace(lendingPoolID),
	}
}

type LoanDisbursement struct {
	BorrowerAccountID string
	Amount            int64
	Purpose           string
}

// Disburse moves in.Amount from the lending pool to the borrower account
// as a loan payment and tells the borrower. The payment, its ledger lines
// and the notification commit together.
func (s *LoanService) Disburse(ctx context.Context, in LoanDisbursement) (models.Payment, error) {
	if s.lendingPoolID == "" {
		return models.Payment{}, ErrLendingPoolUnset
	}
	if in.Amount <= 0 {
		return models.Payment{}, ErrInvalidAmount
	}
	borrower, err := s.stores.Accounts.GetByID(ctx, in.BorrowerAccountID)
	if err != nil {
		return models.Payment{}, orNotFound(err, ErrAccountNotFound)
	}
	lendingPool, err := s.stores.Pools.GetByID(ctx, s.lendingPoolID)
	if err != nil {
		return models.Payment{}, orNotFound(err, ErrPoolNotFound)
	}
	if lendingPool.AccountID == borrower.ID {
		return models.Payment{}, fmt.Errorf("%w: borrower owns the lending pool", ErrInvalidDestination)
	}
	lender, err := s.stores.Accounts.GetByID(ctx, lendingPool.AccountID)
	if err != nil {
		return models.Payment{}, integrity(err)
	}

	narration := "Loan disbursement"
	if purpose := strings.TrimSpace(in.Purpose); purpose != "" {
		narration += " - " + purpose
	}
	var payment models.Payment
	err = s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		payment, err = s.transfers.ExecuteTx(ctx, tx, TransferRequest{
			InitiatorID:  lender.UserID,
			SourcePoolID: lendingPool.ID,
			Destination:  models.ToAccount(borrower.ID),
			Amount:       money.Absolute(in.Amount),
			Kind:         models.PaymentLoan,
			Narration:    narration,
		})
		if err != nil {
			return err
		}
		text := fmt.Sprintf("Your loan of %s has been disbursed. Ref: %s", money.Display(payment.Amount), payment.Reference)
		return s.events.notify(ctx, tx, borrower.UserID, models.NotifyLoanDisbursed, text, payment.ID, map[string]string{
			"payment_id": payment.ID,
			"reference":  payment.Reference,
			"amount":     money.FormatMinor(payment.Amount),
			"account_id": borrower.ID,
		})
	})
	if err != nil {
		return models.Payment{}, err
	}
	s.waker.Wake()
	return payment, nil
}
