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
	"bankledger/internal/store"
	"bankledger/internal/validator"
)

const referenceAttempts = 3

type TransferService struct {
	txRunner     db.TxRunner
	stores       Stores
	engine       BalanceEngine
	events       events
	clock        Clock
	waker        Waker
	newReference func(models.PaymentKind) string
}

func NewTransferService(txRunner db.TxRunner, stores Stores, clock Clock, waker Waker) *TransferService {
	if clock == nil {
		clock = SystemClock{}
	}
	if waker == nil {
		waker = noopWaker{}
	}
	return &TransferService{
		txRunner:     txRunner,
		stores:       stores,
		engine:       NewBalanceEngine(stores.Accounts, stores.Pools),
		events:       events{outbox: stores.Outbox, clock: clock},
		clock:        clock,
		waker:        waker,
		newReference: newReference,
	}
}

// RecipientRef names an internal account by its owner's phone number.
type RecipientRef struct {
	Phone string
	Kind  models.AccountKind
}

// ExternalRef names an account held outside the ledger.
type ExternalRef struct {
	AccountNumber string
	BankName      string
	AccountName   string
}

// TransferRequest moves money out of SourcePoolID. Exactly one of
// Destination, Recipient and External must be set.
type TransferRequest struct {
	InitiatorID  string
	SourcePoolID string
	Destination  models.Destination
	Recipient    *RecipientRef
	External     *ExternalRef
	Amount       money.Amount
	Kind         models.PaymentKind
	Narration    string
}

// InitiateTransfer runs a transfer in its own transaction.
func (s *TransferService) InitiateTransfer(ctx context.Context, req TransferRequest) (models.Payment, error) {
	var payment models.Payment
	err := s.txRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		payment, err = s.ExecuteTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return models.Payment{}, err
	}
	s.waker.Wake()
	return payment, nil
}

// ExecuteTx performs a transfer inside the caller's transaction so other
// workflows can commit it together with their own state changes.
func (s *TransferService) ExecuteTx(ctx context.Context, tx store.Tx, req TransferRequest) (models.Payment, error) {
	if req.Kind == "" {
		req.Kind = models.PaymentTransfer
	}
	if !req.Kind.Valid() {
		return models.Payment{}, fmt.Errorf("unknown payment kind %q", req.Kind)
	}
	dest, err := s.resolveDestination(ctx, tx, req)
	if err != nil {
		return models.Payment{}, err
	}
	prepared, err := s.engine.Prepare(ctx, tx, Movement{
		OwnerID:      req.InitiatorID,
		SourcePoolID: req.SourcePoolID,
		Destination:  dest,
		Amount:       req.Amount,
	})
	if err != nil {
		return models.Payment{}, err
	}

	now := s.clock.Now()
	payment := newPayment(req, dest, prepared, now)
	if err := s.insertPayment(ctx, tx, &payment); err != nil {
		return models.Payment{}, err
	}
	if entries := ledgerEntries(payment, prepared); len(entries) > 0 {
		if err := s.stores.Transactions.InsertEntries(ctx, tx, entries); err != nil {
			return models.Payment{}, err
		}
	}
	if err := s.engine.Apply(ctx, tx, prepared); err != nil {
		return models.Payment{}, err
	}
	if err := s.stores.Payments.MarkCompleted(ctx, tx, payment.ID, now); err != nil {
		return models.Payment{}, integrity(err)
	}
	payment.Status = models.PaymentCompleted
	payment.CompletedAt = &now

	if err := s.emitTransferEvents(ctx, tx, payment, prepared); err != nil {
		return models.Payment{}, err
	}
	return payment, nil
}

// ResolveRecipientAccount finds the account of the given kind owned by the
// user registered under phone.
func (s *TransferService) ResolveRecipientAccount(ctx context.Context, phone string, kind models.AccountKind) (models.Account, error) {
	canonical, err := validator.CanonicalPhone(phone)
	if err != nil {
		return models.Account{}, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	if !kind.Valid() {
		return models.Account{}, fmt.Errorf("%w: %v", ErrInvalidDestination, validator.ErrInvalidAccountKind)
	}
	user, err := s.stores.Users.GetByPhone(ctx, canonical)
	if err != nil {
		return models.Account{}, orNotFound(err, ErrRecipientNotFound)
	}
	account, err := s.stores.Accounts.GetByUserAndKind(ctx, user.ID, kind)
	if err != nil {
		return models.Account{}, orNotFound(err, ErrRecipientNotFound)
	}
	return account, nil
}

// FindOrCreateExternal returns the external account row for ref, creating
// it on first use.
func (s *TransferService) FindOrCreateExternal(ctx context.Context, tx store.Getter, ref ExternalRef) (models.ExternalAccount, error) {
	if err := validator.ValidateAccountNumber(ref.AccountNumber); err != nil {
		return models.ExternalAccount{}, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	bank := strings.TrimSpace(ref.BankName)
	if bank == "" {
		return models.ExternalAccount{}, fmt.Errorf("%w: bank name is required", ErrInvalidDestination)
	}
	return s.stores.Externals.FindOrCreate(ctx, tx, uuid.NewString(), ref.AccountNumber, bank, strings.TrimSpace(ref.AccountName))
}

func (s *TransferService) resolveDestination(ctx context.Context, tx store.Tx, req TransferRequest) (models.Destination, error) {
	forms := 0
	if req.Destination != (models.Destination{}) {
		forms++
	}
	if req.Recipient != nil {
		forms++
	}
	if req.External != nil {
		forms++
	}
	if forms != 1 {
		return models.Destination{}, ErrInvalidDestination
	}

	switch {
	case req.Recipient != nil:
		account, err := s.ResolveRecipientAccount(ctx, req.Recipient.Phone, req.Recipient.Kind)
		if err != nil {
			return models.Destination{}, err
		}
		return models.ToAccount(account.ID), nil
	case req.External != nil:
		ext, err := s.FindOrCreateExternal(ctx, tx, *req.External)
		if err != nil {
			return models.Destination{}, err
		}
		return models.ToExternal(ext.ID), nil
	}

	if !req.Destination.Valid() {
		return models.Destination{}, ErrInvalidDestination
	}
	if req.Destination.Kind == models.DestinationExternalAccount {
		if _, err := s.stores.Externals.GetByID(ctx, tx, req.Destination.ID); err != nil {
			return models.Destination{}, orNotFound(err, ErrRecipientNotFound)
		}
	}
	return req.Destination, nil
}

// insertPayment stores the payment under a fresh reference, drawing a new
// one when the previous draw collided.
func (s *TransferService) insertPayment(ctx context.Context, tx store.Getter, payment *models.Payment) error {
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		payment.Reference = s.newReference(payment.Kind)
		inserted, err := s.stores.Payments.Create(ctx, tx, *payment)
		if err != nil {
			return err
		}
		if inserted {
			return nil
		}
	}
	return ErrDuplicateReference
}

func (s *TransferService) emitTransferEvents(ctx context.Context, tx store.Execer, payment models.Payment, p PreparedMovement) error {
	sender := p.SourceAccount.UserID
	if err := s.events.invalidate(ctx, tx, sender, balanceViews...); err != nil {
		return err
	}
	metadata := map[string]string{
		"payment_id": payment.ID,
		"reference":  payment.Reference,
		"amount":     money.FormatMinor(payment.Amount),
		"kind":       string(payment.Kind),
	}

	if !p.Internal() {
		text := fmt.Sprintf("You sent %s to an external account. Ref: %s", money.Display(payment.Amount), payment.Reference)
		return s.events.notify(ctx, tx, sender, models.NotifyPaymentSent, text, payment.ID, metadata)
	}
	recipient := p.DestAccount.UserID
	if recipient == sender {
		return nil
	}
	if err := s.events.invalidate(ctx, tx, recipient, balanceViews...); err != nil {
		return err
	}
	received := fmt.Sprintf("You received %s. Ref: %s", money.Display(payment.Amount), payment.Reference)
	if err := s.events.notify(ctx, tx, recipient, models.NotifyPaymentReceived, received, payment.ID, metadata); err != nil {
		return err
	}
	sent := fmt.Sprintf("You sent %s to %s. Ref: %s", money.Display(payment.Amount), p.DestAccount.AccountName, payment.Reference)
	return s.events.notify(ctx, tx, sender, models.NotifyPaymentSent, sent, payment.ID, metadata)
}

func newPayment(req TransferRequest, dest models.Destination, p PreparedMovement, now time.Time) models.Payment {
	payment := models.Payment{
		ID:            uuid.NewString(),
		Kind:          req.Kind,
		Status:        models.PaymentPending,
		Amount:        p.Amount,
		InitiatedBy:   req.InitiatorID,
		SourceType:    models.SourceInternal,
		FromAccountID: stringPtr(p.SourceAccount.ID),
		FromPoolID:    stringPtr(p.SourcePool.ID),
		Narration:     strings.TrimSpace(req.Narration),
		CreatedAt:     now,
	}
	if p.Internal() {
		payment.DestinationType = models.SourceInternal
		payment.ToAccountID = stringPtr(p.DestAccount.ID)
		payment.ToPoolID = stringPtr(p.DestPool.ID)
	} else {
		payment.DestinationType = models.SourceExternal
		payment.ToExternalAccountID = stringPtr(dest.ID)
	}
	return payment
}

// ledgerEntries returns the per-account lines of a payment. Moves inside
// one account produce none; money leaving the ledger has only a debit.
func ledgerEntries(payment models.Payment, p PreparedMovement) []models.Transaction {
	if p.SameAccount() {
		return nil
	}
	entries := []models.Transaction{{
		ID:        uuid.NewString(),
		PaymentID: payment.ID,
		AccountID: p.SourceAccount.ID,
		PoolID:    stringPtr(p.SourcePool.ID),
		EntryType: models.EntryDebit,
		Amount:    payment.Amount,
		Reference: payment.Reference,
		Tag:       string(payment.Kind),
		CreatedAt: payment.CreatedAt,
	}}
	if p.Internal() {
		entries = append(entries, models.Transaction{
			ID:        uuid.NewString(),
			PaymentID: payment.ID,
			AccountID: p.DestAccount.ID,
			PoolID:    stringPtr(p.DestPool.ID),
			EntryType: models.EntryCredit,
			Amount:    payment.Amount,
			Reference: payment.Reference,
			Tag:       string(payment.Kind),
			CreatedAt: payment.CreatedAt,
		})
	}
	return entries
}

// newReference draws "<PREFIX>-<8 hex>" from a random UUID.
func newReference(kind models.PaymentKind) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return kind.ReferencePrefix() + "-" + strings.ToUpper(raw[:8])
}

func stringPtr(value string) *string {
	return &value
}
