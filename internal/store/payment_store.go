package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bankledger/internal/models"
)

type PaymentStore struct {
	db DB
}

const paymentColumns = `id, reference, kind, status, amount, initiated_by, source_type, from_account_id, from_pool_id,
	from_external_account_id, destination_type, to_account_id, to_pool_id, to_external_account_id, narration,
	created_at, completed_at`

func NewPaymentStore(db DB) *PaymentStore {
	return &PaymentStore{db: db}
}

// Create inserts a payment. It reports false without error when the
// reference is already taken, leaving the transaction usable so the caller
// can retry with a fresh reference.
func (s *PaymentStore) Create(ctx context.Context, tx Getter, p models.Payment) (bool, error) {
	var id string
	err := tx.GetContext(ctx, &id, `
		INSERT INTO payments (id, reference, kind, status, amount, initiated_by, source_type, from_account_id, from_pool_id,
			from_external_account_id, destination_type, to_account_id, to_pool_id, to_external_account_id, narration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT ON CONSTRAINT payments_reference_key DO NOTHING
		RETURNING id
	`, p.ID, p.Reference, p.Kind, p.Status, p.Amount, p.InitiatedBy, p.SourceType, p.FromAccountID, p.FromPoolID,
		p.FromExternalID, p.DestinationType, p.ToAccountID, p.ToPoolID, p.ToExternalAccountID, p.Narration)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkCompleted performs the only status transition the ledger owns.
func (s *PaymentStore) MarkCompleted(ctx context.Context, tx Execer, paymentID string, at time.Time) error {
	return expectOneRow(tx.ExecContext(ctx, `
		UPDATE payments
		SET status = 'completed', completed_at = $1
		WHERE id = $2 AND status = 'pending'
	`, at, paymentID))
}

func (s *PaymentStore) GetByReference(ctx context.Context, reference string) (models.Payment, error) {
	var row models.Payment
	err := s.db.GetContext(ctx, &row, `SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, reference)
	if err != nil {
		return models.Payment{}, err
	}
	return row, nil
}

func (s *PaymentStore) GetByID(ctx context.Context, paymentID string) (models.Payment, error) {
	var row models.Payment
	err := s.db.GetContext(ctx, &row, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, paymentID)
	if err != nil {
		return models.Payment{}, err
	}
	return row, nil
}
