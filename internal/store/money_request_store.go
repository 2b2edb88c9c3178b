package store

import (
	"context"

	"bankledger/internal/models"
)

type MoneyRequestStore struct {
	db DB
}

const moneyRequestColumns = `id, requester_id, requester_kind, payer_id, payer_kind, amount, note, status, rejection_reason,
	payment_id, expires_at, created_at, updated_at`

func NewMoneyRequestStore(db DB) *MoneyRequestStore {
	return &MoneyRequestStore{db: db}
}

func (s *MoneyRequestStore) Create(ctx context.Context, tx Execer, req models.MoneyRequest) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO money_requests (id, requester_id, requester_kind, payer_id, payer_kind, amount, note, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, req.ID, req.RequesterID, req.RequesterKind, req.PayerID, req.PayerKind, req.Amount, req.Note, req.Status, req.ExpiresAt)
	return err
}

func (s *MoneyRequestStore) GetByID(ctx context.Context, requestID string) (models.MoneyRequest, error) {
	var row models.MoneyRequest
	err := s.db.GetContext(ctx, &row, `SELECT `+moneyRequestColumns+` FROM money_requests WHERE id = $1`, requestID)
	if err != nil {
		return models.MoneyRequest{}, err
	}
	return row, nil
}

func (s *MoneyRequestStore) GetForUpdate(ctx context.Context, tx Getter, requestID string) (models.MoneyRequest, error) {
	var row models.MoneyRequest
	err := tx.GetContext(ctx, &row, `
		SELECT `+moneyRequestColumns+`
		FROM money_requests
		WHERE id = $1
		FOR UPDATE
	`, requestID)
	if err != nil {
		return models.MoneyRequest{}, err
	}
	return row, nil
}

// Resolve moves a pending request to a terminal status. The status guard
// in the WHERE clause keeps terminal states sticky even without a lock.
func (s *MoneyRequestStore) Resolve(ctx context.Context, tx Execer, requestID string, status models.MoneyRequestStatus, reason, paymentID *string) error {
	return expectOneRow(tx.ExecContext(ctx, `
		UPDATE money_requests
		SET status = $1, rejection_reason = $2, payment_id = $3, updated_at = NOW()
		WHERE id = $4 AND status = 'pending'
	`, status, reason, paymentID, requestID))
}

// ListByUser returns requests the user sent or received, newest first.
func (s *MoneyRequestStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.MoneyRequest, error) {
	var rows []models.MoneyRequest
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+moneyRequestColumns+`
		FROM money_requests
		WHERE requester_id = $1 OR payer_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
