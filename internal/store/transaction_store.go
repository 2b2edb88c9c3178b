package store

import (
	"context"

	"bankledger/internal/models"
)

type TransactionStore struct {
	db DB
}

func NewTransactionStore(db DB) *TransactionStore {
	return &TransactionStore{db: db}
}

func (s *TransactionStore) InsertEntries(ctx context.Context, tx Execer, entries []models.Transaction) error {
	query := `
		INSERT INTO transactions (id, payment_id, account_id, pool_id, entry_type, amount, reference, tag)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, entry := range entries {
		if _, err := tx.ExecContext(ctx, query, entry.ID, entry.PaymentID, entry.AccountID, entry.PoolID, entry.EntryType, entry.Amount, entry.Reference, entry.Tag); err != nil {
			return err
		}
	}
	return nil
}

func (s *TransactionStore) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, payment_id, account_id, pool_id, entry_type, amount, reference, tag, created_at
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *TransactionStore) ListByPayment(ctx context.Context, paymentID string) ([]models.Transaction, error) {
	var rows []models.Transaction
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, payment_id, account_id, pool_id, entry_type, amount, reference, tag, created_at
		FROM transactions
		WHERE payment_id = $1
		ORDER BY entry_type DESC
	`, paymentID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
