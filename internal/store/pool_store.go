package store

import (
	"context"

	"bankledger/internal/models"
)

type PoolStore struct {
	db DB
}

const poolColumns = `id, account_id, name, target_percentage, balance, is_credit_pool, is_locked, created_at, updated_at`

func NewPoolStore(db DB) *PoolStore {
	return &PoolStore{db: db}
}

func (s *PoolStore) Create(ctx context.Context, tx Execer, pool models.Pool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pools (id, account_id, name, target_percentage, balance, is_credit_pool, is_locked)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, pool.ID, pool.AccountID, pool.Name, pool.TargetPercentage, pool.Balance, pool.IsCreditPool, pool.IsLocked)
	return err
}

func (s *PoolStore) GetByID(ctx context.Context, poolID string) (models.Pool, error) {
	var row models.Pool
	err := s.db.GetContext(ctx, &row, `SELECT `+poolColumns+` FROM pools WHERE id = $1`, poolID)
	if err != nil {
		return models.Pool{}, err
	}
	return row, nil
}

func (s *PoolStore) ListByAccount(ctx context.Context, accountID string) ([]models.Pool, error) {
	var rows []models.Pool
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+poolColumns+`
		FROM pools
		WHERE account_id = $1
		ORDER BY is_credit_pool DESC, created_at, id
	`, accountID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// GetCreditPoolID is a plain read used to learn which pool row to lock.
func (s *PoolStore) GetCreditPoolID(ctx context.Context, tx Getter, accountID string) (string, error) {
	var id string
	err := tx.GetContext(ctx, &id, `
		SELECT id
		FROM pools
		WHERE account_id = $1 AND is_credit_pool = TRUE
	`, accountID)
	return id, err
}

func (s *PoolStore) GetForUpdate(ctx context.Context, tx Getter, poolID string) (models.Pool, error) {
	var row models.Pool
	err := tx.GetContext(ctx, &row, `
		SELECT `+poolColumns+`
		FROM pools
		WHERE id = $1
		FOR UPDATE
	`, poolID)
	if err != nil {
		return models.Pool{}, err
	}
	return row, nil
}

// ListByAccountForUpdate locks every pool of the account in id order.
func (s *PoolStore) ListByAccountForUpdate(ctx context.Context, tx Selecter, accountID string) ([]models.Pool, error) {
	var rows []models.Pool
	err := tx.SelectContext(ctx, &rows, `
		SELECT `+poolColumns+`
		FROM pools
		WHERE account_id = $1
		ORDER BY id
		FOR UPDATE
	`, accountID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PoolStore) AdjustBalance(ctx context.Context, tx Execer, poolID string, delta int64) error {
	return expectOneRow(tx.ExecContext(ctx, `
		UPDATE pools
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
	`, delta, poolID))
}

func (s *PoolStore) SetLocked(ctx context.Context, tx Execer, poolID string, locked bool) error {
	return expectOneRow(tx.ExecContext(ctx, `
		UPDATE pools
		SET is_locked = $1, updated_at = NOW()
		WHERE id = $2
	`, locked, poolID))
}
