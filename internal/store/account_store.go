package store

import (
	"context"
	"database/sql"
	"errors"

	"bankledger/internal/models"
)

type AccountStore struct {
	db DB
}

const accountColumns = `id, user_id, kind, account_number, account_name, bank_name, balance, is_active, created_at, updated_at`

func NewAccountStore(db DB) *AccountStore {
	return &AccountStore{db: db}
}

// Create inserts the account unless its number is already taken, in which
// case it reports false so the caller can draw another number.
func (s *AccountStore) Create(ctx context.Context, tx Getter, account models.Account) (bool, error) {
	var id string
	err := tx.GetContext(ctx, &id, `
		INSERT INTO accounts (id, user_id, kind, account_number, account_name, bank_name, balance, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT ON CONSTRAINT accounts_account_number_key DO NOTHING
		RETURNING id
	`, account.ID, account.UserID, account.Kind, account.AccountNumber, account.AccountName, account.BankName, account.Balance, account.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *AccountStore) GetByID(ctx context.Context, accountID string) (models.Account, error) {
	var row models.Account
	err := s.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		return models.Account{}, err
	}
	return row, nil
}

func (s *AccountStore) GetByUserAndKind(ctx context.Context, userID string, kind models.AccountKind) (models.Account, error) {
	var row models.Account
	err := s.db.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE user_id = $1 AND kind = $2
	`, userID, kind)
	if err != nil {
		return models.Account{}, err
	}
	return row, nil
}

func (s *AccountStore) ListByUser(ctx context.Context, userID string) ([]models.Account, error) {
	var rows []models.Account
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE user_id = $1
		ORDER BY kind
	`, userID)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *AccountStore) GetForUpdate(ctx context.Context, tx Getter, accountID string) (models.Account, error) {
	var row models.Account
	err := tx.GetContext(ctx, &row, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`, accountID)
	if err != nil {
		return models.Account{}, err
	}
	return row, nil
}

func (s *AccountStore) AdjustBalance(ctx context.Context, tx Execer, accountID string, delta int64) error {
	return expectOneRow(tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
	`, delta, accountID))
}

func (s *AccountStore) SetActive(ctx context.Context, tx Execer, accountID string, active bool) error {
	return expectOneRow(tx.ExecContext(ctx, `
		UPDATE accounts
		SET is_active = $1, updated_at = NOW()
		WHERE id = $2
	`, active, accountID))
}

// ListBalanceMismatches returns accounts whose cached balance differs from
// the sum of their pools.
func (s *AccountStore) ListBalanceMismatches(ctx context.Context) ([]models.BalanceMismatch, error) {
	var rows []models.BalanceMismatch
	err := s.db.SelectContext(ctx, &rows, `
		SELECT a.id AS account_id,
		       a.balance AS cached_balance,
		       COALESCE(SUM(p.balance), 0) AS pool_total
		FROM accounts a
		LEFT JOIN pools p ON p.account_id = a.id
		GROUP BY a.id, a.balance
		HAVING a.balance <> COALESCE(SUM(p.balance), 0)
		ORDER BY a.id
	`)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
