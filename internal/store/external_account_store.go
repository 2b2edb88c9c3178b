package store

import (
	"context"

	"bankledger/internal/models"
)

type ExternalAccountStore struct {
	db DB
}

func NewExternalAccountStore(db DB) *ExternalAccountStore {
	return &ExternalAccountStore{db: db}
}

// FindOrCreate returns the external account keyed by number and bank,
// creating it on first use. A non-empty name refreshes the stored one.
func (s *ExternalAccountStore) FindOrCreate(ctx context.Context, tx Getter, id, accountNumber, bankName, accountName string) (models.ExternalAccount, error) {
	var row models.ExternalAccount
	err := tx.GetContext(ctx, &row, `
		INSERT INTO external_accounts (id, account_number, bank_name, account_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT external_accounts_number_bank_key
		DO UPDATE SET account_name = COALESCE(NULLIF(EXCLUDED.account_name, ''), external_accounts.account_name)
		RETURNING id, account_number, bank_name, account_name, created_at
	`, id, accountNumber, bankName, accountName)
	if err != nil {
		return models.ExternalAccount{}, err
	}
	return row, nil
}

func (s *ExternalAccountStore) GetByID(ctx context.Context, tx Getter, externalID string) (models.ExternalAccount, error) {
	var row models.ExternalAccount
	err := tx.GetContext(ctx, &row, `
		SELECT id, account_number, bank_name, account_name, created_at
		FROM external_accounts
		WHERE id = $1
	`, externalID)
	if err != nil {
		return models.ExternalAccount{}, err
	}
	return row, nil
}
