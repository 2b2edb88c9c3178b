package store

import (
	"context"

	"bankledger/internal/models"
)

type UserStore struct {
	db DB
}

func NewUserStore(db DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, tx Execer, user models.User) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, full_name, phone)
		VALUES ($1, $2, $3)
	`, user.ID, user.FullName, user.Phone)
	return err
}

func (s *UserStore) GetByID(ctx context.Context, userID string) (models.User, error) {
	var row models.User
	err := s.db.GetContext(ctx, &row, `SELECT id, full_name, phone, created_at FROM users WHERE id = $1`, userID)
	if err != nil {
		return models.User{}, err
	}
	return row, nil
}

// GetByPhone expects the canonical XXX-XXX-XXXX form.
func (s *UserStore) GetByPhone(ctx context.Context, phone string) (models.User, error) {
	var row models.User
	err := s.db.GetContext(ctx, &row, `SELECT id, full_name, phone, created_at FROM users WHERE phone = $1`, phone)
	if err != nil {
		return models.User{}, err
	}
	return row, nil
}
