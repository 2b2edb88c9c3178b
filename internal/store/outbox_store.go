package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"bankledger/internal/models"
)

type OutboxStore struct {
	db DB
}

func NewOutboxStore(db DB) *OutboxStore {
	return &OutboxStore{db: db}
}

// Enqueue writes a message inside the caller's transaction so it becomes
// visible to the dispatcher only if the ledger change commits.
func (s *OutboxStore) Enqueue(ctx context.Context, tx Execer, topic models.OutboxTopic, payload []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox (id, topic, payload)
		VALUES ($1, $2, $3)
	`, uuid.NewString(), topic, payload)
	return err
}

// Claim leases up to limit deliverable messages until leaseUntil. Rows in
// processing whose lease ran out are reclaimed, which covers a dispatcher
// that died mid-delivery.
func (s *OutboxStore) Claim(ctx context.Context, now, leaseUntil time.Time, limit int) ([]models.OutboxMessage, error) {
	var rows []models.OutboxMessage
	err := s.db.SelectContext(ctx, &rows, `
		UPDATE outbox
		SET status = 'processing', attempts = attempts + 1, available_at = $2, updated_at = NOW()
		WHERE id IN (
			SELECT id
			FROM outbox
			WHERE status IN ('pending', 'processing') AND available_at <= $1
			ORDER BY available_at, created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, topic, payload, status, attempts, last_error, available_at, created_at
	`, now, leaseUntil, limit)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET status = 'delivered', last_error = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	return err
}

func (s *OutboxStore) Reschedule(ctx context.Context, id string, availableAt time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET status = 'pending', available_at = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3
	`, availableAt, lastError, id)
	return err
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string, lastError string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET status = 'failed', last_error = $1, updated_at = NOW()
		WHERE id = $2
	`, lastError, id)
	return err
}
