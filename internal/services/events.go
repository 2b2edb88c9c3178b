package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"bankledger/internal/models"
	"bankledger/internal/store"
)

var balanceViews = []models.CacheNamespace{models.CacheAccount, models.CachePool, models.CacheTransaction}

// events writes notification and cache-invalidation messages to the outbox
// inside the caller's transaction.
type events struct {
	outbox OutboxStore
	clock  Clock
}

func (e events) notify(ctx context.Context, tx store.Execer, userID string, kind models.NotificationType, text, referenceID string, metadata map[string]string) error {
	payload, err := json.Marshal(models.Notification{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        kind,
		Text:        text,
		ReferenceID: referenceID,
		Metadata:    metadata,
		CreatedAt:   e.clock.Now(),
	})
	if err != nil {
		return err
	}
	return e.outbox.Enqueue(ctx, tx, models.TopicNotification, payload)
}

func (e events) invalidate(ctx context.Context, tx store.Execer, userID string, namespaces ...models.CacheNamespace) error {
	payload, err := json.Marshal(models.CacheInvalidation{UserID: userID, Namespaces: namespaces})
	if err != nil {
		return err
	}
	return e.outbox.Enqueue(ctx, tx, models.TopicCacheInvalidation, payload)
}
