package services

import (
	"context"
	"fmt"

	"bankledger/internal/models"
)

// ViewCache holds per-user read views. The outbox dispatcher retires a
// namespace when a cache_invalidation message names it. Get reports the
// generation it read under and Set writes under the generation it is given.
type ViewCache interface {
	Get(ctx context.Context, ns models.CacheNamespace, userID, name string, dst any) (hit bool, gen int64, err error)
	Set(ctx context.Context, ns models.CacheNamespace, userID, name string, gen int64, value any) error
}

// QueryService serves the read-only views of the ledger. Every read is
// scoped to the requesting user.
type QueryService struct {
	stores Stores
	cache  ViewCache
}

func NewQueryService(stores Stores) *QueryService {
	return &QueryService{stores: stores}
}

// WithCache serves pool and transaction views through c.
func (s *QueryService) WithCache(c ViewCache) *QueryService {
	s.cache = c
	return s
}

func (s *QueryService) GetPoolsForAccount(ctx context.Context, userID, accountID string) ([]models.Pool, error) {
	if err := s.ownsAccount(ctx, userID, accountID); err != nil {
		return nil, err
	}
	return cached(ctx, s.cache, models.CachePool, userID, accountID, func() ([]models.Pool, error) {
		return s.stores.Pools.ListByAccount(ctx, accountID)
	})
}

func (s *QueryService) GetTransactionsForAccount(ctx context.Context, userID, accountID string, limit, offset int) ([]models.Transaction, error) {
	if err := s.ownsAccount(ctx, userID, accountID); err != nil {
		return nil, err
	}
	limit, offset = page(limit, offset)
	name := fmt.Sprintf("%s:%d:%d", accountID, limit, offset)
	return cached(ctx, s.cache, models.CacheTransaction, userID, name, func() ([]models.Transaction, error) {
		return s.stores.Transactions.ListByAccount(ctx, accountID, limit, offset)
	})
}

// GetPaymentByReference returns a payment the user initiated or received.
func (s *QueryService) GetPaymentByReference(ctx context.Context, userID, reference string) (models.Payment, error) {
	payment, err := s.stores.Payments.GetByReference(ctx, reference)
	if err != nil {
		return models.Payment{}, orNotFound(err, ErrPaymentNotFound)
	}
	if payment.InitiatedBy == userID {
		return payment, nil
	}
	if payment.ToAccountID != nil {
		if err := s.ownsAccount(ctx, userID, *payment.ToAccountID); err == nil {
			return payment, nil
		}
	}
	return models.Payment{}, ErrPaymentNotFound
}

func (s *QueryService) ownsAccount(ctx context.Context, userID, accountID string) error {
	account, err := s.stores.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return orNotFound(err, ErrAccountNotFound)
	}
	if account.UserID != userID {
		return ErrAccountNotFound
	}
	return nil
}

// cached reads through c. Cache failures fall back to load. A miss is
// filled under the generation observed before load ran, so an invalidation
// that lands while load is reading stale rows retires the fill too.
func cached[T any](ctx context.Context, c ViewCache, ns models.CacheNamespace, userID, name string, load func() (T, error)) (T, error) {
	if c == nil {
		return load()
	}
	var value T
	hit, gen, cacheErr := c.Get(ctx, ns, userID, name, &value)
	if cacheErr == nil && hit {
		return value, nil
	}
	value, err := load()
	if err != nil {
		return value, err
	}
	if cacheErr == nil {
		_ = c.Set(ctx, ns, userID, name, gen, value)
	}
	return value, nil
}
