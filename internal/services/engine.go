package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"bankledger/internal/models"
	"bankledger/internal/money"
	"bankledger/internal/store"
)

// BalanceEngine is the only code path that writes pool and account
// balances. Prepare locks and validates, Apply mutates; both must run in
// the same transaction.
type BalanceEngine struct {
	accounts AccountStore
	pools    PoolStore
}

func NewBalanceEngine(accounts AccountStore, pools PoolStore) BalanceEngine {
	return BalanceEngine{accounts: accounts, pools: pools}
}

// Movement is a request to move Amount out of SourcePoolID. When OwnerID is
// set the source pool, and a destination pool if any, must belong to it.
type Movement struct {
	OwnerID      string
	SourcePoolID string
	Destination  models.Destination
	Amount       money.Amount
}

// PreparedMovement holds the locked rows and the resolved amount. DestPool
// and DestAccount are nil when the money leaves the ledger.
type PreparedMovement struct {
	Amount        int64
	SourcePool    models.Pool
	SourceAccount models.Account
	DestPool      *models.Pool
	DestAccount   *models.Account
}

func (p PreparedMovement) Internal() bool {
	return p.DestPool != nil
}

func (p PreparedMovement) SameAccount() bool {
	return p.DestAccount != nil && p.DestAccount.ID == p.SourceAccount.ID
}

func (e BalanceEngine) Prepare(ctx context.Context, tx store.Tx, m Movement) (PreparedMovement, error) {
	if err := m.Amount.Validate(); err != nil {
		return PreparedMovement{}, ErrInvalidAmount
	}
	if m.SourcePoolID == "" || !m.Destination.Valid() {
		return PreparedMovement{}, ErrInvalidDestination
	}

	destPoolID, err := e.destinationPoolID(ctx, tx, m.Destination)
	if err != nil {
		return PreparedMovement{}, err
	}
	if destPoolID == m.SourcePoolID {
		return PreparedMovement{}, ErrSamePool
	}

	pools, err := e.lockPools(ctx, tx, m.SourcePoolID, destPoolID)
	if err != nil {
		return PreparedMovement{}, err
	}
	prepared := PreparedMovement{SourcePool: pools[m.SourcePoolID]}
	accountIDs := []string{prepared.SourcePool.AccountID}
	if destPoolID != "" {
		dest := pools[destPoolID]
		prepared.DestPool = &dest
		accountIDs = append(accountIDs, dest.AccountID)
	}
	accounts, err := e.lockAccounts(ctx, tx, accountIDs...)
	if err != nil {
		return PreparedMovement{}, err
	}
	prepared.SourceAccount = accounts[prepared.SourcePool.AccountID]
	if prepared.DestPool != nil {
		dest := accounts[prepared.DestPool.AccountID]
		prepared.DestAccount = &dest
	}

	if m.OwnerID != "" {
		if prepared.SourceAccount.UserID != m.OwnerID {
			return PreparedMovement{}, ErrUnauthorizedPool
		}
		if m.Destination.Kind == models.DestinationPool && prepared.DestAccount.UserID != m.OwnerID {
			return PreparedMovement{}, ErrUnauthorizedPool
		}
	}

	prepared.Amount = m.Amount.Resolve(prepared.SourcePool.Balance)
	if err := prepared.check(); err != nil {
		return PreparedMovement{}, err
	}
	return prepared, nil
}

func (p PreparedMovement) check() error {
	if p.SourcePool.IsLocked {
		return ErrPoolLocked
	}
	if !p.SourceAccount.IsActive || (p.DestAccount != nil && !p.DestAccount.IsActive) {
		return ErrAccountInactive
	}
	if p.Amount <= 0 || p.SourcePool.Balance < p.Amount || p.SourceAccount.Balance < p.Amount {
		return ErrInsufficientFunds
	}
	return nil
}

// Apply writes the balance deltas of a prepared movement. A movement between
// two pools of one account leaves the account balance as it is.
func (e BalanceEngine) Apply(ctx context.Context, tx store.Execer, p PreparedMovement) error {
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	if err := e.pools.AdjustBalance(ctx, tx, p.SourcePool.ID, -p.Amount); err != nil {
		return integrity(err)
	}
	if p.DestPool != nil {
		if err := e.pools.AdjustBalance(ctx, tx, p.DestPool.ID, p.Amount); err != nil {
			return integrity(err)
		}
	}
	if p.SameAccount() {
		return nil
	}
	if err := e.accounts.AdjustBalance(ctx, tx, p.SourceAccount.ID, -p.Amount); err != nil {
		return integrity(err)
	}
	if p.DestAccount != nil {
		if err := e.accounts.AdjustBalance(ctx, tx, p.DestAccount.ID, p.Amount); err != nil {
			return integrity(err)
		}
	}
	return nil
}

func (e BalanceEngine) destinationPoolID(ctx context.Context, tx store.Tx, dest models.Destination) (string, error) {
	switch dest.Kind {
	case models.DestinationPool:
		return dest.ID, nil
	case models.DestinationAccount:
		id, err := e.pools.GetCreditPoolID(ctx, tx, dest.ID)
		if errors.Is(err, sql.ErrNoRows) {
			if _, err := e.accounts.GetForUpdate(ctx, tx, dest.ID); err != nil {
				return "", orNotFound(err, ErrAccountNotFound)
			}
			return "", ErrCreditPoolMissing
		}
		return id, err
	default:
		return "", nil
	}
}

// lockPools takes row locks in id order so concurrent movements over the
// same pools cannot deadlock.
func (e BalanceEngine) lockPools(ctx context.Context, tx store.Getter, ids ...string) (map[string]models.Pool, error) {
	locked := make(map[string]models.Pool, len(ids))
	for _, id := range sortedUnique(ids) {
		pool, err := e.pools.GetForUpdate(ctx, tx, id)
		if err != nil {
			return nil, orNotFound(err, ErrPoolNotFound)
		}
		locked[id] = pool
	}
	return locked, nil
}

func (e BalanceEngine) lockAccounts(ctx context.Context, tx store.Getter, ids ...string) (map[string]models.Account, error) {
	locked := make(map[string]models.Account, len(ids))
	for _, id := range sortedUnique(ids) {
		account, err := e.accounts.GetForUpdate(ctx, tx, id)
		if err != nil {
			return nil, orNotFound(err, ErrAccountNotFound)
		}
		locked[id] = account
	}
	return locked, nil
}

func sortedUnique(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// integrity reports a balance row that disappeared between lock and write.
func integrity(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("balance row vanished: %w", ErrIntegrityFault)
	}
	return err
}
