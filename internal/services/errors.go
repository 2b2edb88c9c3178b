package services

import (
	"database/sql"
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrAccountNotFound         = fmt.Errorf("account %w", ErrNotFound)
	ErrPoolNotFound            = fmt.Errorf("pool %w", ErrNotFound)
	ErrPaymentNotFound         = fmt.Errorf("payment %w", ErrNotFound)
	ErrRequestNotFound         = fmt.Errorf("money request %w", ErrNotFound)
	ErrAutomationNotFound      = fmt.Errorf("automation %w", ErrNotFound)
	ErrRecipientNotFound       = fmt.Errorf("recipient %w", ErrNotFound)
	ErrUserNotFound            = fmt.Errorf("user %w", ErrNotFound)
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrDuplicateReference      = errors.New("duplicate payment reference")
	ErrIntegrityFault          = errors.New("ledger integrity fault")
	ErrCreditPoolMissing       = fmt.Errorf("credit pool missing: %w", ErrIntegrityFault)
	ErrRequestAlreadyProcessed = errors.New("money request already processed")
	ErrRequestExpired          = errors.New("money request expired")
	ErrPoolLocked              = errors.New("pool is locked")
	ErrAccountInactive         = errors.New("account is inactive")
	ErrAccountExists           = errors.New("account already exists")
	ErrUserExists              = errors.New("user already exists")
	ErrUnauthorizedPool        = errors.New("pool does not belong to user")
	ErrSamePool                = errors.New("cannot transfer to the same pool")
	ErrInvalidDestination      = errors.New("invalid destination")
	ErrInvalidSchedule         = errors.New("invalid schedule")
	ErrInvalidTargets          = errors.New("unlocked pool targets exceed 100 percent")
	ErrSelfRequest             = errors.New("cannot request money from yourself")
	ErrLendingPoolUnset        = errors.New("lending pool is not configured")
)

// orNotFound maps a store miss onto the domain sentinel.
func orNotFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

// IsValidation reports errors caused by the request or the current state
// of the ledger rather than by infrastructure.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrInsufficientFunds, ErrInvalidAmount, ErrRequestAlreadyProcessed, ErrRequestExpired,
		ErrPoolLocked, ErrAccountInactive, ErrAccountExists, ErrUserExists, ErrUnauthorizedPool, ErrSamePool,
		ErrInvalidDestination, ErrInvalidSchedule, ErrInvalidTargets, ErrSelfRequest,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
