package models

import (
	"time"

	"github.com/shopspring/decimal"

	"bankledger/internal/money"
	"bankledger/internal/recurrence"
)

type AccountKind string

const (
	AccountPersonal AccountKind = "personal"
	AccountBusiness AccountKind = "business"
)

func (k AccountKind) Valid() bool {
	return k == AccountPersonal || k == AccountBusiness
}

type User struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Phone     string    `db:"phone" json:"phone"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Account struct {
	ID            string      `db:"id" json:"id"`
	UserID        string      `db:"user_id" json:"user_id"`
	Kind          AccountKind `db:"kind" json:"kind"`
	AccountNumber string      `db:"account_number" json:"account_number"`
	AccountName   string      `db:"account_name" json:"account_name"`
	BankName      string      `db:"bank_name" json:"bank_name"`
	Balance       int64       `db:"balance" json:"balance"`
	IsActive      bool        `db:"is_active" json:"is_active"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `db:"updated_at" json:"updated_at"`
}

type Pool struct {
	ID               string          `db:"id" json:"id"`
	AccountID        string          `db:"account_id" json:"account_id"`
	Name             string          `db:"name" json:"name"`
	TargetPercentage decimal.Decimal `db:"target_percentage" json:"target_percentage"`
	Balance          int64           `db:"balance" json:"balance"`
	IsCreditPool     bool            `db:"is_credit_pool" json:"is_credit_pool"`
	IsLocked         bool            `db:"is_locked" json:"is_locked"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

type ExternalAccount struct {
	ID            string    `db:"id" json:"id"`
	AccountNumber string    `db:"account_number" json:"account_number"`
	BankName      string    `db:"bank_name" json:"bank_name"`
	AccountName   string    `db:"account_name" json:"account_name"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

type PaymentKind string

const (
	PaymentTransfer               PaymentKind = "transfer"
	PaymentMoneyRequest           PaymentKind = "money_request"
	PaymentLoan                   PaymentKind = "loan"
	PaymentPoolTransferAutomation PaymentKind = "pool_transfer_automation"
	PaymentBankTransferAutomation PaymentKind = "bank_transfer_automation"
)

// ReferencePrefix is the human-readable prefix of payment references
// created for this kind.
func (k PaymentKind) ReferencePrefix() string {
	switch k {
	case PaymentMoneyRequest:
		return "REQ"
	case PaymentLoan:
		return "LN"
	case PaymentPoolTransferAutomation:
		return "ATP"
	case PaymentBankTransferAutomation:
		return "ATB"
	default:
		return "TRF"
	}
}

func (k PaymentKind) Valid() bool {
	switch k {
	case PaymentTransfer, PaymentMoneyRequest, PaymentLoan, PaymentPoolTransferAutomation, PaymentBankTransferAutomation:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentCancelled PaymentStatus = "cancelled"
)

type AccountSource string

const (
	SourceInternal AccountSource = "internal"
	SourceExternal AccountSource = "external"
)

type Payment struct {
	ID                  string        `db:"id" json:"id"`
	Reference           string        `db:"reference" json:"reference"`
	Kind                PaymentKind   `db:"kind" json:"kind"`
	Status              PaymentStatus `db:"status" json:"status"`
	Amount              int64         `db:"amount" json:"amount"`
	InitiatedBy         string        `db:"initiated_by" json:"initiated_by"`
	SourceType          AccountSource `db:"source_type" json:"source_type"`
	FromAccountID       *string       `db:"from_account_id" json:"from_account_id,omitempty"`
	FromPoolID          *string       `db:"from_pool_id" json:"from_pool_id,omitempty"`
	FromExternalID      *string       `db:"from_external_account_id" json:"from_external_account_id,omitempty"`
	DestinationType     AccountSource `db:"destination_type" json:"destination_type"`
	ToAccountID         *string       `db:"to_account_id" json:"to_account_id,omitempty"`
	ToPoolID            *string       `db:"to_pool_id" json:"to_pool_id,omitempty"`
	ToExternalAccountID *string       `db:"to_external_account_id" json:"to_external_account_id,omitempty"`
	Narration           string        `db:"narration" json:"narration"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	CompletedAt         *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
}

type EntryType string

const (
	EntryDebit  EntryType = "debit"
	EntryCredit EntryType = "credit"
)

// Transaction is one side of a Payment as seen from a single account.
type Transaction struct {
	ID        string    `db:"id" json:"id"`
	PaymentID string    `db:"payment_id" json:"payment_id"`
	AccountID string    `db:"account_id" json:"account_id"`
	PoolID    *string   `db:"pool_id" json:"pool_id,omitempty"`
	EntryType EntryType `db:"entry_type" json:"entry_type"`
	Amount    int64     `db:"amount" json:"amount"`
	Reference string    `db:"reference" json:"reference"`
	Tag       string    `db:"tag" json:"tag"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type MoneyRequestStatus string

const (
	RequestPending   MoneyRequestStatus = "pending"
	RequestAccepted  MoneyRequestStatus = "accepted"
	RequestRejected  MoneyRequestStatus = "rejected"
	RequestCancelled MoneyRequestStatus = "cancelled"
	RequestExpired   MoneyRequestStatus = "expired"
)

func (s MoneyRequestStatus) Terminal() bool {
	return s != RequestPending
}

type MoneyRequest struct {
	ID              string             `db:"id" json:"id"`
	RequesterID     string             `db:"requester_id" json:"requester_id"`
	RequesterKind   AccountKind        `db:"requester_kind" json:"requester_kind"`
	PayerID         string             `db:"payer_id" json:"payer_id"`
	PayerKind       AccountKind        `db:"payer_kind" json:"payer_kind"`
	Amount          int64              `db:"amount" json:"amount"`
	Note            string             `db:"note" json:"note"`
	Status          MoneyRequestStatus `db:"status" json:"status"`
	RejectionReason *string            `db:"rejection_reason" json:"rejection_reason,omitempty"`
	PaymentID       *string            `db:"payment_id" json:"payment_id,omitempty"`
	ExpiresAt       time.Time          `db:"expires_at" json:"expires_at"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at" json:"updated_at"`
}

// Actionable reports whether accept, reject or cancel may still act on r.
func (r MoneyRequest) Actionable(now time.Time) bool {
	return r.Status == RequestPending && r.ExpiresAt.After(now)
}

// DisplayStatus is the status a reader should see. Expiry is evaluated
// lazily so a stored pending request past its deadline shows as expired.
func (r MoneyRequest) DisplayStatus(now time.Time) MoneyRequestStatus {
	if r.Status == RequestPending && !r.ExpiresAt.After(now) {
		return RequestExpired
	}
	return r.Status
}

type AutomationType string

const (
	AutomationPoolTransfer AutomationType = "pool_transfer"
	AutomationBankTransfer AutomationType = "bank_transfer"
)

func (t AutomationType) PaymentKind() PaymentKind {
	if t == AutomationBankTransfer {
		return PaymentBankTransferAutomation
	}
	return PaymentPoolTransferAutomation
}

type DestinationKind string

const (
	DestinationPool            DestinationKind = "pool"
	DestinationAccount         DestinationKind = "account"
	DestinationExternalAccount DestinationKind = "external_account"
)

// Destination names exactly one receiving side of a transfer.
type Destination struct {
	Kind DestinationKind `json:"kind"`
	ID   string          `json:"id"`
}

func ToPool(poolID string) Destination {
	return Destination{Kind: DestinationPool, ID: poolID}
}

func ToAccount(accountID string) Destination {
	return Destination{Kind: DestinationAccount, ID: accountID}
}

func ToExternal(externalAccountID string) Destination {
	return Destination{Kind: DestinationExternalAccount, ID: externalAccountID}
}

func (d Destination) Valid() bool {
	if d.ID == "" {
		return false
	}
	switch d.Kind {
	case DestinationPool, DestinationAccount, DestinationExternalAccount:
		return true
	}
	return false
}

type Automation struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Name        string          `json:"name"`
	Type        AutomationType  `json:"type"`
	SourcePool  string          `json:"source_pool_id"`
	Destination Destination     `json:"destination"`
	Amount      money.Amount    `json:"-"`
	Rule        recurrence.Rule `json:"-"`
	IsActive    bool            `json:"is_active"`
	LastRun     *time.Time      `json:"last_run,omitempty"`
	NextRun     time.Time       `json:"next_run"`
	CreatedAt   time.Time       `json:"created_at"`
}

type NotificationType string

const (
	NotifyPaymentReceived       NotificationType = "payment_received"
	NotifyPaymentSent           NotificationType = "payment_sent"
	NotifyAutomationExecuted    NotificationType = "automation_executed"
	NotifyMoneyRequestReceived  NotificationType = "money_request_received"
	NotifyMoneyRequestAccepted  NotificationType = "money_request_accepted"
	NotifyMoneyRequestRejected  NotificationType = "money_request_rejected"
	NotifyMoneyRequestCancelled NotificationType = "money_request_cancelled"
	NotifyLoanDisbursed         NotificationType = "loan_disbursed"
)

type Notification struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Type        NotificationType  `json:"type"`
	Text        string            `json:"text"`
	ReferenceID string            `json:"reference_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

type CacheNamespace string

const (
	CacheAccount      CacheNamespace = "account"
	CachePool         CacheNamespace = "pool"
	CacheTransaction  CacheNamespace = "transaction"
	CacheMoneyRequest CacheNamespace = "money_request"
	CacheAutomation   CacheNamespace = "automation"
)

type CacheInvalidation struct {
	UserID     string           `json:"user_id"`
	Namespaces []CacheNamespace `json:"namespaces"`
}

type OutboxTopic string

const (
	TopicNotification      OutboxTopic = "notification"
	TopicCacheInvalidation OutboxTopic = "cache_invalidation"
)

type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxDelivered  OutboxStatus = "delivered"
	OutboxFailed     OutboxStatus = "failed"
)

type OutboxMessage struct {
	ID          string       `db:"id" json:"id"`
	Topic       OutboxTopic  `db:"topic" json:"topic"`
	Payload     []byte       `db:"payload" json:"payload"`
	Status      OutboxStatus `db:"status" json:"status"`
	Attempts    int          `db:"attempts" json:"attempts"`
	LastError   *string      `db:"last_error" json:"last_error,omitempty"`
	AvailableAt time.Time    `db:"available_at" json:"available_at"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
}

// BalanceMismatch is an account whose cached balance disagrees with the
// sum of its pools.
type BalanceMismatch struct {
	AccountID     string `db:"account_id" json:"account_id"`
	CachedBalance int64  `db:"cached_balance" json:"cached_balance"`
	PoolTotal     int64  `db:"pool_total" json:"pool_total"`
}
