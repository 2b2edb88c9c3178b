package services

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"bankledger/internal/models"
	"bankledger/internal/recurrence"
	"bankledger/internal/store"
)

var errCheckViolation = errors.New("balance check constraint violated")

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type countingWaker struct {
	wakes int
}

func (w *countingWaker) Wake() {
	w.wakes++
}

type outboxRow struct {
	Topic   models.OutboxTopic
	Payload []byte
}

type ledgerState struct {
	users       map[string]models.User
	accounts    map[string]models.Account
	pools       map[string]models.Pool
	externals   map[string]models.ExternalAccount
	payments    map[string]models.Payment
	entries     []models.Transaction
	requests    map[string]models.MoneyRequest
	automations map[string]models.Automation
	outbox      []outboxRow
}

func (s ledgerState) clone() ledgerState {
	return ledgerState{
		users:       cloneMap(s.users),
		accounts:    cloneMap(s.accounts),
		pools:       cloneMap(s.pools),
		externals:   cloneMap(s.externals),
		payments:    cloneMap(s.payments),
		entries:     append([]models.Transaction(nil), s.entries...),
		requests:    cloneMap(s.requests),
		automations: cloneMap(s.automations),
		outbox:      append([]outboxRow(nil), s.outbox...),
	}
}

func cloneMap[V any](in map[string]V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// fakeLedger is an in-memory ledger store. WithTx snapshots the state and
// restores it when the callback fails, so rollback is observable.
type fakeLedger struct {
	ledgerState
	fail  map[string]error
	hooks map[string]func()
	locks []string
	txs   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		ledgerState: ledgerState{
			users:       map[string]models.User{},
			accounts:    map[string]models.Account{},
			pools:       map[string]models.Pool{},
			externals:   map[string]models.ExternalAccount{},
			payments:    map[string]models.Payment{},
			requests:    map[string]models.MoneyRequest{},
			automations: map[string]models.Automation{},
		},
		fail:  map[string]error{},
		hooks: map[string]func(){},
	}
}

func (l *fakeLedger) WithTx(_ context.Context, fn func(*sqlx.Tx) error) error {
	l.txs++
	snapshot := l.ledgerState.clone()
	if err := fn(nil); err != nil {
		l.ledgerState = snapshot
		return err
	}
	return nil
}

func (l *fakeLedger) op(name string) error {
	if hook := l.hooks[name]; hook != nil {
		hook()
	}
	return l.fail[name]
}

func (l *fakeLedger) stores() Stores {
	return Stores{
		Users:         fakeUsers{l},
		Accounts:      fakeAccounts{l},
		Pools:         fakePools{l},
		Externals:     fakeExternals{l},
		Payments:      fakePayments{l},
		Transactions:  fakeTransactions{l},
		MoneyRequests: fakeMoneyRequests{l},
		Automations:   fakeAutomations{l},
		Outbox:        fakeOutbox{l},
	}
}

func (l *fakeLedger) addUser(id, phone string) {
	l.users[id] = models.User{ID: id, FullName: "User " + id, Phone: phone}
}

func (l *fakeLedger) addAccount(id, userID string, kind models.AccountKind) {
	l.accounts[id] = models.Account{
		ID:            id,
		UserID:        userID,
		Kind:          kind,
		AccountNumber: id,
		AccountName:   "Account " + id,
		BankName:      BankName,
		IsActive:      true,
	}
}

// addPool adds a pool and credits its balance to the owning account so the
// pool-sum invariant holds.
func (l *fakeLedger) addPool(id, accountID string, balance int64, credit bool) {
	l.pools[id] = models.Pool{ID: id, AccountID: accountID, Name: "Pool " + id, Balance: balance, IsCreditPool: credit}
	account := l.accounts[accountID]
	account.Balance += balance
	l.accounts[accountID] = account
}

func (l *fakeLedger) totalBalance() int64 {
	var total int64
	for _, account := range l.accounts {
		total += account.Balance
	}
	return total
}

func (l *fakeLedger) poolSum(accountID string) int64 {
	var total int64
	for _, pool := range l.pools {
		if pool.AccountID == accountID {
			total += pool.Balance
		}
	}
	return total
}

func (l *fakeLedger) outboxOf(topic models.OutboxTopic) []outboxRow {
	var rows []outboxRow
	for _, row := range l.outbox {
		if row.Topic == topic {
			rows = append(rows, row)
		}
	}
	return rows
}

type fakeUsers struct{ l *fakeLedger }

func (f fakeUsers) Create(_ context.Context, _ store.Execer, user models.User) error {
	if err := f.l.op("users.create"); err != nil {
		return err
	}
	for _, existing := range f.l.users {
		if existing.Phone == user.Phone {
			return &pq.Error{Code: "23505", Constraint: "users_phone_key"}
		}
	}
	f.l.users[user.ID] = user
	return nil
}

func (f fakeUsers) GetByID(_ context.Context, userID string) (models.User, error) {
	user, ok := f.l.users[userID]
	if !ok {
		return models.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f fakeUsers) GetByPhone(_ context.Context, phone string) (models.User, error) {
	for _, user := range f.l.users {
		if user.Phone == phone {
			return user, nil
		}
	}
	return models.User{}, sql.ErrNoRows
}

type fakeAccounts struct{ l *fakeLedger }

func (f fakeAccounts) Create(_ context.Context, _ store.Getter, account models.Account) (bool, error) {
	if err := f.l.op("accounts.create"); err != nil {
		return false, err
	}
	for _, existing := range f.l.accounts {
		if existing.UserID == account.UserID && existing.Kind == account.Kind {
			return false, &pq.Error{Code: "23505", Constraint: "accounts_user_id_kind_key"}
		}
	}
	for _, existing := range f.l.accounts {
		if existing.AccountNumber == account.AccountNumber {
			return false, nil
		}
	}
	f.l.accounts[account.ID] = account
	return true, nil
}

func (f fakeAccounts) GetByID(_ context.Context, accountID string) (models.Account, error) {
	account, ok := f.l.accounts[accountID]
	if !ok {
		return models.Account{}, sql.ErrNoRows
	}
	return account, nil
}

func (f fakeAccounts) GetByUserAndKind(_ context.Context, userID string, kind models.AccountKind) (models.Account, error) {
	for _, account := range f.l.accounts {
		if account.UserID == userID && account.Kind == kind {
			return account, nil
		}
	}
	return models.Account{}, sql.ErrNoRows
}

func (f fakeAccounts) ListByUser(_ context.Context, userID string) ([]models.Account, error) {
	var out []models.Account
	for _, account := range f.l.accounts {
		if account.UserID == userID {
			out = append(out, account)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeAccounts) GetForUpdate(ctx context.Context, _ store.Getter, accountID string) (models.Account, error) {
	if err := f.l.op("accounts.lock"); err != nil {
		return models.Account{}, err
	}
	f.l.locks = append(f.l.locks, "account:"+accountID)
	return f.GetByID(ctx, accountID)
}

func (f fakeAccounts) AdjustBalance(_ context.Context, _ store.Execer, accountID string, delta int64) error {
	if err := f.l.op("accounts.adjust"); err != nil {
		return err
	}
	account, ok := f.l.accounts[accountID]
	if !ok {
		return sql.ErrNoRows
	}
	if account.Balance+delta < 0 {
		return errCheckViolation
	}
	account.Balance += delta
	f.l.accounts[accountID] = account
	return nil
}

func (f fakeAccounts) SetActive(_ context.Context, _ store.Execer, accountID string, active bool) error {
	account, ok := f.l.accounts[accountID]
	if !ok {
		return sql.ErrNoRows
	}
	account.IsActive = active
	f.l.accounts[accountID] = account
	return nil
}

func (f fakeAccounts) ListBalanceMismatches(context.Context) ([]models.BalanceMismatch, error) {
	var out []models.BalanceMismatch
	for _, account := range f.l.accounts {
		if sum := f.l.poolSum(account.ID); sum != account.Balance {
			out = append(out, models.BalanceMismatch{AccountID: account.ID, CachedBalance: account.Balance, PoolTotal: sum})
		}
	}
	return out, nil
}

type fakePools struct{ l *fakeLedger }

func (f fakePools) Create(_ context.Context, _ store.Execer, pool models.Pool) error {
	if err := f.l.op("pools.create"); err != nil {
		return err
	}
	f.l.pools[pool.ID] = pool
	return nil
}

func (f fakePools) GetByID(_ context.Context, poolID string) (models.Pool, error) {
	pool, ok := f.l.pools[poolID]
	if !ok {
		return models.Pool{}, sql.ErrNoRows
	}
	return pool, nil
}

func (f fakePools) ListByAccount(_ context.Context, accountID string) ([]models.Pool, error) {
	if err := f.l.op("pools.list"); err != nil {
		return nil, err
	}
	var out []models.Pool
	for _, pool := range f.l.pools {
		if pool.AccountID == accountID {
			out = append(out, pool)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakePools) GetCreditPoolID(_ context.Context, _ store.Getter, accountID string) (string, error) {
	for _, pool := range f.l.pools {
		if pool.AccountID == accountID && pool.IsCreditPool {
			return pool.ID, nil
		}
	}
	return "", sql.ErrNoRows
}

func (f fakePools) GetForUpdate(ctx context.Context, _ store.Getter, poolID string) (models.Pool, error) {
	if err := f.l.op("pools.lock"); err != nil {
		return models.Pool{}, err
	}
	f.l.locks = append(f.l.locks, "pool:"+poolID)
	return f.GetByID(ctx, poolID)
}

func (f fakePools) ListByAccountForUpdate(ctx context.Context, _ store.Selecter, accountID string) ([]models.Pool, error) {
	pools, err := f.ListByAccount(ctx, accountID)
	for _, pool := range pools {
		f.l.locks = append(f.l.locks, "pool:"+pool.ID)
	}
	return pools, err
}

func (f fakePools) AdjustBalance(_ context.Context, _ store.Execer, poolID string, delta int64) error {
	if err := f.l.op("pools.adjust"); err != nil {
		return err
	}
	pool, ok := f.l.pools[poolID]
	if !ok {
		return sql.ErrNoRows
	}
	if pool.Balance+delta < 0 {
		return errCheckViolation
	}
	pool.Balance += delta
	f.l.pools[poolID] = pool
	return nil
}

func (f fakePools) SetLocked(_ context.Context, _ store.Execer, poolID string, locked bool) error {
	pool, ok := f.l.pools[poolID]
	if !ok {
		return sql.ErrNoRows
	}
	pool.IsLocked = locked
	f.l.pools[poolID] = pool
	return nil
}

type fakeExternals struct{ l *fakeLedger }

func (f fakeExternals) FindOrCreate(_ context.Context, _ store.Getter, id, accountNumber, bankName, accountName string) (models.ExternalAccount, error) {
	for _, ext := range f.l.externals {
		if ext.AccountNumber == accountNumber && ext.BankName == bankName {
			return ext, nil
		}
	}
	ext := models.ExternalAccount{ID: id, AccountNumber: accountNumber, BankName: bankName, AccountName: accountName}
	f.l.externals[id] = ext
	return ext, nil
}

func (f fakeExternals) GetByID(_ context.Context, _ store.Getter, externalID string) (models.ExternalAccount, error) {
	ext, ok := f.l.externals[externalID]
	if !ok {
		return models.ExternalAccount{}, sql.ErrNoRows
	}
	return ext, nil
}

type fakePayments struct{ l *fakeLedger }

func (f fakePayments) Create(_ context.Context, _ store.Getter, payment models.Payment) (bool, error) {
	if err := f.l.op("payments.create"); err != nil {
		return false, err
	}
	for _, existing := range f.l.payments {
		if existing.Reference == payment.Reference {
			return false, nil
		}
	}
	f.l.payments[payment.ID] = payment
	return true, nil
}

func (f fakePayments) MarkCompleted(_ context.Context, _ store.Execer, paymentID string, at time.Time) error {
	payment, ok := f.l.payments[paymentID]
	if !ok || payment.Status != models.PaymentPending {
		return sql.ErrNoRows
	}
	payment.Status = models.PaymentCompleted
	payment.CompletedAt = &at
	f.l.payments[paymentID] = payment
	return nil
}

func (f fakePayments) GetByReference(_ context.Context, reference string) (models.Payment, error) {
	for _, payment := range f.l.payments {
		if payment.Reference == reference {
			return payment, nil
		}
	}
	return models.Payment{}, sql.ErrNoRows
}

type fakeTransactions struct{ l *fakeLedger }

func (f fakeTransactions) InsertEntries(_ context.Context, _ store.Execer, entries []models.Transaction) error {
	if err := f.l.op("transactions.insert"); err != nil {
		return err
	}
	f.l.entries = append(f.l.entries, entries...)
	return nil
}

func (f fakeTransactions) ListByAccount(_ context.Context, accountID string, limit, offset int) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, entry := range f.l.entries {
		if entry.AccountID == accountID {
			out = append(out, entry)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeMoneyRequests struct{ l *fakeLedger }

func (f fakeMoneyRequests) Create(_ context.Context, _ store.Execer, req models.MoneyRequest) error {
	f.l.requests[req.ID] = req
	return nil
}

func (f fakeMoneyRequests) GetForUpdate(_ context.Context, _ store.Getter, requestID string) (models.MoneyRequest, error) {
	req, ok := f.l.requests[requestID]
	if !ok {
		return models.MoneyRequest{}, sql.ErrNoRows
	}
	return req, nil
}

func (f fakeMoneyRequests) Resolve(_ context.Context, _ store.Execer, requestID string, status models.MoneyRequestStatus, reason, paymentID *string) error {
	req, ok := f.l.requests[requestID]
	if !ok || req.Status != models.RequestPending {
		return sql.ErrNoRows
	}
	req.Status = status
	req.RejectionReason = reason
	req.PaymentID = paymentID
	f.l.requests[requestID] = req
	return nil
}

func (f fakeMoneyRequests) ListByUser(_ context.Context, userID string, limit, offset int) ([]models.MoneyRequest, error) {
	var out []models.MoneyRequest
	for _, req := range f.l.requests {
		if req.RequesterID == userID || req.PayerID == userID {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeAutomations struct{ l *fakeLedger }

func (f fakeAutomations) Create(_ context.Context, _ store.Execer, automation models.Automation) error {
	f.l.automations[automation.ID] = automation
	return nil
}

func (f fakeAutomations) GetByID(_ context.Context, automationID string) (models.Automation, error) {
	automation, ok := f.l.automations[automationID]
	if !ok {
		return models.Automation{}, sql.ErrNoRows
	}
	return automation, nil
}

func (f fakeAutomations) GetForUpdate(ctx context.Context, _ store.Getter, automationID string) (models.Automation, error) {
	return f.GetByID(ctx, automationID)
}

func (f fakeAutomations) ListByOwner(_ context.Context, ownerID string) ([]models.Automation, error) {
	var out []models.Automation
	for _, automation := range f.l.automations {
		if automation.OwnerID == ownerID {
			out = append(out, automation)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f fakeAutomations) ListDue(_ context.Context, now time.Time, after store.DueRef, limit int) ([]store.DueRef, error) {
	if err := f.l.op("automations.due"); err != nil {
		return nil, err
	}
	var due []store.DueRef
	for _, automation := range f.l.automations {
		if !automation.IsActive || automation.NextRun.After(now) {
			continue
		}
		ref := store.DueRef{ID: automation.ID, NextRun: automation.NextRun}
		if !dueAfter(ref, after) {
			continue
		}
		due = append(due, ref)
	}
	sort.Slice(due, func(i, j int) bool { return dueAfter(due[j], due[i]) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// dueAfter reports whether a sorts strictly after b in (next_run, id) order.
func dueAfter(a, b store.DueRef) bool {
	if a.NextRun.Equal(b.NextRun) {
		return a.ID > b.ID
	}
	return a.NextRun.After(b.NextRun)
}

func (f fakeAutomations) ClaimDue(_ context.Context, _ store.Getter, automationID string, now time.Time) (models.Automation, error) {
	if err := f.l.op("automations.claim"); err != nil {
		return models.Automation{}, err
	}
	automation, ok := f.l.automations[automationID]
	if !ok || !automation.IsActive || automation.NextRun.After(now) {
		return models.Automation{}, sql.ErrNoRows
	}
	return automation, nil
}

func (f fakeAutomations) MarkRun(_ context.Context, _ store.Execer, automationID string, lastRun, nextRun time.Time) error {
	automation, ok := f.l.automations[automationID]
	if !ok {
		return sql.ErrNoRows
	}
	automation.LastRun = &lastRun
	automation.NextRun = nextRun
	f.l.automations[automationID] = automation
	return nil
}

func (f fakeAutomations) SetNextRun(_ context.Context, _ store.Execer, automationID string, nextRun time.Time) error {
	automation, ok := f.l.automations[automationID]
	if !ok {
		return sql.ErrNoRows
	}
	automation.NextRun = nextRun
	f.l.automations[automationID] = automation
	return nil
}

func (f fakeAutomations) UpdateSchedule(_ context.Context, _ store.Execer, automationID string, rule recurrence.Rule, nextRun time.Time) error {
	automation, ok := f.l.automations[automationID]
	if !ok {
		return sql.ErrNoRows
	}
	automation.Rule = rule
	automation.NextRun = nextRun
	f.l.automations[automationID] = automation
	return nil
}

func (f fakeAutomations) SetActive(_ context.Context, _ store.Execer, automationID string, active bool, nextRun time.Time) error {
	automation, ok := f.l.automations[automationID]
	if !ok {
		return sql.ErrNoRows
	}
	automation.IsActive = active
	automation.NextRun = nextRun
	f.l.automations[automationID] = automation
	return nil
}

type fakeOutbox struct{ l *fakeLedger }

func (f fakeOutbox) Enqueue(_ context.Context, _ store.Execer, topic models.OutboxTopic, payload []byte) error {
	if err := f.l.op("outbox.enqueue"); err != nil {
		return err
	}
	f.l.outbox = append(f.l.outbox, outboxRow{Topic: topic, Payload: payload})
	return nil
}

// testBed wires every service to one fake ledger.
type testBed struct {
	ledger      *fakeLedger
	clock       *fakeClock
	waker       *countingWaker
	transfers   *TransferService
	requests    *MoneyRequestService
	automations *AutomationService
	accounts    *AccountService
	loans       *LoanService
	queries     *QueryService
}

func newTestBed() *testBed {
	ledger := newFakeLedger()
	clock := &fakeClock{now: time.Date(2024, 1, 10, 7, 0, 0, 0, time.UTC)}
	waker := &countingWaker{}
	stores := ledger.stores()
	transfers := NewTransferService(ledger, stores, clock, waker)
	return &testBed{
		ledger:      ledger,
		clock:       clock,
		waker:       waker,
		transfers:   transfers,
		requests:    NewMoneyRequestService(ledger, stores, transfers, clock, waker, 0),
		automations: NewAutomationService(ledger, stores, transfers, clock, waker, nil),
		accounts:    NewAccountService(ledger, stores, transfers, clock, waker, OpeningBalances{Personal: 100_000, Business: 1_000_000}),
		loans:       NewLoanService(ledger, stores, transfers, clock, waker, "ops-loans"),
		queries:     NewQueryService(stores),
	}
}

// seedTwoUsers creates Ada (personal acc-a with credit pool pa-main and a
// savings pool pa-save) and Bola (personal acc-b with credit pool pb-main).
func (b *testBed) seedTwoUsers() {
	b.ledger.addUser("ada", "803-555-0101")
	b.ledger.addAccount("acc-a", "ada", models.AccountPersonal)
	b.ledger.addPool("pa-main", "acc-a", 1000, true)
	b.ledger.addPool("pa-save", "acc-a", 500, false)

	b.ledger.addUser("bola", "803-555-0202")
	b.ledger.addAccount("acc-b", "bola", models.AccountPersonal)
	b.ledger.addPool("pb-main", "acc-b", 100, true)
}
