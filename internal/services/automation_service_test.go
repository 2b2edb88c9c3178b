package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankledger/internal/models"
	"bankledger/internal/money"
	"bankledger/internal/recurrence"
)

var sevenAM = recurrence.TimeOfDay{Hour: 7}

func mustRule(rule recurrence.Rule, err error) recurrence.Rule {
	if err != nil {
		panic(err)
	}
	return rule
}

func (b *testBed) addAutomation(id, owner, source string, kind models.AutomationType, dest models.Destination, amount money.Amount, rule recurrence.Rule, nextRun time.Time) {
	b.ledger.automations[id] = models.Automation{
		ID:          id,
		OwnerID:     owner,
		Name:        "Automation " + id,
		Type:        kind,
		SourcePool:  source,
		Destination: dest,
		Amount:      amount,
		Rule:        rule,
		IsActive:    true,
		NextRun:     nextRun,
	}
}

func TestAutomationCreatePoolTransfer(t *testing.T) {
	bed := newTestBed()
	bed.seedTwoUsers()
	daily := mustRule(recurrence.Daily(sevenAM))

	automation, err := bed.automations.Create(context.Background(), CreateAutomationInput{
		OwnerID:      "ada",
		Name:         "Save daily",
		Type:         models.AutomationPoolTransfer,
		SourcePoolID: "pa-main",
		Destination:  models.ToPool("pa-save"),
		Amount:       money.Percent(decimal.NewFromInt(10)),
		Rule:         daily,
	})
	require.NoError(t, err)
	assert.True(t, automation.IsActive)
	assert.Equal(t, time.Date(2024, 1, 11, 7, 0, 0, 0, time.UTC), automation.NextRun)
	assert.Equal(t, models.ToPool("pa-save"), bed.ledger.automations[automation.ID].Destination)
	assert.Len(t, bed.ledger.outboxOf(models.TopicCacheInvalidation), 1)
}

func TestAutomationCreateBankTransferDestinations(t *testing.T) {
	bed := newTestBed()
	bed.seedTwoUsers()
	weekly := mustRule(recurrence.Weekly(time.Friday, sevenAM))

	internal, err := bed.automations.Create(context.Background(), CreateAutomationInput{
		OwnerID:      "ada",
		Type:         models.AutomationBankTransfer,
		SourcePoolID: "pa-main",
		Recipient:    &RecipientRef{Phone: "8035550202", Kind: models.AccountPersonal},
		Amount:       money.Absolute(5000),
		Rule:         weekly,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ToAccount("acc-b"), internal.Destination)
	assert.Equal(t, "bank_transfer", internal.Name)

	external, err := bed.automations.Create(context.Background(), CreateAutomationInput{
		OwnerID:      "ada",
		Type:         models.AutomationBankTransfer,
		SourcePoolID: "pa-main",
		External:     &ExternalRef{AccountNumber: "0123456789", BankName: "Access"},
		Amount:       money.Absolute(5000),
		Rule:         weekly,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DestinationExternalAccount, external.Destination.Kind)
	assert.Contains(t, bed.ledger.externals, external.Destination.ID)
}

func TestAutomationCreateValidation(t *testing.T) {
	daily, err := recurrence.Daily(sevenAM)
	require.NoError(t, err)
	base := CreateAutomationInput{
		OwnerID:      "ada",
		Type:         models.AutomationPoolTransfer,
		SourcePoolID: "pa-main",
		Destination:  models.ToPool("pa-save"),
		Amount:       money.Absolute(100),
		Rule:         daily,
	}
	cases := []struct {
		name   string
		mutate func(*CreateAutomationInput)
		want   error
	}{
		{"percentage over 100", func(in *CreateAutomationInput) { in.Amount = money.Percent(decimal.NewFromInt(150)) }, ErrInvalidAmount},
		{"missing rule", func(in *CreateAutomationInput) { in.Rule = recurrence.Rule{} }, ErrInvalidSchedule},
		{"source owned by another user", func(in *CreateAutomationInput) { in.SourcePoolID = "pb-main" }, ErrUnauthorizedPool},
		{"destination pool of another user", func(in *CreateAutomationInput) { in.Destination = models.ToPool("pb-main") }, ErrUnauthorizedPool},
		{"pool transfer to an account", func(in *CreateAutomationInput) { in.Destination = models.ToAccount("acc-b") }, ErrInvalidDestination},
		{"same pool", func(in *CreateAutomationInput) { in.Destination = models.ToPool("pa-main") }, ErrSamePool},
		{"bank transfer to a pool", func(in *CreateAutomationInput) { in.Type = models.AutomationBankTransfer }, ErrInvalidDestination},
		{"missing source", func(in *CreateAutomationInput) { in.SourcePoolID = "ghost" }, ErrPoolNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bed := newTestBed()
			bed.seedTwoUsers()
			in := base
			tc.mutate(&in)
			_, err := bed.automations.Create(context.Background(), in)
			require.ErrorIs(t, err, tc.want)
			assert.Empty(t, bed.ledger.automations)
		})
	}
}

func TestRunDueSkipsUnderfundedAndRunsTheRest(t *testing.T) {
	bed := newTestBed()
	bed.seedTwoUsers()
	now := bed.clock.now
	daily := mustRule(recurrence.Daily(sevenAM))
	monthly := mustRule(recurrence.LastDayOfMonth(sevenAM))

	bed.addAutomation("a1", "ada", "pa-save", models.AutomationPoolTransfer, models.ToPool("pa-main"), money.Absolute(900), daily, now.Add(-time.Hour))
	bed.addAutomation("a2", "ada", "pa-main", models.AutomationBankTransfer, models.ToAccount("acc-b"), money.Absolute(100), daily, now)
	bed.addAutomation("a3", "ada", "pa-main", models.AutomationPoolTransfer, models.ToPool("pa-save"), money.Absolute(1), monthly, now.Add(time.Hour))

	summary, err := bed.automations.RunDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Due: 2, Executed: 1, Skipped: 1}, summary)

	skipped := bed.ledger.automations["a1"]
	assert.True(t, skipped.IsActive)
	assert.Nil(t, skipped.LastRun)
	assert.Equal(t, now.Add(-time.Hour), skipped.NextRun)
	assert.Equal(t, int64(500), bed.ledger.pools["pa-save"].Balance)

	ran := bed.ledger.automations["a2"]
	require.NotNil(t, ran.LastRun)
	assert.Equal(t, now, *ran.LastRun)
	assert.Equal(t, time.Date(2024, 1, 11, 7, 0, 0, 0, time.UTC), ran.NextRun)
	assert.Equal(t, int64(200), bed.ledger.pools["pb-main"].Balance)

	require.Len(t, bed.ledger.payments, 1)
	for _, payment := range bed.ledger.payments {
		assert.Equal(t, models.PaymentBankTransferAutomation, payment.Kind)
		assert.Regexp(t, `^ATB-`, payment.Reference)
	}
	executed := notificationsOfType(t, bed, models.NotifyAutomationExecuted)
	require.Len(t, executed, 1)
	assert.Equal(t, "a2", executed[0].ReferenceID)
	assert.Equal(t, 1, bed.waker.wakes)

	assert.Nil(t, bed.ledger.automations["a3"].LastRun)
}

func TestRunDueReachesFundedAutomationBehindFullPageOfUnderfunded(t *testing.T) {
	bed := newTestBed()
	bed.seedTwoUsers()
	bed.automations.batchSize = 2
	now := bed.clock.now
	daily := mustRule(recurrence.Daily(sevenAM))

	for _, id := range []string{"u1", "u2", "u3"} {
		bed.addAutomation(id, "ada", "pa-save", models.AutomationPoolTransfer, models.ToPool("pa-main"), money.Absolute(900), daily, now.Add(-48*time.Hour))
	}
	bed.addAutomation("funded", "ada", "pa-main", models.AutomationBankTransfer, models.ToAccount("acc-b"), money.Absolute(100), daily, now.Add(-time.Hour))

	for cycle := 0; cycle < 2; cycle++ {
		summary, err := bed.automations.RunDue(context.Background(), now)
		require.NoError(t, err)
		if cycle == 0 {
			assert.Equal(t, RunSummary{Due: 4, Executed: 1, Skipped: 3}, summary)
		} else {
			assert.Equal(t, RunSummary{Due: 3, Skipped: 3}, summary)
		}
	}

	ran := bed.ledger.automations["funded"]
	require.NotNil(t, ran.LastRun)
	assert.True(t, ran.NextRun.After(now))
	assert.Equal(t, int64(200), bed.ledger.pools["pb-main"].Balance)
	for _, id := range []string{"u1", "u2", "u3"} {
		assert.Equal(t, now.Add(-48*time.Hour), bed.ledger.automations[id].NextRun)
	}
}

func TestRunDueDoesNotFetchAnotherPageAfterCancel(t *testing.T) {
	bed := newTestBed()
	bed.seedTwoUsers()
	bed.automations.batchSize = 1
	now := bed.clock.now
	daily := mustRule(recurrence.Daily(sevenAM))
	bed.addAutomation("a1", "ada", "pa-main", models.AutomationBankTransfer, models.ToAccount("acc-b"), money.Absolute(10), daily, now.Add(-2*time.Hour))
	bed.addAutomation("a2", "ada", "pa-main", models.AutomationBankTransfer, models.ToAccount("acc-b"), money.Absolute(10), daily, now.Add(-time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	bed.ledger.hooks["automations.claim"] = cancel
	pages := 0
	bed.ledger.hooks["automations.due"] = func() { pages++ }

	summary, err := bed.automations.RunDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Due: 1, Executed: 1}, summary)
	assert.Equal(t, 1, pages)
	assert.NotNil(t, bed.ledger.automations["a1"].LastRun)
	assert.Nil(t, bed.ledger.automations["a2"].LastRun)
	assert.Equal(t, 1, bed.waker.wakes)
}

func TestRunDueMonthlyFromJanuary31LandsOnLastDayOfFebruary(t *testing.T) {
	bed := newTestBed()
	bed.seedTwoUsers()
	jan31 := time.Date(2024, 1, 31, 7, 0, 0, 0, time.UTC)
	bed.clock.now = jan31
	monthly := mustRule(recurrence.FromParts("monthly", "07:00", nil, nil))
	bed.addAutomation("m1", "ada", "pa-main", models.AutomationPoolTransfer, models.ToPool("pa-save"), money.Percent(decimal.NewFromInt(10)), monthly, jan31)

	summary, err := bed.automations.RunDue(context.Background(), jan31)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Executed)
	assert.Equal(t, time.Date(2024, 2, 29, 7, 0, 0, 0, time.UTC), bed.ledger.automations["m1"].NextRun)
	assert.Equal(t, int64(900), bed.ledger.pools["pa-main"].Balance)
	assert.Equal(t, int64(600), bed.ledger.pools["pa-save"].Balance)
	assert.Empty(t, bed.ledger.entries)
}

func TestRunDuePermanentFailureAdvancesSchedule(t *testing.T) {
	bed := newTestBed()
	bed.seedTwoUsers()
	now := bed.clock.now
	daily := mustRule(recurrence.Daily(sevenAM))
	pool := bed.ledger.pools["pa-main"]
	pool.IsLocked = true
	bed.ledger.pools["pa-main"] = pool
	bed.addAutomation("locked", "ada", "pa-main", models.AutomationPoolTransfer, models.ToPool("pa-save"), money.Absolute(10), daily, now)

	summary, err := bed.automations.RunDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Due: 1, Failed: 1}, summary)
	automation := bed.ledger.automations["locked"]
	assert.Equal(t, daily.Next(now), automation.NextRun)
	assert.Nil(t, automation.LastRun)
	assert.True(t, automation.IsActive)
}

func TestRunDueTransientFailureRetriesNextPoll(t *testing.T) {
	bed := newTestBed()
	bed.seedTwoUsers()
	now := bed.clock.now
	daily := mustRule(recurrence.Daily(sevenAM))
	bed.addAutomation("flaky", "ada", "pa-main", models.AutomationPoolTransfer, models.ToPool("pa-save"), money.Absolute(10), daily, now)
	bed.ledger.fail["payments.create"] = errors.New("connection refused")

	summary, err := bed.automations.RunDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, now, bed.ledger.automations["flaky"].NextRun)

	delete(bed.ledger.fail, "payments.create")
	summary, err = bed.automations.RunDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Executed)
}

func TestRunDueRecoversFromPanics(t *testing.T) {
	bed := newTestBed()
	bed.seedTwoUsers()
	now := bed.clock.now
	daily := mustRule(recurrence.Daily(sevenAM))
	bed.addAutomation("a1", "ada", "pa-main", models.AutomationPoolTransfer, models.ToPool("pa-save"), money.Absolute(10), daily, now)
	bed.addAutomation("a2", "ada", "pa-main", models.AutomationPoolTransfer, models.ToPool("pa-save"), money.Absolute(10), daily, now)
	claims := 0
	bed.ledger.hooks["automations.claim"] = func() {
		claims++
		if claims == 1 {
			panic("driver exploded")
		}
	}

	summary, err := bed.automations.RunDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Due: 2, Executed: 1, Failed: 1}, summary)
}

func TestRunDueStopsStartingWorkAfterCancel(t *testing.T) {
	bed := newTestBed()
	bed.seedTwoUsers()
	now := bed.clock.now
	daily := mustRule(recurrence.Daily(sevenAM))
	bed.addAutomation("a1", "ada", "pa-main", models.AutomationPoolTransfer, models.ToPool("pa-save"), money.Absolute(10), daily, now)
	bed.addAutomation("a2", "ada", "pa-main", models.AutomationPoolTransfer, models.ToPool("pa-save"), money.Absolute(10), daily, now)

	ctx, cancel := context.WithCancel(context.Background())
	bed.ledger.hooks["automations.claim"] = cancel

	summary, err := bed.automations.RunDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, RunSummary{Due: 2, Executed: 1}, summary)
	assert.Len(t, bed.ledger.payments, 1)
}

func TestRunDueReturnsListingErrors(t *testing.T) {
	bed := newTestBed()
	bed.ledger.fail["automations.due"] = errors.New("store unavailable")
	_, err := bed.automations.RunDue(context.Background(), bed.clock.now)
	assert.ErrorContains(t, err, "store unavailable")
}

func TestAutomationPauseResumeAndReschedule(t *testing.T) {
	bed := newTestBed()
	bed.seedTwoUsers()
	ctx := context.Background()
	daily := mustRule(recurrence.Daily(sevenAM))
	bed.addAutomation("a1", "ada", "pa-main", models.AutomationPoolTransfer, models.ToPool("pa-save"), money.Absolute(10), daily, bed.clock.now)

	_, err := bed.automations.SetActive(ctx, "bola", "a1", false)
	assert.ErrorIs(t, err, ErrAutomationNotFound)

	paused, err := bed.automations.SetActive(ctx, "ada", "a1", false)
	require.NoError(t, err)
	assert.False(t, paused.IsActive)
	summary, err := bed.automations.RunDue(ctx, bed.clock.now)
	require.NoError(t, err)
	assert.Zero(t, summary.Due)

	bed.clock.Advance(72 * time.Hour)
	resumed, err := bed.automations.SetActive(ctx, "ada", "a1", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 14, 7, 0, 0, 0, time.UTC), resumed.NextRun)

	weekly := mustRule(recurrence.Weekly(time.Monday, recurrence.TimeOfDay{Hour: 9, Minute: 15}))
	rescheduled, err := bed.automations.UpdateSchedule(ctx, "ada", "a1", weekly)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 22, 9, 15, 0, 0, time.UTC), rescheduled.NextRun)
	assert.Equal(t, recurrence.FrequencyWeekly, bed.ledger.automations["a1"].Rule.Frequency())

	_, err = bed.automations.UpdateSchedule(ctx, "ada", "a1", recurrence.Rule{})
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	listed, err := bed.automations.List(ctx, "ada")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
	_, err = bed.automations.Get(ctx, "bola", "a1")
	assert.ErrorIs(t, err, ErrAutomationNotFound)
}
