package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"bankledger/internal/models"
	"bankledger/internal/money"
	"bankledger/internal/recurrence"
)

type AutomationStore struct {
	db DB
}

type automationRow struct {
	ID                    string              `db:"id"`
	OwnerID               string              `db:"owner_id"`
	Name                  string              `db:"name"`
	Type                  string              `db:"automation_type"`
	SourcePoolID          string              `db:"source_pool_id"`
	DestinationPoolID     *string             `db:"destination_pool_id"`
	DestinationAccountID  *string             `db:"destination_account_id"`
	DestinationExternalID *string             `db:"destination_external_id"`
	Amount                *int64              `db:"amount"`
	Percentage            decimal.NullDecimal `db:"percentage"`
	IsActive              bool                `db:"is_active"`
	LastRun               *time.Time          `db:"last_run"`
	NextRun               time.Time           `db:"next_run"`
	CreatedAt             time.Time           `db:"created_at"`
	Frequency             string              `db:"frequency"`
	ExecutionTime         string              `db:"execution_time"`
	DayOfWeek             *int                `db:"day_of_week"`
	DayOfMonth            *int                `db:"day_of_month"`
}

const automationSelect = `
	SELECT a.id, a.owner_id, a.name, a.automation_type, a.source_pool_id, a.destination_pool_id,
	       a.destination_account_id, a.destination_external_id, a.amount, a.percentage, a.is_active,
	       a.last_run, a.next_run, a.created_at,
	       d.frequency, to_char(d.execution_time, 'HH24:MI') AS execution_time, d.day_of_week, d.day_of_month
	FROM banking_automations a
	JOIN automation_schedule_details d ON d.automation_id = a.id
`

func NewAutomationStore(db DB) *AutomationStore {
	return &AutomationStore{db: db}
}

func (s *AutomationStore) Create(ctx context.Context, tx Execer, a models.Automation) error {
	var poolID, accountID, externalID *string
	switch a.Destination.Kind {
	case models.DestinationPool:
		poolID = &a.Destination.ID
	case models.DestinationAccount:
		accountID = &a.Destination.ID
	case models.DestinationExternalAccount:
		externalID = &a.Destination.ID
	default:
		return fmt.Errorf("unsupported destination kind %q", a.Destination.Kind)
	}
	amount, percentage := a.Amount.Columns()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO banking_automations (id, owner_id, name, automation_type, source_pool_id, destination_pool_id,
			destination_account_id, destination_external_id, amount, percentage, is_active, next_run)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.ID, a.OwnerID, a.Name, a.Type, a.SourcePool, poolID, accountID, externalID, amount, percentage, a.IsActive, a.NextRun)
	if err != nil {
		return err
	}
	frequency, executionTime, dayOfWeek, dayOfMonth := ruleColumns(a.Rule)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO automation_schedule_details (automation_id, frequency, execution_time, day_of_week, day_of_month)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, frequency, executionTime, dayOfWeek, dayOfMonth)
	return err
}

func (s *AutomationStore) GetByID(ctx context.Context, automationID string) (models.Automation, error) {
	var row automationRow
	if err := s.db.GetContext(ctx, &row, automationSelect+` WHERE a.id = $1`, automationID); err != nil {
		return models.Automation{}, err
	}
	return row.toModel()
}

func (s *AutomationStore) GetForUpdate(ctx context.Context, tx Getter, automationID string) (models.Automation, error) {
	var row automationRow
	if err := tx.GetContext(ctx, &row, automationSelect+` WHERE a.id = $1 FOR UPDATE OF a`, automationID); err != nil {
		return models.Automation{}, err
	}
	return row.toModel()
}

func (s *AutomationStore) ListByOwner(ctx context.Context, ownerID string) ([]models.Automation, error) {
	var rows []automationRow
	if err := s.db.SelectContext(ctx, &rows, automationSelect+` WHERE a.owner_id = $1 ORDER BY a.created_at DESC, a.id`, ownerID); err != nil {
		return nil, err
	}
	automations := make([]models.Automation, 0, len(rows))
	for _, row := range rows {
		a, err := row.toModel()
		if err != nil {
			return nil, err
		}
		automations = append(automations, a)
	}
	return automations, nil
}

// DueRef is a due automation's position in (next_run, id) order.
type DueRef struct {
	ID      string    `db:"id"`
	NextRun time.Time `db:"next_run"`
}

// ListDue returns up to limit due automations strictly after the cursor.
// The zero DueRef starts from the beginning.
func (s *AutomationStore) ListDue(ctx context.Context, now time.Time, after DueRef, limit int) ([]DueRef, error) {
	var refs []DueRef
	err := s.db.SelectContext(ctx, &refs, `
		SELECT id, next_run
		FROM banking_automations
		WHERE is_active = TRUE AND next_run <= $1 AND (next_run, id) > ($2, $3)
		ORDER BY next_run, id
		LIMIT $4
	`, now, after.NextRun, after.ID, limit)
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// ClaimDue locks the automation if it is still active and due. Rows held
// by another worker, or no longer due, yield sql.ErrNoRows.
func (s *AutomationStore) ClaimDue(ctx context.Context, tx Getter, automationID string, now time.Time) (models.Automation, error) {
	var row automationRow
	err := tx.GetContext(ctx, &row, automationSelect+`
		WHERE a.id = $1 AND a.is_active = TRUE AND a.next_run <= $2
		FOR UPDATE OF a SKIP LOCKED
	`, automationID, now)
	if err != nil {
		return models.Automation{}, err
	}
	return row.toModel()
}

func (s *AutomationStore) MarkRun(ctx context.Context, tx Execer, automationID string, lastRun, nextRun time.Time) error {
	return expectOneRow(tx.ExecContext(ctx, `
		UPDATE banking_automations
		SET last_run = $1, next_run = $2, updated_at = NOW()
		WHERE id = $3
	`, lastRun, nextRun, automationID))
}

func (s *AutomationStore) SetNextRun(ctx context.Context, tx Execer, automationID string, nextRun time.Time) error {
	return expectOneRow(tx.ExecContext(ctx, `
		UPDATE banking_automations
		SET next_run = $1, updated_at = NOW()
		WHERE id = $2
	`, nextRun, automationID))
}

func (s *AutomationStore) UpdateSchedule(ctx context.Context, tx Execer, automationID string, rule recurrence.Rule, nextRun time.Time) error {
	frequency, executionTime, dayOfWeek, dayOfMonth := ruleColumns(rule)
	if err := expectOneRow(tx.ExecContext(ctx, `
		UPDATE automation_schedule_details
		SET frequency = $1, execution_time = $2, day_of_week = $3, day_of_month = $4
		WHERE automation_id = $5
	`, frequency, executionTime, dayOfWeek, dayOfMonth, automationID)); err != nil {
		return err
	}
	return s.SetNextRun(ctx, tx, automationID, nextRun)
}

func (s *AutomationStore) SetActive(ctx context.Context, tx Execer, automationID string, active bool, nextRun time.Time) error {
	return expectOneRow(tx.ExecContext(ctx, `
		UPDATE banking_automations
		SET is_active = $1, next_run = $2, updated_at = NOW()
		WHERE id = $3
	`, active, nextRun, automationID))
}

func ruleColumns(rule recurrence.Rule) (string, string, *int, *int) {
	var dayOfWeek, dayOfMonth *int
	if weekday, ok := rule.DayOfWeek(); ok {
		value := int(weekday)
		dayOfWeek = &value
	}
	if dom, ok := rule.DayOfMonth(); ok {
		dayOfMonth = &dom
	}
	return string(rule.Frequency()), rule.ExecutionTime().String(), dayOfWeek, dayOfMonth
}

func (r automationRow) toModel() (models.Automation, error) {
	rule, err := recurrence.FromParts(r.Frequency, r.ExecutionTime, r.DayOfWeek, r.DayOfMonth)
	if err != nil {
		return models.Automation{}, fmt.Errorf("automation %s schedule: %w", r.ID, err)
	}
	amount, err := money.FromParts(r.Amount, r.Percentage)
	if err != nil {
		return models.Automation{}, fmt.Errorf("automation %s amount: %w", r.ID, err)
	}
	var destination models.Destination
	switch {
	case r.DestinationPoolID != nil:
		destination = models.ToPool(*r.DestinationPoolID)
	case r.DestinationAccountID != nil:
		destination = models.ToAccount(*r.DestinationAccountID)
	case r.DestinationExternalID != nil:
		destination = models.ToExternal(*r.DestinationExternalID)
	default:
		return models.Automation{}, fmt.Errorf("automation %s has no destination", r.ID)
	}
	return models.Automation{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Name:        r.Name,
		Type:        models.AutomationType(r.Type),
		SourcePool:  r.SourcePoolID,
		Destination: destination,
		Amount:      amount,
		Rule:        rule,
		IsActive:    r.IsActive,
		LastRun:     r.LastRun,
		NextRun:     r.NextRun,
		CreatedAt:   r.CreatedAt,
	}, nil
}
