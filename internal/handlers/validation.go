package handlers

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bankledger/internal/models"
	"bankledger/internal/money"
	"bankledger/internal/recurrence"
	"bankledger/internal/services"
)

// amountInput carries either "amount" in naira ("1500.25") or
// "percentage" of the source pool ("12.5").
type amountInput struct {
	Amount     string `json:"amount,omitempty"`
	Percentage string `json:"percentage,omitempty"`
}

func (a amountInput) parse() (money.Amount, error) {
	amount := strings.TrimSpace(a.Amount)
	pct := strings.TrimSpace(a.Percentage)
	switch {
	case amount != "" && pct != "":
		return money.Amount{}, services.ErrInvalidAmount
	case amount != "":
		minor, err := parseAmountMinor(amount)
		if err != nil {
			return money.Amount{}, err
		}
		return money.Absolute(minor), nil
	case pct != "":
		value, err := decimal.NewFromString(pct)
		if err != nil {
			return money.Amount{}, services.ErrInvalidAmount
		}
		out := money.Percent(value)
		if err := out.Validate(); err != nil {
			return money.Amount{}, services.ErrInvalidAmount
		}
		return out, nil
	default:
		return money.Amount{}, services.ErrInvalidAmount
	}
}

func parseAmountMinor(raw string) (int64, error) {
	amount, err := money.ParseMinor(raw)
	if err != nil || amount <= 0 {
		return 0, services.ErrInvalidAmount
	}
	return amount, nil
}

type destinationInput struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

type recipientInput struct {
	Phone string `json:"phone"`
	Kind  string `json:"kind"`
}

type externalInput struct {
	AccountNumber string `json:"account_number"`
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
}

// target is the destination block shared by transfers and automations.
type target struct {
	Destination *destinationInput `json:"destination,omitempty"`
	Recipient   *recipientInput   `json:"recipient,omitempty"`
	External    *externalInput    `json:"external,omitempty"`
}

func (t target) parse() (models.Destination, *services.RecipientRef, *services.ExternalRef) {
	var dest models.Destination
	if t.Destination != nil {
		dest = models.Destination{Kind: models.DestinationKind(strings.TrimSpace(t.Destination.Kind)), ID: strings.TrimSpace(t.Destination.ID)}
	}
	var recipient *services.RecipientRef
	if t.Recipient != nil {
		kind := models.AccountKind(strings.ToLower(strings.TrimSpace(t.Recipient.Kind)))
		if kind == "" {
			kind = models.AccountPersonal
		}
		recipient = &services.RecipientRef{Phone: t.Recipient.Phone, Kind: kind}
	}
	var external *services.ExternalRef
	if t.External != nil {
		external = &services.ExternalRef{
			AccountNumber: strings.TrimSpace(t.External.AccountNumber),
			BankName:      strings.TrimSpace(t.External.BankName),
			AccountName:   strings.TrimSpace(t.External.AccountName),
		}
	}
	return dest, recipient, external
}

type scheduleInput struct {
	Frequency     string `json:"frequency"`
	ExecutionTime string `json:"execution_time"`
	DayOfWeek     *int   `json:"day_of_week,omitempty"`
	DayOfMonth    *int   `json:"day_of_month,omitempty"`
}

func (s scheduleInput) parse() (recurrence.Rule, error) {
	if s.DayOfWeek != nil && (*s.DayOfWeek < int(time.Sunday) || *s.DayOfWeek > int(time.Saturday)) {
		return recurrence.Rule{}, recurrence.ErrInvalidRule
	}
	return recurrence.FromParts(s.Frequency, s.ExecutionTime, s.DayOfWeek, s.DayOfMonth)
}

func scheduleView(rule recurrence.Rule) scheduleInput {
	view := scheduleInput{
		Frequency:     string(rule.Frequency()),
		ExecutionTime: rule.ExecutionTime().String(),
	}
	if weekday, ok := rule.DayOfWeek(); ok {
		d := int(weekday)
		view.DayOfWeek = &d
	}
	if dom, ok := rule.DayOfMonth(); ok {
		view.DayOfMonth = &dom
	}
	return view
}
