package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
)

var hundred = decimal.NewFromInt(100)

// ParseMinor converts a major-unit string such as "1500.25" into kobo.
func ParseMinor(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, ErrInvalidAmount
	}
	sign := int64(1)
	switch trimmed[0] {
	case '-':
		sign = -1
		trimmed = trimmed[1:]
	case '+':
		trimmed = trimmed[1:]
	}
	if trimmed == "" || trimmed == "." {
		return 0, ErrInvalidAmount
	}
	wholePart, fracPart, _ := strings.Cut(trimmed, ".")
	if wholePart == "" {
		wholePart = "0"
	}
	if !isDigits(wholePart) || !isDigits(fracPart) {
		return 0, ErrInvalidAmount
	}
	if len(fracPart) > 2 {
		return 0, ErrTooManyDecimals
	}
	whole, err := strconv.ParseInt(wholePart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	frac := int64(0)
	for i := 0; i < 2; i++ {
		frac *= 10
		if i < len(fracPart) {
			frac += int64(fracPart[i] - '0')
		}
	}
	if whole > (math.MaxInt64-frac)/100 {
		return 0, ErrInvalidAmount
	}
	return sign * (whole*100 + frac), nil
}

func FormatMinor(value int64) string {
	negative := value < 0
	if negative {
		value = -value
	}
	formatted := fmt.Sprintf("%d.%02d", value/100, value%100)
	if negative {
		return "-" + formatted
	}
	return formatted
}

// Display renders kobo with a naira sign and thousands separators.
func Display(value int64) string {
	return "₦" + groupThousands(FormatMinor(value))
}

func groupThousands(formatted string) string {
	sign := ""
	if strings.HasPrefix(formatted, "-") {
		sign, formatted = "-", formatted[1:]
	}
	whole, frac, _ := strings.Cut(formatted, ".")
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "." + frac
}

// Amount is either an absolute value in kobo or a percentage of the
// source pool's balance at execution time. Exactly one is set.
type Amount struct {
	Minor      int64
	Percentage decimal.NullDecimal
}

func Absolute(minor int64) Amount {
	return Amount{Minor: minor}
}

func Percent(pct decimal.Decimal) Amount {
	return Amount{Percentage: decimal.NewNullDecimal(pct)}
}

// FromParts builds an Amount from optional persisted columns.
func FromParts(minor *int64, pct decimal.NullDecimal) (Amount, error) {
	switch {
	case minor != nil && pct.Valid:
		return Amount{}, ErrInvalidAmount
	case minor != nil:
		a := Absolute(*minor)
		return a, a.Validate()
	case pct.Valid:
		a := Percent(pct.Decimal)
		return a, a.Validate()
	default:
		return Amount{}, ErrInvalidAmount
	}
}

func (a Amount) IsPercentage() bool {
	return a.Percentage.Valid
}

func (a Amount) Validate() error {
	if a.Percentage.Valid {
		if a.Minor != 0 {
			return ErrInvalidAmount
		}
		if !a.Percentage.Decimal.IsPositive() || a.Percentage.Decimal.GreaterThan(hundred) {
			return ErrInvalidAmount
		}
		return nil
	}
	if a.Minor <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Resolve returns the kobo value against balance. Percentages round down
// so a 100% transfer never exceeds the balance it was computed from.
func (a Amount) Resolve(balance int64) int64 {
	if !a.Percentage.Valid {
		return a.Minor
	}
	if balance <= 0 {
		return 0
	}
	return decimal.NewFromInt(balance).Mul(a.Percentage.Decimal).Div(hundred).Floor().IntPart()
}

// Columns splits the amount into its nullable persisted form.
func (a Amount) Columns() (*int64, decimal.NullDecimal) {
	if a.Percentage.Valid {
		return nil, a.Percentage
	}
	minor := a.Minor
	return &minor, decimal.NullDecimal{}
}

func (a Amount) String() string {
	if a.Percentage.Valid {
		return a.Percentage.Decimal.String() + "%"
	}
	return FormatMinor(a.Minor)
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
