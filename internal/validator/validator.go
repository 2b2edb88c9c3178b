package validator

import (
	"errors"
	"regexp"
	"strings"

	"bankledger/internal/models"
)

var (
	ErrInvalidPhone         = errors.New("invalid phone number")
	ErrInvalidAccountKind   = errors.New("invalid account kind")
	ErrInvalidAccountNumber = errors.New("invalid account number")
	ErrInvalidName          = errors.New("invalid name")
)

var (
	canonicalPhoneRegex = regexp.MustCompile(`^\d{3}-\d{3}-\d{4}$`)
	accountNumberRegex  = regexp.MustCompile(`^\d{10}$`)
)

// PhoneDigits returns the last ten digits of a phone number in any
// notation ("+234 803 555 0101", "(803) 555-0101").
func PhoneDigits(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 10 {
		return "", ErrInvalidPhone
	}
	return digits[len(digits)-10:], nil
}

// CanonicalPhone formats a phone number as XXX-XXX-XXXX, the form phone
// numbers are stored and looked up in.
func CanonicalPhone(phone string) (string, error) {
	digits, err := PhoneDigits(phone)
	if err != nil {
		return "", err
	}
	return digits[:3] + "-" + digits[3:6] + "-" + digits[6:], nil
}

func IsCanonicalPhone(phone string) bool {
	return canonicalPhoneRegex.MatchString(phone)
}

func ParseAccountKind(raw string) (models.AccountKind, error) {
	kind := models.AccountKind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", ErrInvalidAccountKind
	}
	return kind, nil
}

func ValidateAccountNumber(number string) error {
	if !accountNumberRegex.MatchString(number) {
		return ErrInvalidAccountNumber
	}
	return nil
}

func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" || len(trimmed) > 100 {
		return ErrInvalidName
	}
	return nil
}
