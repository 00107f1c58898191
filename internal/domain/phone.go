package domain

import (
	"fmt"
	"strings"
)

// Defaults for the recognized country and mobile numbering plan.
const (
	DefaultCountryCode    = "91"
	DefaultMobileLeadings = "6789"
	nationalNumberLength  = 10
)

// PhoneNumber is a value object holding a canonical E.164 mobile number
// (e.g. "+919876543210"). Always valid in memory; obtain one from a
// PhoneValidator or NewPhoneNumber.
type PhoneNumber struct {
	value string
}

func (p PhoneNumber) String() string { return p.value }
func (p PhoneNumber) IsZero() bool   { return p.value == "" }

// National returns the 10 significant digits without the country code.
func (p PhoneNumber) National() string {
	if len(p.value) < nationalNumberLength {
		return ""
	}
	return p.value[len(p.value)-nationalNumberLength:]
}

// PhoneValidator normalizes raw user input into a PhoneNumber. It is pure:
// the same input always yields the same canonical number or the same error.
type PhoneValidator struct {
	countryCode string
	leadings    string
}

// NewPhoneValidator creates a validator for the given country calling code
// (digits only, e.g. "91") and set of allowed leading national digits
// (e.g. "6789"). Empty arguments fall back to the defaults.
func NewPhoneValidator(countryCode, mobileLeadings string) *PhoneValidator {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}
	if mobileLeadings == "" {
		mobileLeadings = DefaultMobileLeadings
	}
	return &PhoneValidator{countryCode: countryCode, leadings: mobileLeadings}
}

var defaultPhoneValidator = NewPhoneValidator("", "")

// DefaultPhoneValidator returns the validator for the default numbering plan.
func DefaultPhoneValidator() *PhoneValidator { return defaultPhoneValidator }

// NewPhoneNumber normalizes raw with the default numbering plan.
func NewPhoneNumber(raw string) (PhoneNumber, error) {
	return defaultPhoneValidator.Normalize(raw)
}

// MustPhoneNumber normalizes raw, panicking on invalid input. Use only in tests.
func MustPhoneNumber(raw string) PhoneNumber {
	p, err := NewPhoneNumber(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// Normalize strips spaces, dashes and parentheses from raw, removes an
// optional "+<cc>", "<cc>" or trunk "0" prefix, and requires exactly 10
// national digits starting with a recognized mobile digit.
func (v *PhoneValidator) Normalize(raw string) (PhoneNumber, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PhoneNumber{}, fmt.Errorf("phone number cannot be empty: %w", ErrInvalidPhoneNumber)
	}

	plus := strings.HasPrefix(trimmed, "+")
	if plus {
		trimmed = trimmed[1:]
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '(', r == ')':
		default:
			return PhoneNumber{}, fmt.Errorf("phone number %q contains %q: %w", raw, r, ErrInvalidPhoneNumber)
		}
	}
	digits := b.String()

	national, ok := v.stripPrefix(digits, plus)
	if !ok {
		return PhoneNumber{}, fmt.Errorf("phone number %q is not a %d-digit mobile number: %w",
			raw, nationalNumberLength, ErrInvalidPhoneNumber)
	}
	if !strings.ContainsRune(v.leadings, rune(national[0])) {
		return PhoneNumber{}, fmt.Errorf("phone number %q has no mobile prefix: %w", raw, ErrInvalidPhoneNumber)
	}

	return PhoneNumber{value: "+" + v.countryCode + national}, nil
}

// stripPrefix returns the national significant number. A leading '+' must
// be followed by the recognized country code.
func (v *PhoneValidator) stripPrefix(digits string, plus bool) (string, bool) {
	withCC := len(v.countryCode) + nationalNumberLength
	switch {
	case len(digits) == withCC && strings.HasPrefix(digits, v.countryCode):
		return digits[len(v.countryCode):], true
	case plus:
		return "", false
	case len(digits) == nationalNumberLength:
		return digits, true
	case len(digits) == nationalNumberLength+1 && digits[0] == '0':
		return digits[1:], true
	default:
		return "", false
	}
}
