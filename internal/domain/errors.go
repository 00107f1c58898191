package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain error conditions.
// Use errors.Is() for matching - never compare error strings.
var (
	// Resource errors
	ErrNotFound = errors.New("resource not found")

	// Validation errors
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidPhoneNumber = errors.New("invalid phone number format")

	// Issuance errors. The specializations wrap ErrRateLimited so callers
	// can match either the class or the exact policy that denied.
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrResendCooldown    = fmt.Errorf("resend cooldown has not elapsed: %w", ErrRateLimited)
	ErrPhoneRateLimited  = fmt.Errorf("phone number rate limit exceeded: %w", ErrRateLimited)
	ErrOriginRateLimited = fmt.Errorf("request origin rate limit exceeded: %w", ErrRateLimited)
	ErrDeliveryFailed    = errors.New("OTP delivery failed")

	// Verification outcomes
	ErrInvalidOTP        = errors.New("invalid OTP")
	ErrOTPExpired        = errors.New("OTP has expired")
	ErrOTPLocked         = errors.New("OTP challenge is locked")
	ErrChallengeNotFound = fmt.Errorf("no active OTP challenge: %w", ErrNotFound)

	// Operational errors
	ErrUnavailable = errors.New("service temporarily unavailable")

	// Configuration errors
	ErrConfigRequired = errors.New("required configuration key missing")
	ErrConfigInvalid  = errors.New("invalid configuration value")
)

// IsRetryable returns true if the same request may succeed later without
// any change on the client side.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrDeliveryFailed)
}

// clientErrors enumerates domain errors caused by client input. Only
// ErrInvalidOTP is recoverable by retrying with a different code; the
// others require a fresh challenge or corrected input.
var clientErrors = []error{
	ErrInvalidInput,
	ErrInvalidPhoneNumber,
	ErrNotFound,
	ErrInvalidOTP,
	ErrOTPExpired,
	ErrOTPLocked,
}

// IsClientError returns true if the error represents a client-side issue
// that will not succeed on retry without client-side changes.
func IsClientError(err error) bool {
	for _, target := range clientErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
