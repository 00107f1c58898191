package domain

import (
	"fmt"
	"time"
)

// OTPPolicy holds the tunable parameters of the OTP flow. The compiled
// defaults are representative values, not mandated ones.
type OTPPolicy struct {
	CodeTTL             time.Duration
	ResendCooldown      time.Duration
	MaxAttempts         int
	IssueWindow         time.Duration
	IssueLimitPerPhone  int
	IssueLimitPerOrigin int
	VerifyLimitPerPhone int // 0 disables verify-call limiting
	Retention           time.Duration
	DeliveryTimeout     time.Duration
}

// DefaultOTPPolicy returns the compiled defaults from constants.go.
func DefaultOTPPolicy() OTPPolicy {
	return OTPPolicy{
		CodeTTL:             OTPValidityDuration,
		ResendCooldown:      OTPResendCooldown,
		MaxAttempts:         MaxOTPVerifyAttempts,
		IssueWindow:         OTPIssueWindow,
		IssueLimitPerPhone:  OTPIssueRateLimitPerPhone,
		IssueLimitPerOrigin: OTPIssueRateLimitPerOrigin,
		VerifyLimitPerPhone: OTPVerifyRateLimitPerPhone,
		Retention:           OTPChallengeRetention,
		DeliveryTimeout:     DeliveryTimeout,
	}
}

// Validate rejects policies that would make the flow unusable or unsafe.
func (p OTPPolicy) Validate() error {
	switch {
	case p.CodeTTL <= 0:
		return fmt.Errorf("%w: otp.code_ttl must be positive", ErrConfigInvalid)
	case p.ResendCooldown < 0:
		return fmt.Errorf("%w: otp.resend_cooldown must not be negative", ErrConfigInvalid)
	case p.MaxAttempts < 1:
		return fmt.Errorf("%w: otp.max_attempts must be at least 1", ErrConfigInvalid)
	case p.IssueWindow <= 0:
		return fmt.Errorf("%w: otp.issue_window must be positive", ErrConfigInvalid)
	case p.IssueLimitPerPhone < 1:
		return fmt.Errorf("%w: otp.issue_limit_per_phone must be at least 1", ErrConfigInvalid)
	case p.IssueLimitPerOrigin < p.IssueLimitPerPhone:
		return fmt.Errorf("%w: otp.issue_limit_per_origin must be >= otp.issue_limit_per_phone", ErrConfigInvalid)
	case p.VerifyLimitPerPhone < 0:
		return fmt.Errorf("%w: otp.verify_limit_per_phone must not be negative", ErrConfigInvalid)
	case p.Retention < 0:
		return fmt.Errorf("%w: otp.retention must not be negative", ErrConfigInvalid)
	case p.DeliveryTimeout <= 0:
		return fmt.Errorf("%w: otp.delivery_timeout must be positive", ErrConfigInvalid)
	}
	return nil
}
