package domain

import (
	"time"

	"github.com/google/uuid"
)

// ChallengeStatus is the lifecycle state of an OTP challenge.
type ChallengeStatus string

const (
	ChallengePending  ChallengeStatus = "pending"
	ChallengeVerified ChallengeStatus = "verified"
	ChallengeExpired  ChallengeStatus = "expired"
	ChallengeLocked   ChallengeStatus = "locked"
)

// IsTerminal reports whether no further transition is possible.
func (s ChallengeStatus) IsTerminal() bool {
	return s == ChallengeVerified || s == ChallengeExpired || s == ChallengeLocked
}

// IsValidChallengeStatus checks if a persisted status string is known.
func IsValidChallengeStatus(s ChallengeStatus) bool {
	return s == ChallengePending || s.IsTerminal()
}

// CodeSecret is the stored comparison secret for an issued code: a random
// per-challenge salt and the keyed hash of salt and code, both hex encoded.
type CodeSecret struct {
	Salt string
	Hash string
}

// Challenge is the server-side record of one outstanding OTP issuance.
// Stores mutate it only through Refresh and Attempt, under a per-phone lock
// or a version-conditioned write.
type Challenge struct {
	ID                string
	Phone             PhoneNumber
	Secret            CodeSecret
	CreatedAt         time.Time
	ExpiresAt         time.Time
	AttemptsRemaining int
	Status            ChallengeStatus
	ResendCount       int
	LastSentAt        time.Time
	Version           int64
}

// NewChallenge creates a Pending challenge with a full attempt budget.
func NewChallenge(phone PhoneNumber, secret CodeSecret, now time.Time, policy OTPPolicy) Challenge {
	return Challenge{
		ID:                uuid.NewString(),
		Phone:             phone,
		Secret:            secret,
		CreatedAt:         now,
		ExpiresAt:         now.Add(policy.CodeTTL),
		AttemptsRemaining: policy.MaxAttempts,
		Status:            ChallengePending,
		LastSentAt:        now,
	}
}

// IsActive reports whether the challenge can still be verified at now.
func (c *Challenge) IsActive(now time.Time) bool {
	return c.Status == ChallengePending && !now.After(c.ExpiresAt)
}

// CooldownRemaining returns how long until another code may be sent.
func (c *Challenge) CooldownRemaining(now time.Time, cooldown time.Duration) time.Duration {
	remaining := c.LastSentAt.Add(cooldown).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Refresh issues a new secret into an active challenge, resetting its
// expiry. The attempt budget carries over so that resending never grants a
// fresh budget. Returns a LimitError wrapping ErrResendCooldown while the
// cooldown is running.
func (c *Challenge) Refresh(secret CodeSecret, now time.Time, policy OTPPolicy) error {
	if remaining := c.CooldownRemaining(now, policy.ResendCooldown); remaining > 0 {
		return &LimitError{Reason: LimitCooldown, RetryAfter: remaining}
	}
	c.Secret = secret
	c.ExpiresAt = now.Add(policy.CodeTTL)
	c.LastSentAt = now
	c.ResendCount++
	return nil
}

// Attempt applies one verification attempt at now. match is consulted only
// while the challenge is active. changed reports whether the record must be
// written back.
func (c *Challenge) Attempt(now time.Time, match func(CodeSecret) bool) (result VerificationResult, changed bool) {
	switch c.Status {
	case ChallengeVerified:
		// Consumed codes are indistinguishable from absent ones.
		return ResultNotFound, false
	case ChallengeExpired:
		return ResultExpired, false
	case ChallengeLocked:
		return ResultLocked, false
	}

	if now.After(c.ExpiresAt) {
		c.Status = ChallengeExpired
		return ResultExpired, true
	}

	if match(c.Secret) {
		c.Status = ChallengeVerified
		return ResultSuccess, true
	}

	c.AttemptsRemaining--
	if c.AttemptsRemaining <= 0 {
		c.AttemptsRemaining = 0
		c.Status = ChallengeLocked
		return ResultLocked, true
	}
	return ResultInvalidCode, true
}

// Collectable reports whether the record may be garbage collected.
func (c *Challenge) Collectable(now time.Time, retention time.Duration) bool {
	return now.After(c.ExpiresAt.Add(retention))
}
