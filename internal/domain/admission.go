package domain

import (
	"errors"
	"fmt"
	"time"
)

// LimitReason names the policy that denied an admission.
type LimitReason string

const (
	LimitNone     LimitReason = ""
	LimitCooldown LimitReason = "cooldown"
	LimitPhone    LimitReason = "phone"
	LimitOrigin   LimitReason = "origin"
	LimitVerify   LimitReason = "verify"
)

// Admission is a rate limiter decision.
type Admission struct {
	Allowed    bool
	Reason     LimitReason
	RetryAfter time.Duration
}

// Admitted returns an allowing decision.
func Admitted() Admission {
	return Admission{Allowed: true}
}

// Denied returns a denying decision for reason.
func Denied(reason LimitReason, retryAfter time.Duration) Admission {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Admission{Reason: reason, RetryAfter: retryAfter}
}

// Err returns nil when allowed, otherwise a *LimitError for the reason.
func (a Admission) Err() error {
	if a.Allowed {
		return nil
	}
	return &LimitError{Reason: a.Reason, RetryAfter: a.RetryAfter}
}

// LimitError is a policy denial. It unwraps to the sentinel for its
// reason, so errors.Is(err, ErrRateLimited) holds for every LimitError.
type LimitError struct {
	Reason     LimitReason
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: retry after %s", e.Unwrap(), e.RetryAfter)
}

func (e *LimitError) Unwrap() error {
	switch e.Reason {
	case LimitCooldown:
		return ErrResendCooldown
	case LimitPhone:
		return ErrPhoneRateLimited
	case LimitOrigin:
		return ErrOriginRateLimited
	default:
		return ErrRateLimited
	}
}

// RetryAfter extracts the wait hint from a rate limit error chain.
func RetryAfter(err error) (time.Duration, bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le.RetryAfter, true
	}
	return 0, false
}
