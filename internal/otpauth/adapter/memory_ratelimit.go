package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/otp"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
)

var _ app.RateLimiter = (*MemoryRateLimiter)(nil)

// window is a fixed-window counter anchored at its first admitted event.
type window struct {
	start time.Time
	count int
}

// MemoryRateLimiter enforces the issuance and verification policies in
// process memory. One mutex covers every key an admission touches, so
// the cooldown check, both window checks, and all increments form one
// atomic step.
type MemoryRateLimiter struct {
	clock  domain.Clock
	policy domain.OTPPolicy

	mu        sync.Mutex
	cooldowns map[string]time.Time // phone -> end of cooldown
	windows   map[string]window
}

// NewMemoryRateLimiter creates an in-process limiter for policy.
func NewMemoryRateLimiter(clock domain.Clock, policy domain.OTPPolicy) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		clock:     clock,
		policy:    policy,
		cooldowns: make(map[string]time.Time),
		windows:   make(map[string]window),
	}
}

// AdmitIssue implements app.RateLimiter.
func (l *MemoryRateLimiter) AdmitIssue(ctx context.Context, phone domain.PhoneNumber, origin string) (domain.Admission, error) {
	if err := ctx.Err(); err != nil {
		return domain.Admission{}, err
	}

	now := l.clock.Now()
	phoneKey := "issue:phone:" + phone.String()
	originKey := "issue:origin:" + otp.HashOrigin(origin)

	l.mu.Lock()
	defer l.mu.Unlock()

	if until, ok := l.cooldowns[phone.String()]; ok && now.Before(until) {
		return domain.Denied(domain.LimitCooldown, until.Sub(now)), nil
	}

	pw := l.current(phoneKey, now)
	if pw.count >= l.policy.IssueLimitPerPhone {
		return domain.Denied(domain.LimitPhone, l.resetIn(pw, now)), nil
	}
	ow := l.current(originKey, now)
	if ow.count >= l.policy.IssueLimitPerOrigin {
		return domain.Denied(domain.LimitOrigin, l.resetIn(ow, now)), nil
	}

	if l.policy.ResendCooldown > 0 {
		l.cooldowns[phone.String()] = now.Add(l.policy.ResendCooldown)
	}
	pw.count++
	ow.count++
	l.windows[phoneKey] = pw
	l.windows[originKey] = ow

	return domain.Admitted(), nil
}

// AdmitVerify implements app.RateLimiter. A non-positive
// VerifyLimitPerPhone admits everything.
func (l *MemoryRateLimiter) AdmitVerify(ctx context.Context, phone domain.PhoneNumber) (domain.Admission, error) {
	if err := ctx.Err(); err != nil {
		return domain.Admission{}, err
	}
	if l.policy.VerifyLimitPerPhone <= 0 {
		return domain.Admitted(), nil
	}

	now := l.clock.Now()
	key := "verify:phone:" + phone.String()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(key, now)
	if w.count >= l.policy.VerifyLimitPerPhone {
		return domain.Denied(domain.LimitVerify, l.resetIn(w, now)), nil
	}
	w.count++
	l.windows[key] = w

	return domain.Admitted(), nil
}

// Sweep drops cooldowns and windows that have ended and returns the
// number of entries removed.
func (l *MemoryRateLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, until := range l.cooldowns {
		if !now.Before(until) {
			delete(l.cooldowns, key)
			removed++
		}
	}
	for key, w := range l.windows {
		if l.elapsed(w, now) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// current returns the live window for key without storing it. A window
// that reached its boundary reads as empty and re-anchors at now.
// Caller holds l.mu.
func (l *MemoryRateLimiter) current(key string, now time.Time) window {
	w, ok := l.windows[key]
	if !ok || l.elapsed(w, now) {
		return window{start: now}
	}
	return w
}

func (l *MemoryRateLimiter) elapsed(w window, now time.Time) bool {
	return !now.Before(w.start.Add(l.policy.IssueWindow))
}

func (l *MemoryRateLimiter) resetIn(w window, now time.Time) time.Duration {
	return w.start.Add(l.policy.IssueWindow).Sub(now)
}
