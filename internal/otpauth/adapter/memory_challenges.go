package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/otp"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
)

var _ app.ChallengeStore = (*MemoryChallengeStore)(nil)

// MemoryChallengeStore keeps challenges in process memory. Each phone's
// read-modify-write runs under that phone's lock; the map mutex is held
// only for the map access itself.
type MemoryChallengeStore struct {
	gen    *otp.Generator
	clock  domain.Clock
	policy domain.OTPPolicy

	locks *keyedMutex

	mu         sync.Mutex
	challenges map[string]domain.Challenge
}

// NewMemoryChallengeStore creates an empty in-process store.
func NewMemoryChallengeStore(gen *otp.Generator, clock domain.Clock, policy domain.OTPPolicy) *MemoryChallengeStore {
	return &MemoryChallengeStore{
		gen:        gen,
		clock:      clock,
		policy:     policy,
		locks:      newKeyedMutex(),
		challenges: make(map[string]domain.Challenge),
	}
}

// CreateOrRefresh implements app.ChallengeStore.
func (s *MemoryChallengeStore) CreateOrRefresh(ctx context.Context, phone domain.PhoneNumber) (*domain.Challenge, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	key := phone.String()
	unlock := s.locks.Lock(key)
	defer unlock()

	existing, found := s.load(key)
	next, code, err := nextChallenge(existing, found, phone, s.gen, s.clock.Now(), s.policy)
	if err != nil {
		return nil, "", err
	}

	s.save(key, next)
	return &next, code, nil
}

// Consume implements app.ChallengeStore.
func (s *MemoryChallengeStore) Consume(ctx context.Context, phone domain.PhoneNumber, code string) (domain.VerificationResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ResultNotFound, err
	}

	key := phone.String()
	unlock := s.locks.Lock(key)
	defer unlock()

	c, found := s.load(key)
	if !found {
		return domain.ResultNotFound, nil
	}

	result, changed := c.Attempt(s.clock.Now(), s.gen.Matcher(phone, code))
	if changed {
		c.Version++
		s.save(key, c)
	}
	return result, nil
}

// Get implements app.ChallengeStore.
func (s *MemoryChallengeStore) Get(_ context.Context, phone domain.PhoneNumber) (*domain.Challenge, error) {
	c, found := s.load(phone.String())
	if !found {
		return nil, domain.ErrChallengeNotFound
	}
	return &c, nil
}

// Sweep removes records that can no longer affect any outcome and
// returns how many were removed.
func (s *MemoryChallengeStore) Sweep(now time.Time) int {
	s.mu.Lock()
	var candidates []string
	for key, c := range s.challenges {
		if collectable(c, now, s.policy.Retention) {
			candidates = append(candidates, key)
		}
	}
	s.mu.Unlock()

	removed := 0
	for _, key := range candidates {
		unlock := s.locks.Lock(key)
		s.mu.Lock()
		// Re-check: the record may have been refreshed since the scan.
		if c, ok := s.challenges[key]; ok && collectable(c, now, s.policy.Retention) {
			delete(s.challenges, key)
			removed++
		}
		s.mu.Unlock()
		unlock()
	}
	return removed
}

// Len returns the number of stored records.
func (s *MemoryChallengeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.challenges)
}

func (s *MemoryChallengeStore) load(key string) (domain.Challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[key]
	return c, ok
}

func (s *MemoryChallengeStore) save(key string, c domain.Challenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[key] = c
}

// collectable: terminal records once expired, pending ones only after the
// retention grace.
func collectable(c domain.Challenge, now time.Time, retention time.Duration) bool {
	if c.Status.IsTerminal() {
		return now.After(c.ExpiresAt)
	}
	return c.Collectable(now, retention)
}

// nextChallenge computes the record CreateOrRefresh should write, given
// the current one (if any). Both stores share it so they agree on the
// refresh-or-replace rules.
func nextChallenge(
	existing domain.Challenge,
	found bool,
	phone domain.PhoneNumber,
	gen *otp.Generator,
	now time.Time,
	policy domain.OTPPolicy,
) (domain.Challenge, string, error) {
	if found && existing.IsActive(now) {
		if remaining := existing.CooldownRemaining(now, policy.ResendCooldown); remaining > 0 {
			return domain.Challenge{}, "", &domain.LimitError{Reason: domain.LimitCooldown, RetryAfter: remaining}
		}
	}

	code, secret, err := gen.Issue(phone)
	if err != nil {
		return domain.Challenge{}, "", fmt.Errorf("issue otp: %w", err)
	}

	if found && existing.IsActive(now) {
		next := existing
		if err := next.Refresh(secret, now, policy); err != nil {
			return domain.Challenge{}, "", err
		}
		next.Version++
		return next, code, nil
	}

	next := domain.NewChallenge(phone, secret, now, policy)
	if found {
		next.Version = existing.Version + 1
	}
	return next, code, nil
}
