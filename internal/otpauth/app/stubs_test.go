package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/domain/domaintest"
)

// ---------------------------------------------------------------------------
// Stubs: the app ports with per-test function fields. A nil
// field fails the test when called.
// ---------------------------------------------------------------------------

type stubChallengeStore struct {
	t                 *testing.T
	createOrRefreshFn func(ctx context.Context, phone domain.PhoneNumber) (*domain.Challenge, string, error)
	consumeFn         func(ctx context.Context, phone domain.PhoneNumber, code string) (domain.VerificationResult, error)
	getFn             func(ctx context.Context, phone domain.PhoneNumber) (*domain.Challenge, error)
}

func (s *stubChallengeStore) CreateOrRefresh(ctx context.Context, phone domain.PhoneNumber) (*domain.Challenge, string, error) {
	if s.createOrRefreshFn == nil {
		s.t.Fatal("unexpected CreateOrRefresh call")
	}
	return s.createOrRefreshFn(ctx, phone)
}

func (s *stubChallengeStore) Consume(ctx context.Context, phone domain.PhoneNumber, code string) (domain.VerificationResult, error) {
	if s.consumeFn == nil {
		s.t.Fatal("unexpected Consume call")
	}
	return s.consumeFn(ctx, phone, code)
}

func (s *stubChallengeStore) Get(ctx context.Context, phone domain.PhoneNumber) (*domain.Challenge, error) {
	if s.getFn == nil {
		s.t.Fatal("unexpected Get call")
	}
	return s.getFn(ctx, phone)
}

type stubRateLimiter struct {
	t             *testing.T
	admitIssueFn  func(ctx context.Context, phone domain.PhoneNumber, origin string) (domain.Admission, error)
	admitVerifyFn func(ctx context.Context, phone domain.PhoneNumber) (domain.Admission, error)
}

func (s *stubRateLimiter) AdmitIssue(ctx context.Context, phone domain.PhoneNumber, origin string) (domain.Admission, error) {
	if s.admitIssueFn == nil {
		s.t.Fatal("unexpected AdmitIssue call")
	}
	return s.admitIssueFn(ctx, phone, origin)
}

func (s *stubRateLimiter) AdmitVerify(ctx context.Context, phone domain.PhoneNumber) (domain.Admission, error) {
	if s.admitVerifyFn == nil {
		s.t.Fatal("unexpected AdmitVerify call")
	}
	return s.admitVerifyFn(ctx, phone)
}

type stubGateway struct {
	t      *testing.T
	sendFn func(ctx context.Context, phone, code string) error
}

func (s *stubGateway) Send(ctx context.Context, phone, code string) error {
	if s.sendFn == nil {
		s.t.Fatal("unexpected Send call")
	}
	return s.sendFn(ctx, phone, code)
}

var (
	_ ChallengeStore = (*stubChallengeStore)(nil)
	_ RateLimiter    = (*stubRateLimiter)(nil)
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var fixedTime = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

type stubs struct {
	store   *stubChallengeStore
	limiter *stubRateLimiter
	gateway *stubGateway
}

func newStubs(t *testing.T) *stubs {
	return &stubs{
		store:   &stubChallengeStore{t: t},
		limiter: &stubRateLimiter{t: t},
		gateway: &stubGateway{t: t},
	}
}

func (s *stubs) service(policy domain.OTPPolicy) *OTPService {
	return NewOTPService(OTPServiceConfig{
		Challenges:  s.store,
		RateLimiter: s.limiter,
		Gateway:     s.gateway,
		Clock:       domaintest.NewFakeClock(fixedTime),
		Policy:      policy,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func pendingChallenge(phone domain.PhoneNumber) *domain.Challenge {
	c := domain.NewChallenge(phone, domain.CodeSecret{Salt: "00", Hash: "00"}, fixedTime, domain.DefaultOTPPolicy())
	return &c
}

func admitAll(context.Context, domain.PhoneNumber, string) (domain.Admission, error) {
	return domain.Admitted(), nil
}
