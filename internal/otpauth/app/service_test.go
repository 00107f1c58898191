package app_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/domain/domaintest"
	"github.com/aelexs/otp-auth/internal/otp"
	"github.com/aelexs/otp-auth/internal/otpauth/adapter"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	rawPhone  = "9876543210"
	canonical = "+919876543210"
	originX   = "originX"
)

var start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// recordingGateway captures every code handed to it, including the ones
// it then reports as failed.
type recordingGateway struct {
	mu    sync.Mutex
	codes map[string][]string
	err   error
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{codes: make(map[string][]string)}
}

func (g *recordingGateway) Send(_ context.Context, phone, code string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.codes[phone] = append(g.codes[phone], code)
	return g.err
}

func (g *recordingGateway) sent(phone string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.codes[phone]...)
}

func (g *recordingGateway) last(t *testing.T, phone string) string {
	t.Helper()
	codes := g.sent(phone)
	require.NotEmpty(t, codes, "no code delivered to %s", phone)
	return codes[len(codes)-1]
}

type harness struct {
	svc     *app.OTPService
	store   *adapter.MemoryChallengeStore
	gateway *recordingGateway
	clock   *domaintest.FakeClock
}

func newHarness(t *testing.T, policy domain.OTPPolicy) *harness {
	t.Helper()
	gen, err := otp.NewGenerator(domain.SecretBytes("app-test-pepper-0123456789abcdef"))
	require.NoError(t, err)

	clock := domaintest.NewFakeClock(start)
	store := adapter.NewMemoryChallengeStore(gen, clock, policy)
	gateway := newRecordingGateway()

	svc := app.NewOTPService(app.OTPServiceConfig{
		Challenges:  store,
		RateLimiter: adapter.NewMemoryRateLimiter(clock, policy),
		Gateway:     gateway,
		Clock:       clock,
		Policy:      policy,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &harness{svc: svc, store: store, gateway: gateway, clock: clock}
}

// wrongCode returns a well-formed code that differs from code.
func wrongCode(code string) string {
	b := []byte(code)
	b[0] = '0' + (b[0]-'0'+1)%10
	return string(b)
}

// ---------------------------------------------------------------------------
// End-to-end flows over the in-process backends
// ---------------------------------------------------------------------------

func TestSendThenVerify(t *testing.T) {
	h := newHarness(t, domain.DefaultOTPPolicy())
	ctx := context.Background()

	sent, err := h.svc.SendChallenge(ctx, rawPhone, originX)
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ChallengeID)
	assert.Equal(t, start.Add(domain.OTPValidityDuration), sent.ExpiresAt)
	assert.Equal(t, domain.OTPResendCooldown, sent.RetryAfter)
	assert.Zero(t, sent.ResendCount)

	h.clock.Advance(30 * time.Second)
	verified, err := h.svc.VerifyChallenge(ctx, rawPhone, h.gateway.last(t, canonical))
	require.NoError(t, err)
	assert.Equal(t, canonical, verified.Phone.String())
	assert.Equal(t, start.Add(30*time.Second), verified.VerifiedAt)
}

func TestVerifySucceedsOnlyOnce(t *testing.T) {
	h := newHarness(t, domain.DefaultOTPPolicy())
	ctx := context.Background()

	_, err := h.svc.SendChallenge(ctx, rawPhone, originX)
	require.NoError(t, err)
	code := h.gateway.last(t, canonical)

	_, err = h.svc.VerifyChallenge(ctx, rawPhone, code)
	require.NoError(t, err)

	for _, candidate := range []string{code, wrongCode(code)} {
		_, err = h.svc.VerifyChallenge(ctx, rawPhone, candidate)
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrChallengeNotFound)
	}
}

func TestInvalidPhoneCreatesNothing(t *testing.T) {
	h := newHarness(t, domain.DefaultOTPPolicy())
	ctx := context.Background()

	_, err := h.svc.SendChallenge(ctx, "98765", originX)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidPhoneNumber)
	assert.Zero(t, h.store.Len())
	assert.Empty(t, h.gateway.sent(canonical))

	// The limiter was not touched: the full per-phone budget is still there.
	for i := 0; i < domain.OTPIssueRateLimitPerPhone; i++ {
		_, err := h.svc.SendChallenge(ctx, rawPhone, originX)
		require.NoError(t, err, "send %d", i+1)
		h.clock.Advance(domain.OTPResendCooldown)
	}
}

func TestWrongCodesLockTheChallenge(t *testing.T) {
	h := newHarness(t, domain.DefaultOTPPolicy())
	ctx := context.Background()

	_, err := h.svc.SendChallenge(ctx, rawPhone, originX)
	require.NoError(t, err)
	code := h.gateway.last(t, canonical)
	wrong := wrongCode(code)

	want := []error{domain.ErrInvalidOTP, domain.ErrInvalidOTP, domain.ErrOTPLocked}
	for i, sentinel := range want {
		_, err := h.svc.VerifyChallenge(ctx, rawPhone, wrong)
		require.Error(t, err, "attempt %d", i+1)
		assert.ErrorIs(t, err, sentinel, "attempt %d", i+1)
	}

	_, err = h.svc.VerifyChallenge(ctx, rawPhone, code)
	assert.ErrorIs(t, err, domain.ErrOTPLocked, "correct code after lockout")
}

func TestResendCooldown(t *testing.T) {
	h := newHarness(t, domain.DefaultOTPPolicy())
	ctx := context.Background()

	first, err := h.svc.SendChallenge(ctx, rawPhone, originX)
	require.NoError(t, err)
	firstCode := h.gateway.last(t, canonical)

	h.clock.Advance(time.Second)
	_, err = h.svc.SendChallenge(ctx, rawPhone, originX)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.ErrorIs(t, err, domain.ErrResendCooldown)
	retryAfter, ok := domain.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, domain.OTPResendCooldown-time.Second, retryAfter)
	assert.Len(t, h.gateway.sent(canonical), 1)

	h.clock.Advance(domain.OTPResendCooldown)
	third, err := h.svc.SendChallenge(ctx, rawPhone, originX)
	require.NoError(t, err)
	assert.Equal(t, first.ChallengeID, third.ChallengeID, "pending challenge is refreshed in place")
	assert.Equal(t, 1, third.ResendCount)
	require.Len(t, h.gateway.sent(canonical), 2)

	newCode := h.gateway.last(t, canonical)
	if newCode != firstCode {
		_, err = h.svc.VerifyChallenge(ctx, rawPhone, firstCode)
		assert.ErrorIs(t, err, domain.ErrInvalidOTP, "superseded code")
	}
	_, err = h.svc.VerifyChallenge(ctx, rawPhone, newCode)
	require.NoError(t, err)
}

func TestResendKeepsAttemptBudget(t *testing.T) {
	h := newHarness(t, domain.DefaultOTPPolicy())
	ctx := context.Background()

	_, err := h.svc.SendChallenge(ctx, rawPhone, originX)
	require.NoError(t, err)
	_, err = h.svc.VerifyChallenge(ctx, rawPhone, wrongCode(h.gateway.last(t, canonical)))
	require.ErrorIs(t, err, domain.ErrInvalidOTP)

	h.clock.Advance(domain.OTPResendCooldown)
	_, err = h.svc.SendChallenge(ctx, rawPhone, originX)
	require.NoError(t, err)

	c, err := h.store.Get(ctx, domain.MustPhoneNumber(rawPhone))
	require.NoError(t, err)
	assert.Equal(t, domain.MaxOTPVerifyAttempts-1, c.AttemptsRemaining)
}

func TestExpiredCodeIsRejected(t *testing.T) {
	h := newHarness(t, domain.DefaultOTPPolicy())
	ctx := context.Background()

	_, err := h.svc.SendChallenge(ctx, rawPhone, originX)
	require.NoError(t, err)
	code := h.gateway.last(t, canonical)

	h.clock.Advance(domain.OTPValidityDuration + time.Second)

	_, err = h.svc.VerifyChallenge(ctx, rawPhone, code)
	assert.ErrorIs(t, err, domain.ErrOTPExpired)
}

func TestExpiredChallengeIsReplacedOnSend(t *testing.T) {
	h := newHarness(t, domain.DefaultOTPPolicy())
	ctx := context.Background()

	first, err := h.svc.SendChallenge(ctx, rawPhone, originX)
	require.NoError(t, err)

	h.clock.Advance(domain.OTPValidityDuration + time.Second)
	second, err := h.svc.SendChallenge(ctx, rawPhone, originX)
	require.NoError(t, err)
	assert.NotEqual(t, first.ChallengeID, second.ChallengeID)
	assert.Zero(t, second.ResendCount)

	_, err = h.svc.VerifyChallenge(ctx, rawPhone, h.gateway.last(t, canonical))
	require.NoError(t, err)
}

func TestDeliveryFailureLeavesChallengeValid(t *testing.T) {
	h := newHarness(t, domain.DefaultOTPPolicy())
	h.gateway.err = assert.AnError
	ctx := context.Background()

	_, err := h.svc.SendChallenge(ctx, rawPhone, originX)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDeliveryFailed)

	c, err := h.store.Get(ctx, domain.MustPhoneNumber(rawPhone))
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengePending, c.Status)

	_, err = h.svc.VerifyChallenge(ctx, rawPhone, h.gateway.last(t, canonical))
	require.NoError(t, err)
}

func TestVerifyRateLimitWhenEnabled(t *testing.T) {
	policy := domain.DefaultOTPPolicy()
	policy.VerifyLimitPerPhone = 2
	policy.MaxAttempts = 5
	h := newHarness(t, policy)
	ctx := context.Background()

	_, err := h.svc.SendChallenge(ctx, rawPhone, originX)
	require.NoError(t, err)
	wrong := wrongCode(h.gateway.last(t, canonical))

	for i := 0; i < 2; i++ {
		_, err := h.svc.VerifyChallenge(ctx, rawPhone, wrong)
		require.ErrorIs(t, err, domain.ErrInvalidOTP)
	}

	_, err = h.svc.VerifyChallenge(ctx, rawPhone, wrong)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)

	c, err := h.store.Get(ctx, domain.MustPhoneNumber(rawPhone))
	require.NoError(t, err)
	assert.Equal(t, 3, c.AttemptsRemaining, "denied verification spends no attempt")
}

func TestOriginLimitSpansPhones(t *testing.T) {
	policy := domain.DefaultOTPPolicy()
	policy.IssueLimitPerPhone = 1
	policy.IssueLimitPerOrigin = 2
	h := newHarness(t, policy)
	ctx := context.Background()

	for _, phone := range []string{"9876543210", "9876543211"} {
		_, err := h.svc.SendChallenge(ctx, phone, originX)
		require.NoError(t, err, phone)
	}

	_, err := h.svc.SendChallenge(ctx, "9876543212", originX)
	assert.ErrorIs(t, err, domain.ErrOriginRateLimited)

	_, err = h.svc.SendChallenge(ctx, "9876543212", "originY")
	assert.NoError(t, err)
}

// ---------------------------------------------------------------------------
// Concurrency
// ---------------------------------------------------------------------------

func TestConcurrentSendIssuesOneCode(t *testing.T) {
	h := newHarness(t, domain.DefaultOTPPolicy())
	ctx := context.Background()

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.SendChallenge(ctx, rawPhone, originX)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrResendCooldown)
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, h.store.Len())
	assert.Len(t, h.gateway.sent(canonical), 1)
}

func TestConcurrentVerifySucceedsOnce(t *testing.T) {
	h := newHarness(t, domain.DefaultOTPPolicy())
	ctx := context.Background()

	_, err := h.svc.SendChallenge(ctx, rawPhone, originX)
	require.NoError(t, err)
	code := h.gateway.last(t, canonical)

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.VerifyChallenge(ctx, rawPhone, code)
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrChallengeNotFound)
	}
	assert.Equal(t, 1, ok)
}
