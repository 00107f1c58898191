// Package app orchestrates the OTP send and verify flows over the
// challenge store, rate limiter, and delivery gateway ports.
package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/otp"
)

var tracer = otel.Tracer("otpauth/app")

var (
	challengesIssuedTotal metric.Int64Counter
	verificationsTotal    metric.Int64Counter
	deliveryFailuresTotal metric.Int64Counter
	rateLimitsTotal       metric.Int64Counter
	invalidPhoneTotal     metric.Int64Counter
)

func init() {
	m := otel.Meter("otpauth/app")

	challengesIssuedTotal, _ = m.Int64Counter("otp_challenges_issued_total",
		metric.WithDescription("Total OTP challenges created or refreshed"))
	verificationsTotal, _ = m.Int64Counter("otp_verifications_total",
		metric.WithDescription("Total OTP verification attempts by result"))
	deliveryFailuresTotal, _ = m.Int64Counter("otp_delivery_failures_total",
		metric.WithDescription("Total OTP deliveries rejected by the gateway"))
	rateLimitsTotal, _ = m.Int64Counter("security_rate_limits_total",
		metric.WithDescription("Total rate limit hits"))
	invalidPhoneTotal, _ = m.Int64Counter("otp_invalid_phone_total",
		metric.WithDescription("Total requests rejected for phone format"))
}

// ChallengeStore owns OTP challenges. Every method is atomic per phone.
type ChallengeStore interface {
	// CreateOrRefresh creates a Pending challenge or refreshes the existing
	// one, returning it together with the plaintext code.
	CreateOrRefresh(ctx context.Context, phone domain.PhoneNumber) (*domain.Challenge, string, error)
	// Consume applies one verification attempt.
	Consume(ctx context.Context, phone domain.PhoneNumber, code string) (domain.VerificationResult, error)
	// Get returns the current challenge or domain.ErrChallengeNotFound.
	Get(ctx context.Context, phone domain.PhoneNumber) (*domain.Challenge, error)
}

// RateLimiter admits or denies issuance and verification calls. Each
// admission checks and counts atomically. Denials count nothing.
type RateLimiter interface {
	AdmitIssue(ctx context.Context, phone domain.PhoneNumber, origin string) (domain.Admission, error)
	AdmitVerify(ctx context.Context, phone domain.PhoneNumber) (domain.Admission, error)
}

// SendChallengeResult is returned by SendChallenge when a code was
// issued and handed to the gateway.
type SendChallengeResult struct {
	ChallengeID string
	ExpiresAt   time.Time
	RetryAfter  time.Duration
	ResendCount int
}

// VerifyChallengeResult is returned by VerifyChallenge on success. It
// is the only proof of phone ownership the caller receives.
type VerifyChallengeResult struct {
	Phone      domain.PhoneNumber
	VerifiedAt time.Time
}

// OTPServiceConfig holds the dependencies for OTPService.
type OTPServiceConfig struct {
	Challenges  ChallengeStore
	RateLimiter RateLimiter
	Gateway     otp.DeliveryGateway
	Phones      *domain.PhoneValidator
	Clock       domain.Clock
	Policy      domain.OTPPolicy
	Logger      *slog.Logger
}

// OTPService implements the send and verify flows.
type OTPService struct {
	challenges  ChallengeStore
	rateLimiter RateLimiter
	gateway     otp.DeliveryGateway
	phones      *domain.PhoneValidator
	clock       domain.Clock
	policy      domain.OTPPolicy
	logger      *slog.Logger
}

// NewOTPService creates an OTPService. Nil Phones, Clock, and Logger fall
// back to the default numbering plan, the wall clock, and slog.Default. A
// zero Policy means domain.DefaultOTPPolicy.
func NewOTPService(cfg OTPServiceConfig) *OTPService {
	s := &OTPService{
		challenges:  cfg.Challenges,
		rateLimiter: cfg.RateLimiter,
		gateway:     cfg.Gateway,
		phones:      cfg.Phones,
		clock:       cfg.Clock,
		policy:      cfg.Policy,
		logger:      cfg.Logger,
	}
	if s.phones == nil {
		s.phones = domain.DefaultPhoneValidator()
	}
	if s.clock == nil {
		s.clock = domain.RealClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.policy == (domain.OTPPolicy{}) {
		s.policy = domain.DefaultOTPPolicy()
	}
	return s
}
