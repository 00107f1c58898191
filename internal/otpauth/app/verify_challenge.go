package app

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/observability"
	"github.com/aelexs/otp-auth/internal/otp"
)

// VerifyChallenge normalizes the phone and consumes one attempt against
// its challenge. Any outcome other than success is returned as an error
// wrapping the matching sentinel (ErrInvalidOTP, ErrOTPExpired,
// ErrOTPLocked, ErrChallengeNotFound).
func (s *OTPService) VerifyChallenge(ctx context.Context, rawPhone, code string) (*VerifyChallengeResult, error) {
	ctx, span := tracer.Start(ctx, "otp.verify_challenge")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	phone, err := s.phones.Normalize(rawPhone)
	if err != nil {
		invalidPhoneTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", "verify_challenge")))
		return nil, recordError(span, err)
	}
	if !isCodeShaped(code) {
		return nil, recordError(span, fmt.Errorf("code must be %d digits: %w", domain.CodeLength, domain.ErrInvalidInput))
	}

	phoneHash := otp.HashPhone(phone)
	span.SetAttributes(attribute.String("otp.phone_hash", phoneHash))

	if s.policy.VerifyLimitPerPhone > 0 {
		admission, err := s.rateLimiter.AdmitVerify(ctx, phone)
		if err != nil {
			return nil, recordError(span, fmt.Errorf("admit verify: %w", errors.Join(err, domain.ErrUnavailable)))
		}
		if !admission.Allowed {
			rateLimitsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("endpoint", "verify_challenge"),
				attribute.String("limit_type", string(admission.Reason)),
			))
			verificationsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("result", domain.ResultRateLimited.String())))
			return nil, recordError(span, admission.Err())
		}
	}

	result, err := s.challenges.Consume(ctx, phone, code)
	if err != nil {
		return nil, recordError(span, fmt.Errorf("consume challenge: %w", err))
	}

	verificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result.String())))
	span.SetAttributes(attribute.String("otp.result", result.String()))

	if result != domain.ResultSuccess {
		logger.InfoContext(ctx, "otp.verify_failed",
			"phone_hash", phoneHash,
			"result", result.String(),
		)
		return nil, recordError(span, result.Err())
	}

	logger.InfoContext(ctx, "otp.verified", "phone_hash", phoneHash)

	return &VerifyChallengeResult{
		Phone:      phone,
		VerifiedAt: s.clock.Now(),
	}, nil
}

// isCodeShaped reports whether code could have been issued at all.
// Malformed codes are rejected without spending the attempt budget.
func isCodeShaped(code string) bool {
	if len(code) != domain.CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
