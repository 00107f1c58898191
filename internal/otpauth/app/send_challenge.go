package app

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/observability"
	"github.com/aelexs/otp-auth/internal/otp"
)

// SendChallenge normalizes the phone, admits the issuance, creates or
// refreshes the challenge, and hands the code to the gateway.
//
// The challenge is durable before delivery starts. A delivery failure
// leaves it valid and returns an error wrapping domain.ErrDeliveryFailed.
// Delivery is detached from caller cancellation and bounded by the
// policy's delivery timeout.
func (s *OTPService) SendChallenge(ctx context.Context, rawPhone, origin string) (*SendChallengeResult, error) {
	ctx, span := tracer.Start(ctx, "otp.send_challenge")
	defer span.End()

	logger := observability.WithTraceID(ctx, s.logger)

	phone, err := s.phones.Normalize(rawPhone)
	if err != nil {
		invalidPhoneTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", "send_challenge")))
		return nil, recordError(span, err)
	}
	if origin == "" {
		origin = domain.UnknownOrigin
	}

	phoneHash := otp.HashPhone(phone)
	span.SetAttributes(attribute.String("otp.phone_hash", phoneHash))

	admission, err := s.rateLimiter.AdmitIssue(ctx, phone, origin)
	if err != nil {
		return nil, recordError(span, fmt.Errorf("admit issue: %w", errors.Join(err, domain.ErrUnavailable)))
	}
	if !admission.Allowed {
		rateLimitsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("endpoint", "send_challenge"),
			attribute.String("limit_type", string(admission.Reason)),
		))
		logger.InfoContext(ctx, "otp.issue_denied",
			"phone_hash", phoneHash,
			"limit_type", admission.Reason,
			"retry_after", admission.RetryAfter,
		)
		return nil, recordError(span, admission.Err())
	}

	challenge, code, err := s.challenges.CreateOrRefresh(ctx, phone)
	if err != nil {
		if errors.Is(err, domain.ErrResendCooldown) {
			rateLimitsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("endpoint", "send_challenge"),
				attribute.String("limit_type", string(domain.LimitCooldown)),
			))
			return nil, recordError(span, err)
		}
		return nil, recordError(span, fmt.Errorf("create or refresh challenge: %w", err))
	}

	span.SetAttributes(
		attribute.String("otp.challenge_id", challenge.ID),
		attribute.Int("otp.resend_count", challenge.ResendCount),
	)
	challengesIssuedTotal.Add(ctx, 1, metric.WithAttributes(attribute.Bool("resend", challenge.ResendCount > 0)))

	// The per-phone critical section is over; only the external call remains.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.policy.DeliveryTimeout)
	defer cancel()

	if err := s.gateway.Send(sendCtx, phone.String(), code); err != nil {
		deliveryFailuresTotal.Add(ctx, 1)
		logger.WarnContext(ctx, "otp.delivery_failed",
			"phone_hash", phoneHash,
			"challenge_id", challenge.ID,
			"error", err,
		)
		return nil, recordError(span, fmt.Errorf("deliver otp: %w", errors.Join(err, domain.ErrDeliveryFailed)))
	}

	logger.InfoContext(ctx, "otp.challenge_sent",
		"phone_hash", phoneHash,
		"challenge_id", challenge.ID,
		"resend_count", challenge.ResendCount,
	)

	return &SendChallengeResult{
		ChallengeID: challenge.ID,
		ExpiresAt:   challenge.ExpiresAt,
		RetryAfter:  challenge.CooldownRemaining(s.clock.Now(), s.policy.ResendCooldown),
		ResendCount: challenge.ResendCount,
	}, nil
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
