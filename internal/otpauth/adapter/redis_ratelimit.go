package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/otp"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
	redisclient "github.com/aelexs/otp-auth/internal/redis"
)

var _ app.RateLimiter = (*RedisRateLimiter)(nil)

// issueScript checks the cooldown marker and both windows, then sets the
// marker and increments both windows, all in one atomic script. A denied
// call writes nothing. PEXPIRE runs only on the first increment, so each
// window is anchored at its first admitted event and never extended.
//
// KEYS: cooldown, phone window, origin window
// ARGV: cooldown ms, window ms, phone limit, origin limit
// Returns {code, pttl}: 0 admitted, 1 cooldown, 2 phone, 3 origin.
var issueScript = redisclient.NewScript(`
local cooldown = redis.call('PTTL', KEYS[1])
if cooldown > 0 then
  return {1, cooldown}
end
local phone = tonumber(redis.call('GET', KEYS[2]) or '0')
if phone >= tonumber(ARGV[3]) then
  return {2, redis.call('PTTL', KEYS[2])}
end
local origin = tonumber(redis.call('GET', KEYS[3]) or '0')
if origin >= tonumber(ARGV[4]) then
  return {3, redis.call('PTTL', KEYS[3])}
end
if tonumber(ARGV[1]) > 0 then
  redis.call('SET', KEYS[1], '1', 'PX', ARGV[1])
end
if redis.call('INCR', KEYS[2]) == 1 then
  redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
if redis.call('INCR', KEYS[3]) == 1 then
  redis.call('PEXPIRE', KEYS[3], ARGV[2])
end
return {0, 0}
`)

// verifyScript is the single-window variant for verification calls.
//
// KEYS: verify window
// ARGV: window ms, limit
var verifyScript = redisclient.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[2]) then
  return {4, redis.call('PTTL', KEYS[1])}
end
if redis.call('INCR', KEYS[1]) == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {0, 0}
`)

var scriptReasons = map[int64]domain.LimitReason{
	1: domain.LimitCooldown,
	2: domain.LimitPhone,
	3: domain.LimitOrigin,
	4: domain.LimitVerify,
}

// RedisRateLimiter enforces the limits in Redis so that every replica
// shares them. Redis errors deny: they surface as domain.ErrUnavailable,
// never as an admission.
//
// The issue script touches keys of different hash slots and therefore
// needs a single-node or sentinel deployment, not Redis Cluster.
type RedisRateLimiter struct {
	cmd    redisclient.Cmdable
	policy domain.OTPPolicy
}

// NewRedisRateLimiter creates a limiter for policy over cmd.
func NewRedisRateLimiter(cmd redisclient.Cmdable, policy domain.OTPPolicy) *RedisRateLimiter {
	return &RedisRateLimiter{cmd: cmd, policy: policy}
}

// AdmitIssue implements app.RateLimiter.
func (r *RedisRateLimiter) AdmitIssue(ctx context.Context, phone domain.PhoneNumber, origin string) (domain.Admission, error) {
	ctx, span := tracer.Start(ctx, "redis.ratelimit.admit_issue")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVALSHA"),
	)

	hash := otp.HashPhone(phone)
	keys := []string{
		"otp:cooldown:" + hash,
		"otp:issue:phone:" + hash,
		"otp:issue:origin:" + otp.HashOrigin(origin),
	}

	res, err := issueScript.Run(ctx, r.cmd, keys,
		r.policy.ResendCooldown.Milliseconds(),
		r.policy.IssueWindow.Milliseconds(),
		r.policy.IssueLimitPerPhone,
		r.policy.IssueLimitPerOrigin,
	).Int64Slice()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Admission{}, fmt.Errorf("rate limit admit issue: %w", errors.Join(err, domain.ErrUnavailable))
	}
	return decodeAdmission(res)
}

// AdmitVerify implements app.RateLimiter.
func (r *RedisRateLimiter) AdmitVerify(ctx context.Context, phone domain.PhoneNumber) (domain.Admission, error) {
	if r.policy.VerifyLimitPerPhone <= 0 {
		return domain.Admitted(), nil
	}

	ctx, span := tracer.Start(ctx, "redis.ratelimit.admit_verify")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "redis"),
		attribute.String("db.operation", "EVALSHA"),
	)

	keys := []string{"otp:verify:phone:" + otp.HashPhone(phone)}
	res, err := verifyScript.Run(ctx, r.cmd, keys,
		r.policy.IssueWindow.Milliseconds(),
		r.policy.VerifyLimitPerPhone,
	).Int64Slice()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Admission{}, fmt.Errorf("rate limit admit verify: %w", errors.Join(err, domain.ErrUnavailable))
	}
	return decodeAdmission(res)
}

func decodeAdmission(res []int64) (domain.Admission, error) {
	if len(res) != 2 {
		return domain.Admission{}, fmt.Errorf("rate limit: unexpected script reply %v: %w", res, domain.ErrUnavailable)
	}
	if res[0] == 0 {
		return domain.Admitted(), nil
	}
	reason, ok := scriptReasons[res[0]]
	if !ok {
		return domain.Admission{}, fmt.Errorf("rate limit: unknown script code %d: %w", res[0], domain.ErrUnavailable)
	}
	return domain.Denied(reason, time.Duration(res[1])*time.Millisecond), nil
}
