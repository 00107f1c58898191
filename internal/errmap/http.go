// Package errmap translates domain errors into transport responses.
package errmap

import (
	"errors"
	"net/http"
	"time"

	"github.com/aelexs/otp-auth/internal/domain"
)

// HTTPError is the client-facing form of a domain error. Message is a
// fixed string per code, never err.Error(), so wrapped backend details do
// not reach clients.
type HTTPError struct {
	StatusCode int           `json:"-"`
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"-"`
}

func (e HTTPError) Error() string {
	return e.Message
}

type httpMapping struct {
	err        error
	statusCode int
	code       string
	message    string
}

// httpMappings is matched in order with errors.Is. Specializations come
// before the sentinels they wrap.
var httpMappings = []httpMapping{
	// Input
	{domain.ErrInvalidPhoneNumber, http.StatusBadRequest, "INVALID_PHONE", "phone number is not a valid mobile number"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_ARGUMENT", "request is malformed"},

	// Verification outcomes
	{domain.ErrInvalidOTP, http.StatusBadRequest, "INVALID_OTP", "verification code is incorrect"},
	{domain.ErrOTPExpired, http.StatusGone, "OTP_EXPIRED", "verification code has expired, request a new one"},
	{domain.ErrOTPLocked, http.StatusLocked, "OTP_LOCKED", "too many incorrect attempts, request a new code"},
	{domain.ErrChallengeNotFound, http.StatusNotFound, "OTP_NOT_FOUND", "no active verification code for this number"},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND", "not found"},

	// Rate limiting
	{domain.ErrResendCooldown, http.StatusTooManyRequests, "RESEND_COOLDOWN", "please wait before requesting another code"},
	{domain.ErrPhoneRateLimited, http.StatusTooManyRequests, "PHONE_RATE_LIMITED", "too many codes requested for this number"},
	{domain.ErrOriginRateLimited, http.StatusTooManyRequests, "ORIGIN_RATE_LIMITED", "too many codes requested from this network"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests"},

	// Dependencies
	{domain.ErrDeliveryFailed, http.StatusBadGateway, "DELIVERY_FAILED", "could not send the verification code, try again shortly"},
	{domain.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE", "service temporarily unavailable"},
}

// ToHTTPError converts a domain error to an HTTP error. Unknown errors map
// to a generic 500.
func ToHTTPError(err error) HTTPError {
	if err == nil {
		return HTTPError{StatusCode: http.StatusOK}
	}
	for _, m := range httpMappings {
		if errors.Is(err, m.err) {
			he := HTTPError{StatusCode: m.statusCode, Code: m.code, Message: m.message}
			if m.statusCode == http.StatusTooManyRequests {
				he.RetryAfter, _ = domain.RetryAfter(err)
			}
			return he
		}
	}
	return HTTPError{StatusCode: http.StatusInternalServerError, Code: "INTERNAL", Message: "internal error"}
}
