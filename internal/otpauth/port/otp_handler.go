// Package port exposes the OTP flows over HTTP.
package port

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/errmap"
	"github.com/aelexs/otp-auth/internal/observability"
	"github.com/aelexs/otp-auth/internal/otpauth/app"
)

// maxBodyBytes bounds request bodies. Both payloads are a few dozen bytes.
const maxBodyBytes = 4 << 10

// otpService is the narrow, consumer-defined view of the OTP service the
// handler requires. *app.OTPService satisfies it.
type otpService interface {
	SendChallenge(ctx context.Context, rawPhone, origin string) (*app.SendChallengeResult, error)
	VerifyChallenge(ctx context.Context, rawPhone, code string) (*app.VerifyChallengeResult, error)
}

// OTPHandler translates HTTP requests into OTP service calls.
type OTPHandler struct {
	svc     otpService
	logger  *slog.Logger
	proxies []netip.Prefix
}

// NewOTPHandler creates an OTPHandler backed by the given service.
// X-Forwarded-For is honoured only on requests whose peer falls inside
// trustedProxies. With none, the origin is always the TCP peer.
func NewOTPHandler(svc *app.OTPService, logger *slog.Logger, trustedProxies []netip.Prefix) *OTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OTPHandler{svc: svc, logger: logger, proxies: trustedProxies}
}

// Routes mounts the OTP endpoints under /v1/otp.
func (h *OTPHandler) Routes(r chi.Router) {
	r.Route("/v1/otp", func(r chi.Router) {
		r.Use(chimw.RequestSize(maxBodyBytes))
		r.Use(TrustedRealIP(h.proxies))
		r.Post("/send", h.SendChallenge)
		r.Post("/verify", h.VerifyChallenge)
	})
}

type sendRequest struct {
	Phone string `json:"phone"`
}

type sendResponse struct {
	Success           bool      `json:"success"`
	Message           string    `json:"message"`
	ExpiresAt         time.Time `json:"expires_at"`
	RetryAfterSeconds int64     `json:"retry_after_seconds"`
}

type verifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Phone   string `json:"phone"`
}

type errorResponse struct {
	Success           bool   `json:"success"`
	Code              string `json:"code"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
}

// SendChallenge handles POST /v1/otp/send.
func (h *OTPHandler) SendChallenge(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Phone) == "" {
		h.writeError(w, r, fmt.Errorf("phone is required: %w", domain.ErrInvalidInput))
		return
	}

	result, err := h.svc.SendChallenge(r.Context(), req.Phone, clientIP(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sendResponse{
		Success:           true,
		Message:           "verification code sent",
		ExpiresAt:         result.ExpiresAt.UTC(),
		RetryAfterSeconds: seconds(result.RetryAfter),
	})
}

// VerifyChallenge handles POST /v1/otp/verify.
func (h *OTPHandler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Phone) == "" || req.Code == "" {
		h.writeError(w, r, fmt.Errorf("phone and code are required: %w", domain.ErrInvalidInput))
		return
	}

	result, err := h.svc.VerifyChallenge(r.Context(), req.Phone, req.Code)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Success: true,
		Message: "phone number verified",
		Phone:   result.Phone.String(),
	})
}

func (h *OTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	he := errmap.ToHTTPError(err)
	logger := observability.WithTraceID(r.Context(), h.logger).With(
		slog.String("path", r.URL.Path),
		slog.Int("status", he.StatusCode),
		slog.String("request_id", chimw.GetReqID(r.Context())),
	)
	switch {
	case he.StatusCode >= http.StatusInternalServerError:
		logger.ErrorContext(r.Context(), "otp request failed",
			slog.Bool("retryable", domain.IsRetryable(err)),
			slog.String("error", err.Error()),
		)
	case domain.IsClientError(err):
		logger.DebugContext(r.Context(), "otp request rejected", slog.String("code", he.Code))
	}

	body := errorResponse{Code: he.Code, Message: he.Message}
	if he.RetryAfter > 0 {
		body.RetryAfterSeconds = seconds(he.RetryAfter)
		w.Header().Set("Retry-After", fmt.Sprintf("%d", body.RetryAfterSeconds))
	}
	writeJSON(w, he.StatusCode, body)
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %v: %w", err, domain.ErrInvalidInput)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// clientIP returns the origin the issuance limit is keyed on: the
// canonical form of the peer address left by TrustedRealIP. An
// unparseable peer yields "", which the service buckets as unknown.
func clientIP(r *http.Request) string {
	addr, ok := parseRemoteAddr(r.RemoteAddr)
	if !ok {
		return ""
	}
	return addr.String()
}

// seconds rounds d up to whole seconds so clients never retry early.
func seconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
