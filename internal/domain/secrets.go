package domain

import "log/slog"

const redacted = "[REDACTED]"

// SecretString wraps sensitive string values such as the Redis password.
// It renders as [REDACTED] through fmt and slog.
type SecretString string

func (s SecretString) String() string { return redacted }

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value { return slog.StringValue(redacted) }

// Expose returns the actual secret value.
func (s SecretString) Expose() string { return string(s) }

// IsEmpty returns true if the secret is empty.
func (s SecretString) IsEmpty() bool { return len(s) == 0 }

// SecretBytes wraps sensitive byte values such as the OTP hashing pepper.
type SecretBytes []byte

func (s SecretBytes) String() string { return redacted }

// LogValue implements slog.LogValuer.
func (s SecretBytes) LogValue() slog.Value { return slog.StringValue(redacted) }

// Expose returns the actual secret bytes.
func (s SecretBytes) Expose() []byte { return []byte(s) }

// IsEmpty returns true if the secret is empty.
func (s SecretBytes) IsEmpty() bool { return len(s) == 0 }

var (
	_ slog.LogValuer = SecretString("")
	_ slog.LogValuer = SecretBytes{}
)
