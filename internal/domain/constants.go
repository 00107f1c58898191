package domain

import "time"

// Compiled policy defaults. Every value can be overridden via configuration.
const (
	// Challenge lifetime and verification budget
	CodeLength           = 6               // Digits per OTP
	OTPValidityDuration  = 5 * time.Minute // How long an issued code remains valid
	MaxOTPVerifyAttempts = 3               // Wrong codes before the challenge locks

	// Issuance policy
	OTPResendCooldown          = 60 * time.Second // Minimum gap between sends to one phone
	OTPIssueWindow             = time.Hour        // Window for the per-phone and per-origin caps
	OTPIssueRateLimitPerPhone  = 5                // Max sends per phone per window
	OTPIssueRateLimitPerOrigin = 20               // Max sends per origin per window
	OTPVerifyRateLimitPerPhone = 0                // Max verify calls per phone per window (0 disables)
	OTPChallengeRetention      = 24 * time.Hour   // How long resolved challenges linger before GC
	OTPSweepInterval           = time.Minute      // In-process sweeper period

	// Timeout contracts
	DeliveryTimeout = 10 * time.Second // Max time for one gateway send
	DynamoDBTimeout = 5 * time.Second  // Max time for DynamoDB operations
	RedisTimeout    = 2 * time.Second  // Max time for Redis operations

	// Optimistic concurrency
	MaxCASRetries = 3 // Conditional-write attempts before giving up

	// Graceful shutdown
	GracefulShutdownTimeout = 30 * time.Second
	ShutdownDrainDelay      = 2 * time.Second
	ShutdownHTTPTimeout     = 15 * time.Second
	ShutdownOTELTimeout     = 5 * time.Second

	// UnknownOrigin buckets requests that arrive without an origin.
	UnknownOrigin = "unknown"
)
