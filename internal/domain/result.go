package domain

// VerificationResult is the ephemeral outcome of one verification attempt.
type VerificationResult int

const (
	ResultSuccess VerificationResult = iota
	ResultInvalidCode
	ResultExpired
	ResultLocked
	ResultRateLimited
	ResultNotFound
)

var resultNames = map[VerificationResult]string{
	ResultSuccess:     "success",
	ResultInvalidCode: "invalid_code",
	ResultExpired:     "expired",
	ResultLocked:      "locked",
	ResultRateLimited: "rate_limited",
	ResultNotFound:    "not_found",
}

func (r VerificationResult) String() string {
	if name, ok := resultNames[r]; ok {
		return name
	}
	return "unknown"
}

// Err maps a non-success result to its sentinel error. Unknown values map
// to ErrUnavailable so that ambiguity never reads as success.
func (r VerificationResult) Err() error {
	switch r {
	case ResultSuccess:
		return nil
	case ResultInvalidCode:
		return ErrInvalidOTP
	case ResultExpired:
		return ErrOTPExpired
	case ResultLocked:
		return ErrOTPLocked
	case ResultRateLimited:
		return ErrRateLimited
	case ResultNotFound:
		return ErrChallengeNotFound
	default:
		return ErrUnavailable
	}
}
