package domain

import "time"

// Clock provides the current time. Stores and limiters take a Clock so that
// expiry and window arithmetic can be driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// ToMillis converts t to UTC milliseconds since epoch.
// Use this for all persisted timestamps.
func ToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis converts epoch milliseconds to time.Time.
// The returned time has no monotonic reading (safe for serialization/comparison).
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var _ Clock = RealClock{}
