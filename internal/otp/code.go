// Package otp generates one-time passcodes and the salted comparison
// secrets stored in their place.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/aelexs/otp-auth/internal/domain"
)

// SaltLength is the size in bytes of the per-challenge random salt.
const SaltLength = 16

var codeMax = big.NewInt(1_000_000) // 10^domain.CodeLength

// GenerateCode generates a cryptographically random 6-digit code.
// rand.Int samples uniformly, so there is no modulo bias. The result is
// zero-padded (e.g. "000123").
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeMax)
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	return fmt.Sprintf("%0*d", domain.CodeLength, n.Int64()), nil
}

// HashPhone returns the SHA-256 hex digest of a canonical phone number.
// Storage keys and log fields use it instead of the number itself.
func HashPhone(phone domain.PhoneNumber) string {
	h := sha256.Sum256([]byte(phone.String()))
	return hex.EncodeToString(h[:])
}

// HashOrigin returns the SHA-256 hex digest of a rate-limit origin. Limit
// keys use it so their length is fixed whatever the origin holds.
func HashOrigin(origin string) string {
	h := sha256.Sum256([]byte(origin))
	return hex.EncodeToString(h[:])
}

// Generator issues codes and verifies candidates against stored secrets.
// The pepper is never persisted alongside the secrets it keys.
type Generator struct {
	pepper domain.SecretBytes
}

// NewGenerator creates a Generator keyed with pepper.
func NewGenerator(pepper domain.SecretBytes) (*Generator, error) {
	if pepper.IsEmpty() {
		return nil, fmt.Errorf("%w: otp pepper", domain.ErrConfigRequired)
	}
	return &Generator{pepper: pepper}, nil
}

// Issue returns a fresh plaintext code and its comparison secret for
// phone. The plaintext must go only to the delivery gateway.
func (g *Generator) Issue(phone domain.PhoneNumber) (string, domain.CodeSecret, error) {
	code, err := GenerateCode()
	if err != nil {
		return "", domain.CodeSecret{}, err
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", domain.CodeSecret{}, fmt.Errorf("generate otp salt: %w", err)
	}

	return code, domain.CodeSecret{
		Salt: hex.EncodeToString(salt),
		Hash: g.mac(salt, HashPhone(phone), code),
	}, nil
}

// Matches reports whether candidate is the code behind secret, issued for
// phone. A secret copied to another phone's record never matches. The
// hash comparison is constant time.
func (g *Generator) Matches(phone domain.PhoneNumber, secret domain.CodeSecret, candidate string) bool {
	salt, err := hex.DecodeString(secret.Salt)
	if err != nil {
		return false
	}
	got := g.mac(salt, HashPhone(phone), candidate)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret.Hash)) == 1
}

// Matcher adapts Matches to the callback taken by domain.Challenge.Attempt.
func (g *Generator) Matcher(phone domain.PhoneNumber, candidate string) func(domain.CodeSecret) bool {
	return func(secret domain.CodeSecret) bool {
		return g.Matches(phone, secret, candidate)
	}
}

// mac computes HMAC-SHA256(pepper, salt || phoneHash || code).
func (g *Generator) mac(salt []byte, phoneHash, code string) string {
	m := hmac.New(sha256.New, g.pepper.Expose())
	m.Write(salt)
	m.Write([]byte(phoneHash))
	m.Write([]byte(code))
	return hex.EncodeToString(m.Sum(nil))
}
