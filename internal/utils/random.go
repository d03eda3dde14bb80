package utils

import (
	"crypto/rand"
	"encoding/hex"
)

const (
	refreshTokenBytes      = 32 // 64 hex chars
	verificationTokenBytes = 32 // 64 hex chars
	accessCodeBytes        = 6  // 12 hex chars
)

// RandomHex returns a hex-encoded string generated from n bytes of
// cryptographically secure random data.
func RandomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewVerificationToken returns a single-use email verification token.
func NewVerificationToken() (string, error) {
	return RandomHex(verificationTokenBytes)
}

// NewAccessCode returns a ticket access code. Codes are lower-case hex and
// compared case-sensitively.
func NewAccessCode() (string, error) {
	return RandomHex(accessCodeBytes)
}
