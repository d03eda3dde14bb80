package utils

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// SecretHasher turns secrets into one-way hashes and checks candidates
// against them. Verify never errors: a malformed stored hash is reported as
// a mismatch so callers can treat every failure the same way.
type SecretHasher interface {
	Hash(plain string) (string, error)
	Verify(hash, plain string) bool
}

// BcryptHasher is the salted, slow hasher used for passwords and ticket
// access codes.
type BcryptHasher struct {
	cost int
	// comparison is verified against when the stored hash is malformed so a
	// broken row costs as much time as a real mismatch.
	comparison []byte
}

// NewBcryptHasher returns a hasher using cost, clamped to bcrypt's range.
func NewBcryptHasher(cost int) (*BcryptHasher, error) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	raw, err := RandomHex(16)
	if err != nil {
		return nil, err
	}
	comparison, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return nil, err
	}
	return &BcryptHasher{cost: cost, comparison: comparison}, nil
}

// Hash returns the bcrypt hash of plain.
func (h *BcryptHasher) Hash(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Verify safely compares a bcrypt hash and a plaintext secret.
func (h *BcryptHasher) Verify(hash, plain string) bool {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		_ = bcrypt.CompareHashAndPassword(h.comparison, []byte(plain))
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// DigestHasher stores SHA-256 digests of high-entropy random tokens. The
// tokens carry enough entropy that a slow hash adds nothing, and lookups stay
// cheap.
type DigestHasher struct{}

// Hash returns the hex SHA-256 digest of plain.
func (DigestHasher) Hash(plain string) (string, error) {
	return HashRefreshRaw(plain), nil
}

// Verify compares digests in constant time.
func (DigestHasher) Verify(hash, plain string) bool {
	computed := HashRefreshRaw(plain)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// HashRefreshRaw returns the SHA-256 hash of a raw refresh token as a hex
// string. Only this digest is ever persisted.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
