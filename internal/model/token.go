package model

import "time"

// RefreshToken models an entry in the `refresh_tokens` table. Only the
// SHA-256 digest of the opaque token is stored; the plaintext is handed to
// the client once and never persisted.
type RefreshToken struct {
	ID        string    // refresh_tokens.id
	UserID    string    // refresh_tokens.user_id
	TokenHash string    // refresh_tokens.token_hash
	ExpiresAt time.Time // refresh_tokens.expires_at
	CreatedAt time.Time // refresh_tokens.created_at
}

// ExpiredAt reports whether the record is expired at t. A record whose
// expiry has passed is never honored, even if it is still stored.
func (r RefreshToken) ExpiredAt(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// VerificationToken models an entry in the `email_verification_tokens`
// table. The token is a single-use capability and is stored in clear.
type VerificationToken struct {
	ID        string     // email_verification_tokens.id
	UserID    string     // email_verification_tokens.user_id
	Token     string     // email_verification_tokens.token
	ExpiresAt time.Time  // email_verification_tokens.expires_at
	UsedAt    *time.Time // email_verification_tokens.used_at (nullable)
	CreatedAt time.Time  // email_verification_tokens.created_at
}

// Used reports whether the token has been consumed.
func (v VerificationToken) Used() bool {
	return v.UsedAt != nil
}

// ExpiredAt reports whether the token is expired at t.
func (v VerificationToken) ExpiredAt(t time.Time) bool {
	return !t.Before(v.ExpiresAt)
}

// ActiveAt reports whether the token is unused and unexpired at t.
func (v VerificationToken) ActiveAt(t time.Time) bool {
	return !v.Used() && !v.ExpiredAt(t)
}
