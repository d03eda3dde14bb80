package model

import "time"

// User represents an account record as stored in the `users` table. The
// json tags are omitted here because this struct carries the password hash;
// handlers render PublicUser instead.
//
// Fields:
//
//	ID              – ULID primary key.
//	Email           – lower-cased, trimmed, globally unique.
//	Name            – display name.
//	Role            – account role.
//	PasswordHash    – bcrypt hash of the password.
//	EmailVerifiedAt – when the address was confirmed, nil while unverified.
//	CreatedAt       – timestamp of creation.
//	UpdatedAt       – timestamp of last update.
type User struct {
	ID              string
	Email           string
	Name            string
	Role            Role
	PasswordHash    string
	EmailVerifiedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Verified reports whether the user has confirmed their email address.
// Verification is terminal: once set, EmailVerifiedAt is never cleared.
func (u User) Verified() bool {
	return u.EmailVerifiedAt != nil
}

// Public returns the view of u that may leave the service.
func (u User) Public() PublicUser {
	return PublicUser{
		ID:              u.ID,
		Email:           u.Email,
		Name:            u.Name,
		Role:            u.Role,
		EmailVerifiedAt: u.EmailVerifiedAt,
		CreatedAt:       u.CreatedAt,
	}
}

// PublicUser is the user representation returned to clients.
type PublicUser struct {
	ID              string     `json:"id"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	Role            Role       `json:"role"`
	EmailVerifiedAt *time.Time `json:"email_verified_at"`
	CreatedAt       time.Time  `json:"created_at"`
}
