package model

import "time"

// Principal is the authenticated caller as decoded from an access token.
// It reflects account state at token issuance; decisions that depend on
// current state must reload the user from storage.
type Principal struct {
	UserID          string
	Email           string
	Name            string
	Role            Role
	EmailVerifiedAt *time.Time
}
