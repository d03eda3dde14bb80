package repository

import "database/sql"

// CredentialStore bundles the repositories the auth flows need behind one
// value.
type CredentialStore struct {
	*UserRepo
	*TokenRepo
	*VerificationRepo
}

func NewCredentialStore(db *sql.DB) *CredentialStore {
	return &CredentialStore{
		UserRepo:         NewUserRepo(db),
		TokenRepo:        NewTokenRepo(db),
		VerificationRepo: NewVerificationRepo(db),
	}
}
