// Package service holds the identity and ticket access rules. It depends on
// storage and delivery only through the interfaces declared here.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/iliyamo/storefront-identity/internal/model"
	"github.com/iliyamo/storefront-identity/internal/repository"
)

// UserFinder loads a user by id.
type UserFinder interface {
	FindUserByID(ctx context.Context, id string) (model.User, error)
}

// CredentialStore persists users, refresh records and verification
// records. Every operation is atomic on its own row; the service sequences
// calls and never holds a lock across them.
//
// DeleteRefreshRecord and MarkVerificationUsed are conditional and report
// whether this call performed the change. A false result means a
// concurrent request consumed the record first.
type CredentialStore interface {
	UserFinder
	FindUserByEmail(ctx context.Context, email string) (model.User, error)
	CreateUser(ctx context.Context, u model.User) error
	UpdateUser(ctx context.Context, u model.User) error

	CreateRefreshRecord(ctx context.Context, t model.RefreshToken) error
	FindLatestRefreshRecord(ctx context.Context, userID string) (model.RefreshToken, error)
	DeleteRefreshRecord(ctx context.Context, id string) (bool, error)
	DeleteAllRefreshRecords(ctx context.Context, userID string) error

	CreateVerificationRecord(ctx context.Context, v model.VerificationToken) error
	FindActiveVerificationRecord(ctx context.Context, userID string, now time.Time) (model.VerificationToken, error)
	FindVerificationRecordByToken(ctx context.Context, token string) (model.VerificationToken, error)
	MarkVerificationUsed(ctx context.Context, id string, at time.Time) (bool, error)
	DeleteVerificationRecord(ctx context.Context, id string) error
	DeleteOtherVerificationRecords(ctx context.Context, userID, keepID string) error
}

// TicketStore persists the access facet of tickets.
type TicketStore interface {
	CreateTicket(ctx context.Context, t model.Ticket) error
	FindTicket(ctx context.Context, id string) (model.Ticket, error)
	UpdateTicketStatus(ctx context.Context, id string, status model.TicketStatus, at time.Time) error
}

// VerificationMailer delivers verification tokens.
type VerificationMailer interface {
	SendVerification(ctx context.Context, to, name, token string) error
}

// TicketMailer delivers ticket status changes.
type TicketMailer interface {
	SendTicketUpdated(ctx context.Context, to, title, number string, status model.TicketStatus) error
}

var (
	_ CredentialStore = (*repository.CredentialStore)(nil)
	_ TicketStore     = (*repository.TicketRepo)(nil)
)

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}

// storeErr wraps an infrastructure failure. It surfaces as an internal
// error at the transport boundary.
func storeErr(op string, err error) error {
	return oops.Code("AUTH_STORE_FAILED").With("operation", op).Wrapf(err, "%s", op)
}
