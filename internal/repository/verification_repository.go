package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/storefront-identity/internal/model"
)

// VerificationRepo persists email verification tokens.
type VerificationRepo struct{ DB *sql.DB }

func NewVerificationRepo(db *sql.DB) *VerificationRepo { return &VerificationRepo{DB: db} }

const verificationColumns = "id, user_id, token, expires_at, used_at, created_at"

func (r *VerificationRepo) CreateVerificationRecord(ctx context.Context, v model.VerificationToken) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO email_verification_tokens ("+verificationColumns+") VALUES (?,?,?,?,?,?)",
		v.ID, v.UserID, v.Token, v.ExpiresAt, v.UsedAt, v.CreatedAt)
	if err != nil && isDuplicate(err) {
		return ErrConflict
	}
	return err
}

// FindActiveVerificationRecord returns the newest unused, unexpired token
// of the user at now.
func (r *VerificationRepo) FindActiveVerificationRecord(ctx context.Context, userID string, now time.Time) (model.VerificationToken, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+verificationColumns+" FROM email_verification_tokens WHERE user_id=? AND used_at IS NULL AND expires_at > ? ORDER BY created_at DESC, id DESC LIMIT 1",
		userID, now)
	return scanVerification(row)
}

func (r *VerificationRepo) FindVerificationRecordByToken(ctx context.Context, token string) (model.VerificationToken, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+verificationColumns+" FROM email_verification_tokens WHERE token=? LIMIT 1", token)
	return scanVerification(row)
}

// MarkVerificationUsed sets used_at if it is still null and reports whether
// this call consumed the token.
func (r *VerificationRepo) MarkVerificationUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE email_verification_tokens SET used_at=? WHERE id=? AND used_at IS NULL", at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *VerificationRepo) DeleteVerificationRecord(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM email_verification_tokens WHERE id=?", id)
	return err
}

// DeleteOtherVerificationRecords removes the user's unused tokens except
// keepID. Used tokens stay as an audit trail; they can never be honored
// again.
func (r *VerificationRepo) DeleteOtherVerificationRecords(ctx context.Context, userID, keepID string) error {
	_, err := r.DB.ExecContext(ctx,
		"DELETE FROM email_verification_tokens WHERE user_id=? AND id<>? AND used_at IS NULL", userID, keepID)
	return err
}

func scanVerification(row *sql.Row) (model.VerificationToken, error) {
	var (
		v    model.VerificationToken
		used sql.NullTime
	)
	if err := row.Scan(&v.ID, &v.UserID, &v.Token, &v.ExpiresAt, &used, &v.CreatedAt); err != nil {
		return model.VerificationToken{}, mapNoRows(err)
	}
	v.UsedAt = nullTime(used)
	return v, nil
}
