package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/storefront-identity/internal/model"
)

// TokenRepo persists refresh token digests (single 'token_hash' column).
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// CreateRefreshRecord inserts a refresh token row.
func (r *TokenRepo) CreateRefreshRecord(ctx context.Context, t model.RefreshToken) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at) VALUES (?,?,?,?,?)",
		t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt)
	if err != nil && isDuplicate(err) {
		return ErrConflict
	}
	return err
}

// FindLatestRefreshRecord returns the most recently created record for the
// user, expired or not. Expiry is the caller's decision.
func (r *TokenRepo) FindLatestRefreshRecord(ctx context.Context, userID string) (model.RefreshToken, error) {
	var t model.RefreshToken
	err := r.DB.QueryRowContext(ctx,
		"SELECT id, user_id, token_hash, expires_at, created_at FROM refresh_tokens WHERE user_id=? ORDER BY created_at DESC, id DESC LIMIT 1",
		userID).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return model.RefreshToken{}, mapNoRows(err)
	}
	return t, nil
}

// DeleteRefreshRecord removes a record and reports whether this call was the
// one that removed it. Concurrent refreshes racing on the same record see
// exactly one true.
func (r *TokenRepo) DeleteRefreshRecord(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE id=?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteAllRefreshRecords revokes every session of the user.
func (r *TokenRepo) DeleteAllRefreshRecords(ctx context.Context, userID string) error {
	_, err := r.DB.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE user_id=?", userID)
	return err
}
