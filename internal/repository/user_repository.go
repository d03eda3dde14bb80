package repository

import (
	"context"
	"database/sql"
	"strings"

	"github.com/iliyamo/storefront-identity/internal/model"
)

// UserRepo persists rows of the `users` table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id,email,name,role,password_hash,email_verified_at,created_at,updated_at"

// NormalizeEmail lower-cases and trims an address. Every lookup and insert
// goes through it so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// CreateUser inserts u. The email is normalized before insert.
func (r *UserRepo) CreateUser(ctx context.Context, u model.User) error {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO users ("+userColumns+") VALUES (?,?,?,?,?,?,?,?)",
		u.ID, NormalizeEmail(u.Email), u.Name, string(u.Role), u.PasswordHash,
		u.EmailVerifiedAt, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return ErrEmailExists
		}
		return err
	}
	return nil
}

// UpdateUser overwrites the mutable columns of u.
func (r *UserRepo) UpdateUser(ctx context.Context, u model.User) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET name=?, role=?, password_hash=?, email_verified_at=?, updated_at=? WHERE id=?",
		u.Name, string(u.Role), u.PasswordHash, u.EmailVerifiedAt, u.UpdatedAt, u.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindUserByEmail fetches a user by normalized email.
func (r *UserRepo) FindUserByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", NormalizeEmail(email))
	return scanUser(row)
}

// FindUserByID fetches a user by id.
func (r *UserRepo) FindUserByID(ctx context.Context, id string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (model.User, error) {
	var (
		u        model.User
		role     string
		verified sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Email, &u.Name, &role, &u.PasswordHash, &verified, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, mapNoRows(err)
	}
	u.Role = model.Role(role)
	u.EmailVerifiedAt = nullTime(verified)
	return u, nil
}
