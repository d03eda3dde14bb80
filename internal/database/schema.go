package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order by Migrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id CHAR(26) NOT NULL PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		role VARCHAR(16) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		email_verified_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_users_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id CHAR(26) NOT NULL PRIMARY KEY,
		user_id CHAR(26) NOT NULL,
		token_hash CHAR(64) NOT NULL,
		expires_at DATETIME(6) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		KEY idx_refresh_user_created (user_id, created_at),
		CONSTRAINT fk_refresh_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS email_verification_tokens (
		id CHAR(26) NOT NULL PRIMARY KEY,
		user_id CHAR(26) NOT NULL,
		token CHAR(64) NOT NULL,
		expires_at DATETIME(6) NOT NULL,
		used_at DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_verification_token (token),
		KEY idx_verification_user (user_id, created_at),
		CONSTRAINT fk_verification_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id CHAR(26) NOT NULL PRIMARY KEY,
		number VARCHAR(32) NOT NULL,
		title VARCHAR(255) NOT NULL,
		status VARCHAR(16) NOT NULL,
		requester_user_id CHAR(26) NULL,
		requester_email VARCHAR(255) NOT NULL,
		order_id VARCHAR(64) NULL,
		access_code_hash VARCHAR(255) NOT NULL DEFAULT '',
		created_at DATETIME(6) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		UNIQUE KEY uq_tickets_number (number),
		KEY idx_tickets_requester (requester_user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the tables the service needs if they are missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
