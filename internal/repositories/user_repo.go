package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kwhitfield/bastion/internal/database"
	"github.com/kwhitfield/bastion/internal/models"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{pool: db.Pool}
}

// rowScanner interface for scanning user rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `id, username, email, password_hash, display_name, token_key,
	certificate_cn, totp_secret, totp_nonce, totp_last_used, role, status,
	last_login_at, created_at, updated_at`

// scanUserRow handles nullable fields and populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var passwordHash, certificateCN *string
	var totpLastUsed, lastLoginAt *time.Time

	err := scanner.Scan(
		&user.ID, &user.Username, &user.Email, &passwordHash, &user.DisplayName,
		&user.TokenKey, &certificateCN, &user.TOTPSecret, &user.TOTPNonce,
		&totpLastUsed, &user.Role, &user.Status,
		&lastLoginAt, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}
	if certificateCN != nil {
		user.CertificateCN = *certificateCN
	}
	user.TOTPLastUsed = totpLastUsed
	user.LastLoginAt = lastLoginAt

	return &user, nil
}

// Create inserts a new user and returns the stored row.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash, display_name, token_key,
			certificate_cn, role, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + userColumns

	row := r.pool.QueryRow(ctx, query,
		user.Username, user.Email, user.PasswordHash, user.DisplayName,
		user.TokenKey, nullable(user.CertificateCN), user.Role, user.Status,
	)
	return scanUserRow(row)
}

// nullable maps "" to NULL for columns with uniqueness constraints.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, username))
}

// GetByTokenKey resolves the owner of an opaque header token.
func (r *UserRepository) GetByTokenKey(ctx context.Context, tokenKey string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE token_key = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, tokenKey))
}

// GetByCertificateCN resolves the user a client certificate subject maps to.
func (r *UserRepository) GetByCertificateCN(ctx context.Context, cn string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE certificate_cn = $1`
	return scanUserRow(r.pool.QueryRow(ctx, query, cn))
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE users SET last_login_at = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// SetTOTPSecret stores an encrypted TOTP secret and its nonce.
func (r *UserRepository) SetTOTPSecret(ctx context.Context, id string, secret, nonce []byte) error {
	query := `UPDATE users SET totp_secret = $2, totp_nonce = $3, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id, secret, nonce); err != nil {
		return fmt.Errorf("failed to set totp secret: %w", err)
	}
	return nil
}

func (r *UserRepository) SetTOTPLastUsed(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE users SET totp_last_used = $2, updated_at = NOW() WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to set totp last used: %w", err)
	}
	return nil
}
