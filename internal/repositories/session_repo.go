package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kwhitfield/bastion/internal/database"
	"github.com/kwhitfield/bastion/internal/models"
)

// SessionRepository is the Postgres-backed session store. Resolve reports
// models.ErrUnknownSession for missing or expired rows so callers can
// distinguish a stale session from an infrastructure failure.
type SessionRepository struct {
	pool   *pgxpool.Pool
	expiry time.Duration
}

func NewSessionRepository(db *database.DB, expiry time.Duration) *SessionRepository {
	return &SessionRepository{pool: db.Pool, expiry: expiry}
}

// Create inserts a new session for the user and returns it.
func (r *SessionRepository) Create(ctx context.Context, userID string) (*models.Session, error) {
	now := time.Now()
	session := &models.Session{
		ID:            uuid.New().String(),
		UserID:        userID,
		CorrelationID: uuid.New().String(),
		CreatedAt:     now,
		LastSeenAt:    now,
		ExpiresAt:     now.Add(r.expiry),
	}

	query := `
		INSERT INTO sessions (id, user_id, correlation_id, created_at, last_seen_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID, session.UserID, session.CorrelationID,
		session.CreatedAt, session.LastSeenAt, session.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// Resolve returns the subject an alive session belongs to.
func (r *SessionRepository) Resolve(ctx context.Context, sessionID string) (*models.Subject, error) {
	query := `
		SELECT s.id, s.user_id, u.username, u.role
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = $1 AND s.expires_at > NOW()
	`

	var sub models.Subject
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&sub.SessionID, &sub.UserID, &sub.Username, &sub.Role,
	)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return nil, models.ErrUnknownSession
		}
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	return &sub, nil
}

// Get returns the full session row, used for correlation cookie checks.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	query := `
		SELECT id, user_id, correlation_id, created_at, last_seen_at, expires_at
		FROM sessions WHERE id = $1 AND expires_at > NOW()
	`

	var s models.Session
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&s.ID, &s.UserID, &s.CorrelationID, &s.CreatedAt, &s.LastSeenAt, &s.ExpiresAt,
	)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return nil, models.ErrUnknownSession
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return &s, nil
}

// Touch refreshes the session's last-seen time and pushes out expiry.
func (r *SessionRepository) Touch(ctx context.Context, sessionID string) error {
	query := `UPDATE sessions SET last_seen_at = NOW(), expires_at = NOW() + make_interval(secs => $2) WHERE id = $1`
	if _, err := r.pool.Exec(ctx, query, sessionID, r.expiry.Seconds()); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// Invalidate removes a session. Removing an already-absent session is not
// an error.
func (r *SessionRepository) Invalidate(ctx context.Context, sessionID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}
	return nil
}

// InvalidateAllForUser removes every session the user owns.
func (r *SessionRepository) InvalidateAllForUser(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to invalidate user sessions: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions past their expiry, returning the row count.
func (r *SessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
