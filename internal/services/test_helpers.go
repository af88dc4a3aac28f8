package services

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/kwhitfield/bastion/internal/auth"
	"github.com/kwhitfield/bastion/internal/models"
	pkglogger "github.com/kwhitfield/bastion/pkg/logger"
)

// Shared test doubles for the services package.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(discardLogger())
}

func noDelay() *auth.TimingDelay {
	return auth.NewTimingDelay(auth.TimingConfig{})
}

// mockUserRepo implements UserRepository with overridable behavior.
type mockUserRepo struct {
	createFn          func(ctx context.Context, user *models.User) (*models.User, error)
	getByIDFn         func(ctx context.Context, id string) (*models.User, error)
	getByUsernameFn   func(ctx context.Context, username string) (*models.User, error)
	getByTokenKeyFn   func(ctx context.Context, tokenKey string) (*models.User, error)
	getByCertCNFn     func(ctx context.Context, cn string) (*models.User, error)
	updateLastLoginFn func(ctx context.Context, id string, at time.Time) error
	setTOTPLastUsedFn func(ctx context.Context, id string, at time.Time) error
}

func (m *mockUserRepo) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return user, nil
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *mockUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	if m.getByUsernameFn != nil {
		return m.getByUsernameFn(ctx, username)
	}
	return nil, models.ErrNotFound
}

func (m *mockUserRepo) GetByTokenKey(ctx context.Context, tokenKey string) (*models.User, error) {
	if m.getByTokenKeyFn != nil {
		return m.getByTokenKeyFn(ctx, tokenKey)
	}
	return nil, models.ErrNotFound
}

func (m *mockUserRepo) GetByCertificateCN(ctx context.Context, cn string) (*models.User, error) {
	if m.getByCertCNFn != nil {
		return m.getByCertCNFn(ctx, cn)
	}
	return nil, models.ErrNotFound
}

func (m *mockUserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	if m.updateLastLoginFn != nil {
		return m.updateLastLoginFn(ctx, id, at)
	}
	return nil
}

func (m *mockUserRepo) SetTOTPLastUsed(ctx context.Context, id string, at time.Time) error {
	if m.setTOTPLastUsedFn != nil {
		return m.setTOTPLastUsedFn(ctx, id, at)
	}
	return nil
}

// mockSessionStore implements SessionStore with overridable behavior.
type mockSessionStore struct {
	createFn     func(ctx context.Context, userID string) (*models.Session, error)
	resolveFn    func(ctx context.Context, sessionID string) (*models.Subject, error)
	getFn        func(ctx context.Context, sessionID string) (*models.Session, error)
	invalidateFn func(ctx context.Context, sessionID string) error

	invalidated []string
}

func (m *mockSessionStore) Create(ctx context.Context, userID string) (*models.Session, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID)
	}
	now := time.Now()
	return &models.Session{
		ID:            "session-1",
		UserID:        userID,
		CorrelationID: "correlation-1",
		CreatedAt:     now,
		LastSeenAt:    now,
		ExpiresAt:     now.Add(time.Hour),
	}, nil
}

func (m *mockSessionStore) Resolve(ctx context.Context, sessionID string) (*models.Subject, error) {
	if m.resolveFn != nil {
		return m.resolveFn(ctx, sessionID)
	}
	return nil, models.ErrUnknownSession
}

func (m *mockSessionStore) Get(ctx context.Context, sessionID string) (*models.Session, error) {
	if m.getFn != nil {
		return m.getFn(ctx, sessionID)
	}
	return nil, models.ErrUnknownSession
}

func (m *mockSessionStore) Invalidate(ctx context.Context, sessionID string) error {
	m.invalidated = append(m.invalidated, sessionID)
	if m.invalidateFn != nil {
		return m.invalidateFn(ctx, sessionID)
	}
	return nil
}

// mockVerifier implements Verifier for login pipeline tests.
type mockVerifier struct {
	verifyFn func(ctx context.Context, cred models.Credential, sessionID string) (*models.Subject, error)
	calls    int
}

func (m *mockVerifier) Verify(ctx context.Context, cred models.Credential, sessionID string) (*models.Subject, error) {
	m.calls++
	if m.verifyFn != nil {
		return m.verifyFn(ctx, cred, sessionID)
	}
	return nil, models.ErrInvalidCredentials
}
