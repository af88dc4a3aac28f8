package services

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwhitfield/bastion/internal/auth"
	"github.com/kwhitfield/bastion/internal/models"
	pkgauth "github.com/kwhitfield/bastion/pkg/auth"
)

type staticTicketValidator struct {
	claims *auth.TicketClaims
	err    error
}

func (v *staticTicketValidator) Validate(ticket string) (*auth.TicketClaims, error) {
	return v.claims, v.err
}

func activeUser(t *testing.T, username, password string) *models.User {
	t.Helper()
	hash, err := pkgauth.HashPassword(password)
	require.NoError(t, err)
	return &models.User{
		ID:           "u1",
		Username:     username,
		PasswordHash: hash,
		Role:         "user",
		Status:       "active",
	}
}

func newVerifier(users UserRepository, sessions SessionStore, tickets TicketValidator) *CredentialVerifier {
	return NewCredentialVerifier(users, sessions, tickets, nil, discardLogger())
}

func TestCredentialVerifier_Basic_Success(t *testing.T) {
	user := activeUser(t, "alice", "SecureP@ss123")
	users := &mockUserRepo{
		getByUsernameFn: func(ctx context.Context, username string) (*models.User, error) {
			assert.Equal(t, "alice", username)
			return user, nil
		},
	}
	v := newVerifier(users, &mockSessionStore{}, nil)

	sub, err := v.Verify(context.Background(), models.BasicCredential{Username: "alice", Secret: "SecureP@ss123"}, "")

	require.NoError(t, err)
	assert.Equal(t, "u1", sub.UserID)
	assert.Equal(t, "alice", sub.Username)
	assert.Empty(t, sub.SessionID)
}

func TestCredentialVerifier_Basic_WrongPassword(t *testing.T) {
	user := activeUser(t, "alice", "SecureP@ss123")
	users := &mockUserRepo{
		getByUsernameFn: func(ctx context.Context, username string) (*models.User, error) {
			return user, nil
		},
	}
	v := newVerifier(users, &mockSessionStore{}, nil)

	_, err := v.Verify(context.Background(), models.BasicCredential{Username: "alice", Secret: "nope"}, "")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestCredentialVerifier_Basic_UnknownUser(t *testing.T) {
	v := newVerifier(&mockUserRepo{}, &mockSessionStore{}, nil)

	_, err := v.Verify(context.Background(), models.BasicCredential{Username: "ghost", Secret: "pw"}, "")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestCredentialVerifier_Basic_SuspendedAccount(t *testing.T) {
	user := activeUser(t, "alice", "SecureP@ss123")
	user.Status = "suspended"
	users := &mockUserRepo{
		getByUsernameFn: func(ctx context.Context, username string) (*models.User, error) {
			return user, nil
		},
	}
	v := newVerifier(users, &mockSessionStore{}, nil)

	_, err := v.Verify(context.Background(), models.BasicCredential{Username: "alice", Secret: "SecureP@ss123"}, "")
	assert.ErrorIs(t, err, models.ErrAccountSuspended)
}

func TestCredentialVerifier_Basic_SecondFactorChallenge(t *testing.T) {
	user := activeUser(t, "alice", "SecureP@ss123")
	user.TOTPSecret = []byte("enrolled")
	users := &mockUserRepo{
		getByUsernameFn: func(ctx context.Context, username string) (*models.User, error) {
			return user, nil
		},
	}
	v := newVerifier(users, &mockSessionStore{}, nil)

	// Correct password but no passcode: challenge, not rejection.
	_, err := v.Verify(context.Background(), models.BasicCredential{Username: "alice", Secret: "SecureP@ss123"}, "")

	var mfaErr *models.SecondFactorRequiredError
	require.ErrorAs(t, err, &mfaErr)
	assert.Equal(t, "totp", mfaErr.Mechanism)

	// Wrong password never reaches the second-factor step.
	_, err = v.Verify(context.Background(), models.BasicCredential{Username: "alice", Secret: "nope", Passcode: "123456"}, "")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestCredentialVerifier_HeaderToken(t *testing.T) {
	user := activeUser(t, "alice", "pw")
	users := &mockUserRepo{
		getByTokenKeyFn: func(ctx context.Context, tokenKey string) (*models.User, error) {
			if tokenKey == "good-token" {
				return user, nil
			}
			return nil, models.ErrNotFound
		},
	}
	v := newVerifier(users, &mockSessionStore{}, nil)

	sub, err := v.Verify(context.Background(), models.HeaderTokenCredential{Token: "good-token"}, "")
	require.NoError(t, err)
	assert.Equal(t, "u1", sub.UserID)

	_, err = v.Verify(context.Background(), models.HeaderTokenCredential{Token: "bad-token"}, "")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}

func TestCredentialVerifier_Certificate(t *testing.T) {
	user := activeUser(t, "alice", "pw")
	users := &mockUserRepo{
		getByCertCNFn: func(ctx context.Context, cn string) (*models.User, error) {
			if cn == "alice.example.com" {
				return user, nil
			}
			return nil, models.ErrNotFound
		},
	}
	v := newVerifier(users, &mockSessionStore{}, nil)

	cert := &x509.Certificate{Subject: pkix.Name{CommonName: "alice.example.com"}}
	sub, err := v.Verify(context.Background(), models.CertificateCredential{Cert: cert}, "")
	require.NoError(t, err)
	assert.Equal(t, "u1", sub.UserID)

	// No common name cannot identify anyone.
	_, err = v.Verify(context.Background(), models.CertificateCredential{Cert: &x509.Certificate{}}, "")
	assert.ErrorIs(t, err, models.ErrMalformedCredentials)
}

func TestCredentialVerifier_CookieSession_Success(t *testing.T) {
	sessions := &mockSessionStore{
		getFn: func(ctx context.Context, sessionID string) (*models.Session, error) {
			return &models.Session{ID: sessionID, UserID: "u1", CorrelationID: "c1", ExpiresAt: time.Now().Add(time.Hour)}, nil
		},
		resolveFn: func(ctx context.Context, sessionID string) (*models.Subject, error) {
			return &models.Subject{UserID: "u1", Username: "alice", SessionID: sessionID}, nil
		},
	}
	v := newVerifier(&mockUserRepo{}, sessions, nil)

	cred := models.CookieSessionCredential{SessionID: "s1", RequestID: "c1"}
	sub, err := v.Verify(context.Background(), cred, "s1")

	require.NoError(t, err)
	assert.Equal(t, "s1", sub.SessionID)
}

func TestCredentialVerifier_CookieSession_CorrelationMismatchKillsSession(t *testing.T) {
	sessions := &mockSessionStore{
		getFn: func(ctx context.Context, sessionID string) (*models.Session, error) {
			return &models.Session{ID: sessionID, UserID: "u1", CorrelationID: "c1"}, nil
		},
	}
	v := newVerifier(&mockUserRepo{}, sessions, nil)

	cred := models.CookieSessionCredential{SessionID: "s1", RequestID: "stolen"}
	_, err := v.Verify(context.Background(), cred, "s1")

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.Equal(t, []string{"s1"}, sessions.invalidated)
}

func TestCredentialVerifier_CookieSession_UnknownSessionPropagates(t *testing.T) {
	v := newVerifier(&mockUserRepo{}, &mockSessionStore{}, nil)

	cred := models.CookieSessionCredential{SessionID: "gone", RequestID: "c1"}
	_, err := v.Verify(context.Background(), cred, "gone")
	assert.ErrorIs(t, err, models.ErrUnknownSession)
}

func TestCredentialVerifier_CookieSession_RetryWithoutSessionFails(t *testing.T) {
	v := newVerifier(&mockUserRepo{}, &mockSessionStore{}, nil)

	// The session-less retry of a cookie credential must fail terminally
	// instead of reporting the session unknown again.
	cred := models.CookieSessionCredential{SessionID: "gone", RequestID: "c1"}
	_, err := v.Verify(context.Background(), cred, "")

	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
	assert.NotErrorIs(t, err, models.ErrUnknownSession)
}

func TestCredentialVerifier_Ticket_ResumesLiveSession(t *testing.T) {
	tickets := &staticTicketValidator{claims: &auth.TicketClaims{UserID: "u1", SessionID: "s1"}}
	sessions := &mockSessionStore{
		resolveFn: func(ctx context.Context, sessionID string) (*models.Subject, error) {
			return &models.Subject{UserID: "u1", Username: "alice", SessionID: sessionID}, nil
		},
	}
	v := newVerifier(&mockUserRepo{}, sessions, tickets)

	sub, err := v.Verify(context.Background(), models.TicketCredential{TicketID: "tkt"}, "")
	require.NoError(t, err)
	assert.Equal(t, "s1", sub.SessionID)
}

func TestCredentialVerifier_Ticket_FallsBackWhenSessionGone(t *testing.T) {
	user := activeUser(t, "alice", "pw")
	tickets := &staticTicketValidator{claims: &auth.TicketClaims{UserID: "u1", SessionID: "expired"}}
	users := &mockUserRepo{
		getByIDFn: func(ctx context.Context, id string) (*models.User, error) {
			return user, nil
		},
	}
	v := newVerifier(users, &mockSessionStore{}, tickets)

	sub, err := v.Verify(context.Background(), models.BearerCredential{TicketID: "tkt"}, "")
	require.NoError(t, err)
	assert.Equal(t, "u1", sub.UserID)
	assert.Empty(t, sub.SessionID, "expired ticket session degrades to a stateless subject")
}

func TestCredentialVerifier_Ticket_InvalidRejected(t *testing.T) {
	tickets := &staticTicketValidator{err: models.ErrInvalidCredentials}
	v := newVerifier(&mockUserRepo{}, &mockSessionStore{}, tickets)

	_, err := v.Verify(context.Background(), models.TicketCredential{TicketID: "garbage"}, "")
	assert.ErrorIs(t, err, models.ErrInvalidCredentials)
}
