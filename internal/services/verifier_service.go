package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kwhitfield/bastion/internal/auth"
	"github.com/kwhitfield/bastion/internal/models"
	pkgauth "github.com/kwhitfield/bastion/pkg/auth"
)

// UserRepository defines the user lookups the authentication path needs.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByTokenKey(ctx context.Context, tokenKey string) (*models.User, error)
	GetByCertificateCN(ctx context.Context, commonName string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	SetTOTPLastUsed(ctx context.Context, id string, usedAt time.Time) error
}

// SessionStore defines the session operations the authentication path needs.
type SessionStore interface {
	Create(ctx context.Context, userID string) (*models.Session, error)
	Resolve(ctx context.Context, sessionID string) (*models.Subject, error)
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	Invalidate(ctx context.Context, sessionID string) error
}

// TicketValidator validates session-resumption tickets.
type TicketValidator interface {
	Validate(ticket string) (*auth.TicketClaims, error)
}

// CredentialVerifier checks a single candidate credential against the user
// and session stores. It is policy-free: it never consults the lockout
// tracker and never records failures, so it can be exercised directly by
// administrative tooling.
type CredentialVerifier struct {
	users    UserRepository
	sessions SessionStore
	tickets  TicketValidator
	totp     *auth.TOTPManager
	logger   *slog.Logger
}

func NewCredentialVerifier(users UserRepository, sessions SessionStore, tickets TicketValidator, totp *auth.TOTPManager, logger *slog.Logger) *CredentialVerifier {
	return &CredentialVerifier{
		users:    users,
		sessions: sessions,
		tickets:  tickets,
		totp:     totp,
		logger:   logger,
	}
}

// Verify resolves the credential to a subject or reports why it cannot.
// sessionID is the session the credential asked to resume; it is empty for
// stateless credentials and for the retry after an unknown session.
func (v *CredentialVerifier) Verify(ctx context.Context, cred models.Credential, sessionID string) (*models.Subject, error) {
	switch c := cred.(type) {
	case models.BasicCredential:
		return v.verifyBasic(ctx, c)
	case models.HeaderTokenCredential:
		return v.verifyHeaderToken(ctx, c)
	case models.CertificateCredential:
		return v.verifyCertificate(ctx, c)
	case models.CookieSessionCredential:
		return v.verifyCookieSession(ctx, c, sessionID)
	case models.TicketCredential:
		return v.verifyTicket(ctx, c.TicketID)
	case models.BearerCredential:
		return v.verifyTicket(ctx, c.TicketID)
	default:
		return nil, fmt.Errorf("%w: unsupported credential type %T", models.ErrInvalidCredentials, cred)
	}
}

func (v *CredentialVerifier) verifyBasic(ctx context.Context, c models.BasicCredential) (*models.Subject, error) {
	user, err := v.users.GetByUsername(ctx, c.Username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", models.ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := validateAccountState(user); err != nil {
		return nil, err
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, c.Secret); err != nil {
		return nil, fmt.Errorf("%w: password mismatch", models.ErrInvalidCredentials)
	}

	if user.SecondFactorEnabled() {
		if c.Passcode == "" {
			return nil, &models.SecondFactorRequiredError{Mechanism: "totp"}
		}
		if err := v.checkSecondFactor(ctx, user, c.Passcode); err != nil {
			return nil, err
		}
	}

	return subjectFor(user, ""), nil
}

func (v *CredentialVerifier) verifyHeaderToken(ctx context.Context, c models.HeaderTokenCredential) (*models.Subject, error) {
	user, err := v.users.GetByTokenKey(ctx, c.Token)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: unrecognized token", models.ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if err := validateAccountState(user); err != nil {
		return nil, err
	}

	return subjectFor(user, ""), nil
}

func (v *CredentialVerifier) verifyCertificate(ctx context.Context, c models.CertificateCredential) (*models.Subject, error) {
	commonName := c.PrincipalKey()
	if commonName == "" {
		return nil, fmt.Errorf("%w: certificate has no subject common name", models.ErrMalformedCredentials)
	}

	user, err := v.users.GetByCertificateCN(ctx, commonName)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: no account for certificate %q", models.ErrInvalidCredentials, commonName)
		}
		return nil, fmt.Errorf("failed to look up certificate subject: %w", err)
	}

	if err := validateAccountState(user); err != nil {
		return nil, err
	}

	return subjectFor(user, ""), nil
}

// verifyCookieSession resumes a session from the cookie pair. The
// correlation value the client echoes back must match the one minted with
// the session; a mismatch smells like a stolen session cookie, so the
// session is killed rather than just refused.
func (v *CredentialVerifier) verifyCookieSession(ctx context.Context, c models.CookieSessionCredential, sessionID string) (*models.Subject, error) {
	if sessionID == "" {
		// Retried after the referenced session vanished. A cookie pair
		// cannot establish a fresh login on its own.
		return nil, fmt.Errorf("%w: no session to resume", models.ErrInvalidCredentials)
	}

	session, err := v.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if c.RequestID == "" || session.CorrelationID != c.RequestID {
		if ierr := v.sessions.Invalidate(ctx, sessionID); ierr != nil {
			v.logger.Error("failed to invalidate mismatched session", slog.Any("error", ierr))
		}
		v.logger.Warn("correlation mismatch on session resume",
			slog.String("session_id", sessionID))
		return nil, fmt.Errorf("%w: correlation mismatch", models.ErrInvalidCredentials)
	}

	return v.sessions.Resolve(ctx, sessionID)
}

func (v *CredentialVerifier) verifyTicket(ctx context.Context, ticket string) (*models.Subject, error) {
	claims, err := v.tickets.Validate(ticket)
	if err != nil {
		return nil, err
	}

	// Prefer the ticket's session while it is still alive; fall back to a
	// stateless subject when it has expired underneath the ticket.
	if claims.SessionID != "" {
		sub, err := v.sessions.Resolve(ctx, claims.SessionID)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, models.ErrUnknownSession) {
			return nil, err
		}
	}

	user, err := v.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: ticket subject no longer exists", models.ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("failed to load ticket subject: %w", err)
	}

	if err := validateAccountState(user); err != nil {
		return nil, err
	}

	return subjectFor(user, ""), nil
}

func (v *CredentialVerifier) checkSecondFactor(ctx context.Context, user *models.User, passcode string) error {
	if v.totp == nil {
		return fmt.Errorf("second factor enrolled for user %s but no TOTP key configured", user.ID)
	}

	secret, err := v.totp.DecryptSecret(user.TOTPSecret, user.TOTPNonce)
	if err != nil {
		return fmt.Errorf("failed to decrypt second-factor secret: %w", err)
	}

	valid, err := v.totp.ValidatePasscode(secret, passcode, user.TOTPLastUsed)
	if err != nil || !valid {
		return fmt.Errorf("%w: second factor rejected", models.ErrInvalidCredentials)
	}

	if err := v.users.SetTOTPLastUsed(ctx, user.ID, time.Now()); err != nil {
		v.logger.Error("failed to record second-factor use",
			slog.String("user_id", user.ID), slog.Any("error", err))
	}

	return nil
}

// validateAccountState refuses logins for accounts that exist but must not
// authenticate.
func validateAccountState(user *models.User) error {
	switch user.Status {
	case "suspended":
		return models.ErrAccountSuspended
	case "disabled":
		return models.ErrAccountDisabled
	default:
		return nil
	}
}

func subjectFor(user *models.User, sessionID string) *models.Subject {
	return &models.Subject{
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		SessionID: sessionID,
	}
}
