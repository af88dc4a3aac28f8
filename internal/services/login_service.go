package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kwhitfield/bastion/internal/auth"
	"github.com/kwhitfield/bastion/internal/models"
	pkglogger "github.com/kwhitfield/bastion/pkg/logger"
)

// Verifier is the credential-checking half of a login attempt.
type Verifier interface {
	Verify(ctx context.Context, cred models.Credential, sessionID string) (*models.Subject, error)
}

// BanNotifier is told when a principal gets banned.
type BanNotifier interface {
	NotifyBan(ctx context.Context, principalKey string, banDuration time.Duration)
}

// PostLoginHook runs after every successful authentication, before the
// subject is handed back to the gateway.
type PostLoginHook func(ctx context.Context, sub *models.Subject)

// LoginService orchestrates a single authentication attempt: ban check
// first, then verification, then lockout bookkeeping. It is the executor
// behind the gateway and the login handler.
type LoginService struct {
	verifier    Verifier
	tracker     *LockoutTracker
	sessions    SessionStore
	users       UserRepository
	timing      *auth.TimingDelay
	notifier    BanNotifier
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	hooks       []PostLoginHook
}

func NewLoginService(verifier Verifier, tracker *LockoutTracker, sessions SessionStore, users UserRepository, timing *auth.TimingDelay, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *LoginService {
	return &LoginService{
		verifier:    verifier,
		tracker:     tracker,
		sessions:    sessions,
		users:       users,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// SetNotifier wires the out-of-band ban notification sink.
func (s *LoginService) SetNotifier(n BanNotifier) {
	s.notifier = n
}

// AddPostLoginHook registers a hook invoked on every successful login.
func (s *LoginService) AddPostLoginHook(hook PostLoginHook) {
	s.hooks = append(s.hooks, hook)
}

// Login attempts to authenticate the candidate credential.
//
// A banned principal is refused before the verifier ever runs, so ban
// enforcement costs no password hashing and leaks no timing signal about
// whether the password would have been correct.
func (s *LoginService) Login(ctx context.Context, cred models.Credential, sessionID string) (*models.Subject, error) {
	principalKey := cred.PrincipalKey()
	start := time.Now()

	if remaining, banned := s.tracker.IsBanned(principalKey); banned {
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:      "login_refused",
			PrincipalKey:   pkglogger.SanitizedPrincipal(principalKey),
			CredentialKind: credentialKind(cred),
			FailureReason:  "principal_banned",
			Success:        false,
		})
		return nil, &models.AccountBannedError{PrincipalKey: principalKey, Remaining: remaining}
	}

	sub, err := s.verifier.Verify(ctx, cred, sessionID)
	if err != nil {
		return nil, s.handleFailure(ctx, cred, sessionID, principalKey, start, err)
	}

	s.tracker.Clear(principalKey)

	if sub.SessionID == "" {
		// Fresh verification rather than a session resume.
		if uerr := s.users.UpdateLastLogin(ctx, sub.UserID, time.Now()); uerr != nil {
			s.logger.Error("failed to record last login",
				slog.String("user_id", sub.UserID), slog.Any("error", uerr))
		}
	}

	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:      "login_success",
		PrincipalKey:   pkglogger.SanitizedPrincipal(principalKey),
		UserID:         sub.UserID,
		SessionID:      sub.SessionID,
		CredentialKind: credentialKind(cred),
		Success:        true,
	})

	for _, hook := range s.hooks {
		hook(ctx, sub)
	}

	return sub, nil
}

// EstablishSession creates a server-side session for an authenticated user,
// typically right after a fresh login so later requests can resume via the
// cookie pair.
func (s *LoginService) EstablishSession(ctx context.Context, userID string) (*models.Session, error) {
	session, err := s.sessions.Create(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to establish session: %w", err)
	}
	return session, nil
}

// Logout invalidates the subject's session, if any.
func (s *LoginService) Logout(ctx context.Context, sub *models.Subject) error {
	if sub == nil || sub.SessionID == "" {
		return nil
	}
	if err := s.sessions.Invalidate(ctx, sub.SessionID); err != nil {
		return err
	}
	s.auditLogger.LogAccountAction("logout", sub.UserID, "", map[string]string{
		"session_id": sub.SessionID,
	})
	return nil
}

func (s *LoginService) handleFailure(ctx context.Context, cred models.Credential, sessionID, principalKey string, start time.Time, err error) error {
	var mfaErr *models.SecondFactorRequiredError

	switch {
	case errors.Is(err, models.ErrUnknownSession):
		// The session the credential referenced is gone. Drop whatever row
		// might remain and let the caller retry session-less; a stale
		// session is not a guessing attempt, so nothing is counted.
		if sessionID != "" {
			if ierr := s.sessions.Invalidate(ctx, sessionID); ierr != nil {
				s.logger.Error("failed to drop stale session", slog.Any("error", ierr))
			}
		}
		return err

	case errors.As(err, &mfaErr):
		// Password was right; the client just has another step to go.
		return err

	case errors.Is(err, models.ErrMalformedCredentials):
		return err

	case errors.Is(err, models.ErrAccountSuspended), errors.Is(err, models.ErrAccountDisabled):
		// Blocked account states read as invalid credentials to the client
		// and do not feed the lockout counter.
		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:      "login_failed",
			PrincipalKey:   pkglogger.SanitizedPrincipal(principalKey),
			CredentialKind: credentialKind(cred),
			FailureReason:  "account_blocked",
			Success:        false,
		})
		return fmt.Errorf("%w: account blocked", models.ErrInvalidCredentials)

	case errors.Is(err, models.ErrInvalidCredentials):
		s.timing.WaitFrom(start, false)

		s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
			EventType:      "login_failed",
			PrincipalKey:   pkglogger.SanitizedPrincipal(principalKey),
			CredentialKind: credentialKind(cred),
			FailureReason:  "invalid_credentials",
			Success:        false,
		})

		if banDuration, banned := s.tracker.RecordFailure(principalKey); banned {
			s.auditLogger.LogLockout(pkglogger.SanitizedPrincipal(principalKey), banDuration, "")
			if s.notifier != nil {
				go s.notifier.NotifyBan(context.WithoutCancel(ctx), principalKey, banDuration)
			}
			return &models.AccountBannedError{PrincipalKey: principalKey, Remaining: banDuration}
		}
		return err

	default:
		return err
	}
}

// credentialKind names a credential variant for audit logging.
func credentialKind(cred models.Credential) string {
	switch cred.(type) {
	case models.BasicCredential:
		return "basic"
	case models.HeaderTokenCredential:
		return "header_token"
	case models.CertificateCredential:
		return "certificate"
	case models.CookieSessionCredential:
		return "cookie_session"
	case models.TicketCredential:
		return "ticket"
	case models.BearerCredential:
		return "bearer"
	default:
		return "unknown"
	}
}
