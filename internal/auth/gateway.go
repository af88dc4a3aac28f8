package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kwhitfield/bastion/internal/models"
	pkghttp "github.com/kwhitfield/bastion/pkg/http"
)

// GatewayConfig scopes which requests the gateway attempts to authenticate.
type GatewayConfig struct {
	ProtectedPrefixes []string
}

// LoginExecutor performs a single login attempt for a candidate credential,
// optionally resuming the given session.
type LoginExecutor interface {
	Login(ctx context.Context, cred models.Credential, sessionID string) (*models.Subject, error)
}

// SessionToucher refreshes a live session's expiry after a successful bind.
type SessionToucher interface {
	Touch(ctx context.Context, sessionID string) error
}

// Gateway returns the authentication request filter. For protected paths it
// runs the extraction chain, hands the candidate credential to the executor
// and binds the resulting subject to the request context. The binding is
// cleared on every exit path, including panics out of next.
func Gateway(cfg GatewayConfig, chain *ExtractionChain, executor LoginExecutor, sessions SessionToucher, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !pathProtected(r.URL.Path, cfg.ProtectedPrefixes) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			if h := holderFrom(ctx); h != nil {
				// A subject already bound here means an upstream bug or a
				// reused execution context. Never trust it.
				if stale := h.clear(); stale != nil {
					logger.Warn("stale subject bound to execution context, cleared",
						slog.String("user_id", stale.UserID),
						slog.String("session_id", stale.SessionID))
				}
			} else {
				ctx = WithSubjectHolder(ctx)
				r = r.WithContext(ctx)
			}

			// The subject must not outlive the request, even when next
			// panics.
			defer UnbindSubject(ctx)

			cred, err := chain.Extract(r)
			if err != nil {
				// Only malformed credentials escape the chain. A client that
				// presented a deliberately broken credential is refused, not
				// downgraded to anonymous.
				pkghttp.WriteUnauthorized(w, "Malformed credentials")
				return
			}
			if cred == nil {
				next.ServeHTTP(w, r)
				return
			}

			sessionID := credentialSessionID(cred)
			sub, err := executor.Login(ctx, cred, sessionID)
			if err != nil && sessionID != "" && errors.Is(err, models.ErrUnknownSession) {
				// The session the credential referenced is gone. Retry this
				// strategy's credential once as a fresh, session-less login.
				sub, err = executor.Login(ctx, cred, "")
			}

			if err != nil {
				var banErr *models.AccountBannedError
				var mfaErr *models.SecondFactorRequiredError
				switch {
				case errors.Is(err, models.ErrMalformedCredentials):
					pkghttp.WriteUnauthorized(w, "Malformed credentials")
				case errors.As(err, &banErr):
					pkghttp.WriteBanned(w, banErr.Remaining)
				case errors.As(err, &mfaErr):
					pkghttp.WriteSecondFactorRequired(w, mfaErr.Mechanism)
				case errors.Is(err, models.ErrInvalidCredentials):
					// Downstream policy decides whether anonymous access is
					// acceptable for this resource.
					next.ServeHTTP(w, r)
				default:
					logger.Error("authentication failed unexpectedly", slog.Any("error", err))
					pkghttp.WriteInternalError(w, "Internal server error")
				}
				return
			}

			BindSubject(ctx, sub)
			if sub.SessionID != "" {
				if terr := sessions.Touch(ctx, sub.SessionID); terr != nil {
					logger.Warn("failed to touch session",
						slog.String("session_id", sub.SessionID),
						slog.Any("error", terr))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// credentialSessionID returns the session a credential wants to resume.
func credentialSessionID(cred models.Credential) string {
	switch c := cred.(type) {
	case models.CookieSessionCredential:
		return c.SessionID
	default:
		return ""
	}
}

func pathProtected(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
