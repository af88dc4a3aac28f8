package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kwhitfield/bastion/internal/models"
)

// ExtractorConfig names the request locations credentials are pulled from.
// An empty field disables the corresponding strategy.
type ExtractorConfig struct {
	TokenHeader       string // custom header carrying an opaque token
	AuthScheme        string // app-specific Authorization scheme
	OTPHeader         string // optional second-factor passcode next to Basic auth
	SessionCookie     string
	CorrelationCookie string
	TicketCookie      string
}

// Strategy pulls a candidate credential out of an inbound request. A nil
// credential with a nil error means the strategy does not apply to this
// request.
type Strategy interface {
	Name() string
	Extract(r *http.Request) (models.Credential, error)
}

// ExtractionChain evaluates strategies in a fixed priority order:
// client certificate, custom header token, Basic, the app-specific
// Authorization scheme, the session/correlation cookie pair, the legacy
// ticket cookie, and finally Bearer. The first candidate wins.
type ExtractionChain struct {
	strategies []Strategy
	logger     *slog.Logger
}

func NewExtractionChain(cfg ExtractorConfig, logger *slog.Logger) *ExtractionChain {
	return &ExtractionChain{
		strategies: []Strategy{
			certificateStrategy{},
			headerTokenStrategy{header: cfg.TokenHeader},
			basicStrategy{otpHeader: cfg.OTPHeader},
			schemeStrategy{scheme: cfg.AuthScheme},
			cookiePairStrategy{session: cfg.SessionCookie, correlation: cfg.CorrelationCookie},
			ticketCookieStrategy{cookie: cfg.TicketCookie},
			bearerStrategy{},
		},
		logger: logger,
	}
}

// Extract returns the first candidate credential, or nil when no strategy
// applies. ErrMalformedCredentials is authoritative and stops the chain; a
// deliberately broken credential must not be silently ignored in favor of a
// weaker fallback. Any other strategy error is logged and the next strategy
// is tried.
func (c *ExtractionChain) Extract(r *http.Request) (models.Credential, error) {
	for _, s := range c.strategies {
		cred, err := s.Extract(r)
		if err != nil {
			if errors.Is(err, models.ErrMalformedCredentials) {
				return nil, err
			}
			c.logger.Debug("credential extraction failed, trying next strategy",
				slog.String("strategy", s.Name()),
				slog.Any("error", err))
			continue
		}
		if cred != nil {
			return cred, nil
		}
	}
	return nil, nil
}

type certificateStrategy struct{}

func (certificateStrategy) Name() string { return "certificate" }

func (certificateStrategy) Extract(r *http.Request) (models.Credential, error) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return nil, nil
	}
	return models.CertificateCredential{Cert: r.TLS.PeerCertificates[0]}, nil
}

type headerTokenStrategy struct {
	header string
}

func (headerTokenStrategy) Name() string { return "header_token" }

func (s headerTokenStrategy) Extract(r *http.Request) (models.Credential, error) {
	if s.header == "" {
		return nil, nil
	}
	token := strings.TrimSpace(r.Header.Get(s.header))
	if token == "" {
		return nil, nil
	}
	return models.HeaderTokenCredential{Token: token}, nil
}

type basicStrategy struct {
	otpHeader string
}

func (basicStrategy) Name() string { return "basic" }

func (s basicStrategy) Extract(r *http.Request) (models.Credential, error) {
	value, ok := authorizationValue(r, "Basic")
	if !ok {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable basic authorization", models.ErrMalformedCredentials)
	}

	username, secret, found := strings.Cut(string(decoded), ":")
	if !found || username == "" {
		return nil, fmt.Errorf("%w: empty username in basic authorization", models.ErrMalformedCredentials)
	}

	cred := models.BasicCredential{Username: username, Secret: secret}
	if s.otpHeader != "" {
		cred.Passcode = strings.TrimSpace(r.Header.Get(s.otpHeader))
	}
	return cred, nil
}

type schemeStrategy struct {
	scheme string
}

func (schemeStrategy) Name() string { return "auth_scheme" }

func (s schemeStrategy) Extract(r *http.Request) (models.Credential, error) {
	if s.scheme == "" {
		return nil, nil
	}
	value, ok := authorizationValue(r, s.scheme)
	if !ok {
		return nil, nil
	}
	if value == "" {
		return nil, fmt.Errorf("%w: empty %s authorization token", models.ErrMalformedCredentials, s.scheme)
	}
	return models.HeaderTokenCredential{Token: value}, nil
}

type cookiePairStrategy struct {
	session     string
	correlation string
}

func (cookiePairStrategy) Name() string { return "session_cookie" }

func (s cookiePairStrategy) Extract(r *http.Request) (models.Credential, error) {
	if s.session == "" || s.correlation == "" {
		return nil, nil
	}
	sessionCookie, err := r.Cookie(s.session)
	if err != nil || sessionCookie.Value == "" {
		return nil, nil
	}
	correlationCookie, err := r.Cookie(s.correlation)
	if err != nil || correlationCookie.Value == "" {
		// A lone session cookie cannot be verified; report it so the chain
		// can fall through to the remaining strategies.
		return nil, fmt.Errorf("session cookie present without correlation cookie")
	}
	return models.CookieSessionCredential{
		SessionID: sessionCookie.Value,
		RequestID: correlationCookie.Value,
	}, nil
}

type ticketCookieStrategy struct {
	cookie string
}

func (ticketCookieStrategy) Name() string { return "ticket_cookie" }

func (s ticketCookieStrategy) Extract(r *http.Request) (models.Credential, error) {
	if s.cookie == "" {
		return nil, nil
	}
	cookie, err := r.Cookie(s.cookie)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}
	return models.TicketCredential{TicketID: cookie.Value}, nil
}

type bearerStrategy struct{}

func (bearerStrategy) Name() string { return "bearer" }

func (bearerStrategy) Extract(r *http.Request) (models.Credential, error) {
	value, ok := authorizationValue(r, "Bearer")
	if !ok {
		return nil, nil
	}
	if value == "" {
		return nil, fmt.Errorf("%w: empty bearer token", models.ErrMalformedCredentials)
	}
	return models.BearerCredential{TicketID: value}, nil
}

// authorizationValue returns the Authorization header value for the given
// scheme, with ok=false when the header is absent or carries a different
// scheme.
func authorizationValue(r *http.Request, scheme string) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	prefix, rest, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(prefix, scheme) {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
