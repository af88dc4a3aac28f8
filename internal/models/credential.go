package models

import "crypto/x509"

// Credential is a candidate credential pulled out of an inbound request by
// one of the extraction strategies. Variants form a closed set; consumers
// type-switch over them exhaustively. A credential is immutable once built
// and never outlives the request it was extracted from.
type Credential interface {
	// PrincipalKey returns the identifier lockout counting is scoped to
	// (e.g. a username), or "" when the credential does not name a
	// principal before verification.
	PrincipalKey() string

	credential()
}

// BasicCredential carries a username/secret pair from an
// Authorization: Basic header. Passcode is an optional second-factor code
// supplied alongside the password.
type BasicCredential struct {
	Username string
	Secret   string
	Passcode string
}

func (BasicCredential) credential() {}

func (c BasicCredential) PrincipalKey() string { return c.Username }

// HeaderTokenCredential carries an opaque token from the configured custom
// header or from the app-specific Authorization scheme.
type HeaderTokenCredential struct {
	Token string
}

func (HeaderTokenCredential) credential() {}

func (HeaderTokenCredential) PrincipalKey() string { return "" }

// CertificateCredential carries the client TLS certificate presented on the
// transport. The subject common name identifies the principal.
type CertificateCredential struct {
	Cert *x509.Certificate
}

func (CertificateCredential) credential() {}

func (c CertificateCredential) PrincipalKey() string {
	if c.Cert == nil {
		return ""
	}
	return c.Cert.Subject.CommonName
}

// CookieSessionCredential carries the session/correlation cookie pair.
type CookieSessionCredential struct {
	SessionID string
	RequestID string
}

func (CookieSessionCredential) credential() {}

func (CookieSessionCredential) PrincipalKey() string { return "" }

// TicketCredential carries an opaque session-resumption ticket from the
// legacy ticket cookie.
type TicketCredential struct {
	TicketID string
}

func (TicketCredential) credential() {}

func (TicketCredential) PrincipalKey() string { return "" }

// BearerCredential carries a ticket presented as Authorization: Bearer.
// The value is treated as an opaque ticket id, not an OAuth access token.
type BearerCredential struct {
	TicketID string
}

func (BearerCredential) credential() {}

func (BearerCredential) PrincipalKey() string { return "" }
