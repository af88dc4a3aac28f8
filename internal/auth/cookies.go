package auth

import (
	"net/http"
	"time"

	"github.com/kwhitfield/bastion/internal/models"
)

// CookieConfig holds cookie configuration settings
type CookieConfig struct {
	SessionName     string
	CorrelationName string
	TicketName      string
	Domain          string // Empty string = current host only
	Secure          bool   // HTTPS only
	SameSite        string // "strict", "lax", or "none"
}

// SetSessionCookies sets the session/correlation pair for a freshly
// established session. The session cookie is httpOnly; the correlation
// cookie is readable so clients can echo it back, which is what lets the
// verifier reject a replayed session id on its own.
func SetSessionCookies(w http.ResponseWriter, session *models.Session, config CookieConfig) {
	maxAge := int(time.Until(session.ExpiresAt) / time.Second)

	http.SetCookie(w, &http.Cookie{
		Name:     config.SessionName,
		Value:    session.ID,
		Path:     "/",
		Domain:   config.Domain,
		Expires:  session.ExpiresAt,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})

	http.SetCookie(w, &http.Cookie{
		Name:     config.CorrelationName,
		Value:    session.CorrelationID,
		Path:     "/",
		Domain:   config.Domain,
		Expires:  session.ExpiresAt,
		MaxAge:   maxAge,
		HttpOnly: false,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

// SetTicketCookie stores a session-resumption ticket for legacy clients.
func SetTicketCookie(w http.ResponseWriter, ticket string, maxAge int, config CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     config.TicketName,
		Value:    ticket,
		Path:     "/",
		Domain:   config.Domain,
		Expires:  time.Now().Add(time.Duration(maxAge) * time.Second),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   config.Secure,
		SameSite: parseSameSite(config.SameSite),
	})
}

// ClearAuthCookies removes the session, correlation and ticket cookies.
func ClearAuthCookies(w http.ResponseWriter, config CookieConfig) {
	for _, ck := range []struct {
		name     string
		httpOnly bool
	}{
		{config.SessionName, true},
		{config.CorrelationName, false},
		{config.TicketName, true},
	} {
		if ck.name == "" {
			continue
		}
		http.SetCookie(w, &http.Cookie{
			Name:     ck.name,
			Value:    "",
			Path:     "/",
			Domain:   config.Domain,
			MaxAge:   -1, // Negative MaxAge deletes the cookie
			HttpOnly: ck.httpOnly,
			Secure:   config.Secure,
			SameSite: parseSameSite(config.SameSite),
		})
	}
}

// parseSameSite converts string to http.SameSite constant
func parseSameSite(sameSite string) http.SameSite {
	switch sameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
