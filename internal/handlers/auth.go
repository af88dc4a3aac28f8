package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/kwhitfield/bastion/internal/auth"
	"github.com/kwhitfield/bastion/internal/models"
	pkghttp "github.com/kwhitfield/bastion/pkg/http"
)

// LoginExecutor performs a credential login attempt.
type LoginExecutor interface {
	Login(ctx context.Context, cred models.Credential, sessionID string) (*models.Subject, error)
	EstablishSession(ctx context.Context, userID string) (*models.Session, error)
	Logout(ctx context.Context, sub *models.Subject) error
}

// TicketIssuer mints session-resumption tickets.
type TicketIssuer interface {
	Issue(userID, sessionID string) (string, error)
}

// SecondFactorEnroller provisions TOTP secrets for an account.
type SecondFactorEnroller interface {
	GenerateSecret(accountName string) (encrypted, nonce []byte, plainSecret, qrDataURL string, err error)
}

// TOTPSecretStore persists enrolled TOTP material.
type TOTPSecretStore interface {
	SetTOTPSecret(ctx context.Context, id string, secret, nonce []byte) error
}

// AuthHandler handles explicit authentication endpoints: the JSON login that
// establishes a session, logout, identity introspection and second-factor
// enrollment. Ambient authentication on protected paths is the gateway's
// job, not this handler's.
type AuthHandler struct {
	executor     LoginExecutor
	tickets      TicketIssuer
	enroller     SecondFactorEnroller
	totpStore    TOTPSecretStore
	cookieConfig auth.CookieConfig
	ticketExpiry time.Duration
}

func NewAuthHandler(executor LoginExecutor, tickets TicketIssuer, enroller SecondFactorEnroller, totpStore TOTPSecretStore, cookieConfig auth.CookieConfig, ticketExpiry time.Duration) *AuthHandler {
	return &AuthHandler{
		executor:     executor,
		tickets:      tickets,
		enroller:     enroller,
		totpStore:    totpStore,
		cookieConfig: cookieConfig,
		ticketExpiry: ticketExpiry,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Username string `json:"username" validate:"required,min=1,max=255"`
	Password string `json:"password" validate:"required"`
	Passcode string `json:"passcode,omitempty" validate:"omitempty,len=6"`
	// WantTicket asks for a long-lived resumption ticket alongside the
	// session cookies.
	WantTicket bool `json:"want_ticket,omitempty"`
}

// LoginResponse represents a successful login
type LoginResponse struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
	Ticket    string `json:"ticket,omitempty"`
}

// WhoamiResponse describes the identity bound to the current request.
type WhoamiResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Username      string `json:"username,omitempty"`
	Role          string `json:"role,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}

// EnrollResponse carries freshly provisioned second-factor material. The
// plain secret and QR code are shown exactly once.
type EnrollResponse struct {
	Secret    string `json:"secret"`
	QRCode    string `json:"qr_code"`
	Mechanism string `json:"mechanism"`
}

// Login handles explicit username/password login and establishes a session.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))

	cred := models.BasicCredential{
		Username: req.Username,
		Secret:   req.Password,
		Passcode: req.Passcode,
	}

	sub, err := h.executor.Login(r.Context(), cred, "")
	if err != nil {
		writeLoginError(w, err)
		return
	}

	session, err := h.executor.EstablishSession(r.Context(), sub.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to establish session")
		return
	}

	auth.SetSessionCookies(w, session, h.cookieConfig)

	resp := LoginResponse{
		UserID:    sub.UserID,
		Username:  sub.Username,
		Role:      sub.Role,
		SessionID: session.ID,
	}

	if req.WantTicket {
		ticket, terr := h.tickets.Issue(sub.UserID, session.ID)
		if terr != nil {
			pkghttp.WriteInternalError(w, "Failed to issue ticket")
			return
		}
		resp.Ticket = ticket
		auth.SetTicketCookie(w, ticket, int(h.ticketExpiry/time.Second), h.cookieConfig)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Logout invalidates the current session and clears auth cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sub := auth.SubjectFromContext(r.Context())
	if sub == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	if err := h.executor.Logout(r.Context(), sub); err != nil {
		pkghttp.WriteInternalError(w, "Failed to log out")
		return
	}

	auth.ClearAuthCookies(w, h.cookieConfig)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// Whoami reports the identity the gateway bound to this request.
func (h *AuthHandler) Whoami(w http.ResponseWriter, r *http.Request) {
	sub := auth.SubjectFromContext(r.Context())
	if sub == nil {
		writeJSON(w, http.StatusOK, WhoamiResponse{Authenticated: false})
		return
	}

	writeJSON(w, http.StatusOK, WhoamiResponse{
		Authenticated: true,
		UserID:        sub.UserID,
		Username:      sub.Username,
		Role:          sub.Role,
		SessionID:     sub.SessionID,
	})
}

// EnrollSecondFactor provisions a TOTP secret for the authenticated user.
func (h *AuthHandler) EnrollSecondFactor(w http.ResponseWriter, r *http.Request) {
	sub := auth.SubjectFromContext(r.Context())
	if sub == nil {
		pkghttp.WriteUnauthorized(w, "Not authenticated")
		return
	}

	if h.enroller == nil {
		pkghttp.WriteNotFound(w, "Second-factor enrollment is not enabled")
		return
	}

	encrypted, nonce, plainSecret, qrDataURL, err := h.enroller.GenerateSecret(sub.Username)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to generate second-factor secret")
		return
	}

	if err := h.totpStore.SetTOTPSecret(r.Context(), sub.UserID, encrypted, nonce); err != nil {
		pkghttp.WriteInternalError(w, "Failed to store second-factor secret")
		return
	}

	writeJSON(w, http.StatusOK, EnrollResponse{
		Secret:    plainSecret,
		QRCode:    qrDataURL,
		Mechanism: "totp",
	})
}

// writeLoginError maps an executor failure onto the HTTP surface.
func writeLoginError(w http.ResponseWriter, err error) {
	var banErr *models.AccountBannedError
	var mfaErr *models.SecondFactorRequiredError

	switch {
	case errors.As(err, &banErr):
		pkghttp.WriteBanned(w, banErr.Remaining)
	case errors.As(err, &mfaErr):
		pkghttp.WriteSecondFactorRequired(w, mfaErr.Mechanism)
	case errors.Is(err, models.ErrMalformedCredentials):
		pkghttp.WriteUnauthorized(w, "Malformed credentials")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Invalid username or password")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
