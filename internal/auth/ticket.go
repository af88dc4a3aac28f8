package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kwhitfield/bastion/internal/models"
)

// TicketClaims are the claims carried by a session-resumption ticket.
type TicketClaims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// UserKeyFetcher retrieves the per-user key material mixed into the ticket
// signing key.
type UserKeyFetcher interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// TicketManager issues and validates opaque session-resumption tickets.
// Tickets are HS256 JWTs signed with a composite of the global secret and
// the owning user's token key, so rotating a user's key revokes all of that
// user's outstanding tickets.
type TicketManager struct {
	secret   string
	expiry   time.Duration
	userRepo UserKeyFetcher
}

func NewTicketManager(secret string, expiry time.Duration) *TicketManager {
	return &TicketManager{
		secret: secret,
		expiry: expiry,
	}
}

// SetUserRepo enables composite signing with the per-user token key.
func (tm *TicketManager) SetUserRepo(repo UserKeyFetcher) {
	tm.userRepo = repo
}

func (tm *TicketManager) signingKey(userID string) []byte {
	if tm.userRepo == nil {
		return []byte(tm.secret)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	user, err := tm.userRepo.GetByID(ctx, userID)
	if err != nil {
		// Graceful degradation: fall back to the global secret
		return []byte(tm.secret)
	}
	return []byte(tm.secret + user.TokenKey)
}

// Issue creates a ticket resuming the given session for the user.
func (tm *TicketManager) Issue(userID, sessionID string) (string, error) {
	now := time.Now()
	claims := &TicketClaims{
		UserID:    userID,
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ticket, err := token.SignedString(tm.signingKey(userID))
	if err != nil {
		return "", fmt.Errorf("failed to sign ticket: %w", err)
	}

	return ticket, nil
}

// Validate verifies a ticket and returns its claims. Any parse or signature
// failure is reported as invalid credentials; tickets are presented by
// untrusted clients.
func (tm *TicketManager) Validate(ticket string) (*TicketClaims, error) {
	claims := &TicketClaims{}

	token, err := jwt.ParseWithClaims(ticket, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		// The user id in the unverified claims selects the composite key;
		// the signature check below still decides validity.
		if tmpClaims, ok := token.Claims.(*TicketClaims); ok && tmpClaims.UserID != "" {
			return tm.signingKey(tmpClaims.UserID), nil
		}

		return []byte(tm.secret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: ticket rejected", models.ErrInvalidCredentials)
	}

	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: ticket missing subject", models.ErrInvalidCredentials)
	}

	return claims, nil
}
