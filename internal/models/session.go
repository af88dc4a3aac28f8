package models

import "time"

// Session represents a server-side session row. CorrelationID is the value
// the correlation cookie must match when resuming via the cookie pair.
type Session struct {
	ID            string    `db:"id"`
	UserID        string    `db:"user_id"`
	CorrelationID string    `db:"correlation_id"`
	CreatedAt     time.Time `db:"created_at"`
	LastSeenAt    time.Time `db:"last_seen_at"`
	ExpiresAt     time.Time `db:"expires_at"`
}
