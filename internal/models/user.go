package models

import (
	"time"
)

type User struct {
	ID            string
	Username      string
	Email         string
	PasswordHash  string
	DisplayName   string
	TokenKey      string // Per-user secret: header-token credential and ticket signing material
	CertificateCN string // Subject CN accepted for client-certificate login, empty = none
	TOTPSecret    []byte // AES-GCM encrypted TOTP secret, empty = no second factor
	TOTPNonce     []byte
	TOTPLastUsed  *time.Time
	Role          string // e.g. "user", "admin"
	Status        string // "active", "suspended", "disabled"
	LastLoginAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SecondFactorEnabled reports whether a TOTP secret is enrolled.
func (u *User) SecondFactorEnabled() bool {
	return len(u.TOTPSecret) > 0
}
