package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Authentication failure classes
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrMalformedCredentials = errors.New("malformed credentials")
	ErrUnknownSession       = errors.New("unknown session")

	// Account state errors
	ErrAccountDisabled  = errors.New("account is disabled")
	ErrAccountSuspended = errors.New("account is suspended")
)

// AccountBannedError reports an active lockout for a principal. Remaining is
// the time left until the ban expires.
type AccountBannedError struct {
	PrincipalKey string
	Remaining    time.Duration
}

func (e *AccountBannedError) Error() string {
	return fmt.Sprintf("account %q is temporarily banned (%s remaining)", e.PrincipalKey, e.Remaining.Round(time.Second))
}

// SecondFactorRequiredError signals that the primary credential verified but
// a second factor is still missing. Mechanism names the required factor.
type SecondFactorRequiredError struct {
	Mechanism string
}

func (e *SecondFactorRequiredError) Error() string {
	return fmt.Sprintf("second factor required: %s", e.Mechanism)
}
