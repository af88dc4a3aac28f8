package models

// Subject is the authenticated identity bound to a single request. Fields
// are copied, never aliased, so two requests can never share mutable state
// through a Subject.
type Subject struct {
	UserID    string
	Username  string
	Role      string
	SessionID string
}

// Authenticated reports whether the subject represents a real principal.
func (s *Subject) Authenticated() bool {
	return s != nil && s.UserID != ""
}
