package logger

import "testing"

func TestSanitizedPrincipal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"username", "alice", "a***e"},
		{"two chars", "ab", "**"},
		{"email", "alice@example.com", "a****@*******.com"},
		{"email short local", "a@example.com", "a@*******.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizedPrincipal(tt.input); got != tt.want {
				t.Errorf("SanitizedPrincipal(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeQueryString(t *testing.T) {
	tests := []struct {
		name     string
		rawQuery string
		want     bool
	}{
		{"empty", "", false},
		{"benign", "page=2&limit=50", false},
		{"password param", "password=hunter2", true},
		{"token param", "token=abc123", true},
		{"ticket param", "ticket=xyz", true},
		{"mixed case", "Session=abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeQueryString(tt.rawQuery); got != tt.want {
				t.Errorf("SanitizeQueryString(%q) = %v, want %v", tt.rawQuery, got, tt.want)
			}
		})
	}
}
