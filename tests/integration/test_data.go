package integration

import (
	"fmt"
	"net/http"
	"time"
)

// TestUsername generates a unique test username using a timestamp
func TestUsername(suffix string) string {
	return fmt.Sprintf("test-%d-%s", time.Now().UnixNano(), suffix)
}

// TestPassword is a fixed password satisfying the validation policy
const TestPassword = "TestPassword123"

// CookieByName pulls a named cookie out of a response cookie slice
func CookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
