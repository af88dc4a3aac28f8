package integration

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwhitfield/bastion/internal/handlers"
	pkghttp "github.com/kwhitfield/bastion/pkg/http"
)

func TestAuthFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := SetupTestDatabase(ctx)
	require.NoError(t, err)
	defer db.Teardown(ctx)

	ts := NewTestServer(db.DB)
	defer ts.Close()

	t.Run("login and resume session via cookie pair", func(t *testing.T) {
		require.NoError(t, db.CleanupTables(ctx))

		username := TestUsername("resume")
		_, err := SeedUser(ctx, db.Pool, username, TestPassword)
		require.NoError(t, err)

		loginResp, cookies, _, err := ts.Login(ctx, username, TestPassword)
		require.NoError(t, err)
		assert.Equal(t, username, loginResp.Username)

		session := CookieByName(cookies, "bastion_session")
		correlation := CookieByName(cookies, "bastion_correlation")
		require.NotNil(t, session)
		require.NotNil(t, correlation)

		resp, err := ts.Get(ctx, "/api/me", func(r *http.Request) {
			r.AddCookie(session)
			r.AddCookie(correlation)
		})
		require.NoError(t, err)

		var whoami handlers.WhoamiResponse
		require.NoError(t, DecodeJSON(resp, &whoami))
		assert.True(t, whoami.Authenticated)
		assert.Equal(t, username, whoami.Username)
		assert.Equal(t, loginResp.SessionID, whoami.SessionID)
	})

	t.Run("correlation mismatch kills the session", func(t *testing.T) {
		require.NoError(t, db.CleanupTables(ctx))

		username := TestUsername("mismatch")
		_, err := SeedUser(ctx, db.Pool, username, TestPassword)
		require.NoError(t, err)

		_, cookies, _, err := ts.Login(ctx, username, TestPassword)
		require.NoError(t, err)

		session := CookieByName(cookies, "bastion_session")
		correlation := CookieByName(cookies, "bastion_correlation")
		require.NotNil(t, session)
		require.NotNil(t, correlation)

		resp, err := ts.Get(ctx, "/api/me", func(r *http.Request) {
			r.AddCookie(session)
			r.AddCookie(&http.Cookie{Name: "bastion_correlation", Value: "forged"})
		})
		require.NoError(t, err)

		var whoami handlers.WhoamiResponse
		require.NoError(t, DecodeJSON(resp, &whoami))
		assert.False(t, whoami.Authenticated)

		// The session itself is now dead, even with the right correlation.
		resp, err = ts.Get(ctx, "/api/me", func(r *http.Request) {
			r.AddCookie(session)
			r.AddCookie(correlation)
		})
		require.NoError(t, err)
		require.NoError(t, DecodeJSON(resp, &whoami))
		assert.False(t, whoami.Authenticated)
	})

	t.Run("expired session falls through to anonymous", func(t *testing.T) {
		require.NoError(t, db.CleanupTables(ctx))

		username := TestUsername("expired")
		_, err := SeedUser(ctx, db.Pool, username, TestPassword)
		require.NoError(t, err)

		loginResp, cookies, _, err := ts.Login(ctx, username, TestPassword)
		require.NoError(t, err)
		require.NoError(t, ExpireSession(ctx, db.Pool, loginResp.SessionID))

		resp, err := ts.Get(ctx, "/api/me", func(r *http.Request) {
			r.AddCookie(CookieByName(cookies, "bastion_session"))
			r.AddCookie(CookieByName(cookies, "bastion_correlation"))
		})
		require.NoError(t, err)

		var whoami handlers.WhoamiResponse
		require.NoError(t, DecodeJSON(resp, &whoami))
		assert.False(t, whoami.Authenticated)
	})

	t.Run("header token authenticates a protected request", func(t *testing.T) {
		require.NoError(t, db.CleanupTables(ctx))

		username := TestUsername("token")
		user, err := SeedUser(ctx, db.Pool, username, TestPassword)
		require.NoError(t, err)

		resp, err := ts.Get(ctx, "/api/me", func(r *http.Request) {
			r.Header.Set("X-Auth-Token", user.TokenKey)
		})
		require.NoError(t, err)

		var whoami handlers.WhoamiResponse
		require.NoError(t, DecodeJSON(resp, &whoami))
		assert.True(t, whoami.Authenticated)
		assert.Equal(t, username, whoami.Username)
	})

	t.Run("repeated failures ban the principal", func(t *testing.T) {
		require.NoError(t, db.CleanupTables(ctx))

		username := TestUsername("banned")
		_, err := SeedUser(ctx, db.Pool, username, TestPassword)
		require.NoError(t, err)

		var resp *http.Response
		for i := 0; i < ts.Config.Lockout.MaxTry; i++ {
			resp, err = ts.PostJSON(ctx, "/auth/login", handlers.LoginRequest{
				Username: username,
				Password: "Wrong-password-1",
			}, nil)
			require.NoError(t, err)
			resp.Body.Close()
		}
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get(pkghttp.BanRemainingHeader))

		// The right password is refused while the ban holds.
		resp, err = ts.PostJSON(ctx, "/auth/login", handlers.LoginRequest{
			Username: username,
			Password: TestPassword,
		}, nil)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get(pkghttp.BanRemainingHeader))
	})

	t.Run("ticket resumes after logout", func(t *testing.T) {
		require.NoError(t, db.CleanupTables(ctx))

		username := TestUsername("ticket")
		_, err := SeedUser(ctx, db.Pool, username, TestPassword)
		require.NoError(t, err)

		resp, err := ts.PostJSON(ctx, "/auth/login", handlers.LoginRequest{
			Username:   username,
			Password:   TestPassword,
			WantTicket: true,
		}, nil)
		require.NoError(t, err)

		var loginResp handlers.LoginResponse
		require.NoError(t, DecodeJSON(resp, &loginResp))
		require.NotEmpty(t, loginResp.Ticket)

		// Drop the session out from under the ticket.
		_, err = db.Pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, loginResp.SessionID)
		require.NoError(t, err)

		resp, err = ts.Get(ctx, "/api/me", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+loginResp.Ticket)
		})
		require.NoError(t, err)

		var whoami handlers.WhoamiResponse
		require.NoError(t, DecodeJSON(resp, &whoami))
		assert.True(t, whoami.Authenticated)
		assert.Equal(t, username, whoami.Username)
		assert.Empty(t, whoami.SessionID)
	})
}
