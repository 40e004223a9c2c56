package keychain

import (
	"bytes"
	"context"
	"fmt"
	"lmsync-backend/lib/sqliteutil"
	"lmsync-backend/lib/telemetry"
	"lmsync-backend/lib/timezone"
	"lmsync-backend/services/calsync"
	"lmsync-backend/services/keychain/db"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testService(t *testing.T, opts Options) *Service {
	t.Helper()

	database, err := sqliteutil.OpenDB("sqlite", ":memory:", db.Schema)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return NewService(database, opts)
}

func TestSaveGetRoundtrip(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:keychain")
	defer cleanup()

	service := testService(t, Options{})
	ctx := context.Background()

	_, ok, err := service.Get(ctx, "alice")
	require.NoError(t, err)
	require.False(t, ok)

	expires := timezone.Now().Add(time.Hour).Truncate(time.Second)
	err = service.Save(ctx, calsync.Credential{
		User:           "alice",
		AccessToken:    "tok",
		RefreshToken:   "refresh",
		ExpiresAt:      expires,
		PortalPassword: "hunter2",
	})
	require.NoError(t, err)

	cred, ok, err := service.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "alice", cred.User)
	require.Equal(t, "tok", cred.AccessToken)
	require.Equal(t, "refresh", cred.RefreshToken)
	require.Equal(t, "hunter2", cred.PortalPassword)
	require.True(t, cred.ExpiresAt.Equal(expires))

	// save is an upsert
	cred.AccessToken = "tok2"
	err = service.Save(ctx, cred)
	require.NoError(t, err)

	cred, _, err = service.Get(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "tok2", cred.AccessToken)

	users, err := service.Users(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"alice"}, users)
}

func TestRefresh(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:keychain")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		require.NoError(t, err)
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))

		w.Header().Set("content-type", "application/json")
		fmt.Fprint(w, `{"access_token":"new-access","expires_in":3600}`)
	}))
	defer server.Close()

	service := testService(t, Options{
		ClientId:     "client",
		ClientSecret: "secret",
		TokenUrl:     server.URL,
	})
	ctx := context.Background()

	refreshed, err := service.Refresh(ctx, calsync.Credential{
		User:         "alice",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
	})
	require.NoError(t, err)
	require.Equal(t, "new-access", refreshed.AccessToken)
	// the refresh token is carried over when the provider omits it
	require.Equal(t, "old-refresh", refreshed.RefreshToken)
	require.True(t, refreshed.ExpiresAt.After(timezone.Now()))

	// refresh never writes back on its own
	_, ok, err := service.Get(ctx, "alice")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = service.Refresh(ctx, calsync.Credential{User: "bob"})
	require.Error(t, err)
}

func TestEnrollHandler(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:keychain")
	defer cleanup()

	service := testService(t, Options{})
	ctx := context.Background()

	// enrolling must not clobber already-linked tokens
	err := service.Save(ctx, calsync.Credential{
		User:         "alice",
		AccessToken:  "tok",
		RefreshToken: "refresh",
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	service.RegisterHandlers(mux)

	body := bytes.NewBufferString(`{"user":"alice","password":"hunter2"}`)
	req := httptest.NewRequest(http.MethodPost, "/enroll", body)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	cred, ok, err := service.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hunter2", cred.PortalPassword)
	require.Equal(t, "refresh", cred.RefreshToken)

	req = httptest.NewRequest(http.MethodPost, "/enroll", bytes.NewBufferString(`{"user":""}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOauthCallbackHandler(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:keychain")
	defer cleanup()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := r.ParseForm()
		require.NoError(t, err)
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		require.Equal(t, "code123", r.PostForm.Get("code"))

		w.Header().Set("content-type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok","refresh_token":"refresh","expires_in":3600}`)
	}))
	defer tokenServer.Close()

	service := testService(t, Options{
		ClientId:     "client",
		ClientSecret: "secret",
		RedirectUri:  "http://localhost/oauth2callback",
		TokenUrl:     tokenServer.URL,
	})

	mux := http.NewServeMux()
	service.RegisterHandlers(mux)

	req := httptest.NewRequest(http.MethodGet, "/oauth2callback?code=code123&state=alice", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	cred, ok, err := service.Get(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "tok", cred.AccessToken)
	require.Equal(t, "refresh", cred.RefreshToken)
}

func TestAuthHandlerRedirects(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:keychain")
	defer cleanup()

	service := testService(t, Options{
		ClientId:    "client",
		RedirectUri: "http://localhost/oauth2callback",
	})

	mux := http.NewServeMux()
	service.RegisterHandlers(mux)

	req := httptest.NewRequest(http.MethodGet, "/auth?user=alice", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "alice", location.Query().Get("state"))
	require.Equal(t, "client", location.Query().Get("client_id"))
	require.Equal(t, "offline", location.Query().Get("access_type"))
}
