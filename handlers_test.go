package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	appID     = "ios-app"
	appSecret = "ios-secret"
)

func (e *testEnv) login(t *testing.T, email, password string) tokenResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/login", basicAuth(appID, appSecret),
		map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tr tokenResponse
	decodeBody(t, rec, &tr)
	return tr
}

func TestRegisterLoginAndAffiliation(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, appID, appSecret)

	rec := e.do(t, http.MethodPost, "/api/v1/auth/register", basicAuth(appID, appSecret),
		map[string]string{"email": "carol@example.com", "password": "correct horse", "name": "Carol"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var acct accountResponse
	decodeBody(t, rec, &acct)
	assert.Equal(t, "user", acct.Kind)
	assert.Equal(t, "carol@example.com", acct.Email)

	tr := e.login(t, "carol@example.com", "correct horse")
	assert.Equal(t, "Bearer", tr.TokenType)
	assert.Equal(t, int64(3600), tr.ExpiresIn)
	assert.NotEmpty(t, tr.RefreshToken)

	rec = e.do(t, http.MethodGet, "/api/v1/users/me", bearerAuth(tr.AccessToken), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &acct)
	assert.Equal(t, "Carol", acct.Name)

	rec = e.do(t, http.MethodGet, "/api/v1/shops/me", bearerAuth(tr.AccessToken), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, APIError{Source: "/api/v1/shops/me", Message: "Token not affiliated to a shop"}, decodeFailure(t, rec))

	rec = e.do(t, http.MethodGet, "/api/v1/admin/me", bearerAuth(tr.AccessToken), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Token not affiliated to a admin", decodeFailure(t, rec).Message)
}

func TestRegisterRejections(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, appID, appSecret)
	e.seedPrincipal(t, KindUser, "taken@example.com", "password1")

	tests := []struct {
		name   string
		auth   string
		body   interface{}
		status int
		msg    string
	}{
		{name: "no client", body: map[string]string{}, status: 400, msg: "Invalid authorization header"},
		{name: "bearer instead of basic", auth: bearerAuth("x"), status: 400, msg: "Invalid or unknown authorization method"},
		{name: "wrong secret", auth: basicAuth(appID, "nope"), status: 401, msg: "Invalid client credentials"},
		{name: "bad email", auth: basicAuth(appID, appSecret), body: map[string]string{"email": "nope", "password": "password1"}, status: 400, msg: "Invalid email"},
		{name: "short password", auth: basicAuth(appID, appSecret), body: map[string]string{"email": "new@example.com", "password": "short"}, status: 400, msg: "Password must be at least 8 characters"},
		{name: "password over bcrypt limit", auth: basicAuth(appID, appSecret), body: map[string]string{"email": "long@example.com", "password": strings.Repeat("a", 100)}, status: 400, msg: "Password must be at most 72 bytes"},
		{name: "unknown field", auth: basicAuth(appID, appSecret), body: map[string]string{"email": "new@example.com", "password": "password1", "role": "admin"}, status: 400, msg: "Invalid request body"},
		{name: "email taken", auth: basicAuth(appID, appSecret), body: map[string]string{"email": "taken@example.com", "password": "password1"}, status: 409, msg: "Email already registered"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/v1/auth/register", tc.auth, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			assert.Equal(t, tc.msg, decodeFailure(t, rec).Message)
		})
	}
}

func TestLoginRejections(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, appID, appSecret)
	e.seedPrincipal(t, KindUser, "dave@example.com", "password1")

	for _, body := range []map[string]string{
		{"email": "dave@example.com", "password": "password2"},
		{"email": "nobody@example.com", "password": "password1"},
	} {
		rec := e.do(t, http.MethodPost, "/api/v1/auth/login", basicAuth(appID, appSecret), body)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid email or password", decodeFailure(t, rec).Message)
	}
}

func TestDeletedAccountTokensStopWorking(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, appID, appSecret)
	e.seedPrincipal(t, KindUser, "erin@example.com", "password1")

	first := e.login(t, "erin@example.com", "password1")
	second := e.login(t, "erin@example.com", "password1")
	require.NotEqual(t, first.AccessToken, second.AccessToken)

	rec := e.do(t, http.MethodDelete, "/api/v1/users/me", bearerAuth(first.AccessToken), nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	for _, tr := range []tokenResponse{first, second} {
		rec = e.do(t, http.MethodGet, "/api/v1/users/me", bearerAuth(tr.AccessToken), nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Invalid token", decodeFailure(t, rec).Message)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/auth/login", basicAuth(appID, appSecret),
		map[string]string{"email": "erin@example.com", "password": "password1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, appID, appSecret)
	e.seedPrincipal(t, KindUser, "frank@example.com", "password1")
	tr := e.login(t, "frank@example.com", "password1")

	e.app.now = func() time.Time { return testNow.Add(time.Hour) }
	rec := e.do(t, http.MethodGet, "/api/v1/users/me", bearerAuth(tr.AccessToken), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Expired token", decodeFailure(t, rec).Message)
}

func TestRefreshRotatesTokens(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, appID, appSecret)
	e.seedClient(t, "web-app", "web-secret")
	e.seedPrincipal(t, KindUser, "gina@example.com", "password1")
	tr := e.login(t, "gina@example.com", "password1")

	rec := e.do(t, http.MethodPost, "/api/v1/auth/refresh", basicAuth("web-app", "web-secret"),
		map[string]string{"refresh_token": tr.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid refresh token", decodeFailure(t, rec).Message)

	rec = e.do(t, http.MethodPost, "/api/v1/auth/refresh", basicAuth(appID, appSecret),
		map[string]string{"refresh_token": tr.RefreshToken})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var next tokenResponse
	decodeBody(t, rec, &next)
	assert.NotEqual(t, tr.AccessToken, next.AccessToken)

	rec = e.do(t, http.MethodGet, "/api/v1/users/me", bearerAuth(tr.AccessToken), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/v1/users/me", bearerAuth(next.AccessToken), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// a refresh token is single use
	rec = e.do(t, http.MethodPost, "/api/v1/auth/refresh", basicAuth(appID, appSecret),
		map[string]string{"refresh_token": tr.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid refresh token", decodeFailure(t, rec).Message)

	e.app.now = func() time.Time { return testNow.Add(24 * time.Hour) }
	rec = e.do(t, http.MethodPost, "/api/v1/auth/refresh", basicAuth(appID, appSecret),
		map[string]string{"refresh_token": next.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Expired refresh token", decodeFailure(t, rec).Message)
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, appID, appSecret)
	e.seedPrincipal(t, KindShop, "shop@example.com", "password1")
	tr := e.login(t, "shop@example.com", "password1")
	other := e.login(t, "shop@example.com", "password1")

	rec := e.do(t, http.MethodPost, "/api/v1/auth/logout", bearerAuth(tr.AccessToken), nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/api/v1/shops/me", bearerAuth(tr.AccessToken), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/v1/shops/me", bearerAuth(other.AccessToken), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/v1/auth/logout", basicAuth(appID, appSecret), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid or unknown authorization method", decodeFailure(t, rec).Message)
}

func TestUpdateCredential(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, appID, appSecret)
	e.seedPrincipal(t, KindUser, "hank@example.com", "password1")
	e.seedPrincipal(t, KindUser, "ivy@example.com", "password1")
	tr := e.login(t, "hank@example.com", "password1")

	rec := e.do(t, http.MethodPatch, "/api/v1/me/credential", bearerAuth(tr.AccessToken),
		map[string]string{"email": "ivy@example.com"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(t, http.MethodPatch, "/api/v1/me/credential", bearerAuth(tr.AccessToken), map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPatch, "/api/v1/me/credential", bearerAuth(tr.AccessToken),
		map[string]string{"password": strings.Repeat("b", 73)})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Password must be at most 72 bytes", decodeFailure(t, rec).Message)
	assert.Zero(t, e.logs.FilterMessage("request failed").Len())

	rec = e.do(t, http.MethodPatch, "/api/v1/me/credential", bearerAuth(tr.AccessToken),
		map[string]string{"email": "henry@example.com", "password": "new password"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	e.login(t, "henry@example.com", "new password")
	rec = e.do(t, http.MethodPost, "/api/v1/auth/login", basicAuth(appID, appSecret),
		map[string]string{"email": "hank@example.com", "password": "password1"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminManagesClientsAndAccounts(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, appID, appSecret)
	e.seedPrincipal(t, KindAdmin, "root@example.com", "password1")
	admin := bearerAuth(e.login(t, "root@example.com", "password1").AccessToken)

	rec := e.do(t, http.MethodPost, "/api/v1/admin/clients", admin, map[string]string{"name": "Android"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created clientResponse
	decodeBody(t, rec, &created)
	require.True(t, strings.HasPrefix(created.ClientID, "client_"))
	require.NotEmpty(t, created.ClientSecret)

	rec = e.do(t, http.MethodGet, "/api/v1/admin/clients", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []clientResponse
	decodeBody(t, rec, &listed)
	require.Len(t, listed, 2)
	for _, c := range listed {
		assert.Empty(t, c.ClientSecret)
	}

	rec = e.do(t, http.MethodPost, "/api/v1/admin/shops", admin,
		map[string]string{"email": "bakery@example.com", "password": "password1", "name": "Bakery"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var shop accountResponse
	decodeBody(t, rec, &shop)
	assert.Equal(t, "shop", shop.Kind)

	// the shop logs in through the new client
	rec = e.do(t, http.MethodPost, "/api/v1/auth/login", basicAuth(created.ClientID, created.ClientSecret),
		map[string]string{"email": "bakery@example.com", "password": "password1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var shopTok tokenResponse
	decodeBody(t, rec, &shopTok)
	rec = e.do(t, http.MethodGet, "/api/v1/shops/me", bearerAuth(shopTok.AccessToken), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/v1/admin/clients", bearerAuth(shopTok.AccessToken), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Token not affiliated to a admin", decodeFailure(t, rec).Message)

	// deleting the client revokes what it issued
	rec = e.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/admin/clients/%d", created.ID), admin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	rec = e.do(t, http.MethodGet, "/api/v1/shops/me", bearerAuth(shopTok.AccessToken), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = e.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/admin/clients/%d", created.ID), admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	cred, err := e.db.GetCredentialByEmail(context.Background(), "bakery@example.com")
	require.NoError(t, err)
	rec = e.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/admin/credentials/%d", cred.ID), admin, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = e.do(t, http.MethodDelete, fmt.Sprintf("/api/v1/admin/credentials/%d", cred.ID), admin, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Credential not found", decodeFailure(t, rec).Message)
}

func TestHealthReadyAndMetrics(t *testing.T) {
	e := newTestEnv(t)
	e.seedClient(t, appID, appSecret)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/ready", "", nil).Code)

	e.do(t, http.MethodGet, "/api/v1/users/me", bearerAuth("unknown"), nil)
	e.do(t, http.MethodGet, "/api/v1/users/me", bearerAuth("unknown"), nil)
	assert.Equal(t, float64(2), testutil.ToFloat64(e.app.metrics.failures.WithLabelValues("401", "Invalid token")))
	assert.Equal(t, float64(2), testutil.ToFloat64(e.app.metrics.requests.WithLabelValues("GET", "/api/v1/users/me", "401")))

	e.seedPrincipal(t, KindUser, "jo@example.com", "password1")
	e.login(t, "jo@example.com", "password1")
	assert.Equal(t, float64(1), testutil.ToFloat64(e.app.metrics.issued))

	rec := e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "receiptshare_auth_failures_total")
}
