package oauth2

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatworks/seatidp/internal/crypto"
	"github.com/seatworks/seatidp/internal/directory"
	"github.com/seatworks/seatidp/internal/identity"
	"github.com/seatworks/seatidp/internal/storage"
	"github.com/seatworks/seatidp/internal/tokens"
	"github.com/seatworks/seatidp/pkg/models"
)

type testEnv struct {
	store   *storage.Store
	issuer  *tokens.Issuer
	router  chi.Router
	client  *models.Client
	user    *models.User
	session string
}

func newTestEnv(t *testing.T, skipConsent bool) *testEnv {
	t.Helper()
	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	km, err := crypto.NewKeyManager(store, "RS256")
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(io.Discard)
	entry := logrus.NewEntry(log)

	claims := identity.NewProvider("sso.example")
	issuer := tokens.NewIssuer(store, crypto.NewJWTService(km, "https://sso.example"), claims, tokens.Config{
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
		AuthCodeTTL:     5 * time.Minute,
	}, entry)

	dir := directory.NewService(store, time.Hour, false, entry)

	ctx := context.Background()
	client := &models.Client{
		ClientID:      "wiki",
		SecretHash:    crypto.HashSecret("wiki-secret"),
		Name:          "Wiki",
		RedirectURIs:  []string{"https://wiki.example/callback"},
		AllowedScopes: []string{"openid", "email", "seat:squads"},
		IsActive:      true,
		SkipConsent:   skipConsent,
	}
	require.NoError(t, store.CreateClient(ctx, client))

	user := &models.User{Name: "pilot", Active: true, Squads: []string{"recon"}}
	require.NoError(t, store.CreateUser(ctx, user))

	session := &models.Session{
		ID:        crypto.RandomToken(32),
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, store.CreateSession(ctx, session))

	router := chi.NewRouter()
	NewHandler(store, issuer, dir, entry).Mount(router)

	return &testEnv{
		store:   store,
		issuer:  issuer,
		router:  router,
		client:  client,
		user:    user,
		session: session.ID,
	}
}

func (e *testEnv) authorizeURL(params map[string]string) string {
	q := url.Values{
		"response_type": {"code"},
		"client_id":     {e.client.ClientID},
		"redirect_uri":  {e.client.RedirectURIs[0]},
		"scope":         {"openid"},
	}
	for k, v := range params {
		q.Set(k, v)
	}
	return "/oauth2/authorize?" + q.Encode()
}

func (e *testEnv) withSession(r *http.Request) *http.Request {
	r.AddCookie(&http.Cookie{Name: directory.SessionCookie, Value: e.session})
	return r
}

func TestAuthorizeRequiresClientID(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodGet, "/oauth2/authorize", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestAuthorizeUnknownClient(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodGet, env.authorizeURL(map[string]string{"client_id": "ghost"}), nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_client")
}

func TestAuthorizeRejectsUnregisteredRedirect(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodGet, env.authorizeURL(map[string]string{"redirect_uri": "https://evil.example/cb"}), nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	// The error must not be delivered to the unvalidated redirect URI.
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestAuthorizeRedirectsAnonymousToLogin(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodGet, env.authorizeURL(nil), nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "/login?next="))
}

func TestAuthorizeSkipConsentIssuesCode(t *testing.T) {
	env := newTestEnv(t, true)

	req := env.withSession(httptest.NewRequest(http.MethodGet, env.authorizeURL(map[string]string{"state": "xyz"}), nil))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "wiki.example", loc.Host)
	assert.NotEmpty(t, loc.Query().Get("code"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
}

func TestAuthorizeSilentlyDropsExcessScopes(t *testing.T) {
	env := newTestEnv(t, true)

	req := env.withSession(httptest.NewRequest(http.MethodGet,
		env.authorizeURL(map[string]string{"scope": "openid email seat:corporation"}), nil))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	stored, err := env.store.GetAuthCode(context.Background(), code)
	require.NoError(t, err)
	// seat:corporation is outside the client's grant and disappears quietly.
	assert.Equal(t, []string{"openid", "email"}, stored.Scopes)
}

func TestConsentApproveFlow(t *testing.T) {
	env := newTestEnv(t, false)

	req := env.withSession(httptest.NewRequest(http.MethodGet, env.authorizeURL(map[string]string{"state": "s1"}), nil))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Wiki")

	var consent *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "seatidp_consent" {
			consent = c
		}
	}
	require.NotNil(t, consent)

	form := url.Values{"approve": {"1"}}
	approve := env.withSession(httptest.NewRequest(http.MethodPost, "/oauth2/authorize", strings.NewReader(form.Encode())))
	approve.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	approve.AddCookie(consent)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, approve)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.NotEmpty(t, loc.Query().Get("code"))
	assert.Equal(t, "s1", loc.Query().Get("state"))
}

func TestConsentDenyRedirectsAccessDenied(t *testing.T) {
	env := newTestEnv(t, false)

	req := env.withSession(httptest.NewRequest(http.MethodGet, env.authorizeURL(nil), nil))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var consent *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "seatidp_consent" {
			consent = c
		}
	}
	require.NotNil(t, consent)

	form := url.Values{"approve": {"0"}}
	deny := env.withSession(httptest.NewRequest(http.MethodPost, "/oauth2/authorize", strings.NewReader(form.Encode())))
	deny.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	deny.AddCookie(consent)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, deny)

	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "access_denied", loc.Query().Get("error"))
	assert.Empty(t, loc.Query().Get("code"))
}

func TestConsentCookieIsSingleUse(t *testing.T) {
	env := newTestEnv(t, false)

	req := env.withSession(httptest.NewRequest(http.MethodGet, env.authorizeURL(nil), nil))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var consent *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "seatidp_consent" {
			consent = c
		}
	}
	require.NotNil(t, consent)

	approve := func() *httptest.ResponseRecorder {
		form := url.Values{"approve": {"1"}}
		r := env.withSession(httptest.NewRequest(http.MethodPost, "/oauth2/authorize", strings.NewReader(form.Encode())))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.AddCookie(consent)
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, r)
		return rec
	}

	require.Equal(t, http.StatusFound, approve().Code)
	assert.Equal(t, http.StatusBadRequest, approve().Code)
}

func (e *testEnv) issueCode(t *testing.T, scopes []string) string {
	t.Helper()
	code, err := e.issuer.IssueCode(context.Background(), e.client, e.user.ID, e.client.RedirectURIs[0], scopes, "")
	require.NoError(t, err)
	return code.ID
}

func (e *testEnv) tokenRequest(form url.Values, clientID, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(clientID, secret)
	return req
}

func TestTokenEndpointCodeExchange(t *testing.T) {
	env := newTestEnv(t, true)
	code := env.issueCode(t, []string{"openid", "email"})

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {env.client.RedirectURIs[0]},
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, env.tokenRequest(form, "wiki", "wiki-secret"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var resp models.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEmpty(t, resp.IDToken)
}

func TestTokenEndpointRejectsReplayedCode(t *testing.T) {
	env := newTestEnv(t, true)
	code := env.issueCode(t, []string{"openid"})

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {env.client.RedirectURIs[0]},
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, env.tokenRequest(form, "wiki", "wiki-secret"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, env.tokenRequest(form, "wiki", "wiki-secret"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_grant")
}

func TestTokenEndpointRejectsBadSecret(t *testing.T) {
	env := newTestEnv(t, true)

	form := url.Values{"grant_type": {"authorization_code"}}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, env.tokenRequest(form, "wiki", "wrong"))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
}

func TestTokenEndpointRejectsWrongContentType(t *testing.T) {
	env := newTestEnv(t, true)

	req := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(`{"grant_type":"authorization_code"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenEndpointClientSecretPost(t *testing.T) {
	env := newTestEnv(t, true)
	code := env.issueCode(t, []string{"openid"})

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {env.client.RedirectURIs[0]},
		"client_id":     {"wiki"},
		"client_secret": {"wiki-secret"},
	}
	req := httptest.NewRequest(http.MethodPost, "/oauth2/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshGrantRotates(t *testing.T) {
	env := newTestEnv(t, true)
	code := env.issueCode(t, []string{"openid"})

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {env.client.RedirectURIs[0]},
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, env.tokenRequest(form, "wiki", "wiki-secret"))
	require.Equal(t, http.StatusOK, rec.Code)

	var first models.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))

	refreshForm := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {first.RefreshToken},
	}
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, env.tokenRequest(refreshForm, "wiki", "wiki-secret"))
	require.Equal(t, http.StatusOK, rec.Code)

	var second models.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// Replaying the rotated-out token fails.
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, env.tokenRequest(refreshForm, "wiki", "wiki-secret"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevokeAlwaysSucceedsForAuthenticatedClient(t *testing.T) {
	env := newTestEnv(t, true)

	form := url.Values{"token": {"completely-unknown"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth2/revoke", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("wiki", "wiki-secret")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRevokeRequiresClientAuth(t *testing.T) {
	env := newTestEnv(t, true)

	form := url.Values{"token": {"anything"}}
	req := httptest.NewRequest(http.MethodPost, "/oauth2/revoke", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
