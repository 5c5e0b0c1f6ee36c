package directory

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatworks/seatidp/internal/crypto"
	"github.com/seatworks/seatidp/internal/storage"
	"github.com/seatworks/seatidp/pkg/models"
)

func newTestService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewService(store, time.Hour, false, logrus.NewEntry(log)), store
}

func createUser(t *testing.T, store *storage.Store, name, password string, active bool) *models.User {
	t.Helper()
	user := &models.User{
		Name:         name,
		PasswordHash: crypto.HashSecret(password),
		Active:       active,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func TestAuthenticate(t *testing.T) {
	svc, store := newTestService(t)
	createUser(t, store, "pilot", "hunter2", true)

	user, err := svc.Authenticate(context.Background(), "pilot", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "pilot", user.Name)

	_, err = svc.Authenticate(context.Background(), "pilot", "wrong")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))

	_, err = svc.Authenticate(context.Background(), "nobody", "hunter2")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestAuthenticateRejectsDeactivatedUser(t *testing.T) {
	svc, store := newTestService(t)
	createUser(t, store, "benched", "hunter2", false)

	_, err := svc.Authenticate(context.Background(), "benched", "hunter2")
	assert.True(t, errors.Is(err, ErrInvalidCredentials))
}

func TestLoginFlowRoundTrip(t *testing.T) {
	svc, store := newTestService(t)
	user := createUser(t, store, "pilot", "hunter2", true)

	form := url.Values{
		"username": {"pilot"},
		"password": {"hunter2"},
		"next":     {"/oauth2/authorize?client_id=wiki"},
	}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	svc.HandleLogin(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/oauth2/authorize?client_id=wiki", rec.Header().Get("Location"))

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			session = c
		}
	}
	require.NotNil(t, session)
	assert.True(t, session.HttpOnly)

	follow := httptest.NewRequest(http.MethodGet, "/", nil)
	follow.AddCookie(session)
	resolved := svc.CurrentUser(follow)
	require.NotNil(t, resolved)
	assert.Equal(t, user.ID, resolved.ID)
}

func TestLoginFailureRendersFormAgain(t *testing.T) {
	svc, store := newTestService(t)
	createUser(t, store, "pilot", "hunter2", true)

	form := url.Values{"username": {"pilot"}, "password": {"wrong"}}
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	svc.HandleLogin(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid username or password")
	assert.Empty(t, rec.Result().Cookies())
}

func TestLogoutDeletesSession(t *testing.T) {
	svc, store := newTestService(t)
	user := createUser(t, store, "pilot", "hunter2", true)

	rec := httptest.NewRecorder()
	require.NoError(t, svc.StartSession(context.Background(), rec, user.ID))
	session := rec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(session)
	rec = httptest.NewRecorder()
	svc.HandleLogout(rec, req)

	assert.Equal(t, http.StatusFound, rec.Code)
	_, err := store.GetSession(context.Background(), session.Value)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestCurrentUserIgnoresDeactivatedAccount(t *testing.T) {
	svc, store := newTestService(t)
	user := createUser(t, store, "pilot", "hunter2", true)

	rec := httptest.NewRecorder()
	require.NoError(t, svc.StartSession(context.Background(), rec, user.ID))
	session := rec.Result().Cookies()[0]

	user.Active = false
	require.NoError(t, store.UpdateUser(context.Background(), user))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(session)
	assert.Nil(t, svc.CurrentUser(req))
}

func TestSanitizeNext(t *testing.T) {
	assert.Equal(t, "/", sanitizeNext(""))
	assert.Equal(t, "/", sanitizeNext("https://evil.example/"))
	assert.Equal(t, "/", sanitizeNext("//evil.example/"))
	assert.Equal(t, "/dashboard", sanitizeNext("/dashboard"))
}
