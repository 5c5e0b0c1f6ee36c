// Package directory bridges the host user directory and browser sessions.
// Protocol engines never touch the users table directly; they resolve the
// authenticated principal through this package.
package directory

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seatworks/seatidp/internal/crypto"
	"github.com/seatworks/seatidp/internal/storage"
	"github.com/seatworks/seatidp/pkg/models"
)

// SessionCookie is the browser session cookie name.
const SessionCookie = "seatidp_session"

// ErrInvalidCredentials is returned when name/password authentication fails.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service resolves users and manages browser sessions.
type Service struct {
	store      *storage.Store
	sessionTTL time.Duration
	secure     bool
	log        *logrus.Entry
}

// NewService creates a directory service. secure controls the cookie's Secure
// flag and should be true whenever the deployment terminates TLS.
func NewService(store *storage.Store, sessionTTL time.Duration, secure bool, log *logrus.Entry) *Service {
	return &Service{
		store:      store,
		sessionTTL: sessionTTL,
		secure:     secure,
		log:        log,
	}
}

// UserByID returns the directory record for a user.
func (s *Service) UserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.store.GetUser(ctx, id)
}

// Authenticate checks name/password credentials against the directory.
// Deactivated accounts cannot sign in.
func (s *Service) Authenticate(ctx context.Context, name, password string) (*models.User, error) {
	user, err := s.store.GetUserByName(ctx, name)
	if err != nil {
		// Burn a hash compare anyway so unknown names cost the same as
		// wrong passwords.
		crypto.VerifySecret(password, crypto.HashSecret("invalid"))
		return nil, ErrInvalidCredentials
	}
	if user.PasswordHash == "" || !crypto.VerifySecret(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !user.Active {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// StartSession creates a session row and sets the session cookie.
func (s *Service) StartSession(ctx context.Context, w http.ResponseWriter, userID int64) error {
	sess := &models.Session{
		ID:        crypto.RandomToken(32),
		UserID:    userID,
		ExpiresAt: time.Now().Add(s.sessionTTL),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// EndSession deletes the session row and clears the cookie. Idempotent.
func (s *Service) EndSession(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		if err := s.store.DeleteSession(ctx, cookie.Value); err != nil {
			s.log.WithError(err).Warn("failed to delete session")
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
	})
}

// CurrentUser resolves the session cookie to a live user, or nil when the
// request carries no valid session.
func (s *Service) CurrentUser(r *http.Request) *models.User {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil
	}
	sess, err := s.store.GetSession(r.Context(), cookie.Value)
	if err != nil {
		return nil
	}
	user, err := s.store.GetUser(r.Context(), sess.UserID)
	if err != nil || !user.Active {
		return nil
	}
	return user
}
