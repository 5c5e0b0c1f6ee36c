// Package oauth2 implements the authorization server endpoints: authorize,
// token, and revocation (RFC 6749, RFC 7009).
package oauth2

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/seatworks/seatidp/internal/crypto"
	"github.com/seatworks/seatidp/internal/directory"
	"github.com/seatworks/seatidp/internal/storage"
	"github.com/seatworks/seatidp/internal/tokens"
	"github.com/seatworks/seatidp/pkg/models"
)

// consentCookie keys the server-side pending authorization between the
// authorize request and the user's approval.
const consentCookie = "seatidp_consent"

const pendingAuthTTL = 10 * time.Minute

// Handler serves the OAuth2 authorization server endpoints.
type Handler struct {
	store     *storage.Store
	issuer    *tokens.Issuer
	directory *directory.Service
	log       *logrus.Entry
}

// NewHandler creates the authorization server handler.
func NewHandler(store *storage.Store, issuer *tokens.Issuer, dir *directory.Service, log *logrus.Entry) *Handler {
	return &Handler{
		store:     store,
		issuer:    issuer,
		directory: dir,
		log:       log,
	}
}

// Mount attaches the OAuth2 routes.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/oauth2/authorize", h.handleAuthorize)
	r.Post("/oauth2/authorize", h.handleApprove)
	r.Post("/oauth2/token", h.handleToken)
	r.Post("/oauth2/revoke", h.handleRevoke)
}

// handleAuthorize starts an authorization attempt (RFC 6749 Section 4.1.1).
func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	clientID := query.Get("client_id")
	redirectURI := query.Get("redirect_uri")
	state := query.Get("state")

	if clientID == "" {
		writeOAuth2Error(w, "invalid_request", "client_id is required")
		return
	}

	client, err := h.store.GetClient(r.Context(), clientID)
	if err != nil || !client.IsActive {
		writeOAuth2Error(w, "invalid_client", "Unknown client")
		return
	}

	// Exact match against registered URIs; anything else is an open
	// redirect, so the error cannot go to the client either.
	if !client.HasRedirectURI(redirectURI) {
		writeOAuth2Error(w, "invalid_request", "Invalid redirect_uri")
		return
	}

	if query.Get("response_type") != "code" {
		redirectError(w, r, redirectURI, "unsupported_response_type", "Only 'code' response type is supported", state)
		return
	}

	scopes := finalizeScopes(client, models.SplitScopes(query.Get("scope")))
	nonce := query.Get("nonce")

	user := h.directory.CurrentUser(r)
	if user == nil {
		next := url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, "/login?next="+next, http.StatusFound)
		return
	}

	if client.SkipConsent {
		h.completeAuthorization(w, r, client, user.ID, redirectURI, scopes, state, nonce)
		return
	}

	pending := &models.PendingAuthorization{
		ID:          crypto.RandomToken(32),
		ClientID:    client.ClientID,
		UserID:      user.ID,
		RedirectURI: redirectURI,
		Scopes:      scopes,
		State:       state,
		Nonce:       nonce,
		ExpiresAt:   time.Now().Add(pendingAuthTTL),
	}
	if err := h.store.CreatePendingAuth(r.Context(), pending); err != nil {
		h.log.WithError(err).Error("failed to persist pending authorization")
		redirectError(w, r, redirectURI, "server_error", "", state)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     consentCookie,
		Value:    pending.ID,
		Path:     "/oauth2",
		Expires:  pending.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	h.renderConsent(w, client.Name, scopes)
}

// handleApprove resumes a pending authorization from the user's explicit
// approval or denial.
func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuth2Error(w, "invalid_request", "Invalid form data")
		return
	}

	cookie, err := r.Cookie(consentCookie)
	if err != nil {
		writeOAuth2Error(w, "invalid_request", "No pending authorization")
		return
	}

	pending, err := h.store.TakePendingAuth(r.Context(), cookie.Value)
	if err != nil {
		writeOAuth2Error(w, "invalid_request", "Pending authorization expired or already handled")
		return
	}

	user := h.directory.CurrentUser(r)
	if user == nil || user.ID != pending.UserID {
		writeOAuth2Error(w, "access_denied", "Session does not match pending authorization")
		return
	}

	client, err := h.store.GetClient(r.Context(), pending.ClientID)
	if err != nil || !client.IsActive {
		writeOAuth2Error(w, "invalid_client", "Unknown client")
		return
	}

	if r.FormValue("approve") != "1" {
		h.log.WithFields(logrus.Fields{
			"client_id": client.ClientID,
			"user_id":   user.ID,
		}).Info("authorization denied by user")
		redirectError(w, r, pending.RedirectURI, "access_denied", "The user denied the request", pending.State)
		return
	}

	h.completeAuthorization(w, r, client, user.ID, pending.RedirectURI, pending.Scopes, pending.State, pending.Nonce)
}

func (h *Handler) completeAuthorization(w http.ResponseWriter, r *http.Request, client *models.Client, userID int64, redirectURI string, scopes []string, state, nonce string) {
	code, err := h.issuer.IssueCode(r.Context(), client, userID, redirectURI, scopes, nonce)
	if err != nil {
		h.log.WithError(err).Error("failed to issue authorization code")
		redirectError(w, r, redirectURI, "server_error", "", state)
		return
	}

	h.log.WithFields(logrus.Fields{
		"client_id": client.ClientID,
		"user_id":   userID,
		"scopes":    models.JoinScopes(scopes),
	}).Info("authorization code issued")

	redirectCode(w, r, redirectURI, code.ID, state)
}

// handleToken exchanges a grant for tokens (RFC 6749 Section 4.1.3 / 6).
// Per RFC 6749 Section 4.1.3 the request body must be form-encoded.
func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		writeOAuth2Error(w, "invalid_request", "Content-Type must be application/x-www-form-urlencoded")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuth2Error(w, "invalid_request", "Invalid form data")
		return
	}

	client, ok := h.authenticateClient(w, r)
	if !ok {
		return
	}

	switch r.FormValue("grant_type") {
	case "authorization_code":
		h.handleAuthorizationCodeGrant(w, r, client)
	case "refresh_token":
		h.handleRefreshTokenGrant(w, r, client)
	default:
		writeOAuth2Error(w, "unsupported_grant_type", "Grant type not supported")
	}
}

// authenticateClient resolves client credentials from HTTP Basic auth
// (client_secret_basic) or the request body (client_secret_post) and checks
// the secret digest.
func (h *Handler) authenticateClient(w http.ResponseWriter, r *http.Request) (*models.Client, bool) {
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		clientID = r.FormValue("client_id")
		clientSecret = r.FormValue("client_secret")
	} else {
		// Basic auth credentials are form-urlencoded (RFC 6749 Section 2.3.1).
		if id, err := url.QueryUnescape(clientID); err == nil {
			clientID = id
		}
		if secret, err := url.QueryUnescape(clientSecret); err == nil {
			clientSecret = secret
		}
	}

	if clientID == "" {
		writeOAuth2Error(w, "invalid_client", "Client authentication required")
		return nil, false
	}

	client, err := h.store.GetClient(r.Context(), clientID)
	if err != nil || !client.IsActive {
		writeOAuth2Error(w, "invalid_client", "Unknown client")
		return nil, false
	}

	if !crypto.VerifySecret(clientSecret, client.SecretHash) {
		h.log.WithField("client_id", clientID).Warn("client authentication failed")
		writeOAuth2Error(w, "invalid_client", "Client authentication failed")
		return nil, false
	}
	return client, true
}

func (h *Handler) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, client *models.Client) {
	code := r.FormValue("code")
	redirectURI := r.FormValue("redirect_uri")

	authCode, err := h.issuer.RedeemCode(r.Context(), code, client.ClientID, redirectURI)
	if err != nil {
		writeOAuth2Error(w, "invalid_grant", err.Error())
		return
	}

	user, err := h.store.GetUser(r.Context(), authCode.UserID)
	if err != nil || !user.Active {
		writeOAuth2Error(w, "invalid_grant", "User account is not available")
		return
	}

	resp, err := h.issuer.IssueTokens(r.Context(), client, user, authCode.Scopes, authCode.Nonce)
	if err != nil {
		h.log.WithError(err).Error("failed to issue tokens")
		writeOAuth2Error(w, "server_error", "Failed to issue tokens")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, client *models.Client) {
	resp, err := h.issuer.Refresh(r.Context(), client, r.FormValue("refresh_token"))
	if err != nil {
		writeOAuth2Error(w, "invalid_grant", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRevoke revokes refresh or access tokens (RFC 7009). The response is
// 200 whether or not the token was valid, so callers cannot probe token
// state.
func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuth2Error(w, "invalid_request", "Invalid form data")
		return
	}

	client, ok := h.authenticateClient(w, r)
	if !ok {
		return
	}

	if token := r.FormValue("token"); token != "" {
		h.issuer.Revoke(r.Context(), token)
		h.log.WithField("client_id", client.ClientID).Info("token revoked")
	}

	w.WriteHeader(http.StatusOK)
}

// finalizeScopes filters the requested scopes down to what the client is
// allowed, silently dropping the excess rather than erroring.
func finalizeScopes(client *models.Client, requested []string) []string {
	granted := make([]string, 0, len(requested))
	for _, scope := range requested {
		if client.AllowsScope(scope) {
			granted = append(granted, scope)
		}
	}
	return granted
}
