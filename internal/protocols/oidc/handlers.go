// Package oidc serves the OpenID Connect provider surface: discovery
// metadata, the JWKS document, and UserInfo.
package oidc

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/seatworks/seatidp/internal/crypto"
	"github.com/seatworks/seatidp/internal/identity"
	"github.com/seatworks/seatidp/internal/storage"
	"github.com/seatworks/seatidp/internal/tokens"
	"github.com/seatworks/seatidp/pkg/models"
)

// Handler serves the OIDC provider endpoints.
type Handler struct {
	store  *storage.Store
	keys   *crypto.KeyManager
	issuer *tokens.Issuer
	claims *identity.Provider
	base   string
	log    *logrus.Entry
}

// NewHandler creates the OIDC handler. base is the issuer URL.
func NewHandler(store *storage.Store, keys *crypto.KeyManager, issuer *tokens.Issuer, claims *identity.Provider, base string, log *logrus.Entry) *Handler {
	return &Handler{
		store:  store,
		keys:   keys,
		issuer: issuer,
		claims: claims,
		base:   base,
		log:    log,
	}
}

// Mount attaches the OIDC routes.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/.well-known/openid-configuration", h.handleDiscovery)
	r.Get("/oidc/jwks", h.handleJWKS)
	r.With(h.issuer.Guard).Get("/oidc/userinfo", h.handleUserInfo)
}

// handleDiscovery returns the provider metadata (OIDC Discovery 1.0). The
// advertised signing algorithm tracks whatever key is currently active.
func (h *Handler) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	key, err := h.keys.ActiveKeypair(r.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to load active signing key")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	discovery := models.DiscoveryDocument{
		Issuer:                           h.base,
		AuthorizationEndpoint:            h.base + "/oauth2/authorize",
		TokenEndpoint:                    h.base + "/oauth2/token",
		UserinfoEndpoint:                 h.base + "/oidc/userinfo",
		JWKSURI:                          h.base + "/oidc/jwks",
		RevocationEndpoint:               h.base + "/oauth2/revoke",
		ScopesSupported:                  identity.SupportedScopes(),
		ResponseTypesSupported:           []string{"code"},
		ResponseModesSupported:           []string{"query"},
		GrantTypesSupported:              []string{"authorization_code", "refresh_token"},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{key.Algorithm},
		TokenEndpointAuthMethods:         []string{"client_secret_basic", "client_secret_post"},
		ClaimsSupported:                  identity.SupportedClaims(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	json.NewEncoder(w).Encode(discovery)
}

// handleJWKS returns the public key set (RFC 7517).
func (h *Handler) handleJWKS(w http.ResponseWriter, r *http.Request) {
	jwks, err := h.keys.PublicJWKS(r.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to build JWKS")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	json.NewEncoder(w).Encode(jwks)
}

// handleUserInfo returns scope-filtered claims for the bearer's user (OIDC
// Core Section 5.3).
func (h *Handler) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	access := tokens.AccessTokenFrom(r.Context())

	user, err := h.store.GetUser(r.Context(), access.UserID)
	if err != nil {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}

	filtered := h.claims.Filter(access.Scopes, h.claims.ClaimsFor(user))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(filtered)
}
