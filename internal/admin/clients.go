package admin

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/seatworks/seatidp/internal/crypto"
	"github.com/seatworks/seatidp/internal/identity"
	"github.com/seatworks/seatidp/pkg/models"
)

type clientRequest struct {
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	RedirectURIs  []string `json:"redirect_uris"`
	AllowedScopes []string `json:"allowed_scopes"`
	IsActive      *bool    `json:"is_active"`
	SkipConsent   bool     `json:"skip_consent"`
}

// clientWithSecret is the creation/rotation response: the only time the
// plaintext secret leaves the server.
type clientWithSecret struct {
	*models.Client
	ClientSecret string `json:"client_secret"`
}

func (h *Handler) validateClientRequest(w http.ResponseWriter, req *clientRequest) bool {
	if req.Name == "" {
		h.apiError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return false
	}
	if len(req.RedirectURIs) == 0 {
		h.apiError(w, http.StatusBadRequest, "invalid_request", "at least one redirect URI is required")
		return false
	}
	for _, raw := range req.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Fragment != "" {
			h.apiError(w, http.StatusBadRequest, "invalid_request", "redirect URIs must be absolute and fragment-free: "+raw)
			return false
		}
	}
	supported := make(map[string]bool)
	for _, s := range identity.SupportedScopes() {
		supported[s] = true
	}
	for _, s := range req.AllowedScopes {
		if !supported[s] {
			h.apiError(w, http.StatusBadRequest, "invalid_request", "unknown scope: "+s)
			return false
		}
	}
	// Every client can complete an OIDC flow: the base scope is not optional.
	hasOpenID := false
	for _, s := range req.AllowedScopes {
		if s == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		req.AllowedScopes = append([]string{"openid"}, req.AllowedScopes...)
	}
	return true
}

func (h *Handler) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.store.ListClients(r.Context())
	if err != nil {
		h.storageError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, clients)
}

func (h *Handler) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if !h.validateClientRequest(w, &req) {
		return
	}

	secret := crypto.RandomToken(32)
	client := &models.Client{
		ClientID:      uuid.NewString(),
		SecretHash:    crypto.HashSecret(secret),
		Name:          req.Name,
		Description:   req.Description,
		RedirectURIs:  req.RedirectURIs,
		AllowedScopes: req.AllowedScopes,
		IsActive:      true,
		SkipConsent:   req.SkipConsent,
	}
	if req.IsActive != nil {
		client.IsActive = *req.IsActive
	}

	if err := h.store.CreateClient(r.Context(), client); err != nil {
		h.storageError(w, err)
		return
	}

	h.log.WithField("client_id", client.ClientID).Info("registered OAuth2 client")
	h.writeJSON(w, http.StatusCreated, clientWithSecret{Client: client, ClientSecret: secret})
}

func (h *Handler) handleGetClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.store.GetClient(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		h.storageError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, client)
}

func (h *Handler) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	client, err := h.store.GetClient(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		h.storageError(w, err)
		return
	}

	var req clientRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if !h.validateClientRequest(w, &req) {
		return
	}

	client.Name = req.Name
	client.Description = req.Description
	client.RedirectURIs = req.RedirectURIs
	client.AllowedScopes = req.AllowedScopes
	client.SkipConsent = req.SkipConsent
	if req.IsActive != nil {
		client.IsActive = *req.IsActive
	}

	if err := h.store.UpdateClient(r.Context(), client); err != nil {
		h.storageError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, client)
}

func (h *Handler) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")
	if err := h.store.DeleteClient(r.Context(), clientID); err != nil {
		h.storageError(w, err)
		return
	}
	h.log.WithField("client_id", clientID).Info("deleted OAuth2 client")
	w.WriteHeader(http.StatusNoContent)
}

// handleRotateClientSecret replaces the client secret. Outstanding tokens
// survive; only future token-endpoint authentication is affected.
func (h *Handler) handleRotateClientSecret(w http.ResponseWriter, r *http.Request) {
	client, err := h.store.GetClient(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		h.storageError(w, err)
		return
	}

	secret := crypto.RandomToken(32)
	if err := h.store.UpdateClientSecret(r.Context(), client.ClientID, crypto.HashSecret(secret)); err != nil {
		h.storageError(w, err)
		return
	}
	h.log.WithField("client_id", client.ClientID).Info("rotated client secret")
	h.writeJSON(w, http.StatusOK, clientWithSecret{Client: client, ClientSecret: secret})
}
