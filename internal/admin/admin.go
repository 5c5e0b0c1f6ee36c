// Package admin exposes the management API: OAuth2 client registration,
// signing key lifecycle, SAML application registration and the host
// directory's user records. Every route requires the configured admin
// bearer token.
package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/seatworks/seatidp/internal/crypto"
	"github.com/seatworks/seatidp/internal/storage"
)

type Handler struct {
	store     *storage.Store
	keys      *crypto.KeyManager
	tokenHash string
	base      string
	log       *logrus.Entry
}

// NewHandler builds the admin API. adminToken is the shared secret admin
// clients present as a bearer token; only its digest is retained.
func NewHandler(store *storage.Store, keys *crypto.KeyManager, adminToken, baseURL string, log *logrus.Entry) *Handler {
	tokenHash := ""
	if adminToken != "" {
		tokenHash = crypto.HashSecret(adminToken)
	}
	return &Handler{
		store:     store,
		keys:      keys,
		tokenHash: tokenHash,
		base:      baseURL,
		log:       log,
	}
}

func (h *Handler) Mount(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireToken)

		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.handleListClients)
			r.Post("/", h.handleCreateClient)
			r.Get("/{clientID}", h.handleGetClient)
			r.Put("/{clientID}", h.handleUpdateClient)
			r.Delete("/{clientID}", h.handleDeleteClient)
			r.Post("/{clientID}/secret", h.handleRotateClientSecret)
		})

		r.Route("/keys", func(r chi.Router) {
			r.Get("/", h.handleListKeys)
			r.Post("/", h.handleCreateKey)
			r.Post("/{keyID}/activate", h.handleActivateKey)
			r.Delete("/{keyID}", h.handleDeleteKey)
		})

		r.Route("/saml-providers", func(r chi.Router) {
			r.Get("/", h.handleListProviders)
			r.Post("/", h.handleCreateProvider)
			r.Get("/{id}", h.handleGetProvider)
			r.Put("/{id}", h.handleUpdateProvider)
			r.Delete("/{id}", h.handleDeleteProvider)
		})

		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.handleListUsers)
			r.Post("/", h.handleCreateUser)
			r.Get("/{id}", h.handleGetUser)
			r.Put("/{id}", h.handleUpdateUser)
		})
	})
}

// requireToken gates the API on the configured admin token. With no token
// configured the API is disabled outright.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.tokenHash == "" {
			h.apiError(w, http.StatusServiceUnavailable, "admin_disabled", "no admin token is configured")
			return
		}
		auth := r.Header.Get("Authorization")
		if len(auth) <= 7 || !strings.EqualFold(auth[:7], "Bearer ") {
			w.Header().Set("WWW-Authenticate", `Bearer realm="seatidp-admin"`)
			h.apiError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
			return
		}
		if !crypto.VerifySecret(strings.TrimSpace(auth[7:]), h.tokenHash) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="seatidp-admin"`)
			h.apiError(w, http.StatusUnauthorized, "unauthorized", "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Error("failed to encode response")
	}
}

func (h *Handler) apiError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}

// storageError maps storage sentinel errors onto API responses.
func (h *Handler) storageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.apiError(w, http.StatusNotFound, "not_found", "no such resource")
	case errors.Is(err, storage.ErrConflict):
		h.apiError(w, http.StatusConflict, "conflict", "resource already exists")
	case errors.Is(err, storage.ErrInvalidState):
		h.apiError(w, http.StatusConflict, "invalid_state", err.Error())
	default:
		h.log.WithError(err).Error("admin storage operation failed")
		h.apiError(w, http.StatusInternalServerError, "internal_error", "storage operation failed")
	}
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		h.apiError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body: "+err.Error())
		return false
	}
	return true
}
