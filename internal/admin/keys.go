package admin

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/seatworks/seatidp/internal/crypto"
)

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.keys.List(r.Context())
	if err != nil {
		h.storageError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, keys)
}

// handleCreateKey generates a new keypair. It is stored inactive; rotation
// is the separate, explicit activate step.
func (h *Handler) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Algorithm string `json:"algorithm"`
	}
	if !h.decodeBody(w, r, &req) {
		return
	}
	if !crypto.SupportedAlgorithm(req.Algorithm) {
		h.apiError(w, http.StatusBadRequest, "invalid_request", "unsupported algorithm: "+req.Algorithm)
		return
	}

	key, err := h.keys.Generate(r.Context(), req.Algorithm)
	if err != nil {
		h.log.WithError(err).Error("key generation failed")
		h.apiError(w, http.StatusInternalServerError, "internal_error", "key generation failed")
		return
	}

	h.log.WithFields(logrus.Fields{
		"key_id":    key.KeyID,
		"algorithm": key.Algorithm,
	}).Info("generated signing keypair")
	h.writeJSON(w, http.StatusCreated, key)
}

func (h *Handler) handleActivateKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")
	if err := h.keys.Activate(r.Context(), keyID); err != nil {
		h.storageError(w, err)
		return
	}

	key, err := h.keys.Get(r.Context(), keyID)
	if err != nil {
		h.storageError(w, err)
		return
	}
	h.log.WithField("key_id", keyID).Info("activated signing keypair")
	h.writeJSON(w, http.StatusOK, key)
}

// handleDeleteKey removes an inactive keypair. The active keypair cannot be
// deleted; activate a replacement first.
func (h *Handler) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")
	if err := h.keys.Delete(r.Context(), keyID); err != nil {
		h.storageError(w, err)
		return
	}
	h.log.WithField("key_id", keyID).Info("deleted signing keypair")
	w.WriteHeader(http.StatusNoContent)
}
