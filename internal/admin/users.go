package admin

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seatworks/seatidp/internal/crypto"
	"github.com/seatworks/seatidp/internal/storage"
	"github.com/seatworks/seatidp/pkg/models"
)

type userRequest struct {
	Name            string   `json:"name"`
	Password        string   `json:"password"`
	Admin           *bool    `json:"admin"`
	Active          *bool    `json:"active"`
	MainCharacterID *int64   `json:"main_character_id"`
	CharacterName   string   `json:"character_name"`
	CorporationID   *int64   `json:"corporation_id"`
	AllianceID      *int64   `json:"alliance_id"`
	Squads          []string `json:"squads"`
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		h.storageError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		h.apiError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	if req.Password == "" {
		h.apiError(w, http.StatusBadRequest, "invalid_request", "password is required")
		return
	}

	now := time.Now().UTC()
	user := &models.User{
		Name:            req.Name,
		PasswordHash:    crypto.HashSecret(req.Password),
		Admin:           req.Admin != nil && *req.Admin,
		Active:          true,
		MainCharacterID: req.MainCharacterID,
		CharacterName:   req.CharacterName,
		CorporationID:   req.CorporationID,
		AllianceID:      req.AllianceID,
		Squads:          req.Squads,
		UpdatedAt:       &now,
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	if user.Squads == nil {
		user.Squads = []string{}
	}

	if err := h.store.CreateUser(r.Context(), user); err != nil {
		h.storageError(w, err)
		return
	}

	h.log.WithField("user_id", user.ID).Info("created directory user")
	h.writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userFromPath(r)
	if err != nil {
		h.storageError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

// handleUpdateUser applies a partial update. Deactivating a user also drops
// their browser sessions, cutting off SSO immediately; their refresh tokens
// die at next use through the issuance-time liveness check.
func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.userFromPath(r)
	if err != nil {
		h.storageError(w, err)
		return
	}

	var req userRequest
	if !h.decodeBody(w, r, &req) {
		return
	}
	if req.Name != "" {
		user.Name = req.Name
	}
	if req.Password != "" {
		user.PasswordHash = crypto.HashSecret(req.Password)
	}
	if req.Admin != nil {
		user.Admin = *req.Admin
	}
	if req.Active != nil {
		user.Active = *req.Active
	}
	if req.MainCharacterID != nil {
		user.MainCharacterID = req.MainCharacterID
	}
	if req.CharacterName != "" {
		user.CharacterName = req.CharacterName
	}
	if req.CorporationID != nil {
		user.CorporationID = req.CorporationID
	}
	if req.AllianceID != nil {
		user.AllianceID = req.AllianceID
	}
	if req.Squads != nil {
		user.Squads = req.Squads
	}
	now := time.Now().UTC()
	user.UpdatedAt = &now

	if err := h.store.UpdateUser(r.Context(), user); err != nil {
		h.storageError(w, err)
		return
	}

	if req.Active != nil && !*req.Active {
		if err := h.store.DeleteSessionsForUser(r.Context(), user.ID); err != nil {
			h.log.WithError(err).Warn("failed to drop sessions for deactivated user")
		}
	}

	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handler) userFromPath(r *http.Request) (*models.User, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return nil, storage.ErrNotFound
	}
	return h.store.GetUser(r.Context(), id)
}
