package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"colleague-auth/internal/apperrors"
	"colleague-auth/internal/models"
	"colleague-auth/internal/service"
	"colleague-auth/internal/session"
)

// UserHandler serves the profile endpoints. Every route runs behind
// RequireSession.
type UserHandler struct {
	users  *service.UserService
	logger *zap.Logger
}

func NewUserHandler(users *service.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/user", h.GetProfile)
	r.Post("/user", h.UpdateProfile)
	r.Get("/users/search", h.Search)
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		respondWithError(w, r, h.logger, apperrors.ErrMissingToken)
		return
	}
	respondWithResult(w, h.logger, h.users.Profile(r.Context(), sess))
}

func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		respondWithError(w, r, h.logger, apperrors.ErrMissingToken)
		return
	}

	var patch models.ProfilePatch
	if err := decodeJSON(r, &patch); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	profile, err := h.users.UpdateProfile(r.Context(), sess, patch)
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithResult(w, h.logger, profile)
}

func (h *UserHandler) Search(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.users.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithResult(w, h.logger, profiles)
}
