package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"colleague-auth/internal/apperrors"
	"colleague-auth/internal/service"
)

// AuthHandler serves the public session endpoints.
type AuthHandler struct {
	auth   *service.AuthService
	logger *zap.Logger
}

func NewAuthHandler(auth *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/register", h.Register)
	r.Get("/send_verification", h.SendVerification)
	r.Post("/login", h.Login)
	r.Get("/refresh_token", h.Refresh)
	r.Post("/refresh_token", h.Refresh)
	r.Get("/logout", h.Logout)
	r.Post("/logout", h.Logout)
}

type registerBody struct {
	Mobile           string `json:"mobile"`
	Password         string `json:"password"`
	VerificationCode string `json:"verification_code"`
}

type loginBody struct {
	Mobile   string `json:"mobile"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerBody
	if err := decodeJSON(r, &body); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	res, err := h.auth.Register(r.Context(), service.RegisterRequest{
		Mobile:           body.Mobile,
		Password:         body.Password,
		VerificationCode: body.VerificationCode,
		DeviceID:         deviceID(r),
		ClientIP:         clientIP(r),
	})
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithResult(w, h.logger, res)
}

func (h *AuthHandler) SendVerification(w http.ResponseWriter, r *http.Request) {
	res, err := h.auth.SendVerification(r.Context(), r.URL.Query().Get("mobile"), clientIP(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithResult(w, h.logger, res)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginBody
	if err := decodeJSON(r, &body); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}

	res, err := h.auth.Login(r.Context(), service.LoginRequest{
		Mobile:   body.Mobile,
		Password: body.Password,
		DeviceID: deviceID(r),
		ClientIP: clientIP(r),
	})
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithResult(w, h.logger, res)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		respondWithError(w, r, h.logger, apperrors.ErrMissingToken)
		return
	}

	pair, err := h.auth.Refresh(r.Context(), raw, deviceID(r), clientIP(r))
	if err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithResult(w, h.logger, pair)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	raw, ok := bearerToken(r)
	if !ok {
		respondWithError(w, r, h.logger, apperrors.ErrMissingToken)
		return
	}

	if err := h.auth.Logout(r.Context(), raw, deviceID(r), clientIP(r)); err != nil {
		respondWithError(w, r, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, Response{Status: http.StatusOK})
}
