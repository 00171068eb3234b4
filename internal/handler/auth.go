package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/chatwire/messenger-sync/internal/identity"
	"github.com/chatwire/messenger-sync/internal/middleware"
	"github.com/chatwire/messenger-sync/internal/model"
	"github.com/chatwire/messenger-sync/internal/service"
	"github.com/chatwire/messenger-sync/pkg/logger"
)

// AuthHandler handles registration and login endpoints.
type AuthHandler struct {
	accounts *service.AccountService
	logger   *logger.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(accounts *service.AccountService, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		logger:   log,
	}
}

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateHandle(req.Handle); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateSecret(req.Secret); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	principalID, err := h.accounts.Register(r.Context(), req.Handle, req.Secret, req.Tagline)
	if err != nil {
		if errors.Is(err, identity.ErrHandleTaken) {
			writeError(w, http.StatusConflict, "this handle is already taken")
			return
		}
		h.logger.Error("registration failed", zap.Error(err), zap.String("handle", req.Handle))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	token, err := h.accounts.IssueToken(principalID)
	if err != nil {
		h.logger.Error("token issue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusCreated, model.AuthResponse{
		PrincipalID: principalID,
		Token:       token,
	})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	principalID, token, err := h.accounts.Login(r.Context(), req.Handle, req.Secret)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid handle or secret")
			return
		}
		if errors.Is(err, service.ErrAccountIncomplete) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("login failed", zap.Error(err), zap.String("handle", req.Handle))
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, model.AuthResponse{
		PrincipalID: principalID,
		Token:       token,
	})
}
