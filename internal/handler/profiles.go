package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/chatwire/messenger-sync/internal/middleware"
	"github.com/chatwire/messenger-sync/internal/model"
	"github.com/chatwire/messenger-sync/internal/service"
	"github.com/chatwire/messenger-sync/pkg/logger"
)

// ProfileHandler handles profile read, update and directory search endpoints.
type ProfileHandler struct {
	profiles *service.ProfileService
	search   *service.SearchService
	logger   *logger.Logger
}

// NewProfileHandler creates a new profile handler.
func NewProfileHandler(profSvc *service.ProfileService, searchSvc *service.SearchService, log *logger.Logger) *ProfileHandler {
	return &ProfileHandler{
		profiles: profSvc,
		search:   searchSvc,
		logger:   log,
	}
}

// Me handles GET /api/v1/profiles/me
func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := middleware.GetPrincipalID(ctx)

	profile, err := h.profiles.Get(ctx, principalID)
	if err != nil {
		h.logger.Error("profile read failed", zap.Error(err),
			zap.String("principal_id", principalID))
		writeError(w, http.StatusInternalServerError, "failed to read profile")
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// Update handles PUT /api/v1/profiles/me
// Only the fields carried by the request change; everything else on the
// profile document is left as is.
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := middleware.GetPrincipalID(ctx)

	var req model.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateDisplayName(req.DisplayName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.profiles.Update(ctx, principalID, req.DisplayName, req.Tagline, req.AvatarRef); err != nil {
		h.logger.Error("profile update failed", zap.Error(err),
			zap.String("principal_id", principalID))
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "updated",
	})
}

// Search handles GET /api/v1/profiles/search?prefix=term
// Looks up the user directory by display name prefix. The caller's own
// profile is excluded from the results.
func (h *ProfileHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := middleware.GetPrincipalID(ctx)

	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		writeError(w, http.StatusBadRequest, "prefix is required")
		return
	}

	results, err := h.search.SearchRemote(ctx, prefix)
	if err != nil {
		h.logger.Error("directory search failed", zap.Error(err),
			zap.String("prefix", prefix))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	filtered := make([]model.Profile, 0, len(results))
	for _, p := range results {
		if p.ID == principalID {
			continue
		}
		filtered = append(filtered, p)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"profiles": filtered,
	})
}
