package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chatwire/messenger-sync/internal/middleware"
	"github.com/chatwire/messenger-sync/internal/model"
	"github.com/chatwire/messenger-sync/internal/service"
	"github.com/chatwire/messenger-sync/pkg/logger"
)

// ConversationHandler handles conversation CRUD endpoints.
type ConversationHandler struct {
	conversations *service.ConversationService
	newJoiner     func() *service.ProfileJoiner
	search        *service.SearchService
	logger        *logger.Logger
}

// NewConversationHandler creates a new conversation handler. Each request
// that joins profiles gets its own joiner from newJoiner, scoped to the
// caller's participant set and torn down with the request.
func NewConversationHandler(
	convSvc *service.ConversationService,
	newJoiner func() *service.ProfileJoiner,
	searchSvc *service.SearchService,
	log *logger.Logger,
) *ConversationHandler {
	return &ConversationHandler{
		conversations: convSvc,
		newJoiner:     newJoiner,
		search:        searchSvc,
		logger:        log,
	}
}

// List handles GET /api/v1/conversations
// Supports ?q=term to filter by the display names of other participants.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := middleware.GetPrincipalID(ctx)

	sub, err := h.conversations.Subscribe(ctx, principalID)
	if err != nil {
		h.logger.Error("conversation list failed", zap.Error(err),
			zap.String("principal_id", principalID))
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	defer sub.Close()

	var convs []model.Conversation
	select {
	case v, ok := <-sub.C:
		if !ok {
			if serr := sub.Err(); serr != nil {
				h.logger.Error("conversation list failed", zap.Error(serr),
					zap.String("principal_id", principalID))
				writeError(w, http.StatusInternalServerError, "failed to list conversations")
				return
			}
		}
		convs = v
	case <-ctx.Done():
		return
	}

	joiner := h.newJoiner()
	defer joiner.Close()
	profiles := joiner.Resolve(ctx, service.ParticipantSet(convs), 0)

	if q := r.URL.Query().Get("q"); q != "" {
		convs = h.search.FilterLocal(convs, profiles, principalID, q)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}

	writeJSON(w, http.StatusOK, model.ConversationListResponse{
		Conversations: convs,
		Profiles:      profiles,
	})
}

// Create handles POST /api/v1/conversations
// Returns the existing 1:1 conversation with the other principal when one is
// already present, creating it otherwise.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := middleware.GetPrincipalID(ctx)

	var req model.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OtherID == "" {
		writeError(w, http.StatusBadRequest, "other_id is required")
		return
	}

	conversationID, err := h.conversations.CreateOrGet(ctx, principalID, req.OtherID)
	if err != nil {
		h.logger.Error("conversation create failed", zap.Error(err),
			zap.String("principal_id", principalID),
			zap.String("other_id", req.OtherID))
		writeError(w, http.StatusInternalServerError, "failed to create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"conversation_id": conversationID,
	})
}

// Get handles GET /api/v1/conversations/{id}
func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := middleware.GetPrincipalID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.conversations.Watch(ctx, conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read conversation")
		return
	}
	defer sub.Close()

	select {
	case conv, ok := <-sub.C:
		if !ok || conv == nil || !conv.HasParticipant(principalID) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		writeJSON(w, http.StatusOK, conv)
	case <-ctx.Done():
	}
}

// AddParticipant handles POST /api/v1/conversations/{id}/participants
// Only an existing participant may bring someone in.
func (h *ConversationHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := middleware.GetPrincipalID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.AddParticipantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if !requireParticipant(ctx, h.conversations, w, conversationID, principalID) {
		return
	}

	if err := h.conversations.AddParticipant(ctx, conversationID, req.UserID); err != nil {
		h.logger.Error("add participant failed", zap.Error(err),
			zap.String("conversation_id", conversationID),
			zap.String("user_id", req.UserID))
		writeError(w, http.StatusInternalServerError, "failed to add participant")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "added",
	})
}
