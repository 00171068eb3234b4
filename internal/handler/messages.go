package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chatwire/messenger-sync/internal/identity"
	"github.com/chatwire/messenger-sync/internal/middleware"
	"github.com/chatwire/messenger-sync/internal/model"
	"github.com/chatwire/messenger-sync/internal/service"
	"github.com/chatwire/messenger-sync/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	conversations *service.ConversationService
	messages      *service.MessageService
	logger        *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(convSvc *service.ConversationService, msgSvc *service.MessageService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		conversations: convSvc,
		messages:      msgSvc,
		logger:        log,
	}
}

// List handles GET /api/v1/conversations/{id}/messages
// Returns the current message history ordered by send time. Only
// participants may read it.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := middleware.GetPrincipalID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !requireParticipant(ctx, h.conversations, w, conversationID, principalID) {
		return
	}

	sub, err := h.messages.Subscribe(ctx, conversationID)
	if err != nil {
		h.logger.Error("message list failed", zap.Error(err),
			zap.String("conversation_id", conversationID))
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	defer sub.Close()

	var msgs []model.Message
	select {
	case v, ok := <-sub.C:
		if !ok {
			if serr := sub.Err(); serr != nil {
				h.logger.Error("message list failed", zap.Error(serr),
					zap.String("conversation_id", conversationID))
				writeError(w, http.StatusInternalServerError, "failed to list messages")
				return
			}
		}
		msgs = v
	case <-ctx.Done():
		return
	}

	if msgs == nil {
		msgs = []model.Message{}
	}
	writeJSON(w, http.StatusOK, model.MessageListResponse{
		Messages: msgs,
	})
}

// Send handles POST /api/v1/conversations/{id}/messages
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := middleware.GetPrincipalID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageBody(req.Body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !requireParticipant(ctx, h.conversations, w, conversationID, principalID) {
		return
	}

	msg, err := h.messages.Send(ctx, principalID, conversationID, req.Body)
	if err != nil {
		if errors.Is(err, identity.ErrNoPrincipal) {
			writeError(w, http.StatusUnauthorized, "not signed in")
			return
		}
		h.logger.Error("message send failed", zap.Error(err),
			zap.String("conversation_id", conversationID),
			zap.String("principal_id", principalID))
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}
